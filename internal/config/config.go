// Package config provides configuration loading for memoryd.
//
// Configuration is environment-first: every key can be set through an
// environment variable (VECTORDB_HOST, SYNC_INTERVAL, ...). A local .env
// file is loaded as a fallback for keys the environment does not set, and
// an optional YAML file supplies site defaults below both.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Common errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the root configuration. Immutable after Load; subsystems take
// the sections they need by value.
type Config struct {
	VectorDB VectorDBConfig `koanf:"vectordb"`
	Embedder EmbedderConfig `koanf:"embedder"`
	Capture  CaptureConfig  `koanf:"capture"`
	Budgets  BudgetConfig   `koanf:"budgets"`
	Chunker  ChunkerConfig  `koanf:"chunker"`
	Sync     SyncConfig     `koanf:"sync"`
	Queue    QueueConfig    `koanf:"queue"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`

	// StateDir is the root for local state (pending queue, sync state,
	// health beacon, audit logs). Default: ~/.local/state/memoryd
	StateDir string `koanf:"state_dir"`

	// AutoUpdateEnabled is the kill switch toggled by the dedicated skill.
	// Toggles are audit-logged.
	AutoUpdateEnabled bool `koanf:"auto_update_enabled"`

	// SecretsBackend names the external secrets loader. Informational only.
	// One of: env-file, sops-age, keyring.
	SecretsBackend string `koanf:"secrets_backend"`
}

// VectorDBConfig configures the Qdrant connection.
type VectorDBConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	UseHTTPS bool   `koanf:"use_https"`
	APIKey   Secret `koanf:"api_key"`

	// EmbeddingDim is the dense vector width every collection is created
	// with. Must match the dimension the embedding server advertises;
	// a mismatch at startup is fatal.
	EmbeddingDim int `koanf:"embedding_dim"`
}

// EmbedderConfig configures the embedding server client.
type EmbedderConfig struct {
	Host        string   `koanf:"host"`
	Port        int      `koanf:"port"`
	ReadTimeout Duration `koanf:"read_timeout"`
	MaxRetries  int      `koanf:"max_retries"`

	// CPUMode stretches ReadTimeout for hosts without an accelerator.
	CPUMode bool `koanf:"cpu_mode"`
}

// BaseURL returns the embedding server base URL.
func (c EmbedderConfig) BaseURL() string {
	scheme := "http"
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// EffectiveReadTimeout returns the read timeout, stretched in CPU mode.
func (c EmbedderConfig) EffectiveReadTimeout() time.Duration {
	if c.CPUMode {
		return 60 * time.Second
	}
	return c.ReadTimeout.Duration()
}

// CaptureConfig configures the capture pipeline.
type CaptureConfig struct {
	// SimilarityThreshold drives capture-side relevance decisions.
	// Distinct from retrieval gating thresholds in BudgetConfig.
	SimilarityThreshold float64 `koanf:"similarity_threshold"`

	// DedupThreshold is the dense-cosine similarity above which a new item
	// is treated as a semantic duplicate of an existing point.
	DedupThreshold float64 `koanf:"dedup_threshold"`

	// UserMessageDedupThreshold overrides DedupThreshold for user messages.
	UserMessageDedupThreshold float64 `koanf:"user_message_dedup_threshold"`

	// MaxRetrievals caps per-query candidate counts.
	MaxRetrievals int `koanf:"max_retrievals"`

	// HookLogLevel is the per-hook stderr log level (debug, info, warn).
	HookLogLevel string `koanf:"hook_log_level"`
}

// BudgetConfig configures the tiered retrieval budgets and gates.
type BudgetConfig struct {
	BootstrapTokenBudget int `koanf:"bootstrap_token_budget"`
	PerTurnBudgetFloor   int `koanf:"per_turn_budget_floor"`
	PerTurnBudgetCeiling int `koanf:"per_turn_budget_ceiling"`

	// ConfidenceThresholdTier2 skips Tier-2 injection entirely when the top
	// score across all collections falls below it.
	ConfidenceThresholdTier2 float64 `koanf:"confidence_threshold_tier2"`

	// HardFloorThreshold drops any individual result below it.
	HardFloorThreshold float64 `koanf:"hard_floor_threshold"`

	// Per-collection gates.
	ConventionsThreshold  float64 `koanf:"conventions_threshold"`
	CodePatternsThreshold float64 `koanf:"code_patterns_threshold"`
	DiscussionsThreshold  float64 `koanf:"discussions_threshold"`

	// PerEntryMaxTokens truncates individual entries in formatted output.
	PerEntryMaxTokens int `koanf:"per_entry_max_tokens"`
}

// ChunkerConfig configures per-content-type chunking limits.
type ChunkerConfig struct {
	ProseMaxTokens         int     `koanf:"prose_max_tokens"`
	CodeMaxTokens          int     `koanf:"code_max_tokens"`
	GuidelineMaxTokens     int     `koanf:"guideline_max_tokens"`
	UserMessageMaxTokens   int     `koanf:"user_message_max_tokens"`
	AgentResponseMaxTokens int     `koanf:"agent_response_max_tokens"`
	OverlapRatio           float64 `koanf:"overlap_ratio"`
}

// SyncConfig configures the external sync engine.
type SyncConfig struct {
	Enabled                 bool     `koanf:"enabled"`
	Interval                Duration `koanf:"interval"`
	TotalTimeout            Duration `koanf:"total_timeout"`
	PerItemTimeout          Duration `koanf:"per_item_timeout"`
	CircuitBreakerThreshold int      `koanf:"circuit_breaker_threshold"`
	CircuitBreakerReset     Duration `koanf:"circuit_breaker_reset"`

	// GitHub upstream.
	GitHubToken Secret `koanf:"github_token"`
	GitHubOwner string `koanf:"github_owner"`
	GitHubRepo  string `koanf:"github_repo"`

	// Code blob indexing.
	CodeBlobEnabled bool     `koanf:"code_blob_enabled"`
	CodeBlobMaxSize int      `koanf:"code_blob_max_size"`
	CodeBlobExclude []string `koanf:"code_blob_exclude"`
}

// QueueConfig configures the pending queue and retry worker.
type QueueConfig struct {
	// LockTimeout bounds the advisory-lock wait on the queue file.
	LockTimeout Duration `koanf:"lock_timeout"`

	// DrainBatchSize caps records drained per worker pass.
	DrainBatchSize int `koanf:"drain_batch_size"`

	// MaxRetries per record before dead-lettering.
	MaxRetries int `koanf:"max_retries"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// applyDefaults fills unset fields with production defaults.
func applyDefaults(cfg *Config) {
	if cfg.VectorDB.Host == "" {
		cfg.VectorDB.Host = "localhost"
	}
	if cfg.VectorDB.Port == 0 {
		cfg.VectorDB.Port = 6334
	}
	if cfg.VectorDB.EmbeddingDim == 0 {
		cfg.VectorDB.EmbeddingDim = 384
	}
	if cfg.Embedder.Host == "" {
		cfg.Embedder.Host = "localhost"
	}
	if cfg.Embedder.Port == 0 {
		cfg.Embedder.Port = 8080
	}
	if cfg.Embedder.ReadTimeout == 0 {
		cfg.Embedder.ReadTimeout = Duration(15 * time.Second)
	}
	if cfg.Embedder.MaxRetries == 0 {
		cfg.Embedder.MaxRetries = 2
	}
	if cfg.Capture.SimilarityThreshold == 0 {
		cfg.Capture.SimilarityThreshold = 0.6
	}
	if cfg.Capture.DedupThreshold == 0 {
		cfg.Capture.DedupThreshold = 0.92
	}
	if cfg.Capture.UserMessageDedupThreshold == 0 {
		cfg.Capture.UserMessageDedupThreshold = 0.95
	}
	if cfg.Capture.MaxRetrievals == 0 {
		cfg.Capture.MaxRetrievals = 10
	}
	if cfg.Capture.HookLogLevel == "" {
		cfg.Capture.HookLogLevel = "info"
	}
	if cfg.Budgets.BootstrapTokenBudget == 0 {
		cfg.Budgets.BootstrapTokenBudget = 2500
	}
	if cfg.Budgets.PerTurnBudgetFloor == 0 {
		cfg.Budgets.PerTurnBudgetFloor = 500
	}
	if cfg.Budgets.PerTurnBudgetCeiling == 0 {
		cfg.Budgets.PerTurnBudgetCeiling = 1500
	}
	if cfg.Budgets.ConfidenceThresholdTier2 == 0 {
		cfg.Budgets.ConfidenceThresholdTier2 = 0.60
	}
	if cfg.Budgets.HardFloorThreshold == 0 {
		cfg.Budgets.HardFloorThreshold = 0.45
	}
	if cfg.Budgets.ConventionsThreshold == 0 {
		cfg.Budgets.ConventionsThreshold = 0.65
	}
	if cfg.Budgets.CodePatternsThreshold == 0 {
		cfg.Budgets.CodePatternsThreshold = 0.55
	}
	if cfg.Budgets.DiscussionsThreshold == 0 {
		cfg.Budgets.DiscussionsThreshold = 0.60
	}
	if cfg.Budgets.PerEntryMaxTokens == 0 {
		cfg.Budgets.PerEntryMaxTokens = 400
	}
	if cfg.Chunker.ProseMaxTokens == 0 {
		cfg.Chunker.ProseMaxTokens = 800
	}
	if cfg.Chunker.CodeMaxTokens == 0 {
		cfg.Chunker.CodeMaxTokens = 1000
	}
	if cfg.Chunker.GuidelineMaxTokens == 0 {
		cfg.Chunker.GuidelineMaxTokens = 800
	}
	if cfg.Chunker.UserMessageMaxTokens == 0 {
		cfg.Chunker.UserMessageMaxTokens = 2000
	}
	if cfg.Chunker.AgentResponseMaxTokens == 0 {
		cfg.Chunker.AgentResponseMaxTokens = 3000
	}
	if cfg.Chunker.OverlapRatio == 0 {
		cfg.Chunker.OverlapRatio = 0.15
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = Duration(15 * time.Minute)
	}
	if cfg.Sync.TotalTimeout == 0 {
		cfg.Sync.TotalTimeout = Duration(30 * time.Second)
	}
	if cfg.Sync.PerItemTimeout == 0 {
		cfg.Sync.PerItemTimeout = Duration(5 * time.Second)
	}
	if cfg.Sync.CircuitBreakerThreshold == 0 {
		cfg.Sync.CircuitBreakerThreshold = 3
	}
	if cfg.Sync.CircuitBreakerReset == 0 {
		cfg.Sync.CircuitBreakerReset = Duration(30 * time.Second)
	}
	if cfg.Sync.CodeBlobMaxSize == 0 {
		cfg.Sync.CodeBlobMaxSize = 100_000
	}
	if cfg.Queue.LockTimeout == 0 {
		cfg.Queue.LockTimeout = Duration(5 * time.Second)
	}
	if cfg.Queue.DrainBatchSize == 0 {
		cfg.Queue.DrainBatchSize = 10
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 3
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9632
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.StateDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.StateDir = filepath.Join(home, ".local", "state", "memoryd")
		} else {
			cfg.StateDir = ".memoryd-state"
		}
	}
	if cfg.SecretsBackend == "" {
		cfg.SecretsBackend = "env-file"
	}
}

// Validate checks the loaded configuration for fatal problems.
func (c *Config) Validate() error {
	if c.VectorDB.Port <= 0 || c.VectorDB.Port > 65535 {
		return fmt.Errorf("%w: vectordb port out of range: %d", ErrInvalidConfig, c.VectorDB.Port)
	}
	if c.Embedder.Port <= 0 || c.Embedder.Port > 65535 {
		return fmt.Errorf("%w: embedder port out of range: %d", ErrInvalidConfig, c.Embedder.Port)
	}
	if c.VectorDB.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: embedding_dim must be positive", ErrInvalidConfig)
	}
	if c.Budgets.PerTurnBudgetFloor > c.Budgets.PerTurnBudgetCeiling {
		return fmt.Errorf("%w: per_turn budget floor %d exceeds ceiling %d",
			ErrInvalidConfig, c.Budgets.PerTurnBudgetFloor, c.Budgets.PerTurnBudgetCeiling)
	}
	if t := c.Capture.DedupThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("%w: dedup_threshold must be in (0,1]: %v", ErrInvalidConfig, t)
	}
	switch c.SecretsBackend {
	case "env-file", "sops-age", "keyring":
	default:
		return fmt.Errorf("%w: unknown secrets_backend %q", ErrInvalidConfig, c.SecretsBackend)
	}
	return nil
}
