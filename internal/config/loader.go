package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1 << 20 // 1MB

// Load builds the configuration with environment-first precedence:
//
//  1. Environment variables (VECTORDB_HOST, SYNC_INTERVAL, ...)
//  2. .env file in the working directory (fallback for unset keys)
//  3. Optional YAML file at yamlPath (site defaults)
//  4. Hardcoded defaults
//
// Environment variables map section_field: VECTORDB_HOST -> vectordb.host,
// SYNC_CIRCUIT_BREAKER_THRESHOLD -> sync.circuit_breaker_threshold. Top-level
// keys (STATE_DIR, AUTO_UPDATE_ENABLED, SECRETS_BACKEND) have no section.
func Load(yamlPath string) (*Config, error) {
	k := koanf.New(".")

	if yamlPath != "" {
		if err := loadYAMLFile(k, yamlPath); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(k, ".env"); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider("", ".", envKeyTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// sections is the closed set of config section prefixes. Keys outside it are
// treated as top-level (state_dir, auto_update_enabled, secrets_backend).
var sections = map[string]bool{
	"vectordb": true,
	"embedder": true,
	"capture":  true,
	"budgets":  true,
	"chunker":  true,
	"sync":     true,
	"queue":    true,
	"server":   true,
	"logging":  true,
}

// envKeyTransform maps FOO_BAR_BAZ to foo.bar_baz when FOO is a known
// section, otherwise returns the lowered key unchanged. Unknown variables
// (PATH, HOME, ...) land on koanf keys no struct field binds to, which is
// harmless.
func envKeyTransform(s string) string {
	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 2 && sections[parts[0]] {
		return parts[0] + "." + parts[1]
	}
	return lower
}

func loadYAMLFile(k *koanf.Koanf, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("%w: config file %s exceeds %d bytes", ErrInvalidConfig, path, maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// loadDotEnv parses KEY=VALUE lines and merges keys that the process
// environment does not already set. Lines starting with # are comments.
func loadDotEnv(k *koanf.Koanf, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading .env: %w", err)
	}

	merged := map[string]interface{}{}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" {
			continue
		}
		// Environment wins over .env.
		if _, set := os.LookupEnv(key); set {
			continue
		}
		merged[envKeyTransform(key)] = value
	}
	if len(merged) == 0 {
		return nil
	}
	flat := &mapProvider{m: merged}
	if err := k.Load(flat, nil); err != nil {
		return fmt.Errorf("merging .env: %w", err)
	}
	return nil
}

// mapProvider exposes a flat dot-delimited map to koanf as a nested tree.
type mapProvider struct {
	m map[string]interface{}
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("mapProvider does not support ReadBytes")
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	nested := map[string]interface{}{}
	for key, value := range p.m {
		parts := strings.Split(key, ".")
		node := nested
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]interface{})
			if !ok {
				child = map[string]interface{}{}
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return nested, nil
}
