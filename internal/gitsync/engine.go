// Package gitsync reconciles memories from the upstream code host into
// storage: issues, pull requests, commits, CI results, and optional code
// blobs, incrementally and one cycle at a time.
package gitsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/chunking"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/metrics"
	"github.com/fyrsmithlabs/memoryd/internal/security"
	"github.com/fyrsmithlabs/memoryd/internal/storage"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

var tracer = otel.Tracer("memoryd.gitsync")

// SourceHook tags every synced item.
const SourceHook = "github_sync"

// CycleStatus is the end state of one sync cycle.
type CycleStatus string

const (
	CycleOK          CycleStatus = "ok"
	CyclePartial     CycleStatus = "partial"
	CycleBreakerOpen CycleStatus = "circuit_breaker_open"
)

// CycleReport summarizes one cycle.
type CycleReport struct {
	Status     CycleStatus   `json:"status"`
	Synced     int           `json:"synced"`
	Duplicates int           `json:"duplicates"`
	Errors     int           `json:"errors"`
	PerKind    map[Kind]int  `json:"per_kind"`
	Duration   time.Duration `json:"duration"`
}

// Options tune the engine.
type Options struct {
	GroupID          string
	Interval         time.Duration
	TotalTimeout     time.Duration
	PerItemTimeout   time.Duration
	BreakerThreshold int
	CodeBlobEnabled  bool
	CodeBlobMaxSize  int
	CodeBlobExclude  []string

	// Kinds restricts a cycle to the named kinds. Empty means all.
	Kinds []Kind
}

func (o Options) wants(k Kind) bool {
	if len(o.Kinds) == 0 {
		return true
	}
	for _, want := range o.Kinds {
		if want == k {
			return true
		}
	}
	return false
}

func (o *Options) applyDefaults() {
	if o.Interval == 0 {
		o.Interval = 15 * time.Minute
	}
	if o.TotalTimeout == 0 {
		o.TotalTimeout = 30 * time.Second
	}
	if o.PerItemTimeout == 0 {
		o.PerItemTimeout = 5 * time.Second
	}
	if o.BreakerThreshold == 0 {
		o.BreakerThreshold = 3
	}
	if o.CodeBlobMaxSize == 0 {
		o.CodeBlobMaxSize = 100_000
	}
}

// document is one composed upstream object ready to persist.
type document struct {
	kind       Kind
	key        string
	text       string
	typ        memory.Type
	ctype      chunking.ContentType
	sourceFile string
}

// Engine runs the sync state machine. One cycle at a time; phases are
// idle → scanning → composing → persisting → reconciling → invalidating.
type Engine struct {
	upstream Upstream
	storage  *storage.Storage
	store    vectorstore.Store
	states   *StateStore
	scanner  *security.Scanner
	chunker  *chunking.Chunker
	opts     Options
	logger   *zap.Logger

	mu sync.Mutex
}

// New creates an Engine.
func New(upstream Upstream, st *storage.Storage, store vectorstore.Store, states *StateStore,
	scanner *security.Scanner, chunker *chunking.Chunker, opts Options, logger *zap.Logger) *Engine {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		upstream: upstream,
		storage:  st,
		store:    store,
		states:   states,
		scanner:  scanner,
		chunker:  chunker,
		opts:     opts,
		logger:   logger,
	}
}

// Run loops cycles at the configured interval until ctx is canceled. The
// inter-cycle sleep is interruptible at 1 s granularity.
func (e *Engine) Run(ctx context.Context) error {
	for {
		report, err := e.RunCycle(ctx, false)
		if err != nil {
			e.logger.Warn("sync cycle failed", zap.Error(err))
		} else {
			e.logger.Info("sync cycle finished",
				zap.String("status", string(report.Status)),
				zap.Int("synced", report.Synced),
				zap.Int("errors", report.Errors),
				zap.Duration("duration", report.Duration))
		}

		deadline := time.Now().Add(e.opts.Interval)
		for time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

// RunCycle executes one cycle. full ignores incremental state and re-pulls
// everything; dedup keeps re-pulled items idempotent.
func (e *Engine) RunCycle(ctx context.Context, full bool) (*CycleReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := tracer.Start(ctx, "Engine.RunCycle")
	defer span.End()
	span.SetAttributes(attribute.Bool("full", full))

	ctx, cancel := context.WithTimeout(ctx, e.opts.TotalTimeout)
	defer cancel()

	started := time.Now()
	report := &CycleReport{Status: CycleOK, PerKind: make(map[Kind]int)}
	defer func() {
		report.Duration = time.Since(started)
		metrics.SyncCyclesTotal.WithLabelValues(string(report.Status)).Inc()
		if err := e.states.TouchBeacon(); err != nil {
			e.logger.Warn("beacon touch failed", zap.Error(err))
		}
	}()

	state, err := e.states.Load()
	if err != nil {
		return report, fmt.Errorf("loading sync state: %w", err)
	}

	e.logger.Info("sync phase", zap.String("phase", "scanning"))
	docs, mergedFiles, upstreamKeys, err := e.scan(ctx, state, full, report)
	if err != nil {
		return report, err
	}

	e.logger.Info("sync phase", zap.String("phase", "persisting"), zap.Int("items", len(docs)))
	if open := e.persist(ctx, docs, report); open {
		report.Status = CycleBreakerOpen
		return report, nil
	}

	// Reconciliation needs a complete upstream listing; incremental pulls
	// only see modified items, so it runs on full, unfiltered cycles only.
	if full && len(e.opts.Kinds) == 0 {
		e.logger.Info("sync phase", zap.String("phase", "reconciling"))
		e.reconcile(ctx, upstreamKeys)
	}

	e.logger.Info("sync phase", zap.String("phase", "invalidating"))
	e.invalidate(ctx, mergedFiles)

	now := time.Now()
	for kind, count := range report.PerKind {
		state.Record(kind, now, count)
	}
	if err := e.states.Save(state); err != nil {
		e.logger.Warn("saving sync state failed", zap.Error(err))
	}
	if report.Errors > 0 && report.Status == CycleOK {
		report.Status = CyclePartial
	}
	return report, nil
}

// scan fetches and composes every kind in order. It returns the composed
// documents, the files touched by merged PRs, and the upstream key set per
// collection for reconciliation.
func (e *Engine) scan(ctx context.Context, state *State, full bool, report *CycleReport) ([]document, []string, map[string]map[string]bool, error) {
	since := func(k Kind) time.Time {
		if full {
			return time.Time{}
		}
		return state.Since(k)
	}
	var docs []document
	var mergedFiles []string
	upstreamKeys := map[string]map[string]bool{}
	note := func(collection memory.Collection, key string) {
		c := string(collection)
		if upstreamKeys[c] == nil {
			upstreamKeys[c] = map[string]bool{}
		}
		upstreamKeys[c][key] = true
	}

	if e.opts.wants(KindIssues) {
		issues, err := e.upstream.Issues(ctx, since(KindIssues))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("scanning issues: %w", err)
		}
		for _, issue := range issues {
			key := fmt.Sprintf("github:issues:%d", issue.GetNumber())
			note(memory.CollectionDiscussions, key)
			docs = append(docs, document{
				kind: KindIssues, key: key, text: ComposeIssue(issue),
				typ: memory.TypeDecision, ctype: chunking.TypeProse,
			})
		}
	}

	if e.opts.wants(KindPRs) {
		prs, err := e.upstream.PullRequests(ctx, since(KindPRs))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("scanning pull requests: %w", err)
		}
		for _, pr := range prs {
			files, err := e.upstream.PullRequestFiles(ctx, pr.GetNumber())
			if err != nil {
				e.logger.Warn("listing PR files failed",
					zap.Int("pr", pr.GetNumber()), zap.Error(err))
				report.Errors++
			}
			key := fmt.Sprintf("github:prs:%d", pr.GetNumber())
			note(memory.CollectionDiscussions, key)
			docs = append(docs, document{
				kind: KindPRs, key: key, text: ComposePullRequest(pr, files),
				typ: memory.TypeDecision, ctype: chunking.TypeProse,
			})
			if pr.MergedAt != nil {
				for _, f := range files {
					mergedFiles = append(mergedFiles, f.GetFilename())
				}
			}
		}
	}

	if e.opts.wants(KindCommits) {
		commits, err := e.upstream.Commits(ctx, since(KindCommits))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("scanning commits: %w", err)
		}
		for _, commit := range commits {
			key := "github:commits:" + commit.GetSHA()
			note(memory.CollectionDiscussions, key)
			docs = append(docs, document{
				kind: KindCommits, key: key, text: ComposeCommit(commit),
				typ: memory.TypeSession, ctype: chunking.TypeProse,
			})
		}
	}

	if e.opts.wants(KindCI) {
		runs, err := e.upstream.WorkflowRuns(ctx, since(KindCI))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("scanning workflow runs: %w", err)
		}
		for _, run := range runs {
			key := fmt.Sprintf("github:ci:%d", run.GetID())
			note(memory.CollectionDiscussions, key)
			docs = append(docs, document{
				kind: KindCI, key: key, text: ComposeWorkflowRun(run),
				typ: memory.TypeSession, ctype: chunking.TypeProse,
			})
		}
	}

	if e.opts.CodeBlobEnabled && e.opts.wants(KindCodeBlobs) {
		blobs, err := e.upstream.CodeBlobs(ctx, e.opts.CodeBlobMaxSize, e.opts.CodeBlobExclude)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("scanning code blobs: %w", err)
		}
		for _, blob := range blobs {
			key := "github:code_blobs:" + blob.Path
			note(memory.CollectionCodePatterns, key)
			docs = append(docs, document{
				kind: KindCodeBlobs, key: key, text: ComposeCodeBlob(blob),
				typ: memory.TypeFilePattern, ctype: chunking.TypeGitHubCodeBlob,
				sourceFile: blob.Path,
			})
		}
	}
	return docs, mergedFiles, upstreamKeys, nil
}

// persist stores each document under the per-item timeout. Consecutive
// failures open the breaker and abort the remainder of the cycle; a success
// resets the counter. Returns true when the breaker opened.
func (e *Engine) persist(ctx context.Context, docs []document, report *CycleReport) bool {
	consecutive := 0
	for i, doc := range docs {
		if ctx.Err() != nil {
			report.Errors += len(docs) - i
			return false
		}
		if err := e.persistOne(ctx, doc, report); err != nil {
			report.Errors++
			consecutive++
			metrics.SyncItemsTotal.WithLabelValues(string(doc.kind), "error").Inc()
			e.logger.Warn("sync item failed",
				zap.String("kind", string(doc.kind)),
				zap.String("key", doc.key),
				zap.Int("consecutive_failures", consecutive),
				zap.Error(err))
			if consecutive >= e.opts.BreakerThreshold {
				e.logger.Error("sync circuit breaker open",
					zap.Int("threshold", e.opts.BreakerThreshold),
					zap.Int("remaining", len(docs)-i-1))
				return true
			}
			continue
		}
		consecutive = 0
		report.PerKind[doc.kind]++
		if (i+1)%10 == 0 {
			e.logger.Info("sync progress",
				zap.Int("done", i+1), zap.Int("total", len(docs)))
		}
	}
	return false
}

func (e *Engine) persistOne(ctx context.Context, doc document, report *CycleReport) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.PerItemTimeout)
	defer cancel()

	scan := e.scanner.Scan(doc.text, security.TrustMediumHigh)
	if scan.Outcome == security.OutcomeBlocked {
		e.logger.Warn("sync item blocked by security scan",
			zap.String("key", doc.key), zap.Any("findings", scan.Findings))
		metrics.SyncItemsTotal.WithLabelValues(string(doc.kind), "blocked").Inc()
		return nil
	}

	chunks := e.chunker.Split(scan.Text, doc.ctype)
	batchID := ""
	if len(chunks) > 1 {
		batchID = doc.key
	}
	for _, chunk := range chunks {
		item, err := memory.NewItem(e.opts.GroupID, doc.typ, chunk.Content, SourceHook)
		if err != nil {
			// Composed text below minimum length; nothing to store.
			continue
		}
		item.Tags = []string{doc.key}
		item.SourceFile = doc.sourceFile
		item.SourceAuthority = security.TrustMediumHigh
		if batchID != "" {
			item.BatchID = batchID
			item.ChunkIndex = chunk.Index
			item.ChunkTotal = chunk.Total
		}
		result, err := e.storage.Save(ctx, item)
		if err != nil {
			return err
		}
		if result.Status == storage.StatusDuplicate {
			report.Duplicates++
		} else {
			report.Synced++
			metrics.SyncItemsTotal.WithLabelValues(string(doc.kind), "stored").Inc()
		}
	}
	return nil
}

// reconcile marks stored synced items whose upstream object disappeared as
// superseded. Best-effort: errors are logged, never fatal.
func (e *Engine) reconcile(ctx context.Context, upstreamKeys map[string]map[string]bool) {
	for _, collection := range memory.Collections() {
		name := string(collection)
		filter := vectorstore.Match("group_id", e.opts.GroupID).And("source_hook", SourceHook)
		var gone []string
		offset := ""
		for {
			points, next, err := e.store.Scroll(ctx, name, filter, 100, offset)
			if err != nil {
				e.logger.Warn("reconciliation scroll failed",
					zap.String("collection", name), zap.Error(err))
				return
			}
			for _, p := range points {
				tags, _ := p.Payload["tags"].([]string)
				if len(tags) == 0 {
					continue
				}
				if !upstreamKeys[name][tags[0]] {
					gone = append(gone, p.ID)
				}
			}
			if next == "" {
				break
			}
			offset = next
		}
		if len(gone) == 0 {
			continue
		}
		if err := e.storage.SetFreshness(ctx, name, gone, memory.FreshnessSuperseded, "sync_upstream_deleted"); err != nil {
			e.logger.Warn("marking superseded failed",
				zap.String("collection", name), zap.Error(err))
			continue
		}
		e.logger.Info("reconciled deletions",
			zap.String("collection", name), zap.Int("count", len(gone)))
	}
}

// invalidate runs the post-merge freshness feedback: code patterns touching
// files changed by merged PRs go stale. Fail-open by contract.
func (e *Engine) invalidate(ctx context.Context, mergedFiles []string) {
	if len(mergedFiles) == 0 {
		return
	}
	n, err := e.storage.MarkStale(ctx, string(memory.CollectionCodePatterns),
		e.opts.GroupID, mergedFiles, "post_sync_pr_merge")
	if err != nil {
		e.logger.Warn("freshness invalidation failed", zap.Error(err))
		return
	}
	if n > 0 {
		e.logger.Info("post-merge freshness flagged", zap.Int("count", n))
	}
}

// Status reports the persisted sync state for the status CLI.
func (e *Engine) Status() (*State, time.Time, error) {
	state, err := e.states.Load()
	if err != nil {
		return nil, time.Time{}, err
	}
	beacon := time.Time{}
	if info, err := statFile(e.states.BeaconPath()); err == nil {
		beacon = info
	}
	return state, beacon, nil
}
