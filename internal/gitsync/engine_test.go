package gitsync

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/chunking"
	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/security"
	"github.com/fyrsmithlabs/memoryd/internal/storage"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

// seqEmbedder assigns each distinct text its own basis vector, so distinct
// documents are exactly orthogonal and never trip semantic dedup.
type seqEmbedder struct {
	mu   sync.Mutex
	seen map[string]int
}

func newSeqEmbedder() *seqEmbedder {
	return &seqEmbedder{seen: make(map[string]int)}
}

func (s *seqEmbedder) EmbedOne(ctx context.Context, text string, model embeddings.Model) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.seen[text]
	if !ok {
		idx = len(s.seen) % 64
		s.seen[text] = idx
	}
	v := make([]float32, 64)
	v[idx] = 1
	return v, nil
}

type fakeUpstream struct {
	issues  []*github.Issue
	prs     []*github.PullRequest
	prFiles map[int][]*github.CommitFile
	commits []*github.RepositoryCommit
	runs    []*github.WorkflowRun
	blobs   []CodeBlob
}

func (f *fakeUpstream) Issues(ctx context.Context, since time.Time) ([]*github.Issue, error) {
	return f.issues, nil
}
func (f *fakeUpstream) PullRequests(ctx context.Context, since time.Time) ([]*github.PullRequest, error) {
	return f.prs, nil
}
func (f *fakeUpstream) PullRequestFiles(ctx context.Context, number int) ([]*github.CommitFile, error) {
	return f.prFiles[number], nil
}
func (f *fakeUpstream) Commits(ctx context.Context, since time.Time) ([]*github.RepositoryCommit, error) {
	return f.commits, nil
}
func (f *fakeUpstream) WorkflowRuns(ctx context.Context, since time.Time) ([]*github.WorkflowRun, error) {
	return f.runs, nil
}
func (f *fakeUpstream) CodeBlobs(ctx context.Context, maxSize int, exclude []string) ([]CodeBlob, error) {
	return f.blobs, nil
}

func testUpstream() *fakeUpstream {
	merged := time.Now().Add(-time.Hour)
	return &fakeUpstream{
		issues: []*github.Issue{{
			Number: github.Int(7),
			Title:  github.String("flaky watcher test"),
			State:  github.String("open"),
			Body:   github.String("the fsnotify test fails on slow CI runners"),
		}},
		prs: []*github.PullRequest{{
			Number:   github.Int(12),
			Title:    github.String("rework config loader precedence"),
			State:    github.String("closed"),
			Body:     github.String("env beats dotenv beats yaml beats defaults"),
			MergedAt: &github.Timestamp{Time: merged},
		}},
		prFiles: map[int][]*github.CommitFile{12: {{
			Filename:  github.String("internal/config/loader.go"),
			Additions: github.Int(40),
			Deletions: github.Int(12),
			Patch:     github.String("@@ -1,3 +1,5 @@"),
		}}},
		commits: []*github.RepositoryCommit{{
			SHA: github.String("abc123def456"),
			Commit: &github.Commit{
				Message: github.String("config: make env vars win over dotenv"),
				Author:  &github.CommitAuthor{Name: github.String("dev")},
			},
		}},
		runs: []*github.WorkflowRun{{
			ID:         github.Int64(991),
			RunNumber:  github.Int(44),
			Name:       github.String("ci"),
			Status:     github.String("completed"),
			Conclusion: github.String("success"),
			HeadBranch: github.String("main"),
			HeadSHA:    github.String("abc123def456"),
		}},
		blobs: []CodeBlob{{
			Path:    "internal/tenant/tenant.go",
			Content: "package tenant\n\nfunc Normalize(name string) string {\n\treturn name\n}\n",
		}},
	}
}

func newTestEngine(t *testing.T, upstream Upstream, store vectorstore.Store) (*Engine, *storage.Storage) {
	t.Helper()
	st := storage.New(store, newSeqEmbedder(), storage.Options{VectorSize: 64}, zap.NewNop())
	scanner, err := security.NewScanner()
	require.NoError(t, err)
	chunker := chunking.New(config.ChunkerConfig{
		ProseMaxTokens:         800,
		CodeMaxTokens:          1000,
		GuidelineMaxTokens:     800,
		UserMessageMaxTokens:   2000,
		AgentResponseMaxTokens: 3000,
		OverlapRatio:           0.15,
	})
	states, err := NewStateStore(t.TempDir(), "github-test-repo")
	require.NoError(t, err)
	engine := New(upstream, st, store, states, scanner, chunker, Options{
		GroupID:         "my-project",
		CodeBlobEnabled: true,
		TotalTimeout:    time.Minute,
	}, zap.NewNop())
	return engine, st
}

func TestRunCycleSyncsAllKinds(t *testing.T) {
	store := vectorstore.NewFakeStore()
	engine, _ := newTestEngine(t, testUpstream(), store)

	report, err := engine.RunCycle(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, CycleOK, report.Status)
	assert.Equal(t, 5, report.Synced)
	assert.Equal(t, 1, report.PerKind[KindIssues])
	assert.Equal(t, 1, report.PerKind[KindPRs])
	assert.Equal(t, 1, report.PerKind[KindCommits])
	assert.Equal(t, 1, report.PerKind[KindCI])
	assert.Equal(t, 1, report.PerKind[KindCodeBlobs])

	n, err := store.Count(context.Background(), "discussions",
		vectorstore.Match("source_hook", SourceHook))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)

	n, err = store.Count(context.Background(), "code-patterns", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	// State recorded and beacon touched.
	state, beacon, err := engine.Status()
	require.NoError(t, err)
	assert.False(t, state.Since(KindIssues).IsZero())
	assert.Equal(t, 1, state.LastCount[KindIssues])
	assert.False(t, beacon.IsZero())
}

func TestRunCycleIsIdempotent(t *testing.T) {
	store := vectorstore.NewFakeStore()
	engine, _ := newTestEngine(t, testUpstream(), store)
	ctx := context.Background()

	first, err := engine.RunCycle(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 5, first.Synced)

	second, err := engine.RunCycle(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Synced)
	assert.Equal(t, 5, second.Duplicates)
	assert.Equal(t, CycleOK, second.Status)
}

func TestKindFilterRestrictsCycle(t *testing.T) {
	store := vectorstore.NewFakeStore()
	st := storage.New(store, newSeqEmbedder(), storage.Options{VectorSize: 64}, zap.NewNop())
	scanner, err := security.NewScanner()
	require.NoError(t, err)
	chunker := chunking.New(config.ChunkerConfig{ProseMaxTokens: 800, CodeMaxTokens: 1000, OverlapRatio: 0.15})
	states, err := NewStateStore(t.TempDir(), "github-test-repo")
	require.NoError(t, err)
	engine := New(testUpstream(), st, store, states, scanner, chunker, Options{
		GroupID:         "my-project",
		CodeBlobEnabled: true,
		TotalTimeout:    time.Minute,
		Kinds:           []Kind{KindCodeBlobs},
	}, zap.NewNop())

	report, err := engine.RunCycle(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 1, report.PerKind[KindCodeBlobs])
	assert.Zero(t, report.PerKind[KindIssues])

	n, err := store.Count(context.Background(), "discussions", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMergedPRInvalidatesCodePatterns(t *testing.T) {
	store := vectorstore.NewFakeStore()
	engine, st := newTestEngine(t, testUpstream(), store)
	ctx := context.Background()

	// A previously captured pattern for the file the merged PR touched.
	item, err := memory.NewItem("my-project", memory.TypeImplementation,
		"func Load(path string) (*Config, error) { old shape }", "PostToolUse")
	require.NoError(t, err)
	item.SourceFile = "internal/config/loader.go"
	_, err = st.Save(ctx, item)
	require.NoError(t, err)

	_, err = engine.RunCycle(ctx, false)
	require.NoError(t, err)

	point, ok := store.Get("code-patterns", item.ID)
	require.True(t, ok)
	assert.Equal(t, string(memory.FreshnessStale), point.Payload["freshness_status"])
	assert.Equal(t, "post_sync_pr_merge", point.Payload["freshness_trigger"])
}

func TestReconcileMarksDeletedUpstreamSuperseded(t *testing.T) {
	store := vectorstore.NewFakeStore()
	upstream := testUpstream()
	engine, _ := newTestEngine(t, upstream, store)
	ctx := context.Background()

	_, err := engine.RunCycle(ctx, true)
	require.NoError(t, err)

	var issueID string
	points, _, err := store.Scroll(ctx, "discussions",
		vectorstore.Match("type", "decision"), 100, "")
	require.NoError(t, err)
	for _, p := range points {
		if tags, ok := p.Payload["tags"].([]string); ok && len(tags) > 0 && tags[0] == "github:issues:7" {
			issueID = p.ID
		}
	}
	require.NotEmpty(t, issueID)

	upstream.issues = nil
	_, err = engine.RunCycle(ctx, true)
	require.NoError(t, err)

	point, ok := store.Get("discussions", issueID)
	require.True(t, ok)
	assert.Equal(t, string(memory.FreshnessSuperseded), point.Payload["freshness_status"])
	assert.Equal(t, false, point.Payload["is_current"])
}

// failingStore makes every write fail, for breaker tests.
type failingStore struct {
	vectorstore.Store
}

func (f *failingStore) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	return errors.New("backend down")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	store := &failingStore{Store: vectorstore.NewFakeStore()}
	engine, _ := newTestEngine(t, testUpstream(), store)

	report, err := engine.RunCycle(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, CycleBreakerOpen, report.Status)
	assert.Equal(t, 3, report.Errors)
	assert.Equal(t, 0, report.Synced)
}

func TestComposers(t *testing.T) {
	up := testUpstream()

	issue := ComposeIssue(up.issues[0])
	assert.Contains(t, issue, "Issue #7: flaky watcher test")
	assert.Contains(t, issue, "State: open")
	assert.Contains(t, issue, "fsnotify test fails")

	pr := ComposePullRequest(up.prs[0], up.prFiles[12])
	assert.Contains(t, pr, "PR #12: rework config loader precedence")
	assert.Contains(t, pr, "(merged)")
	assert.Contains(t, pr, "internal/config/loader.go +40 -12")

	commit := ComposeCommit(up.commits[0])
	assert.Contains(t, commit, "Commit abc123def456")
	assert.Contains(t, commit, "env vars win over dotenv")

	run := ComposeWorkflowRun(up.runs[0])
	assert.Contains(t, run, "CI run #44: ci")
	assert.Contains(t, run, "completed / success")

	blob := ComposeCodeBlob(up.blobs[0])
	assert.Contains(t, blob, "File: internal/tenant/tenant.go")
	assert.Contains(t, blob, "package tenant")
}

func TestStateStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ss, err := NewStateStore(dir, "github-x-y")
	require.NoError(t, err)

	state, err := ss.Load()
	require.NoError(t, err)
	assert.True(t, state.Since(KindIssues).IsZero())

	when := time.Now().UTC().Truncate(time.Second)
	state.Record(KindIssues, when, 12)
	require.NoError(t, ss.Save(state))

	loaded, err := ss.Load()
	require.NoError(t, err)
	assert.True(t, loaded.Since(KindIssues).Equal(when))
	assert.Equal(t, 12, loaded.LastCount[KindIssues])

	require.NoError(t, ss.TouchBeacon())
	_, err = os.Stat(ss.BeaconPath())
	assert.NoError(t, err)
}
