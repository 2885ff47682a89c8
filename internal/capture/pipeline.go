package capture

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/chunking"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/metrics"
	"github.com/fyrsmithlabs/memoryd/internal/queue"
	"github.com/fyrsmithlabs/memoryd/internal/security"
	"github.com/fyrsmithlabs/memoryd/internal/storage"
	"github.com/fyrsmithlabs/memoryd/internal/tenant"
)

// Enqueuer is the pending-queue slice the pipeline needs.
type Enqueuer interface {
	Enqueue(rec queue.Record) error
}

// Saver is the storage slice the pipeline needs.
type Saver interface {
	Save(ctx context.Context, item *memory.Item) (*storage.SaveResult, error)
}

// errorContextBudget caps a captured (command, error, output) triple.
const errorContextBudget = 1000

// Pipeline turns validated events into stored memories. Every error is
// handled locally: scanned-and-blocked items are dropped with a log, backend
// failures divert to the pending queue. Nothing propagates to the host.
type Pipeline struct {
	storage Saver
	queue   Enqueuer
	scanner *security.Scanner
	chunker *chunking.Chunker
	logger  *zap.Logger
}

// New creates a Pipeline.
func New(st Saver, q Enqueuer, scanner *security.Scanner, chunker *chunking.Chunker, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{storage: st, queue: q, scanner: scanner, chunker: chunker, logger: logger}
}

// candidate is one capture the event produced, before scanning and chunking.
type candidate struct {
	typ        memory.Type
	content    string
	ctype      chunking.ContentType
	trust      float64
	sourceFile string
	tags       []string
	agentID    string
	// preChunked skips the chunker (already truncated content).
	preChunked bool
}

// Process handles one event. The returned error is for logging only; the
// hook exits 0 regardless.
func (p *Pipeline) Process(ctx context.Context, ev *Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	groupID, err := tenant.GroupIDFromPath(ev.CWD)
	if err != nil {
		return fmt.Errorf("deriving group id: %w", err)
	}

	var candidates []candidate
	switch ev.Kind() {
	case EventPostToolUse:
		candidates = p.fromPostToolUse(ev)
	case EventUserPromptSubmit:
		candidates = p.fromPrompt(ev)
	case EventStop:
		candidates = p.fromStop(ev)
	case EventManualSave:
		candidates = p.fromManualSave(ev)
	default:
		// Retrieval events are handled by the injection engine, not here.
		return nil
	}

	sourceHook := string(ev.Kind())
	for _, cand := range candidates {
		p.record(ctx, groupID, ev, sourceHook, cand)
	}
	return nil
}

// fromPostToolUse captures successful edits as code patterns and failed
// shell commands as error context.
func (p *Pipeline) fromPostToolUse(ev *Event) []candidate {
	switch {
	case IsEditTool(ev.ToolName):
		if ev.ToolStatus != "success" {
			return nil
		}
		code := ev.ToolInput.Content
		if code == "" {
			code = ev.ToolInput.NewString
		}
		if code == "" {
			return nil
		}
		content := ev.ToolInput.FilePath + "\n\n" + code
		return []candidate{{
			typ:        memory.TypeImplementation,
			content:    content,
			ctype:      chunking.TypeCode,
			trust:      security.TrustHigh,
			sourceFile: ev.ToolInput.FilePath,
		}}

	case IsShellTool(ev.ToolName):
		if ev.ToolResponse == nil || ev.ToolResponse.ExitCode == 0 {
			return nil
		}
		combined := ev.ToolResponse.Stderr + "\n" + ev.ToolResponse.Stdout
		if !chunking.LooksLikeError(combined) {
			return nil
		}
		result := chunking.TruncateStructured(
			ev.ToolInput.Command, ev.ToolResponse.Stderr, ev.ToolResponse.Stdout,
			errorContextBudget)
		return []candidate{{
			typ:        memory.TypeErrorFix,
			content:    result.Text,
			ctype:      chunking.TypeErrorContext,
			trust:      security.TrustHigh,
			preChunked: true,
		}}
	}
	return nil
}

// fromPrompt captures the user turn and, on trigger keywords, a follow-up
// decision capture of the same text.
func (p *Pipeline) fromPrompt(ev *Event) []candidate {
	prompt := ev.PromptText()
	out := []candidate{{
		typ:     memory.TypeUserMessage,
		content: prompt,
		ctype:   chunking.TypeUserMessage,
		trust:   security.TrustLow,
	}}
	if HasTrigger(prompt) {
		out = append(out, candidate{
			typ:     memory.TypeDecision,
			content: prompt,
			ctype:   chunking.TypeUserMessage,
			trust:   security.TrustLow,
			tags:    []string{"trigger_keyword"},
		})
	}
	return out
}

// fromStop captures the last assistant message of the session transcript.
func (p *Pipeline) fromStop(ev *Event) []candidate {
	text, err := LastAssistantMessage(ev.TranscriptPath)
	if err != nil {
		p.logger.Warn("transcript extraction failed", zap.Error(err))
		return nil
	}
	return []candidate{{
		typ:     memory.TypeAgentResponse,
		content: text,
		ctype:   chunking.TypeAgentResponse,
		trust:   security.TrustHigh,
	}}
}

// fromManualSave captures a user-tagged item. With an agent id set the item
// becomes an agent memory.
func (p *Pipeline) fromManualSave(ev *Event) []candidate {
	typ := memory.TypeDecision
	if ev.Type != "" {
		if _, ok := memory.CollectionOf(memory.Type(ev.Type)); ok {
			typ = memory.Type(ev.Type)
		} else {
			p.logger.Warn("unknown manual-save type, defaulting to decision",
				zap.String("type", ev.Type))
		}
	}
	if ev.AgentID != "" && ev.Type == "" {
		typ = memory.TypeAgentMemory
	}
	ctype := chunking.TypeProse
	if typ == memory.TypeGuideline || typ == memory.TypeRule {
		ctype = chunking.TypeGuideline
	}
	return []candidate{{
		typ:     typ,
		content: ev.Content,
		ctype:   ctype,
		trust:   security.TrustLow,
		tags:    ev.Tags,
		agentID: ev.AgentID,
	}}
}

// record scans, chunks, and stores one candidate. Short content is dropped;
// long content is handled by the chunker. A blocked scan drops the item; a
// backend failure enqueues it.
func (p *Pipeline) record(ctx context.Context, groupID string, ev *Event, sourceHook string, cand candidate) {
	if len(cand.content) < memory.MinContentLength {
		p.logger.Debug("dropping short content", zap.Int("len", len(cand.content)))
		return
	}
	if len(cand.content) > memory.MaxContentLength {
		cand.content = chunking.SmartEnd(cand.content, memory.MaxContentLength/4)
	}

	scan := p.scanner.Scan(cand.content, cand.trust)
	metrics.SecurityOutcomesTotal.WithLabelValues(string(scan.Outcome)).Inc()
	if scan.Outcome == security.OutcomeBlocked {
		p.logger.Warn("capture blocked by security scan",
			zap.String("type", string(cand.typ)),
			zap.Any("findings", scan.Findings))
		metrics.CapturesTotal.WithLabelValues(sourceHook, "blocked").Inc()
		return
	}
	content := scan.Text

	var chunks []chunking.Chunk
	if cand.preChunked {
		chunks = []chunking.Chunk{{Content: content, Index: 0, Total: 1}}
	} else {
		chunks = p.chunker.Split(content, cand.ctype)
	}

	batchID := ""
	if len(chunks) > 1 {
		batchID = uuid.New().String()
	}
	for _, chunk := range chunks {
		item, err := memory.NewItem(groupID, cand.typ, chunk.Content, sourceHook)
		if err != nil {
			p.logger.Warn("invalid capture item", zap.Error(err))
			continue
		}
		item.SessionID = ev.SessionID
		item.SourceFile = cand.sourceFile
		item.Tags = cand.tags
		item.AgentID = cand.agentID
		item.SourceAuthority = cand.trust
		if batchID != "" {
			item.BatchID = batchID
			item.ChunkIndex = chunk.Index
			item.ChunkTotal = chunk.Total
		}

		result, err := p.storage.Save(ctx, item)
		if err != nil {
			p.logger.Warn("storage unavailable, queueing capture",
				zap.String("item_id", item.ID), zap.Error(err))
			if qerr := p.queue.Enqueue(queue.Record{Item: *item, Trust: cand.trust}); qerr != nil {
				p.logger.Error("enqueue failed, capture lost", zap.Error(qerr))
				metrics.CapturesTotal.WithLabelValues(sourceHook, "failed").Inc()
				continue
			}
			metrics.CapturesTotal.WithLabelValues(sourceHook, "queued").Inc()
			continue
		}
		metrics.CapturesTotal.WithLabelValues(sourceHook, string(result.Status)).Inc()
	}
}
