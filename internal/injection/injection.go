// Package injection turns gated search results into the formatted context
// block handed to the host, within a token budget.
package injection

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/chunking"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/metrics"
	"github.com/fyrsmithlabs/memoryd/internal/search"
	"github.com/fyrsmithlabs/memoryd/internal/tokens"
)

// Budget tunes the tiered token budgets and the Tier-2 gate.
type Budget struct {
	// BootstrapTokens is the Tier-1 session-start budget.
	BootstrapTokens int
	// Floor and Ceiling bound the adaptive Tier-2 budget.
	Floor   int
	Ceiling int
	// Tier2Gate skips injection entirely when the top score is below it.
	Tier2Gate float64
	// PerEntryMaxTokens caps any single entry; longer content is smart-end
	// truncated.
	PerEntryMaxTokens int
}

// DefaultBudget is the shipped configuration.
func DefaultBudget() Budget {
	return Budget{
		BootstrapTokens:   2500,
		Floor:             500,
		Ceiling:           1500,
		Tier2Gate:         0.60,
		PerEntryMaxTokens: 400,
	}
}

// Builder formats context blocks.
type Builder struct {
	budget Budget
	logger *zap.Logger
}

// New creates a Builder.
func New(budget Budget, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{budget: budget, logger: logger}
}

// AdaptiveBudget computes the Tier-2 budget from the relevance signal:
// floor + (ceiling-floor) x (0.6 * top score + 0.4 * fraction of candidates
// clearing their collection threshold). Weak signal collapses to the floor,
// strong signal reaches the ceiling.
func (b *Builder) AdaptiveBudget(results []search.Result) int {
	if len(results) == 0 {
		return b.budget.Floor
	}
	top := search.TopScore(results)
	if top > 1 {
		top = 1
	}
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	fraction := float64(passed) / float64(len(results))
	signal := 0.6*top + 0.4*fraction
	return b.budget.Floor + int(float64(b.budget.Ceiling-b.budget.Floor)*signal)
}

// BuildTurnContext produces the Tier-2 per-turn block. An empty string with
// skipped=true means the confidence gate suppressed injection.
func (b *Builder) BuildTurnContext(results []search.Result) (text string, skipped bool) {
	top := search.TopScore(results)
	if top < b.budget.Tier2Gate {
		metrics.RetrievalGateSkipsTotal.Inc()
		b.logger.Info("gated_by_confidence",
			zap.Float64("top_score", top),
			zap.Float64("gate", b.budget.Tier2Gate),
			zap.Int("candidates", len(results)))
		return "", true
	}

	budget := b.AdaptiveBudget(results)
	selected := b.selectWithin(results, budget)
	if len(selected) == 0 {
		return "", true
	}
	block := b.format(selected)
	b.logger.Info("session_retrieval_completed",
		zap.Int("results_count", len(selected)),
		zap.Int("budget_tokens", budget),
		zap.Int("used_tokens", tokens.Count(block)),
		zap.Float64("top_score", top))
	return block, false
}

// entry is a selected result with its render-ready content.
type entry struct {
	result  search.Result
	content string
	cost    int
}

// selectWithin greedily fills the budget by score. Ties break to the newer
// timestamp, then higher source authority, then stable id order. Candidates
// that fail their collection threshold are not injectable.
func (b *Builder) selectWithin(results []search.Result, budget int) []entry {
	candidates := make([]search.Result, 0, len(results))
	for _, r := range results {
		if r.Passed {
			candidates = append(candidates, r)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, c := candidates[i], candidates[j]
		if a.Score != c.Score {
			return a.Score > c.Score
		}
		if !a.Item.Timestamp.Equal(c.Item.Timestamp) {
			return a.Item.Timestamp.After(c.Item.Timestamp)
		}
		if a.Item.SourceAuthority != c.Item.SourceAuthority {
			return a.Item.SourceAuthority > c.Item.SourceAuthority
		}
		return a.Item.ID < c.Item.ID
	})

	var selected []entry
	used := 0
	for _, r := range candidates {
		content := r.Item.Content
		if tokens.Count(content) > b.budget.PerEntryMaxTokens {
			content = chunking.SmartEnd(content, b.budget.PerEntryMaxTokens)
		}
		cost := entryCost(r, content)
		if used+cost > budget {
			continue
		}
		selected = append(selected, entry{result: r, content: content, cost: cost})
		used += cost
	}
	return selected
}

func entryCost(r search.Result, content string) int {
	return tokens.Count(renderEntry(r, content))
}

func renderEntry(r search.Result, content string) string {
	return fmt.Sprintf("- [%s | %d%% | %s]\n%s\n",
		r.Collection, int(r.Score*100), r.Item.SourceHook, content)
}

// Relevance tiers for the block headers.
const (
	tierHighMin   = 0.85
	tierMediumMin = 0.50
	tierLowMin    = 0.20
)

func tierName(score float64) string {
	switch {
	case score >= tierHighMin:
		return "High Relevance"
	case score >= tierMediumMin:
		return "Medium Relevance"
	default:
		return "Low Relevance"
	}
}

// format renders selected entries under tiered headers. Entries arrive
// sorted by score, so tiers emit in order.
func (b *Builder) format(selected []entry) string {
	var sb strings.Builder
	sb.WriteString("# Relevant memories\n\n")
	currentTier := ""
	for _, e := range selected {
		if e.result.Score < tierLowMin {
			continue
		}
		tier := tierName(e.result.Score)
		if tier != currentTier {
			sb.WriteString("## " + tier + "\n")
			currentTier = tier
		}
		sb.WriteString(renderEntry(e.result, e.content))
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// BuildBootstrap produces the Tier-1 session-start block: the latest
// handoff, recent sessions, and open blockers, newest first, within the
// bootstrap budget. items arrive newest-first from the recency scan.
//
// The completion record is emitted even for an empty project, so the
// session-start path always leaves a trace on stderr.
func (b *Builder) BuildBootstrap(items []*memory.Item) string {
	b.logger.Info("session_retrieval_completed",
		zap.Int("results_count", len(items)),
		zap.Int("budget_tokens", b.budget.BootstrapTokens))
	if len(items) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("# Session context\n\n")
	used := tokens.Count(sb.String())
	written := 0
	for _, item := range items {
		content := item.Content
		if tokens.Count(content) > b.budget.PerEntryMaxTokens {
			content = chunking.SmartEnd(content, b.budget.PerEntryMaxTokens)
		}
		line := fmt.Sprintf("- [%s | %s]\n%s\n", item.Type,
			item.Timestamp.Format("2006-01-02"), content)
		cost := tokens.Count(line)
		if used+cost > b.budget.BootstrapTokens {
			continue
		}
		sb.WriteString(line)
		used += cost
		written++
	}
	if written == 0 {
		return ""
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}
