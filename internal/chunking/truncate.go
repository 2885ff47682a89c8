package chunking

import (
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/tokens"
)

// Truncation markers.
const (
	EndMarker    = " [...]"
	MiddleMarker = "[... truncated middle ...]"
)

// SmartEnd cuts content at the last sentence boundary that fits the budget.
// The sentence cut must retain at least half the budget; otherwise it falls
// back to the last word boundary, then to a token-exact cut. The result
// always ends with EndMarker and never exceeds maxTokens.
func SmartEnd(content string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if tokens.Count(content) <= maxTokens {
		return content
	}

	markerCost := tokens.Count(EndMarker)
	budget := maxTokens - markerCost
	if budget <= 0 {
		return strings.TrimSpace(EndMarker)
	}

	prefix := tokens.Truncate(content, budget)

	// Last sentence boundary inside the prefix.
	if idx := lastSentenceBoundary(prefix); idx > 0 {
		cut := strings.TrimSpace(prefix[:idx])
		if tokens.Count(cut)*2 >= budget {
			return cut + EndMarker
		}
	}

	// Word-boundary fallback: Truncate already cuts at field boundaries
	// unless a single field overflows the budget.
	if idx := strings.LastIndexAny(prefix, " \t\n"); idx > 0 {
		cut := strings.TrimSpace(prefix[:idx])
		if tokens.Count(cut)*2 >= budget {
			return cut + EndMarker
		}
	}

	return strings.TrimSpace(prefix) + EndMarker
}

func lastSentenceBoundary(s string) int {
	best := -1
	for _, loc := range sentenceEnd.FindAllStringIndex(s, -1) {
		if loc[1] > best {
			best = loc[1]
		}
	}
	return best
}

// FirstLast keeps a head fraction and the remaining budget as tail, joined
// by MiddleMarker. Used for logs and command output where both the start
// and the end matter.
func FirstLast(content string, maxTokens int, headFraction float64) string {
	if maxTokens <= 0 {
		return ""
	}
	if tokens.Count(content) <= maxTokens {
		return content
	}
	if headFraction <= 0 || headFraction >= 1 {
		headFraction = 0.6
	}

	markerCost := tokens.Count(MiddleMarker)
	budget := maxTokens - markerCost
	if budget <= 1 {
		return tokens.Truncate(content, maxTokens)
	}

	headBudget := int(float64(budget) * headFraction)
	if headBudget < 1 {
		headBudget = 1
	}
	tailBudget := budget - headBudget

	head := tokens.Truncate(content, headBudget)
	tail := lastTokens(content, tailBudget)

	return head + "\n" + MiddleMarker + "\n" + tail
}

// StructuredResult is the output of TruncateStructured.
type StructuredResult struct {
	Text   string
	Tokens int
}

// structured headers; their cost is reserved before splitting the budget.
const (
	commandHeader = "Command: "
	errorHeader   = "Error: "
	outputHeader  = "Output:"
)

// TruncateStructured fits a (command, error, output) triple into the budget.
// The error is never truncated: diagnosis depends on it. The command gets
// roughly 20% of what remains after the error and headers; the output uses
// a 60/40 first-last split of the rest.
func TruncateStructured(command, errText, output string, maxTokens int) StructuredResult {
	headerCost := tokens.Count(commandHeader) + tokens.Count(errorHeader) + tokens.Count(outputHeader)
	// Safety margin for joins and marker rounding.
	margin := 8

	remaining := maxTokens - headerCost - margin - tokens.Count(errText)
	if remaining < 0 {
		remaining = 0
	}

	commandBudget := remaining / 5
	if commandBudget < 1 {
		commandBudget = 1
	}
	if tokens.Count(command) > commandBudget {
		command = tokens.Truncate(command, commandBudget) + EndMarker
	}

	outputBudget := remaining - tokens.Count(command)
	if outputBudget < 0 {
		outputBudget = 0
	}
	if tokens.Count(output) > outputBudget {
		output = FirstLast(output, outputBudget, 0.6)
	}

	var b strings.Builder
	b.WriteString(commandHeader)
	b.WriteString(command)
	b.WriteString("\n")
	b.WriteString(errorHeader)
	b.WriteString(errText)
	if output != "" {
		b.WriteString("\n")
		b.WriteString(outputHeader)
		b.WriteString("\n")
		b.WriteString(output)
	}

	text := b.String()
	return StructuredResult{Text: text, Tokens: tokens.Count(text)}
}
