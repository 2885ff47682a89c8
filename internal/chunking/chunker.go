package chunking

import (
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/tokens"
)

// OverlapMarker prefixes chunk content that carries overlap from its
// predecessor.
const OverlapMarker = "..."

// Chunk is one piece of split content. Index and Total position it within
// its batch; chunks from one source share the caller-assigned batch id.
type Chunk struct {
	Content string
	Index   int
	Total   int
}

// Chunker splits content by type-specific policy.
type Chunker struct {
	cfg config.ChunkerConfig
}

// New creates a Chunker.
func New(cfg config.ChunkerConfig) *Chunker {
	return &Chunker{cfg: cfg}
}

// Split routes content to the policy for its type.
//
//   - user_message / agent_response: stored whole under their size cap,
//     topically chunked above it.
//   - guideline: always semantically chunked with overlap.
//   - prose: paragraph, then sentence, then word boundaries.
//   - code and github_code_blob: declaration boundaries, then blocks.
//   - error_context: never chunked here; the structured truncator owns it.
func (c *Chunker) Split(content string, ctype ContentType) []Chunk {
	switch ctype {
	case TypeUserMessage:
		return c.wholeOrTopical(content, c.cfg.UserMessageMaxTokens)
	case TypeAgentResponse:
		return c.wholeOrTopical(content, c.cfg.AgentResponseMaxTokens)
	case TypeGuideline:
		return c.withOverlap(c.splitProse(content, c.cfg.GuidelineMaxTokens), c.cfg.GuidelineMaxTokens)
	case TypeProse:
		return c.withOverlap(c.splitProse(content, c.cfg.ProseMaxTokens), c.cfg.ProseMaxTokens)
	case TypeCode, TypeGitHubCodeBlob:
		return finalize(c.splitCode(content, c.cfg.CodeMaxTokens))
	case TypeErrorContext:
		return finalize([]string{content})
	default:
		return c.withOverlap(c.splitProse(content, c.cfg.ProseMaxTokens), c.cfg.ProseMaxTokens)
	}
}

// wholeOrTopical keeps content as one chunk under the cap and falls back to
// topical chunking above it.
func (c *Chunker) wholeOrTopical(content string, maxTokens int) []Chunk {
	if tokens.Count(content) <= maxTokens {
		return finalize([]string{content})
	}
	return finalize(c.splitTopical(content, maxTokens))
}

// splitTopical splits on topic boundaries (markdown headers, blank-line
// groups) and packs adjacent sections up to the budget.
func (c *Chunker) splitTopical(content string, maxTokens int) []string {
	sections := splitSections(content)
	return packPieces(sections, maxTokens, func(oversized string) []string {
		return c.splitProse(oversized, maxTokens)
	})
}

var sentenceEnd = regexp.MustCompile(`([.!?])(\s+|$)`)

// splitProse splits at paragraph boundaries, breaking oversized paragraphs
// at sentence boundaries and pathologically long sentences at word
// boundaries.
func (c *Chunker) splitProse(content string, maxTokens int) []string {
	paragraphs := splitParagraphs(content)
	return packPieces(paragraphs, maxTokens, func(paragraph string) []string {
		sentences := splitSentences(paragraph)
		return packPieces(sentences, maxTokens, func(sentence string) []string {
			return splitWords(sentence, maxTokens)
		})
	})
}

// splitCode splits at declaration boundaries first, then blank-line blocks,
// then hard line packing for oversized blocks.
func (c *Chunker) splitCode(content string, maxTokens int) []string {
	decls := splitDeclarations(content)
	return packPieces(decls, maxTokens, func(decl string) []string {
		blocks := splitParagraphs(decl)
		return packPieces(blocks, maxTokens, func(block string) []string {
			return splitLines(block, maxTokens)
		})
	})
}

// withOverlap adds an overlap prefix from each previous chunk when the
// combined chunk still fits inside the budget. Overlapped chunks start with
// the OverlapMarker.
func (c *Chunker) withOverlap(pieces []string, maxTokens int) []Chunk {
	ratio := c.cfg.OverlapRatio
	if ratio <= 0 || len(pieces) < 2 {
		return finalize(pieces)
	}

	overlapBudget := int(float64(maxTokens) * ratio)
	out := make([]string, len(pieces))
	out[0] = pieces[0]
	for i := 1; i < len(pieces); i++ {
		tail := lastTokens(pieces[i-1], overlapBudget)
		candidate := OverlapMarker + tail + "\n" + pieces[i]
		// Overlap only when it fits inside the max.
		if tail != "" && tokens.Count(candidate) <= maxTokens {
			out[i] = candidate
		} else {
			out[i] = pieces[i]
		}
	}
	return finalize(out)
}

// packPieces greedily packs pieces into budget-sized chunks, recursing via
// splitOversized on any single piece above the budget.
func packPieces(pieces []string, maxTokens int, splitOversized func(string) []string) []string {
	var out []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if currentTokens > 0 {
			out = append(out, strings.TrimSpace(current.String()))
			current.Reset()
			currentTokens = 0
		}
	}

	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		cost := tokens.Count(piece)
		if cost > maxTokens {
			flush()
			out = append(out, splitOversized(piece)...)
			continue
		}
		if currentTokens+cost > maxTokens {
			flush()
		}
		if currentTokens > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(piece)
		currentTokens += cost
	}
	flush()
	return out
}

func splitParagraphs(content string) []string {
	return regexp.MustCompile(`\n\s*\n`).Split(content, -1)
}

var headerLine = regexp.MustCompile(`(?m)^#{1,6}\s`)

// splitSections splits on markdown headers when present, else paragraphs.
func splitSections(content string) []string {
	locs := headerLine.FindAllStringIndex(content, -1)
	if len(locs) < 2 {
		return splitParagraphs(content)
	}
	var sections []string
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			sections = append(sections, content[prev:loc[0]])
		}
		prev = loc[0]
	}
	sections = append(sections, content[prev:])
	return sections
}

func splitSentences(paragraph string) []string {
	var out []string
	prev := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(paragraph, -1) {
		out = append(out, paragraph[prev:loc[1]])
		prev = loc[1]
	}
	if prev < len(paragraph) {
		out = append(out, paragraph[prev:])
	}
	return out
}

// splitWords hard-packs a single oversized sentence at word boundaries.
func splitWords(sentence string, maxTokens int) []string {
	var out []string
	rest := sentence
	for tokens.Count(rest) > maxTokens {
		head := tokens.Truncate(rest, maxTokens)
		if head == "" {
			break
		}
		out = append(out, head)
		rest = strings.TrimSpace(rest[len(head):])
	}
	if strings.TrimSpace(rest) != "" {
		out = append(out, rest)
	}
	return out
}

// splitLines hard-packs an oversized code block line by line.
func splitLines(block string, maxTokens int) []string {
	var out []string
	var current strings.Builder
	currentTokens := 0
	for _, line := range strings.Split(block, "\n") {
		cost := tokens.Count(line)
		if cost > maxTokens {
			if currentTokens > 0 {
				out = append(out, current.String())
				current.Reset()
				currentTokens = 0
			}
			out = append(out, splitWords(line, maxTokens)...)
			continue
		}
		if currentTokens+cost > maxTokens && currentTokens > 0 {
			out = append(out, current.String())
			current.Reset()
			currentTokens = 0
		}
		if currentTokens > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
		currentTokens += cost
	}
	if currentTokens > 0 {
		out = append(out, current.String())
	}
	return out
}

// splitDeclarations cuts code at top-level declaration starts.
func splitDeclarations(content string) []string {
	locs := declPattern.FindAllStringIndex(content, -1)
	if len(locs) < 2 {
		return []string{content}
	}
	var out []string
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			out = append(out, content[prev:loc[0]])
		}
		prev = loc[0]
	}
	out = append(out, content[prev:])
	return out
}

func lastTokens(s string, budget int) string {
	if budget <= 0 {
		return ""
	}
	fields := strings.Fields(s)
	var tail []string
	total := 0
	for i := len(fields) - 1; i >= 0; i-- {
		cost := tokens.Count(fields[i])
		if total+cost > budget {
			break
		}
		tail = append([]string{fields[i]}, tail...)
		total += cost
	}
	return strings.Join(tail, " ")
}

func finalize(pieces []string) []Chunk {
	var nonEmpty []string
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	chunks := make([]Chunk, len(nonEmpty))
	for i, p := range nonEmpty {
		chunks[i] = Chunk{Content: p, Index: i, Total: len(nonEmpty)}
	}
	return chunks
}
