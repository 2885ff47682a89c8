// Package tokens provides the deterministic token accounting used for every
// budget decision in chunking, truncation, and injection.
//
// The model is intentionally simple: each whitespace-delimited field costs
// max(1, ceil(len/charsPerToken)) tokens. The counts are not the host
// model's exact tokenization, but they are deterministic, monotonic in
// content length, and cheap, which is what budget enforcement needs.
package tokens

import (
	"strings"
	"unicode"
)

// charsPerToken approximates subword tokenizer density for English and code.
const charsPerToken = 4

// Count returns the token cost of s.
func Count(s string) int {
	total := 0
	inField := false
	fieldLen := 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			if inField {
				total += fieldCost(fieldLen)
				inField = false
				fieldLen = 0
			}
			continue
		}
		inField = true
		fieldLen++
	}
	if inField {
		total += fieldCost(fieldLen)
	}
	return total
}

func fieldCost(runes int) int {
	cost := (runes + charsPerToken - 1) / charsPerToken
	if cost < 1 {
		cost = 1
	}
	return cost
}

// Truncate cuts s so that Count(result) <= budget, preferring field
// boundaries and falling back to a character-exact cut inside an oversized
// field. A non-positive budget yields the empty string.
func Truncate(s string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if Count(s) <= budget {
		return s
	}

	remaining := budget
	cut := 0
	runes := []rune(s)
	i := 0
	for i < len(runes) {
		for i < len(runes) && unicode.IsSpace(runes[i]) {
			i++
		}
		wsEnd := i
		// Consume field.
		for i < len(runes) && !unicode.IsSpace(runes[i]) {
			i++
		}
		fieldRunes := i - wsEnd
		if fieldRunes == 0 {
			cut = i
			continue
		}
		cost := fieldCost(fieldRunes)
		if cost <= remaining {
			remaining -= cost
			cut = i
			continue
		}
		// Partial field: spend what is left at charsPerToken density.
		if remaining > 0 {
			keep := remaining * charsPerToken
			if keep > fieldRunes {
				keep = fieldRunes
			}
			cut = wsEnd + keep
		}
		break
	}
	return strings.TrimRight(string(runes[:cut]), " \t\n")
}
