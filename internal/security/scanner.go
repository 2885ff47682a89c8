// Package security detects and masks or blocks sensitive data in captured
// content, with graduated trust: the scan depth depends on where the
// content came from.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Trust bands. The numeric band selects the scan policy.
const (
	// TrustHigh: agent outputs and internal events. PII check only.
	TrustHigh = 0.9
	// TrustMediumHigh: authenticated API responses (sync). PII plus
	// structural patterns; entropy detection is skipped.
	TrustMediumHigh = 0.7
	// TrustMedium: verified webhooks. Full scan minus entropy.
	TrustMedium = 0.5
	// TrustLow: authenticated user sessions. Full scan plus prompt
	// injection check.
	TrustLow = 0.2
	// Below TrustLow: anonymous or scraped input. Full scan, adversarial
	// checks, quarantine.
)

// Outcome tags a scan result.
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeMasked  Outcome = "masked"
	OutcomeBlocked Outcome = "blocked"
)

// Finding records what was detected. The matched text is never stored.
type Finding struct {
	RuleID   string `json:"rule_id"`
	Kind     Kind   `json:"kind"`
	Layer    Layer  `json:"layer"`
	Severity string `json:"severity"`
}

// Result is the tagged outcome of a scan.
type Result struct {
	Outcome    Outcome   `json:"outcome"`
	Text       string    `json:"-"`
	Findings   []Finding `json:"findings,omitempty"`
	Quarantine bool      `json:"quarantine,omitempty"`
}

// NERFunc is an optional named-entity layer, lazy-loaded by the caller.
// It returns (start, end) spans of entity mentions to mask.
type NERFunc func(content string) [][2]int

// Scanner runs the three-layer pipeline: patterns, entropy, NER.
type Scanner struct {
	rules            []Rule
	entropyThreshold float64
	ner              NERFunc
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithNER installs the optional named-entity layer.
func WithNER(f NERFunc) Option {
	return func(s *Scanner) { s.ner = f }
}

// WithEntropyThreshold overrides the Shannon-entropy cutoff (bits/char).
func WithEntropyThreshold(t float64) Option {
	return func(s *Scanner) { s.entropyThreshold = t }
}

// NewScanner creates a scanner with the default rule set.
func NewScanner(opts ...Option) (*Scanner, error) {
	s := &Scanner{
		rules:            DefaultRules(),
		entropyThreshold: 4.5,
	}
	for i := range s.rules {
		compiled, err := regexp.Compile(s.rules[i].Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling rule %s: %w", s.rules[i].ID, err)
		}
		s.rules[i].compiled = compiled
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Scan runs the policy selected by the trust band and returns a tagged
// result. Secret findings block; PII findings mask with stable
// placeholders; untrusted input that trips any rule is quarantined.
func (s *Scanner) Scan(content string, trust float64) Result {
	var findings []Finding
	var spans []maskSpan

	// Layer 1: regex patterns. PII always; secret shapes below the high
	// band ("structural patterns").
	for _, rule := range s.rules {
		if rule.Kind == KindSecret && trust >= TrustHigh {
			continue
		}
		for _, loc := range rule.compiled.FindAllStringIndex(content, -1) {
			findings = append(findings, Finding{
				RuleID: rule.ID, Kind: rule.Kind, Layer: LayerPattern, Severity: rule.Severity,
			})
			if rule.Kind == KindSecret {
				return blocked(findings, trust)
			}
			spans = append(spans, maskSpan{start: loc[0], end: loc[1], ruleID: rule.ID})
		}
	}

	// Layer 2: entropy-based secret detection. Runs only below the medium
	// band: authenticated payloads and webhooks are full of hashes and ids
	// that would false-positive.
	if trust < TrustMedium {
		if hit := s.entropyFinding(content); hit != nil {
			findings = append(findings, *hit)
			return blocked(findings, trust)
		}
	}

	// Prompt-injection check for low-trust input.
	if trust < TrustMedium {
		for _, pattern := range injectionPatterns {
			if pattern.MatchString(content) {
				findings = append(findings, Finding{
					RuleID: "prompt-injection", Kind: KindSecret, Layer: LayerInjection, Severity: "high",
				})
				return blocked(findings, trust)
			}
		}
	}

	// Layer 3: optional NER.
	if s.ner != nil {
		for _, span := range s.ner(content) {
			if span[0] < 0 || span[1] > len(content) || span[0] >= span[1] {
				continue
			}
			findings = append(findings, Finding{
				RuleID: "named-entity", Kind: KindPII, Layer: LayerNER, Severity: "low",
			})
			spans = append(spans, maskSpan{start: span[0], end: span[1], ruleID: "named-entity"})
		}
	}

	if len(spans) == 0 {
		return Result{Outcome: OutcomePassed, Text: content, Findings: findings}
	}
	return Result{
		Outcome:    OutcomeMasked,
		Text:       applyMasks(content, spans),
		Findings:   findings,
		Quarantine: trust < TrustLow,
	}
}

type maskSpan struct {
	start, end int
	ruleID     string
}

func blocked(findings []Finding, trust float64) Result {
	return Result{Outcome: OutcomeBlocked, Findings: findings, Quarantine: trust < TrustLow}
}

// applyMasks replaces spans with stable placeholders: the same input text
// always produces the same placeholder, so dedup still works on masked
// content. Overlapping spans are merged left to right.
func applyMasks(content string, spans []maskSpan) string {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	prev := 0
	for _, span := range spans {
		if span.start < prev {
			continue
		}
		b.WriteString(content[prev:span.start])
		b.WriteString(placeholder(span.ruleID, content[span.start:span.end]))
		prev = span.end
	}
	b.WriteString(content[prev:])
	return b.String()
}

func placeholder(ruleID, matched string) string {
	sum := sha256.Sum256([]byte(matched))
	return fmt.Sprintf("[%s-%s]", strings.ToUpper(ruleID), hex.EncodeToString(sum[:4]))
}

// entropyFinding scans candidate tokens for high-entropy strings that look
// like undetected secrets.
var entropyCandidate = regexp.MustCompile(`[A-Za-z0-9+/=_\-]{24,}`)

func (s *Scanner) entropyFinding(content string) *Finding {
	for _, candidate := range entropyCandidate.FindAllString(content, -1) {
		if shannonEntropy(candidate) >= s.entropyThreshold {
			return &Finding{
				RuleID: "high-entropy-string", Kind: KindSecret, Layer: LayerEntropy, Severity: "high",
			}
		}
	}
	return nil
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := map[rune]int{}
	for _, r := range s {
		freq[r]++
	}
	n := float64(len([]rune(s)))
	entropy := 0.0
	for _, count := range freq {
		p := float64(count) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}
