package security

import "regexp"

// Kind distinguishes finding handling: PII is masked, secrets block.
type Kind string

const (
	KindPII    Kind = "pii"
	KindSecret Kind = "secret"
)

// Layer names the pipeline stage that produced a finding.
type Layer string

const (
	LayerPattern   Layer = "pattern"
	LayerEntropy   Layer = "entropy"
	LayerNER       Layer = "ner"
	LayerInjection Layer = "injection"
)

// Rule is one regex detection rule.
type Rule struct {
	ID          string
	Description string
	Kind        Kind
	Pattern     string
	Severity    string

	compiled *regexp.Regexp
}

// DefaultRules returns the built-in pattern set: PII formats that get
// masked and known secret shapes that block the item.
func DefaultRules() []Rule {
	return []Rule{
		// PII: masked with stable placeholders.
		{
			ID:          "email-address",
			Description: "Email address",
			Kind:        KindPII,
			Pattern:     `[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`,
			Severity:    "medium",
		},
		{
			ID:          "phone-number",
			Description: "Phone number",
			Kind:        KindPII,
			Pattern:     `(?:\+?\d{1,3}[ .\-]?)?\(?\d{3}\)?[ .\-]\d{3}[ .\-]\d{4}\b`,
			Severity:    "medium",
		},
		{
			ID:          "credit-card",
			Description: "Credit card number",
			Kind:        KindPII,
			Pattern:     `\b(?:\d[ \-]?){13,16}\b`,
			Severity:    "high",
		},

		// Secrets: block the item.
		{
			ID:          "aws-access-key-id",
			Description: "AWS Access Key ID",
			Kind:        KindSecret,
			Pattern:     `(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|ASIA)[A-Z0-9]{16}`,
			Severity:    "high",
		},
		{
			ID:          "github-token",
			Description: "GitHub token",
			Kind:        KindSecret,
			Pattern:     `(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}`,
			Severity:    "high",
		},
		{
			ID:          "github-fine-grained",
			Description: "GitHub fine-grained personal access token",
			Kind:        KindSecret,
			Pattern:     `github_pat_[A-Za-z0-9_]{22,}`,
			Severity:    "high",
		},
		{
			ID:          "gitlab-token",
			Description: "GitLab personal access token",
			Kind:        KindSecret,
			Pattern:     `glpat-[A-Za-z0-9\-]{20,}`,
			Severity:    "high",
		},
		{
			ID:          "private-key",
			Description: "Private key block",
			Kind:        KindSecret,
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`,
			Severity:    "high",
		},
		{
			ID:          "generic-api-key",
			Description: "Generic API key assignment",
			Kind:        KindSecret,
			Pattern:     `(?i)(?:api[_\-]?key|apikey|secret[_\-]?key)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`,
			Severity:    "high",
		},
		{
			ID:          "bearer-token",
			Description: "Authorization bearer token",
			Kind:        KindSecret,
			Pattern:     `(?i)bearer\s+[A-Za-z0-9\-._~+/]{20,}=*`,
			Severity:    "high",
		},
	}
}

// injectionPatterns flag prompt-injection phrasing in low-trust input.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(?:the\s+)?(?:system|above)\s+prompt`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(?:in\s+)?(?:developer|dan)\s+mode`),
	regexp.MustCompile(`(?i)reveal\s+your\s+(?:system\s+)?prompt`),
}
