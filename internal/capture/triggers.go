package capture

import "strings"

// triggerKeywords mark a prompt as carrying a durable decision or rule the
// user wants remembered. Matching is case-insensitive on word prefixes.
var triggerKeywords = []string{
	"remember",
	"important:",
	"convention:",
	"decision:",
	"always ",
	"never ",
	"from now on",
	"going forward",
}

// HasTrigger reports whether a prompt should enqueue a follow-up decision
// capture in addition to the user-message capture.
func HasTrigger(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, kw := range triggerKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
