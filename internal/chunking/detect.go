// Package chunking routes content through type-specific splitters and smart
// truncators so no stored chunk exceeds its token budget.
package chunking

import (
	"path/filepath"
	"regexp"
	"strings"
)

// ContentType selects the chunking or truncation policy.
type ContentType string

const (
	TypeProse          ContentType = "prose"
	TypeCode           ContentType = "code"
	TypeUserMessage    ContentType = "user_message"
	TypeAgentResponse  ContentType = "agent_response"
	TypeErrorContext   ContentType = "error_context"
	TypeGuideline      ContentType = "guideline"
	TypeGitHubCodeBlob ContentType = "github_code_blob"
)

// codeExtensions marks file extensions routed to the code splitter.
var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true,
	".jsx": true, ".rs": true, ".java": true, ".c": true, ".h": true,
	".cpp": true, ".cc": true, ".rb": true, ".php": true, ".cs": true,
	".kt": true, ".swift": true, ".scala": true, ".sh": true, ".sql": true,
}

var (
	declPattern  = regexp.MustCompile(`(?m)^\s*(func|def|class|fn|public|private|protected|impl|interface|type\s+\w+\s+(struct|interface))\b`)
	errorPattern = regexp.MustCompile(`(?m)(Traceback \(most recent call last\)|panic:|Error:|Exception|FAILED|AssertionError|at .+\(.+:\d+\))`)
)

// Detect infers a content type from an optional file path and the content
// shape. Callers with an explicit type should not call Detect; the explicit
// parameter always takes precedence.
func Detect(path, content string) ContentType {
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		if codeExtensions[ext] {
			return TypeCode
		}
		if ext == ".md" || ext == ".rst" || ext == ".txt" {
			return TypeProse
		}
	}

	if errorPattern.MatchString(content) && !declPattern.MatchString(content) {
		return TypeErrorContext
	}
	if looksLikeCode(content) {
		return TypeCode
	}
	return TypeProse
}

// LooksLikeError reports whether content matches the known error shapes
// (tracebacks, panics, failed assertions). Capture uses it to decide if a
// failed shell tool is worth recording.
func LooksLikeError(content string) bool {
	return errorPattern.MatchString(content)
}

// looksLikeCode is a shape heuristic: declaration keywords, brace density,
// or predominately indented lines.
func looksLikeCode(content string) bool {
	if declPattern.MatchString(content) {
		return true
	}

	lines := strings.Split(content, "\n")
	if len(lines) < 3 {
		return false
	}
	indented, braces := 0, 0
	for _, line := range lines {
		if strings.HasPrefix(line, "\t") || strings.HasPrefix(line, "    ") {
			indented++
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasSuffix(trimmed, "{") || trimmed == "}" || strings.HasSuffix(trimmed, ";") {
			braces++
		}
	}
	return indented*2 > len(lines) || braces*3 > len(lines)
}
