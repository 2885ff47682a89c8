package search

import (
	"path/filepath"
	"regexp"
	"strings"
)

// QueryContext carries the signals a trigger provides for query composition.
type QueryContext struct {
	ProjectName string
	CWD         string
	Prompt      string
	// Languages holds detected language or framework markers ("go",
	// "typescript", "react").
	Languages []string
	// RecentFiles and RecentTools describe the session's recent activity.
	RecentFiles []string
	RecentTools []string
}

// ComposeQuery builds the single query string embedded once per trigger.
// Order matters only for readability; the embedding is order-insensitive
// enough that we keep the stable layout project → environment → activity →
// prompt.
func ComposeQuery(qc QueryContext) string {
	var parts []string
	if qc.ProjectName != "" {
		parts = append(parts, "project: "+qc.ProjectName)
	}
	if qc.CWD != "" {
		parts = append(parts, "directory: "+filepath.Base(qc.CWD))
	}
	if len(qc.Languages) > 0 {
		parts = append(parts, "stack: "+strings.Join(qc.Languages, " "))
	}
	if len(qc.RecentFiles) > 0 {
		parts = append(parts, "files: "+strings.Join(qc.RecentFiles, " "))
	}
	if len(qc.RecentTools) > 0 {
		parts = append(parts, "recent tools: "+strings.Join(qc.RecentTools, " "))
	}
	if qc.Prompt != "" {
		parts = append(parts, qc.Prompt)
	}
	return strings.Join(parts, "\n")
}

var (
	pathToken       = regexp.MustCompile(`\b[\w.-]+/[\w./-]+\b|\b\w+\.(go|py|ts|js|rs|java|rb|c|h|cpp|sql|yaml|json)\b`)
	identifierToken = regexp.MustCompile(`\b[a-z]+[A-Z]\w*\b|\b\w+_\w+\(|\b\w+\(\)`)
)

// LooksCodeShaped reports whether a query should be embedded with the code
// model when searching code-patterns. The heuristic looks for path-like or
// identifier-like tokens; prose queries against the code collection are
// acceptable, so false negatives are cheap.
func LooksCodeShaped(query string) bool {
	return pathToken.MatchString(query) || identifierToken.MatchString(query)
}
