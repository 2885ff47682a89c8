package gitsync

import (
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
)

// Composers turn raw upstream objects into deterministic text documents.
// The composed text, not the raw object, is what gets hashed and embedded;
// changing a composer intentionally changes hashes and triggers re-embeds.

// patchPreviewLimit bounds how much of a PR patch is embedded per file.
const patchPreviewLimit = 2000

// ComposeIssue renders an issue.
func ComposeIssue(issue *github.Issue) string {
	var labels []string
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Issue #%d: %s\n", issue.GetNumber(), issue.GetTitle())
	fmt.Fprintf(&sb, "State: %s\n", issue.GetState())
	if len(labels) > 0 {
		fmt.Fprintf(&sb, "Labels: %s\n", strings.Join(labels, ", "))
	}
	if body := strings.TrimSpace(issue.GetBody()); body != "" {
		sb.WriteString("\n")
		sb.WriteString(body)
	}
	return sb.String()
}

// ComposePullRequest renders a PR with its changed files and a bounded
// patch preview per file.
func ComposePullRequest(pr *github.PullRequest, files []*github.CommitFile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "PR #%d: %s\n", pr.GetNumber(), pr.GetTitle())
	fmt.Fprintf(&sb, "State: %s", pr.GetState())
	if pr.GetMerged() || pr.MergedAt != nil {
		sb.WriteString(" (merged)")
	}
	sb.WriteString("\n")
	if body := strings.TrimSpace(pr.GetBody()); body != "" {
		sb.WriteString(body)
		sb.WriteString("\n")
	}
	for _, f := range files {
		fmt.Fprintf(&sb, "\n%s +%d -%d\n", f.GetFilename(), f.GetAdditions(), f.GetDeletions())
		patch := f.GetPatch()
		if len(patch) > patchPreviewLimit {
			patch = patch[:patchPreviewLimit]
		}
		if patch != "" {
			sb.WriteString(patch)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// ComposeCommit renders a commit.
func ComposeCommit(commit *github.RepositoryCommit) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Commit %s\n", commit.GetSHA())
	if author := commit.GetCommit().GetAuthor(); author != nil {
		fmt.Fprintf(&sb, "Author: %s\n", author.GetName())
	}
	if stats := commit.GetStats(); stats != nil {
		fmt.Fprintf(&sb, "Stats: +%d -%d across %d files\n",
			stats.GetAdditions(), stats.GetDeletions(), len(commit.Files))
	}
	var files []string
	for _, f := range commit.Files {
		files = append(files, f.GetFilename())
	}
	if len(files) > 0 {
		fmt.Fprintf(&sb, "Files: %s\n", strings.Join(files, ", "))
	}
	if msg := strings.TrimSpace(commit.GetCommit().GetMessage()); msg != "" {
		sb.WriteString("\n")
		sb.WriteString(msg)
	}
	return sb.String()
}

// ComposeWorkflowRun renders a CI result.
func ComposeWorkflowRun(run *github.WorkflowRun) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CI run #%d: %s\n", run.GetRunNumber(), run.GetName())
	fmt.Fprintf(&sb, "Status: %s / %s\n", run.GetStatus(), run.GetConclusion())
	fmt.Fprintf(&sb, "Branch: %s\n", run.GetHeadBranch())
	fmt.Fprintf(&sb, "Commit: %s\n", run.GetHeadSHA())
	return sb.String()
}

// CodeBlob is one repository file fetched for code-blob sync.
type CodeBlob struct {
	Path    string
	Content string
}

// ComposeCodeBlob renders a repository file.
func ComposeCodeBlob(blob CodeBlob) string {
	return fmt.Sprintf("File: %s\n\n%s", blob.Path, blob.Content)
}
