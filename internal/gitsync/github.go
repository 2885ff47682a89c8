package gitsync

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/memoryd/internal/config"
)

// Upstream is the slice of the code host the engine needs. The GitHub
// implementation is the only real one; tests substitute a fake.
type Upstream interface {
	Issues(ctx context.Context, since time.Time) ([]*github.Issue, error)
	PullRequests(ctx context.Context, since time.Time) ([]*github.PullRequest, error)
	PullRequestFiles(ctx context.Context, number int) ([]*github.CommitFile, error)
	Commits(ctx context.Context, since time.Time) ([]*github.RepositoryCommit, error)
	WorkflowRuns(ctx context.Context, since time.Time) ([]*github.WorkflowRun, error)
	CodeBlobs(ctx context.Context, maxSize int, exclude []string) ([]CodeBlob, error)
}

// GitHubUpstream implements Upstream against the GitHub REST API. Calls go
// through a client-side rate limiter so a full sync stays inside published
// limits.
type GitHubUpstream struct {
	client  *github.Client
	owner   string
	repo    string
	limiter *rate.Limiter
}

// NewGitHubUpstream builds the authenticated client.
func NewGitHubUpstream(ctx context.Context, token config.Secret, owner, repo string) (*GitHubUpstream, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("github token not set")
	}
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("github owner and repo required")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	tc := oauth2.NewClient(ctx, ts)
	return &GitHubUpstream{
		client: github.NewClient(tc),
		owner:  owner,
		repo:   repo,
		// 5000 req/h authenticated; stay comfortably below.
		limiter: rate.NewLimiter(rate.Limit(1), 5),
	}, nil
}

func (g *GitHubUpstream) wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

// Issues lists issues updated since the given time. Pull requests surface
// in the issues API too and are filtered out here.
func (g *GitHubUpstream) Issues(ctx context.Context, since time.Time) ([]*github.Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	if !since.IsZero() {
		opts.Since = since
	}
	var all []*github.Issue
	for {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		issues, resp, err := g.client.Issues.ListByRepo(ctx, g.owner, g.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing issues: %w", err)
		}
		for _, issue := range issues {
			if !issue.IsPullRequest() {
				all = append(all, issue)
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// PullRequests lists PRs updated since the given time. The PR list API has
// no since parameter, so pages are cut off client-side on UpdatedAt.
func (g *GitHubUpstream) PullRequests(ctx context.Context, since time.Time) ([]*github.PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var all []*github.PullRequest
	for {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		prs, resp, err := g.client.PullRequests.List(ctx, g.owner, g.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing pull requests: %w", err)
		}
		done := false
		for _, pr := range prs {
			if !since.IsZero() && pr.GetUpdatedAt().Time.Before(since) {
				done = true
				break
			}
			all = append(all, pr)
		}
		if done || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// PullRequestFiles lists the changed files of one PR.
func (g *GitHubUpstream) PullRequestFiles(ctx context.Context, number int) ([]*github.CommitFile, error) {
	opts := &github.ListOptions{PerPage: 100}
	var all []*github.CommitFile
	for {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		files, resp, err := g.client.PullRequests.ListFiles(ctx, g.owner, g.repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing PR %d files: %w", number, err)
		}
		all = append(all, files...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// Commits lists commits since the given time.
func (g *GitHubUpstream) Commits(ctx context.Context, since time.Time) ([]*github.RepositoryCommit, error) {
	opts := &github.CommitsListOptions{ListOptions: github.ListOptions{PerPage: 100}}
	if !since.IsZero() {
		opts.Since = since
	}
	var all []*github.RepositoryCommit
	for {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		commits, resp, err := g.client.Repositories.ListCommits(ctx, g.owner, g.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing commits: %w", err)
		}
		all = append(all, commits...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// WorkflowRuns lists CI runs created since the given time.
func (g *GitHubUpstream) WorkflowRuns(ctx context.Context, since time.Time) ([]*github.WorkflowRun, error) {
	opts := &github.ListWorkflowRunsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	if !since.IsZero() {
		opts.Created = ">=" + since.Format("2006-01-02")
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	runs, _, err := g.client.Actions.ListRepositoryWorkflowRuns(ctx, g.owner, g.repo, opts)
	if err != nil {
		return nil, fmt.Errorf("listing workflow runs: %w", err)
	}
	return runs.WorkflowRuns, nil
}

// CodeBlobs walks the default-branch tree and fetches source files up to
// maxSize bytes, skipping excluded globs.
func (g *GitHubUpstream) CodeBlobs(ctx context.Context, maxSize int, exclude []string) ([]CodeBlob, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	tree, _, err := g.client.Git.GetTree(ctx, g.owner, g.repo, "HEAD", true)
	if err != nil {
		return nil, fmt.Errorf("reading repo tree: %w", err)
	}

	var blobs []CodeBlob
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		path := entry.GetPath()
		if entry.GetSize() > maxSize || excluded(path, exclude) {
			continue
		}
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		content, _, _, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, path, nil)
		if err != nil || content == nil {
			continue
		}
		text, err := content.GetContent()
		if err != nil || text == "" {
			continue
		}
		blobs = append(blobs, CodeBlob{Path: path, Content: text})
	}
	return blobs, nil
}

func excluded(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(path)); ok {
			return true
		}
		if strings.HasPrefix(path, strings.TrimSuffix(pattern, "/*")+"/") {
			return true
		}
	}
	return false
}
