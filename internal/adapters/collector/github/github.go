// Package github collects developer-activity snapshots from the GitHub
// API for one repository per call.
package github

import (
	"context"
	"fmt"
	"strings"
	"time"

	gh "github.com/google/go-github/v53/github"
	"golang.org/x/oauth2"

	"github.com/okian/merit/internal/domain/model"
	"github.com/okian/merit/pkg/metrics"
	"github.com/okian/merit/pkg/retry"
)

const (
	defaultPerPage      = 100
	defaultMaxPages     = 10
	defaultReviewedPRs  = 50
	collectorSourceName = "github"
)

// Collector produces GitHubMetrics snapshots.
type Collector struct {
	client      *gh.Client
	perPage     int
	maxPages    int
	reviewedPRs int
}

// Option applies a configuration option to the Collector.
type Option func(*Collector)

// WithPerPage sets the page size for list calls.
func WithPerPage(n int) Option {
	return func(c *Collector) {
		if n > 0 && n <= 100 {
			c.perPage = n
		}
	}
}

// WithMaxPages bounds pagination per list call.
func WithMaxPages(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithReviewedPRs bounds how many pull requests are expanded for review
// counts. Review listing is one API call per PR.
func WithReviewedPRs(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.reviewedPRs = n
		}
	}
}

// WithBaseURL points the collector at a different API endpoint. Used by
// tests and GitHub Enterprise deployments.
func WithBaseURL(raw string) Option {
	return func(c *Collector) {
		if raw == "" {
			return
		}
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		if u, err := c.client.BaseURL.Parse(raw); err == nil {
			c.client.BaseURL = u
		}
	}
}

// NewCollector creates a collector. An empty token falls back to
// unauthenticated access with its lower rate limits.
func NewCollector(token string, opts ...Option) *Collector {
	var client *gh.Client
	if token == "" {
		client = gh.NewClient(nil)
	} else {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		client = gh.NewClient(oauth2.NewClient(context.Background(), ts))
	}

	c := &Collector{
		client:      client,
		perPage:     defaultPerPage,
		maxPages:    defaultMaxPages,
		reviewedPRs: defaultReviewedPRs,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect gathers commit, pull-request, review and issue activity for
// project ("owner/repo") inside the [since, until) window.
func (c *Collector) Collect(ctx context.Context, project string, since, until time.Time) (*model.GitHubMetrics, error) {
	start := time.Now()
	defer func() {
		metrics.RecordCollectorLatency(collectorSourceName, float64(time.Since(start).Milliseconds()))
	}()

	owner, repo, err := splitProject(project)
	if err != nil {
		metrics.RecordCollectorError(collectorSourceName)
		return nil, err
	}

	snapshot := &model.GitHubMetrics{
		Project:     project,
		CollectedAt: time.Now().UTC(),
	}

	if err := c.collectCommits(ctx, owner, repo, since, until, snapshot); err != nil {
		metrics.RecordCollectorError(collectorSourceName)
		return nil, fmt.Errorf("collecting commits for %s: %w", project, err)
	}
	if err := c.collectPullRequests(ctx, owner, repo, since, until, snapshot); err != nil {
		metrics.RecordCollectorError(collectorSourceName)
		return nil, fmt.Errorf("collecting pull requests for %s: %w", project, err)
	}
	if err := c.collectIssues(ctx, owner, repo, since, until, snapshot); err != nil {
		metrics.RecordCollectorError(collectorSourceName)
		return nil, fmt.Errorf("collecting issues for %s: %w", project, err)
	}

	return snapshot, nil
}

func (c *Collector) collectCommits(ctx context.Context, owner, repo string, since, until time.Time, snapshot *model.GitHubMetrics) error {
	authors := make(map[string]struct{})
	opts := &gh.CommitsListOptions{
		Since:       since,
		Until:       until,
		ListOptions: gh.ListOptions{PerPage: c.perPage},
	}

	for page := 0; page < c.maxPages; page++ {
		var (
			commits []*gh.RepositoryCommit
			resp    *gh.Response
		)
		err := retry.Do(ctx, func() error {
			var apiErr error
			commits, resp, apiErr = c.client.Repositories.ListCommits(ctx, owner, repo, opts)
			return apiErr
		}, retry.WithMaxRetries(3), retry.WithInitialDelay(time.Second))
		if err != nil {
			return err
		}

		snapshot.Commits.Count += len(commits)
		for _, commit := range commits {
			if login := commit.GetAuthor().GetLogin(); login != "" {
				authors[login] = struct{}{}
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	snapshot.Commits.Authors = sortedKeys(authors)
	return nil
}

func (c *Collector) collectPullRequests(ctx context.Context, owner, repo string, since, until time.Time, snapshot *model.GitHubMetrics) error {
	authors := make(map[string]struct{})
	reviewers := make(map[string]struct{})
	var reviewable []int

	opts := &gh.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: c.perPage},
	}

	for page := 0; page < c.maxPages; page++ {
		var (
			prs  []*gh.PullRequest
			resp *gh.Response
		)
		err := retry.Do(ctx, func() error {
			var apiErr error
			prs, resp, apiErr = c.client.PullRequests.List(ctx, owner, repo, opts)
			return apiErr
		}, retry.WithMaxRetries(3), retry.WithInitialDelay(time.Second))
		if err != nil {
			return err
		}

		done := false
		for _, pr := range prs {
			if pr.GetUpdatedAt().Time.Before(since) {
				// Sorted by update time; everything after is stale.
				done = true
				break
			}
			if !inWindow(pr.GetUpdatedAt().Time, since, until) {
				continue
			}

			switch {
			case pr.MergedAt != nil:
				snapshot.PullRequests.Merged++
				reviewable = append(reviewable, pr.GetNumber())
			case pr.GetState() == "open":
				snapshot.PullRequests.Open++
			default:
				snapshot.PullRequests.Closed++
			}
			if login := pr.GetUser().GetLogin(); login != "" {
				authors[login] = struct{}{}
			}
		}

		if done || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if len(reviewable) > c.reviewedPRs {
		reviewable = reviewable[:c.reviewedPRs]
	}
	for _, number := range reviewable {
		var reviews []*gh.PullRequestReview
		err := retry.Do(ctx, func() error {
			var apiErr error
			reviews, _, apiErr = c.client.PullRequests.ListReviews(ctx, owner, repo, number, &gh.ListOptions{PerPage: c.perPage})
			return apiErr
		}, retry.WithMaxRetries(3), retry.WithInitialDelay(time.Second))
		if err != nil {
			return err
		}
		snapshot.Reviews.Count += len(reviews)
		for _, review := range reviews {
			if login := review.GetUser().GetLogin(); login != "" {
				reviewers[login] = struct{}{}
			}
		}
	}

	snapshot.PullRequests.Authors = sortedKeys(authors)
	snapshot.Reviews.Authors = sortedKeys(reviewers)
	return nil
}

func (c *Collector) collectIssues(ctx context.Context, owner, repo string, since, until time.Time, snapshot *model.GitHubMetrics) error {
	participants := make(map[string]struct{})
	opts := &gh.IssueListByRepoOptions{
		State:       "all",
		Since:       since,
		ListOptions: gh.ListOptions{PerPage: c.perPage},
	}

	for page := 0; page < c.maxPages; page++ {
		var (
			issues []*gh.Issue
			resp   *gh.Response
		)
		err := retry.Do(ctx, func() error {
			var apiErr error
			issues, resp, apiErr = c.client.Issues.ListByRepo(ctx, owner, repo, opts)
			return apiErr
		}, retry.WithMaxRetries(3), retry.WithInitialDelay(time.Second))
		if err != nil {
			return err
		}

		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			if !inWindow(issue.GetUpdatedAt().Time, since, until) {
				continue
			}
			if issue.GetState() == "closed" {
				snapshot.Issues.Closed++
			} else {
				snapshot.Issues.Open++
			}
			if login := issue.GetUser().GetLogin(); login != "" {
				participants[login] = struct{}{}
			}
			for _, assignee := range issue.Assignees {
				if login := assignee.GetLogin(); login != "" {
					participants[login] = struct{}{}
				}
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	snapshot.Issues.Participants = sortedKeys(participants)
	return nil
}

func splitProject(project string) (string, string, error) {
	parts := strings.SplitN(project, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadProject, project)
	}
	return parts[0], parts[1], nil
}

func inWindow(t, since, until time.Time) bool {
	return !t.Before(since) && t.Before(until)
}
