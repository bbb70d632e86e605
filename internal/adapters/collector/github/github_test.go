package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testWindow() (time.Time, time.Time) {
	until := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	return until.AddDate(0, -1, 0), until
}

func newTestServer(t *testing.T) *httptest.Server {
	since, _ := testWindow()
	inside := since.Add(48 * time.Hour).Format(time.RFC3339)
	before := since.Add(-48 * time.Hour).Format(time.RFC3339)

	mux := http.NewServeMux()

	mux.HandleFunc("/repos/acme/widgets/commits", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[
			{"sha":"a1","author":{"login":"alice"}},
			{"sha":"b2","author":{"login":"bob"}},
			{"sha":"c3","author":{"login":"alice"}}
		]`)
	})

	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[
			{"number":7,"state":"closed","merged_at":%q,"updated_at":%q,"user":{"login":"alice"}},
			{"number":8,"state":"open","updated_at":%q,"user":{"login":"carol"}},
			{"number":9,"state":"closed","updated_at":%q,"user":{"login":"mallory"}}
		]`, inside, inside, inside, before)
	})

	mux.HandleFunc("/repos/acme/widgets/pulls/7/reviews", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[
			{"id":1,"user":{"login":"bob"}},
			{"id":2,"user":{"login":"carol"}}
		]`)
	})

	mux.HandleFunc("/repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[
			{"number":20,"state":"closed","updated_at":%q,"user":{"login":"dave"}},
			{"number":21,"state":"open","updated_at":%q,"user":{"login":"alice"},"assignees":[{"login":"bob"}]},
			{"number":22,"state":"open","updated_at":%q,"user":{"login":"eve"},"pull_request":{"url":"https://example.com/pr"}}
		]`, inside, inside, inside)
	})

	return httptest.NewServer(mux)
}

func TestCollector_Collect(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	c := NewCollector("", WithBaseURL(server.URL+"/"))
	since, until := testWindow()

	snapshot, err := c.Collect(context.Background(), "acme/widgets", since, until)
	assert.NoError(t, err)

	assert.Equal(t, "acme/widgets", snapshot.Project)
	assert.Equal(t, 3, snapshot.Commits.Count)
	assert.Equal(t, []string{"alice", "bob"}, snapshot.Commits.Authors)

	// PR 9 was last touched before the window and is skipped.
	assert.Equal(t, 1, snapshot.PullRequests.Merged)
	assert.Equal(t, 1, snapshot.PullRequests.Open)
	assert.Equal(t, 0, snapshot.PullRequests.Closed)
	assert.Equal(t, []string{"alice", "carol"}, snapshot.PullRequests.Authors)

	// Only the merged PR is expanded for reviews.
	assert.Equal(t, 2, snapshot.Reviews.Count)
	assert.Equal(t, []string{"bob", "carol"}, snapshot.Reviews.Authors)

	// Issue 22 is a pull request in issue clothing and is skipped.
	assert.Equal(t, 1, snapshot.Issues.Closed)
	assert.Equal(t, 1, snapshot.Issues.Open)
	assert.Equal(t, []string{"alice", "bob", "dave"}, snapshot.Issues.Participants)

	assert.False(t, snapshot.CollectedAt.IsZero())
}

func TestCollector_BadProject(t *testing.T) {
	c := NewCollector("")
	since, until := testWindow()

	for _, project := range []string{"", "acme", "/widgets", "acme/"} {
		_, err := c.Collect(context.Background(), project, since, until)
		assert.ErrorIs(t, err, ErrBadProject, "project %q", project)
	}
}

func TestCollector_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewCollector("", WithBaseURL(server.URL+"/"))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	since, until := testWindow()
	_, err := c.Collect(ctx, "acme/widgets", since, until)
	assert.Error(t, err)
}

func TestSplitProject(t *testing.T) {
	owner, repo, err := splitProject("acme/widgets")
	assert.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", repo)
}
