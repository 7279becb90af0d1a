package github

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-github/v73/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volleyhq/rally/internal/core"
)

type createdReview struct {
	event    string
	body     string
	comments []DraftReviewComment
}

// fakeClient is an in-package stub for the GitHub API surface. The mockgen
// mock in mocks/ cannot be used here, importing it from this package's
// tests would be an import cycle.
type fakeClient struct {
	pr             *github.PullRequest
	diff           string
	files          []ChangedFile
	issueComments  []*github.IssueComment
	reviewComments []*github.PullRequestComment
	filesErr       error

	createdReviews  []createdReview
	createdComments []string
	checkRuns       []github.CreateCheckRunOptions
	checkUpdates    []github.UpdateCheckRunOptions
}

func (f *fakeClient) GetPullRequest(_ context.Context, _, _ string, _ int) (*github.PullRequest, error) {
	return f.pr, nil
}

func (f *fakeClient) GetPullRequestDiff(_ context.Context, _, _ string, _ int) (string, error) {
	return f.diff, nil
}

func (f *fakeClient) GetChangedFiles(_ context.Context, _, _ string, _ int) ([]ChangedFile, error) {
	return f.files, f.filesErr
}

func (f *fakeClient) ListIssueComments(_ context.Context, _, _ string, _ int) ([]*github.IssueComment, error) {
	return f.issueComments, nil
}

func (f *fakeClient) ListReviewComments(_ context.Context, _, _ string, _ int) ([]*github.PullRequestComment, error) {
	return f.reviewComments, nil
}

func (f *fakeClient) CreateComment(_ context.Context, _, _ string, _ int, body string) error {
	f.createdComments = append(f.createdComments, body)
	return nil
}

func (f *fakeClient) CreateReview(_ context.Context, _, _ string, _ int, event, body string, comments []DraftReviewComment) error {
	f.createdReviews = append(f.createdReviews, createdReview{event: event, body: body, comments: comments})
	return nil
}

func (f *fakeClient) CreateCheckRun(_ context.Context, _, _ string, opts github.CreateCheckRunOptions) (*github.CheckRun, error) {
	f.checkRuns = append(f.checkRuns, opts)
	return &github.CheckRun{ID: github.Ptr(int64(42))}, nil
}

func (f *fakeClient) UpdateCheckRun(_ context.Context, _, _ string, _ int64, opts github.UpdateCheckRunOptions) (*github.CheckRun, error) {
	f.checkUpdates = append(f.checkUpdates, opts)
	return nil, nil
}

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func posterContext() *core.ReviewContext {
	return &core.ReviewContext{
		RepoOwner:    "volleyhq",
		RepoName:     "rally",
		RepoFullName: "volleyhq/rally",
		PRNumber:     7,
		HeadSHA:      "abc1234",
	}
}

func TestPostResultApproved(t *testing.T) {
	fake := &fakeClient{
		files: []ChangedFile{{
			Filename: "fetcher.go",
			Patch:    "@@ -1,2 +1,3 @@\n context\n+added\n context",
		}},
	}
	poster := NewResultPoster(fake, noopLogger())

	result := &core.RallyResult{
		Outcome: core.OutcomeApproved,
		Rounds:  2,
		Review: &core.ReviewerOutput{
			Action:  core.ActionApprove,
			Summary: "Solid after the second pass.",
			Comments: []core.ReviewComment{
				{Path: "fetcher.go", Line: 2, Body: "Nice touch with the cap", Severity: core.SeveritySuggestion},
			},
		},
	}

	require.NoError(t, poster.PostResult(context.Background(), posterContext(), result))
	require.Len(t, fake.createdReviews, 1)

	review := fake.createdReviews[0]
	assert.Equal(t, "APPROVE", review.event)
	assert.Contains(t, review.body, "Rally approved after 2 rounds")
	assert.Contains(t, review.body, "Solid after the second pass.")
	require.Len(t, review.comments, 1)
	assert.Equal(t, "fetcher.go", review.comments[0].Path)
	assert.Equal(t, 2, review.comments[0].Line)
	assert.Contains(t, review.comments[0].Body, "suggestion")
}

func TestPostResultExhaustedFoldsOffDiffComments(t *testing.T) {
	fake := &fakeClient{
		files: []ChangedFile{{
			Filename: "fetcher.go",
			Patch:    "@@ -1,2 +1,3 @@\n context\n+added\n context",
		}},
	}
	poster := NewResultPoster(fake, noopLogger())

	result := &core.RallyResult{
		Outcome: core.OutcomeExhausted,
		Rounds:  3,
		Review: &core.ReviewerOutput{
			Action:  core.ActionRequestChanges,
			Summary: "The retry loop still spins on permanent errors.",
			Comments: []core.ReviewComment{
				{Path: "fetcher.go", Line: 2, Body: "This line is in the diff", Severity: core.SeverityMajor},
				{Path: "fetcher.go", Line: 99, Body: "This line is not", Severity: core.SeverityCritical},
				{Path: "", Line: 0, Body: "General remark", Severity: core.SeverityMinor},
			},
			BlockingIssues: []string{"permanent errors retried forever"},
		},
	}

	require.NoError(t, poster.PostResult(context.Background(), posterContext(), result))
	require.Len(t, fake.createdReviews, 1)

	review := fake.createdReviews[0]
	assert.Equal(t, "REQUEST_CHANGES", review.event)
	assert.Contains(t, review.body, "Changes still requested after 3 rounds")
	assert.Contains(t, review.body, "permanent errors retried forever")

	// Only the in-diff comment posts inline; the rest fold into the body,
	// highest severity first.
	require.Len(t, review.comments, 1)
	assert.Equal(t, 2, review.comments[0].Line)
	assert.Contains(t, review.body, "Findings outside the diff")
	assert.Contains(t, review.body, "fetcher.go:99")
	assert.Contains(t, review.body, "General remark")
	assert.Less(t,
		indexOf(t, review.body, "This line is not"),
		indexOf(t, review.body, "General remark"),
		"critical findings come before minor ones")
}

func TestPostResultFoldsEverythingWhenValidationUnavailable(t *testing.T) {
	fake := &fakeClient{filesErr: context.DeadlineExceeded}
	poster := NewResultPoster(fake, noopLogger())

	result := &core.RallyResult{
		Outcome: core.OutcomeApproved,
		Rounds:  1,
		Review: &core.ReviewerOutput{
			Action:   core.ActionApprove,
			Summary:  "Fine.",
			Comments: []core.ReviewComment{{Path: "a.go", Line: 1, Body: "note", Severity: core.SeverityMinor}},
		},
	}

	require.NoError(t, poster.PostResult(context.Background(), posterContext(), result))
	require.Len(t, fake.createdReviews, 1)
	assert.Empty(t, fake.createdReviews[0].comments)
	assert.Contains(t, fake.createdReviews[0].body, "note")
}

func TestPostResultFailed(t *testing.T) {
	fake := &fakeClient{}
	poster := NewResultPoster(fake, noopLogger())

	result := &core.RallyResult{Outcome: core.OutcomeFailed, Rounds: 1}
	require.NoError(t, poster.PostResult(context.Background(), posterContext(), result))

	assert.Empty(t, fake.createdReviews)
	require.Len(t, fake.createdComments, 1)
	assert.Contains(t, fake.createdComments[0], "Rally failed")
}

func TestPostResultSkipsCanceledAndLocal(t *testing.T) {
	fake := &fakeClient{}
	poster := NewResultPoster(fake, noopLogger())

	canceled := &core.RallyResult{Outcome: core.OutcomeCanceled, Rounds: 1}
	require.NoError(t, poster.PostResult(context.Background(), posterContext(), canceled))

	local := posterContext()
	local.LocalOnly = true
	approved := &core.RallyResult{
		Outcome: core.OutcomeApproved,
		Rounds:  1,
		Review:  &core.ReviewerOutput{Action: core.ActionApprove, Summary: "ok"},
	}
	require.NoError(t, poster.PostResult(context.Background(), local, approved))

	assert.Empty(t, fake.createdReviews)
	assert.Empty(t, fake.createdComments)
}

func TestFormatInlineComment(t *testing.T) {
	tests := []struct {
		name     string
		comment  core.ReviewComment
		contains []string
	}{
		{
			name:     "critical gets the red badge",
			comment:  core.ReviewComment{Path: "a.go", Line: 3, Body: "Unchecked error", Severity: core.SeverityCritical},
			contains: []string{"🔴", "**critical**", "Unchecked error"},
		},
		{
			name:     "suggestion gets the green badge",
			comment:  core.ReviewComment{Path: "a.go", Line: 3, Body: "Consider a helper", Severity: core.SeveritySuggestion},
			contains: []string{"🟢", "**suggestion**"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatInlineComment(tt.comment)
			for _, c := range tt.contains {
				assert.Contains(t, got, c)
			}
		})
	}
}

func TestCheckReporter(t *testing.T) {
	fake := &fakeClient{}
	reporter := NewCheckReporter(fake)
	rc := posterContext()

	id, err := reporter.Start(context.Background(), rc, "claude", "codex")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	require.Len(t, fake.checkRuns, 1)
	created := fake.checkRuns[0]
	assert.Equal(t, "Rally Review", created.Name)
	assert.Equal(t, "abc1234", created.HeadSHA)
	assert.Equal(t, "in_progress", created.GetStatus())

	result := &core.RallyResult{
		Outcome: core.OutcomeApproved,
		Rounds:  1,
		Review:  &core.ReviewerOutput{Action: core.ActionApprove, Summary: "Ship it."},
	}
	require.NoError(t, reporter.Finish(context.Background(), rc, id, result))

	require.Len(t, fake.checkUpdates, 1)
	updated := fake.checkUpdates[0]
	assert.Equal(t, "completed", updated.GetStatus())
	assert.Equal(t, "success", updated.GetConclusion())
	assert.Equal(t, "Ship it.", updated.Output.GetSummary())
}

func TestCheckConclusion(t *testing.T) {
	tests := []struct {
		outcome    core.Outcome
		conclusion string
	}{
		{core.OutcomeApproved, "success"},
		{core.OutcomeExhausted, "action_required"},
		{core.OutcomeFailed, "failure"},
		{core.OutcomeCanceled, "cancelled"},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			conclusion, title := checkConclusion(&core.RallyResult{Outcome: tt.outcome, Rounds: 2})
			assert.Equal(t, tt.conclusion, conclusion)
			assert.NotEmpty(t, title)
		})
	}
}

func indexOf(t *testing.T, s, sub string) int {
	t.Helper()
	idx := strings.Index(s, sub)
	require.GreaterOrEqual(t, idx, 0, "%q not found", sub)
	return idx
}
