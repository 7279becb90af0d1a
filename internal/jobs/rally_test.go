package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v73/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/volleyhq/rally/internal/agent"
	"github.com/volleyhq/rally/internal/config"
	"github.com/volleyhq/rally/internal/core"
	internalgithub "github.com/volleyhq/rally/internal/github"
	"github.com/volleyhq/rally/internal/gitutil"
	"github.com/volleyhq/rally/internal/prompt"
	"github.com/volleyhq/rally/mocks"
)

type finishedRally struct {
	id      int64
	outcome string
	rounds  int
	summary string
}

// fakeStore is an in-memory storage.Store.
type fakeStore struct {
	mu        sync.Mutex
	created   []*core.Rally
	finished  []finishedRally
	events    []*core.RallyEventRecord
	createErr error
}

func (f *fakeStore) CreateRally(_ context.Context, r *core.Rally) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.created = append(f.created, r)
	return int64(len(f.created)), nil
}

func (f *fakeStore) FinishRally(_ context.Context, id int64, outcome string, rounds int, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, finishedRally{id: id, outcome: outcome, rounds: rounds, summary: summary})
	return nil
}

func (f *fakeStore) AppendEvent(_ context.Context, rec *core.RallyEventRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, rec)
	return nil
}

func (f *fakeStore) ListRalliesForPR(context.Context, string, int) ([]core.Rally, error) {
	return nil, nil
}

func (f *fakeStore) ListEvents(context.Context, int64) ([]core.RallyEventRecord, error) {
	return nil, nil
}

func (f *fakeStore) eventKinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]string, 0, len(f.events))
	for _, e := range f.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// fakeCloner hands out a prepared directory instead of touching the network.
type fakeCloner struct {
	dir     string
	err     error
	repoURL string
	headSHA string
}

func (f *fakeCloner) ClonePullRequest(_ context.Context, repoURL string, _ int, headSHA, _ string) (string, func(), error) {
	f.repoURL = repoURL
	f.headSHA = headSHA
	if f.err != nil {
		return "", nil, f.err
	}
	return f.dir, func() {}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Reviewer:            "claude",
		Reviewee:            "codex",
		MaxRounds:           3,
		AgentTimeoutMinutes: 1,
	}
}

func prFixture() *github.PullRequest {
	return &github.PullRequest{
		Number: github.Ptr(7),
		Title:  github.Ptr("Add retry helper"),
		Body:   github.Ptr("Retries transient fetch errors."),
		Head:   &github.PullRequestBranch{SHA: github.Ptr("abc1234def")},
		Base: &github.PullRequestBranch{
			Ref: github.Ptr("main"),
			Repo: &github.Repository{
				CloneURL: github.Ptr("https://github.com/volleyhq/rally.git"),
			},
		},
	}
}

// expectContextCalls wires the client calls every rally job starts with.
func expectContextCalls(client *mocks.MockClient) {
	client.EXPECT().GetPullRequest(gomock.Any(), "volleyhq", "rally", 7).Return(prFixture(), nil)
	client.EXPECT().GetPullRequestDiff(gomock.Any(), "volleyhq", "rally", 7).Return("diff --git a/f.go b/f.go\n", nil)
	client.EXPECT().ListIssueComments(gomock.Any(), "volleyhq", "rally", 7).Return(nil, nil)
	client.EXPECT().ListReviewComments(gomock.Any(), "volleyhq", "rally", 7).Return(nil, nil)
	client.EXPECT().CreateCheckRun(gomock.Any(), "volleyhq", "rally", gomock.Any()).
		Return(&github.CheckRun{ID: github.Ptr(int64(42))}, nil)
}

func newTestJob(t *testing.T, client *mocks.MockClient, store *fakeStore, cloner *fakeCloner, reviewer, reviewee core.AgentAdapter) *RallyJob {
	t.Helper()
	prompts, err := prompt.NewManager()
	require.NoError(t, err)

	job := NewRallyJob(testConfig(), store, gitutil.NewClient(quietLogger()), prompts, quietLogger())
	job.git = cloner
	job.newClient = func(context.Context, *config.Config, int64, *slog.Logger) (internalgithub.Client, string, error) {
		return client, "test-token", nil
	}
	job.selectAgent = func(name string, _ agent.Options) (core.AgentAdapter, error) {
		switch name {
		case "claude":
			return reviewer, nil
		case "codex":
			return reviewee, nil
		}
		return nil, fmt.Errorf("unsupported agent %q", name)
	}
	return job
}

func rallyRequest() *core.RallyRequest {
	return &core.RallyRequest{
		RepoOwner:      "volleyhq",
		RepoName:       "rally",
		RepoFullName:   "volleyhq/rally",
		RepoCloneURL:   "https://github.com/volleyhq/rally.git",
		PRNumber:       7,
		Commenter:      "maintainer",
		InstallationID: 99,
	}
}

func TestRallyJobApprovedFirstRound(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	expectContextCalls(client)

	reviewer := mocks.NewMockAgentAdapter(ctrl)
	reviewer.EXPECT().BindEventSink(gomock.Any())
	reviewer.EXPECT().Identify().Return("claude").AnyTimes()
	reviewer.EXPECT().RunReviewer(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&core.ReviewerOutput{Action: core.ActionApprove, Summary: "Clean change, ship it."}, nil)

	reviewee := mocks.NewMockAgentAdapter(ctrl)
	reviewee.EXPECT().BindEventSink(gomock.Any())
	reviewee.EXPECT().Identify().Return("codex").AnyTimes()

	var reviewBody string
	client.EXPECT().CreateReview(gomock.Any(), "volleyhq", "rally", 7, "APPROVE", gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, _ int, _, body string, _ []internalgithub.DraftReviewComment) error {
			reviewBody = body
			return nil
		})
	client.EXPECT().UpdateCheckRun(gomock.Any(), "volleyhq", "rally", int64(42), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, _ int64, opts github.UpdateCheckRunOptions) (*github.CheckRun, error) {
			assert.Equal(t, "success", opts.GetConclusion())
			return &github.CheckRun{}, nil
		})

	store := &fakeStore{}
	cloner := &fakeCloner{dir: t.TempDir()}
	job := newTestJob(t, client, store, cloner, reviewer, reviewee)

	err := job.Run(context.Background(), rallyRequest())
	require.NoError(t, err)

	assert.Equal(t, "https://github.com/volleyhq/rally.git", cloner.repoURL)
	assert.Equal(t, "abc1234def", cloner.headSHA)
	assert.Contains(t, reviewBody, "Rally approved")

	require.Len(t, store.created, 1)
	assert.Equal(t, "claude", store.created[0].Reviewer)
	assert.Equal(t, "codex", store.created[0].Reviewee)

	require.Len(t, store.finished, 1)
	assert.Equal(t, "approved", store.finished[0].outcome)
	assert.Equal(t, 1, store.finished[0].rounds)
	assert.Equal(t, "Clean change, ship it.", store.finished[0].summary)

	assert.Equal(t, []string{"round_started", "reviewer_result", "rally_completed"}, store.eventKinds())
}

func TestRallyJobAutoGrantsConfiguredPermission(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	expectContextCalls(client)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".rally.yml"), []byte("auto_grant:\n  - run_tests\n"), 0o644))

	reviewer := mocks.NewMockAgentAdapter(ctrl)
	reviewer.EXPECT().BindEventSink(gomock.Any())
	reviewer.EXPECT().Identify().Return("claude").AnyTimes()
	reviewer.EXPECT().RunReviewer(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&core.ReviewerOutput{Action: core.ActionRequestChanges, Summary: "Missing test for the retry path."}, nil)
	reviewer.EXPECT().ContinueReviewer(gomock.Any(), gomock.Any()).
		Return(&core.ReviewerOutput{Action: core.ActionApprove, Summary: "Retry path is covered now."}, nil)

	reviewee := mocks.NewMockAgentAdapter(ctrl)
	reviewee.EXPECT().BindEventSink(gomock.Any())
	reviewee.EXPECT().Identify().Return("codex").AnyTimes()
	reviewee.EXPECT().RunReviewee(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&core.RevieweeOutput{
			Status:     core.StatusNeedsPermission,
			Permission: &core.PermissionRequest{Action: "run_tests", Reason: "verify the new test passes"},
		}, nil)
	reviewee.EXPECT().GrantRevieweeTool("run_tests")
	reviewee.EXPECT().ContinueReviewee(gomock.Any(), gomock.Any()).
		Return(&core.RevieweeOutput{Status: core.StatusCompleted, Summary: "Added the missing test."}, nil)

	client.EXPECT().CreateReview(gomock.Any(), "volleyhq", "rally", 7, "APPROVE", gomock.Any(), gomock.Any()).Return(nil)
	client.EXPECT().UpdateCheckRun(gomock.Any(), "volleyhq", "rally", int64(42), gomock.Any()).
		Return(&github.CheckRun{}, nil)

	store := &fakeStore{}
	job := newTestJob(t, client, store, &fakeCloner{dir: dir}, reviewer, reviewee)

	err := job.Run(context.Background(), rallyRequest())
	require.NoError(t, err)

	require.Len(t, store.finished, 1)
	assert.Equal(t, "approved", store.finished[0].outcome)
	assert.Equal(t, 2, store.finished[0].rounds)

	kinds := store.eventKinds()
	assert.Contains(t, kinds, "permission_requested")
	assert.Contains(t, kinds, "permission_resolved")
	for _, e := range store.events {
		if e.Kind == "permission_resolved" {
			assert.Contains(t, e.Payload, `"granted":true`)
		}
	}
}

func TestRallyJobHeadlessDenialAndClarification(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	expectContextCalls(client)

	reviewer := mocks.NewMockAgentAdapter(ctrl)
	reviewer.EXPECT().BindEventSink(gomock.Any())
	reviewer.EXPECT().Identify().Return("claude").AnyTimes()
	reviewer.EXPECT().RunReviewer(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&core.ReviewerOutput{Action: core.ActionRequestChanges, Summary: "Handle the empty response."}, nil)

	var continues []string
	reviewee := mocks.NewMockAgentAdapter(ctrl)
	reviewee.EXPECT().BindEventSink(gomock.Any())
	reviewee.EXPECT().Identify().Return("codex").AnyTimes()
	reviewee.EXPECT().RunReviewee(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&core.RevieweeOutput{Status: core.StatusNeedsClarification, Question: "Which endpoint returns empty?"}, nil)
	reviewee.EXPECT().ContinueReviewee(gomock.Any(), gomock.Any()).Times(2).
		DoAndReturn(func(_ context.Context, message string) (*core.RevieweeOutput, error) {
			continues = append(continues, message)
			if len(continues) == 1 {
				return &core.RevieweeOutput{
					Status:     core.StatusNeedsPermission,
					Permission: &core.PermissionRequest{Action: "install_deps", Reason: "need a mock library"},
				}, nil
			}
			return &core.RevieweeOutput{Status: core.StatusCompleted, Summary: "Guarded the empty response."}, nil
		})

	// One round only, so the rally ends exhausted and requests changes.
	client.EXPECT().CreateReview(gomock.Any(), "volleyhq", "rally", 7, "REQUEST_CHANGES", gomock.Any(), gomock.Any()).Return(nil)
	client.EXPECT().UpdateCheckRun(gomock.Any(), "volleyhq", "rally", int64(42), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, _ int64, opts github.UpdateCheckRunOptions) (*github.CheckRun, error) {
			assert.Equal(t, "action_required", opts.GetConclusion())
			return &github.CheckRun{}, nil
		})

	store := &fakeStore{}
	job := newTestJob(t, client, store, &fakeCloner{dir: t.TempDir()}, reviewer, reviewee)
	job.cfg.MaxRounds = 1

	err := job.Run(context.Background(), rallyRequest())
	require.NoError(t, err)

	require.Len(t, continues, 2)
	assert.Contains(t, continues[0], "unattended")
	assert.Contains(t, continues[1], "install_deps")

	require.Len(t, store.finished, 1)
	assert.Equal(t, "exhausted", store.finished[0].outcome)
	assert.Equal(t, 1, store.finished[0].rounds)
}

func TestRallyJobFailsCheckOnCloneError(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	expectContextCalls(client)

	client.EXPECT().UpdateCheckRun(gomock.Any(), "volleyhq", "rally", int64(42), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, _ int64, opts github.UpdateCheckRunOptions) (*github.CheckRun, error) {
			assert.Equal(t, "failure", opts.GetConclusion())
			return &github.CheckRun{}, nil
		})

	reviewer := mocks.NewMockAgentAdapter(ctrl)
	reviewee := mocks.NewMockAgentAdapter(ctrl)

	store := &fakeStore{}
	cloner := &fakeCloner{err: errors.New("remote hung up")}
	job := newTestJob(t, client, store, cloner, reviewer, reviewee)

	err := job.Run(context.Background(), rallyRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to clone repository")
	assert.Empty(t, store.created)
}

func TestRallyJobValidatesRequest(t *testing.T) {
	job := &RallyJob{logger: quietLogger()}

	tests := []struct {
		name    string
		mutate  func(*core.RallyRequest)
		wantErr string
	}{
		{"missing owner", func(r *core.RallyRequest) { r.RepoOwner = "" }, "owner cannot be empty"},
		{"missing name", func(r *core.RallyRequest) { r.RepoName = "" }, "name cannot be empty"},
		{"missing full name", func(r *core.RallyRequest) { r.RepoFullName = "" }, "full name cannot be empty"},
		{"bad PR number", func(r *core.RallyRequest) { r.PRNumber = 0 }, "must be positive"},
		{"bad installation", func(r *core.RallyRequest) { r.InstallationID = -1 }, "installation ID must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := rallyRequest()
			tt.mutate(req)
			err := job.validateRequest(context.Background(), req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	require.NoError(t, job.validateRequest(context.Background(), rallyRequest()))
}

func TestResolveSettings(t *testing.T) {
	job := &RallyJob{cfg: testConfig()}

	t.Run("defaults", func(t *testing.T) {
		reviewer, reviewee, opts := job.resolveSettings(core.DefaultRepoConfig())
		assert.Equal(t, "claude", reviewer)
		assert.Equal(t, "codex", reviewee)
		assert.Equal(t, 3, opts.MaxRounds)
		assert.Equal(t, time.Minute, opts.CallTimeout)
	})

	t.Run("repo overrides win", func(t *testing.T) {
		repoCfg := &core.RepoConfig{
			Reviewer:            "codex",
			Reviewee:            "claude",
			MaxRounds:           5,
			AgentTimeoutMinutes: 20,
			CustomInstructions:  []string{"Keep the public API stable."},
		}
		reviewer, reviewee, opts := job.resolveSettings(repoCfg)
		assert.Equal(t, "codex", reviewer)
		assert.Equal(t, "claude", reviewee)
		assert.Equal(t, 5, opts.MaxRounds)
		assert.Equal(t, 20*time.Minute, opts.CallTimeout)
		require.Len(t, opts.CustomInstructions, 1)
		assert.True(t, strings.Contains(opts.CustomInstructions[0], "public API"))
	})
}
