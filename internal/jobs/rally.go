package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/volleyhq/rally/internal/agent"
	"github.com/volleyhq/rally/internal/config"
	"github.com/volleyhq/rally/internal/core"
	"github.com/volleyhq/rally/internal/github"
	"github.com/volleyhq/rally/internal/gitutil"
	"github.com/volleyhq/rally/internal/prompt"
	"github.com/volleyhq/rally/internal/rally"
	"github.com/volleyhq/rally/internal/storage"
)

// repoCloner is the slice of gitutil.Client the job needs.
type repoCloner interface {
	ClonePullRequest(ctx context.Context, repoURL string, prNumber int, headSHA, token string) (string, func(), error)
}

// RallyJob runs one webhook-triggered rally end to end: checkout, agents,
// orchestration, persistence and posting the result back to the pull
// request.
type RallyJob struct {
	cfg     *config.Config
	store   storage.Store
	git     repoCloner
	prompts *prompt.Manager
	logger  *slog.Logger

	// Seams for tests. Production wiring leaves them at their defaults.
	newClient   func(ctx context.Context, cfg *config.Config, installationID int64, logger *slog.Logger) (github.Client, string, error)
	selectAgent func(name string, opts agent.Options) (core.AgentAdapter, error)
}

// NewRallyJob creates a new RallyJob with its dependencies.
func NewRallyJob(cfg *config.Config, store storage.Store, git *gitutil.Client, prompts *prompt.Manager, logger *slog.Logger) *RallyJob {
	if cfg == nil {
		panic("config cannot be nil")
	}
	if store == nil {
		panic("store cannot be nil")
	}
	if git == nil {
		panic("git client cannot be nil")
	}
	if prompts == nil {
		panic("prompt manager cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &RallyJob{
		cfg:         cfg,
		store:       store,
		git:         git,
		prompts:     prompts,
		logger:      logger,
		newClient:   github.CreateInstallationClient,
		selectAgent: agent.Select,
	}
}

// Run executes a full rally for the given request.
func (j *RallyJob) Run(ctx context.Context, req *core.RallyRequest) error {
	if err := j.validateRequest(ctx, req); err != nil {
		j.logger.Error("request validation failed", "error", err)
		return fmt.Errorf("request validation failed: %w", err)
	}

	j.logger.Info("starting rally job",
		"repo", req.RepoFullName,
		"pr", req.PRNumber,
		"commenter", req.Commenter,
	)

	ghClient, token, err := j.newClient(ctx, j.cfg, req.InstallationID, j.logger)
	if err != nil {
		return fmt.Errorf("failed to create GitHub client: %w", err)
	}

	rc, err := github.BuildReviewContext(ctx, ghClient, j.logger, req.RepoOwner, req.RepoName, req.PRNumber)
	if err != nil {
		return fmt.Errorf("failed to build review context: %w", err)
	}

	checks := github.NewCheckReporter(ghClient)
	checkRunID, err := checks.Start(ctx, rc, j.cfg.Reviewer, j.cfg.Reviewee)
	if err != nil {
		return fmt.Errorf("failed to create check run: %w", err)
	}

	cloneCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	workDir, cleanup, err := j.git.ClonePullRequest(cloneCtx, rc.CloneURL, rc.PRNumber, rc.HeadSHA, token)
	if err != nil {
		j.failCheck(ctx, checks, rc, checkRunID)
		return fmt.Errorf("failed to clone repository: %w", err)
	}
	defer cleanup()
	rc.WorkDir = workDir

	repoCfg, err := config.LoadRepoConfig(workDir)
	switch {
	case errors.Is(err, config.ErrConfigNotFound):
		j.logger.Debug("no .rally.yml in repository, using server defaults")
	case err != nil:
		j.failCheck(ctx, checks, rc, checkRunID)
		return fmt.Errorf("invalid .rally.yml: %w", err)
	}

	reviewerName, revieweeName, opts := j.resolveSettings(repoCfg)

	reviewer, err := j.selectAgent(reviewerName, agent.Options{Logger: j.logger})
	if err != nil {
		j.failCheck(ctx, checks, rc, checkRunID)
		return fmt.Errorf("failed to select reviewer agent: %w", err)
	}
	reviewee, err := j.selectAgent(revieweeName, agent.Options{Logger: j.logger})
	if err != nil {
		j.failCheck(ctx, checks, rc, checkRunID)
		return fmt.Errorf("failed to select reviewee agent: %w", err)
	}

	// Transcript persistence is best effort: a dead database must not block
	// the rally.
	var recorder *storage.Recorder
	rallyID, err := j.store.CreateRally(ctx, &core.Rally{
		RepoFullName: rc.RepoFullName,
		PRNumber:     rc.PRNumber,
		HeadSHA:      rc.HeadSHA,
		Reviewer:     reviewerName,
		Reviewee:     revieweeName,
	})
	if err != nil {
		j.logger.Warn("failed to create rally record, transcript will not be persisted", "error", err)
	} else {
		recorder = storage.NewRecorder(j.store, j.logger, rallyID)
	}

	orch := rally.New(reviewer, reviewee, rc, j.prompts, j.logger, opts)

	done := make(chan struct{})
	go func() {
		defer close(done)
		j.consumeEvents(ctx, orch, recorder, repoCfg)
	}()

	result, runErr := orch.Run(ctx)
	<-done

	if recorder != nil {
		summary := ""
		if result.Review != nil {
			summary = result.Review.Summary
		}
		if err := j.store.FinishRally(ctx, rallyID, string(result.Outcome), result.Rounds, summary); err != nil {
			j.logger.Warn("failed to record rally outcome", "rally_id", rallyID, "error", err)
		}
	}

	poster := github.NewResultPoster(ghClient, j.logger)
	if err := poster.PostResult(ctx, rc, result); err != nil {
		j.failCheck(ctx, checks, rc, checkRunID)
		return fmt.Errorf("failed to post rally result: %w", err)
	}

	if err := checks.Finish(ctx, rc, checkRunID, result); err != nil {
		j.logger.Error("failed to complete check run", "error", err)
		return fmt.Errorf("failed to complete check run: %w", err)
	}

	j.logger.Info("rally job finished",
		"repo", req.RepoFullName,
		"pr", req.PRNumber,
		"outcome", result.Outcome,
		"rounds", result.Rounds,
	)
	return runErr
}

// consumeEvents drains the rally's event stream, persisting each event and
// acting as the headless permission and clarification authority.
func (j *RallyJob) consumeEvents(ctx context.Context, orch *rally.Orchestrator, recorder *storage.Recorder, repoCfg *core.RepoConfig) {
	for ev := range orch.Events() {
		if recorder != nil {
			recorder.Append(ctx, ev)
		}

		switch ev.Kind {
		case core.EventPermissionRequested:
			action := ""
			if ev.Permission != nil {
				action = ev.Permission.Action
			}
			granted := j.cfg.AutoGrantAll || AutoGrant(action, repoCfg.AutoGrant)
			j.logger.Info("headless permission decision",
				"action", action,
				"granted", granted,
			)
			orch.ResolvePermission(ev.RequestID, granted)

		case core.EventClarificationRequested:
			j.logger.Info("answering clarification headlessly", "question", ev.Question)
			orch.AnswerClarification(ev.RequestID, HeadlessAnswer)
		}
	}
}

// resolveSettings merges the repository's .rally.yml over the server
// defaults.
func (j *RallyJob) resolveSettings(repoCfg *core.RepoConfig) (reviewer, reviewee string, opts rally.Options) {
	reviewer = j.cfg.Reviewer
	if repoCfg.Reviewer != "" {
		reviewer = repoCfg.Reviewer
	}
	reviewee = j.cfg.Reviewee
	if repoCfg.Reviewee != "" {
		reviewee = repoCfg.Reviewee
	}

	opts = rally.Options{
		MaxRounds:          j.cfg.MaxRounds,
		CallTimeout:        j.cfg.AgentTimeout(),
		CustomInstructions: repoCfg.CustomInstructions,
	}
	if repoCfg.MaxRounds > 0 {
		opts.MaxRounds = repoCfg.MaxRounds
	}
	if repoCfg.AgentTimeoutMinutes > 0 {
		opts.CallTimeout = time.Duration(repoCfg.AgentTimeoutMinutes) * time.Minute
	}
	return reviewer, reviewee, opts
}

// validateRequest ensures the request contains all required fields.
func (j *RallyJob) validateRequest(ctx context.Context, req *core.RallyRequest) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	if req == nil {
		return fmt.Errorf("request cannot be nil")
	}
	if req.RepoOwner == "" {
		return fmt.Errorf("repository owner cannot be empty")
	}
	if req.RepoName == "" {
		return fmt.Errorf("repository name cannot be empty")
	}
	if req.RepoFullName == "" {
		return fmt.Errorf("repository full name cannot be empty")
	}
	if req.PRNumber <= 0 {
		return fmt.Errorf("pull request number must be positive, got: %d", req.PRNumber)
	}
	if req.InstallationID <= 0 {
		return fmt.Errorf("installation ID must be positive, got: %d", req.InstallationID)
	}
	return nil
}

// failCheck closes the check run as failed after an infrastructure error.
func (j *RallyJob) failCheck(ctx context.Context, checks *github.CheckReporter, rc *core.ReviewContext, checkRunID int64) {
	result := &core.RallyResult{Outcome: core.OutcomeFailed}
	if err := checks.Finish(ctx, rc, checkRunID, result); err != nil {
		j.logger.Error("failed to update failure status", "error", err)
	}
}
