package github

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v73/github"

	"github.com/volleyhq/rally/internal/core"
)

const checkRunName = "Rally Review"

// CheckReporter mirrors a rally's lifecycle onto a GitHub Check Run so the
// pull request page shows it running and records how it ended.
type CheckReporter struct {
	client Client
}

// NewCheckReporter returns a reporter writing through the given client.
func NewCheckReporter(client Client) *CheckReporter {
	return &CheckReporter{client: client}
}

// Start creates the check run in its in_progress state and returns its ID.
func (r *CheckReporter) Start(ctx context.Context, rc *core.ReviewContext, reviewer, reviewee string) (int64, error) {
	opts := github.CreateCheckRunOptions{
		Name:    checkRunName,
		HeadSHA: rc.HeadSHA,
		Status:  github.Ptr("in_progress"),
		Output: &github.CheckRunOutput{
			Title:   github.Ptr("Rally in progress"),
			Summary: github.Ptr(fmt.Sprintf("%s is reviewing, %s is addressing the findings.", reviewer, reviewee)),
		},
	}
	checkRun, err := r.client.CreateCheckRun(ctx, rc.RepoOwner, rc.RepoName, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to create check run: %w", err)
	}
	return checkRun.GetID(), nil
}

// Finish completes the check run with a conclusion matching the outcome.
func (r *CheckReporter) Finish(ctx context.Context, rc *core.ReviewContext, checkRunID int64, result *core.RallyResult) error {
	conclusion, title := checkConclusion(result)
	summary := title
	if result.Review != nil && result.Review.Summary != "" {
		summary = result.Review.Summary
	}

	opts := github.UpdateCheckRunOptions{
		Name:        checkRunName,
		Status:      github.Ptr("completed"),
		Conclusion:  github.Ptr(conclusion),
		CompletedAt: &github.Timestamp{Time: time.Now()},
		Output: &github.CheckRunOutput{
			Title:   github.Ptr(title),
			Summary: github.Ptr(summary),
		},
	}
	_, err := r.client.UpdateCheckRun(ctx, rc.RepoOwner, rc.RepoName, checkRunID, opts)
	return err
}

func checkConclusion(result *core.RallyResult) (conclusion, title string) {
	switch result.Outcome {
	case core.OutcomeApproved:
		return "success", fmt.Sprintf("Approved after %s", roundWord(result.Rounds))
	case core.OutcomeExhausted:
		return "action_required", fmt.Sprintf("Unresolved after %s", roundWord(result.Rounds))
	case core.OutcomeCanceled:
		return "cancelled", "Rally canceled"
	}
	return "failure", "Rally failed"
}
