package github

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/volleyhq/rally/internal/core"
)

// ResultPoster publishes a finished rally back to its pull request.
type ResultPoster struct {
	client Client
	logger *slog.Logger
}

// NewResultPoster returns a poster writing through the given client.
func NewResultPoster(client Client, logger *slog.Logger) *ResultPoster {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultPoster{client: client, logger: logger}
}

// PostResult publishes the rally's terminal state: an approving review, a
// blocking review carrying the remaining findings, or a failure comment.
// Canceled and local-only rallies post nothing.
func (p *ResultPoster) PostResult(ctx context.Context, rc *core.ReviewContext, result *core.RallyResult) error {
	if rc.LocalOnly {
		return nil
	}

	switch result.Outcome {
	case core.OutcomeApproved:
		return p.postReview(ctx, rc, result, "APPROVE")
	case core.OutcomeExhausted:
		return p.postReview(ctx, rc, result, "REQUEST_CHANGES")
	case core.OutcomeFailed:
		body := fmt.Sprintf("### ⚠️ Rally failed\n\nThe review rally could not finish (round %d). Check the rally logs for details.", result.Rounds)
		return p.client.CreateComment(ctx, rc.RepoOwner, rc.RepoName, rc.PRNumber, body)
	case core.OutcomeCanceled:
		p.logger.Info("rally canceled, posting nothing", "repo", rc.RepoFullName, "pr", rc.PRNumber)
		return nil
	}
	return fmt.Errorf("unknown rally outcome %q", result.Outcome)
}

func (p *ResultPoster) postReview(ctx context.Context, rc *core.ReviewContext, result *core.RallyResult, event string) error {
	review := result.Review
	if review == nil {
		return fmt.Errorf("rally ended %s without a review to post", result.Outcome)
	}

	inline, offDiff := p.splitComments(ctx, rc, review.Comments)
	body := formatReviewBody(result, review, offDiff)

	p.logger.Info("posting review",
		"repo", rc.RepoFullName,
		"pr", rc.PRNumber,
		"event", event,
		"inline_comments", len(inline),
		"folded_comments", len(offDiff),
	)
	return p.client.CreateReview(ctx, rc.RepoOwner, rc.RepoName, rc.PRNumber, event, body, inline)
}

// splitComments validates each finding against the diff: findings anchored
// to commentable lines post inline, everything else folds into the review
// body. GitHub rejects the whole review if a single comment is off-diff,
// so the split errs toward folding.
func (p *ResultPoster) splitComments(ctx context.Context, rc *core.ReviewContext, comments []core.ReviewComment) (inline []DraftReviewComment, offDiff []core.ReviewComment) {
	if len(comments) == 0 {
		return nil, nil
	}

	files, err := p.client.GetChangedFiles(ctx, rc.RepoOwner, rc.RepoName, rc.PRNumber)
	if err != nil {
		p.logger.Warn("could not validate comment lines, folding all findings into the body", "error", err)
		return nil, comments
	}
	validLines := make(map[string]map[int]struct{}, len(files))
	for _, f := range files {
		validLines[f.Filename] = ParseValidLinesFromPatch(f.Patch, p.logger)
	}

	for _, c := range comments {
		lines, inDiff := validLines[c.Path]
		if c.Path == "" || c.Line <= 0 || !inDiff {
			offDiff = append(offDiff, c)
			continue
		}
		if _, ok := lines[c.Line]; !ok {
			offDiff = append(offDiff, c)
			continue
		}
		inline = append(inline, DraftReviewComment{
			Path: c.Path,
			Line: c.Line,
			Body: formatInlineComment(c),
		})
	}
	return inline, offDiff
}

func formatInlineComment(c core.ReviewComment) string {
	return fmt.Sprintf("%s **%s**: %s", severityEmoji(c.Severity), c.Severity, c.Body)
}

func formatReviewBody(result *core.RallyResult, review *core.ReviewerOutput, offDiff []core.ReviewComment) string {
	var sb strings.Builder

	switch result.Outcome {
	case core.OutcomeApproved:
		fmt.Fprintf(&sb, "### ✅ Rally approved after %s\n\n", roundWord(result.Rounds))
	case core.OutcomeExhausted:
		fmt.Fprintf(&sb, "### 🚫 Changes still requested after %s\n\n", roundWord(result.Rounds))
	}

	sb.WriteString(strings.TrimSpace(review.Summary))
	sb.WriteString("\n")

	if len(review.BlockingIssues) > 0 {
		sb.WriteString("\n**Blocking issues**\n\n")
		for _, issue := range review.BlockingIssues {
			fmt.Fprintf(&sb, "- %s\n", issue)
		}
	}

	if len(offDiff) > 0 {
		sb.WriteString("\n**Findings outside the diff**\n\n")
		sorted := make([]core.ReviewComment, len(offDiff))
		copy(sorted, offDiff)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
		})
		for _, c := range sorted {
			loc := c.Path
			if c.Line > 0 && c.Path != "" {
				loc = fmt.Sprintf("%s:%d", c.Path, c.Line)
			}
			if loc == "" {
				fmt.Fprintf(&sb, "- %s **%s**: %s\n", severityEmoji(c.Severity), c.Severity, c.Body)
			} else {
				fmt.Fprintf(&sb, "- %s **%s** `%s`: %s\n", severityEmoji(c.Severity), c.Severity, loc, c.Body)
			}
		}
	}

	return sb.String()
}

func roundWord(n int) string {
	if n == 1 {
		return "1 round"
	}
	return fmt.Sprintf("%d rounds", n)
}

func severityEmoji(s core.CommentSeverity) string {
	switch s {
	case core.SeverityCritical:
		return "🔴"
	case core.SeverityMajor:
		return "🟠"
	case core.SeverityMinor:
		return "🟡"
	case core.SeveritySuggestion:
		return "🟢"
	}
	return "⚪"
}
