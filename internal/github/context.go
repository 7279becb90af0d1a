package github

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/go-github/v73/github"

	"github.com/volleyhq/rally/internal/core"
)

// maxExternalCommentLen bounds how much of a bot comment makes it into the
// reviewer's prompt; coverage and lint bots can post very large bodies.
const maxExternalCommentLen = 500

// BuildReviewContext assembles everything a rally needs to know about a
// pull request: its metadata, the unified diff, and prior findings from
// other automated reviewers.
func BuildReviewContext(ctx context.Context, client Client, logger *slog.Logger, owner, repo string, number int) (*core.ReviewContext, error) {
	pr, err := client.GetPullRequest(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to load pull request %s/%s#%d: %w", owner, repo, number, err)
	}

	diff, err := client.GetPullRequestDiff(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to load diff for %s/%s#%d: %w", owner, repo, number, err)
	}

	rc := &core.ReviewContext{
		RepoOwner:    owner,
		RepoName:     repo,
		RepoFullName: owner + "/" + repo,
		PRNumber:     number,
		Title:        pr.GetTitle(),
		Body:         pr.GetBody(),
		Diff:         diff,
		HeadSHA:      pr.GetHead().GetSHA(),
		BaseBranch:   pr.GetBase().GetRef(),
		CloneURL:     pr.GetBase().GetRepo().GetCloneURL(),
	}

	rc.ExternalComments = collectBotComments(ctx, client, logger, owner, repo, number)

	logger.Info("built review context",
		"repo", rc.RepoFullName,
		"pr", number,
		"head", rc.HeadSHA,
		"diff_bytes", len(diff),
		"external_comments", len(rc.ExternalComments),
	)
	return rc, nil
}

// collectBotComments gathers findings other bots already left on the pull
// request. Failures here degrade the prompt, they do not block the rally.
func collectBotComments(ctx context.Context, client Client, logger *slog.Logger, owner, repo string, number int) []core.ExternalComment {
	var external []core.ExternalComment

	issueComments, err := client.ListIssueComments(ctx, owner, repo, number)
	if err != nil {
		logger.Warn("skipping issue comments for review context", "error", err)
	}
	for _, c := range issueComments {
		if !isBot(c.GetUser()) {
			continue
		}
		external = append(external, core.ExternalComment{
			Source: c.GetUser().GetLogin(),
			Body:   clipComment(c.GetBody()),
		})
	}

	reviewComments, err := client.ListReviewComments(ctx, owner, repo, number)
	if err != nil {
		logger.Warn("skipping review comments for review context", "error", err)
	}
	for _, c := range reviewComments {
		if !isBot(c.GetUser()) {
			continue
		}
		external = append(external, core.ExternalComment{
			Source: c.GetUser().GetLogin(),
			Path:   c.GetPath(),
			Line:   c.GetLine(),
			Body:   clipComment(c.GetBody()),
		})
	}

	return external
}

func isBot(user *github.User) bool {
	return user.GetType() == "Bot" || strings.HasSuffix(user.GetLogin(), "[bot]")
}

func clipComment(body string) string {
	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) <= maxExternalCommentLen {
		return body
	}
	runes := []rune(body)
	return string(runes[:maxExternalCommentLen]) + "..."
}
