// Package gitutil provides clients for cloning pull request heads and for
// diffing local repositories.
package gitutil

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
)

// Client handles interacting with Git repositories.
type Client struct {
	Logger *slog.Logger
}

// NewClient returns a new Client instance.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{Logger: logger}
}

// Open opens a Git repository at or above the given path, so commands run
// from a subdirectory of a worktree still find it.
func (c *Client) Open(path string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", path, err)
	}
	return repo, nil
}

// Clone clones a repository to a specific path. It does not checkout a
// specific SHA.
func (c *Client) Clone(ctx context.Context, repoURL, path, token string) error {
	authURL, err := c.getAuthenticatedURL(repoURL, token)
	if err != nil {
		return err
	}

	c.Logger.InfoContext(ctx, "cloning repository", "url", repoURL, "path", path)
	cmd := exec.CommandContext(ctx, "git", "-c", "core.longpaths=true", "clone", authURL, path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git clone failed: %s: %w", string(out), err)
	}
	return nil
}

// Fetch fetches the given refspecs from the 'origin' remote, retrying
// transient failures with exponential backoff.
func (c *Client) Fetch(ctx context.Context, path string, refSpecs ...string) error {
	c.Logger.InfoContext(ctx, "fetching from origin", "refspecs", refSpecs)

	args := []string{"-c", "core.longpaths=true", "fetch", "origin", "--force"}
	args = append(args, refSpecs...)

	const maxRetries = 3
	const baseDelay = 2 * time.Second

	var err error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			delay := baseDelay * time.Duration(1<<(i-1))
			c.Logger.WarnContext(ctx, "git fetch failed, retrying",
				"attempt", i,
				"max_retries", maxRetries,
				"delay", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = path

		if out, cmdErr := cmd.CombinedOutput(); cmdErr != nil {
			err = fmt.Errorf("git fetch failed: %s: %w", string(out), cmdErr)
			continue
		}

		c.Logger.InfoContext(ctx, "fetch complete")
		return nil
	}

	return err
}

// Checkout switches the repository's worktree to a specific commit.
func (c *Client) Checkout(ctx context.Context, path string, sha string) error {
	c.Logger.Info("checking out commit", "sha", sha)

	cmd := exec.CommandContext(ctx, "git", "-c", "core.longpaths=true", "checkout", "--force", sha)
	cmd.Dir = path

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git checkout failed: %s: %w", string(out), err)
	}
	return nil
}

// ClonePullRequest clones a repository into a temporary directory, fetches
// the pull request's head ref and checks out its head SHA. The returned
// cleanup function removes the checkout; callers must invoke it once the
// rally is over.
func (c *Client) ClonePullRequest(ctx context.Context, repoURL string, prNumber int, headSHA, token string) (string, func(), error) {
	repoPath, err := os.MkdirTemp("", "rally-repo-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	cleanup := func() {
		c.Logger.Info("cleaning up temporary checkout", "path", repoPath)
		if removeErr := os.RemoveAll(repoPath); removeErr != nil {
			c.Logger.Error("failed to remove temp checkout", "path", repoPath, "error", removeErr)
		}
	}

	if err := c.Clone(ctx, repoURL, repoPath, token); err != nil {
		cleanup()
		return "", nil, err
	}

	// The head of an unmerged PR is not reachable from the default branch,
	// so fetch its ref explicitly before checking out.
	if err := c.Fetch(ctx, repoPath, fmt.Sprintf("refs/pull/%d/head", prNumber)); err != nil {
		cleanup()
		return "", nil, err
	}

	if err := c.Checkout(ctx, repoPath, headSHA); err != nil {
		cleanup()
		return "", nil, err
	}

	c.Logger.InfoContext(ctx, "pull request checked out", "pr", prNumber, "sha", headSHA)
	return repoPath, cleanup, nil
}

func (c *Client) getAuthenticatedURL(repoURL, token string) (string, error) {
	// Handle local paths directly. file:// is intentionally unsupported for security.
	if !strings.Contains(repoURL, "://") {
		return repoURL, nil
	}

	if !strings.HasPrefix(repoURL, "https://") && !strings.HasPrefix(repoURL, "http://") {
		return "", fmt.Errorf("invalid repository URL: %s", repoURL)
	}

	parsedURL, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse repository URL '%s': %w", repoURL, err)
	}
	if token != "" {
		parsedURL.User = url.UserPassword("x-access-token", token)
	}
	return parsedURL.String(), nil
}
