package gitutil

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/volleyhq/rally/internal/core"
)

var remoteURLRegex = regexp.MustCompile(`[:/]([^/:]+)/([^/]+?)(?:\.git)?/?$`)

// BuildLocalContext builds a review context for the changes between a base
// branch and HEAD in the repository at path, without talking to any forge.
// The agents review the patch and edit the worktree in place.
func (c *Client) BuildLocalContext(ctx context.Context, path, baseBranch string) (*core.ReviewContext, error) {
	repo, err := c.Open(path)
	if err != nil {
		return nil, err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("repository at %s has no worktree to review: %w", path, err)
	}
	workDir := wt.Filesystem.Root()

	headRef, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	headCommit, err := repo.CommitObject(headRef.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to load HEAD commit: %w", err)
	}

	baseHash, err := repo.ResolveRevision(plumbing.Revision(baseBranch))
	if err != nil {
		// A freshly cloned repo often has the base only as a remote ref.
		baseHash, err = repo.ResolveRevision(plumbing.Revision("origin/" + baseBranch))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve base branch %q: %w", baseBranch, err)
		}
	}
	baseCommit, err := repo.CommitObject(*baseHash)
	if err != nil {
		return nil, fmt.Errorf("failed to load base commit %s: %w", baseHash, err)
	}

	from := baseCommit
	if bases, err := baseCommit.MergeBase(headCommit); err == nil && len(bases) > 0 {
		from = bases[0]
	}
	if from.Hash == headCommit.Hash {
		return nil, fmt.Errorf("no changes to review between %q and HEAD", baseBranch)
	}

	patch, err := from.PatchContext(ctx, headCommit)
	if err != nil {
		return nil, fmt.Errorf("failed to compute diff against %q: %w", baseBranch, err)
	}
	diff := patch.String()
	if strings.TrimSpace(diff) == "" {
		return nil, fmt.Errorf("no changes to review between %q and HEAD", baseBranch)
	}

	title, body := splitCommitMessage(headCommit)
	owner, name := remoteSlug(repo, workDir)

	rc := &core.ReviewContext{
		RepoOwner:    owner,
		RepoName:     name,
		RepoFullName: owner + "/" + name,
		Title:        title,
		Body:         body,
		Diff:         diff,
		WorkDir:      workDir,
		HeadSHA:      headRef.Hash().String(),
		BaseBranch:   baseBranch,
		LocalOnly:    true,
	}
	if owner == "" {
		rc.RepoFullName = name
	}

	c.Logger.InfoContext(ctx, "built local review context",
		"repo", rc.RepoFullName,
		"base", baseBranch,
		"head", rc.HeadSHA,
		"diff_bytes", len(diff),
	)
	return rc, nil
}

func splitCommitMessage(commit *object.Commit) (title, body string) {
	title, body, _ = strings.Cut(strings.TrimSpace(commit.Message), "\n")
	return strings.TrimSpace(title), strings.TrimSpace(body)
}

// remoteSlug derives an owner/name pair from the origin remote, falling
// back to the worktree's directory name for repositories without one.
func remoteSlug(repo *git.Repository, workDir string) (owner, name string) {
	name = filepath.Base(workDir)

	remotes, err := repo.Remotes()
	if err != nil {
		return "", name
	}
	for _, r := range remotes {
		cfg := r.Config()
		if cfg.Name != "origin" || len(cfg.URLs) == 0 {
			continue
		}
		if o, n, ok := parseRemoteURL(cfg.URLs[0]); ok {
			return o, n
		}
	}
	return "", name
}

func parseRemoteURL(raw string) (owner, name string, ok bool) {
	if !strings.Contains(raw, "://") && !strings.Contains(raw, "@") {
		return "", "", false
	}
	m := remoteURLRegex.FindStringSubmatch(raw)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
