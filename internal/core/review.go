// Package core defines the essential interfaces and data structures that form the
// backbone of the application. These components are designed to be abstract,
// allowing for flexible and decoupled implementations of the application's logic.
package core

import (
	"fmt"
	"strings"
)

// ReviewContext is the immutable bundle of pull-request data a rally runs
// against. It is assembled once, before the first round, by the GitHub
// supplier (remote mode) or the local diff builder (local mode), and is
// never mutated while a rally is in flight.
type ReviewContext struct {
	RepoOwner    string
	RepoName     string
	RepoFullName string

	PRNumber int
	Title    string
	Body     string

	// Diff is the unified diff of the change under review.
	Diff string

	// WorkDir is the checkout the reviewee agent edits in.
	WorkDir string

	HeadSHA    string
	BaseBranch string

	// CloneURL is where remote mode checks the head out from. Empty for
	// local rallies, which already have a worktree.
	CloneURL string

	// ExternalComments carries prior findings from other automated
	// reviewers so the rally does not repeat or contradict them.
	ExternalComments []ExternalComment

	// LocalOnly suppresses every remote API call: nothing is fetched from
	// or posted to GitHub for this rally.
	LocalOnly bool
}

// ExternalComment is a review remark left by an outside bot or tool before
// the rally started.
type ExternalComment struct {
	Source string `json:"source"`
	Path   string `json:"path,omitempty"`
	Line   int    `json:"line,omitempty"`
	Body   string `json:"body"`
}

// ReviewAction is the reviewer's verdict for a round.
type ReviewAction string

const (
	ActionApprove        ReviewAction = "approve"
	ActionRequestChanges ReviewAction = "request_changes"
	ActionComment        ReviewAction = "comment"
)

// Valid reports whether a is one of the closed set of review actions.
func (a ReviewAction) Valid() bool {
	switch a {
	case ActionApprove, ActionRequestChanges, ActionComment:
		return true
	}
	return false
}

// CommentSeverity grades a single review comment. The order of importance is
// critical > major > minor > suggestion.
type CommentSeverity string

const (
	SeverityCritical   CommentSeverity = "critical"
	SeverityMajor      CommentSeverity = "major"
	SeverityMinor      CommentSeverity = "minor"
	SeveritySuggestion CommentSeverity = "suggestion"
)

// Rank returns the comparable weight of a severity, highest first. Unknown
// values rank below suggestion.
func (s CommentSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityMajor:
		return 3
	case SeverityMinor:
		return 2
	case SeveritySuggestion:
		return 1
	}
	return 0
}

// ParseSeverity maps a raw severity string onto the closed set. Unknown or
// empty values degrade to minor so a comment is never dropped over a label
// the reviewer invented.
func ParseSeverity(raw string) CommentSeverity {
	switch CommentSeverity(strings.ToLower(strings.TrimSpace(raw))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityMajor:
		return SeverityMajor
	case SeverityMinor:
		return SeverityMinor
	case SeveritySuggestion:
		return SeveritySuggestion
	}
	return SeverityMinor
}

// ReviewComment is one reviewer finding anchored to a file and line.
// Line 0 means the comment applies to the file or change as a whole.
type ReviewComment struct {
	Path     string          `json:"path"`
	Line     int             `json:"line"`
	Body     string          `json:"body"`
	Severity CommentSeverity `json:"severity"`
}

// ReviewerOutput is the reviewer's structured verdict for one round.
// BlockingIssues is advisory context for the reviewee; control flow depends
// only on Action.
type ReviewerOutput struct {
	Action         ReviewAction    `json:"action"`
	Summary        string          `json:"summary"`
	Comments       []ReviewComment `json:"comments,omitempty"`
	BlockingIssues []string        `json:"blocking_issues,omitempty"`
}

// RevieweeStatus describes how a reviewee turn ended.
type RevieweeStatus string

const (
	StatusCompleted          RevieweeStatus = "completed"
	StatusNeedsClarification RevieweeStatus = "needs_clarification"
	StatusNeedsPermission    RevieweeStatus = "needs_permission"
	StatusError              RevieweeStatus = "error"
)

// Valid reports whether s is one of the closed set of reviewee statuses.
func (s RevieweeStatus) Valid() bool {
	switch s {
	case StatusCompleted, StatusNeedsClarification, StatusNeedsPermission, StatusError:
		return true
	}
	return false
}

// PermissionRequest asks the permission authority to allow a tool or action
// the reviewee is currently not permitted to use. Action is opaque to the
// engine; adapters translate granted actions into backend capabilities.
type PermissionRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// RevieweeOutput is the reviewee's structured report for one turn. Exactly
// one of Question, Permission and ErrorDetails is meaningful, determined by
// Status.
type RevieweeOutput struct {
	Status        RevieweeStatus     `json:"status"`
	Summary       string             `json:"summary"`
	ModifiedFiles []string           `json:"modified_files,omitempty"`
	Question      string             `json:"question,omitempty"`
	Permission    *PermissionRequest `json:"permission_request,omitempty"`
	ErrorDetails  string             `json:"error_details,omitempty"`
}

// SupportedAgent names an agent backend the adapter layer can drive.
type SupportedAgent string

const (
	AgentClaude SupportedAgent = "claude"
	AgentCodex  SupportedAgent = "codex"
)

// ParseSupportedAgent resolves a user-supplied agent name, ignoring case and
// surrounding whitespace.
func ParseSupportedAgent(raw string) (SupportedAgent, error) {
	switch SupportedAgent(strings.ToLower(strings.TrimSpace(raw))) {
	case AgentClaude:
		return AgentClaude, nil
	case AgentCodex:
		return AgentCodex, nil
	}
	return "", fmt.Errorf("unsupported agent %q (supported: claude, codex)", raw)
}
