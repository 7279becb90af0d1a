package core

import (
	"context"
	"errors"
)

// ErrNoActiveSession is returned by Continue calls made before any Run call
// on the same adapter instance. It indicates a programming error in the
// caller, not an agent failure.
var ErrNoActiveSession = errors.New("no active agent session to continue")

// AgentAdapter is the capability surface the orchestrator drives an agent
// backend through. One adapter instance owns at most one live backend
// session; instances are not reused across rallies.
//
// Construction is two-phase: BindEventSink must be called before the first
// Run call so no early session activity is lost. Implementations panic if a
// Run or Continue call arrives with no sink bound.
//
//go:generate mockgen -destination=../../mocks/mock_agent_adapter.go -package=mocks . AgentAdapter
type AgentAdapter interface {
	// Identify returns a stable human-readable name for logs and events,
	// e.g. "claude" or "codex".
	Identify() string

	// BindEventSink registers the sink this adapter mirrors its session
	// activity to.
	BindEventSink(sink *EventSink)

	// RunReviewer starts a fresh backend session in the reviewer role and
	// blocks until the session yields a terminal result, which is validated
	// into a ReviewerOutput.
	RunReviewer(ctx context.Context, prompt string, rc *ReviewContext) (*ReviewerOutput, error)

	// RunReviewee starts a fresh backend session in the reviewee role with
	// an initially restricted tool set.
	RunReviewee(ctx context.Context, prompt string, rc *ReviewContext) (*RevieweeOutput, error)

	// ContinueReviewer resumes the live session with a follow-up message
	// and validates the result as reviewer output. Fails with
	// ErrNoActiveSession before any Run call.
	ContinueReviewer(ctx context.Context, message string) (*ReviewerOutput, error)

	// ContinueReviewee resumes the live session with a follow-up message
	// and validates the result as reviewee output. Fails with
	// ErrNoActiveSession before any Run call.
	ContinueReviewee(ctx context.Context, message string) (*RevieweeOutput, error)

	// GrantRevieweeTool adds a tool to the reviewee's permitted set for all
	// subsequent turns of the live session. Granting is idempotent and
	// grants are never retracted.
	GrantRevieweeTool(tool string)
}
