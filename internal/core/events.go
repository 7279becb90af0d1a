package core

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v73/github"
)

// EventKind discriminates the variants of a RallyEvent.
type EventKind string

const (
	EventRoundStarted           EventKind = "round_started"
	EventReviewerResult         EventKind = "reviewer_result"
	EventRevieweeResult         EventKind = "reviewee_result"
	EventPermissionRequested    EventKind = "permission_requested"
	EventPermissionResolved     EventKind = "permission_resolved"
	EventClarificationRequested EventKind = "clarification_requested"
	EventAgentActivity          EventKind = "agent_activity"
	EventRallyCompleted         EventKind = "rally_completed"
	EventRallyFailed            EventKind = "rally_failed"
	EventRallyCanceled          EventKind = "rally_canceled"
)

// RallyEvent is one entry in the ordered stream a rally emits. Kind selects
// which payload fields are set; everything else is zero. Consumers render,
// persist or ignore events as they see fit, the engine only guarantees
// causal order.
type RallyEvent struct {
	Kind  EventKind `json:"kind"`
	Round int       `json:"round"`
	Time  time.Time `json:"time"`

	// Agent is the backend name the event concerns, empty for events the
	// orchestrator emits about the rally itself.
	Agent string `json:"agent,omitempty"`

	// Activity is a short progress line mirrored from a live agent session
	// (EventAgentActivity).
	Activity string `json:"activity,omitempty"`

	Reviewer *ReviewerOutput `json:"reviewer,omitempty"`
	Reviewee *RevieweeOutput `json:"reviewee,omitempty"`

	// RequestID keys an outstanding permission or clarification exchange so
	// asynchronous resolutions can be matched to it.
	RequestID  string             `json:"request_id,omitempty"`
	Permission *PermissionRequest `json:"permission,omitempty"`
	Granted    bool               `json:"granted,omitempty"`
	Question   string             `json:"question,omitempty"`

	Outcome Outcome `json:"outcome,omitempty"`
	Err     string  `json:"error,omitempty"`
}

// Terminal reports whether the event ends the rally's stream.
func (e RallyEvent) Terminal() bool {
	switch e.Kind {
	case EventRallyCompleted, EventRallyFailed, EventRallyCanceled:
		return true
	}
	return false
}

// EventSink is the bounded, single-consumer stream a rally publishes its
// events to. Publishing never blocks the rally: when the consumer falls
// behind, the oldest buffered informational event is dropped to make room.
// Terminal events are never dropped.
type EventSink struct {
	mu     sync.Mutex
	ch     chan RallyEvent
	closed bool
}

// NewEventSink returns a sink buffering up to size events. Sizes below 1
// are raised to 1 so a terminal event always has room.
func NewEventSink(size int) *EventSink {
	if size < 1 {
		size = 1
	}
	return &EventSink{ch: make(chan RallyEvent, size)}
}

// Publish delivers an informational event, timestamping it if the caller
// did not. Safe to call from multiple producers; a publish after Close is a
// no-op.
func (s *EventSink) Publish(ev RallyEvent) {
	s.send(ev)
}

// PublishTerminal delivers a rally-ending event. The stream's ordering
// contract means no further events follow it, so eviction can never discard
// a terminal event once published.
func (s *EventSink) PublishTerminal(ev RallyEvent) {
	s.send(ev)
}

func (s *EventSink) send(ev RallyEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		// Buffer full: evict the oldest buffered event. The lock keeps the
		// freed slot ours, so the next attempt succeeds.
		select {
		case <-s.ch:
		default:
		}
	}
}

// Events returns the consumer side of the stream. It is closed after the
// terminal event has been delivered.
func (s *EventSink) Events() <-chan RallyEvent {
	return s.ch
}

// Close ends the stream. Further publishes are discarded.
func (s *EventSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// RallyRequest represents a validated ask to run a rally, carved out of a
// GitHub webhook payload.
type RallyRequest struct {
	RepoOwner    string
	RepoName     string
	RepoFullName string
	RepoCloneURL string

	PRNumber int
	PRTitle  string
	PRBody   string
	HeadSHA  string

	Commenter      string
	InstallationID int64
}

// RequestFromIssueComment transforms a raw GitHub IssueCommentEvent into a
// RallyRequest. It acts as an anti-corruption layer, ensuring the incoming
// webhook payload is valid and complete before a job is queued. Only
// "/rally" comments on pull requests qualify.
func RequestFromIssueComment(event *github.IssueCommentEvent) (*RallyRequest, error) {
	if !event.GetIssue().IsPullRequest() {
		return nil, fmt.Errorf("comment is not on a pull request")
	}

	if !strings.EqualFold(strings.TrimSpace(event.GetComment().GetBody()), "/rally") {
		return nil, fmt.Errorf("comment is not a rally command")
	}

	repo := event.GetRepo()
	if repo == nil || repo.GetOwner() == nil || repo.GetOwner().GetLogin() == "" || repo.GetName() == "" {
		return nil, fmt.Errorf("repository or owner information is missing from the event")
	}

	prNumber := event.GetIssue().GetNumber()
	if prNumber <= 0 {
		return nil, fmt.Errorf("invalid pull request number: %d", prNumber)
	}

	if event.GetComment().GetUser() == nil || event.GetComment().GetUser().GetLogin() == "" {
		return nil, fmt.Errorf("commenter information is missing from the event")
	}

	if event.GetInstallation() == nil || event.GetInstallation().GetID() == 0 {
		return nil, fmt.Errorf("installation ID is missing from the event")
	}

	return &RallyRequest{
		RepoOwner:      repo.GetOwner().GetLogin(),
		RepoName:       repo.GetName(),
		RepoFullName:   repo.GetFullName(),
		RepoCloneURL:   repo.GetCloneURL(),
		InstallationID: event.GetInstallation().GetID(),
		PRNumber:       prNumber,
		PRTitle:        event.GetIssue().GetTitle(),
		PRBody:         event.GetIssue().GetBody(),
		Commenter:      event.GetComment().GetUser().GetLogin(),
	}, nil
}
