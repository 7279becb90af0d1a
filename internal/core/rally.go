package core

import "time"

// Outcome is the terminal state of a rally. Exactly one is reached per
// rally.
type Outcome string

const (
	// OutcomeApproved means the reviewer approved the change.
	OutcomeApproved Outcome = "approved"

	// OutcomeExhausted means the round limit was reached without approval.
	OutcomeExhausted Outcome = "exhausted"

	// OutcomeFailed means an agent failure or protocol violation ended the
	// rally.
	OutcomeFailed Outcome = "failed"

	// OutcomeCanceled means the rally was cooperatively canceled.
	OutcomeCanceled Outcome = "canceled"
)

// RallyResult summarizes a finished rally for callers that do not consume
// the event stream.
type RallyResult struct {
	Outcome Outcome

	// Rounds is the 1-based round the rally ended in. For an approved
	// rally it equals the number of full rounds played.
	Rounds int

	// Review is the reviewer's final output: the approving verdict when
	// Outcome is approved, otherwise the last verdict seen, if any.
	Review *ReviewerOutput
}

// Rally is one finished (or in-flight) rally stored in the database.
type Rally struct {
	ID           int64
	RepoFullName string
	PRNumber     int
	HeadSHA      string
	Reviewer     string
	Reviewee     string
	Outcome      string
	Rounds       int
	Summary      string
	CreatedAt    time.Time
	FinishedAt   time.Time
}

// RallyEventRecord is one persisted entry of a rally's event transcript.
// Seq preserves the causal order of the stream; Payload is the event's JSON
// encoding.
type RallyEventRecord struct {
	ID        int64
	RallyID   int64
	Seq       int
	Kind      string
	Round     int
	Agent     string
	Payload   string
	CreatedAt time.Time
}
