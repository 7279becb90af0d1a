package core

import "fmt"

// ProtocolErrorKind classifies how an agent's terminal output violated the
// rally protocol.
type ProtocolErrorKind string

const (
	// ProtocolMissingResult means the session ended without any parseable
	// terminal result.
	ProtocolMissingResult ProtocolErrorKind = "missing_result"

	// ProtocolMalformedShape means required fields were absent or of the
	// wrong kind.
	ProtocolMalformedShape ProtocolErrorKind = "malformed_shape"

	// ProtocolUnknownAction means the reviewer named an action outside the
	// closed set.
	ProtocolUnknownAction ProtocolErrorKind = "unknown_action"

	// ProtocolUnknownStatus means the reviewee named a status outside the
	// closed set.
	ProtocolUnknownStatus ProtocolErrorKind = "unknown_status"
)

// ProtocolError reports that an agent's output could not be validated into
// a typed protocol value. Protocol violations are always fatal to the
// rally; the engine never guesses what an agent meant.
type ProtocolError struct {
	Kind   ProtocolErrorKind
	Agent  string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("agent %s violated the review protocol (%s): %s", e.Agent, e.Kind, e.Detail)
}

// AgentFailure reports that an agent session failed to start, crashed, or
// exceeded its per-call deadline. Stage names the adapter operation that
// failed.
type AgentFailure struct {
	Agent string
	Stage string
	Err   error
}

func (e *AgentFailure) Error() string {
	return fmt.Sprintf("agent %s failed during %s: %v", e.Agent, e.Stage, e.Err)
}

func (e *AgentFailure) Unwrap() error {
	return e.Err
}
