package tui

import "github.com/volleyhq/rally/internal/core"

// One event received from the rally's stream.
type eventMsg core.RallyEvent

// The rally's event stream closed; no further events follow.
type streamClosedMsg struct{}
