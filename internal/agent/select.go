package agent

import (
	"log/slog"

	"github.com/volleyhq/rally/internal/core"
)

// Options configures a concrete adapter. The zero value is usable: the
// backend binary is looked up on PATH under its default name and the
// backend picks its own model.
type Options struct {
	// Binary overrides the backend executable.
	Binary string

	// Model is passed through to the backend when set.
	Model string

	Logger *slog.Logger
}

// Select builds the adapter for a user-supplied backend name. Names are
// matched case-insensitively; unknown names are an error, never a silent
// default.
func Select(name string, opts Options) (core.AgentAdapter, error) {
	tag, err := core.ParseSupportedAgent(name)
	if err != nil {
		return nil, err
	}

	if tag == core.AgentCodex {
		return NewCodex(opts), nil
	}
	return NewClaude(opts), nil
}
