package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volleyhq/rally/internal/core"
)

func TestManagerRendersEmbeddedPrompts(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)

	out, err := m.Render(ReviewerOpening, "claude", ReviewerOpeningData{
		Title:     "Fix listener leak",
		Body:      "Closes #6",
		Diff:      "--- a/server.go\n+++ b/server.go",
		MaxRounds: 3,
		ExternalComments: []core.ExternalComment{
			{Source: "lint-bot", Path: "server.go", Line: 12, Body: "unused variable"},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Fix listener leak")
	assert.Contains(t, out, "--- a/server.go")
	assert.Contains(t, out, "lint-bot")
	assert.Contains(t, out, `"action"`)
}

func TestManagerFallsBackToDefaultVariant(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)

	// No codex-specific template exists, the default must serve.
	out, err := m.Render(RevieweeDenied, "codex", PermissionData{Action: "Bash(go test ./...)"})
	require.NoError(t, err)
	assert.Contains(t, out, "Bash(go test ./...)")
	assert.Contains(t, out, "denied")
}

func TestManagerUnknownKey(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)

	_, err = m.Render(Key("nonexistent"), DefaultVariant, nil)
	assert.Error(t, err)
}
