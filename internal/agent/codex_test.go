package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodexStreamDecoding(t *testing.T) {
	lines := []string{
		`{"type":"thread.started","thread_id":"th-9"}`,
		`{"type":"turn.started"}`,
		`{"type":"item.completed","item":{"id":"item_0","type":"reasoning","text":"Inspecting the change."}}`,
		`{"type":"item.completed","item":{"id":"item_1","type":"command_execution","command":"go vet ./...","exit_code":0}}`,
		`{"type":"item.completed","item":{"id":"item_2","type":"file_change","changes":[{"path":"server.go","kind":"update"}]}}`,
		`{"type":"item.completed","item":{"id":"item_3","type":"agent_message","text":"Draft answer."}}`,
		"{\"type\":\"item.completed\",\"item\":{\"id\":\"item_4\",\"type\":\"agent_message\",\"text\":\"Done.\\n```json\\n{\\\"status\\\":\\\"completed\\\",\\\"summary\\\":\\\"fixed\\\"}\\n```\"}}",
		`{"type":"turn.completed","usage":{"input_tokens":900,"output_tokens":120}}`,
	}

	var activities []string
	stream := &codexStream{onActivity: func(s string) { activities = append(activities, s) }}
	for _, line := range lines {
		stream.line([]byte(line))
	}

	assert.Equal(t, "th-9", stream.threadID)
	assert.False(t, stream.failed)
	assert.Equal(t, []string{
		"Inspecting the change.",
		"$ go vet ./...",
		"update server.go",
		"Draft answer.",
		"Done.\n```json\n{\"status\":\"completed\",\"summary\":\"fixed\"}\n```",
	}, activities)

	// The last agent message carries the terminal payload.
	raw := extractJSONPayload(stream.lastMessage)
	require.NotNil(t, raw)
	assert.JSONEq(t, `{"status":"completed","summary":"fixed"}`, string(raw))
}

func TestCodexStreamFailedTurn(t *testing.T) {
	stream := &codexStream{onActivity: func(string) {}}
	stream.line([]byte(`{"type":"thread.started","thread_id":"th-3"}`))
	stream.line([]byte(`{"type":"turn.failed","error":{"message":"sandbox denied the command"}}`))

	assert.True(t, stream.failed)
	assert.Equal(t, "sandbox denied the command", stream.errText)
}

func TestCodexBuildArgs(t *testing.T) {
	c := NewCodex(Options{Model: "o4-mini"})
	c.sandbox = codexSandboxWorkspace

	args := c.buildArgs(false)
	assert.Equal(t, "exec", args[0])
	assert.Contains(t, args, "--json")
	assert.Contains(t, args, "--skip-git-repo-check")
	assert.Equal(t, codexSandboxWorkspace, argValue(args, "--sandbox"))
	assert.Equal(t, "o4-mini", argValue(args, "-m"))
	assert.Equal(t, "-", args[len(args)-1], "prompt is read from stdin")
	assert.NotContains(t, args, "resume")

	c.threadID = "th-9"
	c.GrantRevieweeTool("WebFetch (network access)")

	resumed := c.buildArgs(true)
	assert.Equal(t, []string{"exec", "resume", "th-9"}, resumed[:3])
	assert.Equal(t, "sandbox_workspace_write.network_access=true", argValue(resumed, "-c"))
}
