package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volleyhq/rally/internal/core"
)

func TestParseReviewerOutput(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantAction core.ReviewAction
		wantErr    core.ProtocolErrorKind
		errNames   string
	}{
		{
			name: "Approve verdict",
			input: `{
				"action": "approve",
				"summary": "Looks good.",
				"comments": []
			}`,
			wantAction: core.ActionApprove,
		},
		{
			name:       "Request changes with findings",
			input:      `{"action": "request_changes", "summary": "Needs work.", "comments": [{"path": "main.go", "line": 10, "body": "Handle the error.", "severity": "major"}], "blocking_issues": ["unchecked error"]}`,
			wantAction: core.ActionRequestChanges,
		},
		{
			name:       "Mixed-case action is normalized",
			input:      `{"action": "Approve", "summary": "ok"}`,
			wantAction: core.ActionApprove,
		},
		{
			name:     "Unknown action is a hard failure naming the string",
			input:    `{"action": "LGTM", "summary": "ok"}`,
			wantErr:  core.ProtocolUnknownAction,
			errNames: `"LGTM"`,
		},
		{
			name:    "Missing action",
			input:   `{"summary": "ok"}`,
			wantErr: core.ProtocolMalformedShape,
		},
		{
			name:    "Wrong-kind field",
			input:   `{"action": "approve", "comments": {"path": "x"}}`,
			wantErr: core.ProtocolMalformedShape,
		},
		{
			name:    "Not JSON at all",
			input:   `I think this change is fine.`,
			wantErr: core.ProtocolMalformedShape,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReviewerOutput(json.RawMessage(tt.input), "claude")
			if tt.wantErr != "" {
				var perr *core.ProtocolError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, tt.wantErr, perr.Kind)
				assert.Equal(t, "claude", perr.Agent)
				if tt.errNames != "" {
					assert.Contains(t, perr.Detail, tt.errNames)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAction, got.Action)
		})
	}
}

func TestParseReviewerOutputMissingResult(t *testing.T) {
	for _, raw := range []json.RawMessage{nil, {}, json.RawMessage("  \n")} {
		var perr *core.ProtocolError
		_, err := ParseReviewerOutput(raw, "codex")
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, core.ProtocolMissingResult, perr.Kind)
	}
}

func TestSeverityDegradesToMinor(t *testing.T) {
	input := `{
		"action": "comment",
		"summary": "nits",
		"comments": [
			{"path": "a.go", "line": 1, "body": "A", "severity": "CRITICAL"},
			{"path": "b.go", "line": 2, "body": "B", "severity": "ship-it"},
			{"path": "c.go", "line": 3, "body": "C"}
		]
	}`

	got, err := ParseReviewerOutput(json.RawMessage(input), "claude")
	require.NoError(t, err)
	require.Len(t, got.Comments, 3)

	assert.Equal(t, core.SeverityCritical, got.Comments[0].Severity, "known severities keep their grade regardless of case")
	assert.Equal(t, core.SeverityMinor, got.Comments[1].Severity, "invented severities degrade to minor")
	assert.Equal(t, core.SeverityMinor, got.Comments[2].Severity, "absent severity degrades to minor")
	assert.Equal(t, "B", got.Comments[1].Body, "the comment itself is never dropped")
}

func TestReviewerOutputRoundTrip(t *testing.T) {
	orig := &core.ReviewerOutput{
		Action:  core.ActionRequestChanges,
		Summary: "Two problems remain.",
		Comments: []core.ReviewComment{
			{Path: "server.go", Line: 42, Body: "Close the listener on error.", Severity: core.SeverityMajor},
			{Path: "server.go", Line: 0, Body: "Consider splitting this file.", Severity: core.SeveritySuggestion},
		},
		BlockingIssues: []string{"listener leak"},
	}

	raw, err := json.Marshal(orig)
	require.NoError(t, err)

	got, err := ParseReviewerOutput(raw, "claude")
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}

func TestParseRevieweeOutput(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantStatus core.RevieweeStatus
		wantErr    core.ProtocolErrorKind
		errNames   string
	}{
		{
			name:       "Completed with modified files",
			input:      `{"status": "completed", "summary": "Addressed both comments.", "modified_files": ["server.go"]}`,
			wantStatus: core.StatusCompleted,
		},
		{
			name:       "Clarification with question",
			input:      `{"status": "needs_clarification", "summary": "", "question": "Which Go version do we target?"}`,
			wantStatus: core.StatusNeedsClarification,
		},
		{
			name:    "Clarification without question is malformed",
			input:   `{"status": "needs_clarification", "summary": "stuck"}`,
			wantErr: core.ProtocolMalformedShape,
		},
		{
			name:       "Permission with request",
			input:      `{"status": "needs_permission", "permission_request": {"action": "Bash(go test ./...)", "reason": "verify the fix"}}`,
			wantStatus: core.StatusNeedsPermission,
		},
		{
			name:    "Permission without request is malformed",
			input:   `{"status": "needs_permission", "summary": "blocked"}`,
			wantErr: core.ProtocolMalformedShape,
		},
		{
			name:       "Error status",
			input:      `{"status": "error", "summary": "could not apply patch", "error_details": "patch context mismatch in server.go"}`,
			wantStatus: core.StatusError,
		},
		{
			name:     "Unknown status is a hard failure naming the string",
			input:    `{"status": "done", "summary": "finished"}`,
			wantErr:  core.ProtocolUnknownStatus,
			errNames: `"done"`,
		},
		{
			name:    "Missing status",
			input:   `{"summary": "finished"}`,
			wantErr: core.ProtocolMalformedShape,
		},
		{
			name:       "Mixed-case status is normalized",
			input:      `{"status": "Completed", "summary": "done"}`,
			wantStatus: core.StatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRevieweeOutput(json.RawMessage(tt.input), "codex")
			if tt.wantErr != "" {
				var perr *core.ProtocolError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, tt.wantErr, perr.Kind)
				if tt.errNames != "" {
					assert.Contains(t, perr.Detail, tt.errNames)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)

			switch got.Status {
			case core.StatusNeedsClarification:
				assert.NotEmpty(t, got.Question)
				assert.Nil(t, got.Permission)
			case core.StatusNeedsPermission:
				require.NotNil(t, got.Permission)
				assert.NotEmpty(t, got.Permission.Action)
			case core.StatusError:
				assert.NotEmpty(t, got.ErrorDetails)
			}
		})
	}
}

func TestRevieweeOutputPayloadSelection(t *testing.T) {
	// Status selects the payload; leftovers for other statuses are dropped.
	input := `{
		"status": "completed",
		"summary": "done",
		"question": "stale question from a draft",
		"error_details": "stale error"
	}`

	got, err := ParseRevieweeOutput(json.RawMessage(input), "claude")
	require.NoError(t, err)
	assert.Empty(t, got.Question)
	assert.Nil(t, got.Permission)
	assert.Empty(t, got.ErrorDetails)
}

func TestRevieweeErrorDetailsFallBackToSummary(t *testing.T) {
	input := `{"status": "error", "summary": "tooling broke"}`

	got, err := ParseRevieweeOutput(json.RawMessage(input), "claude")
	require.NoError(t, err)
	assert.Equal(t, "tooling broke", got.ErrorDetails)
}

func TestRevieweeOutputRoundTrip(t *testing.T) {
	orig := &core.RevieweeOutput{
		Status:        core.StatusNeedsPermission,
		Summary:       "Need to run the tests.",
		ModifiedFiles: []string{"server.go", "server_test.go"},
		Permission:    &core.PermissionRequest{Action: "Bash(go test ./...)", Reason: "verify the fix"},
	}

	raw, err := json.Marshal(orig)
	require.NoError(t, err)

	got, err := ParseRevieweeOutput(raw, "codex")
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}
