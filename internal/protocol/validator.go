// Package protocol validates raw agent output against the review protocol.
// All functions are pure: raw JSON in, typed values or typed errors out.
// The engine never guesses what an agent meant, so anything outside the
// protocol's closed enum sets is a hard failure rather than a best-effort
// repair. The one deliberate exception is comment severity, which degrades
// to minor so a finding is never lost over an invented label.
package protocol

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/volleyhq/rally/internal/core"
)

// rawReviewer mirrors the reviewer's wire shape before enum validation.
type rawReviewer struct {
	Action         string       `json:"action"`
	Summary        string       `json:"summary"`
	Comments       []rawComment `json:"comments"`
	BlockingIssues []string     `json:"blocking_issues"`
}

type rawComment struct {
	Path     string `json:"path"`
	Line     int    `json:"line"`
	Body     string `json:"body"`
	Severity string `json:"severity"`
}

// rawReviewee mirrors the reviewee's wire shape before enum validation.
type rawReviewee struct {
	Status        string                  `json:"status"`
	Summary       string                  `json:"summary"`
	ModifiedFiles []string                `json:"modified_files"`
	Question      string                  `json:"question"`
	Permission    *core.PermissionRequest `json:"permission_request"`
	ErrorDetails  string                  `json:"error_details"`
}

// ParseReviewerOutput validates a reviewer's terminal result. raw may be
// nil or empty, which means the session produced nothing parseable.
func ParseReviewerOutput(raw json.RawMessage, agent string) (*core.ReviewerOutput, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, missingResult(agent)
	}

	var r rawReviewer
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, &core.ProtocolError{
			Kind:   core.ProtocolMalformedShape,
			Agent:  agent,
			Detail: "reviewer output does not deserialize: " + err.Error(),
		}
	}

	action := strings.ToLower(strings.TrimSpace(r.Action))
	if action == "" {
		return nil, &core.ProtocolError{
			Kind:   core.ProtocolMalformedShape,
			Agent:  agent,
			Detail: `missing required field "action"`,
		}
	}
	if !core.ReviewAction(action).Valid() {
		return nil, &core.ProtocolError{
			Kind:   core.ProtocolUnknownAction,
			Agent:  agent,
			Detail: `unknown review action "` + r.Action + `"`,
		}
	}

	out := &core.ReviewerOutput{
		Action:         core.ReviewAction(action),
		Summary:        strings.TrimSpace(r.Summary),
		BlockingIssues: r.BlockingIssues,
	}
	for _, c := range r.Comments {
		out.Comments = append(out.Comments, core.ReviewComment{
			Path:     c.Path,
			Line:     c.Line,
			Body:     c.Body,
			Severity: core.ParseSeverity(c.Severity),
		})
	}
	return out, nil
}

// ParseRevieweeOutput validates a reviewee's terminal result. The returned
// value carries exactly the payload field its status selects; payloads for
// other statuses are discarded.
func ParseRevieweeOutput(raw json.RawMessage, agent string) (*core.RevieweeOutput, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, missingResult(agent)
	}

	var r rawReviewee
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, &core.ProtocolError{
			Kind:   core.ProtocolMalformedShape,
			Agent:  agent,
			Detail: "reviewee output does not deserialize: " + err.Error(),
		}
	}

	status := strings.ToLower(strings.TrimSpace(r.Status))
	if status == "" {
		return nil, &core.ProtocolError{
			Kind:   core.ProtocolMalformedShape,
			Agent:  agent,
			Detail: `missing required field "status"`,
		}
	}
	if !core.RevieweeStatus(status).Valid() {
		return nil, &core.ProtocolError{
			Kind:   core.ProtocolUnknownStatus,
			Agent:  agent,
			Detail: `unknown reviewee status "` + r.Status + `"`,
		}
	}

	out := &core.RevieweeOutput{
		Status:        core.RevieweeStatus(status),
		Summary:       strings.TrimSpace(r.Summary),
		ModifiedFiles: r.ModifiedFiles,
	}

	switch out.Status {
	case core.StatusNeedsClarification:
		question := strings.TrimSpace(r.Question)
		if question == "" {
			return nil, &core.ProtocolError{
				Kind:   core.ProtocolMalformedShape,
				Agent:  agent,
				Detail: `status "needs_clarification" requires a question`,
			}
		}
		out.Question = question

	case core.StatusNeedsPermission:
		if r.Permission == nil || strings.TrimSpace(r.Permission.Action) == "" {
			return nil, &core.ProtocolError{
				Kind:   core.ProtocolMalformedShape,
				Agent:  agent,
				Detail: `status "needs_permission" requires a permission_request with an action`,
			}
		}
		out.Permission = &core.PermissionRequest{
			Action: strings.TrimSpace(r.Permission.Action),
			Reason: strings.TrimSpace(r.Permission.Reason),
		}

	case core.StatusError:
		// Error details are diagnostic only; fall back to the summary when
		// the agent reported none.
		out.ErrorDetails = strings.TrimSpace(r.ErrorDetails)
		if out.ErrorDetails == "" {
			out.ErrorDetails = out.Summary
		}
	}

	return out, nil
}

func missingResult(agent string) *core.ProtocolError {
	return &core.ProtocolError{
		Kind:   core.ProtocolMissingResult,
		Agent:  agent,
		Detail: "the session ended without a parseable terminal result",
	}
}
