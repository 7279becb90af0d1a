package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/volleyhq/rally/internal/core"
	"github.com/volleyhq/rally/internal/protocol"
)

// Tool baselines per role. The reviewer never edits; the reviewee edits but
// starts without shell access and must request it through the protocol.
var (
	claudeReviewerTools = []string{"Read", "Grep", "Glob", "LS"}
	claudeRevieweeTools = []string{"Read", "Edit", "MultiEdit", "Write", "Grep", "Glob", "LS"}
)

// Claude drives the claude CLI in print mode. Every turn is one subprocess
// emitting stream-json lines; the conversation itself survives across turns
// through --resume with the session ID the first turn reported.
type Claude struct {
	binary string
	model  string
	logger *slog.Logger

	sink *core.EventSink

	mu        sync.Mutex
	sessionID string
	workDir   string
	baseTools []string
	granted   []string
	grantSet  map[string]struct{}
}

// NewClaude returns an unbound adapter; BindEventSink must be called before
// the first Run.
func NewClaude(opts Options) *Claude {
	binary := opts.Binary
	if binary == "" {
		binary = "claude"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Claude{
		binary:   binary,
		model:    opts.Model,
		logger:   logger,
		grantSet: make(map[string]struct{}),
	}
}

func (c *Claude) Identify() string { return string(core.AgentClaude) }

func (c *Claude) BindEventSink(sink *core.EventSink) {
	c.sink = sink
}

func (c *Claude) RunReviewer(ctx context.Context, prompt string, rc *core.ReviewContext) (*core.ReviewerOutput, error) {
	raw, err := c.start(ctx, "run_reviewer", prompt, rc.WorkDir, claudeReviewerTools)
	if err != nil {
		return nil, err
	}
	return protocol.ParseReviewerOutput(raw, c.Identify())
}

func (c *Claude) RunReviewee(ctx context.Context, prompt string, rc *core.ReviewContext) (*core.RevieweeOutput, error) {
	raw, err := c.start(ctx, "run_reviewee", prompt, rc.WorkDir, claudeRevieweeTools)
	if err != nil {
		return nil, err
	}
	return protocol.ParseRevieweeOutput(raw, c.Identify())
}

func (c *Claude) ContinueReviewer(ctx context.Context, message string) (*core.ReviewerOutput, error) {
	raw, err := c.resume(ctx, "continue_reviewer", message)
	if err != nil {
		return nil, err
	}
	return protocol.ParseReviewerOutput(raw, c.Identify())
}

func (c *Claude) ContinueReviewee(ctx context.Context, message string) (*core.RevieweeOutput, error) {
	raw, err := c.resume(ctx, "continue_reviewee", message)
	if err != nil {
		return nil, err
	}
	return protocol.ParseRevieweeOutput(raw, c.Identify())
}

// GrantRevieweeTool widens the allowed-tool set passed to every subsequent
// turn. Granting the same tool twice is a no-op; grants are never
// retracted.
func (c *Claude) GrantRevieweeTool(tool string) {
	tool = strings.TrimSpace(tool)
	if tool == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.grantSet[tool]; ok {
		return
	}
	c.grantSet[tool] = struct{}{}
	c.granted = append(c.granted, tool)
	c.logger.Info("granted tool for session", "agent", c.Identify(), "tool", tool)
}

func (c *Claude) start(ctx context.Context, stage, prompt, workDir string, baseTools []string) (json.RawMessage, error) {
	c.requireSink()
	c.mu.Lock()
	c.workDir = workDir
	c.baseTools = baseTools
	c.sessionID = ""
	c.mu.Unlock()

	return c.turn(ctx, stage, prompt, false)
}

func (c *Claude) resume(ctx context.Context, stage, message string) (json.RawMessage, error) {
	c.requireSink()
	c.mu.Lock()
	active := c.sessionID != ""
	c.mu.Unlock()
	if !active {
		return nil, core.ErrNoActiveSession
	}

	return c.turn(ctx, stage, message, true)
}

// buildArgs assembles the CLI invocation for one turn. The allowed-tool
// list is recomputed every call so grants issued mid-session take effect on
// the next turn.
func (c *Claude) buildArgs(resume bool) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if resume {
		args = append(args, "--resume", c.sessionID)
	}
	allowed := append(append([]string{}, c.baseTools...), c.granted...)
	if len(allowed) > 0 {
		args = append(args, "--allowedTools", strings.Join(allowed, ","))
	}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	return args
}

func (c *Claude) turn(ctx context.Context, stage, prompt string, resume bool) (json.RawMessage, error) {
	args := c.buildArgs(resume)
	c.mu.Lock()
	workDir := c.workDir
	c.mu.Unlock()

	c.logger.Debug("starting claude turn", "stage", stage, "resume", resume, "work_dir", workDir)

	stream := &claudeStream{onActivity: c.emitActivity}
	err := runStreaming(ctx, workDir, prompt, stream.line, c.binary, args...)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &core.AgentFailure{Agent: c.Identify(), Stage: stage, Err: err}
	}

	if stream.sessionID != "" {
		c.mu.Lock()
		c.sessionID = stream.sessionID
		c.mu.Unlock()
	}

	if stream.isError {
		detail := stream.subtype
		if detail == "" {
			detail = truncateStr(stream.resultText, 200)
		}
		return nil, &core.AgentFailure{
			Agent: c.Identify(),
			Stage: stage,
			Err:   fmt.Errorf("backend reported an error result: %s", detail),
		}
	}

	// A clean exit without a usable payload is the validator's
	// missing-result case, not an agent failure.
	return extractJSONPayload(stream.resultText), nil
}

func (c *Claude) requireSink() {
	if c.sink == nil {
		panic("agent: BindEventSink must be called before running a session")
	}
}

func (c *Claude) emitActivity(activity string) {
	c.sink.Publish(core.RallyEvent{
		Kind:     core.EventAgentActivity,
		Agent:    c.Identify(),
		Activity: activity,
	})
}

// claudeStream folds the stream-json lines of one turn. Malformed lines are
// skipped; the stream's result entry carries the final message text.
type claudeStream struct {
	onActivity func(string)

	sessionID  string
	subtype    string
	resultText string
	sawResult  bool
	isError    bool
}

type claudeStreamEntry struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Message   json.RawMessage `json:"message"`
	Result    string          `json:"result"`
	IsError   bool            `json:"is_error"`
}

type claudeMessage struct {
	Content json.RawMessage `json:"content"`
}

// Content can be a string or an array of content blocks.
type claudeContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

func (s *claudeStream) line(line []byte) {
	var entry claudeStreamEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return // skip malformed lines
	}

	if s.sessionID == "" && entry.SessionID != "" {
		s.sessionID = entry.SessionID
	}

	switch entry.Type {
	case "assistant":
		s.mirrorAssistant(entry.Message)
	case "result":
		s.sawResult = true
		s.isError = entry.IsError
		s.subtype = ""
		if entry.IsError {
			s.subtype = entry.Subtype
		}
		s.resultText = entry.Result
		if entry.SessionID != "" {
			s.sessionID = entry.SessionID
		}
	}
}

func (s *claudeStream) mirrorAssistant(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var msg claudeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		if text != "" {
			s.onActivity(truncateStr(text, 120))
		}
		return
	}

	var blocks []claudeContentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return
	}
	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text != "" {
				s.onActivity(truncateStr(block.Text, 120))
			}
		case "tool_use":
			s.onActivity(describeToolUse(block))
		}
	}
}

func describeToolUse(block claudeContentBlock) string {
	switch block.Name {
	case "Bash":
		var inp struct {
			Command     string `json:"command"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(block.Input, &inp); err == nil {
			if inp.Description != "" {
				return inp.Description
			}
			return "$ " + truncateStr(inp.Command, 80)
		}
	case "Read", "Edit", "MultiEdit", "Write":
		var inp struct {
			FilePath string `json:"file_path"`
		}
		if err := json.Unmarshal(block.Input, &inp); err == nil && inp.FilePath != "" {
			return block.Name + " " + inp.FilePath
		}
	}
	return "Tool: " + block.Name
}
