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

const (
	codexSandboxReadOnly  = "read-only"
	codexSandboxWorkspace = "workspace-write"
)

// Codex drives the codex CLI through `codex exec --json`. Turns after the
// first resume the thread `codex exec resume` style, so the conversation
// state lives with the backend just like the claude adapter's sessions.
type Codex struct {
	binary string
	model  string
	logger *slog.Logger

	sink *core.EventSink

	mu       sync.Mutex
	threadID string
	workDir  string
	sandbox  string
	granted  []string
	grantSet map[string]struct{}
}

// NewCodex returns an unbound adapter; BindEventSink must be called before
// the first Run.
func NewCodex(opts Options) *Codex {
	binary := opts.Binary
	if binary == "" {
		binary = "codex"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Codex{
		binary:   binary,
		model:    opts.Model,
		logger:   logger,
		grantSet: make(map[string]struct{}),
	}
}

func (c *Codex) Identify() string { return string(core.AgentCodex) }

func (c *Codex) BindEventSink(sink *core.EventSink) {
	c.sink = sink
}

func (c *Codex) RunReviewer(ctx context.Context, prompt string, rc *core.ReviewContext) (*core.ReviewerOutput, error) {
	raw, err := c.start(ctx, "run_reviewer", prompt, rc.WorkDir, codexSandboxReadOnly)
	if err != nil {
		return nil, err
	}
	return protocol.ParseReviewerOutput(raw, c.Identify())
}

func (c *Codex) RunReviewee(ctx context.Context, prompt string, rc *core.ReviewContext) (*core.RevieweeOutput, error) {
	raw, err := c.start(ctx, "run_reviewee", prompt, rc.WorkDir, codexSandboxWorkspace)
	if err != nil {
		return nil, err
	}
	return protocol.ParseRevieweeOutput(raw, c.Identify())
}

func (c *Codex) ContinueReviewer(ctx context.Context, message string) (*core.ReviewerOutput, error) {
	raw, err := c.resume(ctx, "continue_reviewer", message)
	if err != nil {
		return nil, err
	}
	return protocol.ParseReviewerOutput(raw, c.Identify())
}

func (c *Codex) ContinueReviewee(ctx context.Context, message string) (*core.RevieweeOutput, error) {
	raw, err := c.resume(ctx, "continue_reviewee", message)
	if err != nil {
		return nil, err
	}
	return protocol.ParseRevieweeOutput(raw, c.Identify())
}

// GrantRevieweeTool records a granted action for the rest of the session.
// Codex has no per-tool allow list; the one capability a grant can widen on
// the CLI is sandbox network access, everything else reaches the agent
// through the orchestrator's resumption message.
func (c *Codex) GrantRevieweeTool(tool string) {
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

func (c *Codex) start(ctx context.Context, stage, prompt, workDir, sandbox string) (json.RawMessage, error) {
	c.requireSink()
	c.mu.Lock()
	c.workDir = workDir
	c.sandbox = sandbox
	c.threadID = ""
	c.mu.Unlock()

	return c.turn(ctx, stage, prompt, false)
}

func (c *Codex) resume(ctx context.Context, stage, message string) (json.RawMessage, error) {
	c.requireSink()
	c.mu.Lock()
	active := c.threadID != ""
	c.mu.Unlock()
	if !active {
		return nil, core.ErrNoActiveSession
	}

	return c.turn(ctx, stage, message, true)
}

// buildArgs assembles the CLI invocation for one turn.
func (c *Codex) buildArgs(resume bool) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	args := []string{"exec"}
	if resume {
		args = append(args, "resume", c.threadID)
	}
	args = append(args, "--json", "--skip-git-repo-check", "--sandbox", c.sandbox)
	if c.model != "" {
		args = append(args, "-m", c.model)
	}
	if c.networkGranted() {
		args = append(args, "-c", "sandbox_workspace_write.network_access=true")
	}
	// "-" reads the prompt from stdin.
	return append(args, "-")
}

func (c *Codex) turn(ctx context.Context, stage, prompt string, resume bool) (json.RawMessage, error) {
	args := c.buildArgs(resume)
	c.mu.Lock()
	workDir := c.workDir
	c.mu.Unlock()

	c.logger.Debug("starting codex turn", "stage", stage, "resume", resume, "work_dir", workDir)

	stream := &codexStream{onActivity: c.emitActivity}
	err := runStreaming(ctx, workDir, prompt, stream.line, c.binary, args...)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &core.AgentFailure{Agent: c.Identify(), Stage: stage, Err: err}
	}

	if stream.threadID != "" {
		c.mu.Lock()
		c.threadID = stream.threadID
		c.mu.Unlock()
	}

	if stream.failed {
		return nil, &core.AgentFailure{
			Agent: c.Identify(),
			Stage: stage,
			Err:   fmt.Errorf("backend reported a failed turn: %s", truncateStr(stream.errText, 200)),
		}
	}

	return extractJSONPayload(stream.lastMessage), nil
}

// networkGranted is called with c.mu held.
func (c *Codex) networkGranted() bool {
	for _, g := range c.granted {
		if strings.Contains(strings.ToLower(g), "network") {
			return true
		}
	}
	return false
}

func (c *Codex) requireSink() {
	if c.sink == nil {
		panic("agent: BindEventSink must be called before running a session")
	}
}

func (c *Codex) emitActivity(activity string) {
	c.sink.Publish(core.RallyEvent{
		Kind:     core.EventAgentActivity,
		Agent:    c.Identify(),
		Activity: activity,
	})
}

// codexStream folds the JSONL events of one `codex exec` turn. The last
// agent message is the terminal result; thread.started carries the resume
// handle.
type codexStream struct {
	onActivity func(string)

	threadID    string
	lastMessage string
	failed      bool
	errText     string
}

type codexEvent struct {
	Type     string     `json:"type"`
	ThreadID string     `json:"thread_id"`
	Item     *codexItem `json:"item"`
	Error    *codexErr  `json:"error"`
}

type codexItem struct {
	Type    string        `json:"type"`
	Text    string        `json:"text"`
	Command string        `json:"command"`
	Changes []codexChange `json:"changes"`
}

type codexChange struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

type codexErr struct {
	Message string `json:"message"`
}

func (s *codexStream) line(line []byte) {
	var event codexEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return // skip malformed lines
	}

	switch event.Type {
	case "thread.started":
		if event.ThreadID != "" {
			s.threadID = event.ThreadID
		}
	case "item.completed":
		s.mirrorItem(event.Item)
	case "turn.failed", "error":
		s.failed = true
		if event.Error != nil {
			s.errText = event.Error.Message
		}
	}
}

func (s *codexStream) mirrorItem(item *codexItem) {
	if item == nil {
		return
	}
	switch item.Type {
	case "agent_message":
		if item.Text != "" {
			s.lastMessage = item.Text
			s.onActivity(truncateStr(item.Text, 120))
		}
	case "reasoning":
		if item.Text != "" {
			s.onActivity(truncateStr(item.Text, 120))
		}
	case "command_execution":
		if item.Command != "" {
			s.onActivity("$ " + truncateStr(item.Command, 80))
		}
	case "file_change":
		for _, change := range item.Changes {
			s.onActivity(change.Kind + " " + change.Path)
		}
	}
}
