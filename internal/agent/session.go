// Package agent implements the backend adapters the orchestrator drives.
// Each adapter owns one live CLI session (claude or codex), mirrors the
// session's activity to the bound event sink, and validates the terminal
// result through the protocol package.
package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// streamLine is called for every non-empty stdout line of a session
// subprocess. Malformed lines are the handler's problem to skip.
type streamLine func(line []byte)

// runStreaming executes a session subprocess, feeding stdout lines to
// onLine. The prompt is written to stdin so large diffs never hit argv
// limits. Cancellation of ctx kills the process.
func runStreaming(ctx context.Context, dir, stdin string, onLine streamLine, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024) // 10MB max line

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		onLine(line)
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s exited: %w: %s", name, err, tailOf(stderr.String(), 512))
	}
	if scanErr != nil {
		return fmt.Errorf("reading %s output: %w", name, scanErr)
	}
	return nil
}

var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?[ \t]*\n(.*?)```")

// extractJSONPayload pulls the structured protocol result out of an agent's
// final message. Agents are instructed to end with a fenced JSON block; the
// last valid fence wins so prose examples earlier in the message cannot
// shadow the real result. Returns nil when the message carries no JSON.
func extractJSONPayload(text string) json.RawMessage {
	matches := jsonFenceRe.FindAllStringSubmatch(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(matches[i][1])
		if len(candidate) > 0 && json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate)
		}
	}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	return nil
}

func truncateStr(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func tailOf(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		return "..." + s[len(s)-max:]
	}
	return s
}
