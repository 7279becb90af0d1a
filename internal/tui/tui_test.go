package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/volleyhq/rally/internal/core"
)

const testDiff = `diff --git a/retry.go b/retry.go
index abc1234..def5678 100644
--- a/retry.go
+++ b/retry.go
@@ -1,5 +1,6 @@
 package retry

 func Do(attempts int) error {
-	return try(attempts)
+	backoff(attempts)
+	return try(attempts)
 }
diff --git a/backoff.go b/backoff.go
new file mode 100644
--- /dev/null
+++ b/backoff.go
@@ -0,0 +1,5 @@
+package retry
+
+func backoff(attempts int) {
+	_ = attempts
+}
`

type fakeControls struct {
	grants  map[string]bool
	answers map[string]string
}

func newFakeControls() *fakeControls {
	return &fakeControls{grants: map[string]bool{}, answers: map[string]string{}}
}

func (f *fakeControls) ResolvePermission(requestID string, granted bool) {
	f.grants[requestID] = granted
}

func (f *fakeControls) AnswerClarification(requestID, answer string) {
	f.answers[requestID] = answer
}

func setupModel(t *testing.T, controls *fakeControls) Model {
	t.Helper()
	rc := &core.ReviewContext{
		RepoFullName: "volleyhq/rally",
		PRNumber:     7,
		Title:        "Add retry helper",
		Diff:         testDiff,
	}
	m := New(rc, nil, controls, nil, 3)
	newM, _ := m.Update(tea.WindowSizeMsg{Width: 140, Height: 40})
	return newM.(Model)
}

func keyRunes(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestModelInit(t *testing.T) {
	m := setupModel(t, newFakeControls())

	if m.fileIndex != 0 {
		t.Errorf("expected fileIndex 0, got %d", m.fileIndex)
	}
	if len(m.files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(m.files))
	}
	if len(m.lines) == 0 {
		t.Error("expected lines to be rendered")
	}
	if m.parseErr != nil {
		t.Errorf("unexpected parse error: %v", m.parseErr)
	}
}

func TestFileNavigation(t *testing.T) {
	m := setupModel(t, newFakeControls())

	newM, _ := m.Update(keyRunes('n'))
	m = newM.(Model)
	if m.fileIndex != 1 {
		t.Errorf("expected fileIndex 1 after next, got %d", m.fileIndex)
	}

	// Moving past the end stays on the last file.
	newM, _ = m.Update(keyRunes('n'))
	m = newM.(Model)
	if m.fileIndex != 1 {
		t.Errorf("expected fileIndex 1 at end, got %d", m.fileIndex)
	}

	newM, _ = m.Update(keyRunes('N'))
	m = newM.(Model)
	if m.fileIndex != 0 {
		t.Errorf("expected fileIndex 0 after prev, got %d", m.fileIndex)
	}
}

func TestScrolling(t *testing.T) {
	m := setupModel(t, newFakeControls())

	newM, _ := m.Update(keyRunes('j'))
	m = newM.(Model)
	if m.scrollOffset != 1 {
		t.Errorf("expected scrollOffset 1, got %d", m.scrollOffset)
	}

	newM, _ = m.Update(keyRunes('k'))
	m = newM.(Model)
	if m.scrollOffset != 0 {
		t.Errorf("expected scrollOffset 0, got %d", m.scrollOffset)
	}

	// Can't scroll above the top.
	newM, _ = m.Update(keyRunes('k'))
	m = newM.(Model)
	if m.scrollOffset != 0 {
		t.Errorf("expected scrollOffset 0 at top, got %d", m.scrollOffset)
	}
}

func TestRoundEventUpdatesStatus(t *testing.T) {
	m := setupModel(t, newFakeControls())

	newM, _ := m.Update(eventMsg(core.RallyEvent{Kind: core.EventRoundStarted, Round: 1}))
	m = newM.(Model)

	if m.round != 1 {
		t.Errorf("expected round 1, got %d", m.round)
	}
	view := m.View()
	if !strings.Contains(view, "round 1/3") {
		t.Error("expected view to show the round counter")
	}
}

func TestReviewerResultRendersCommentsAndSeverity(t *testing.T) {
	m := setupModel(t, newFakeControls())

	ev := core.RallyEvent{
		Kind:  core.EventReviewerResult,
		Round: 1,
		Agent: "claude",
		Reviewer: &core.ReviewerOutput{
			Action:  core.ActionRequestChanges,
			Summary: "The retry loop needs a nil check.",
			Comments: []core.ReviewComment{
				{Path: "retry.go", Line: 4, Body: "try can return before backoff", Severity: core.SeverityMajor},
			},
			BlockingIssues: []string{"missing nil check"},
		},
	}
	newM, _ := m.Update(eventMsg(ev))
	m = newM.(Model)

	log := strings.Join(m.eventLog, "\n")
	if !strings.Contains(log, "[major]") {
		t.Error("expected a severity badge in the event log")
	}
	if !strings.Contains(log, "retry.go:4") {
		t.Error("expected the comment location in the event log")
	}
	if !strings.Contains(log, "missing nil check") {
		t.Error("expected the blocking issue in the event log")
	}
}

func TestPermissionPrompt(t *testing.T) {
	controls := newFakeControls()
	m := setupModel(t, controls)

	ev := core.RallyEvent{
		Kind:       core.EventPermissionRequested,
		Round:      1,
		Agent:      "codex",
		RequestID:  "req-1",
		Permission: &core.PermissionRequest{Action: "run_tests", Reason: "verify the fix"},
	}
	newM, _ := m.Update(eventMsg(ev))
	m = newM.(Model)

	if m.mode != modePermission {
		t.Fatal("expected permission mode")
	}
	view := m.View()
	if !strings.Contains(view, "run_tests") {
		t.Error("expected the requested action in the prompt box")
	}

	newM, _ = m.Update(keyRunes('y'))
	m = newM.(Model)

	if granted, ok := controls.grants["req-1"]; !ok || !granted {
		t.Errorf("expected req-1 granted, got %v", controls.grants)
	}
	if m.mode != modeWatching {
		t.Error("expected watching mode after the decision")
	}
}

func TestPermissionDenial(t *testing.T) {
	controls := newFakeControls()
	m := setupModel(t, controls)

	ev := core.RallyEvent{
		Kind:       core.EventPermissionRequested,
		Agent:      "codex",
		RequestID:  "req-2",
		Permission: &core.PermissionRequest{Action: "install_deps"},
	}
	newM, _ := m.Update(eventMsg(ev))
	m = newM.(Model)

	newM, _ = m.Update(keyRunes('n'))
	m = newM.(Model)

	if granted, ok := controls.grants["req-2"]; !ok || granted {
		t.Errorf("expected req-2 denied, got %v", controls.grants)
	}
}

func TestClarificationAnswer(t *testing.T) {
	controls := newFakeControls()
	m := setupModel(t, controls)

	ev := core.RallyEvent{
		Kind:      core.EventClarificationRequested,
		Agent:     "codex",
		RequestID: "req-3",
		Question:  "Keep the exported name?",
	}
	newM, _ := m.Update(eventMsg(ev))
	m = newM.(Model)

	if m.mode != modeAnswering {
		t.Fatal("expected answering mode")
	}

	for _, r := range "yes, keep it" {
		newM, _ = m.Update(keyRunes(r))
		m = newM.(Model)
	}
	newM, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = newM.(Model)

	if got := controls.answers["req-3"]; got != "yes, keep it" {
		t.Errorf("expected answer to be sent, got %q", got)
	}
	if m.mode != modeWatching {
		t.Error("expected watching mode after the answer")
	}
}

func TestEmptyAnswerIsNotSent(t *testing.T) {
	controls := newFakeControls()
	m := setupModel(t, controls)

	ev := core.RallyEvent{
		Kind:      core.EventClarificationRequested,
		Agent:     "codex",
		RequestID: "req-4",
		Question:  "Proceed?",
	}
	newM, _ := m.Update(eventMsg(ev))
	m = newM.(Model)

	newM, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = newM.(Model)

	if len(controls.answers) != 0 {
		t.Errorf("expected no answer sent, got %v", controls.answers)
	}
	if m.mode != modeAnswering {
		t.Error("expected to stay in answering mode")
	}
}

func TestQuitCancelsBeforeExiting(t *testing.T) {
	canceled := false
	controls := newFakeControls()
	rc := &core.ReviewContext{RepoFullName: "volleyhq/rally", PRNumber: 7, Title: "Add retry helper", Diff: testDiff}
	m := New(rc, nil, controls, func() { canceled = true }, 3)
	newM, _ := m.Update(tea.WindowSizeMsg{Width: 140, Height: 40})
	m = newM.(Model)

	newM, _ = m.Update(keyRunes('q'))
	m = newM.(Model)
	if !canceled {
		t.Fatal("expected the first quit to cancel the rally")
	}
	if !m.canceling {
		t.Error("expected the model to show the canceling state")
	}

	newM, cmd := m.Update(keyRunes('q'))
	m = newM.(Model)
	if cmd == nil {
		t.Fatal("expected the second quit to exit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected a quit message from the second quit")
	}
}

func TestTerminalEventShowsOutcome(t *testing.T) {
	m := setupModel(t, newFakeControls())

	ev := core.RallyEvent{
		Kind:     core.EventRallyCompleted,
		Round:    2,
		Outcome:  core.OutcomeApproved,
		Reviewer: &core.ReviewerOutput{Action: core.ActionApprove, Summary: "Clean change."},
	}
	newM, _ := m.Update(eventMsg(ev))
	m = newM.(Model)

	if !m.done {
		t.Fatal("expected the rally to be done")
	}
	if !strings.Contains(m.View(), "APPROVED") {
		t.Error("expected the outcome banner in the view")
	}

	// Quit exits immediately once the rally ended.
	_, cmd := m.Update(keyRunes('q'))
	if cmd == nil {
		t.Fatal("expected quit after the rally ended")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected a quit message")
	}
}

func TestWaitForEventCmd(t *testing.T) {
	ch := make(chan core.RallyEvent, 1)
	ch <- core.RallyEvent{Kind: core.EventRoundStarted, Round: 1}

	msg := waitForEventCmd(ch)()
	ev, ok := msg.(eventMsg)
	if !ok {
		t.Fatalf("expected an event message, got %T", msg)
	}
	if ev.Kind != core.EventRoundStarted {
		t.Errorf("expected round_started, got %s", ev.Kind)
	}

	close(ch)
	if _, ok := waitForEventCmd(ch)().(streamClosedMsg); !ok {
		t.Error("expected a stream closed message after close")
	}
}

func TestHelpToggle(t *testing.T) {
	m := setupModel(t, newFakeControls())

	newM, _ := m.Update(keyRunes('?'))
	m = newM.(Model)
	if !m.showHelp {
		t.Error("expected help to be shown")
	}
	if !strings.Contains(m.View(), "Keyboard Shortcuts") {
		t.Error("expected help view to contain shortcuts")
	}
}

func TestViewRenders(t *testing.T) {
	m := setupModel(t, newFakeControls())

	view := m.View()
	if view == "" {
		t.Error("expected non-empty view")
	}
	if !strings.Contains(view, "retry.go") {
		t.Error("expected view to contain 'retry.go'")
	}
	if !strings.Contains(view, "volleyhq/rally#7") {
		t.Error("expected view to contain the PR reference")
	}
}
