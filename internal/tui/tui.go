// Package tui implements the Bubble Tea interface for a live rally: the
// diff under review on the left, the event stream on the right, and
// interactive permission and clarification prompts at the bottom.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/volleyhq/rally/internal/core"
)

// Controls is the slice of the orchestrator the interface resolves
// permission and clarification prompts through.
type Controls interface {
	ResolvePermission(requestID string, granted bool)
	AnswerClarification(requestID, answer string)
}

type promptMode int

const (
	modeWatching promptMode = iota
	modePermission
	modeAnswering
)

// Model is the top-level Bubble Tea model for a rally.
type Model struct {
	rc        *core.ReviewContext
	events    <-chan core.RallyEvent
	controls  Controls
	cancel    context.CancelFunc
	maxRounds int

	// UI state
	width  int
	height int

	// File list + diff pane
	files        []*diffFile
	parseErr     error
	fileIndex    int
	scrollOffset int
	lines        []renderedLine

	// Event pane
	eventLog  []string
	eventVP   viewport.Model
	markdown  *glamour.TermRenderer
	wrapWidth int

	// Prompt state
	mode        promptMode
	requestID   string
	promptAgent string
	permission  *core.PermissionRequest
	question    string
	answer      textarea.Model

	spinner  spinner.Model
	progress progress.Model

	round     int
	status    string
	outcome   core.Outcome
	done      bool
	canceling bool
	showHelp  bool
}

// New builds a model over a rally that has not started emitting yet. The
// cancel func is the rally's context cancel; quitting mid-rally calls it
// and waits for the terminal event.
func New(rc *core.ReviewContext, events <-chan core.RallyEvent, controls Controls, cancel context.CancelFunc, maxRounds int) Model {
	ta := textarea.New()
	ta.Placeholder = "Type your answer..."
	ta.Prompt = "┃ "
	ta.CharLimit = 2000
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(colorPurple)

	m := Model{
		rc:        rc,
		events:    events,
		controls:  controls,
		cancel:    cancel,
		maxRounds: maxRounds,
		answer:    ta,
		spinner:   sp,
		progress:  progress.New(progress.WithDefaultGradient()),
		status:    "waiting for the first round",
	}

	m.files, m.parseErr = parseDiff(rc.Diff)
	m.updateLines()
	return m
}

func (m *Model) updateLines() {
	if len(m.files) == 0 {
		m.lines = nil
		return
	}
	m.lines = renderFile(m.files[m.fileIndex])
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEventCmd(m.events), m.spinner.Tick)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		m.recordEvent(core.RallyEvent(msg))
		return m, waitForEventCmd(m.events)

	case streamClosedMsg:
		// The terminal event has already been rendered. Keep the screen up
		// so the user can read the outcome.
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.eventVP, cmd = m.eventVP.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.mode {
	case modePermission:
		switch {
		case key.Matches(msg, keys.Grant):
			m.resolvePermission(true)
		case key.Matches(msg, keys.Deny):
			m.resolvePermission(false)
		case msg.Type == tea.KeyCtrlC:
			return m.quitOrCancel()
		}
		return m, nil

	case modeAnswering:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m.quitOrCancel()
		case tea.KeyEnter:
			answer := strings.TrimSpace(m.answer.Value())
			if answer == "" {
				return m, nil
			}
			m.controls.AnswerClarification(m.requestID, answer)
			m.appendLog(agentNameStyle.Render("you: ") + m.wrap(answer))
			m.answer.Reset()
			m.answer.Blur()
			m.mode = modeWatching
			m.requestID = ""
			m.question = ""
			m.status = "answer sent, " + m.promptAgent + " is continuing"
			m.layout()
			return m, nil
		}
		var cmd tea.Cmd
		m.answer, cmd = m.answer.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, keys.Quit):
		return m.quitOrCancel()

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp

	case key.Matches(msg, keys.Down):
		if m.scrollOffset < len(m.lines)-1 {
			m.scrollOffset++
		}

	case key.Matches(msg, keys.Up):
		if m.scrollOffset > 0 {
			m.scrollOffset--
		}

	case key.Matches(msg, keys.NextFile):
		if m.fileIndex < len(m.files)-1 {
			m.fileIndex++
			m.scrollOffset = 0
			m.updateLines()
		}

	case key.Matches(msg, keys.PrevFile):
		if m.fileIndex > 0 {
			m.fileIndex--
			m.scrollOffset = 0
			m.updateLines()
		}

	case key.Matches(msg, keys.NextHunk):
		m.jumpToNextHunk()

	case key.Matches(msg, keys.PrevHunk):
		m.jumpToPrevHunk()

	default:
		var cmd tea.Cmd
		m.eventVP, cmd = m.eventVP.Update(msg)
		return m, cmd
	}

	return m, nil
}

// quitOrCancel turns the first quit request into a cooperative rally
// cancel; a second one, or any quit after the rally ended, exits.
func (m Model) quitOrCancel() (tea.Model, tea.Cmd) {
	if m.done || m.canceling {
		return m, tea.Quit
	}
	m.canceling = true
	m.status = "canceling, waiting for agents to stop"
	if m.cancel != nil {
		m.cancel()
	}
	return m, nil
}

func (m *Model) resolvePermission(granted bool) {
	m.controls.ResolvePermission(m.requestID, granted)
	m.mode = modeWatching
	m.requestID = ""
	m.permission = nil
	if granted {
		m.status = m.promptAgent + " may proceed"
	} else {
		m.status = m.promptAgent + " must proceed without it"
	}
	m.layout()
}

func (m *Model) jumpToNextHunk() {
	for i := m.scrollOffset + 1; i < len(m.lines); i++ {
		if m.lines[i].IsHunk {
			m.scrollOffset = i
			return
		}
	}
}

func (m *Model) jumpToPrevHunk() {
	for i := m.scrollOffset - 1; i >= 0; i-- {
		if m.lines[i].IsHunk {
			m.scrollOffset = i
			return
		}
	}
}

func (m *Model) recordEvent(ev core.RallyEvent) {
	switch ev.Kind {
	case core.EventRoundStarted:
		m.round = ev.Round
		m.appendLog("")
		m.appendLog(roundHeaderStyle.Render(fmt.Sprintf("── round %d/%d ──", ev.Round, m.maxRounds)))
		m.status = "reviewer is reading the change"

	case core.EventAgentActivity:
		m.appendLog(activityStyle.Render("· " + ev.Agent + ": " + ev.Activity))

	case core.EventReviewerResult:
		m.recordReviewer(ev)

	case core.EventRevieweeResult:
		m.recordReviewee(ev)

	case core.EventPermissionRequested:
		m.mode = modePermission
		m.requestID = ev.RequestID
		m.promptAgent = ev.Agent
		m.permission = ev.Permission
		m.status = "permission decision needed"
		m.appendLog(promptTitleStyle.Render(ev.Agent+" asks to run: ") + ev.Permission.Action)
		m.layout()

	case core.EventPermissionResolved:
		if ev.Granted {
			m.appendLog(approveStyle.Render("granted: ") + ev.Permission.Action)
		} else {
			m.appendLog(requestChangesStyle.Render("denied: ") + ev.Permission.Action)
		}

	case core.EventClarificationRequested:
		m.mode = modeAnswering
		m.requestID = ev.RequestID
		m.promptAgent = ev.Agent
		m.question = ev.Question
		m.answer.Focus()
		m.status = "question from " + ev.Agent
		m.appendLog(promptTitleStyle.Render(ev.Agent+" asks: ") + m.wrap(ev.Question))
		m.layout()

	case core.EventRallyCompleted, core.EventRallyFailed, core.EventRallyCanceled:
		m.done = true
		m.mode = modeWatching
		m.outcome = ev.Outcome
		m.appendLog("")
		banner := outcomeStyle(ev.Outcome).Render(strings.ToUpper(string(ev.Outcome)))
		m.appendLog(fmt.Sprintf("%s after %d round(s)", banner, ev.Round))
		if ev.Err != "" {
			m.appendLog(errorStyle.Render(m.wrap(ev.Err)))
		}
		m.status = "press q to exit"
		m.layout()
	}
}

func (m *Model) recordReviewer(ev core.RallyEvent) {
	out := ev.Reviewer

	var verdict string
	switch out.Action {
	case core.ActionApprove:
		verdict = approveStyle.Render("✓ approve")
	case core.ActionRequestChanges:
		verdict = requestChangesStyle.Render("✗ request changes")
	default:
		verdict = commentVerdictStyle.Render("comment")
	}
	m.appendLog(agentNameStyle.Render(ev.Agent) + " " + verdict)
	m.appendMarkdown(out.Summary)

	for _, c := range out.Comments {
		loc := c.Path
		if c.Line > 0 {
			loc = fmt.Sprintf("%s:%d", c.Path, c.Line)
		}
		m.appendLog("  " + severityBadge(c.Severity) + " " + loc)
		m.appendLog(m.wrap("    " + c.Body))
	}
	for _, issue := range out.BlockingIssues {
		m.appendLog("  " + requestChangesStyle.Render("blocking: ") + m.wrap(issue))
	}

	if out.Action != core.ActionApprove {
		m.status = "reviewee is addressing the feedback"
	}
}

func (m *Model) recordReviewee(ev core.RallyEvent) {
	out := ev.Reviewee
	switch out.Status {
	case core.StatusCompleted:
		m.appendLog(agentNameStyle.Render(ev.Agent) + " " + approveStyle.Render("done"))
		m.appendMarkdown(out.Summary)
		if len(out.ModifiedFiles) > 0 {
			m.appendLog(activityStyle.Render(m.wrap("modified: " + strings.Join(out.ModifiedFiles, ", "))))
		}
		m.status = "reviewer is re-reading the change"

	case core.StatusError:
		m.appendLog(agentNameStyle.Render(ev.Agent) + " " + errorStyle.Render("error"))
		m.appendLog(m.wrap(out.ErrorDetails))

	default:
		// Clarification and permission pauses get their own prompt events;
		// nothing extra to log here.
	}
}

// appendMarkdown renders markdown into the event log, falling back to the
// raw text when no renderer is ready yet.
func (m *Model) appendMarkdown(md string) {
	if strings.TrimSpace(md) == "" {
		return
	}
	if m.markdown != nil {
		if out, err := m.markdown.Render(md); err == nil {
			m.appendLog(strings.Trim(out, "\n"))
			return
		}
	}
	m.appendLog(m.wrap(md))
}

func (m *Model) appendLog(entries ...string) {
	for _, e := range entries {
		m.eventLog = append(m.eventLog, strings.Split(e, "\n")...)
	}
	m.eventVP.SetContent(strings.Join(m.eventLog, "\n"))
	m.eventVP.GotoBottom()
}

func (m Model) wrap(s string) string {
	if m.wrapWidth <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(m.wrapWidth).Render(s)
}

func (m Model) promptBoxHeight() int {
	switch m.mode {
	case modePermission:
		return 5
	case modeAnswering:
		return 7
	}
	return 0
}

func (m Model) paneHeight() int {
	h := m.height - 2 - m.promptBoxHeight()
	if h < 6 {
		h = 6
	}
	return h
}

// layout recomputes component dimensions. Called on resize and whenever
// the prompt box appears or disappears.
func (m *Model) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}

	_, _, eventW := m.paneWidths()
	m.wrapWidth = eventW - 4
	m.eventVP.Width = eventW - 4
	m.eventVP.Height = m.paneHeight() - 2
	m.answer.SetWidth(m.width - 8)
	m.progress.Width = 24

	if r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dracula"),
		glamour.WithWordWrap(m.wrapWidth),
	); err == nil {
		m.markdown = r
	}

	m.eventVP.SetContent(strings.Join(m.eventLog, "\n"))
	m.eventVP.GotoBottom()
}

func (m Model) paneWidths() (fileW, diffW, eventW int) {
	fileW = m.fileListWidth()
	diffW = (m.width - fileW - 2) * 55 / 100
	eventW = m.width - fileW - diffW - 2
	return
}

func (m Model) fileListWidth() int {
	maxLen := 16
	for _, f := range m.files {
		if name := f.Name(); len(name) > maxLen {
			maxLen = len(name)
		}
	}
	w := maxLen + 10 // padding + stats
	if w > m.width/4 {
		w = m.width / 4
	}
	if w < 20 {
		w = 20
	}
	return w
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Starting rally..."
	}

	if m.showHelp {
		return m.renderHelp()
	}

	fileW, diffW, eventW := m.paneWidths()
	paneH := m.paneHeight()

	main := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderFileList(fileW, paneH),
		" ",
		m.renderDiffPane(diffW, paneH),
		" ",
		m.renderEventPane(eventW, paneH),
	)

	sections := []string{m.renderHeader(), main}
	if box := m.renderPromptBox(); box != "" {
		sections = append(sections, box)
	}
	sections = append(sections, m.renderStatusBar())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	title := fmt.Sprintf("%s  %s", m.rc.RepoFullName, m.rc.Title)
	if m.rc.PRNumber > 0 {
		title = fmt.Sprintf("%s#%d  %s", m.rc.RepoFullName, m.rc.PRNumber, m.rc.Title)
	}
	left := fileHeaderStyle.Render(truncate(title, m.width*2/3))

	var right string
	if m.done {
		right = outcomeStyle(m.outcome).Render(strings.ToUpper(string(m.outcome)))
	} else {
		right = m.spinner.View() + " " + activityStyle.Render(m.status)
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m Model) renderFileList(width, height int) string {
	var b strings.Builder

	if len(m.files) == 0 {
		msg := "no parsed files"
		if m.parseErr != nil {
			msg = "diff did not parse"
		}
		b.WriteString(fileItemStyle.Render(msg))
	}

	for i, f := range m.files {
		name := f.Name()
		maxName := width - 10
		if maxName > 0 && len(name) > maxName {
			name = "…" + name[len(name)-maxName+1:]
		}

		stats := fmt.Sprintf("+%d -%d", f.AddedLines, f.DeletedLines)
		line := fmt.Sprintf("%-*s %s", maxName, name, stats)

		var style lipgloss.Style
		switch {
		case i == m.fileIndex:
			style = fileItemSelectedStyle
		case f.IsNew:
			style = fileItemNewStyle
		case f.IsDeleted:
			style = fileItemDeletedStyle
		default:
			style = fileItemStyle
		}

		b.WriteString(style.Width(width - 4).Render(line))
		if i < len(m.files)-1 {
			b.WriteByte('\n')
		}
	}

	return fileListStyle.Width(width - 2).Height(height - 2).Render(b.String())
}

func (m Model) renderDiffPane(width, height int) string {
	innerWidth := width - 4
	if len(m.files) == 0 {
		content := "No diff to show"
		if m.parseErr != nil {
			content = m.wrap(fmt.Sprintf("Could not parse the diff: %v", m.parseErr))
		}
		return diffViewStyle.Width(width - 2).Height(height - 2).Render(content)
	}

	f := m.files[m.fileIndex]
	var b strings.Builder
	b.WriteString(fileHeaderStyle.Render(truncate(f.Name(), innerWidth)))
	b.WriteByte('\n')

	visible := height - 3
	if visible < 1 {
		visible = 1
	}
	end := m.scrollOffset + visible
	if end > len(m.lines) {
		end = len(m.lines)
	}
	for i := m.scrollOffset; i < end; i++ {
		b.WriteString(styleLine(m.lines[i], innerWidth))
		if i < end-1 {
			b.WriteByte('\n')
		}
	}

	return diffViewStyle.Width(width - 2).Height(height - 2).Render(b.String())
}

func (m Model) renderEventPane(width, height int) string {
	return eventViewStyle.Width(width - 2).Height(height - 2).Render(m.eventVP.View())
}

func (m Model) renderPromptBox() string {
	switch m.mode {
	case modePermission:
		var b strings.Builder
		b.WriteString(promptTitleStyle.Render("Permission request"))
		b.WriteByte('\n')
		line := fmt.Sprintf("%s wants to run: %s", m.promptAgent, m.permission.Action)
		if m.permission.Reason != "" {
			line += "  (" + m.permission.Reason + ")"
		}
		b.WriteString(truncate(line, m.width-6))
		b.WriteByte('\n')
		b.WriteString(helpKeyStyle.Render("[y]") + " grant   " + helpKeyStyle.Render("[n]") + " deny")
		return promptBoxStyle.Width(m.width - 2).Render(b.String())

	case modeAnswering:
		var b strings.Builder
		b.WriteString(promptTitleStyle.Render("Question from "+m.promptAgent+": ") + truncate(m.question, m.width-30))
		b.WriteByte('\n')
		b.WriteString(m.answer.View())
		b.WriteByte('\n')
		b.WriteString(helpKeyStyle.Render("[enter]") + " send answer")
		return promptBoxStyle.Width(m.width - 2).Render(b.String())
	}
	return ""
}

func (m Model) renderStatusBar() string {
	var left string
	switch {
	case m.round == 0:
		left = " starting "
	case m.done:
		left = fmt.Sprintf(" %s in round %d/%d ", m.outcome, m.round, m.maxRounds)
	default:
		left = fmt.Sprintf(" round %d/%d ", m.round, m.maxRounds)
	}

	bar := ""
	if m.maxRounds > 0 {
		bar = m.progress.ViewAs(float64(m.round) / float64(m.maxRounds))
	}

	right := " ? help  q quit "

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(bar) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return statusBarStyle.Width(m.width).Render(left + bar + strings.Repeat(" ", gap) + right)
}

func (m Model) renderHelp() string {
	var b strings.Builder

	b.WriteString(fileHeaderStyle.Render("rally — Keyboard Shortcuts"))
	b.WriteString("\n\n")

	helpItems := []struct{ key, desc string }{
		{"↑/k", "Scroll diff up"},
		{"↓/j", "Scroll diff down"},
		{"n/Tab", "Next file"},
		{"N/S-Tab", "Previous file"},
		{"]", "Next hunk"},
		{"[", "Previous hunk"},
		{"pgup/pgdn", "Scroll event log"},
		{"y / n", "Grant / deny a permission request"},
		{"enter", "Send a clarification answer"},
		{"?", "Toggle this help"},
		{"q", "Cancel the rally, then quit"},
	}

	for _, item := range helpItems {
		b.WriteString(fmt.Sprintf("  %s  %s\n",
			helpKeyStyle.Width(12).Render(item.key),
			item.desc,
		))
	}

	b.WriteString("\n")
	b.WriteString(helpBarStyle.Render("Press ? to close help"))

	return b.String()
}

// Run starts the interface and blocks until the user exits it.
func Run(m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
