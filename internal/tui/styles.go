package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/volleyhq/rally/internal/core"
)

// Color palette.
var (
	colorRed     = lipgloss.Color("#ff5555")
	colorGreen   = lipgloss.Color("#50fa7b")
	colorYellow  = lipgloss.Color("#f1fa8c")
	colorBlue    = lipgloss.Color("#8be9fd")
	colorPurple  = lipgloss.Color("#bd93f9")
	colorOrange  = lipgloss.Color("#ffb86c")
	colorDim     = lipgloss.Color("#6272a4")
	colorBgLight = lipgloss.Color("#343746")
	colorFg      = lipgloss.Color("#f8f8f2")
	colorBorder  = lipgloss.Color("#44475a")
)

// Style definitions.
var (
	// File list styles
	fileListStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	fileItemStyle = lipgloss.NewStyle().
			Foreground(colorFg)

	fileItemSelectedStyle = lipgloss.NewStyle().
				Foreground(colorFg).
				Background(colorBorder).
				Bold(true)

	fileItemNewStyle = lipgloss.NewStyle().
				Foreground(colorGreen)

	fileItemDeletedStyle = lipgloss.NewStyle().
				Foreground(colorRed)

	// Diff pane styles
	diffViewStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	lineNumberStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			Width(4).
			Align(lipgloss.Right)

	addedLineStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	deletedLineStyle = lipgloss.NewStyle().
				Foreground(colorRed)

	hunkHeaderStyle = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true)

	fileHeaderStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true)

	// Event pane styles
	eventViewStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	roundHeaderStyle = lipgloss.NewStyle().
				Foreground(colorPurple).
				Bold(true)

	agentNameStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true)

	activityStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	approveStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	requestChangesStyle = lipgloss.NewStyle().
				Foreground(colorRed).
				Bold(true)

	commentVerdictStyle = lipgloss.NewStyle().
				Foreground(colorYellow).
				Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	// Permission and clarification prompt box
	promptBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(colorOrange).
			Padding(0, 1)

	promptTitleStyle = lipgloss.NewStyle().
				Foreground(colorOrange).
				Bold(true)

	// Status bar
	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorFg).
			Background(colorBgLight).
			Padding(0, 1)

	// Help
	helpBarStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	helpKeyStyle = lipgloss.NewStyle().
			Foreground(colorYellow)
)

// severityStyles grades review comment badges, most urgent first.
var severityStyles = map[core.CommentSeverity]lipgloss.Style{
	core.SeverityCritical:   lipgloss.NewStyle().Foreground(colorRed).Bold(true),
	core.SeverityMajor:      lipgloss.NewStyle().Foreground(colorOrange).Bold(true),
	core.SeverityMinor:      lipgloss.NewStyle().Foreground(colorYellow),
	core.SeveritySuggestion: lipgloss.NewStyle().Foreground(colorDim),
}

func severityBadge(s core.CommentSeverity) string {
	style, ok := severityStyles[s]
	if !ok {
		style = severityStyles[core.SeverityMinor]
	}
	return style.Render("[" + string(s) + "]")
}

func outcomeStyle(o core.Outcome) lipgloss.Style {
	switch o {
	case core.OutcomeApproved:
		return approveStyle
	case core.OutcomeExhausted:
		return commentVerdictStyle
	case core.OutcomeCanceled:
		return activityStyle
	default:
		return errorStyle
	}
}
