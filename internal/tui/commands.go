package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/volleyhq/rally/internal/core"
)

// waitForEventCmd blocks on the rally's stream and delivers the next event
// as a message. Update re-arms it after every delivery until the stream
// closes.
func waitForEventCmd(events <-chan core.RallyEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}
