package views

import (
	"fmt"
	"time"

	"github.com/nuvashop/supportchat/internal/conn"
	"github.com/rivo/tview"
)

// StatusBar displays the profile, connection state, and unread total.
type StatusBar struct {
	*tview.TextView
	profile string
	state   conn.State
	unread  int
	flash   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetConnection updates the connection indicator.
func (sb *StatusBar) SetConnection(s conn.State) {
	sb.state = s
	sb.render()
}

// SetUnread updates the aggregate unread badge.
func (sb *StatusBar) SetUnread(n int) {
	sb.unread = n
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	var connLabel string
	switch {
	case sb.state.Connected:
		connLabel = "[green]online[-]"
	case sb.state.Down:
		connLabel = "[red]offline, press R to retry[-]"
	case sb.state.Attempt > 0:
		connLabel = fmt.Sprintf("[yellow]reconnecting (attempt %d)[-]", sb.state.Attempt)
	default:
		connLabel = "[gray]offline[-]"
	}

	unread := ""
	if sb.unread > 0 {
		unread = fmt.Sprintf(" | [yellow]%d unread[-]", sb.unread)
	}

	clock := time.Now().Format("15:04")

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s%s | %s", sb.profile, connLabel, unread, clock)
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sb.flash)
	}

	_, _ = fmt.Fprint(sb, line)
}
