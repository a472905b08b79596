package views

import (
	"fmt"
	"time"

	"github.com/nuvashop/supportchat/internal/chat"
	"github.com/rivo/tview"
)

// ConversationList is the main conversation table.
type ConversationList struct {
	*tview.Table
	convs      []chat.Conversation
	selectedFn func() (int, int)
}

// NewConversationList creates a new conversation table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Conversations ")

	cl := &ConversationList{Table: table}
	cl.selectedFn = table.GetSelection
	return cl
}

// Update refreshes the table with new data.
func (cl *ConversationList) Update(convs []chat.Conversation) {
	cl.convs = convs
	cl.Clear()

	cl.SetCell(0, 0, tview.NewTableCell(" Subject").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Status").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Agent").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 3, tview.NewTableCell(" Updated").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, c := range convs {
		row := i + 1
		subject := c.Subject
		if c.Unread > 0 {
			subject = fmt.Sprintf("* %s (%d)", subject, c.Unread)
		}
		agent := c.AgentName
		if agent == "" {
			agent = "-"
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+subject).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 1, tview.NewTableCell(" "+statusLabel(c.Status)).SetMaxWidth(12))
		cl.SetCell(row, 2, tview.NewTableCell(" "+agent).SetMaxWidth(20).SetExpansion(1))
		cl.SetCell(row, 3, tview.NewTableCell(" "+formatTimestamp(c.UpdatedAt)).SetMaxWidth(12))
	}
}

// SelectedConversation returns the id of the highlighted row, or 0.
func (cl *ConversationList) SelectedConversation() int64 {
	row, _ := cl.selectedFn()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.convs) {
		return cl.convs[idx].ID
	}
	return 0
}

func statusLabel(s chat.Status) string {
	switch s {
	case chat.StatusPending:
		return "[yellow]pending[-]"
	case chat.StatusInProgress:
		return "[green]active[-]"
	case chat.StatusClosed:
		return "[gray]closed[-]"
	}
	return string(s)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
