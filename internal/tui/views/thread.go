package views

import (
	"fmt"

	"github.com/nuvashop/supportchat/internal/chat"
	"github.com/rivo/tview"
)

// Thread displays the messages of a single conversation.
type Thread struct {
	*tview.TextView
}

// NewThread creates a new message thread view.
func NewThread() *Thread {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &Thread{TextView: tv}
}

// SetSubject updates the title with the conversation subject.
func (t *Thread) SetSubject(subject string) {
	t.SetTitle(fmt.Sprintf(" %s ", subject))
}

// Update redraws the thread, oldest message first.
func (t *Thread) Update(msgs []chat.Message, selfID int64) {
	t.Clear()

	for _, m := range msgs {
		if m.IsSystem {
			_, _ = fmt.Fprintf(t, "[gray]-- %s --[-]\n\n", m.Body)
			continue
		}

		sender := fmt.Sprintf("user %d", m.SenderID)
		if m.SenderID == selfID {
			sender = "You"
		}
		marker := ""
		switch {
		case m.Failed:
			marker = " [red]failed, press x to retry[-]"
		case !m.Acknowledged():
			marker = " [gray]sending...[-]"
		}

		ts := formatTimestamp(m.CreatedAt)
		_, _ = fmt.Fprintf(t, "[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n", sender, ts, marker, m.Body)
	}

	t.ScrollToEnd()
}
