package views

import (
	"github.com/rivo/tview"
)

// NewConversationForm collects a subject and opening message.
type NewConversationForm struct {
	*tview.Form
	onSubmit func(subject, message string)
	onCancel func()
}

// NewNewConversationForm creates the new-conversation form.
func NewNewConversationForm() *NewConversationForm {
	f := &NewConversationForm{Form: tview.NewForm()}
	f.SetBorder(true).SetTitle(" New conversation ")

	f.AddInputField("Subject", "", 0, nil, nil)
	f.AddInputField("Message", "", 0, nil, nil)
	f.AddButton("Start", func() {
		subject := f.GetFormItemByLabel("Subject").(*tview.InputField).GetText()
		message := f.GetFormItemByLabel("Message").(*tview.InputField).GetText()
		if subject == "" || message == "" {
			return
		}
		if f.onSubmit != nil {
			f.onSubmit(subject, message)
		}
	})
	f.AddButton("Cancel", func() {
		if f.onCancel != nil {
			f.onCancel()
		}
	})
	return f
}

// Reset clears the form fields.
func (f *NewConversationForm) Reset() {
	f.GetFormItemByLabel("Subject").(*tview.InputField).SetText("")
	f.GetFormItemByLabel("Message").(*tview.InputField).SetText("")
}

// SetOnSubmit sets the submit callback.
func (f *NewConversationForm) SetOnSubmit(fn func(subject, message string)) {
	f.onSubmit = fn
}

// SetOnCancel sets the cancel callback.
func (f *NewConversationForm) SetOnCancel(fn func()) {
	f.onCancel = fn
}
