package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/nuvashop/supportchat/internal/bus"
	"github.com/nuvashop/supportchat/internal/chat"
	"github.com/nuvashop/supportchat/internal/engine"
	"github.com/nuvashop/supportchat/internal/tui/views"
	"github.com/rivo/tview"
)

// App is the support-chat console shell. Redraws are event-driven: the app
// subscribes to the bus and repaints from store snapshots, never from wire
// payloads directly.
type App struct {
	app      *tview.Application
	pages    *tview.Pages
	client   *engine.Client
	bus      *bus.Bus
	list     *views.ConversationList
	thread   *views.Thread
	composer *views.Composer
	status   *views.StatusBar
	form     *views.NewConversationForm
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewApp creates the console application.
func NewApp(c *engine.Client, b *bus.Bus, profileName string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:      tview.NewApplication(),
		pages:    tview.NewPages(),
		client:   c,
		bus:      b,
		list:     views.NewConversationList(),
		thread:   views.NewThread(),
		composer: views.NewComposer(),
		status:   views.NewStatusBar(),
		form:     views.NewNewConversationForm(),
		ctx:      ctx,
		cancel:   cancel,
	}

	a.status.SetProfile(profileName)
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.list.SetSelectedFunc(func(row, col int) {
		if id := a.list.SelectedConversation(); id != 0 {
			a.openConversation(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		convID := a.client.Store().Selected()
		if convID == 0 {
			return
		}
		go func() {
			if _, err := a.client.SendMessage(a.ctx, convID, text); err != nil {
				a.flash("Send failed: " + err.Error())
			}
			a.redraw()
		}()
	})

	a.composer.SetOnTyping(func(active bool) {
		if convID := a.client.Store().Selected(); convID != 0 {
			a.client.Typing(convID, active)
		}
	})

	a.form.SetOnSubmit(func(subject, message string) {
		go func() {
			if _, err := a.client.CreateConversation(a.ctx, subject, message); err != nil {
				a.flash("Create failed: " + err.Error())
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.form.Reset()
				a.showThread()
			})
			a.redraw()
		}()
	})
	a.form.SetOnCancel(func() {
		a.pages.SwitchToPage("list")
		a.app.SetFocus(a.list)
	})
}

func (a *App) setupLayout() {
	threadFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("list", a.list, true, true)
	a.pages.AddPage("thread", threadFlex, true, false)
	a.pages.AddPage("new", center(a.form, 60, 11), true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.status, 1, 0, false)

	a.app.SetRoot(root, true)
	a.app.SetInputCapture(a.handleKey)
}

func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	currentPage, _ := a.pages.GetFrontPage()

	if event.Key() == tcell.KeyEscape {
		switch currentPage {
		case "thread":
			a.client.CloseActive()
			fallthrough
		case "new":
			a.pages.SwitchToPage("list")
			a.app.SetFocus(a.list)
			a.redraw()
			return nil
		}
	}

	// Text inputs receive keys untouched.
	focused := a.app.GetFocus()
	if _, ok := focused.(*tview.InputField); ok {
		return event
	}

	if event.Key() != tcell.KeyRune {
		return event
	}

	switch event.Rune() {
	case 'q':
		a.app.Stop()
		return nil
	case 'R':
		go a.client.RetryConnection(a.ctx)
		return nil
	case 'n':
		a.pages.SwitchToPage("new")
		a.app.SetFocus(a.form)
		return nil
	case 'i':
		if currentPage == "thread" {
			a.app.SetFocus(a.composer.InputField)
			return nil
		}
	case 'a':
		if a.client.Identity().Agent && currentPage == "list" {
			if id := a.list.SelectedConversation(); id != 0 {
				go func() {
					if err := a.client.AssignToMe(a.ctx, id); err != nil {
						a.flash("Assign failed: " + err.Error())
					}
					a.redraw()
				}()
			}
			return nil
		}
	case 'C':
		if id := a.activeConversation(currentPage); id != 0 {
			go func() {
				if err := a.client.CloseConversation(a.ctx, id); err != nil {
					a.flash("Close failed: " + err.Error())
				}
				a.redraw()
			}()
			return nil
		}
	case 'x':
		if currentPage == "thread" {
			a.retryFailedSend()
			return nil
		}
	}

	return event
}

// activeConversation resolves the conversation a page-level action targets.
func (a *App) activeConversation(page string) int64 {
	if page == "thread" {
		return a.client.Store().Selected()
	}
	return a.list.SelectedConversation()
}

// retryFailedSend retries the most recent failed message in the open thread.
func (a *App) retryFailedSend() {
	convID := a.client.Store().Selected()
	if convID == 0 {
		return
	}
	msgs := a.client.Store().Messages(convID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Failed {
			tempID := msgs[i].TempID
			go func() {
				if _, err := a.client.RetryMessage(a.ctx, convID, tempID); err != nil {
					a.flash("Retry failed: " + err.Error())
				}
				a.redraw()
			}()
			return
		}
	}
}

func (a *App) openConversation(id int64) {
	go func() {
		if err := a.client.OpenConversation(a.ctx, id); err != nil {
			a.flash("Open failed: " + err.Error())
			return
		}
		a.app.QueueUpdateDraw(a.showThread)
	}()
}

// showThread paints the selected conversation and switches to it.
func (a *App) showThread() {
	st := a.client.Store()
	convID := st.Selected()
	if c, ok := st.Conversation(convID); ok {
		a.thread.SetSubject(c.Subject)
	}
	a.thread.Update(st.Messages(convID), a.client.Identity().UserID)
	a.pages.SwitchToPage("thread")
	a.app.SetFocus(a.composer.InputField)
}

func (a *App) flash(msg string) {
	a.app.QueueUpdateDraw(func() {
		a.status.SetFlash(msg)
	})
}

// redraw repaints the current page from store snapshots.
func (a *App) redraw() {
	a.app.QueueUpdateDraw(func() {
		st := a.client.Store()
		currentPage, _ := a.pages.GetFrontPage()
		switch currentPage {
		case "list":
			a.list.Update(st.Conversations())
		case "thread":
			convID := st.Selected()
			if c, ok := st.Conversation(convID); ok {
				a.thread.SetSubject(c.Subject)
				if c.Status == chat.StatusClosed {
					a.status.SetFlash("Conversation closed")
				}
			}
			a.thread.Update(st.Messages(convID), a.client.Identity().UserID)
		}
		a.status.SetConnection(a.client.Connection())
		a.status.SetUnread(st.AggregateUnread())
	})
}

// Run starts the console and blocks until quit.
func (a *App) Run() error {
	events, unsubscribe := a.bus.Subscribe(128,
		"store.", "conn.", "message.", "unread.", "conversation.")
	go func() {
		defer unsubscribe()
		for {
			select {
			case evt, ok := <-events:
				if !ok {
					return
				}
				if evt.Kind == bus.KindMessageSendFailed {
					a.flash("Message delivery failed")
				}
				a.redraw()
			case <-a.ctx.Done():
				return
			}
		}
	}()

	// The clock and flash expiry need an occasional repaint even when the
	// bus is quiet.
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.redraw()
			case <-a.ctx.Done():
				return
			}
		}
	}()

	a.redraw()
	return a.app.Run()
}

// Stop gracefully shuts down the console.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// center wraps a primitive in a fixed-size centered flex.
func center(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 0, true).
			AddItem(nil, 0, 1, false), width, 0, true).
		AddItem(nil, 0, 1, false)
}
