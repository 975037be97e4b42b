package internal

import (
	"context"
	"errors"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"livechat/internal/chat"
)

// Messages fed back into Update. The serial ties session-scoped results to
// the session that started them so late arrivals from a closed one drop.
type (
	transportMsg struct {
		serial int
		event  chat.Event
	}
	timerMsg struct {
		serial int
		kind   chat.TimerKind
		tag    uint64
	}
	historyMsg struct {
		serial  int
		entries []chat.MessageEvent
		err     error
	}
	sessionCheckedMsg struct {
		account *Account
		err     error
	}
	authDoneMsg struct {
		account *Account
		intent  authIntent
		err     error
	}
	roomCheckedMsg struct {
		room   string
		exists bool
		err    error
	}
	loggedOutMsg struct{}
)

// waitInbox blocks on the inbox. Update re-arms it after every inbox message,
// so exactly one waiter is outstanding.
func (model *TUIModel) waitInbox() tea.Cmd {
	inbox := model.inbox
	return func() tea.Msg {
		return <-inbox
	}
}

// post hands msg to the event loop unless stop closes first.
func post(inbox chan<- tea.Msg, stop <-chan struct{}, msg tea.Msg) {
	select {
	case inbox <- msg:
	case <-stop:
	}
}

// loopScheduler arms real timers whose expiry is posted to the event loop.
type loopScheduler struct {
	inbox  chan<- tea.Msg
	stop   <-chan struct{}
	serial int
}

func (s loopScheduler) After(d time.Duration, kind chat.TimerKind, tag uint64) chat.Timer {
	return time.AfterFunc(d, func() {
		post(s.inbox, s.stop, timerMsg{serial: s.serial, kind: kind, tag: tag})
	})
}

// openSession builds and opens the session of ch. Precondition failures come
// back as errors and leave no session behind.
func (model *TUIModel) openSession(ch chat.Channel) (tea.Cmd, error) {
	model.closeSession()
	model.serial++
	serial := model.serial
	stop := make(chan struct{})
	inbox := model.inbox

	session := chat.NewSession(chat.Config{
		Channel:   ch,
		Self:      model.account.ChatIdentity(),
		Scheduler: loopScheduler{inbox: inbox, stop: stop, serial: serial},
		Logger:    model.logger,
	})
	token := ""
	if model.account != nil {
		token = model.account.Token
	}
	dial := func(chat.Channel) (chat.Transport, error) {
		transport, err := DialTransport(TransportConfig{
			JoinURL:    model.opts.JoinURL,
			Token:      token,
			RetryDelay: model.opts.RetryDelay,
			Logger:     model.logger,
		}, func(ev chat.Event) {
			post(inbox, stop, transportMsg{serial: serial, event: ev})
		})
		if err != nil {
			return nil, err
		}
		return transport, nil
	}
	if err := session.Open(dial); err != nil {
		close(stop)
		return nil, err
	}
	model.session = session
	model.stop = stop
	return model.fetchHistoryCmd(), nil
}

// closeSession tears the current session down; safe to call at any time.
func (model *TUIModel) closeSession() {
	if model.session == nil {
		return
	}
	if err := model.session.Close(); err != nil {
		model.logger.Warn("close session", "err", err)
	}
	close(model.stop)
	model.session = nil
	model.stop = nil
}

func (model *TUIModel) fetchHistoryCmd() tea.Cmd {
	if model.session == nil {
		return nil
	}
	channel := model.session.BeginHistory()
	serial := model.serial
	api := model.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		entries, err := api.FetchHistory(ctx, channel)
		return historyMsg{serial: serial, entries: entries, err: err}
	}
}

func (model *TUIModel) verifySessionCmd() tea.Cmd {
	api := model.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		account, err := api.Me(ctx)
		return sessionCheckedMsg{account: account, err: err}
	}
}

func (model *TUIModel) authCmd(intent authIntent, username, password string) tea.Cmd {
	api := model.api.WithToken("")
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*httpTimeout)
		defer cancel()
		if intent == authIntentSignup {
			if err := api.Signup(ctx, username, password, ""); err != nil {
				return authDoneMsg{intent: intent, err: err}
			}
		}
		account, err := api.Login(ctx, username, password)
		return authDoneMsg{account: account, intent: intent, err: err}
	}
}

func (model *TUIModel) roomExistsCmd(room string) tea.Cmd {
	api := model.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		exists, err := api.RoomExists(ctx, room)
		return roomCheckedMsg{room: room, exists: exists, err: err}
	}
}

func (model *TUIModel) logoutCmd() tea.Cmd {
	api := model.api
	path := model.opts.SessionPath
	logger := model.logger
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		if err := api.Logout(ctx); err != nil {
			logger.Warn("logout", "err", err)
		}
		if err := DeleteAccount(path); err != nil {
			logger.Warn("delete session file", "err", err)
		}
		return loggedOutMsg{}
	}
}

// describeError turns request errors into one notice line.
func describeError(err error) string {
	var status *statusError
	switch {
	case errors.Is(err, errUnauthorized):
		return "Your session is no longer valid. Please log in again."
	case errors.As(err, &status):
		return strings.TrimSpace(status.Message)
	}
	return err.Error()
}
