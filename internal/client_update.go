package internal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"livechat/internal/chat"
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := message.(type) {
	case tea.WindowSizeMsg:
		model.width = typed.Width
		return model, nil

	case tea.KeyMsg:
		if typed.Type == tea.KeyCtrlC {
			model.closeSession()
			return model, tea.Quit
		}
		return model.handleKey(typed)

	case transportMsg:
		model.handleTransport(typed)
		return model, model.waitInbox()

	case timerMsg:
		if model.session != nil && typed.serial == model.serial {
			model.session.Expire(typed.kind, typed.tag)
		}
		return model, model.waitInbox()

	case historyMsg:
		if model.session != nil && typed.serial == model.serial {
			model.session.ApplyHistory(typed.entries, typed.err)
		}
		return model, nil

	case sessionCheckedMsg:
		model.loading = false
		if typed.err != nil {
			if errors.Is(typed.err, errUnauthorized) {
				model.dropAccount("Saved session expired. Please log in again.")
				return model, nil
			}
			model.addNotice("Could not verify the saved session: " + describeError(typed.err))
			return model.showChannelMenu()
		}
		model.account.DisplayName = typed.account.DisplayName
		model.persistAccount()
		return model.startWithPreset()

	case authDoneMsg:
		model.loading = false
		if typed.err != nil {
			model.addNotice(describeError(typed.err))
			model.mode = modeAuthMenu
			model.blurPrompt()
			return model, nil
		}
		typed.account.Server = model.opts.JoinURL
		model.account = typed.account
		model.api = model.api.WithToken(typed.account.Token)
		model.persistAccount()
		if typed.intent == authIntentSignup {
			model.addNotice(fmt.Sprintf("Account %s created.", typed.account.Username))
		}
		return model.startWithPreset()

	case roomCheckedMsg:
		model.loading = false
		if typed.err != nil {
			model.addNotice("Could not check room: " + describeError(typed.err))
			return model, nil
		}
		if !typed.exists {
			model.addNotice(fmt.Sprintf("Room %s is new. Share its name to invite others.", typed.room))
		}
		return model.enterChat(chat.RoomChannel(typed.room, typed.room))

	case loggedOutMsg:
		model.loading = false
		model.account = nil
		model.api = model.api.WithToken("")
		model.mode = modeAuthMenu
		model.blurPrompt()
		model.addNotice("Logged out.")
		return model, nil
	}
	return model, nil
}

func (model *TUIModel) handleTransport(msg transportMsg) {
	if model.session == nil || msg.serial != model.serial {
		return
	}
	model.session.Dispatch(msg.event)
	if ev, ok := msg.event.(chat.Disconnected); ok && errors.Is(ev.Err, errUnauthorized) {
		model.closeSession()
		model.dropAccount("The server rejected your session. Please log in again.")
	}
}

func (model *TUIModel) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch model.mode {
	case modeAuthMenu:
		switch strings.ToLower(key.String()) {
		case "1", "l":
			return model.promptUsername(authIntentLogin)
		case "2", "s":
			return model.promptUsername(authIntentSignup)
		case "q", "3":
			return model, tea.Quit
		}
		return model, nil

	case modeAuthUsername:
		switch key.Type {
		case tea.KeyEsc:
			return model.showAuthMenu()
		case tea.KeyEnter:
			username := strings.TrimSpace(model.textInput.Value())
			if username == "" {
				model.addNotice("Username cannot be empty.")
				return model, nil
			}
			model.pendingUsername = username
			model.mode = modeAuthPassword
			focus := model.setPrompt("password> ", "Enter password…")
			model.textInput.EchoMode = textinput.EchoPassword
			model.textInput.EchoCharacter = '•'
			return model, focus
		}
		return model.updateInput(key)

	case modeAuthPassword:
		switch key.Type {
		case tea.KeyEsc:
			return model.showAuthMenu()
		case tea.KeyEnter:
			password := model.textInput.Value()
			if strings.TrimSpace(password) == "" {
				model.addNotice("Password cannot be empty.")
				return model, nil
			}
			model.loading = true
			model.blurPrompt()
			return model, model.authCmd(model.authIntent, model.pendingUsername, password)
		}
		return model.updateInput(key)

	case modeChannelMenu:
		switch strings.ToLower(key.String()) {
		case "1", "d":
			return model.promptChannel(chat.KindDirect)
		case "2", "r":
			return model.promptChannel(chat.KindRoom)
		case "l":
			model.loading = true
			return model, model.logoutCmd()
		case "q", "esc":
			return model, tea.Quit
		}
		return model, nil

	case modeChannelPrompt:
		switch key.Type {
		case tea.KeyEsc:
			return model.showChannelMenu()
		case tea.KeyEnter:
			target := strings.TrimSpace(model.textInput.Value())
			if model.pendingKind == chat.KindDirect {
				return model.enterChat(chat.DirectChannel(model.account.Username, target, target))
			}
			if target == "" {
				return model.enterChat(chat.RoomChannel("", ""))
			}
			model.loading = true
			return model, model.roomExistsCmd(target)
		}
		return model.updateInput(key)

	case modeChat:
		return model.handleChatKey(key)
	}
	return model, nil
}

func (model *TUIModel) handleChatKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		return model.leaveChat()
	case tea.KeyCtrlR:
		if model.session != nil && model.session.HistoryState() == chat.HistoryFailed {
			return model, model.fetchHistoryCmd()
		}
		return model, nil
	case tea.KeyEnter:
		text := strings.TrimSpace(model.textInput.Value())
		switch strings.ToLower(text) {
		case "/leave":
			return model.leaveChat()
		case "/quit", "/exit":
			model.closeSession()
			return model, tea.Quit
		}
		if model.session == nil {
			return model, nil
		}
		model.session.SetDraft(model.textInput.Value())
		if err := model.session.Submit(); err != nil {
			if !errors.Is(err, chat.ErrEmptyMessage) {
				model.addNotice(submitError(err))
			}
			return model, nil
		}
		model.textInput.SetValue("")
		return model, nil
	}
	next, cmd := model.updateInput(key)
	if model.session != nil {
		model.session.SetDraft(model.textInput.Value())
	}
	return next, cmd
}

func submitError(err error) string {
	switch {
	case errors.Is(err, chat.ErrMessageTooLong):
		return fmt.Sprintf("Message is longer than %d characters.", chat.MaxMessageLength)
	case errors.Is(err, chat.ErrNotConnected):
		return "Not connected yet. Your message was not sent."
	}
	return err.Error()
}

func (model *TUIModel) updateInput(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

// enterChat opens the session of ch and switches to the chat view.
func (model *TUIModel) enterChat(ch chat.Channel) (tea.Model, tea.Cmd) {
	model.loading = false
	historyCmd, err := model.openSession(ch)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrUnauthenticated):
			model.dropAccount("Please log in first.")
			return model, nil
		case errors.Is(err, chat.ErrUnaddressable):
			model.addNotice("No channel selected.")
		default:
			model.addNotice("Could not open the conversation: " + err.Error())
		}
		return model, nil
	}
	model.notices = nil
	model.mode = modeChat
	focus := model.setPrompt("> ", "Type a message…")
	return model, tea.Batch(focus, historyCmd)
}

func (model *TUIModel) leaveChat() (tea.Model, tea.Cmd) {
	model.closeSession()
	return model.showChannelMenu()
}

// startWithPreset opens the channel given on the command line, if any.
func (model *TUIModel) startWithPreset() (tea.Model, tea.Cmd) {
	peer, room := model.opts.Peer, model.opts.Room
	model.opts.Peer, model.opts.Room = "", ""
	switch {
	case peer != "":
		return model.enterChat(chat.DirectChannel(model.account.Username, peer, peer))
	case room != "":
		return model.enterChat(chat.RoomChannel(room, room))
	}
	return model.showChannelMenu()
}

func (model *TUIModel) promptUsername(intent authIntent) (tea.Model, tea.Cmd) {
	model.authIntent = intent
	model.mode = modeAuthUsername
	focus := model.setPrompt("user> ", "Enter username…")
	if model.opts.Username != "" {
		model.textInput.SetValue(model.opts.Username)
	}
	return model, focus
}

func (model *TUIModel) promptChannel(kind chat.Kind) (tea.Model, tea.Cmd) {
	model.pendingKind = kind
	model.mode = modeChannelPrompt
	if kind == chat.KindDirect {
		return model, model.setPrompt("peer> ", "Who do you want to talk to?")
	}
	return model, model.setPrompt("room> ", "Room name…")
}

func (model *TUIModel) showAuthMenu() (tea.Model, tea.Cmd) {
	model.mode = modeAuthMenu
	model.pendingUsername = ""
	model.blurPrompt()
	return model, nil
}

func (model *TUIModel) showChannelMenu() (tea.Model, tea.Cmd) {
	model.mode = modeChannelMenu
	model.blurPrompt()
	return model, nil
}

func (model *TUIModel) dropAccount(notice string) {
	model.account = nil
	model.api = model.api.WithToken("")
	if err := DeleteAccount(model.opts.SessionPath); err != nil {
		model.logger.Warn("delete session file", "err", err)
	}
	model.mode = modeAuthMenu
	model.blurPrompt()
	model.addNotice(notice)
}

func (model *TUIModel) persistAccount() {
	if model.opts.SessionPath == "" || model.account == nil {
		return
	}
	if err := SaveAccount(model.opts.SessionPath, *model.account); err != nil {
		model.logger.Warn("save session file", "err", err)
	}
}
