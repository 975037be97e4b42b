package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"livechat/internal/chat"
)

var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).PaddingLeft(1)
	menuHotkeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(0, 1).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	ownBodyStyle       = messageBodyStyle.Copy().Foreground(lipgloss.Color("225"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	typingStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	presenceStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110"))
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

func (model *TUIModel) View() string {
	switch model.mode {
	case modeAuthMenu:
		return model.renderAuthMenuView()
	case modeAuthUsername, modeAuthPassword:
		title := "Log in"
		if model.authIntent == authIntentSignup {
			title = "Create an account"
		}
		hint := "Enter your username"
		if model.mode == modeAuthPassword {
			hint = "Enter your password"
		}
		return model.renderPrompt(title, hint)
	case modeChannelMenu:
		return model.renderChannelMenuView()
	case modeChannelPrompt:
		if model.pendingKind == chat.KindDirect {
			return model.renderPrompt("Direct message", "Enter the username of the person to talk to.")
		}
		return model.renderPrompt("Join a room", "Enter a room name. New names create the room.")
	default:
		return model.renderChatView()
	}
}

func (model *TUIModel) renderAuthMenuView() string {
	sections := []string{
		lipgloss.JoinVertical(lipgloss.Left,
			appTitleStyle.Render("LiveChat"),
			subtitleStyle.Render("Real-time conversations from your terminal")),
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
			renderMenuOption("1", "Log in"),
			renderMenuOption("2", "Sign up"),
			renderMenuOption("q", "Quit"),
		)),
	}
	if model.loading {
		sections = append(sections, connectingStyle.Render("Working…"))
	}
	if notices := model.renderNotices(); notices != "" {
		sections = append(sections, notices)
	}
	sections = append(sections, menuHintStyle.Render("1) Log in  •  2) Sign up  •  q) Quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderChannelMenuView() string {
	name := ""
	if model.account != nil {
		name = model.account.Username
		if model.account.DisplayName != "" && model.account.DisplayName != name {
			name = fmt.Sprintf("%s (%s)", model.account.DisplayName, name)
		}
	}
	sections := []string{
		appTitleStyle.Render(fmt.Sprintf("Welcome, %s", name)),
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
			renderMenuOption("1", "Direct message"),
			renderMenuOption("2", "Join a room"),
			renderMenuOption("l", "Log out"),
			renderMenuOption("q", "Quit"),
		)),
	}
	if model.loading {
		sections = append(sections, connectingStyle.Render("Working…"))
	}
	if notices := model.renderNotices(); notices != "" {
		sections = append(sections, notices)
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderPrompt(title, hint string) string {
	sections := []string{appTitleStyle.Render(title), menuHintStyle.Render(hint)}
	if model.loading {
		sections = append(sections, connectingStyle.Render("Working…"))
	}
	if notices := model.renderNotices(); notices != "" {
		sections = append(sections, notices)
	}
	sections = append(sections, inputBoxStyle.Render(model.textInput.View()), menuHintStyle.Render("Enter to confirm • Esc back"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderChatView() string {
	session := model.session
	if session == nil {
		return systemMessageStyle.Render("No channel selected.")
	}
	ch := session.Channel()

	headerSegments := []string{"LiveChat"}
	if ch.Kind == chat.KindDirect {
		headerSegments = append(headerSegments, fmt.Sprintf("Chat with %s", ch.DisplayName))
	} else {
		headerSegments = append(headerSegments, fmt.Sprintf("Room %s", ch.DisplayName))
	}
	headerSegments = append(headerSegments, fmt.Sprintf("User %s", session.Self().ID))
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	sections := []string{header, renderConnState(session.State())}
	if line := renderHistoryState(session); line != "" {
		sections = append(sections, line)
	}
	if ch.Kind == chat.KindRoom {
		if people := session.Presence(); len(people) > 0 {
			sections = append(sections, presenceStyle.Render("Here: "+strings.Join(people, ", ")))
		}
	}

	var lines []string
	for _, msg := range session.Messages() {
		lines = append(lines, renderChatMessage(msg))
	}
	if len(lines) == 0 {
		lines = append(lines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}
	sections = append(sections, messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))

	if typing, name := session.PeerTyping(); typing {
		sections = append(sections, typingStyle.Render(fmt.Sprintf("%s is typing…", name)))
	}
	if notices := renderSessionNotices(session.Notices()); notices != "" {
		sections = append(sections, notices)
	}
	if notices := model.renderNotices(); notices != "" {
		sections = append(sections, notices)
	}
	sections = append(sections,
		inputBoxStyle.Render(model.textInput.View()),
		menuHintStyle.Render("Enter send • Esc or /leave back • Ctrl+R retry history • Ctrl+C quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderConnState(state chat.ConnState) string {
	switch state {
	case chat.StateConnected:
		return connectedStyle.Render("Connected")
	case chat.StateReconnecting:
		return connectingStyle.Render("Reconnecting…")
	case chat.StateConnecting:
		return connectingStyle.Render("Connecting…")
	}
	return errorStyle.Render("Disconnected")
}

func renderHistoryState(session *chat.Session) string {
	switch session.HistoryState() {
	case chat.HistoryLoading:
		return connectingStyle.Render("Loading history…")
	case chat.HistoryFailed:
		return errorStyle.Render(fmt.Sprintf("History unavailable (%v). Press Ctrl+R to retry.", session.HistoryErr()))
	}
	return ""
}

func renderMenuOption(hotkey string, label string) string {
	key := menuHotkeyStyle.Render(hotkey)
	return lipgloss.JoinHorizontal(lipgloss.Left, key, menuItemStyle.Render(label))
}

func (model *TUIModel) renderNotices() string {
	if len(model.notices) == 0 {
		return ""
	}
	lines := make([]string, 0, len(model.notices))
	for _, text := range model.notices {
		lines = append(lines, systemMessageStyle.Render(text))
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// renderSessionNotices shows the last few session notices.
func renderSessionNotices(notices []chat.Notice) string {
	const shown = 3
	if len(notices) == 0 {
		return ""
	}
	if len(notices) > shown {
		notices = notices[len(notices)-shown:]
	}
	lines := make([]string, 0, len(notices))
	for _, n := range notices {
		stamp := timestampStyle.Render(fmt.Sprintf("[%s]", chat.FormatDisplayTime(n.At)))
		style := systemMessageStyle
		if n.Level == chat.NoticeError {
			style = errorStyle.Copy().MarginTop(0)
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Left, stamp, " ", style.Render(n.Text)))
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// renderChatMessage renders one log line; own messages are highlighted.
func renderChatMessage(msg chat.Message) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", msg.DisplayTime))
	nameStyle := usernameStyle.Copy().Foreground(colorForUser(msg.SenderID))
	bodyStyle := messageBodyStyle
	name := msg.SenderName
	if msg.IsOwn {
		nameStyle = activeUserStyle
		bodyStyle = ownBodyStyle
		name = "you"
	}
	body := bodyStyle.Render(strings.ReplaceAll(msg.Body, "\n", "\n   "))
	return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", nameStyle.Render(name), ": ", body)
}

func colorForUser(name string) lipgloss.Color {
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
