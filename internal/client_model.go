package internal

import (
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"livechat/internal/chat"
)

// ClientOptions configures the TUI.
type ClientOptions struct {
	JoinURL     string
	SessionPath string
	Username    string
	Peer        string
	Room        string
	RetryDelay  time.Duration
	Logger      *slog.Logger
}

// TUIModel is the bubbletea model of the client. It owns at most one
// chat.Session, the one of the channel on screen, and drives it from Update.
type TUIModel struct {
	opts      ClientOptions
	logger    *slog.Logger
	api       *APIClient
	account   *Account
	textInput textinput.Model
	mode      appMode
	loading   bool
	notices   []string
	width     int

	authIntent      authIntent
	pendingUsername string
	pendingKind     chat.Kind

	inbox   chan tea.Msg
	serial  int
	stop    chan struct{}
	session *chat.Session
}

type appMode int

const (
	modeAuthMenu appMode = iota
	modeAuthUsername
	modeAuthPassword
	modeChannelMenu
	modeChannelPrompt
	modeChat
)

type authIntent int

const (
	authIntentLogin authIntent = iota
	authIntentSignup
)

const maxMenuNotices = 5

func NewTUIModel(opts ClientOptions) (*TUIModel, error) {
	api, err := NewAPIClient(opts.JoinURL)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	input := textinput.New()
	input.CharLimit = 0
	input.Prompt = ""

	model := &TUIModel{
		opts:      opts,
		logger:    logger,
		api:       api,
		textInput: input,
		mode:      modeAuthMenu,
		inbox:     make(chan tea.Msg, 64),
	}
	if opts.SessionPath != "" {
		account, err := LoadAccount(opts.SessionPath)
		if err != nil {
			logger.Warn("ignoring saved session", "path", opts.SessionPath, "err", err)
		}
		if account != nil && (account.Server == "" || account.Server == opts.JoinURL) {
			model.account = account
			model.api = api.WithToken(account.Token)
			model.loading = true
		}
	}
	return model, nil
}

func (model *TUIModel) Init() tea.Cmd {
	cmds := []tea.Cmd{model.waitInbox()}
	if model.account != nil {
		cmds = append(cmds, model.verifySessionCmd())
	}
	return tea.Batch(cmds...)
}

func (model *TUIModel) addNotice(text string) {
	model.notices = append(model.notices, text)
	if len(model.notices) > maxMenuNotices {
		model.notices = model.notices[len(model.notices)-maxMenuNotices:]
	}
}

func (model *TUIModel) setPrompt(prompt, placeholder string) tea.Cmd {
	model.textInput.SetValue("")
	model.textInput.Prompt = prompt
	model.textInput.Placeholder = placeholder
	model.textInput.EchoMode = textinput.EchoNormal
	return model.textInput.Focus()
}

func (model *TUIModel) blurPrompt() {
	model.textInput.SetValue("")
	model.textInput.Blur()
	model.textInput.Prompt = ""
	model.textInput.Placeholder = ""
	model.textInput.EchoMode = textinput.EchoNormal
}

// RunClient starts the TUI and blocks until it exits.
func RunClient(opts ClientOptions) error {
	model, err := NewTUIModel(opts)
	if err != nil {
		return err
	}
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	model.closeSession()
	return err
}
