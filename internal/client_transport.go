package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livechat/internal/chat"
)

const defaultRetryDelay = 2 * time.Second

// TransportConfig describes where and as whom a transport connects.
type TransportConfig struct {
	JoinURL    string
	Token      string
	RetryDelay time.Duration
	Dialer     *websocket.Dialer
	Logger     *slog.Logger
}

// WSTransport is the websocket connection of one chat session. A background
// goroutine dials, reads and redials every RetryDelay until Close. Inbound
// frames and connection changes reach the session through deliver, which is
// expected to hand them to the event loop.
type WSTransport struct {
	cfg     TransportConfig
	deliver func(chat.Event)
	logger  *slog.Logger

	writeMutex sync.Mutex
	conn       *websocket.Conn

	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

var _ chat.Transport = (*WSTransport)(nil)

// DialTransport starts the connect loop and returns right away.
func DialTransport(cfg TransportConfig, deliver func(chat.Event)) (*WSTransport, error) {
	if _, err := buildJoinURL(cfg.JoinURL); err != nil {
		return nil, err
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &WSTransport{
		cfg:     cfg,
		deliver: deliver,
		logger:  logger,
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go t.run()
	return t, nil
}

func (t *WSTransport) run() {
	defer close(t.done)
	joinURL, _ := buildJoinURL(t.cfg.JoinURL)
	header := http.Header{}
	if t.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+t.cfg.Token)
	}
	for {
		conn, resp, err := t.cfg.Dialer.Dial(joinURL, header)
		if err == nil {
			if !t.attach(conn) {
				_ = conn.Close()
				return
			}
			t.deliver(chat.Connected{})
			err = t.readLoop(conn)
			t.detach(conn)
		} else if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			err = fmt.Errorf("%w: %v", errUnauthorized, err)
		}
		if t.isClosed() {
			return
		}
		t.logger.Debug("transport down", "err", err)
		t.deliver(chat.Disconnected{Err: err, Retrying: true})
		select {
		case <-time.After(t.cfg.RetryDelay):
		case <-t.closed:
			return
		}
	}
}

func (t *WSTransport) readLoop(conn *websocket.Conn) error {
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		ev, err := chat.Decode(payload)
		if err != nil {
			t.logger.Warn("dropping malformed frame", "err", err)
			continue
		}
		t.deliver(ev)
	}
}

func (t *WSTransport) attach(conn *websocket.Conn) bool {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()
	if t.isClosed() {
		return false
	}
	t.conn = conn
	return true
}

func (t *WSTransport) detach(conn *websocket.Conn) {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()
	if t.conn == conn {
		t.conn = nil
	}
	_ = conn.Close()
}

// Emit writes one event. It fails fast when no connection is up.
func (t *WSTransport) Emit(ev chat.Event) error {
	frame, err := chat.Encode(ev)
	if err != nil {
		return err
	}
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()
	if t.conn == nil {
		return chat.ErrNotConnected
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close stops the reconnect loop and closes the connection. Frames already
// written, such as a leave, go out before the close frame.
func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.writeMutex.Lock()
		if t.conn != nil {
			_ = t.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = t.conn.Close()
		}
		t.writeMutex.Unlock()
	})
	return nil
}

// Done is closed once the connect loop has exited.
func (t *WSTransport) Done() <-chan struct{} { return t.done }

func (t *WSTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func buildJoinURL(base string) (string, error) {
	if base == "" {
		return "", errors.New("server URL is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	return parsed.String(), nil
}
