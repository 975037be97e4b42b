package internal

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"livechat/internal/chat"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// collect returns a deliver func feeding a buffered channel that is released
// when the test ends.
func collect(t *testing.T) (func(chat.Event), <-chan chat.Event) {
	events := make(chan chat.Event, 128)
	stopped := make(chan struct{})
	t.Cleanup(func() { close(stopped) })
	return func(ev chat.Event) {
		select {
		case events <- ev:
		case <-stopped:
		}
	}, events
}

func waitEvent(t *testing.T, events <-chan chat.Event, match func(chat.Event) bool) chat.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for an event")
		}
	}
}

// kickAll drops every server-side connection joined to channel.
func kickAll(env *testEnv, channel string) {
	env.server.hub.mutex.RLock()
	room := env.server.hub.rooms[channel]
	env.server.hub.mutex.RUnlock()
	if room == nil {
		return
	}
	room.mutex.RLock()
	defer room.mutex.RUnlock()
	for client := range room.clients {
		client.kick()
	}
}

func TestDialTransportRejectsBadURL(t *testing.T) {
	for _, joinURL := range []string{"", "http://127.0.0.1/join", "://bad"} {
		if _, err := DialTransport(TransportConfig{JoinURL: joinURL}, func(chat.Event) {}); err == nil {
			t.Errorf("DialTransport(%q) should fail", joinURL)
		}
	}
}

func TestTransportRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	deliver, events := collect(t)

	transport, err := DialTransport(TransportConfig{
		JoinURL:    env.joinURL,
		Token:      alice.token,
		RetryDelay: 20 * time.Millisecond,
		Logger:     quietLogger,
	}, deliver)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitEvent(t, events, isType(chat.TypeConnected))

	if err := transport.Emit(chat.Join{Channel: "lobby", Kind: chat.KindRoom, User: "alice"}); err != nil {
		t.Fatalf("emit join: %v", err)
	}
	waitEvent(t, events, isPresence("alice"))
	if err := transport.Emit(chat.MessageEvent{Channel: "lobby", Kind: chat.KindRoom, Sender: "alice", Body: "ping"}); err != nil {
		t.Fatalf("emit message: %v", err)
	}
	msg := waitEvent(t, events, isType(chat.TypeMessage)).(chat.MessageEvent)
	if msg.Body != "ping" || msg.ID == "" {
		t.Fatalf("unexpected echo %+v", msg)
	}

	kickAll(env, "lobby")
	lost := waitEvent(t, events, isType(chat.TypeDisconnected)).(chat.Disconnected)
	if !lost.Retrying {
		t.Fatalf("transport should keep retrying: %+v", lost)
	}
	waitEvent(t, events, isType(chat.TypeConnected))

	if err := transport.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	select {
	case <-transport.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("connect loop did not exit")
	}
	if err := transport.Emit(chat.Typing{Channel: "lobby", User: "alice"}); !errors.Is(err, chat.ErrNotConnected) {
		t.Fatalf("emit after close = %v, want ErrNotConnected", err)
	}
}

func TestTransportReportsUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	deliver, events := collect(t)
	transport, err := DialTransport(TransportConfig{
		JoinURL:    env.joinURL,
		Token:      "bogus",
		RetryDelay: 20 * time.Millisecond,
		Logger:     quietLogger,
	}, deliver)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer transport.Close()

	ev := waitEvent(t, events, isType(chat.TypeDisconnected)).(chat.Disconnected)
	if !errors.Is(ev.Err, errUnauthorized) {
		t.Fatalf("disconnect err = %v, want errUnauthorized", ev.Err)
	}
}

// TestSessionOverWebsocket drives a chat.Session against a live server the
// way the TUI does: every transport event is dispatched from one goroutine.
func TestSessionOverWebsocket(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	deliver, events := collect(t)

	session := chat.NewSession(chat.Config{
		Channel: chat.RoomChannel("lobby", "Lobby"),
		Self:    chat.Identity{ID: "alice", Authenticated: true},
		Logger:  quietLogger,
	})
	err := session.Open(func(chat.Channel) (chat.Transport, error) {
		transport, err := DialTransport(TransportConfig{
			JoinURL:    env.joinURL,
			Token:      alice.token,
			RetryDelay: 20 * time.Millisecond,
			Logger:     quietLogger,
		}, deliver)
		if err != nil {
			return nil, err
		}
		return transport, nil
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer session.Close()

	pump := func(what string, cond func() bool) {
		t.Helper()
		timeout := time.After(3 * time.Second)
		for !cond() {
			select {
			case ev := <-events:
				session.Dispatch(ev)
			case <-timeout:
				t.Fatalf("timed out waiting for %s", what)
			}
		}
	}
	participants := func(want ...string) func() bool {
		return func() bool { return reflect.DeepEqual(session.Participants(), want) }
	}

	pump("own presence", participants("alice"))
	if session.State() != chat.StateConnected || !session.Joined() {
		t.Fatalf("state = %v joined = %v", session.State(), session.Joined())
	}

	bobConn := env.dial(t, bob)
	sendEvent(t, bobConn, chat.Join{Channel: "lobby", Kind: chat.KindRoom, User: "bob"})
	pump("bob in presence", participants("alice", "bob"))

	sendEvent(t, bobConn, chat.MessageEvent{Channel: "lobby", Kind: chat.KindRoom, Sender: "bob", Body: "hello alice"})
	pump("bob's message", func() bool { return len(session.Messages()) == 1 })
	if got := session.Messages()[0]; got.IsOwn || got.SenderID != "bob" || got.Body != "hello alice" {
		t.Fatalf("unexpected message %+v", got)
	}

	session.SetDraft("hi bob")
	if err := session.Submit(); err != nil {
		t.Fatalf("submit: %v", err)
	}
	echo := readUntil(t, bobConn, isType(chat.TypeMessage)).(chat.MessageEvent)
	for echo.Sender != "alice" {
		echo = readUntil(t, bobConn, isType(chat.TypeMessage)).(chat.MessageEvent)
	}
	if echo.Body != "hi bob" || echo.RoomName != "Lobby" {
		t.Fatalf("unexpected message at bob %+v", echo)
	}
	pump("own echo", func() bool { return len(session.Messages()) == 2 })
	if !session.Messages()[1].IsOwn {
		t.Fatalf("echo of our own message should be marked own")
	}

	kickAll(env, "lobby")
	reconnected := func() bool {
		for _, n := range session.Notices() {
			if n.Text == "Reconnected." {
				return session.State() == chat.StateConnected
			}
		}
		return false
	}
	pump("reconnect", reconnected)
	pump("presence after rejoin", participants("alice"))

	if err := session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	eventually(t, "the room to empty", func() bool { return !env.server.Hub().Exists("lobby") })
}
