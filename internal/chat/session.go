package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ConnState is the connection health a session reflects.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "disconnected"
}

var (
	ErrUnaddressable   = errors.New("no channel selected")
	ErrUnauthenticated = errors.New("not authenticated")
	ErrNotConnected    = errors.New("not connected")
	ErrSessionOpen     = errors.New("session already open")
	ErrSessionClosed   = errors.New("session closed")
)

// maxNotices caps the notice log kept for rendering.
const maxNotices = 50

// Identity is the local user as reported by the identity provider.
type Identity struct {
	ID            string
	DisplayName   string
	Authenticated bool
}

func (i Identity) name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.ID
}

// Transport is the persistent connection of one session. Emit must not block
// the event loop.
type Transport interface {
	Emit(Event) error
	Close() error
}

// DialFunc creates the transport for a channel. It returns as soon as the
// transport exists; the Connected event arrives later through Dispatch.
type DialFunc func(Channel) (Transport, error)

// HistoryFetcher returns the stored messages of a channel in time order.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, channelID string) ([]MessageEvent, error)
}

type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarn
	NoticeError
)

// Notice is a passive, user-visible status line.
type Notice struct {
	Level NoticeLevel
	Text  string
	At    time.Time
}

// Config carries what a session needs beyond the transport.
type Config struct {
	Channel   Channel
	Self      Identity
	Scheduler Scheduler
	Now       func() time.Time
	Logger    *slog.Logger
}

// Session is one open channel view. It owns the transport, registers the
// inbound listeners and keeps the merged message stream, typing, presence and
// connection state. A Session is not safe for concurrent use: every call must
// come from the event loop.
type Session struct {
	channel   Channel
	self      Identity
	now       func() time.Time
	logger    *slog.Logger
	transport Transport
	bus       *bus
	offs      []func()

	state  ConnState
	joined bool
	opened bool
	closed bool

	merger   *Merger
	typing   *TypingState
	remote   *remoteTyping
	presence *PresenceSet
	draft    string
	notices  []Notice
}

func NewSession(cfg Config) *Session {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sched := cfg.Scheduler
	if sched == nil {
		sched = nopScheduler{}
	}
	return &Session{
		channel:  cfg.Channel,
		self:     cfg.Self,
		now:      now,
		logger:   logger.With("channel", cfg.Channel.ID),
		bus:      newBus(),
		merger:   NewMerger(cfg.Self.ID),
		typing:   newTypingState(sched),
		remote:   newRemoteTyping(sched),
		presence: NewPresenceSet(cfg.Self.ID),
	}
}

// Check reports why the session could not be opened, if it could not.
func (s *Session) Check() error {
	switch {
	case s.closed:
		return ErrSessionClosed
	case s.opened:
		return ErrSessionOpen
	case !s.self.Authenticated || s.self.ID == "":
		return ErrUnauthenticated
	case !s.channel.Addressable():
		return ErrUnaddressable
	}
	return nil
}

// Open dials the transport and registers the inbound listeners. The caller
// must route every transport event to Dispatch and defer Close.
func (s *Session) Open(dial DialFunc) error {
	if err := s.Check(); err != nil {
		return err
	}
	transport, err := dial(s.channel)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.channel.ID, err)
	}
	s.transport = transport
	s.opened = true
	s.state = StateConnecting

	s.listen(TypeConnected, s.onConnected)
	s.listen(TypeDisconnected, s.onDisconnected)
	s.listen(TypeMessage, s.onMessage)
	s.listen(TypeError, s.onError)
	switch s.channel.Kind {
	case KindDirect:
		s.listen(TypeTyping, s.onTyping)
		s.listen(TypeStopTyping, s.onStopTyping)
	case KindRoom:
		s.listen(TypePresence, s.onPresence)
		s.listen(TypeSystem, s.onSystem)
	}
	s.logger.Debug("session opened", "kind", s.channel.Kind, "user", s.self.ID)
	return nil
}

func (s *Session) listen(t EventType, h Handler) {
	s.offs = append(s.offs, s.bus.on(t, h))
}

// Dispatch feeds one inbound event to the listeners. Events scoped to another
// channel, and anything after Close, are ignored. It reports whether a
// listener ran.
func (s *Session) Dispatch(ev Event) bool {
	if ev == nil {
		return false
	}
	if ch := ChannelOf(ev); ch != "" && ch != s.channel.ID {
		return false
	}
	return s.bus.dispatch(ev)
}

// Close leaves the channel, removes every listener, stops the timers and
// closes the transport. Calls after the first do nothing.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.opened {
		return nil
	}
	if s.joined {
		if s.typing.Force() {
			s.emit(s.stopTypingEvent())
		}
		s.emit(Leave{Channel: s.channel.ID, Kind: s.channel.Kind, User: s.self.ID})
	}
	s.typing.Force()
	s.remote.clear()
	for _, off := range s.offs {
		off()
	}
	s.offs = nil
	s.joined = false
	s.state = StateDisconnected
	s.presence.clear()
	s.merger.Reset()

	err := s.transport.Close()
	s.logger.Debug("session closed")
	if err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

// Expire handles a fired timer.
func (s *Session) Expire(kind TimerKind, tag uint64) {
	if s.closed {
		return
	}
	switch kind {
	case TimerSelfTyping:
		if s.typing.Expire(tag) && s.joined {
			s.emit(s.stopTypingEvent())
		}
	case TimerRemoteTyping:
		s.remote.expire(tag)
	}
}

// SetDraft records the input buffer. Any change while connected counts as a
// keystroke for the typing indicator.
func (s *Session) SetDraft(text string) {
	if text == s.draft {
		return
	}
	s.draft = text
	if s.closed || s.state != StateConnected {
		return
	}
	if s.typing.Keystroke() {
		s.emit(Typing{Channel: s.channel.ID, User: s.self.ID, DisplayName: s.self.name()})
	}
}

func (s *Session) Draft() string { return s.draft }

// Submit sends the draft. Rejections return a sentinel and emit nothing; the
// draft is kept so the user can fix it. A sent message shows up only when the
// server echoes it back.
func (s *Session) Submit() error {
	body, err := ValidateBody(s.draft)
	if err != nil {
		return err
	}
	if s.closed || s.state != StateConnected || s.transport == nil {
		return ErrNotConnected
	}
	if s.typing.Force() {
		s.emit(s.stopTypingEvent())
	}
	msg := MessageEvent{
		Channel:     s.channel.ID,
		Kind:        s.channel.Kind,
		Sender:      s.self.ID,
		SenderName:  s.self.name(),
		Body:        body,
		DisplayTime: FormatDisplayTime(s.now()),
	}
	switch s.channel.Kind {
	case KindDirect:
		msg.Receiver = s.channel.Peer
		msg.ReceiverName = s.channel.DisplayName
	case KindRoom:
		msg.RoomName = s.channel.DisplayName
	}
	s.draft = ""
	s.emit(msg)
	return nil
}

// BeginHistory marks a history fetch as started and returns the channel to
// fetch. The fetch itself runs outside the event loop.
func (s *Session) BeginHistory() string {
	s.merger.BeginHistory()
	return s.channel.ID
}

// ApplyHistory installs a fetch result. A failure is kept for a retry.
func (s *Session) ApplyHistory(entries []MessageEvent, err error) {
	if s.closed {
		return
	}
	if err != nil {
		s.logger.Warn("history fetch failed", "err", err)
	}
	s.merger.ApplyHistory(entries, err)
}

func (s *Session) onConnected(Event) {
	wasReconnecting := s.state == StateReconnecting
	s.state = StateConnected
	s.emit(Join{Channel: s.channel.ID, Kind: s.channel.Kind, User: s.self.ID})
	s.joined = true
	if s.channel.Kind == KindRoom {
		s.emit(Announce{Channel: s.channel.ID, User: s.self.ID, DisplayName: s.self.name()})
	}
	if wasReconnecting {
		s.notify(NoticeInfo, "Reconnected.")
	}
}

func (s *Session) onDisconnected(ev Event) {
	e := ev.(Disconnected)
	s.joined = false
	s.typing.Force()
	s.remote.clear()
	if e.Retrying {
		s.state = StateReconnecting
		s.notify(NoticeWarn, "Connection lost. Reconnecting…")
	} else {
		s.state = StateDisconnected
		s.notify(NoticeWarn, "Connection lost.")
	}
	if e.Err != nil {
		s.logger.Info("transport disconnected", "err", e.Err, "retrying", e.Retrying)
	}
}

func (s *Session) onMessage(ev Event) {
	s.merger.Append(ev.(MessageEvent))
}

func (s *Session) onTyping(ev Event) {
	e := ev.(Typing)
	if e.User == s.self.ID {
		return
	}
	name := e.DisplayName
	if name == "" {
		name = e.User
	}
	s.remote.start(name)
}

func (s *Session) onStopTyping(ev Event) {
	if ev.(StopTyping).User == s.self.ID {
		return
	}
	s.remote.clear()
}

func (s *Session) onPresence(ev Event) {
	s.presence.Replace(ev.(Presence).Participants)
}

func (s *Session) onSystem(ev Event) {
	e := ev.(SystemNotice)
	at := e.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	s.notices = appendNotice(s.notices, Notice{Level: NoticeInfo, Text: e.Text, At: at})
}

func (s *Session) onError(ev Event) {
	s.notify(NoticeError, ev.(ErrorEvent).Error)
}

func (s *Session) stopTypingEvent() StopTyping {
	return StopTyping{Channel: s.channel.ID, User: s.self.ID, DisplayName: s.self.name()}
}

// emit writes through the transport. Failures are logged and dropped; the
// missing echo is the only trace they leave.
func (s *Session) emit(ev Event) {
	if s.transport == nil {
		return
	}
	if err := s.transport.Emit(ev); err != nil {
		s.logger.Warn("emit failed", "type", ev.Type(), "err", err)
	}
}

func (s *Session) notify(level NoticeLevel, text string) {
	s.notices = appendNotice(s.notices, Notice{Level: level, Text: text, At: s.now()})
}

func appendNotice(list []Notice, n Notice) []Notice {
	list = append(list, n)
	if len(list) > maxNotices {
		list = list[len(list)-maxNotices:]
	}
	return list
}

func (s *Session) Channel() Channel           { return s.channel }
func (s *Session) Self() Identity             { return s.self }
func (s *Session) State() ConnState           { return s.state }
func (s *Session) Joined() bool               { return s.joined }
func (s *Session) Closed() bool               { return s.closed }
func (s *Session) Messages() []Message        { return s.merger.Messages() }
func (s *Session) HistoryState() HistoryState { return s.merger.HistoryState() }
func (s *Session) HistoryErr() error          { return s.merger.HistoryErr() }
func (s *Session) Typing() bool               { return s.typing.Typing() }
func (s *Session) Presence() []string         { return s.presence.Labels() }
func (s *Session) Participants() []string     { return s.presence.Members() }
func (s *Session) Notices() []Notice          { return append([]Notice(nil), s.notices...) }
func (s *Session) Listeners() int             { return s.bus.size() }

// PeerTyping reports whether the direct peer is typing, and under which name.
func (s *Session) PeerTyping() (bool, string) {
	return s.remote.typing, s.remote.name
}

type nopScheduler struct{}

func (nopScheduler) After(time.Duration, TimerKind, uint64) Timer { return nopTimer{} }

type nopTimer struct{}

func (nopTimer) Stop() bool { return false }
