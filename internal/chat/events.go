package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType names an event on the wire.
type EventType string

const (
	TypeJoin       EventType = "join"
	TypeLeave      EventType = "leave"
	TypeAnnounce   EventType = "announce"
	TypeMessage    EventType = "message"
	TypeTyping     EventType = "typing"
	TypeStopTyping EventType = "stop_typing"
	TypePresence   EventType = "presence"
	TypeSystem     EventType = "system"
	TypeError      EventType = "error"

	// transport-local, never encoded
	TypeConnected    EventType = "connected"
	TypeDisconnected EventType = "disconnected"
)

// Event is one of the tagged variants below. The set is closed.
type Event interface {
	Type() EventType
	event()
}

// Envelope is the JSON frame exchanged over the connection.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var (
	ErrUnknownEvent = errors.New("unknown event type")
	ErrInvalidEvent = errors.New("invalid event payload")
)

type Join struct {
	Channel string `json:"channel"`
	Kind    Kind   `json:"kind"`
	User    string `json:"user"`
}

type Leave struct {
	Channel string `json:"channel"`
	Kind    Kind   `json:"kind"`
	User    string `json:"user"`
}

// Announce asks the server to broadcast the room's presence snapshot.
type Announce struct {
	Channel     string `json:"channel"`
	User        string `json:"user"`
	DisplayName string `json:"display_name"`
}

// MessageEvent carries a chat message. ID and CreatedAt are assigned by the
// server; receiver fields are set for direct channels, RoomName for rooms.
type MessageEvent struct {
	ID           string    `json:"id,omitempty"`
	Channel      string    `json:"channel"`
	Kind         Kind      `json:"kind"`
	Sender       string    `json:"sender"`
	SenderName   string    `json:"sender_name,omitempty"`
	Receiver     string    `json:"receiver,omitempty"`
	ReceiverName string    `json:"receiver_name,omitempty"`
	RoomName     string    `json:"room_name,omitempty"`
	Body         string    `json:"body"`
	DisplayTime  string    `json:"display_time"`
	CreatedAt    time.Time `json:"created_at"`
}

type Typing struct {
	Channel     string `json:"channel"`
	User        string `json:"user"`
	DisplayName string `json:"display_name"`
}

type StopTyping struct {
	Channel     string `json:"channel"`
	User        string `json:"user"`
	DisplayName string `json:"display_name"`
}

// Presence is an authoritative snapshot of a room's participants.
type Presence struct {
	Channel      string   `json:"channel"`
	Participants []string `json:"participants"`
}

// SystemNotice is a human-readable room notice such as "alice joined".
type SystemNotice struct {
	Channel   string    `json:"channel"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorEvent struct {
	Channel string `json:"channel,omitempty"`
	Error   string `json:"error"`
}

// Connected is raised by the transport once a connection is up.
type Connected struct{}

// Disconnected is raised by the transport when the connection drops. Retrying
// reports whether the transport will dial again on its own.
type Disconnected struct {
	Err      error
	Retrying bool
}

func (Join) Type() EventType         { return TypeJoin }
func (Leave) Type() EventType        { return TypeLeave }
func (Announce) Type() EventType     { return TypeAnnounce }
func (MessageEvent) Type() EventType { return TypeMessage }
func (Typing) Type() EventType       { return TypeTyping }
func (StopTyping) Type() EventType   { return TypeStopTyping }
func (Presence) Type() EventType     { return TypePresence }
func (SystemNotice) Type() EventType { return TypeSystem }
func (ErrorEvent) Type() EventType   { return TypeError }
func (Connected) Type() EventType    { return TypeConnected }
func (Disconnected) Type() EventType { return TypeDisconnected }

func (Join) event()         {}
func (Leave) event()        {}
func (Announce) event()     {}
func (MessageEvent) event() {}
func (Typing) event()       {}
func (StopTyping) event()   {}
func (Presence) event()     {}
func (SystemNotice) event() {}
func (ErrorEvent) event()   {}
func (Connected) event()    {}
func (Disconnected) event() {}

// ChannelOf returns the channel an event is scoped to, or "" for
// transport-local events.
func ChannelOf(ev Event) string {
	switch e := ev.(type) {
	case Join:
		return e.Channel
	case Leave:
		return e.Channel
	case Announce:
		return e.Channel
	case MessageEvent:
		return e.Channel
	case Typing:
		return e.Channel
	case StopTyping:
		return e.Channel
	case Presence:
		return e.Channel
	case SystemNotice:
		return e.Channel
	case ErrorEvent:
		return e.Channel
	}
	return ""
}

// Encode wraps ev in an envelope.
func Encode(ev Event) ([]byte, error) {
	switch ev.(type) {
	case Connected, Disconnected:
		return nil, fmt.Errorf("%w: %s is transport-local", ErrUnknownEvent, ev.Type())
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Type(), err)
	}
	return json.Marshal(Envelope{Type: ev.Type(), Payload: payload})
}

// Decode parses a frame into one of the wire variants and checks the fields
// each variant needs.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	switch env.Type {
	case TypeJoin:
		var e Join
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return checked(e, require(env.Type, e.Channel, e.User))
	case TypeLeave:
		var e Leave
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return checked(e, require(env.Type, e.Channel, e.User))
	case TypeAnnounce:
		var e Announce
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return checked(e, require(env.Type, e.Channel, e.User))
	case TypeMessage:
		var e MessageEvent
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return checked(e, require(env.Type, e.Channel, e.Sender, strings.TrimSpace(e.Body)))
	case TypeTyping:
		var e Typing
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return checked(e, require(env.Type, e.Channel, e.User))
	case TypeStopTyping:
		var e StopTyping
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return checked(e, require(env.Type, e.Channel, e.User))
	case TypePresence:
		var e Presence
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return checked(e, require(env.Type, e.Channel))
	case TypeSystem:
		var e SystemNotice
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return checked(e, require(env.Type, e.Text))
	case TypeError:
		var e ErrorEvent
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return checked(e, require(env.Type, e.Error))
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
}

func decodePayload(env Envelope, out any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", ErrInvalidEvent, env.Type)
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEvent, env.Type, err)
	}
	return nil
}

func require(t EventType, fields ...string) error {
	for _, f := range fields {
		if f == "" {
			return fmt.Errorf("%w: %s missing required field", ErrInvalidEvent, t)
		}
	}
	return nil
}

func checked(ev Event, err error) (Event, error) {
	if err != nil {
		return nil, err
	}
	return ev, nil
}
