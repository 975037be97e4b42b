package chat

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxMessageLength bounds a message body, counted in runes.
const MaxMessageLength = 500

// DisplayTimeLayout is the 12-hour clock shown next to each message.
const DisplayTimeLayout = "3:04 PM"

var (
	ErrEmptyMessage   = errors.New("message content cannot be empty")
	ErrMessageTooLong = errors.New("message exceeds maximum length")
)

// Message is one rendered entry of a channel. Values are never mutated after
// they enter a Merger.
type Message struct {
	ID           string
	ChannelID    string
	Kind         Kind
	SenderID     string
	SenderName   string
	ReceiverID   string
	ReceiverName string
	RoomName     string
	Body         string
	DisplayTime  string
	CreatedAt    time.Time
	IsOwn        bool
}

// FormatDisplayTime renders t the way messages show their time.
func FormatDisplayTime(t time.Time) string {
	return t.Local().Format(DisplayTimeLayout)
}

// ValidateBody trims body and checks it against the message bounds.
func ValidateBody(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(trimmed) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return trimmed, nil
}

// messageFromEvent normalizes a wire message into the rendered shape. IsOwn is
// computed against self here and nowhere else.
func messageFromEvent(ev MessageEvent, self string) Message {
	display := ev.DisplayTime
	if display == "" && !ev.CreatedAt.IsZero() {
		display = FormatDisplayTime(ev.CreatedAt)
	}
	senderName := ev.SenderName
	if senderName == "" {
		senderName = ev.Sender
	}
	return Message{
		ID:           ev.ID,
		ChannelID:    ev.Channel,
		Kind:         ev.Kind,
		SenderID:     ev.Sender,
		SenderName:   senderName,
		ReceiverID:   ev.Receiver,
		ReceiverName: ev.ReceiverName,
		RoomName:     ev.RoomName,
		Body:         ev.Body,
		DisplayTime:  display,
		CreatedAt:    ev.CreatedAt,
		IsOwn:        self != "" && ev.Sender == self,
	}
}

// sameMessage decides whether two messages are copies of each other. Server
// ids win when both sides carry one; otherwise body, sender and display time
// must match.
func sameMessage(a, b Message) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	return a.Body == b.Body && a.SenderID == b.SenderID && a.DisplayTime == b.DisplayTime
}
