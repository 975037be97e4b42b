package chat

import (
	"sort"
	"strings"
)

// Kind tells a direct pairing apart from a room.
type Kind string

const (
	KindDirect Kind = "direct"
	KindRoom   Kind = "room"
)

// directSeparator joins the two sorted participant identities of a direct channel.
const directSeparator = "_"

// Channel is the conversation a session is scoped to.
type Channel struct {
	ID          string
	Kind        Kind
	DisplayName string
	// Peer is the other participant of a direct channel.
	Peer string
}

// ResolveDirect derives the channel id shared by two participants. Both sides
// compute the same value no matter who calls it. It returns "" when either
// identity is empty.
func ResolveDirect(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return ""
	}
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, directSeparator)
}

// ResolveRoom returns the room identifier unchanged.
func ResolveRoom(roomID string) string {
	return strings.TrimSpace(roomID)
}

// DirectChannel builds the channel between self and peer.
func DirectChannel(self, peer, peerName string) Channel {
	if peerName == "" {
		peerName = peer
	}
	return Channel{
		ID:          ResolveDirect(self, peer),
		Kind:        KindDirect,
		DisplayName: peerName,
		Peer:        strings.TrimSpace(peer),
	}
}

// RoomChannel builds a room channel. The display name falls back to the id.
func RoomChannel(roomID, name string) Channel {
	id := ResolveRoom(roomID)
	if name == "" {
		name = id
	}
	return Channel{ID: id, Kind: KindRoom, DisplayName: name}
}

// Addressable reports whether messages can be exchanged on the channel.
func (c Channel) Addressable() bool {
	if c.ID == "" {
		return false
	}
	if c.Kind == KindDirect {
		return c.Peer != ""
	}
	return c.Kind == KindRoom
}

// ParsePair splits a direct channel id into its two participants. Only ids of
// exactly two non-empty identities joined by the separator qualify.
func ParsePair(channelID string) (string, string, bool) {
	a, b, ok := strings.Cut(channelID, directSeparator)
	if !ok || a == "" || b == "" || strings.Contains(b, directSeparator) {
		return "", "", false
	}
	return a, b, true
}

// ValidRoomID reports whether id can name a room. Room ids never contain the
// direct separator, so a room can not take over a direct pair.
func ValidRoomID(id string) bool {
	return id != "" && !strings.Contains(id, directSeparator)
}

// IsParticipant reports whether identity is one of the two sides of a direct
// channel id. Room channels admit anyone.
func IsParticipant(kind Kind, channelID, identity string) bool {
	if kind != KindDirect {
		return true
	}
	a, b, ok := ParsePair(channelID)
	if !ok || identity == "" {
		return false
	}
	return identity == a || identity == b
}
