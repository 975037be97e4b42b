package internal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"livechat/internal/chat"
)

// Room fans frames out to every connection joined to one channel. Its run
// goroutine owns membership and the roster; other goroutines talk to it
// through the channels below.
type Room struct {
	id         string
	kind       chat.Kind
	hub        *Hub
	logger     *slog.Logger
	clients    map[*Client]bool
	roster     *Roster
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	announce   chan struct{}
	done       chan struct{}
	mutex      sync.RWMutex
	now        func() time.Time
}

func newRoom(id string, kind chat.Kind, hub *Hub) *Room {
	return &Room{
		id:         id,
		kind:       kind,
		hub:        hub,
		logger:     hub.logger.With("channel", id),
		clients:    make(map[*Client]bool),
		roster:     NewRoster(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		announce:   make(chan struct{}, 8),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

func (room *Room) size() int {
	room.mutex.RLock()
	defer room.mutex.RUnlock()
	return len(room.clients)
}

// add registers client. It returns false when the room already shut down.
func (room *Room) add(client *Client) bool {
	select {
	case room.register <- client:
		return true
	case <-room.done:
		return false
	}
}

func (room *Room) remove(client *Client) {
	select {
	case room.unregister <- client:
	case <-room.done:
	}
}

func (room *Room) publish(frame []byte) {
	select {
	case room.broadcast <- frame:
	case <-room.done:
	}
}

// requestPresence asks the run loop to broadcast the current participant list.
func (room *Room) requestPresence() {
	select {
	case room.announce <- struct{}{}:
	case <-room.done:
	default:
	}
}

func (room *Room) run() {
	for {
		select {
		case client := <-room.register:
			room.mutex.Lock()
			room.clients[client] = true
			room.mutex.Unlock()
			arrived := room.roster.Add(client.username)
			room.logger.Info("member joined", "user", client.username, "members", len(room.clients))
			if room.kind == chat.KindRoom {
				if arrived {
					room.fanout(room.systemFrame(fmt.Sprintf("%s joined the room", client.displayName)))
				}
				room.fanout(room.presenceFrame())
			}
		case client := <-room.unregister:
			room.mutex.Lock()
			_, member := room.clients[client]
			delete(room.clients, client)
			room.mutex.Unlock()
			if member {
				room.memberGone(client)
			}
		case frame := <-room.broadcast:
			room.fanout(frame)
		case <-room.announce:
			room.fanout(room.presenceFrame())
		}
		if room.size() == 0 && room.roster.Len() == 0 {
			room.hub.removeRoom(room)
			close(room.done)
			return
		}
	}
}

func (room *Room) memberGone(client *Client) {
	left := room.roster.Remove(client.username)
	room.logger.Info("member left", "user", client.username, "members", room.size())
	if room.kind != chat.KindRoom || room.size() == 0 {
		return
	}
	if left {
		room.fanout(room.systemFrame(fmt.Sprintf("%s left the room", client.displayName)))
	}
	room.fanout(room.presenceFrame())
}

// fanout queues frame on every member. A member whose queue is full is
// dropped and its connection closed.
func (room *Room) fanout(frame []byte) {
	if frame == nil {
		return
	}
	var slow []*Client
	room.mutex.Lock()
	for client := range room.clients {
		select {
		case client.send <- frame:
		default:
			delete(room.clients, client)
			slow = append(slow, client)
		}
	}
	room.mutex.Unlock()
	for _, client := range slow {
		room.logger.Warn("dropping slow member", "user", client.username)
		client.kick()
		room.roster.Remove(client.username)
	}
}

func (room *Room) presenceFrame() []byte {
	frame, err := chat.Encode(chat.Presence{Channel: room.id, Participants: room.roster.Participants()})
	if err != nil {
		room.logger.Error("encode presence", "err", err)
		return nil
	}
	return frame
}

func (room *Room) systemFrame(text string) []byte {
	frame, err := chat.Encode(chat.SystemNotice{Channel: room.id, Text: text, Timestamp: room.now().UTC()})
	if err != nil {
		room.logger.Error("encode system notice", "err", err)
		return nil
	}
	return frame
}
