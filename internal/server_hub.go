package internal

import (
	"log/slog"
	"sync"

	"livechat/internal/chat"
)

// Hub tracks the live Room of every channel. Rooms are created on first join
// and removed by their own run loop once the last member leaves.
type Hub struct {
	mutex   sync.RWMutex
	rooms   map[string]*Room
	logger  *slog.Logger
	metrics *Metrics
}

func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Hub{rooms: make(map[string]*Room), logger: logger, metrics: metrics}
}

// Exists reports whether a channel currently has a live room.
func (hub *Hub) Exists(id string) bool {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	_, ok := hub.rooms[id]
	return ok
}

// join places client in the room of channel, creating the room when needed.
func (hub *Hub) join(client *Client, channel string, kind chat.Kind) *Room {
	for {
		room := hub.getOrCreateRoom(channel, kind)
		if room.add(client) {
			return room
		}
		// the room shut down between lookup and register
	}
}

func (hub *Hub) getOrCreateRoom(id string, kind chat.Kind) *Room {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if room, exists := hub.rooms[id]; exists {
		return room
	}
	room := newRoom(id, kind, hub)
	hub.rooms[id] = room
	hub.metrics.IncRoom()
	hub.logger.Debug("room created", "channel", id, "kind", kind)
	go room.run()
	return room
}

// removeRoom is called by a room's run loop when it empties.
func (hub *Hub) removeRoom(room *Room) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if current, ok := hub.rooms[room.id]; ok && current == room {
		delete(hub.rooms, room.id)
		hub.metrics.DecRoom()
		hub.logger.Debug("room removed", "channel", room.id)
	}
}
