package internal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"livechat/internal/chat"
	"livechat/internal/storage"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMsgSize      = 8192
	rateLimitWindow = 3 * time.Second
	rateLimitBurst  = 5
	saveTimeout     = 5 * time.Second
)

const rateLimitNotice = "You're sending messages too quickly. Please wait a moment and try again."

// Client is one authenticated websocket connection. Its read goroutine is the
// only one that touches room.
type Client struct {
	server      *Server
	conn        *websocket.Conn
	send        chan []byte
	limiter     *RateLimiter
	logger      *slog.Logger
	userID      int64
	username    string
	displayName string
	room        *Room
	closeOnce   sync.Once
}

func newClient(server *Server, conn *websocket.Conn, auth *authContext) *Client {
	return &Client{
		server:      server,
		conn:        conn,
		send:        make(chan []byte, 256),
		limiter:     NewRateLimiter(rateLimitBurst, rateLimitWindow),
		logger:      server.logger.With("user", auth.Username),
		userID:      auth.UserID,
		username:    auth.Username,
		displayName: auth.DisplayName,
	}
}

// kick closes the connection; the read pump then cleans up.
func (client *Client) kick() {
	client.closeOnce.Do(func() {
		_ = client.conn.Close()
	})
}

func (client *Client) readPump() {
	defer func() {
		client.leaveRoom()
		close(client.send)
		client.kick()
		client.server.metrics.DecConn()
		client.logger.Info("client disconnected")
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				client.logger.Debug("read failed", "err", err)
			}
			return
		}
		ev, err := chat.Decode(payload)
		if err != nil {
			client.replyError("", err.Error())
			continue
		}
		client.handle(ev)
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.kick()
	}()
	for {
		select {
		case frame, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (client *Client) handle(ev chat.Event) {
	switch e := ev.(type) {
	case chat.Join:
		client.join(e)
	case chat.Leave:
		if client.room != nil && client.room.id == e.Channel {
			client.leaveRoom()
		}
	case chat.Announce:
		if room := client.roomFor(e.Channel); room != nil {
			room.requestPresence()
		}
	case chat.MessageEvent:
		client.message(e)
	case chat.Typing:
		if room := client.roomFor(e.Channel); room != nil {
			e.User, e.DisplayName = client.username, client.displayName
			client.publish(room, e)
		}
	case chat.StopTyping:
		if room := client.roomFor(e.Channel); room != nil {
			e.User, e.DisplayName = client.username, client.displayName
			client.publish(room, e)
		}
	default:
		client.replyError(chat.ChannelOf(ev), "unsupported event "+string(ev.Type()))
	}
}

func (client *Client) join(e chat.Join) {
	channel := e.Channel
	kind := e.Kind
	if kind == "" {
		kind = chat.KindRoom
	}
	if kind != chat.KindDirect && kind != chat.KindRoom {
		client.replyError(channel, "unknown channel kind")
		return
	}
	if kind == chat.KindRoom && !chat.ValidRoomID(channel) {
		client.replyError(channel, errRoomName.Error())
		return
	}
	if !chat.IsParticipant(kind, channel, client.username) {
		client.logger.Warn("join refused", "channel", channel)
		client.replyError(channel, "not a participant of this conversation")
		return
	}
	if client.room != nil {
		if client.room.id == channel {
			return
		}
		client.leaveRoom()
	}
	client.room = client.server.hub.join(client, channel, kind)
}

func (client *Client) leaveRoom() {
	if client.room == nil {
		return
	}
	client.room.remove(client)
	client.room = nil
}

// roomFor returns the joined room when it matches channel.
func (client *Client) roomFor(channel string) *Room {
	if client.room == nil || client.room.id != channel {
		client.replyError(channel, "join the channel first")
		return nil
	}
	return client.room
}

func (client *Client) message(e chat.MessageEvent) {
	room := client.roomFor(e.Channel)
	if room == nil {
		return
	}
	if !client.limiter.Allow("") {
		client.server.metrics.IncRateLimited()
		client.replyError(e.Channel, rateLimitNotice)
		return
	}
	body, err := chat.ValidateBody(e.Body)
	if err != nil {
		client.replyError(e.Channel, err.Error())
		return
	}
	now := client.server.now()
	e.ID = uuid.NewString()
	e.Kind = room.kind
	e.Body = body
	e.Sender = client.username
	e.SenderName = client.displayName
	e.CreatedAt = now.UTC()
	if e.DisplayTime == "" {
		e.DisplayTime = chat.FormatDisplayTime(now)
	}
	if room.kind == chat.KindRoom {
		e.Receiver, e.ReceiverName = "", ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := client.server.store.SaveMessage(ctx, toStored(e)); err != nil {
		client.logger.Error("save message", "channel", e.Channel, "err", err)
		if !errors.Is(err, storage.ErrMessageExists) {
			client.replyError(e.Channel, "message could not be stored")
			return
		}
	}
	client.server.metrics.IncMessage()
	client.publish(room, e)
}

func (client *Client) publish(room *Room, ev chat.Event) {
	frame, err := chat.Encode(ev)
	if err != nil {
		client.logger.Error("encode", "type", ev.Type(), "err", err)
		return
	}
	room.publish(frame)
}

// replyError sends an error event to this connection only.
func (client *Client) replyError(channel, text string) {
	frame, err := chat.Encode(chat.ErrorEvent{Channel: channel, Error: text})
	if err != nil {
		return
	}
	select {
	case client.send <- frame:
	default:
	}
}

func toStored(e chat.MessageEvent) storage.Message {
	return storage.Message{
		ID:           e.ID,
		ChannelID:    e.Channel,
		Kind:         string(e.Kind),
		Sender:       e.Sender,
		SenderName:   e.SenderName,
		Receiver:     e.Receiver,
		ReceiverName: e.ReceiverName,
		RoomName:     e.RoomName,
		Body:         e.Body,
		DisplayTime:  e.DisplayTime,
		CreatedAt:    e.CreatedAt,
	}
}

func fromStored(m storage.Message) chat.MessageEvent {
	return chat.MessageEvent{
		ID:           m.ID,
		Channel:      m.ChannelID,
		Kind:         chat.Kind(m.Kind),
		Sender:       m.Sender,
		SenderName:   m.SenderName,
		Receiver:     m.Receiver,
		ReceiverName: m.ReceiverName,
		RoomName:     m.RoomName,
		Body:         m.Body,
		DisplayTime:  m.DisplayTime,
		CreatedAt:    m.CreatedAt,
	}
}
