package realtime

import (
	"context"
	"sync"
	"time"

	"teamspace/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Broadcaster pushes events to live connections. Delivery is best effort:
// offline users and full send queues are skipped without error.
type Broadcaster interface {
	PublishToUser(userID string, msg WSMessage)
	PublishToRoom(roomID string, msg WSMessage)
	// RevalidateRooms re-authorizes the user's room subscriptions after their
	// access shrank, dropping rooms they may no longer join.
	RevalidateRooms(ctx context.Context, userID string)
}

// RoomAuthorizer decides whether a user may subscribe to a room's events and
// whether they may signal another user directly.
type RoomAuthorizer interface {
	CanJoinRoom(ctx context.Context, userID, roomID string) (bool, error)
	CanSignal(ctx context.Context, userID, peerID string) (bool, error)
}

type Client struct {
	UserID    string
	Conn      *websocket.Conn
	SendQueue chan WSMessage
	Done      chan struct{}

	rooms     map[string]struct{} // guarded by Hub.mu
	closeOnce sync.Once
}

func newClient(userID string, conn *websocket.Conn, queueSize int) *Client {
	return &Client{
		UserID:    userID,
		Conn:      conn,
		SendQueue: make(chan WSMessage, queueSize),
		Done:      make(chan struct{}),
		rooms:     make(map[string]struct{}),
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.Done) })
}

// WritePump is the only writer on the connection.
func (c *Client) WritePump(log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case msg := <-c.SendQueue:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteJSON(msg); err != nil {
				log.Debug("websocket write failed", zap.String("user_id", c.UserID), zap.Error(err))
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.Done:
			return
		}
	}
}

// safeSend enqueues without blocking. A full queue drops the event.
func safeSend(client *Client, msg WSMessage) bool {
	select {
	case <-client.Done:
		return false
	default:
	}
	select {
	case client.SendQueue <- msg:
		metrics.RecordPush(true)
		return true
	default:
		metrics.RecordPush(false)
		return false
	}
}

// Hub maps each user to at most one live client. A newer connection for the
// same user takes over direct delivery; rooms are tracked per client.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[*Client]struct{}

	presence   Presence
	authorizer RoomAuthorizer
	upgrader   websocket.Upgrader
	queueSize  int
	readLimit  int64
	log        *zap.Logger
}

type Options struct {
	AllowedOrigins []string
	SendQueueSize  int
	ReadLimit      int64
}

func NewHub(presence Presence, authorizer RoomAuthorizer, opts Options, log *zap.Logger) *Hub {
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 64
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 * 1024
	}
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[*Client]struct{}),
		presence:   presence,
		authorizer: authorizer,
		upgrader:   websocket.Upgrader{CheckOrigin: originChecker(opts.AllowedOrigins)},
		queueSize:  opts.SendQueueSize,
		readLimit:  opts.ReadLimit,
		log:        log,
	}
}

// SetAuthorizer swaps the room authorizer. It must be called before the hub
// serves connections.
func (h *Hub) SetAuthorizer(authorizer RoomAuthorizer) {
	h.authorizer = authorizer
}

func (h *Hub) Presence() Presence {
	return h.presence
}

func (h *Hub) IsOnline(userID string) bool {
	return h.presence.IsOnline(userID)
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	if prev, ok := h.clients[client.UserID]; ok && prev != client {
		h.log.Debug("replacing live connection", zap.String("user_id", client.UserID))
	}
	h.clients[client.UserID] = client
	h.presence.Register(client.UserID)
	h.mu.Unlock()

	h.broadcastPresence()
}

// unregister drops the client's rooms. The user only goes offline if this
// client is still the one registered for them. Presence changes happen under
// h.mu so a concurrent register for the same user cannot be undone.
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	for roomID := range client.rooms {
		if members, ok := h.rooms[roomID]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	client.rooms = map[string]struct{}{}
	current := h.clients[client.UserID] == client
	if current {
		delete(h.clients, client.UserID)
		h.presence.Unregister(client.UserID)
	}
	h.mu.Unlock()

	client.close()
	if current {
		h.broadcastPresence()
	}
}

func (h *Hub) broadcastPresence() {
	snapshot := h.presence.Snapshot()
	metrics.OnlineUsers.Set(float64(len(snapshot)))
	msg := WSMessage{Type: EventOnlineUsers, Data: OnlineUsers{UserIDs: snapshot}}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		safeSend(client, msg)
	}
}

func (h *Hub) joinRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[roomID] = members
	}
	members[client] = struct{}{}
	client.rooms[roomID] = struct{}{}
}

func (h *Hub) leaveRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[roomID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	delete(client.rooms, roomID)
}

func (h *Hub) inRoom(client *Client, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := client.rooms[roomID]
	return ok
}

// RevalidateRooms asks the authorizer again for every room the user's live
// client has joined and leaves the ones it now refuses.
func (h *Hub) RevalidateRooms(ctx context.Context, userID string) {
	if h.authorizer == nil {
		return
	}
	h.mu.RLock()
	client, ok := h.clients[userID]
	var rooms []string
	if ok {
		for roomID := range client.rooms {
			rooms = append(rooms, roomID)
		}
	}
	h.mu.RUnlock()

	for _, roomID := range rooms {
		allowed, err := h.authorizer.CanJoinRoom(ctx, userID, roomID)
		if err != nil {
			h.log.Error("room re-authorization failed", zap.String("user_id", userID), zap.String("room_id", roomID), zap.Error(err))
		}
		if err != nil || !allowed {
			h.leaveRoom(client, roomID)
		}
	}
}

func (h *Hub) PublishToUser(userID string, msg WSMessage) {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	safeSend(client, msg)
}

func (h *Hub) PublishToRoom(roomID string, msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[roomID] {
		safeSend(client, msg)
	}
}

func (h *Hub) publishToRoomExcept(roomID string, except *Client, msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[roomID] {
		if client == except {
			continue
		}
		safeSend(client, msg)
	}
}
