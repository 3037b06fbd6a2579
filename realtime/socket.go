package realtime

import (
	"encoding/json"
	"time"

	"teamspace/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandleSocket upgrades an authenticated request and serves the connection
// until the client goes away.
func (h *Hub) HandleSocket(c *gin.Context) {
	userID := auth.CurrentUserID(c)
	if userID == "" {
		c.AbortWithStatusJSON(401, gin.H{"error": "Authorization required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(h.readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	client := newClient(userID, conn, h.queueSize)
	go client.WritePump(h.log)
	h.register(client)
	defer h.unregister(client)

	ctx := c.Request.Context()
	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var wsMsg WSMessage
		if err := json.Unmarshal(msgBytes, &wsMsg); err != nil {
			safeSend(client, WSMessage{Type: EventError, Data: ChatError{Content: "Invalid message format"}})
			continue
		}

		switch wsMsg.Type {
		case clientJoinRoom:
			data, err := decodeData[RoomRef](wsMsg.Data)
			if err != nil || data.RoomID == "" {
				safeSend(client, WSMessage{Type: EventError, Data: ChatError{Content: "Invalid room id"}})
				continue
			}
			allowed, err := h.authorizer.CanJoinRoom(ctx, userID, data.RoomID)
			if err != nil {
				h.log.Error("room authorization failed", zap.String("user_id", userID), zap.String("room_id", data.RoomID), zap.Error(err))
				safeSend(client, WSMessage{Type: EventError, Data: ChatError{Content: "Failed to join room"}})
				continue
			}
			if !allowed {
				safeSend(client, WSMessage{Type: EventError, Data: ChatError{Content: "Not allowed to join room"}})
				continue
			}
			h.joinRoom(client, data.RoomID)
			safeSend(client, WSMessage{Type: EventRoomJoined, Data: data})

		case clientLeaveRoom:
			data, err := decodeData[RoomRef](wsMsg.Data)
			if err != nil {
				continue
			}
			h.leaveRoom(client, data.RoomID)

		case clientTyping:
			data, err := decodeData[Typing](wsMsg.Data)
			if err != nil {
				continue
			}
			if data.To != "" {
				if ok, err := h.authorizer.CanSignal(ctx, userID, data.To); err != nil || !ok {
					continue
				}
				h.PublishToUser(data.To, WSMessage{Type: EventTyping, Data: Typing{To: data.To, UserID: userID}})
				continue
			}
			if !h.inRoom(client, data.RoomID) {
				continue
			}
			h.publishToRoomExcept(data.RoomID, client, WSMessage{Type: EventTyping, Data: Typing{RoomID: data.RoomID, UserID: userID}})

		case clientPing:
			safeSend(client, WSMessage{Type: EventPong})

		default:
			safeSend(client, WSMessage{Type: EventError, Data: ChatError{Content: "Unknown websocket message type"}})
		}
	}
}
