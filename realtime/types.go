package realtime

import "encoding/json"

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	EventOnlineUsers    = "online_users"
	EventNewMessage     = "new_message"
	EventNewRoomMessage = "new_room_message"
	EventMessageDeleted = "message_deleted"
	EventNotification   = "notification"
	EventRoomJoined     = "room_joined"
	EventTyping         = "typing"
	EventPong           = "pong"
	EventError          = "error"
)

// Client -> server
const (
	clientJoinRoom  = "join_room"
	clientLeaveRoom = "leave_room"
	clientTyping    = "typing"
	clientPing      = "ping"
)

type ChatError struct {
	Content string `json:"error"`
}

type RoomRef struct {
	RoomID string `json:"roomId"`
}

type OnlineUsers struct {
	UserIDs []string `json:"userIds"`
}

// Typing targets a room or, with To set, a single user.
type Typing struct {
	RoomID string `json:"roomId,omitempty"`
	To     string `json:"to,omitempty"`
	UserID string `json:"userId"`
}

// decodeData decodes WSMessage.Data into a typed struct.
func decodeData[T any](raw interface{}) (T, error) {
	var data T
	bytes, err := json.Marshal(raw)
	if err != nil {
		return data, err
	}
	err = json.Unmarshal(bytes, &data)
	return data, err
}
