package realtime

import (
	"context"
	"sync"
)

// Published is one event captured by a Recorder.
type Published struct {
	UserID string
	RoomID string
	Msg    WSMessage
}

// Recorder is a Broadcaster that keeps events in memory. Used by tests.
type Recorder struct {
	mu          sync.Mutex
	Events      []Published
	Revalidated []string
}

func (r *Recorder) RevalidateRooms(_ context.Context, userID string) {
	r.mu.Lock()
	r.Revalidated = append(r.Revalidated, userID)
	r.mu.Unlock()
}

// WasRevalidated reports whether RevalidateRooms ran for userID.
func (r *Recorder) WasRevalidated(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.Revalidated {
		if id == userID {
			return true
		}
	}
	return false
}

func (r *Recorder) PublishToUser(userID string, msg WSMessage) {
	r.mu.Lock()
	r.Events = append(r.Events, Published{UserID: userID, Msg: msg})
	r.mu.Unlock()
}

func (r *Recorder) PublishToRoom(roomID string, msg WSMessage) {
	r.mu.Lock()
	r.Events = append(r.Events, Published{RoomID: roomID, Msg: msg})
	r.mu.Unlock()
}

// ToUser returns events of the given type sent to userID.
func (r *Recorder) ToUser(userID, eventType string) []WSMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []WSMessage
	for _, e := range r.Events {
		if e.UserID == userID && e.Msg.Type == eventType {
			out = append(out, e.Msg)
		}
	}
	return out
}

// ToRoom returns events of the given type sent to roomID.
func (r *Recorder) ToRoom(roomID, eventType string) []WSMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []WSMessage
	for _, e := range r.Events {
		if e.RoomID == roomID && e.Msg.Type == eventType {
			out = append(out, e.Msg)
		}
	}
	return out
}
