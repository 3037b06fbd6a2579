package connections

import (
	"context"
	"errors"

	"teamspace/apperr"
	"teamspace/notifications"
	"teamspace/types"

	"gorm.io/gorm"
)

// Store manages the friend edges that gate direct messaging. An edge is stored
// once, ordered requester -> recipient, so lookups check both orderings.
type Store struct {
	db       *gorm.DB
	notifier *notifications.Notifier
}

func NewStore(gdb *gorm.DB, notifier *notifications.Notifier) *Store {
	return &Store{db: gdb, notifier: notifier}
}

// Contact is an accepted connection from one user's point of view.
type Contact struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl"`
	Archived  bool   `json:"archived"`
}

type PendingRequest struct {
	ConnectionID string `json:"connectionId"`
	FromUserID   string `json:"fromUserId"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	AvatarURL    string `json:"avatarUrl"`
}

func between(db *gorm.DB, a, b string) *gorm.DB {
	return db.Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", a, b, b, a)
}

func (s *Store) find(ctx context.Context, a, b string) (types.Connection, bool, error) {
	var conn types.Connection
	err := between(s.db.WithContext(ctx), a, b).First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Connection{}, false, nil
	}
	if err != nil {
		return types.Connection{}, false, apperr.Internal("connection lookup", err)
	}
	return conn, true, nil
}

// AreConnected reports whether an accepted edge exists in either direction.
func (s *Store) AreConnected(ctx context.Context, a, b string) (bool, error) {
	var count int64
	err := between(s.db.WithContext(ctx).Model(&types.Connection{}), a, b).
		Where("status = ?", types.ConnectionAccepted).
		Count(&count).Error
	if err != nil {
		return false, apperr.Internal("connection lookup", err)
	}
	return count > 0, nil
}

func (s *Store) Request(ctx context.Context, userID, friendID string) (types.Connection, error) {
	if friendID == "" {
		return types.Connection{}, apperr.Validation("friendId is required")
	}
	if friendID == userID {
		return types.Connection{}, apperr.Validation("cannot connect to yourself")
	}
	var friend types.User
	if err := s.db.WithContext(ctx).Select("id").First(&friend, "id = ?", friendID).Error; err != nil {
		return types.Connection{}, apperr.FromDB(err, "user not found")
	}

	existing, found, err := s.find(ctx, userID, friendID)
	if err != nil {
		return types.Connection{}, err
	}

	var conn types.Connection
	switch {
	case !found:
		conn = types.Connection{UserID: userID, FriendID: friendID, Status: types.ConnectionPending}
		if err := s.db.WithContext(ctx).Create(&conn).Error; err != nil {
			return types.Connection{}, apperr.Internal("create connection", err)
		}
	case existing.Status == types.ConnectionAccepted:
		return types.Connection{}, apperr.Conflict("already connected")
	case existing.Status == types.ConnectionPending:
		return types.Connection{}, apperr.Conflict("a request is already pending")
	default:
		// A rejected edge is reopened with the new requester first.
		conn = existing
		err := s.db.WithContext(ctx).Model(&conn).Updates(map[string]interface{}{
			"user_id":            userID,
			"friend_id":          friendID,
			"status":             types.ConnectionPending,
			"archived_by_user":   false,
			"archived_by_friend": false,
		}).Error
		if err != nil {
			return types.Connection{}, apperr.Internal("reopen connection", err)
		}
		conn.UserID, conn.FriendID, conn.Status = userID, friendID, types.ConnectionPending
	}

	s.notifier.Notify(ctx, types.Notification{
		RecipientID: friendID,
		SenderID:    userID,
		Type:        types.NotifyConnectionRequest,
		EntityType:  "connection",
		EntityID:    conn.ID,
		Message:     "You have a new connection request",
	})
	return conn, nil
}

// Accept requires a pending request from friendID to userID. Anything else,
// including an edge that is already accepted, is reported as not found.
func (s *Store) Accept(ctx context.Context, userID, friendID string) (types.Connection, error) {
	conn, err := s.transition(ctx, userID, friendID, types.ConnectionAccepted)
	if err != nil {
		return types.Connection{}, err
	}
	s.notifier.Notify(ctx, types.Notification{
		RecipientID: friendID,
		SenderID:    userID,
		Type:        types.NotifyConnectionAccepted,
		EntityType:  "connection",
		EntityID:    conn.ID,
		Message:     "Your connection request was accepted",
	})
	return conn, nil
}

func (s *Store) Reject(ctx context.Context, userID, friendID string) (types.Connection, error) {
	return s.transition(ctx, userID, friendID, types.ConnectionRejected)
}

func (s *Store) transition(ctx context.Context, userID, friendID, status string) (types.Connection, error) {
	res := s.db.WithContext(ctx).Model(&types.Connection{}).
		Where("user_id = ? AND friend_id = ? AND status = ?", friendID, userID, types.ConnectionPending).
		Update("status", status)
	if res.Error != nil {
		return types.Connection{}, apperr.Internal("update connection", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.Connection{}, apperr.NotFound("connection request not found")
	}

	var conn types.Connection
	err := s.db.WithContext(ctx).Where("user_id = ? AND friend_id = ?", friendID, userID).First(&conn).Error
	return conn, apperr.FromDB(err, "connection request not found")
}

// SetArchived hides or unhides an accepted connection for userID only.
func (s *Store) SetArchived(ctx context.Context, userID, friendID string, archived bool) error {
	conn, found, err := s.find(ctx, userID, friendID)
	if err != nil {
		return err
	}
	if !found || conn.Status != types.ConnectionAccepted {
		return apperr.NotFound("connection not found")
	}
	column := "archived_by_user"
	if conn.FriendID == userID {
		column = "archived_by_friend"
	}
	if err := s.db.WithContext(ctx).Model(&conn).Update(column, archived).Error; err != nil {
		return apperr.Internal("archive connection", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, userID, friendID string) error {
	res := between(s.db.WithContext(ctx), userID, friendID).Delete(&types.Connection{})
	if res.Error != nil {
		return apperr.Internal("remove connection", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("connection not found")
	}
	return nil
}

// Contacts lists accepted connections. When orgID is set, only contacts who
// are members of that org are returned.
func (s *Store) Contacts(ctx context.Context, userID, orgID string, includeArchived bool) ([]Contact, error) {
	q := s.db.WithContext(ctx).Table("connections").
		Select(`users.id AS user_id, users.name, users.email, users.avatar_url,
			CASE WHEN connections.user_id = ? THEN connections.archived_by_user ELSE connections.archived_by_friend END AS archived`, userID).
		Joins(`JOIN users ON users.id = CASE WHEN connections.user_id = ? THEN connections.friend_id ELSE connections.user_id END`, userID).
		Where("(connections.user_id = ? OR connections.friend_id = ?) AND connections.status = ?", userID, userID, types.ConnectionAccepted)
	if orgID != "" {
		q = q.Joins("JOIN memberships ON memberships.user_id = users.id AND memberships.org_id = ?", orgID)
	}

	var contacts []Contact
	if err := q.Order("users.name ASC").Scan(&contacts).Error; err != nil {
		return nil, apperr.Internal("list contacts", err)
	}
	if includeArchived {
		return contacts, nil
	}
	visible := contacts[:0]
	for _, c := range contacts {
		if !c.Archived {
			visible = append(visible, c)
		}
	}
	return visible, nil
}

// Pending lists requests waiting on userID.
func (s *Store) Pending(ctx context.Context, userID string) ([]PendingRequest, error) {
	var pending []PendingRequest
	err := s.db.WithContext(ctx).Table("connections").
		Select("connections.id AS connection_id, users.id AS from_user_id, users.name, users.email, users.avatar_url").
		Joins("JOIN users ON users.id = connections.user_id").
		Where("connections.friend_id = ? AND connections.status = ?", userID, types.ConnectionPending).
		Order("connections.created_at DESC").
		Scan(&pending).Error
	if err != nil {
		return nil, apperr.Internal("list pending requests", err)
	}
	return pending, nil
}
