package messages

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"teamspace/apperr"
	"teamspace/conversation"
	"teamspace/metrics"
	"teamspace/orgs"
	"teamspace/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Target is where a message is stored: Direct or Room.
type Target interface {
	kind() string
}

type Direct struct {
	To string
}

// Room is a group or channel. Kind is the resolved conversation mode.
type Room struct {
	ID   string
	Kind conversation.Mode
}

func (Direct) kind() string { return "direct" }

func (r Room) kind() string {
	if r.Kind == conversation.ModeGroup {
		return "group"
	}
	return "channel"
}

func (r Room) column() string {
	if r.Kind == conversation.ModeGroup {
		return "group_id"
	}
	return "channel_id"
}

// TargetFor maps a resolved route to its storage target.
func TargetFor(route conversation.Route) Target {
	if route.Mode == conversation.ModeDirect {
		return Direct{To: route.TargetID}
	}
	return Room{ID: route.TargetID, Kind: route.Mode}
}

// ReadState is Seen for direct messages and SeenBy for room messages.
type ReadState interface {
	readState()
}

type Seen bool

type SeenBy []string

func (Seen) readState()   {}
func (SeenBy) readState() {}

// Reply is the hydrated parent of a message. A parent that no longer exists
// is rendered with Missing set.
type Reply struct {
	ID       string `json:"id"`
	SenderID string `json:"senderId,omitempty"`
	Text     string `json:"text"`
	Image    string `json:"image,omitempty"`
	Missing  bool   `json:"missing,omitempty"`
}

type View struct {
	types.Message
	ReplyTo *Reply    `json:"replyTo,omitempty"`
	State   ReadState `json:"-"`
}

func (v View) MarshalJSON() ([]byte, error) {
	type view View
	out := struct {
		view
		Read   *bool     `json:"read,omitempty"`
		ReadBy *[]string `json:"readBy,omitempty"`
	}{view: view(v)}

	switch s := v.State.(type) {
	case Seen:
		read := bool(s)
		out.Read = &read
	case SeenBy:
		ids := []string(s)
		if ids == nil {
			ids = []string{}
		}
		out.ReadBy = &ids
	}
	return json.Marshal(out)
}

type Body struct {
	Text    string `json:"text"`
	Image   string `json:"image"`
	ReplyTo string `json:"replyTo"`
}

// Page selects messages strictly older than the Before message id.
type Page struct {
	Before string
	Limit  int
}

func (p Page) size() int {
	switch {
	case p.Limit <= 0:
		return DefaultPageSize
	case p.Limit > MaxPageSize:
		return MaxPageSize
	default:
		return p.Limit
	}
}

type History struct {
	Messages   []View `json:"messages"`
	NextCursor string `json:"nextCursor,omitempty"`
}

type Store struct {
	db *gorm.DB
}

func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

// Create persists a message. Authorization is the caller's job: target must
// come from a resolved route. A reply pointer to an unknown id is stored as
// given; one that points into another conversation is rejected.
func (s *Store) Create(ctx context.Context, rc orgs.RequestContext, target Target, body Body) (View, error) {
	text := strings.TrimSpace(body.Text)
	image := strings.TrimSpace(body.Image)
	if text == "" && image == "" {
		return View{}, apperr.Validation("message text or image is required")
	}

	msg := types.Message{OrgID: rc.OrgID, SenderID: rc.UserID, Text: text, Image: image}
	if replyTo := strings.TrimSpace(body.ReplyTo); replyTo != "" {
		msg.ReplyToID = &replyTo
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch t := target.(type) {
		case Direct:
			msg.ReceiverID = &t.To
		case Room:
			id := t.ID
			if t.Kind == conversation.ModeGroup {
				msg.GroupID = &id
			} else {
				msg.ChannelID = &id
			}
		default:
			return apperr.Validation("unknown message target")
		}

		if msg.ReplyToID != nil {
			var parent types.Message
			err := tx.First(&parent, "id = ? AND org_id = ?", *msg.ReplyToID, msg.OrgID).Error
			switch {
			case err == nil:
				if !sameConversation(msg, parent) {
					return apperr.Validation("replies must stay in the same conversation")
				}
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
		}

		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		if msg.GroupID != nil {
			return tx.Model(&types.Group{}).Where("id = ?", *msg.GroupID).Update("last_message_id", msg.ID).Error
		}
		return nil
	})
	if err != nil {
		if apperr.Is(err, apperr.KindValidation) {
			return View{}, err
		}
		return View{}, apperr.Internal("create message", err)
	}
	metrics.MessagesCreated.WithLabelValues(target.kind()).Inc()

	views, err := s.hydrate(ctx, rc.OrgID, []types.Message{msg})
	if err != nil {
		return View{}, err
	}
	return views[0], nil
}

// DirectHistory returns both directions of the conversation with counterpartID.
func (s *Store) DirectHistory(ctx context.Context, rc orgs.RequestContext, counterpartID string, page Page) (History, error) {
	q := s.db.WithContext(ctx).Where(
		"org_id = ? AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))",
		rc.OrgID, rc.UserID, counterpartID, counterpartID, rc.UserID)
	return s.history(ctx, rc.OrgID, q, page)
}

func (s *Store) RoomHistory(ctx context.Context, rc orgs.RequestContext, room Room, page Page) (History, error) {
	q := s.db.WithContext(ctx).Where("org_id = ? AND "+room.column()+" = ?", rc.OrgID, room.ID)
	return s.history(ctx, rc.OrgID, q, page)
}

func (s *Store) history(ctx context.Context, orgID string, q *gorm.DB, page Page) (History, error) {
	if page.Before != "" {
		var cursor types.Message
		err := s.db.WithContext(ctx).Select("id", "created_at").First(&cursor, "id = ? AND org_id = ?", page.Before, orgID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return History{}, apperr.Validation("invalid cursor")
		}
		if err != nil {
			return History{}, apperr.Internal("load cursor", err)
		}
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	limit := page.size()
	var rows []types.Message
	if err := q.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return History{}, apperr.Internal("load history", err)
	}

	var history History
	if len(rows) > limit {
		rows = rows[:limit]
		history.NextCursor = rows[limit-1].ID
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	views, err := s.hydrate(ctx, orgID, rows)
	if err != nil {
		return History{}, err
	}
	history.Messages = views
	return history, nil
}

// hydrate resolves reply parents and read state in one query each.
func (s *Store) hydrate(ctx context.Context, orgID string, rows []types.Message) ([]View, error) {
	views := make([]View, len(rows))
	var replyIDs, roomIDs []string
	for i, m := range rows {
		views[i] = View{Message: m}
		if m.ReplyToID != nil {
			replyIDs = append(replyIDs, *m.ReplyToID)
		}
		if m.ReceiverID == nil {
			roomIDs = append(roomIDs, m.ID)
		}
	}

	parents := make(map[string]types.Message)
	if len(replyIDs) > 0 {
		var found []types.Message
		if err := s.db.WithContext(ctx).Where("id IN ? AND org_id = ?", orgs.Dedupe(replyIDs), orgID).Find(&found).Error; err != nil {
			return nil, apperr.Internal("load replies", err)
		}
		for _, p := range found {
			parents[p.ID] = p
		}
	}

	readers := make(map[string][]string)
	if len(roomIDs) > 0 {
		var reads []types.MessageRead
		if err := s.db.WithContext(ctx).Where("message_id IN ?", roomIDs).Order("read_at ASC").Find(&reads).Error; err != nil {
			return nil, apperr.Internal("load read state", err)
		}
		for _, r := range reads {
			readers[r.MessageID] = append(readers[r.MessageID], r.UserID)
		}
	}

	for i := range views {
		m := views[i].Message
		if m.ReceiverID != nil {
			views[i].State = Seen(m.Read)
		} else {
			views[i].State = SeenBy(readers[m.ID])
		}
		if m.ReplyToID == nil {
			continue
		}
		if p, ok := parents[*m.ReplyToID]; ok && sameConversation(m, p) {
			views[i].ReplyTo = &Reply{ID: p.ID, SenderID: p.SenderID, Text: p.Text, Image: p.Image}
		} else {
			views[i].ReplyTo = &Reply{ID: *m.ReplyToID, Missing: true, Text: "message not found"}
		}
	}
	return views, nil
}

// sameConversation reports whether parent belongs to the same direct pair or
// room as child. Parents elsewhere render as missing.
func sameConversation(child, parent types.Message) bool {
	switch {
	case child.GroupID != nil:
		return parent.GroupID != nil && *parent.GroupID == *child.GroupID
	case child.ChannelID != nil:
		return parent.ChannelID != nil && *parent.ChannelID == *child.ChannelID
	case child.ReceiverID != nil:
		if parent.ReceiverID == nil {
			return false
		}
		return (parent.SenderID == child.SenderID && *parent.ReceiverID == *child.ReceiverID) ||
			(parent.SenderID == *child.ReceiverID && *parent.ReceiverID == child.SenderID)
	}
	return false
}

// MarkDirectRead flags messages from counterpartID to the caller as read.
// Only the receiving side can flip the flag.
func (s *Store) MarkDirectRead(ctx context.Context, rc orgs.RequestContext, counterpartID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&types.Message{}).
		Where("org_id = ? AND sender_id = ? AND receiver_id = ? AND read = ?", rc.OrgID, counterpartID, rc.UserID, false).
		Update("read", true)
	if res.Error != nil {
		return 0, apperr.Internal("mark direct read", res.Error)
	}
	return res.RowsAffected, nil
}

// MarkRoomRead adds the caller to the read-by set of every message in the room
// that someone else sent. Repeated or concurrent calls add each pair once.
func (s *Store) MarkRoomRead(ctx context.Context, rc orgs.RequestContext, room Room) (int64, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&types.Message{}).
		Where("org_id = ? AND "+room.column()+" = ? AND sender_id <> ?", rc.OrgID, room.ID, rc.UserID).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, apperr.Internal("load room messages", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	reads := make([]types.MessageRead, len(ids))
	for i, id := range ids {
		reads[i] = types.MessageRead{MessageID: id, UserID: rc.UserID, ReadAt: now}
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(reads, 200)
	if res.Error != nil {
		return 0, apperr.Internal("mark room read", res.Error)
	}
	return res.RowsAffected, nil
}

// Delete removes one message. The sender and org admins may delete; a message
// in another org does not exist as far as the caller is concerned.
func (s *Store) Delete(ctx context.Context, rc orgs.RequestContext, id string) (types.Message, error) {
	var msg types.Message
	if err := s.db.WithContext(ctx).First(&msg, "id = ? AND org_id = ?", id, rc.OrgID).Error; err != nil {
		return types.Message{}, apperr.FromDB(err, "message not found")
	}
	if msg.SenderID != rc.UserID && !rc.IsAdmin() {
		return types.Message{}, apperr.Forbidden("you can only delete your own messages")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", msg.ID).Delete(&types.MessageRead{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&msg).Error; err != nil {
			return err
		}
		if msg.GroupID == nil {
			return nil
		}
		return refreshLastMessage(tx, *msg.GroupID)
	})
	if err != nil {
		return types.Message{}, apperr.Internal("delete message", err)
	}
	return msg, nil
}

func refreshLastMessage(tx *gorm.DB, groupID string) error {
	var latest types.Message
	err := tx.Select("id").Where("group_id = ?", groupID).Order("created_at DESC, id DESC").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Model(&types.Group{}).Where("id = ?", groupID).Update("last_message_id", nil).Error
	}
	if err != nil {
		return err
	}
	return tx.Model(&types.Group{}).Where("id = ?", groupID).Update("last_message_id", latest.ID).Error
}

// DeleteConversation removes both directions of a direct conversation in the
// caller's org and reports how many messages went.
func (s *Store) DeleteConversation(ctx context.Context, rc orgs.RequestContext, counterpartID string) (int64, error) {
	if counterpartID == "" || counterpartID == rc.UserID {
		return 0, apperr.Validation("a counterpart is required")
	}
	res := s.db.WithContext(ctx).
		Where("org_id = ? AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))",
			rc.OrgID, rc.UserID, counterpartID, counterpartID, rc.UserID).
		Delete(&types.Message{})
	if res.Error != nil {
		return 0, apperr.Internal("delete conversation", res.Error)
	}
	return res.RowsAffected, nil
}

// UnreadBySender counts unread direct messages to the caller, keyed by sender.
func (s *Store) UnreadBySender(ctx context.Context, rc orgs.RequestContext) (map[string]int64, error) {
	var rows []struct {
		SenderID string
		Count    int64
	}
	err := s.db.WithContext(ctx).Model(&types.Message{}).
		Select("sender_id, COUNT(*) AS count").
		Where("org_id = ? AND receiver_id = ? AND read = ?", rc.OrgID, rc.UserID, false).
		Group("sender_id").
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Internal("count unread", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.SenderID] = r.Count
	}
	return counts, nil
}
