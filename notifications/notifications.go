package notifications

import (
	"context"
	"net/http"
	"strconv"

	"teamspace/apperr"
	"teamspace/orgs"
	"teamspace/realtime"
	"teamspace/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notifier persists notifications and pushes them to recipients who are online.
type Notifier struct {
	db          *gorm.DB
	broadcaster realtime.Broadcaster
	log         *zap.Logger
}

func NewNotifier(gdb *gorm.DB, broadcaster realtime.Broadcaster, log *zap.Logger) *Notifier {
	return &Notifier{db: gdb, broadcaster: broadcaster, log: log}
}

// Notify is a side effect of some other write, so failures are logged and
// not returned. Notifications addressed to their own sender are skipped.
func (n *Notifier) Notify(ctx context.Context, notes ...types.Notification) {
	for i := range notes {
		note := notes[i]
		if note.RecipientID == "" || note.RecipientID == note.SenderID {
			continue
		}
		if err := n.db.WithContext(ctx).Create(&note).Error; err != nil {
			n.log.Error("failed to store notification",
				zap.String("type", note.Type),
				zap.String("recipient_id", note.RecipientID),
				zap.Error(err))
			continue
		}
		n.broadcaster.PublishToUser(note.RecipientID, realtime.WSMessage{Type: realtime.EventNotification, Data: note})
	}
}

// List returns the user's notifications for orgID plus ones not tied to any org.
func (n *Notifier) List(ctx context.Context, rc orgs.RequestContext, unreadOnly bool, limit int) ([]types.Notification, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	scope := func(db *gorm.DB) *gorm.DB {
		return db.Where("recipient_id = ? AND (org_id = ? OR org_id IS NULL)", rc.UserID, rc.OrgID)
	}

	q := n.db.WithContext(ctx).Model(&types.Notification{}).Scopes(scope)
	if unreadOnly {
		q = q.Where("read = ?", false)
	}
	var notes []types.Notification
	if err := q.Order("created_at DESC").Limit(limit).Find(&notes).Error; err != nil {
		return nil, 0, apperr.Internal("list notifications", err)
	}

	var unread int64
	err := n.db.WithContext(ctx).Model(&types.Notification{}).Scopes(scope).Where("read = ?", false).Count(&unread).Error
	if err != nil {
		return nil, 0, apperr.Internal("count notifications", err)
	}
	return notes, unread, nil
}

func (n *Notifier) MarkRead(ctx context.Context, userID, id string) error {
	res := n.db.WithContext(ctx).Model(&types.Notification{}).
		Where("id = ? AND recipient_id = ?", id, userID).
		Update("read", true)
	if res.Error != nil {
		return apperr.Internal("mark notification read", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("notification not found")
	}
	return nil
}

func (n *Notifier) MarkAllRead(ctx context.Context, rc orgs.RequestContext) (int64, error) {
	res := n.db.WithContext(ctx).Model(&types.Notification{}).
		Where("recipient_id = ? AND (org_id = ? OR org_id IS NULL) AND read = ?", rc.UserID, rc.OrgID, false).
		Update("read", true)
	if res.Error != nil {
		return 0, apperr.Internal("mark notifications read", res.Error)
	}
	return res.RowsAffected, nil
}

func (n *Notifier) HandleList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	notes, unread, err := n.List(c.Request.Context(), orgs.Context(c), c.Query("unread") == "true", limit)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notes, "unread": unread})
}

func (n *Notifier) HandleMarkRead(c *gin.Context) {
	if err := n.MarkRead(c.Request.Context(), orgs.Context(c).UserID, c.Param("id")); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
}

func (n *Notifier) HandleMarkAllRead(c *gin.Context) {
	count, err := n.MarkAllRead(c.Request.Context(), orgs.Context(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": count})
}
