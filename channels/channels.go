package channels

import (
	"context"
	"net/http"
	"strings"

	"teamspace/apperr"
	"teamspace/conversation"
	"teamspace/messages"
	"teamspace/orgs"
	"teamspace/types"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

type CreateRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Private     bool     `json:"private"`
	Members     []string `json:"members"`
}

type ChannelView struct {
	types.Channel
	Member bool `json:"member"`
}

// List returns public channels in the org plus any channel the caller is a
// member of, which covers private and project channels.
func (s *Store) List(ctx context.Context, rc orgs.RequestContext) ([]ChannelView, error) {
	var joined []string
	err := s.db.WithContext(ctx).Model(&types.ChannelMember{}).
		Joins("JOIN channels ON channels.id = channel_members.channel_id").
		Where("channels.org_id = ? AND channel_members.user_id = ?", rc.OrgID, rc.UserID).
		Pluck("channel_members.channel_id", &joined).Error
	if err != nil {
		return nil, apperr.Internal("list channel memberships", err)
	}

	q := s.db.WithContext(ctx).Where("org_id = ?", rc.OrgID)
	if len(joined) > 0 {
		q = q.Where("(private = ? AND project_id IS NULL) OR id IN ?", false, joined)
	} else {
		q = q.Where("private = ? AND project_id IS NULL", false)
	}
	var channels []types.Channel
	if err := q.Order("name ASC").Find(&channels).Error; err != nil {
		return nil, apperr.Internal("list channels", err)
	}

	member := make(map[string]bool, len(joined))
	for _, id := range joined {
		member[id] = true
	}
	views := make([]ChannelView, len(channels))
	for i, ch := range channels {
		views[i] = ChannelView{Channel: ch, Member: member[ch.ID]}
	}
	return views, nil
}

func (s *Store) Create(ctx context.Context, rc orgs.RequestContext, req CreateRequest) (types.Channel, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return types.Channel{}, apperr.Validation("channel name is required")
	}
	memberIDs := orgs.Dedupe(append([]string{rc.UserID}, req.Members...))

	channel := types.Channel{
		OrgID:       rc.OrgID,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Private:     req.Private,
		CreatedBy:   rc.UserID,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := orgs.EnsureMembers(tx, rc.OrgID, memberIDs); err != nil {
			return err
		}
		if err := tx.Create(&channel).Error; err != nil {
			return err
		}
		return AddMembers(tx, channel.ID, memberIDs)
	})
	if err != nil {
		return types.Channel{}, apperr.FromDB(err, "channel not found")
	}
	return channel, nil
}

// CreateForProject builds the private channel backing a project. It runs on
// the project's transaction; membership is checked by the caller.
func CreateForProject(tx *gorm.DB, project types.Project, memberIDs []string) (types.Channel, error) {
	projectID := project.ID
	channel := types.Channel{
		OrgID:       project.OrgID,
		Name:        project.Name,
		Description: project.Description,
		Private:     true,
		ProjectID:   &projectID,
		CreatedBy:   project.CreatedBy,
	}
	if err := tx.Create(&channel).Error; err != nil {
		return types.Channel{}, err
	}
	if err := AddMembers(tx, channel.ID, memberIDs); err != nil {
		return types.Channel{}, err
	}
	return channel, nil
}

// AddMembers is idempotent.
func AddMembers(tx *gorm.DB, channelID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	rows := make([]types.ChannelMember, len(userIDs))
	for i, id := range userIDs {
		rows[i] = types.ChannelMember{ChannelID: channelID, UserID: id}
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// Join adds the caller to a public channel.
func (s *Store) Join(ctx context.Context, rc orgs.RequestContext, channelID string) (types.Channel, error) {
	var channel types.Channel
	if err := s.db.WithContext(ctx).First(&channel, "id = ? AND org_id = ?", channelID, rc.OrgID).Error; err != nil {
		return types.Channel{}, apperr.FromDB(err, "channel not found")
	}
	if channel.Private || channel.ProjectID != nil {
		return types.Channel{}, apperr.Forbidden("this channel is private")
	}
	if err := AddMembers(s.db.WithContext(ctx), channel.ID, []string{rc.UserID}); err != nil {
		return types.Channel{}, apperr.Internal("join channel", err)
	}
	return channel, nil
}

type Handler struct {
	store    *Store
	resolver *conversation.Resolver
	messages *messages.Handler
}

func NewHandler(store *Store, resolver *conversation.Resolver, msgs *messages.Handler) *Handler {
	return &Handler{store: store, resolver: resolver, messages: msgs}
}

func (h *Handler) HandleList(c *gin.Context) {
	channels, err := h.store.List(c.Request.Context(), orgs.Context(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, channels)
}

func (h *Handler) HandleCreate(c *gin.Context) {
	var json CreateRequest
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("invalid channel"))
		return
	}
	channel, err := h.store.Create(c.Request.Context(), orgs.Context(c), json)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, channel)
}

func (h *Handler) HandleJoin(c *gin.Context) {
	channel, err := h.store.Join(c.Request.Context(), orgs.Context(c), c.Param("channelId"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, channel)
}

func (h *Handler) route(c *gin.Context) (conversation.Route, bool) {
	route, err := h.resolver.ResolveChannel(c.Request.Context(), orgs.Context(c), c.Param("channelId"))
	if err != nil {
		apperr.Respond(c, err)
		return conversation.Route{}, false
	}
	return route, true
}

func (h *Handler) HandleSend(c *gin.Context) {
	if route, ok := h.route(c); ok {
		h.messages.Send(c, route)
	}
}

func (h *Handler) HandleMessages(c *gin.Context) {
	if route, ok := h.route(c); ok {
		h.messages.History(c, route)
	}
}

func (h *Handler) HandleMarkRead(c *gin.Context) {
	if route, ok := h.route(c); ok {
		h.messages.MarkRead(c, route)
	}
}
