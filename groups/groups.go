package groups

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

var onConflictDoNothing = clause.OnConflict{DoNothing: true}

type Service struct {
	db *gorm.DB
}

func NewService(gdb *gorm.DB) *Service {
	return &Service{db: gdb}
}

type GroupView struct {
	types.Group
	MemberIDs []string `json:"memberIds"`
}

type CreateRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
	Type    string   `json:"type"`
}

// List returns the groups in the org the caller belongs to, most recently
// active first.
func (s *Service) List(ctx context.Context, rc orgs.RequestContext) ([]GroupView, error) {
	var groups []types.Group
	err := s.db.WithContext(ctx).
		Joins("JOIN group_members ON group_members.group_id = groups.id").
		Where("groups.org_id = ? AND group_members.user_id = ?", rc.OrgID, rc.UserID).
		Order("groups.updated_at DESC").
		Find(&groups).Error
	if err != nil {
		return nil, apperr.Internal("list groups", err)
	}
	if len(groups) == 0 {
		return []GroupView{}, nil
	}

	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}
	var members []types.GroupMember
	if err := s.db.WithContext(ctx).Where("group_id IN ?", ids).Order("created_at ASC").Find(&members).Error; err != nil {
		return nil, apperr.Internal("list group members", err)
	}
	byGroup := make(map[string][]string, len(groups))
	for _, m := range members {
		byGroup[m.GroupID] = append(byGroup[m.GroupID], m.UserID)
	}

	views := make([]GroupView, len(groups))
	for i, g := range groups {
		views[i] = GroupView{Group: g, MemberIDs: byGroup[g.ID]}
	}
	return views, nil
}

// Create makes the caller admin and first member. Every other member must
// belong to the org.
func (s *Service) Create(ctx context.Context, rc orgs.RequestContext, req CreateRequest) (GroupView, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return GroupView{}, apperr.Validation("group name is required")
	}
	kind := req.Type
	if kind == "" {
		kind = types.GroupKindGroup
	}
	if kind != types.GroupKindGroup && kind != types.GroupKindChannel {
		return GroupView{}, apperr.Validation("type must be group or channel")
	}
	memberIDs := orgs.Dedupe(append([]string{rc.UserID}, req.Members...))

	group := types.Group{OrgID: rc.OrgID, Name: name, Kind: kind, AdminID: rc.UserID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := orgs.EnsureMembers(tx, rc.OrgID, memberIDs); err != nil {
			return err
		}
		if err := tx.Create(&group).Error; err != nil {
			return err
		}
		return addMembers(tx, group.ID, memberIDs)
	})
	if err != nil {
		return GroupView{}, apperr.FromDB(err, "group not found")
	}
	return GroupView{Group: group, MemberIDs: memberIDs}, nil
}

func addMembers(tx *gorm.DB, groupID string, userIDs []string) error {
	rows := make([]types.GroupMember, len(userIDs))
	for i, id := range userIDs {
		rows[i] = types.GroupMember{GroupID: groupID, UserID: id}
	}
	return tx.Clauses(onConflictDoNothing).Create(&rows).Error
}

func (s *Service) adminGroup(ctx context.Context, rc orgs.RequestContext, groupID string) (types.Group, error) {
	var group types.Group
	if err := s.db.WithContext(ctx).First(&group, "id = ? AND org_id = ?", groupID, rc.OrgID).Error; err != nil {
		return types.Group{}, apperr.FromDB(err, "group not found")
	}
	return group, nil
}

// AddMembers is admin only.
func (s *Service) AddMembers(ctx context.Context, rc orgs.RequestContext, groupID string, userIDs []string) error {
	group, err := s.adminGroup(ctx, rc, groupID)
	if err != nil {
		return err
	}
	if group.AdminID != rc.UserID {
		return apperr.Forbidden("only the group admin can add members")
	}
	ids := orgs.Dedupe(userIDs)
	if len(ids) == 0 {
		return apperr.Validation("userIds is required")
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := orgs.EnsureMembers(tx, rc.OrgID, ids); err != nil {
			return err
		}
		return addMembers(tx, group.ID, ids)
	})
	return apperr.FromDB(err, "group not found")
}

// RemoveMember lets the admin remove anyone but themselves, and any member
// leave on their own.
func (s *Service) RemoveMember(ctx context.Context, rc orgs.RequestContext, groupID, userID string) error {
	group, err := s.adminGroup(ctx, rc, groupID)
	if err != nil {
		return err
	}
	if userID == group.AdminID {
		return apperr.Validation("the group admin cannot leave the group")
	}
	if rc.UserID != group.AdminID && rc.UserID != userID {
		return apperr.Forbidden("only the group admin can remove members")
	}
	res := s.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", group.ID, userID).Delete(&types.GroupMember{})
	if res.Error != nil {
		return apperr.Internal("remove group member", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("member not found")
	}
	return nil
}

type Handler struct {
	svc      *Service
	resolver *conversation.Resolver
	messages *messages.Handler
}

func NewHandler(svc *Service, resolver *conversation.Resolver, msgs *messages.Handler) *Handler {
	return &Handler{svc: svc, resolver: resolver, messages: msgs}
}

func (h *Handler) HandleList(c *gin.Context) {
	groups, err := h.svc.List(c.Request.Context(), orgs.Context(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

func (h *Handler) HandleCreate(c *gin.Context) {
	var json CreateRequest
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("invalid group"))
		return
	}
	group, err := h.svc.Create(c.Request.Context(), orgs.Context(c), json)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

func (h *Handler) route(c *gin.Context) (conversation.Route, bool) {
	route, err := h.resolver.ResolveGroup(c.Request.Context(), orgs.Context(c), c.Param("groupId"))
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

func (h *Handler) HandleAddMembers(c *gin.Context) {
	var json struct {
		UserIDs []string `json:"userIds"`
	}
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("userIds is required"))
		return
	}
	if err := h.svc.AddMembers(c.Request.Context(), orgs.Context(c), c.Param("groupId"), json.UserIDs); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Members added"})
}

func (h *Handler) HandleRemoveMember(c *gin.Context) {
	if err := h.svc.RemoveMember(c.Request.Context(), orgs.Context(c), c.Param("groupId"), c.Param("userId")); err != nil {
		apperr.Respond(c, err)
		return
	}
	h.messages.RevalidateRooms(c.Request.Context(), c.Param("userId"))
	c.JSON(http.StatusOK, gin.H{"message": "Member removed"})
}
