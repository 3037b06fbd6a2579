package orgs

import (
	"context"
	"net/http"

	"teamspace/apperr"
	"teamspace/auth"

	"github.com/gin-gonic/gin"
)

// LiveSessions reports presence and re-checks live room subscriptions;
// satisfied by the realtime hub.
type LiveSessions interface {
	IsOnline(userID string) bool
	RevalidateRooms(ctx context.Context, userID string)
}

type Handler struct {
	svc      *Service
	presence LiveSessions
}

func NewHandler(svc *Service, presence LiveSessions) *Handler {
	return &Handler{svc: svc, presence: presence}
}

func (h *Handler) HandleCreate(c *gin.Context) {
	var json struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("Invalid request data"))
		return
	}

	org, err := h.svc.Create(c.Request.Context(), auth.CurrentUserID(c), json.Name)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, org)
}

func (h *Handler) HandleJoin(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.Validation("Invalid request data"))
		return
	}

	org, err := h.svc.Join(c.Request.Context(), auth.CurrentUserID(c), req)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": org.ID, "name": org.Name, "slug": org.Slug, "role": "member"})
}

func (h *Handler) HandleData(c *gin.Context) {
	views, lastActive, err := h.svc.ListForUser(c.Request.Context(), auth.CurrentUserID(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organizations": views, "lastActiveOrgId": lastActive})
}

func (h *Handler) HandleSwitch(c *gin.Context) {
	rc := Context(c)
	if err := h.svc.Switch(c.Request.Context(), rc); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lastActiveOrgId": rc.OrgID})
}

func (h *Handler) HandleMembers(c *gin.Context) {
	members, err := h.svc.Members(c.Request.Context(), Context(c).OrgID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if h.presence != nil {
		for i := range members {
			members[i].Online = h.presence.IsOnline(members[i].UserID)
		}
	}
	c.JSON(http.StatusOK, members)
}

func (h *Handler) HandleSetRole(c *gin.Context) {
	var json struct {
		Role string `json:"role"`
	}
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("Invalid request data"))
		return
	}

	if err := h.svc.SetRole(c.Request.Context(), Context(c), c.Param("userId"), json.Role); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": c.Param("userId"), "role": json.Role})
}

func (h *Handler) HandleRemoveMember(c *gin.Context) {
	if err := h.svc.RemoveMember(c.Request.Context(), Context(c), c.Param("userId")); err != nil {
		apperr.Respond(c, err)
		return
	}
	if h.presence != nil {
		h.presence.RevalidateRooms(c.Request.Context(), c.Param("userId"))
	}
	c.JSON(http.StatusOK, gin.H{"message": "Member removed"})
}
