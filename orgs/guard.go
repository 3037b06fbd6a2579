package orgs

import (
	"errors"

	"teamspace/apperr"
	"teamspace/auth"
	"teamspace/types"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	OrgHeader  = "X-Org-ID"
	contextKey = "requestContext"
)

// RequestContext is the authenticated user, the organization the request is
// scoped to, and the user's role there. The guard builds it once per request.
type RequestContext struct {
	UserID string
	OrgID  string
	Role   string
}

func (rc RequestContext) IsOwner() bool { return rc.Role == types.RoleOwner }

func (rc RequestContext) IsAdmin() bool {
	return rc.Role == types.RoleOwner || rc.Role == types.RoleAdmin
}

// CanContribute is false for guests, who may read but not create projects or tasks.
func (rc RequestContext) CanContribute() bool { return rc.Role != types.RoleGuest }

// Guard resolves the organization from the :orgId route param or the X-Org-ID
// header and rejects callers without a membership there.
func Guard(gdb *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := c.Param("orgId")
		if orgID == "" {
			orgID = c.GetHeader(OrgHeader)
		}
		if orgID == "" {
			apperr.Respond(c, apperr.Validation("organization context is required"))
			return
		}

		userID := auth.CurrentUserID(c)
		var membership types.Membership
		err := gdb.WithContext(c.Request.Context()).
			Where("org_id = ? AND user_id = ?", orgID, userID).
			First(&membership).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				apperr.Respond(c, apperr.Forbidden("not a member of this organization"))
			} else {
				apperr.Respond(c, apperr.Internal("membership lookup", err))
			}
			return
		}

		c.Set(contextKey, RequestContext{UserID: userID, OrgID: orgID, Role: membership.Role})
		c.Next()
	}
}

// Context returns the RequestContext stored by Guard. Handlers behind the
// guard can rely on it being present.
func Context(c *gin.Context) RequestContext {
	if v, ok := c.Get(contextKey); ok {
		if rc, ok := v.(RequestContext); ok {
			return rc
		}
	}
	return RequestContext{UserID: auth.CurrentUserID(c)}
}

// SetContext is used by tests that exercise handlers without the guard.
func SetContext(c *gin.Context, rc RequestContext) {
	auth.SetCurrentUserID(c, rc.UserID)
	c.Set(contextKey, rc)
}
