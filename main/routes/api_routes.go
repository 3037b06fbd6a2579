package routes

import (
	"time"

	"teamspace/auth"
	"teamspace/calendar"
	"teamspace/channels"
	"teamspace/config"
	"teamspace/connections"
	"teamspace/groups"
	"teamspace/messages"
	"teamspace/notifications"
	"teamspace/orgs"
	"teamspace/projects"
	"teamspace/realtime"
	"teamspace/tasks"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handlers carries everything the route table needs.
type Handlers struct {
	DB            *gorm.DB
	Sessions      *auth.Sessions
	Auth          *auth.Handler
	Orgs          *orgs.Handler
	Connections   *connections.Store
	Messages      *messages.Handler
	Groups        *groups.Handler
	Channels      *channels.Handler
	Notifications *notifications.Notifier
	Projects      *projects.Service
	Tasks         *tasks.Service
	Calendar      *calendar.Service
	Hub           *realtime.Hub
}

func SetupAPIRoutes(r *gin.Engine, h Handlers, cfg *config.Config) {
	requireAuth := auth.AuthMiddleware(h.Sessions)
	guard := orgs.Guard(h.DB)
	sendLimit := RateLimit(time.Minute, cfg.OTP.SendPerMinute)
	// One budget for both code-checking endpoints so guesses cannot be split across them.
	verifyLimit := RateLimit(time.Minute, cfg.OTP.VerifyPerMinute)

	a := r.Group("/auth")
	{
		a.POST("/send-otp", sendLimit, h.Auth.HandleSendOTP)
		a.POST("/verify-otp", verifyLimit, h.Auth.HandleVerifyOTP)
		a.POST("/google", h.Auth.HandleGoogle)
		a.GET("/me", requireAuth, h.Auth.HandleMe)
		a.PATCH("/me", requireAuth, h.Auth.HandleUpdateProfile)
		a.POST("/email-change", requireAuth, RateLimit(time.Minute, cfg.OTP.ChangePerMinute), h.Auth.HandleRequestEmailChange)
		a.POST("/email-change/verify", requireAuth, verifyLimit, h.Auth.HandleConfirmEmailChange)
	}

	o := r.Group("/orgs", requireAuth)
	{
		o.POST("/create", h.Orgs.HandleCreate)
		o.POST("/join", h.Orgs.HandleJoin)
		o.GET("/data", h.Orgs.HandleData)
		o.POST("/:orgId/switch", guard, h.Orgs.HandleSwitch)
		o.GET("/:orgId/members", guard, h.Orgs.HandleMembers)
		o.PATCH("/:orgId/members/:userId", guard, h.Orgs.HandleSetRole)
		o.DELETE("/:orgId/members/:userId", guard, h.Orgs.HandleRemoveMember)
	}

	// Connections are per user, not per org.
	cn := r.Group("/connections", requireAuth)
	{
		cn.GET("", h.Connections.HandleList)
		cn.GET("/pending", h.Connections.HandlePending)
		cn.POST("/request", h.Connections.HandleRequest)
		cn.POST("/accept", h.Connections.HandleAccept)
		cn.POST("/reject", h.Connections.HandleReject)
		cn.POST("/archive", h.Connections.HandleArchive)
		cn.DELETE("/:friendId", h.Connections.HandleRemove)
	}

	// Everything below takes its org from the X-Org-ID header.
	m := r.Group("/messages", requireAuth, guard)
	{
		m.GET("/contacts", h.Messages.HandleContacts)
		m.GET("/:id", h.Messages.HandleHistory)
		m.POST("/send/:id", h.Messages.HandleSend)
		m.POST("/read/:id", h.Messages.HandleMarkRead)
		m.DELETE("/conversation/:id", h.Messages.HandleDeleteConversation)
		m.DELETE("/:id", h.Messages.HandleDelete)
	}

	g := r.Group("/groups", requireAuth, guard)
	{
		g.GET("", h.Groups.HandleList)
		g.POST("/create", h.Groups.HandleCreate)
		g.POST("/send/:groupId", h.Groups.HandleSend)
		g.GET("/:groupId/messages", h.Groups.HandleMessages)
		g.POST("/:groupId/read", h.Groups.HandleMarkRead)
		g.POST("/:groupId/members", h.Groups.HandleAddMembers)
		g.DELETE("/:groupId/members/:userId", h.Groups.HandleRemoveMember)
	}

	ch := r.Group("/channels", requireAuth, guard)
	{
		ch.GET("", h.Channels.HandleList)
		ch.POST("/create", h.Channels.HandleCreate)
		ch.POST("/:channelId/join", h.Channels.HandleJoin)
		ch.POST("/:channelId/send", h.Channels.HandleSend)
		ch.GET("/:channelId/messages", h.Channels.HandleMessages)
		ch.POST("/:channelId/read", h.Channels.HandleMarkRead)
	}

	n := r.Group("/notifications", requireAuth, guard)
	{
		n.GET("", h.Notifications.HandleList)
		n.POST("/read-all", h.Notifications.HandleMarkAllRead)
		n.POST("/:id/read", h.Notifications.HandleMarkRead)
	}

	p := r.Group("/projects", requireAuth, guard)
	{
		p.GET("", h.Projects.HandleList)
		p.POST("/create", h.Projects.HandleCreate)
		p.GET("/:projectId", h.Projects.HandleGet)
		p.PATCH("/:projectId", h.Projects.HandleUpdate)
		p.POST("/:projectId/members", h.Projects.HandleAddMembers)
		p.GET("/:projectId/tasks", h.Tasks.HandleList)
		p.POST("/:projectId/tasks", h.Tasks.HandleCreate)
	}

	t := r.Group("/tasks", requireAuth, guard)
	{
		t.GET("/:taskId", h.Tasks.HandleGet)
		t.PATCH("/:taskId", h.Tasks.HandleUpdate)
		t.DELETE("/:taskId", h.Tasks.HandleDelete)
		t.POST("/:taskId/comments", h.Tasks.HandleAddComment)
	}

	cal := r.Group("/calendar/:orgId/events", requireAuth, guard)
	{
		cal.GET("", h.Calendar.HandleList)
		cal.POST("", h.Calendar.HandleCreate)
		cal.GET("/:eventId", h.Calendar.HandleGet)
		cal.DELETE("/:eventId", h.Calendar.HandleDelete)
		cal.GET("/:eventId/ice", h.Calendar.HandleICE)
	}
}
