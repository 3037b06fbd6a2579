package messages

import (
	"context"
	"net/http"
	"strconv"

	"teamspace/apperr"
	"teamspace/connections"
	"teamspace/conversation"
	"teamspace/orgs"
	"teamspace/realtime"
	"teamspace/types"

	"github.com/gin-gonic/gin"
)

// ContactLister returns the caller's accepted connections inside an org.
type ContactLister interface {
	Contacts(ctx context.Context, userID, orgID string, includeArchived bool) ([]connections.Contact, error)
}

type ContactView struct {
	connections.Contact
	Unread int64 `json:"unread"`
}

// Deleted is the payload of message_deleted events.
type Deleted struct {
	ID        string  `json:"id"`
	SenderID  string  `json:"senderId"`
	GroupID   *string `json:"groupId,omitempty"`
	ChannelID *string `json:"channelId,omitempty"`
}

// Handler is the HTTP surface shared by direct messages, groups and channels.
// Room packages resolve their route and hand it to Send, History and MarkRead.
type Handler struct {
	store       *Store
	resolver    *conversation.Resolver
	broadcaster realtime.Broadcaster
	contacts    ContactLister
}

func NewHandler(store *Store, resolver *conversation.Resolver, broadcaster realtime.Broadcaster, contacts ContactLister) *Handler {
	return &Handler{store: store, resolver: resolver, broadcaster: broadcaster, contacts: contacts}
}

func (h *Handler) Store() *Store { return h.store }

// RevalidateRooms drops live room subscriptions userID is no longer allowed.
func (h *Handler) RevalidateRooms(ctx context.Context, userID string) {
	h.broadcaster.RevalidateRooms(ctx, userID)
}

// ParsePage reads the before and limit query parameters.
func ParsePage(c *gin.Context) Page {
	limit, _ := strconv.Atoi(c.Query("limit"))
	return Page{Before: c.Query("before"), Limit: limit}
}

// Send stores a message on a resolved route and pushes it out. Direct messages
// go to the receiver only; room messages go to everyone subscribed to the room.
func (h *Handler) Send(c *gin.Context, route conversation.Route) {
	if !route.CanWrite {
		apperr.Respond(c, apperr.Forbidden("only the admin can post here"))
		return
	}
	var body Body
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Respond(c, apperr.Validation("invalid message body"))
		return
	}

	rc := orgs.Context(c)
	view, err := h.store.Create(c.Request.Context(), rc, TargetFor(route), body)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	if route.IsRoom() {
		h.broadcaster.PublishToRoom(route.TargetID, realtime.WSMessage{Type: realtime.EventNewRoomMessage, Data: view})
	} else {
		h.broadcaster.PublishToUser(route.TargetID, realtime.WSMessage{Type: realtime.EventNewMessage, Data: view})
	}
	c.JSON(http.StatusCreated, view)
}

func (h *Handler) History(c *gin.Context, route conversation.Route) {
	rc := orgs.Context(c)
	var (
		history History
		err     error
	)
	switch target := TargetFor(route).(type) {
	case Direct:
		history, err = h.store.DirectHistory(c.Request.Context(), rc, target.To, ParsePage(c))
	case Room:
		history, err = h.store.RoomHistory(c.Request.Context(), rc, target, ParsePage(c))
	}
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *Handler) MarkRead(c *gin.Context, route conversation.Route) {
	rc := orgs.Context(c)
	var (
		count int64
		err   error
	)
	switch target := TargetFor(route).(type) {
	case Direct:
		count, err = h.store.MarkDirectRead(c.Request.Context(), rc, target.To)
	case Room:
		count, err = h.store.MarkRoomRead(c.Request.Context(), rc, target)
	}
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": count})
}

func (h *Handler) resolve(c *gin.Context) (conversation.Route, bool) {
	route, err := h.resolver.Resolve(c.Request.Context(), orgs.Context(c), c.Param("id"))
	if err != nil {
		apperr.Respond(c, err)
		return conversation.Route{}, false
	}
	return route, true
}

func (h *Handler) HandleSend(c *gin.Context) {
	if route, ok := h.resolve(c); ok {
		h.Send(c, route)
	}
}

func (h *Handler) HandleHistory(c *gin.Context) {
	if route, ok := h.resolve(c); ok {
		h.History(c, route)
	}
}

func (h *Handler) HandleMarkRead(c *gin.Context) {
	if route, ok := h.resolve(c); ok {
		h.MarkRead(c, route)
	}
}

func (h *Handler) HandleDelete(c *gin.Context) {
	msg, err := h.store.Delete(c.Request.Context(), orgs.Context(c), c.Param("id"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	event := realtime.WSMessage{
		Type: realtime.EventMessageDeleted,
		Data: Deleted{ID: msg.ID, SenderID: msg.SenderID, GroupID: msg.GroupID, ChannelID: msg.ChannelID},
	}
	h.publishDeleted(msg, event)
	c.JSON(http.StatusOK, gin.H{"message": "Message deleted", "id": msg.ID})
}

func (h *Handler) publishDeleted(msg types.Message, event realtime.WSMessage) {
	switch {
	case msg.GroupID != nil:
		h.broadcaster.PublishToRoom(*msg.GroupID, event)
	case msg.ChannelID != nil:
		h.broadcaster.PublishToRoom(*msg.ChannelID, event)
	case msg.ReceiverID != nil:
		h.broadcaster.PublishToUser(msg.SenderID, event)
		h.broadcaster.PublishToUser(*msg.ReceiverID, event)
	}
}

func (h *Handler) HandleDeleteConversation(c *gin.Context) {
	count, err := h.store.DeleteConversation(c.Request.Context(), orgs.Context(c), c.Param("id"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": count})
}

// HandleContacts lists accepted, non-archived connections in the org with
// their unread direct message counts.
func (h *Handler) HandleContacts(c *gin.Context) {
	rc := orgs.Context(c)
	contacts, err := h.contacts.Contacts(c.Request.Context(), rc.UserID, rc.OrgID, false)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	unread, err := h.store.UnreadBySender(c.Request.Context(), rc)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	views := make([]ContactView, len(contacts))
	for i, contact := range contacts {
		views[i] = ContactView{Contact: contact, Unread: unread[contact.UserID]}
	}
	c.JSON(http.StatusOK, views)
}
