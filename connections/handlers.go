package connections

import (
	"net/http"

	"teamspace/apperr"
	"teamspace/auth"

	"github.com/gin-gonic/gin"
)

type friendRequest struct {
	FriendID string `json:"friendId"`
}

func bindFriend(c *gin.Context) (string, bool) {
	var json friendRequest
	if err := c.ShouldBindJSON(&json); err != nil || json.FriendID == "" {
		apperr.Respond(c, apperr.Validation("friendId is required"))
		return "", false
	}
	return json.FriendID, true
}

func (s *Store) HandleRequest(c *gin.Context) {
	friendID, ok := bindFriend(c)
	if !ok {
		return
	}
	conn, err := s.Request(c.Request.Context(), auth.CurrentUserID(c), friendID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, conn)
}

func (s *Store) HandleAccept(c *gin.Context) {
	friendID, ok := bindFriend(c)
	if !ok {
		return
	}
	conn, err := s.Accept(c.Request.Context(), auth.CurrentUserID(c), friendID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, conn)
}

func (s *Store) HandleReject(c *gin.Context) {
	friendID, ok := bindFriend(c)
	if !ok {
		return
	}
	conn, err := s.Reject(c.Request.Context(), auth.CurrentUserID(c), friendID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, conn)
}

func (s *Store) HandleArchive(c *gin.Context) {
	var json struct {
		FriendID string `json:"friendId"`
		Archived bool   `json:"archived"`
	}
	if err := c.ShouldBindJSON(&json); err != nil || json.FriendID == "" {
		apperr.Respond(c, apperr.Validation("friendId is required"))
		return
	}
	if err := s.SetArchived(c.Request.Context(), auth.CurrentUserID(c), json.FriendID, json.Archived); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friendId": json.FriendID, "archived": json.Archived})
}

func (s *Store) HandleRemove(c *gin.Context) {
	if err := s.Remove(c.Request.Context(), auth.CurrentUserID(c), c.Param("friendId")); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Connection removed"})
}

func (s *Store) HandleList(c *gin.Context) {
	contacts, err := s.Contacts(c.Request.Context(), auth.CurrentUserID(c), "", true)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, contacts)
}

func (s *Store) HandlePending(c *gin.Context) {
	pending, err := s.Pending(c.Request.Context(), auth.CurrentUserID(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, pending)
}
