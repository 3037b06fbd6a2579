package calendar

import (
	"net/http"
	"time"

	"teamspace/apperr"
	"teamspace/orgs"

	"github.com/gin-gonic/gin"
)

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func (s *Service) HandleCreate(c *gin.Context) {
	var json CreateRequest
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("invalid event"))
		return
	}
	meeting, err := s.Create(c.Request.Context(), orgs.Context(c), json)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, meeting)
}

func (s *Service) HandleList(c *gin.Context) {
	from, err := parseTime(c.Query("from"))
	if err != nil {
		apperr.Respond(c, apperr.Validation("from must be an RFC 3339 time"))
		return
	}
	to, err := parseTime(c.Query("to"))
	if err != nil {
		apperr.Respond(c, apperr.Validation("to must be an RFC 3339 time"))
		return
	}
	meetings, err := s.List(c.Request.Context(), orgs.Context(c), Range{From: from, To: to})
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, meetings)
}

func (s *Service) HandleGet(c *gin.Context) {
	meeting, err := s.Get(c.Request.Context(), orgs.Context(c), c.Param("eventId"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, meeting)
}

func (s *Service) HandleDelete(c *gin.Context) {
	if err := s.Delete(c.Request.Context(), orgs.Context(c), c.Param("eventId")); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Event deleted"})
}

func (s *Service) HandleICE(c *gin.Context) {
	resp, err := s.ICEConfig(c.Request.Context(), orgs.Context(c), c.Param("eventId"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
