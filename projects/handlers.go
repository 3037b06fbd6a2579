package projects

import (
	"net/http"

	"teamspace/apperr"
	"teamspace/orgs"

	"github.com/gin-gonic/gin"
)

func (s *Service) HandleCreate(c *gin.Context) {
	var json CreateRequest
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("invalid project"))
		return
	}
	project, err := s.Create(c.Request.Context(), orgs.Context(c), json)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (s *Service) HandleList(c *gin.Context) {
	projects, err := s.List(c.Request.Context(), orgs.Context(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, projects)
}

func (s *Service) HandleGet(c *gin.Context) {
	project, err := s.Get(c.Request.Context(), orgs.Context(c), c.Param("projectId"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (s *Service) HandleUpdate(c *gin.Context) {
	var json UpdateRequest
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("invalid project update"))
		return
	}
	project, err := s.Update(c.Request.Context(), orgs.Context(c), c.Param("projectId"), json)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (s *Service) HandleAddMembers(c *gin.Context) {
	var json struct {
		UserIDs []string `json:"userIds"`
	}
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("userIds is required"))
		return
	}
	members, err := s.AddMembers(c.Request.Context(), orgs.Context(c), c.Param("projectId"), json.UserIDs)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memberIds": members})
}
