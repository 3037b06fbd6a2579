package tasks

import (
	"net/http"

	"teamspace/apperr"
	"teamspace/orgs"

	"github.com/gin-gonic/gin"
)

func (s *Service) HandleCreate(c *gin.Context) {
	var json CreateRequest
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("invalid task"))
		return
	}
	task, err := s.Create(c.Request.Context(), orgs.Context(c), c.Param("projectId"), json)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Service) HandleList(c *gin.Context) {
	filter := Filter{Status: c.Query("status"), AssigneeID: c.Query("assigneeId")}
	tasks, err := s.List(c.Request.Context(), orgs.Context(c), c.Param("projectId"), filter)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Service) HandleGet(c *gin.Context) {
	task, err := s.Get(c.Request.Context(), orgs.Context(c), c.Param("taskId"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Service) HandleUpdate(c *gin.Context) {
	var json UpdateRequest
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("invalid task update"))
		return
	}
	task, err := s.Update(c.Request.Context(), orgs.Context(c), c.Param("taskId"), json)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Service) HandleDelete(c *gin.Context) {
	if err := s.Delete(c.Request.Context(), orgs.Context(c), c.Param("taskId")); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task deleted"})
}

func (s *Service) HandleAddComment(c *gin.Context) {
	var json struct {
		Text     string   `json:"text"`
		Mentions []string `json:"mentions"`
	}
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("invalid comment"))
		return
	}
	comment, err := s.AddComment(c.Request.Context(), orgs.Context(c), c.Param("taskId"), json.Text, json.Mentions)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}
