package tasks

import (
	"context"
	"strings"
	"time"

	"teamspace/apperr"
	"teamspace/notifications"
	"teamspace/orgs"
	"teamspace/projects"
	"teamspace/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	projects *projects.Service
	notifier *notifications.Notifier
}

func NewService(gdb *gorm.DB, projectSvc *projects.Service, notifier *notifications.Notifier) *Service {
	return &Service{db: gdb, projects: projectSvc, notifier: notifier}
}

type CreateRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	AssigneeID  string     `json:"assigneeId"`
	DueDate     *time.Time `json:"dueDate"`
}

// UpdateRequest leaves nil fields untouched. An empty AssigneeID unassigns.
type UpdateRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Status      *string    `json:"status"`
	Priority    *string    `json:"priority"`
	AssigneeID  *string    `json:"assigneeId"`
	DueDate     *time.Time `json:"dueDate"`
}

type Filter struct {
	Status     string
	AssigneeID string
}

type TaskView struct {
	types.Task
	Comments []types.TaskComment `json:"comments"`
}

func validStatus(s string) bool {
	switch s {
	case types.TaskTodo, types.TaskInProgress, types.TaskCompleted, types.TaskBlocked, types.TaskDelayed:
		return true
	}
	return false
}

func validPriority(p string) bool {
	switch p {
	case types.PriorityLow, types.PriorityMedium, types.PriorityHigh, types.PriorityUrgent:
		return true
	}
	return false
}

func (s *Service) requireProjectMember(ctx context.Context, projectID, userID string) error {
	member, err := s.projects.IsMember(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if !member {
		return apperr.Forbidden("you are not a member of this project")
	}
	return nil
}

func (s *Service) ensureAssignee(ctx context.Context, projectID, assigneeID string) error {
	member, err := s.projects.IsMember(ctx, projectID, assigneeID)
	if err != nil {
		return err
	}
	if !member {
		return apperr.Validation("the assignee must be a project member")
	}
	return nil
}

func (s *Service) notifyAssigned(ctx context.Context, rc orgs.RequestContext, task types.Task) {
	if task.AssigneeID == nil {
		return
	}
	orgID := task.OrgID
	s.notifier.Notify(ctx, types.Notification{
		OrgID:       &orgID,
		RecipientID: *task.AssigneeID,
		SenderID:    rc.UserID,
		Type:        types.NotifyTaskAssigned,
		EntityType:  "task",
		EntityID:    task.ID,
		Message:     "You were assigned " + task.Title,
	})
}

func (s *Service) Create(ctx context.Context, rc orgs.RequestContext, projectID string, req CreateRequest) (types.Task, error) {
	if !rc.CanContribute() {
		return types.Task{}, apperr.Forbidden("guests cannot create tasks")
	}
	project, err := s.projects.Load(ctx, rc, projectID)
	if err != nil {
		return types.Task{}, err
	}
	if err := s.requireProjectMember(ctx, project.ID, rc.UserID); err != nil {
		return types.Task{}, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return types.Task{}, apperr.Validation("task title is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = types.PriorityMedium
	}
	if !validPriority(priority) {
		return types.Task{}, apperr.Validation("invalid task priority")
	}

	task := types.Task{
		OrgID:       rc.OrgID,
		ProjectID:   project.ID,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Status:      types.TaskTodo,
		Priority:    priority,
		DueDate:     req.DueDate,
		CreatedBy:   rc.UserID,
	}
	if assignee := strings.TrimSpace(req.AssigneeID); assignee != "" {
		if err := s.ensureAssignee(ctx, project.ID, assignee); err != nil {
			return types.Task{}, err
		}
		task.AssigneeID = &assignee
	}

	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return types.Task{}, apperr.Internal("create task", err)
	}
	s.notifyAssigned(ctx, rc, task)
	return task, nil
}

func (s *Service) List(ctx context.Context, rc orgs.RequestContext, projectID string, filter Filter) ([]types.Task, error) {
	project, err := s.projects.Load(ctx, rc, projectID)
	if err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Where("project_id = ?", project.ID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.AssigneeID != "" {
		q = q.Where("assignee_id = ?", filter.AssigneeID)
	}
	var tasks []types.Task
	if err := q.Order("created_at ASC").Find(&tasks).Error; err != nil {
		return nil, apperr.Internal("list tasks", err)
	}
	return tasks, nil
}

// load fetches a task in the caller's org and checks the caller can see its project.
func (s *Service) load(ctx context.Context, rc orgs.RequestContext, taskID string) (types.Task, types.Project, error) {
	var task types.Task
	if err := s.db.WithContext(ctx).First(&task, "id = ? AND org_id = ?", taskID, rc.OrgID).Error; err != nil {
		return types.Task{}, types.Project{}, apperr.FromDB(err, "task not found")
	}
	project, err := s.projects.Load(ctx, rc, task.ProjectID)
	if err != nil {
		return types.Task{}, types.Project{}, err
	}
	return task, project, nil
}

func (s *Service) Get(ctx context.Context, rc orgs.RequestContext, taskID string) (TaskView, error) {
	task, _, err := s.load(ctx, rc, taskID)
	if err != nil {
		return TaskView{}, err
	}
	comments := []types.TaskComment{}
	if err := s.db.WithContext(ctx).Where("task_id = ?", task.ID).Order("created_at ASC").Find(&comments).Error; err != nil {
		return TaskView{}, apperr.Internal("list comments", err)
	}
	return TaskView{Task: task, Comments: comments}, nil
}

func (s *Service) Update(ctx context.Context, rc orgs.RequestContext, taskID string, req UpdateRequest) (types.Task, error) {
	if !rc.CanContribute() {
		return types.Task{}, apperr.Forbidden("guests cannot edit tasks")
	}
	task, project, err := s.load(ctx, rc, taskID)
	if err != nil {
		return types.Task{}, err
	}
	if !rc.IsAdmin() {
		if err := s.requireProjectMember(ctx, project.ID, rc.UserID); err != nil {
			return types.Task{}, err
		}
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return types.Task{}, apperr.Validation("task title is required")
		}
		updates["title"] = title
	}
	if req.Description != nil {
		updates["description"] = strings.TrimSpace(*req.Description)
	}
	if req.Status != nil {
		if !validStatus(*req.Status) {
			return types.Task{}, apperr.Validation("invalid task status")
		}
		updates["status"] = *req.Status
	}
	if req.Priority != nil {
		if !validPriority(*req.Priority) {
			return types.Task{}, apperr.Validation("invalid task priority")
		}
		updates["priority"] = *req.Priority
	}
	if req.DueDate != nil {
		updates["due_date"] = *req.DueDate
	}

	reassigned := false
	if req.AssigneeID != nil {
		assignee := strings.TrimSpace(*req.AssigneeID)
		if assignee == "" {
			updates["assignee_id"] = nil
		} else {
			if err := s.ensureAssignee(ctx, project.ID, assignee); err != nil {
				return types.Task{}, err
			}
			updates["assignee_id"] = assignee
			reassigned = task.AssigneeID == nil || *task.AssigneeID != assignee
		}
	}
	if len(updates) == 0 {
		return task, nil
	}

	if err := s.db.WithContext(ctx).Model(&task).Updates(updates).Error; err != nil {
		return types.Task{}, apperr.Internal("update task", err)
	}
	if err := s.db.WithContext(ctx).First(&task, "id = ?", task.ID).Error; err != nil {
		return types.Task{}, apperr.FromDB(err, "task not found")
	}
	if reassigned {
		s.notifyAssigned(ctx, rc, task)
	}
	return task, nil
}

// Delete is open to the task creator, the project lead and org admins.
func (s *Service) Delete(ctx context.Context, rc orgs.RequestContext, taskID string) error {
	task, project, err := s.load(ctx, rc, taskID)
	if err != nil {
		return err
	}
	if task.CreatedBy != rc.UserID && project.LeadID != rc.UserID && !rc.IsAdmin() {
		return apperr.Forbidden("you cannot delete this task")
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", task.ID).Delete(&types.TaskComment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&task).Error
	})
	if err != nil {
		return apperr.Internal("delete task", err)
	}
	return nil
}

// AddComment stores a comment. Mentions outside the project are dropped; the
// rest are notified.
func (s *Service) AddComment(ctx context.Context, rc orgs.RequestContext, taskID, text string, mentions []string) (types.TaskComment, error) {
	task, project, err := s.load(ctx, rc, taskID)
	if err != nil {
		return types.TaskComment{}, err
	}
	if err := s.requireProjectMember(ctx, project.ID, rc.UserID); err != nil {
		return types.TaskComment{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return types.TaskComment{}, apperr.Validation("comment text is required")
	}

	mentioned := []string{}
	if ids := orgs.Dedupe(mentions); len(ids) > 0 {
		err := s.db.WithContext(ctx).Model(&types.ProjectMember{}).
			Where("project_id = ? AND user_id IN ?", project.ID, ids).
			Pluck("user_id", &mentioned).Error
		if err != nil {
			return types.TaskComment{}, apperr.Internal("resolve mentions", err)
		}
	}

	comment := types.TaskComment{
		TaskID:   task.ID,
		AuthorID: rc.UserID,
		Text:     text,
		Mentions: datatypes.JSONSlice[string](mentioned),
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		return types.TaskComment{}, apperr.Internal("create comment", err)
	}

	orgID := task.OrgID
	notes := make([]types.Notification, 0, len(mentioned))
	for _, id := range mentioned {
		notes = append(notes, types.Notification{
			OrgID:       &orgID,
			RecipientID: id,
			SenderID:    rc.UserID,
			Type:        types.NotifyMention,
			EntityType:  "task",
			EntityID:    task.ID,
			Message:     "You were mentioned on " + task.Title,
		})
	}
	s.notifier.Notify(ctx, notes...)
	return comment, nil
}
