package projects

import (
	"context"
	"strings"

	"teamspace/apperr"
	"teamspace/channels"
	"teamspace/notifications"
	"teamspace/orgs"
	"teamspace/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db       *gorm.DB
	notifier *notifications.Notifier
}

func NewService(gdb *gorm.DB, notifier *notifications.Notifier) *Service {
	return &Service{db: gdb, notifier: notifier}
}

type CreateRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	LeadID      string   `json:"leadId"`
	Members     []string `json:"members"`
}

type UpdateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	LeadID      *string `json:"leadId"`
}

type ProjectView struct {
	types.Project
	MemberIDs []string `json:"memberIds"`
}

func validStatus(status string) bool {
	switch status {
	case types.ProjectActive, types.ProjectCompleted, types.ProjectOnHold:
		return true
	}
	return false
}

// Create writes the project, its private channel and both member sets in one
// transaction. The member set is the creator plus req.Members.
func (s *Service) Create(ctx context.Context, rc orgs.RequestContext, req CreateRequest) (ProjectView, error) {
	if !rc.CanContribute() {
		return ProjectView{}, apperr.Forbidden("guests cannot create projects")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return ProjectView{}, apperr.Validation("project name is required")
	}
	status := req.Status
	if status == "" {
		status = types.ProjectActive
	}
	if !validStatus(status) {
		return ProjectView{}, apperr.Validation("invalid project status")
	}

	memberIDs := orgs.Dedupe(append([]string{rc.UserID}, req.Members...))
	leadID := strings.TrimSpace(req.LeadID)
	if leadID == "" {
		leadID = rc.UserID
	}
	if !contains(memberIDs, leadID) {
		return ProjectView{}, apperr.Validation("the project lead must be a member")
	}

	project := types.Project{
		OrgID:       rc.OrgID,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Status:      status,
		LeadID:      leadID,
		CreatedBy:   rc.UserID,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := orgs.EnsureMembers(tx, rc.OrgID, memberIDs); err != nil {
			return err
		}
		if err := tx.Create(&project).Error; err != nil {
			return err
		}
		channel, err := channels.CreateForProject(tx, project, memberIDs)
		if err != nil {
			return err
		}
		project.ChannelID = channel.ID
		if err := tx.Model(&project).Update("channel_id", channel.ID).Error; err != nil {
			return err
		}
		return addProjectMembers(tx, project.ID, memberIDs)
	})
	if err != nil {
		return ProjectView{}, apperr.FromDB(err, "project not found")
	}

	s.notifyAdded(ctx, rc, project, memberIDs)
	return ProjectView{Project: project, MemberIDs: memberIDs}, nil
}

func addProjectMembers(tx *gorm.DB, projectID string, userIDs []string) error {
	rows := make([]types.ProjectMember, len(userIDs))
	for i, id := range userIDs {
		rows[i] = types.ProjectMember{ProjectID: projectID, UserID: id}
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (s *Service) notifyAdded(ctx context.Context, rc orgs.RequestContext, project types.Project, userIDs []string) {
	orgID := project.OrgID
	notes := make([]types.Notification, 0, len(userIDs))
	for _, id := range userIDs {
		notes = append(notes, types.Notification{
			OrgID:       &orgID,
			RecipientID: id,
			SenderID:    rc.UserID,
			Type:        types.NotifyProjectAdded,
			EntityType:  "project",
			EntityID:    project.ID,
			Message:     "You were added to project " + project.Name,
		})
	}
	s.notifier.Notify(ctx, notes...)
}

// List returns the caller's projects. Org admins see every project in the org.
func (s *Service) List(ctx context.Context, rc orgs.RequestContext) ([]types.Project, error) {
	q := s.db.WithContext(ctx).Where("projects.org_id = ?", rc.OrgID)
	if !rc.IsAdmin() {
		q = q.Joins("JOIN project_members ON project_members.project_id = projects.id").
			Where("project_members.user_id = ?", rc.UserID)
	}
	var projects []types.Project
	if err := q.Order("projects.created_at DESC").Find(&projects).Error; err != nil {
		return nil, apperr.Internal("list projects", err)
	}
	return projects, nil
}

// Load returns a project in the caller's org that the caller may see.
func (s *Service) Load(ctx context.Context, rc orgs.RequestContext, projectID string) (types.Project, error) {
	var project types.Project
	if err := s.db.WithContext(ctx).First(&project, "id = ? AND org_id = ?", projectID, rc.OrgID).Error; err != nil {
		return types.Project{}, apperr.FromDB(err, "project not found")
	}
	if rc.IsAdmin() {
		return project, nil
	}
	member, err := s.IsMember(ctx, project.ID, rc.UserID)
	if err != nil {
		return types.Project{}, err
	}
	if !member {
		return types.Project{}, apperr.Forbidden("you are not a member of this project")
	}
	return project, nil
}

func (s *Service) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&types.ProjectMember{}).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Count(&count).Error
	if err != nil {
		return false, apperr.Internal("project membership lookup", err)
	}
	return count > 0, nil
}

func (s *Service) MemberIDs(ctx context.Context, projectID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&types.ProjectMember{}).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, apperr.Internal("list project members", err)
	}
	return ids, nil
}

func (s *Service) Get(ctx context.Context, rc orgs.RequestContext, projectID string) (ProjectView, error) {
	project, err := s.Load(ctx, rc, projectID)
	if err != nil {
		return ProjectView{}, err
	}
	ids, err := s.MemberIDs(ctx, project.ID)
	if err != nil {
		return ProjectView{}, err
	}
	return ProjectView{Project: project, MemberIDs: ids}, nil
}

func canManage(rc orgs.RequestContext, project types.Project) bool {
	return rc.IsAdmin() || project.LeadID == rc.UserID
}

// Update is open to the project lead and org admins.
func (s *Service) Update(ctx context.Context, rc orgs.RequestContext, projectID string, req UpdateRequest) (types.Project, error) {
	project, err := s.Load(ctx, rc, projectID)
	if err != nil {
		return types.Project{}, err
	}
	if !canManage(rc, project) {
		return types.Project{}, apperr.Forbidden("only the project lead can edit this project")
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return types.Project{}, apperr.Validation("project name is required")
		}
		updates["name"] = name
	}
	if req.Description != nil {
		updates["description"] = strings.TrimSpace(*req.Description)
	}
	if req.Status != nil {
		if !validStatus(*req.Status) {
			return types.Project{}, apperr.Validation("invalid project status")
		}
		updates["status"] = *req.Status
	}
	if req.LeadID != nil {
		member, err := s.IsMember(ctx, project.ID, *req.LeadID)
		if err != nil {
			return types.Project{}, err
		}
		if !member {
			return types.Project{}, apperr.Validation("the project lead must be a member")
		}
		updates["lead_id"] = *req.LeadID
	}
	if len(updates) == 0 {
		return project, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&project).Updates(updates).Error; err != nil {
			return err
		}
		if name, ok := updates["name"]; ok {
			return tx.Model(&types.Channel{}).Where("id = ?", project.ChannelID).Update("name", name).Error
		}
		return nil
	})
	if err != nil {
		return types.Project{}, apperr.Internal("update project", err)
	}
	err = s.db.WithContext(ctx).First(&project, "id = ?", project.ID).Error
	return project, apperr.FromDB(err, "project not found")
}

// AddMembers adds users to the project and its channel together.
func (s *Service) AddMembers(ctx context.Context, rc orgs.RequestContext, projectID string, userIDs []string) ([]string, error) {
	project, err := s.Load(ctx, rc, projectID)
	if err != nil {
		return nil, err
	}
	if !canManage(rc, project) {
		return nil, apperr.Forbidden("only the project lead can add members")
	}
	ids := orgs.Dedupe(userIDs)
	if len(ids) == 0 {
		return nil, apperr.Validation("userIds is required")
	}

	existing, err := s.MemberIDs(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	var added []string
	for _, id := range ids {
		if !contains(existing, id) {
			added = append(added, id)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := orgs.EnsureMembers(tx, rc.OrgID, ids); err != nil {
			return err
		}
		if err := addProjectMembers(tx, project.ID, ids); err != nil {
			return err
		}
		return channels.AddMembers(tx, project.ChannelID, ids)
	})
	if err != nil {
		return nil, apperr.FromDB(err, "project not found")
	}

	s.notifyAdded(ctx, rc, project, added)
	return s.MemberIDs(ctx, project.ID)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
