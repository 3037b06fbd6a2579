package orgs

import (
	"context"
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"

	"teamspace/apperr"
	"teamspace/types"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(gdb *gorm.DB, log *zap.Logger) *Service {
	return &Service{db: gdb, log: log}
}

// OrgView is an organization as seen by one of its members.
type OrgView struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Slug             string `json:"slug"`
	Role             string `json:"role"`
	OwnerID          string `json:"ownerId"`
	JoinCode         string `json:"joinCode,omitempty"`
	RegistrationCode string `json:"registrationCode,omitempty"`
}

type MemberView struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl"`
	Role      string `json:"role"`
	Online    bool   `json:"online"`
}

func randomCode(n int) (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

func slugify(name string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		slug = "org"
	}
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "-")
	}
	return slug
}

// Create makes an organization owned by userID. The org and the owner
// membership are written together; the user's last-active org is a separate
// write afterwards, so a failure there leaves the org in place.
func (s *Service) Create(ctx context.Context, userID, name string) (types.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Organization{}, apperr.Validation("name is required")
	}

	suffix, err := randomCode(6)
	if err != nil {
		return types.Organization{}, apperr.Internal("generate slug", err)
	}
	joinCode, err := randomCode(8)
	if err != nil {
		return types.Organization{}, apperr.Internal("generate join code", err)
	}
	regCode, err := randomCode(10)
	if err != nil {
		return types.Organization{}, apperr.Internal("generate registration code", err)
	}

	org := types.Organization{
		Name:             name,
		Slug:             slugify(name) + "-" + strings.ToLower(suffix),
		JoinCode:         joinCode,
		RegistrationCode: "REG-" + regCode,
		OwnerID:          userID,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&org).Error; err != nil {
			return err
		}
		return tx.Create(&types.Membership{UserID: userID, OrgID: org.ID, Role: types.RoleOwner}).Error
	})
	if err != nil {
		return types.Organization{}, apperr.Internal("create organization", err)
	}

	s.setLastActive(ctx, userID, org.ID)
	return org, nil
}

// JoinRequest carries exactly one lookup key.
type JoinRequest struct {
	JoinCode           string `json:"joinCode"`
	OrgName            string `json:"orgName"`
	RegistrationNumber string `json:"registrationNumber"`
}

func (s *Service) Join(ctx context.Context, userID string, req JoinRequest) (types.Organization, error) {
	joinCode := strings.ToUpper(strings.TrimSpace(req.JoinCode))
	orgName := strings.TrimSpace(req.OrgName)
	regNumber := strings.ToUpper(strings.TrimSpace(req.RegistrationNumber))

	provided := 0
	for _, v := range []string{joinCode, orgName, regNumber} {
		if v != "" {
			provided++
		}
	}
	if provided != 1 {
		return types.Organization{}, apperr.Validation("provide exactly one of joinCode, orgName or registrationNumber")
	}

	q := s.db.WithContext(ctx).Model(&types.Organization{})
	switch {
	case joinCode != "":
		q = q.Where("join_code = ?", joinCode)
	case regNumber != "":
		q = q.Where("registration_code = ?", regNumber)
	default:
		q = q.Where("LOWER(name) = ?", strings.ToLower(orgName))
	}

	var matches []types.Organization
	if err := q.Limit(2).Find(&matches).Error; err != nil {
		return types.Organization{}, apperr.Internal("find organization", err)
	}
	if len(matches) == 0 {
		return types.Organization{}, apperr.NotFound("organization not found")
	}
	if len(matches) > 1 {
		return types.Organization{}, apperr.Validation("more than one organization has that name, use a join code")
	}
	org := matches[0]

	if ok, err := s.IsMember(ctx, org.ID, userID); err != nil {
		return types.Organization{}, err
	} else if ok {
		return types.Organization{}, apperr.Conflict("already a member of this organization")
	}

	if err := s.db.WithContext(ctx).Create(&types.Membership{UserID: userID, OrgID: org.ID, Role: types.RoleMember}).Error; err != nil {
		return types.Organization{}, apperr.Internal("create membership", err)
	}
	s.setLastActive(ctx, userID, org.ID)
	return org, nil
}

// setLastActive is best effort; the membership is already committed.
func (s *Service) setLastActive(ctx context.Context, userID, orgID string) {
	err := s.db.WithContext(ctx).Model(&types.User{}).Where("id = ?", userID).Update("last_active_org_id", orgID).Error
	if err != nil {
		s.log.Warn("failed to update last active org", zap.String("user_id", userID), zap.String("org_id", orgID), zap.Error(err))
	}
}

func (s *Service) Switch(ctx context.Context, rc RequestContext) error {
	err := s.db.WithContext(ctx).Model(&types.User{}).Where("id = ?", rc.UserID).Update("last_active_org_id", rc.OrgID).Error
	if err != nil {
		return apperr.Internal("switch organization", err)
	}
	return nil
}

// ListForUser returns the caller's organizations and the last-active org id.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]OrgView, string, error) {
	type row struct {
		types.Organization
		Role string
	}
	var rows []row
	err := s.db.WithContext(ctx).Table("organizations").
		Select("organizations.*, memberships.role AS role").
		Joins("JOIN memberships ON memberships.org_id = organizations.id").
		Where("memberships.user_id = ?", userID).
		Order("organizations.name ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, "", apperr.Internal("list organizations", err)
	}

	views := make([]OrgView, 0, len(rows))
	for _, r := range rows {
		v := OrgView{ID: r.ID, Name: r.Name, Slug: r.Slug, Role: r.Role, OwnerID: r.OwnerID}
		if r.Role == types.RoleOwner || r.Role == types.RoleAdmin {
			v.JoinCode = r.JoinCode
			v.RegistrationCode = r.RegistrationCode
		}
		views = append(views, v)
	}

	var user types.User
	if err := s.db.WithContext(ctx).Select("last_active_org_id").First(&user, "id = ?", userID).Error; err != nil {
		return nil, "", apperr.FromDB(err, "user not found")
	}
	lastActive := ""
	if user.LastActiveOrgID != nil {
		lastActive = *user.LastActiveOrgID
	}
	return views, lastActive, nil
}

func (s *Service) Members(ctx context.Context, orgID string) ([]MemberView, error) {
	var members []MemberView
	err := s.db.WithContext(ctx).Table("memberships").
		Select("users.id AS user_id, users.name, users.email, users.avatar_url, memberships.role").
		Joins("JOIN users ON users.id = memberships.user_id").
		Where("memberships.org_id = ?", orgID).
		Order("users.name ASC").
		Scan(&members).Error
	if err != nil {
		return nil, apperr.Internal("list members", err)
	}
	return members, nil
}

func (s *Service) IsMember(ctx context.Context, orgID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&types.Membership{}).
		Where("org_id = ? AND user_id = ?", orgID, userID).
		Count(&count).Error
	if err != nil {
		return false, apperr.Internal("membership lookup", err)
	}
	return count > 0, nil
}

func (s *Service) membership(ctx context.Context, orgID, userID string) (types.Membership, error) {
	var m types.Membership
	err := s.db.WithContext(ctx).Where("org_id = ? AND user_id = ?", orgID, userID).First(&m).Error
	return m, apperr.FromDB(err, "member not found")
}

// SetRole changes a member's role. Owners cannot be changed here and only
// the owner may grant or revoke admin.
func (s *Service) SetRole(ctx context.Context, rc RequestContext, targetID, role string) error {
	if !rc.IsAdmin() {
		return apperr.Forbidden("only owners and admins can change roles")
	}
	switch role {
	case types.RoleAdmin, types.RoleMember, types.RoleGuest:
	default:
		return apperr.Validation("role must be admin, member or guest")
	}

	target, err := s.membership(ctx, rc.OrgID, targetID)
	if err != nil {
		return err
	}
	if target.Role == types.RoleOwner {
		return apperr.Forbidden("the owner's role cannot be changed")
	}
	if (role == types.RoleAdmin || target.Role == types.RoleAdmin) && !rc.IsOwner() {
		return apperr.Forbidden("only the owner can grant or revoke admin")
	}

	if err := s.db.WithContext(ctx).Model(&target).Update("role", role).Error; err != nil {
		return apperr.Internal("update role", err)
	}
	return nil
}

// RemoveMember removes targetID from the org. Members may remove themselves.
func (s *Service) RemoveMember(ctx context.Context, rc RequestContext, targetID string) error {
	target, err := s.membership(ctx, rc.OrgID, targetID)
	if err != nil {
		return err
	}
	if target.Role == types.RoleOwner {
		return apperr.Forbidden("the owner cannot leave or be removed")
	}
	if targetID != rc.UserID {
		if !rc.IsAdmin() {
			return apperr.Forbidden("only owners and admins can remove members")
		}
		if target.Role == types.RoleAdmin && !rc.IsOwner() {
			return apperr.Forbidden("only the owner can remove an admin")
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&target).Error; err != nil {
			return err
		}
		return tx.Model(&types.User{}).
			Where("id = ? AND last_active_org_id = ?", targetID, rc.OrgID).
			Update("last_active_org_id", nil).Error
	})
	if err != nil {
		return apperr.Internal("remove member", err)
	}
	return nil
}

// EnsureMembers fails with a validation error unless every id belongs to orgID.
// It takes a handle so callers can run it inside their own transaction.
func EnsureMembers(tx *gorm.DB, orgID string, userIDs []string) error {
	ids := Dedupe(userIDs)
	if len(ids) == 0 {
		return nil
	}
	var count int64
	err := tx.Model(&types.Membership{}).
		Where("org_id = ? AND user_id IN ?", orgID, ids).
		Count(&count).Error
	if err != nil {
		return apperr.Internal("membership lookup", err)
	}
	if int(count) != len(ids) {
		return apperr.Validation("all members must belong to the organization")
	}
	return nil
}

// Dedupe drops blanks and repeats, keeping first-seen order.
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
