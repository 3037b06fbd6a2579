package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Model is embedded by every entity keyed by a generated UUID.
type Model struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m *Model) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Identity

type User struct {
	Model
	Email              string     `gorm:"uniqueIndex;not null" json:"email"`
	Name               string     `json:"name"`
	AvatarURL          string     `json:"avatarUrl"`
	GoogleID           *string    `gorm:"uniqueIndex" json:"-"`
	LoginCodeHash      string     `json:"-"`
	LoginCodeExpiresAt *time.Time `json:"-"`
	PendingEmail       string     `json:"-"`
	EmailCodeHash      string     `json:"-"`
	EmailCodeExpiresAt *time.Time `json:"-"`
	LastActiveOrgID    *string    `gorm:"size:36" json:"lastActiveOrgId"`
}

// PendingSignup holds a login code for an email that has no user yet.
type PendingSignup struct {
	Email     string    `gorm:"primaryKey"`
	CodeHash  string    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tenancy

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleGuest  = "guest"
)

type Organization struct {
	Model
	Name             string `gorm:"not null" json:"name"`
	Slug             string `gorm:"uniqueIndex;not null" json:"slug"`
	JoinCode         string `gorm:"uniqueIndex;not null" json:"joinCode"`
	RegistrationCode string `gorm:"uniqueIndex;not null" json:"registrationCode"`
	OwnerID          string `gorm:"size:36;not null" json:"ownerId"`
}

type Membership struct {
	Model
	UserID string `gorm:"size:36;not null;uniqueIndex:idx_membership_user_org" json:"userId"`
	OrgID  string `gorm:"size:36;not null;uniqueIndex:idx_membership_user_org;index" json:"orgId"`
	Role   string `gorm:"not null" json:"role"`
}

// Connections

const (
	ConnectionPending  = "pending"
	ConnectionAccepted = "accepted"
	ConnectionRejected = "rejected"
)

type Connection struct {
	Model
	UserID           string `gorm:"size:36;not null;uniqueIndex:idx_connection_pair" json:"userId"`
	FriendID         string `gorm:"size:36;not null;uniqueIndex:idx_connection_pair;index" json:"friendId"`
	Status           string `gorm:"not null" json:"status"`
	ArchivedByUser   bool   `json:"-"`
	ArchivedByFriend bool   `json:"-"`
}

// Rooms

const (
	GroupKindGroup   = "group"
	GroupKindChannel = "channel"
)

type Group struct {
	Model
	OrgID         string  `gorm:"size:36;not null;index" json:"orgId"`
	Name          string  `gorm:"not null" json:"name"`
	Kind          string  `gorm:"not null" json:"type"`
	AdminID       string  `gorm:"size:36;not null" json:"adminId"`
	LastMessageID *string `gorm:"size:36" json:"lastMessageId"`
}

type GroupMember struct {
	GroupID   string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"primaryKey;size:36;index"`
	CreatedAt time.Time
}

type Channel struct {
	Model
	OrgID       string  `gorm:"size:36;not null;index" json:"orgId"`
	Name        string  `gorm:"not null" json:"name"`
	Description string  `json:"description"`
	Private     bool    `json:"private"`
	ProjectID   *string `gorm:"size:36;index" json:"projectId"`
	CreatedBy   string  `gorm:"size:36" json:"createdBy"`
}

type ChannelMember struct {
	ChannelID string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"primaryKey;size:36;index"`
	CreatedAt time.Time
}

// Messages. Exactly one of ReceiverID, GroupID, ChannelID is set.

type Message struct {
	Model
	OrgID      string  `gorm:"size:36;not null;index" json:"orgId"`
	SenderID   string  `gorm:"size:36;not null;index" json:"senderId"`
	ReceiverID *string `gorm:"size:36;index" json:"receiverId,omitempty"`
	GroupID    *string `gorm:"size:36;index" json:"groupId,omitempty"`
	ChannelID  *string `gorm:"size:36;index" json:"channelId,omitempty"`
	ReplyToID  *string `gorm:"size:36" json:"replyToId,omitempty"`
	Text       string  `json:"text"`
	Image      string  `json:"image,omitempty"`
	Read       bool    `json:"-"`
}

type MessageRead struct {
	MessageID string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"primaryKey;size:36;index"`
	ReadAt    time.Time
}

// Projects and tasks

const (
	ProjectActive    = "active"
	ProjectCompleted = "completed"
	ProjectOnHold    = "on-hold"
)

type Project struct {
	Model
	OrgID       string `gorm:"size:36;not null;index" json:"orgId"`
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"not null" json:"status"`
	LeadID      string `gorm:"size:36;not null" json:"leadId"`
	ChannelID   string `gorm:"size:36;not null" json:"channelId"`
	CreatedBy   string `gorm:"size:36;not null" json:"createdBy"`
}

type ProjectMember struct {
	ProjectID string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"primaryKey;size:36;index"`
	CreatedAt time.Time
}

const (
	TaskTodo       = "todo"
	TaskInProgress = "in-progress"
	TaskCompleted  = "completed"
	TaskBlocked    = "blocked"
	TaskDelayed    = "delayed"

	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

type Task struct {
	Model
	OrgID       string     `gorm:"size:36;not null;index" json:"orgId"`
	ProjectID   string     `gorm:"size:36;not null;index" json:"projectId"`
	Title       string     `gorm:"not null" json:"title"`
	Description string     `json:"description"`
	Status      string     `gorm:"not null" json:"status"`
	Priority    string     `gorm:"not null" json:"priority"`
	AssigneeID  *string    `gorm:"size:36;index" json:"assigneeId"`
	DueDate     *time.Time `json:"dueDate"`
	CreatedBy   string     `gorm:"size:36;not null" json:"createdBy"`
}

type TaskComment struct {
	Model
	TaskID   string                      `gorm:"size:36;not null;index" json:"taskId"`
	AuthorID string                      `gorm:"size:36;not null" json:"authorId"`
	Text     string                      `gorm:"not null" json:"text"`
	Mentions datatypes.JSONSlice[string] `json:"mentions"`
}

// Notifications

const (
	NotifyConnectionRequest  = "connection_request"
	NotifyConnectionAccepted = "connection_accepted"
	NotifyTaskAssigned       = "task_assigned"
	NotifyMention            = "mention"
	NotifyMeetingScheduled   = "meeting_scheduled"
	NotifyProjectAdded       = "project_added"
)

type Notification struct {
	Model
	OrgID       *string `gorm:"size:36;index" json:"orgId,omitempty"`
	RecipientID string  `gorm:"size:36;not null;index" json:"recipientId"`
	SenderID    string  `gorm:"size:36" json:"senderId"`
	Type        string  `gorm:"not null" json:"type"`
	EntityType  string  `json:"entityType"`
	EntityID    string  `gorm:"size:36" json:"entityId"`
	Message     string  `json:"message"`
	Read        bool    `json:"read"`
}

// Calendar

const (
	MeetingOnline  = "online"
	MeetingOffline = "offline"
)

type Meeting struct {
	Model
	OrgID       string    `gorm:"size:36;not null;index" json:"orgId"`
	Title       string    `gorm:"not null" json:"title"`
	Description string    `json:"description"`
	StartsAt    time.Time `gorm:"not null;index" json:"startsAt"`
	EndsAt      time.Time `gorm:"not null" json:"endsAt"`
	Mode        string    `gorm:"not null" json:"mode"`
	JoinLink    string    `json:"joinLink,omitempty"`
	Location    string    `json:"location,omitempty"`
	OrganizerID string    `gorm:"size:36;not null" json:"organizerId"`
}

type MeetingAttendee struct {
	MeetingID string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"primaryKey;size:36;index"`
	CreatedAt time.Time
}

// AllModels lists every table for auto-migration.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&PendingSignup{},
		&Organization{},
		&Membership{},
		&Connection{},
		&Group{},
		&GroupMember{},
		&Channel{},
		&ChannelMember{},
		&Message{},
		&MessageRead{},
		&Project{},
		&ProjectMember{},
		&Task{},
		&TaskComment{},
		&Notification{},
		&Meeting{},
		&MeetingAttendee{},
	}
}
