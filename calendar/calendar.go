package calendar

import (
	"context"
	"strings"
	"time"

	"teamspace/apperr"
	"teamspace/notifications"
	"teamspace/orgs"
	"teamspace/types"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	notifier *notifications.Notifier
	ice      *ICE
	baseURL  string
}

func NewService(gdb *gorm.DB, notifier *notifications.Notifier, ice *ICE, publicBaseURL string) *Service {
	return &Service{db: gdb, notifier: notifier, ice: ice, baseURL: strings.TrimRight(publicBaseURL, "/")}
}

type CreateRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
	Attendees   []string  `json:"attendees"`
	Mode        string    `json:"mode"`
	Location    string    `json:"location"`
}

type MeetingView struct {
	types.Meeting
	AttendeeIDs []string `json:"attendeeIds"`
}

// Range bounds List by start time. Zero values are open ends.
type Range struct {
	From time.Time
	To   time.Time
}

func (s *Service) Create(ctx context.Context, rc orgs.RequestContext, req CreateRequest) (MeetingView, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return MeetingView{}, apperr.Validation("title is required")
	}
	if req.StartsAt.IsZero() || req.EndsAt.IsZero() {
		return MeetingView{}, apperr.Validation("startsAt and endsAt are required")
	}
	if !req.EndsAt.After(req.StartsAt) {
		return MeetingView{}, apperr.Validation("endsAt must be after startsAt")
	}

	meeting := types.Meeting{
		OrgID:       rc.OrgID,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		StartsAt:    req.StartsAt.UTC(),
		EndsAt:      req.EndsAt.UTC(),
		Mode:        req.Mode,
		OrganizerID: rc.UserID,
	}
	switch meeting.Mode {
	case "", types.MeetingOnline:
		meeting.Mode = types.MeetingOnline
		meeting.JoinLink = s.baseURL + "/meet/" + uuid.NewString()
	case types.MeetingOffline:
		meeting.Location = strings.TrimSpace(req.Location)
		if meeting.Location == "" {
			return MeetingView{}, apperr.Validation("offline meetings need a location")
		}
	default:
		return MeetingView{}, apperr.Validation("mode must be online or offline")
	}

	attendees := orgs.Dedupe(append([]string{rc.UserID}, req.Attendees...))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := orgs.EnsureMembers(tx, rc.OrgID, attendees); err != nil {
			return err
		}
		if err := tx.Create(&meeting).Error; err != nil {
			return err
		}
		rows := make([]types.MeetingAttendee, len(attendees))
		for i, id := range attendees {
			rows[i] = types.MeetingAttendee{MeetingID: meeting.ID, UserID: id}
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return MeetingView{}, apperr.FromDB(err, "meeting not found")
	}

	orgID := rc.OrgID
	notes := make([]types.Notification, 0, len(attendees))
	for _, id := range attendees {
		notes = append(notes, types.Notification{
			OrgID:       &orgID,
			RecipientID: id,
			SenderID:    rc.UserID,
			Type:        types.NotifyMeetingScheduled,
			EntityType:  "meeting",
			EntityID:    meeting.ID,
			Message:     "You were invited to " + meeting.Title,
		})
	}
	s.notifier.Notify(ctx, notes...)

	return MeetingView{Meeting: meeting, AttendeeIDs: attendees}, nil
}

// List returns meetings the caller organizes or attends. Org admins see all.
func (s *Service) List(ctx context.Context, rc orgs.RequestContext, r Range) ([]MeetingView, error) {
	q := s.db.WithContext(ctx).Where("meetings.org_id = ?", rc.OrgID)
	if !rc.IsAdmin() {
		q = q.Where("meetings.organizer_id = ? OR meetings.id IN (?)", rc.UserID,
			s.db.Model(&types.MeetingAttendee{}).Select("meeting_id").Where("user_id = ?", rc.UserID))
	}
	if !r.From.IsZero() {
		q = q.Where("meetings.starts_at >= ?", r.From.UTC())
	}
	if !r.To.IsZero() {
		q = q.Where("meetings.starts_at < ?", r.To.UTC())
	}

	var meetings []types.Meeting
	if err := q.Order("meetings.starts_at ASC").Find(&meetings).Error; err != nil {
		return nil, apperr.Internal("list meetings", err)
	}
	if len(meetings) == 0 {
		return []MeetingView{}, nil
	}

	ids := make([]string, len(meetings))
	for i, m := range meetings {
		ids[i] = m.ID
	}
	var rows []types.MeetingAttendee
	if err := s.db.WithContext(ctx).Where("meeting_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, apperr.Internal("list attendees", err)
	}
	byMeeting := make(map[string][]string, len(meetings))
	for _, a := range rows {
		byMeeting[a.MeetingID] = append(byMeeting[a.MeetingID], a.UserID)
	}

	views := make([]MeetingView, len(meetings))
	for i, m := range meetings {
		views[i] = MeetingView{Meeting: m, AttendeeIDs: byMeeting[m.ID]}
	}
	return views, nil
}

func (s *Service) Get(ctx context.Context, rc orgs.RequestContext, meetingID string) (MeetingView, error) {
	var meeting types.Meeting
	if err := s.db.WithContext(ctx).First(&meeting, "id = ? AND org_id = ?", meetingID, rc.OrgID).Error; err != nil {
		return MeetingView{}, apperr.FromDB(err, "meeting not found")
	}
	var attendees []string
	err := s.db.WithContext(ctx).Model(&types.MeetingAttendee{}).
		Where("meeting_id = ?", meeting.ID).
		Pluck("user_id", &attendees).Error
	if err != nil {
		return MeetingView{}, apperr.Internal("list attendees", err)
	}

	if !rc.IsAdmin() && meeting.OrganizerID != rc.UserID && !containsID(attendees, rc.UserID) {
		return MeetingView{}, apperr.Forbidden("you are not invited to this meeting")
	}
	return MeetingView{Meeting: meeting, AttendeeIDs: attendees}, nil
}

// Delete is open to the organizer and org admins.
func (s *Service) Delete(ctx context.Context, rc orgs.RequestContext, meetingID string) error {
	meeting, err := s.Get(ctx, rc, meetingID)
	if err != nil {
		return err
	}
	if meeting.OrganizerID != rc.UserID && !rc.IsAdmin() {
		return apperr.Forbidden("only the organizer can cancel this meeting")
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("meeting_id = ?", meeting.ID).Delete(&types.MeetingAttendee{}).Error; err != nil {
			return err
		}
		return tx.Delete(&types.Meeting{}, "id = ?", meeting.ID).Error
	})
	if err != nil {
		return apperr.Internal("delete meeting", err)
	}
	return nil
}

type ICEResponse struct {
	MeetingID  string             `json:"meetingId"`
	JoinLink   string             `json:"joinLink"`
	ICEServers []webrtc.ICEServer `json:"iceServers"`
	ExpiresAt  *time.Time         `json:"expiresAt,omitempty"`
}

// ICEConfig returns the ICE servers for an online meeting the caller can see.
func (s *Service) ICEConfig(ctx context.Context, rc orgs.RequestContext, meetingID string) (ICEResponse, error) {
	meeting, err := s.Get(ctx, rc, meetingID)
	if err != nil {
		return ICEResponse{}, err
	}
	if meeting.Mode != types.MeetingOnline {
		return ICEResponse{}, apperr.Validation("offline meetings have no call")
	}

	cfg, expires := s.ice.Configuration(rc.UserID)
	resp := ICEResponse{MeetingID: meeting.ID, JoinLink: meeting.JoinLink, ICEServers: cfg.ICEServers}
	if !expires.IsZero() {
		resp.ExpiresAt = &expires
	}
	return resp, nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
