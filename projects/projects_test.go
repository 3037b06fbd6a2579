package projects

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"teamspace/apperr"
	"teamspace/notifications"
	"teamspace/orgs"
	"teamspace/realtime"
	"teamspace/testutil"
	"teamspace/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	svc   *Service
	rec   *realtime.Recorder
	org   types.Organization
	owner types.User
	alice types.User
	bob   types.User
	guest types.User
	carol types.User
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gdb := testutil.NewDB(t)
	rec := &realtime.Recorder{}
	f := fixture{db: gdb, rec: rec, svc: NewService(gdb, notifications.NewNotifier(gdb, rec, zap.NewNop()))}
	f.owner = testutil.CreateUser(t, gdb, "owner")
	f.alice = testutil.CreateUser(t, gdb, "alice")
	f.bob = testutil.CreateUser(t, gdb, "bob")
	f.guest = testutil.CreateUser(t, gdb, "guest")
	f.carol = testutil.CreateUser(t, gdb, "carol")
	f.org = testutil.CreateOrg(t, gdb, f.owner, "Acme")
	testutil.AddMember(t, gdb, f.org.ID, f.alice.ID, types.RoleMember)
	testutil.AddMember(t, gdb, f.org.ID, f.bob.ID, types.RoleMember)
	testutil.AddMember(t, gdb, f.org.ID, f.guest.ID, types.RoleGuest)
	testutil.AddMember(t, gdb, f.org.ID, f.carol.ID, types.RoleMember)
	return f
}

func (f fixture) rc(u types.User, role string) orgs.RequestContext {
	return orgs.RequestContext{UserID: u.ID, OrgID: f.org.ID, Role: role}
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func TestCreateBuildsBackingChannelWithSameMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	project, err := f.svc.Create(ctx, f.rc(f.alice, types.RoleMember), CreateRequest{
		Name:    "Apollo",
		Members: []string{f.bob.ID, f.alice.ID},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if project.LeadID != f.alice.ID || project.Status != types.ProjectActive {
		t.Fatalf("unexpected defaults %+v", project.Project)
	}

	var channels []types.Channel
	f.db.Where("project_id = ?", project.ID).Find(&channels)
	if len(channels) != 1 || channels[0].ID != project.ChannelID || !channels[0].Private {
		t.Fatalf("expected exactly one private backing channel, got %+v", channels)
	}

	var projectMembers, channelMembers []string
	f.db.Model(&types.ProjectMember{}).Where("project_id = ?", project.ID).Pluck("user_id", &projectMembers)
	f.db.Model(&types.ChannelMember{}).Where("channel_id = ?", project.ChannelID).Pluck("user_id", &channelMembers)
	want := sorted([]string{f.alice.ID, f.bob.ID})
	if got := sorted(projectMembers); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("project members %v, want %v", got, want)
	}
	if got := sorted(channelMembers); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("channel members %v, want %v", got, want)
	}

	if len(f.rec.ToUser(f.bob.ID, realtime.EventNotification)) != 1 {
		t.Fatalf("expected bob notified")
	}
	if len(f.rec.ToUser(f.alice.ID, realtime.EventNotification)) != 0 {
		t.Fatalf("creator must not be notified")
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	outsider := testutil.CreateUser(t, f.db, "outsider")

	cases := []struct {
		name string
		rc   orgs.RequestContext
		req  CreateRequest
		kind apperr.Kind
	}{
		{"guest", f.rc(f.guest, types.RoleGuest), CreateRequest{Name: "x"}, apperr.KindForbidden},
		{"no name", f.rc(f.alice, types.RoleMember), CreateRequest{}, apperr.KindValidation},
		{"bad status", f.rc(f.alice, types.RoleMember), CreateRequest{Name: "x", Status: "done"}, apperr.KindValidation},
		{"lead not member", f.rc(f.alice, types.RoleMember), CreateRequest{Name: "x", LeadID: f.bob.ID}, apperr.KindValidation},
		{"outsider", f.rc(f.alice, types.RoleMember), CreateRequest{Name: "x", Members: []string{outsider.ID}}, apperr.KindValidation},
	}
	for _, tc := range cases {
		if _, err := f.svc.Create(ctx, tc.rc, tc.req); !apperr.Is(err, tc.kind) {
			t.Fatalf("%s: expected kind %v, got %v", tc.name, tc.kind, err)
		}
	}

	var count int64
	f.db.Model(&types.Project{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected failed creates to leave nothing behind, got %d", count)
	}
	f.db.Model(&types.Channel{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no channels, got %d", count)
	}
}

func TestVisibilityUpdateAndMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	aliceRC := f.rc(f.alice, types.RoleMember)
	bobRC := f.rc(f.bob, types.RoleMember)
	ownerRC := f.rc(f.owner, types.RoleOwner)

	project, err := f.svc.Create(ctx, aliceRC, CreateRequest{Name: "Apollo"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.svc.Get(ctx, bobRC, project.ID); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected non-member forbidden, got %v", err)
	}
	if _, err := f.svc.Get(ctx, ownerRC, project.ID); err != nil {
		t.Fatalf("expected org owner access: %v", err)
	}
	if list, _ := f.svc.List(ctx, bobRC); len(list) != 0 {
		t.Fatalf("expected bob to see no projects")
	}
	if list, _ := f.svc.List(ctx, ownerRC); len(list) != 1 {
		t.Fatalf("expected owner to see all projects")
	}

	if _, err := f.svc.AddMembers(ctx, bobRC, project.ID, []string{f.bob.ID}); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden for non-member add, got %v", err)
	}
	members, err := f.svc.AddMembers(ctx, aliceRC, project.ID, []string{f.bob.ID, f.carol.ID})
	if err != nil || len(members) != 3 {
		t.Fatalf("expected three members, got %v err=%v", members, err)
	}
	var channelMembers int64
	f.db.Model(&types.ChannelMember{}).Where("channel_id = ?", project.ChannelID).Count(&channelMembers)
	if channelMembers != 3 {
		t.Fatalf("expected channel to follow project membership, got %d", channelMembers)
	}

	name := "Artemis"
	if _, err := f.svc.Update(ctx, bobRC, project.ID, UpdateRequest{Name: &name}); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected only lead to update, got %v", err)
	}
	outsider := f.guest.ID
	if _, err := f.svc.Update(ctx, aliceRC, project.ID, UpdateRequest{LeadID: &outsider}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected lead outside project rejected, got %v", err)
	}
	lead := f.bob.ID
	updated, err := f.svc.Update(ctx, aliceRC, project.ID, UpdateRequest{Name: &name, LeadID: &lead})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != name || updated.LeadID != f.bob.ID {
		t.Fatalf("unexpected update %+v", updated)
	}
	var channel types.Channel
	f.db.First(&channel, "id = ?", project.ChannelID)
	if channel.Name != name {
		t.Fatalf("expected channel renamed, got %s", channel.Name)
	}
}

func TestHandleCreateGuestForbidden(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	r := gin.New()
	r.Use(func(c *gin.Context) { orgs.SetContext(c, f.rc(f.guest, types.RoleGuest)) })
	r.POST("/projects/create", f.svc.HandleCreate)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/projects/create", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}
