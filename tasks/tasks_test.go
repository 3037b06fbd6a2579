package tasks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"teamspace/apperr"
	"teamspace/notifications"
	"teamspace/orgs"
	"teamspace/projects"
	"teamspace/realtime"
	"teamspace/testutil"
	"teamspace/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type fixture struct {
	svc     *Service
	rec     *realtime.Recorder
	project projects.ProjectView
	lead    orgs.RequestContext
	dev     orgs.RequestContext
	guest   orgs.RequestContext
	admin   orgs.RequestContext
	other   orgs.RequestContext
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gdb := testutil.NewDB(t)
	rec := &realtime.Recorder{}
	notifier := notifications.NewNotifier(gdb, rec, zap.NewNop())
	projectSvc := projects.NewService(gdb, notifier)

	owner := testutil.CreateUser(t, gdb, "owner")
	lead := testutil.CreateUser(t, gdb, "lead")
	dev := testutil.CreateUser(t, gdb, "dev")
	guest := testutil.CreateUser(t, gdb, "guest")
	other := testutil.CreateUser(t, gdb, "other")
	org := testutil.CreateOrg(t, gdb, owner, "Acme")
	testutil.AddMember(t, gdb, org.ID, lead.ID, types.RoleMember)
	testutil.AddMember(t, gdb, org.ID, dev.ID, types.RoleMember)
	testutil.AddMember(t, gdb, org.ID, guest.ID, types.RoleGuest)
	testutil.AddMember(t, gdb, org.ID, other.ID, types.RoleMember)

	f := fixture{
		svc:   NewService(gdb, projectSvc, notifier),
		rec:   rec,
		lead:  orgs.RequestContext{UserID: lead.ID, OrgID: org.ID, Role: types.RoleMember},
		dev:   orgs.RequestContext{UserID: dev.ID, OrgID: org.ID, Role: types.RoleMember},
		guest: orgs.RequestContext{UserID: guest.ID, OrgID: org.ID, Role: types.RoleGuest},
		admin: orgs.RequestContext{UserID: owner.ID, OrgID: org.ID, Role: types.RoleOwner},
		other: orgs.RequestContext{UserID: other.ID, OrgID: org.ID, Role: types.RoleMember},
	}
	project, err := projectSvc.Create(context.Background(), f.lead, projects.CreateRequest{
		Name:    "Apollo",
		Members: []string{dev.ID, guest.ID},
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	f.project = project
	return f
}

func TestCreateTaskDefaultsAndAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, f.guest, f.project.ID, CreateRequest{Title: "x"}); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected guest forbidden, got %v", err)
	}
	if _, err := f.svc.Create(ctx, f.other, f.project.ID, CreateRequest{Title: "x"}); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected non-member forbidden, got %v", err)
	}
	if _, err := f.svc.Create(ctx, f.lead, f.project.ID, CreateRequest{Title: "x", AssigneeID: f.other.UserID}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected assignee outside project rejected, got %v", err)
	}
	if _, err := f.svc.Create(ctx, f.lead, f.project.ID, CreateRequest{Title: "x", Priority: "someday"}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected bad priority rejected, got %v", err)
	}

	before := len(f.rec.ToUser(f.dev.UserID, realtime.EventNotification))
	task, err := f.svc.Create(ctx, f.lead, f.project.ID, CreateRequest{Title: "Write docs", AssigneeID: f.dev.UserID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != types.TaskTodo || task.Priority != types.PriorityMedium {
		t.Fatalf("unexpected defaults %+v", task)
	}
	if len(f.rec.ToUser(f.dev.UserID, realtime.EventNotification)) != before+1 {
		t.Fatalf("expected assignee notified")
	}

	if _, err := f.svc.Create(ctx, f.lead, f.project.ID, CreateRequest{Title: "Self", AssigneeID: f.lead.UserID}); err != nil {
		t.Fatalf("create self-assigned: %v", err)
	}
	if len(f.rec.ToUser(f.lead.UserID, realtime.EventNotification)) != 0 {
		t.Fatalf("self assignment must not notify")
	}

	list, err := f.svc.List(ctx, f.guest, f.project.ID, Filter{AssigneeID: f.dev.UserID})
	if err != nil || len(list) != 1 || list[0].ID != task.ID {
		t.Fatalf("expected filtered list, got %+v err=%v", list, err)
	}
}

func TestUpdateReassignAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.svc.Create(ctx, f.dev, f.project.ID, CreateRequest{Title: "Fix bug"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	status := "finished"
	if _, err := f.svc.Update(ctx, f.dev, task.ID, UpdateRequest{Status: &status}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	status = types.TaskInProgress
	assignee := f.lead.UserID
	updated, err := f.svc.Update(ctx, f.dev, task.ID, UpdateRequest{Status: &status, AssigneeID: &assignee})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != types.TaskInProgress || updated.AssigneeID == nil || *updated.AssigneeID != f.lead.UserID {
		t.Fatalf("unexpected update %+v", updated)
	}
	if len(f.rec.ToUser(f.lead.UserID, realtime.EventNotification)) != 1 {
		t.Fatalf("expected reassignment to notify")
	}

	// Same assignee again is not a reassignment.
	if _, err := f.svc.Update(ctx, f.dev, task.ID, UpdateRequest{AssigneeID: &assignee}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(f.rec.ToUser(f.lead.UserID, realtime.EventNotification)) != 1 {
		t.Fatalf("expected no second notification")
	}

	empty := ""
	cleared, err := f.svc.Update(ctx, f.dev, task.ID, UpdateRequest{AssigneeID: &empty})
	if err != nil || cleared.AssigneeID != nil {
		t.Fatalf("expected assignee cleared, got %+v err=%v", cleared, err)
	}

	if err := f.svc.Delete(ctx, f.guest, task.ID); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected guest delete forbidden, got %v", err)
	}
	if err := f.svc.Delete(ctx, f.lead, task.ID); err != nil {
		t.Fatalf("lead delete: %v", err)
	}
	if _, err := f.svc.Get(ctx, f.dev, task.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected deleted task not found, got %v", err)
	}
}

func TestCommentsNotifyMentionedMembers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.svc.Create(ctx, f.lead, f.project.ID, CreateRequest{Title: "Plan"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	r := gin.New()
	r.Use(func(c *gin.Context) { orgs.SetContext(c, f.dev) })
	r.POST("/tasks/:taskId/comments", f.svc.HandleAddComment)
	r.GET("/tasks/:taskId", f.svc.HandleGet)

	body := `{"text":"ping","mentions":["` + f.lead.UserID + `","` + f.other.UserID + `","` + f.dev.UserID + `"]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks/"+task.ID+"/comments", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	if len(f.rec.ToUser(f.lead.UserID, realtime.EventNotification)) != 1 {
		t.Fatalf("expected lead mentioned")
	}
	if len(f.rec.ToUser(f.other.UserID, realtime.EventNotification)) != 0 {
		t.Fatalf("non project member must not be notified")
	}

	view, err := f.svc.Get(ctx, f.lead, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(view.Comments) != 1 || len(view.Comments[0].Mentions) != 2 {
		t.Fatalf("expected one comment with two project mentions, got %+v", view.Comments)
	}

	if _, err := f.svc.AddComment(ctx, f.other, task.ID, "hi", nil); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected non-member comment forbidden, got %v", err)
	}
}
