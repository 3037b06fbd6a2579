package conversation

import (
	"context"
	"testing"

	"teamspace/apperr"
	"teamspace/connections"
	"teamspace/notifications"
	"teamspace/orgs"
	"teamspace/realtime"
	"teamspace/testutil"
	"teamspace/types"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	resolver *Resolver
	org      types.Organization
	alice    types.User
	bob      types.User
	carol    types.User
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gdb := testutil.NewDB(t)
	notifier := notifications.NewNotifier(gdb, &realtime.Recorder{}, zap.NewNop())
	f := fixture{db: gdb, resolver: NewResolver(gdb, connections.NewStore(gdb, notifier))}
	f.alice = testutil.CreateUser(t, gdb, "alice")
	f.bob = testutil.CreateUser(t, gdb, "bob")
	f.carol = testutil.CreateUser(t, gdb, "carol")
	f.org = testutil.CreateOrg(t, gdb, f.alice, "Acme")
	testutil.AddMember(t, gdb, f.org.ID, f.bob.ID, types.RoleMember)
	testutil.AddMember(t, gdb, f.org.ID, f.carol.ID, types.RoleMember)
	return f
}

func (f fixture) rc(u types.User) orgs.RequestContext {
	return orgs.RequestContext{UserID: u.ID, OrgID: f.org.ID, Role: types.RoleMember}
}

func create(t *testing.T, gdb *gorm.DB, values ...interface{}) {
	t.Helper()
	for _, v := range values {
		if err := gdb.Create(v).Error; err != nil {
			t.Fatalf("create %T: %v", v, err)
		}
	}
}

func TestDirectRouteRequiresAcceptedConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutil.Connect(t, f.db, f.alice.ID, f.carol.ID, types.ConnectionPending)
	for _, pair := range [][2]types.User{{f.alice, f.bob}, {f.bob, f.alice}, {f.alice, f.carol}, {f.carol, f.alice}} {
		if _, err := f.resolver.Resolve(ctx, f.rc(pair[0]), pair[1].ID); !apperr.Is(err, apperr.KindForbidden) {
			t.Fatalf("%s -> %s: expected forbidden, got %v", pair[0].Name, pair[1].Name, err)
		}
	}

	testutil.Connect(t, f.db, f.bob.ID, f.alice.ID, types.ConnectionAccepted)
	for _, pair := range [][2]types.User{{f.alice, f.bob}, {f.bob, f.alice}} {
		route, err := f.resolver.Resolve(ctx, f.rc(pair[0]), pair[1].ID)
		if err != nil {
			t.Fatalf("%s -> %s: %v", pair[0].Name, pair[1].Name, err)
		}
		if route.Mode != ModeDirect || route.TargetID != pair[1].ID || !route.CanWrite {
			t.Fatalf("unexpected route %+v", route)
		}
	}

	if _, err := f.resolver.Resolve(ctx, f.rc(f.alice), f.alice.ID); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for self, got %v", err)
	}
	if _, err := f.resolver.Resolve(ctx, f.rc(f.alice), "nothing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGroupRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group := types.Group{OrgID: f.org.ID, Name: "team", Kind: types.GroupKindGroup, AdminID: f.alice.ID}
	announce := types.Group{OrgID: f.org.ID, Name: "news", Kind: types.GroupKindChannel, AdminID: f.alice.ID}
	create(t, f.db, &group, &announce)
	create(t, f.db,
		&types.GroupMember{GroupID: group.ID, UserID: f.alice.ID},
		&types.GroupMember{GroupID: group.ID, UserID: f.bob.ID},
		&types.GroupMember{GroupID: announce.ID, UserID: f.alice.ID},
		&types.GroupMember{GroupID: announce.ID, UserID: f.bob.ID},
	)

	route, err := f.resolver.Resolve(ctx, f.rc(f.bob), group.ID)
	if err != nil || route.Mode != ModeGroup || !route.CanWrite || route.AdminOnly {
		t.Fatalf("unexpected group route %+v err=%v", route, err)
	}
	if _, err := f.resolver.Resolve(ctx, f.rc(f.carol), group.ID); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected non-member forbidden, got %v", err)
	}

	route, err = f.resolver.Resolve(ctx, f.rc(f.bob), announce.ID)
	if err != nil || !route.AdminOnly || route.CanWrite {
		t.Fatalf("expected read-only channel-kind route for bob, got %+v err=%v", route, err)
	}
	route, err = f.resolver.Resolve(ctx, f.rc(f.alice), announce.ID)
	if err != nil || !route.CanWrite {
		t.Fatalf("expected admin write access, got %+v err=%v", route, err)
	}

	other := testutil.CreateOrg(t, f.db, f.bob, "Other")
	rc := orgs.RequestContext{UserID: f.bob.ID, OrgID: other.ID, Role: types.RoleOwner}
	if _, err := f.resolver.Resolve(ctx, rc, group.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected room from another org to be not found, got %v", err)
	}
}

func TestChannelRoutesAndRoomJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	public := types.Channel{OrgID: f.org.ID, Name: "general", CreatedBy: f.alice.ID}
	private := types.Channel{OrgID: f.org.ID, Name: "secret", Private: true, CreatedBy: f.alice.ID}
	project := types.Project{OrgID: f.org.ID, Name: "Apollo", Status: types.ProjectActive, LeadID: f.alice.ID, ChannelID: "pending", CreatedBy: f.alice.ID}
	create(t, f.db, &public, &private, &project)
	projectChannel := types.Channel{OrgID: f.org.ID, Name: "apollo", Private: true, ProjectID: &project.ID, CreatedBy: f.alice.ID}
	create(t, f.db, &projectChannel,
		&types.ChannelMember{ChannelID: private.ID, UserID: f.alice.ID},
		&types.ProjectMember{ProjectID: project.ID, UserID: f.bob.ID},
	)

	route, err := f.resolver.Resolve(ctx, f.rc(f.carol), public.ID)
	if err != nil || route.Mode != ModeChannel {
		t.Fatalf("expected public channel route, got %+v err=%v", route, err)
	}
	if _, err := f.resolver.Resolve(ctx, f.rc(f.carol), private.ID); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected private channel forbidden, got %v", err)
	}
	route, err = f.resolver.Resolve(ctx, f.rc(f.bob), projectChannel.ID)
	if err != nil || route.Mode != ModeProjectChannel {
		t.Fatalf("expected project channel route, got %+v err=%v", route, err)
	}
	if _, err := f.resolver.Resolve(ctx, f.rc(f.carol), projectChannel.ID); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected non project member forbidden, got %v", err)
	}

	outsider := testutil.CreateUser(t, f.db, "outsider")
	cases := []struct {
		user types.User
		room string
		want bool
	}{
		{f.carol, public.ID, true},
		{outsider, public.ID, false},
		{f.alice, private.ID, true},
		{f.carol, private.ID, false},
		{f.bob, projectChannel.ID, true},
		{f.carol, projectChannel.ID, false},
		{f.alice, "missing", false},
	}
	for _, tc := range cases {
		got, err := f.resolver.CanJoinRoom(ctx, tc.user.ID, tc.room)
		if err != nil {
			t.Fatalf("can join: %v", err)
		}
		if got != tc.want {
			t.Fatalf("%s joining %s: expected %v, got %v", tc.user.Name, tc.room, tc.want, got)
		}
	}
}

func TestCanSignalFollowsConnections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.Connect(t, f.db, f.alice.ID, f.bob.ID, types.ConnectionAccepted)
	testutil.Connect(t, f.db, f.alice.ID, f.carol.ID, types.ConnectionPending)

	cases := []struct {
		from, to types.User
		want     bool
	}{
		{f.alice, f.bob, true},
		{f.bob, f.alice, true},
		{f.alice, f.carol, false},
		{f.alice, f.alice, false},
	}
	for _, tc := range cases {
		got, err := f.resolver.CanSignal(ctx, tc.from.ID, tc.to.ID)
		if err != nil || got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v err=%v", tc.from.Name, tc.to.Name, tc.want, got, err)
		}
	}
}
