package notifications

import (
	"context"
	"testing"

	"teamspace/apperr"
	"teamspace/orgs"
	"teamspace/realtime"
	"teamspace/testutil"
	"teamspace/types"

	"go.uber.org/zap"
)

func TestNotifyPersistsAndPushes(t *testing.T) {
	gdb := testutil.NewDB(t)
	rec := &realtime.Recorder{}
	n := NewNotifier(gdb, rec, zap.NewNop())
	ctx := context.Background()

	owner := testutil.CreateUser(t, gdb, "owner")
	member := testutil.CreateUser(t, gdb, "member")
	org := testutil.CreateOrg(t, gdb, owner, "Acme")
	other := testutil.CreateOrg(t, gdb, owner, "Other")
	orgID, otherID := org.ID, other.ID

	n.Notify(ctx,
		types.Notification{OrgID: &orgID, RecipientID: member.ID, SenderID: owner.ID, Type: types.NotifyTaskAssigned, Message: "a"},
		types.Notification{RecipientID: member.ID, SenderID: owner.ID, Type: types.NotifyConnectionRequest, Message: "b"},
		types.Notification{OrgID: &otherID, RecipientID: member.ID, SenderID: owner.ID, Type: types.NotifyMention, Message: "c"},
		types.Notification{OrgID: &orgID, RecipientID: owner.ID, SenderID: owner.ID, Type: types.NotifyMention, Message: "self"},
	)

	if got := len(rec.ToUser(member.ID, realtime.EventNotification)); got != 3 {
		t.Fatalf("expected 3 pushes, got %d", got)
	}
	if got := len(rec.ToUser(owner.ID, realtime.EventNotification)); got != 0 {
		t.Fatalf("expected self notification skipped, got %d", got)
	}

	rc := orgs.RequestContext{UserID: member.ID, OrgID: org.ID, Role: types.RoleMember}
	notes, unread, err := n.List(ctx, rc, false, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(notes) != 2 || unread != 2 {
		t.Fatalf("expected org and global notifications only, got %d unread=%d", len(notes), unread)
	}

	if err := n.MarkRead(ctx, owner.ID, notes[0].ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for another user's notification, got %v", err)
	}
	if err := n.MarkRead(ctx, member.ID, notes[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	updated, err := n.MarkAllRead(ctx, rc)
	if err != nil || updated != 1 {
		t.Fatalf("expected one remaining unread, got %d err=%v", updated, err)
	}

	unreadOnly, _, err := n.List(ctx, rc, true, 0)
	if err != nil || len(unreadOnly) != 0 {
		t.Fatalf("expected no unread, got %d err=%v", len(unreadOnly), err)
	}
}
