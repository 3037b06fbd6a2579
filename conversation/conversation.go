// Package conversation decides where a message addressed to an id goes and
// whether the requester may send or listen there.
package conversation

import (
	"context"
	"errors"

	"teamspace/apperr"
	"teamspace/orgs"
	"teamspace/types"

	"gorm.io/gorm"
)

type Mode int

const (
	ModeDirect Mode = iota + 1
	ModeGroup
	ModeChannel
	ModeProjectChannel
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeGroup:
		return "group"
	case ModeChannel:
		return "channel"
	case ModeProjectChannel:
		return "project-channel"
	default:
		return "unknown"
	}
}

// Route is a resolved target. For rooms TargetID is the room id, which is also
// the realtime room name.
type Route struct {
	Mode      Mode
	TargetID  string
	OrgID     string
	AdminOnly bool
	CanWrite  bool
	Group     *types.Group
	Channel   *types.Channel
}

func (r Route) IsRoom() bool { return r.Mode != ModeDirect }

// ConnectionChecker reports whether two users have an accepted connection.
type ConnectionChecker interface {
	AreConnected(ctx context.Context, a, b string) (bool, error)
}

type Resolver struct {
	db          *gorm.DB
	connections ConnectionChecker
}

func NewResolver(gdb *gorm.DB, connections ConnectionChecker) *Resolver {
	return &Resolver{db: gdb, connections: connections}
}

// Resolve looks targetID up as a user, then a group, then a channel.
func (r *Resolver) Resolve(ctx context.Context, rc orgs.RequestContext, targetID string) (Route, error) {
	if targetID == "" {
		return Route{}, apperr.Validation("target id is required")
	}
	if targetID == rc.UserID {
		return Route{}, apperr.Validation("cannot message yourself")
	}

	found, err := r.exists(ctx, &types.User{}, targetID)
	if err != nil {
		return Route{}, err
	}
	if found {
		return r.direct(ctx, rc, targetID)
	}

	var group types.Group
	err = r.db.WithContext(ctx).First(&group, "id = ?", targetID).Error
	if err == nil {
		if group.OrgID != rc.OrgID {
			return Route{}, apperr.NotFound("conversation not found")
		}
		return r.group(ctx, rc.UserID, &group)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Route{}, apperr.Internal("group lookup", err)
	}

	var channel types.Channel
	err = r.db.WithContext(ctx).First(&channel, "id = ?", targetID).Error
	if err == nil {
		if channel.OrgID != rc.OrgID {
			return Route{}, apperr.NotFound("conversation not found")
		}
		return r.channel(ctx, rc.UserID, &channel)
	}
	return Route{}, apperr.FromDB(err, "conversation not found")
}

// ResolveGroup is Resolve restricted to groups.
func (r *Resolver) ResolveGroup(ctx context.Context, rc orgs.RequestContext, groupID string) (Route, error) {
	var group types.Group
	err := r.db.WithContext(ctx).First(&group, "id = ? AND org_id = ?", groupID, rc.OrgID).Error
	if err != nil {
		return Route{}, apperr.FromDB(err, "group not found")
	}
	return r.group(ctx, rc.UserID, &group)
}

// ResolveChannel is Resolve restricted to channels.
func (r *Resolver) ResolveChannel(ctx context.Context, rc orgs.RequestContext, channelID string) (Route, error) {
	var channel types.Channel
	err := r.db.WithContext(ctx).First(&channel, "id = ? AND org_id = ?", channelID, rc.OrgID).Error
	if err != nil {
		return Route{}, apperr.FromDB(err, "channel not found")
	}
	return r.channel(ctx, rc.UserID, &channel)
}

func (r *Resolver) direct(ctx context.Context, rc orgs.RequestContext, userID string) (Route, error) {
	member, err := r.isMember(ctx, &types.Membership{}, "org_id = ? AND user_id = ?", rc.OrgID, userID)
	if err != nil {
		return Route{}, err
	}
	if !member {
		return Route{}, apperr.Forbidden("user is not a member of this organization")
	}
	connected, err := r.connections.AreConnected(ctx, rc.UserID, userID)
	if err != nil {
		return Route{}, err
	}
	if !connected {
		return Route{}, apperr.Forbidden("you are not connected with this user")
	}
	return Route{Mode: ModeDirect, TargetID: userID, OrgID: rc.OrgID, CanWrite: true}, nil
}

func (r *Resolver) group(ctx context.Context, userID string, group *types.Group) (Route, error) {
	member, err := r.isMember(ctx, &types.GroupMember{}, "group_id = ? AND user_id = ?", group.ID, userID)
	if err != nil {
		return Route{}, err
	}
	if !member {
		return Route{}, apperr.Forbidden("you are not a member of this group")
	}
	route := Route{Mode: ModeGroup, TargetID: group.ID, OrgID: group.OrgID, CanWrite: true, Group: group}
	if group.Kind == types.GroupKindChannel {
		route.AdminOnly = true
		route.CanWrite = group.AdminID == userID
	}
	return route, nil
}

func (r *Resolver) channel(ctx context.Context, userID string, channel *types.Channel) (Route, error) {
	route := Route{Mode: ModeChannel, TargetID: channel.ID, OrgID: channel.OrgID, CanWrite: true, Channel: channel}

	if channel.ProjectID != nil {
		member, err := r.isMember(ctx, &types.ProjectMember{}, "project_id = ? AND user_id = ?", *channel.ProjectID, userID)
		if err != nil {
			return Route{}, err
		}
		if !member {
			return Route{}, apperr.Forbidden("you are not a member of this project")
		}
		route.Mode = ModeProjectChannel
		return route, nil
	}

	if !channel.Private {
		return route, nil
	}
	member, err := r.isMember(ctx, &types.ChannelMember{}, "channel_id = ? AND user_id = ?", channel.ID, userID)
	if err != nil {
		return Route{}, err
	}
	if !member {
		return Route{}, apperr.Forbidden("this channel is private")
	}
	return route, nil
}

// CanJoinRoom authorizes a realtime room subscription. A socket carries no org
// context, so membership of the room's org stands in for it.
func (r *Resolver) CanJoinRoom(ctx context.Context, userID, roomID string) (bool, error) {
	var orgID string
	var group types.Group
	var channel types.Channel

	err := r.db.WithContext(ctx).First(&group, "id = ?", roomID).Error
	switch {
	case err == nil:
		orgID = group.OrgID
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := r.db.WithContext(ctx).First(&channel, "id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, nil
			}
			return false, err
		}
		orgID = channel.OrgID
	default:
		return false, err
	}

	member, err := r.isMember(ctx, &types.Membership{}, "org_id = ? AND user_id = ?", orgID, userID)
	if err != nil || !member {
		return false, err
	}

	if group.ID != "" {
		_, err = r.group(ctx, userID, &group)
	} else {
		_, err = r.channel(ctx, userID, &channel)
	}
	if apperr.Is(err, apperr.KindForbidden) {
		return false, nil
	}
	return err == nil, err
}

// CanSignal allows direct realtime signals, such as typing, between connected users.
func (r *Resolver) CanSignal(ctx context.Context, userID, peerID string) (bool, error) {
	if userID == peerID {
		return false, nil
	}
	return r.connections.AreConnected(ctx, userID, peerID)
}

func (r *Resolver) exists(ctx context.Context, model interface{}, id string) (bool, error) {
	return r.isMember(ctx, model, "id = ?", id)
}

func (r *Resolver) isMember(ctx context.Context, model interface{}, query string, args ...interface{}) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(model).Where(query, args...).Count(&count).Error; err != nil {
		return false, apperr.Internal("membership lookup", err)
	}
	return count > 0, nil
}
