// Package group owns circles of parents: creation, membership, and
// the email invite flow that brings new members in.
package group

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"carepool/internal/database"
	"carepool/internal/fault"
	"carepool/internal/notify"
	"carepool/internal/util"

	"github.com/google/uuid"
)

type Store interface {
	CreateGroup(ctx context.Context, params database.CreateGroupParams) (database.Group, error)
	GetGroupByID(ctx context.Context, id uuid.UUID) (database.Group, error)
	ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]database.Group, error)
	GetGroupMember(ctx context.Context, groupID, userID uuid.UUID) (database.GroupMember, error)
	ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]database.GroupMember, error)
	CreateGroupInvite(ctx context.Context, params database.CreateGroupInviteParams) (database.GroupInvite, error)
	GetGroupInviteByID(ctx context.Context, id uuid.UUID) (database.GroupInvite, error)
	ListGroupInvitesByEmail(ctx context.Context, email string) ([]database.GroupInvite, error)
	ResolveGroupInvite(ctx context.Context, params database.ResolveGroupInviteParams) (database.GroupInvite, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (database.User, error)
	GetUserByEmail(ctx context.Context, email string) (database.User, error)
}

type Manager struct {
	logger   *slog.Logger
	store    Store
	notifier *notify.Notifier
}

func NewManager(logger *slog.Logger, store Store, notifier *notify.Notifier) *Manager {
	return &Manager{
		logger:   logger,
		store:    store,
		notifier: notifier,
	}
}

type CreateGroupParams struct {
	Name        string `validate:"required,min=2,max=100"`
	Description string `validate:"max=500"`
}

func (m *Manager) CreateGroup(ctx context.Context, actorID uuid.UUID, params CreateGroupParams) (database.Group, error) {
	group, err := m.store.CreateGroup(ctx, database.CreateGroupParams{
		Name:        params.Name,
		Description: params.Description,
		CreatorID:   actorID,
	})
	if err != nil {
		return group, err
	}

	m.logger.Info("group created",
		slog.String("group_id", group.ID.String()),
		slog.String("creator_id", actorID.String()))
	return group, nil
}

// GetGroup returns a group to one of its active members.
func (m *Manager) GetGroup(ctx context.Context, actorID, groupID uuid.UUID) (database.Group, error) {
	group, err := m.store.GetGroupByID(ctx, groupID)
	if errors.Is(err, database.ErrGroupNotFound) {
		return group, fault.Wrap(fault.KindNotFound, "group not found", err)
	}
	if err != nil {
		return group, err
	}
	if err := m.requireActiveMember(ctx, groupID, actorID); err != nil {
		return group, err
	}
	return group, nil
}

func (m *Manager) ListGroups(ctx context.Context, actorID uuid.UUID) ([]database.Group, error) {
	return m.store.ListGroupsForUser(ctx, actorID)
}

func (m *Manager) ListMembers(ctx context.Context, actorID, groupID uuid.UUID) ([]database.GroupMember, error) {
	if err := m.requireActiveMember(ctx, groupID, actorID); err != nil {
		return nil, err
	}
	return m.store.ListGroupMembers(ctx, groupID)
}

type InviteParams struct {
	Email string `validate:"required,email"`
	Role  string `validate:"omitempty,oneof=member admin"`
}

// Invite mails a membership offer to an address. When the address
// already has an account the invitee is notified in-app as well.
func (m *Manager) Invite(ctx context.Context, actorID, groupID uuid.UUID, params InviteParams) (database.GroupInvite, error) {
	var invite database.GroupInvite
	if err := m.requireActiveMember(ctx, groupID, actorID); err != nil {
		return invite, err
	}

	role := params.Role
	if role == "" {
		role = "member"
	}
	email := strings.ToLower(strings.TrimSpace(params.Email))

	actor, err := m.store.GetUserByID(ctx, actorID)
	if err != nil {
		return invite, err
	}
	if strings.EqualFold(actor.Email, email) {
		return invite, fault.New(fault.KindValidation, "cannot invite yourself")
	}

	invite, err = m.store.CreateGroupInvite(ctx, database.CreateGroupInviteParams{
		GroupID:         groupID,
		InvitedByUserID: actorID,
		Email:           email,
		Role:            role,
	})
	if errors.Is(err, database.ErrDuplicateGroupMember) {
		return invite, fault.Wrap(fault.KindConflict, "already a member of this group", err)
	}
	if err != nil {
		return invite, err
	}

	group, err := m.store.GetGroupByID(ctx, groupID)
	if err != nil {
		return invite, err
	}

	if invitee, err := m.store.GetUserByEmail(ctx, email); err == nil {
		notifyErr := m.notifier.Notify(ctx, notify.Direct{
			EventID:     notify.EventID(invite.ID, notify.TypeGroupInvite),
			RecipientID: invitee.ID,
			SenderID:    actorID,
			GroupID:     util.Some(groupID),
			Type:        notify.TypeGroupInvite,
			Title:       "Group invitation",
			Message:     fmt.Sprintf("%s invited you to join %s", actor.Name, group.Name),
		})
		if notifyErr != nil {
			m.logger.Warn("invite notification failed",
				slog.String("invite_id", invite.ID.String()),
				slog.String("error", notifyErr.Error()))
		}
	}

	m.logger.Info("group invite created",
		slog.String("group_id", groupID.String()),
		slog.String("invite_id", invite.ID.String()))
	return invite, nil
}

// ListInvites returns the pending invites addressed to the actor's
// email.
func (m *Manager) ListInvites(ctx context.Context, actorID uuid.UUID) ([]database.GroupInvite, error) {
	actor, err := m.store.GetUserByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return m.store.ListGroupInvitesByEmail(ctx, actor.Email)
}

func (m *Manager) AcceptInvite(ctx context.Context, actorID, inviteID uuid.UUID) (database.GroupInvite, error) {
	return m.resolveInvite(ctx, actorID, inviteID, true)
}

func (m *Manager) DeclineInvite(ctx context.Context, actorID, inviteID uuid.UUID) (database.GroupInvite, error) {
	return m.resolveInvite(ctx, actorID, inviteID, false)
}

func (m *Manager) resolveInvite(ctx context.Context, actorID, inviteID uuid.UUID, accept bool) (database.GroupInvite, error) {
	invite, err := m.store.GetGroupInviteByID(ctx, inviteID)
	if errors.Is(err, database.ErrGroupInviteNotFound) {
		return invite, fault.Wrap(fault.KindNotFound, "invite not found", err)
	}
	if err != nil {
		return invite, err
	}

	actor, err := m.store.GetUserByID(ctx, actorID)
	if err != nil {
		return invite, err
	}
	if !strings.EqualFold(invite.Email, actor.Email) {
		return invite, fault.New(fault.KindAuthorization, "invite is addressed to someone else")
	}

	invite, err = m.store.ResolveGroupInvite(ctx, database.ResolveGroupInviteParams{
		InviteID: inviteID,
		UserID:   actorID,
		Accept:   accept,
	})
	if errors.Is(err, database.ErrInviteNotPending) {
		return invite, fault.Wrap(fault.KindConflict, "invite already resolved", err)
	}
	if err != nil {
		return invite, err
	}

	group, err := m.store.GetGroupByID(ctx, invite.GroupID)
	if err != nil {
		return invite, err
	}
	if accept {
		notifyErr := m.notifier.Fanout(ctx, notify.Event{
			EventID: notify.EventID(invite.ID, notify.TypeMemberJoined),
			GroupID: invite.GroupID,
			ActorID: actorID,
			Type:    notify.TypeMemberJoined,
			Title:   "New group member",
			Message: fmt.Sprintf("%s joined %s", actor.Name, group.Name),
		})
		if notifyErr != nil {
			m.logger.Warn("member joined fan-out failed",
				slog.String("group_id", invite.GroupID.String()),
				slog.String("error", notifyErr.Error()))
		}
	} else {
		notifyErr := m.notifier.Notify(ctx, notify.Direct{
			EventID:     notify.EventID(invite.ID, notify.TypeInviteDeclined),
			RecipientID: invite.InvitedByUserID,
			SenderID:    actorID,
			GroupID:     util.Some(invite.GroupID),
			Type:        notify.TypeInviteDeclined,
			Title:       "Invite declined",
			Message:     fmt.Sprintf("%s declined the invite to %s", actor.Name, group.Name),
		})
		if notifyErr != nil {
			m.logger.Warn("invite declined notification failed",
				slog.String("invite_id", invite.ID.String()),
				slog.String("error", notifyErr.Error()))
		}
	}

	m.logger.Info("group invite resolved",
		slog.String("invite_id", inviteID.String()),
		slog.Bool("accepted", accept))
	return invite, nil
}

func (m *Manager) requireActiveMember(ctx context.Context, groupID, userID uuid.UUID) error {
	member, err := m.store.GetGroupMember(ctx, groupID, userID)
	if errors.Is(err, database.ErrGroupMemberNotFound) {
		return fault.Wrap(fault.KindAuthorization, "not a member of this group", err)
	}
	if err != nil {
		return err
	}
	if member.Status != database.MemberStatusActive {
		return fault.New(fault.KindAuthorization, "membership is not active")
	}
	return nil
}
