// Package openblock lets a parent who is already providing care offer
// the spare seats in that block to other members. Invitations go out
// individually, each with its own reciprocal window, and seats are
// claimed strictly first come first served.
package openblock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"carepool/internal/database"
	"carepool/internal/fault"
	"carepool/internal/notify"
	"carepool/internal/util"

	"github.com/google/uuid"
)

type Store interface {
	GetScheduledCareByID(ctx context.Context, id uuid.UUID) (database.ScheduledCare, error)
	CreateCareRequest(ctx context.Context, params database.CreateCareRequestParams) (database.CareRequest, error)
	GetCareRequestByID(ctx context.Context, id uuid.UUID) (database.CareRequest, error)
	CreateOpenBlockInvitations(ctx context.Context, params database.CreateOpenBlockInvitationsParams) ([]database.OpenBlockInvitation, error)
	GetInvitationByID(ctx context.Context, id uuid.UUID) (database.OpenBlockInvitation, error)
	ListInvitationsForParent(ctx context.Context, parentID uuid.UUID) ([]database.OpenBlockInvitation, error)
	ListInvitationsForBlock(ctx context.Context, blockID uuid.UUID) ([]database.OpenBlockInvitation, error)
	AcceptOpenBlockInvitation(ctx context.Context, params database.AcceptInvitationParams) (database.AcceptInvitationResult, error)
	DeclineOpenBlockInvitation(ctx context.Context, id uuid.UUID) (database.OpenBlockInvitation, error)
	GetGroupMember(ctx context.Context, groupID, userID uuid.UUID) (database.GroupMember, error)
	GetChildByID(ctx context.Context, id uuid.UUID) (database.Child, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (database.User, error)
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

type OpenParams struct {
	Slots    int `validate:"omitempty,min=1,max=10"`
	Notes    util.Optional[string]
	Invitees []database.OpenBlockInviteeParams `validate:"required,min=1"`
}

type OpenResult struct {
	Offer       database.CareRequest           `json:"offer"`
	Invitations []database.OpenBlockInvitation `json:"invitations"`
}

// Open shares the spare seats of a confirmed block the actor is
// caring in. An offer row tracks the seat count; each invitee gets a
// personal invitation carrying the return-care window asked of them.
func (m *Manager) Open(ctx context.Context, actorID, blockID uuid.UUID, params OpenParams) (OpenResult, error) {
	var result OpenResult

	block, err := m.store.GetScheduledCareByID(ctx, blockID)
	if errors.Is(err, database.ErrScheduledCareNotFound) {
		return result, fault.Wrap(fault.KindNotFound, "scheduled care not found", err)
	}
	if err != nil {
		return result, err
	}
	if block.ParentID != actorID {
		return result, fault.New(fault.KindAuthorization, "only the caregiver can open a block")
	}
	if block.Status != database.BlockStatusConfirmed {
		return result, fault.New(fault.KindConflict, "block is not confirmed")
	}
	if len(params.Invitees) == 0 {
		return result, fault.New(fault.KindValidation, "at least one invitee is required")
	}

	slots := params.Slots
	if slots <= 0 {
		slots = 1
	}

	seen := make(map[uuid.UUID]bool, len(params.Invitees))
	for _, invitee := range params.Invitees {
		if invitee.InvitedParentID == actorID {
			return result, fault.New(fault.KindValidation, "cannot invite yourself")
		}
		if seen[invitee.InvitedParentID] {
			return result, fault.New(fault.KindValidation, "duplicate invitee")
		}
		seen[invitee.InvitedParentID] = true
		if invitee.ReciprocalStartTime >= invitee.ReciprocalEndTime {
			return result, fault.New(fault.KindValidation, "start time must be before end time")
		}
		member, err := m.store.GetGroupMember(ctx, block.GroupID, invitee.InvitedParentID)
		if errors.Is(err, database.ErrGroupMemberNotFound) {
			return result, fault.New(fault.KindValidation, "invitee is not a member of this group")
		}
		if err != nil {
			return result, err
		}
		if member.Status != database.MemberStatusActive {
			return result, fault.New(fault.KindValidation, "invitee's membership is not active")
		}
	}

	offer, err := m.store.CreateCareRequest(ctx, database.CreateCareRequestParams{
		GroupID:           block.GroupID,
		RequesterID:       actorID,
		ChildID:           block.ChildID,
		Date:              block.Date,
		StartTime:         block.StartTime,
		EndTime:           block.EndTime,
		Type:              database.RequestTypeOpenBlockSent,
		Notes:             params.Notes,
		Slots:             util.Some(slots),
		OpenBlockParentID: util.Some(actorID),
		ExistingBlockID:   util.Some(blockID),
	})
	if err != nil {
		return result, err
	}

	invitations, err := m.store.CreateOpenBlockInvitations(ctx, database.CreateOpenBlockInvitationsParams{
		ExistingBlockID:  blockID,
		GroupID:          block.GroupID,
		InvitingParentID: actorID,
		Notes:            params.Notes,
		Invitees:         params.Invitees,
	})
	if err != nil {
		return result, err
	}

	actor, err := m.store.GetUserByID(ctx, actorID)
	if err != nil {
		return result, err
	}
	for _, invitation := range invitations {
		if err := m.notifier.Notify(ctx, notify.Direct{
			EventID:     notify.EventID(invitation.ID, notify.TypeOpenBlockInvitation),
			RecipientID: invitation.InvitedParentID,
			SenderID:    actorID,
			GroupID:     util.Some(block.GroupID),
			Type:        notify.TypeOpenBlockInvitation,
			Title:       "Open care block",
			Message: fmt.Sprintf("%s can watch your child on %s %s-%s, in return for %s %s-%s",
				actor.Name, block.Date.Format("Mon Jan 2"), block.StartTime, block.EndTime,
				invitation.ReciprocalDate.Format("Mon Jan 2"), invitation.ReciprocalStartTime, invitation.ReciprocalEndTime),
		}); err != nil {
			m.logger.Warn("invitation notification failed",
				slog.String("invitation_id", invitation.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	result.Offer = offer
	result.Invitations = invitations
	m.logger.Info("open block shared",
		slog.String("block_id", blockID.String()),
		slog.Int("slots", slots),
		slog.Int("invitations", len(invitations)))
	return result, nil
}

// ListInvitations returns the actor's pending invitations.
func (m *Manager) ListInvitations(ctx context.Context, actorID uuid.UUID) ([]database.OpenBlockInvitation, error) {
	return m.store.ListInvitationsForParent(ctx, actorID)
}

// Accept claims a seat with one of the actor's children. Losing the
// race for the last seat is a conflict; retrying an acceptance that
// already went through is not.
func (m *Manager) Accept(ctx context.Context, actorID, invitationID, childID uuid.UUID) (database.AcceptInvitationResult, error) {
	var result database.AcceptInvitationResult

	invitation, err := m.store.GetInvitationByID(ctx, invitationID)
	if errors.Is(err, database.ErrInvitationNotFound) {
		return result, fault.Wrap(fault.KindNotFound, "invitation not found", err)
	}
	if err != nil {
		return result, err
	}
	if invitation.InvitedParentID != actorID {
		return result, fault.New(fault.KindAuthorization, "invitation is addressed to someone else")
	}

	child, err := m.store.GetChildByID(ctx, childID)
	if errors.Is(err, database.ErrChildNotFound) {
		return result, fault.Wrap(fault.KindNotFound, "child not found", err)
	}
	if err != nil {
		return result, err
	}
	if child.ParentID != actorID {
		return result, fault.New(fault.KindAuthorization, "child belongs to another parent")
	}

	result, err = m.store.AcceptOpenBlockInvitation(ctx, database.AcceptInvitationParams{
		InvitationID: invitationID,
		ChildID:      childID,
	})
	switch {
	case errors.Is(err, database.ErrInvitationNotPending):
		return result, fault.Wrap(fault.KindConflict, "invitation is no longer available", err)
	case errors.Is(err, database.ErrAcceptedDifferentChild):
		return result, fault.Wrap(fault.KindConflict, "invitation was already accepted with a different child", err)
	case errors.Is(err, database.ErrCareRequestNotFound):
		return result, fault.Wrap(fault.KindConflict, "open block offer is gone", err)
	case err != nil:
		return result, err
	}
	if result.Replayed {
		return result, nil
	}

	actor, err := m.store.GetUserByID(ctx, actorID)
	if err != nil {
		return result, err
	}
	if err := m.notifier.Notify(ctx, notify.Direct{
		EventID:     notify.EventID(result.Invitation.ID, notify.TypeOpenBlockAccepted),
		RecipientID: result.Invitation.InvitingParentID,
		SenderID:    actorID,
		GroupID:     util.Some(result.Invitation.GroupID),
		Type:        notify.TypeOpenBlockAccepted,
		Title:       "Seat taken",
		Message:     fmt.Sprintf("%s joins your care block with %s", actor.Name, child.Name),
	}); err != nil {
		m.logger.Warn("acceptance notification failed",
			slog.String("invitation_id", invitationID.String()),
			slog.String("error", err.Error()))
	}

	for _, expired := range result.Expired {
		if err := m.notifier.Notify(ctx, notify.Direct{
			EventID:     notify.EventID(expired.ID, notify.TypeInvitationExpired),
			RecipientID: expired.InvitedParentID,
			SenderID:    result.Invitation.InvitingParentID,
			GroupID:     util.Some(expired.GroupID),
			Type:        notify.TypeInvitationExpired,
			Title:       "Block filled",
			Message:     "The open care block you were invited to has been filled",
		}); err != nil {
			m.logger.Warn("expiry notification failed",
				slog.String("invitation_id", expired.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	m.logger.Info("open block invitation accepted",
		slog.String("invitation_id", invitationID.String()),
		slog.Int("expired_siblings", len(result.Expired)))
	return result, nil
}

// Decline passes on an invitation; the remaining invitees keep their
// chance.
func (m *Manager) Decline(ctx context.Context, actorID, invitationID uuid.UUID) (database.OpenBlockInvitation, error) {
	var declined database.OpenBlockInvitation

	invitation, err := m.store.GetInvitationByID(ctx, invitationID)
	if errors.Is(err, database.ErrInvitationNotFound) {
		return declined, fault.Wrap(fault.KindNotFound, "invitation not found", err)
	}
	if err != nil {
		return declined, err
	}
	if invitation.InvitedParentID != actorID {
		return declined, fault.New(fault.KindAuthorization, "invitation is addressed to someone else")
	}

	declined, err = m.store.DeclineOpenBlockInvitation(ctx, invitationID)
	if errors.Is(err, database.ErrInvitationNotPending) {
		return declined, fault.Wrap(fault.KindConflict, "invitation is no longer available", err)
	}
	if err != nil {
		return declined, err
	}

	actor, err := m.store.GetUserByID(ctx, actorID)
	if err != nil {
		return declined, err
	}
	if err := m.notifier.Notify(ctx, notify.Direct{
		EventID:     notify.EventID(declined.ID, notify.TypeResponseDeclined),
		RecipientID: declined.InvitingParentID,
		SenderID:    actorID,
		GroupID:     util.Some(declined.GroupID),
		Type:        notify.TypeResponseDeclined,
		Title:       "Invitation declined",
		Message:     fmt.Sprintf("%s passed on your open care block", actor.Name),
	}); err != nil {
		m.logger.Warn("decline notification failed",
			slog.String("invitation_id", invitationID.String()),
			slog.String("error", err.Error()))
	}
	return declined, nil
}
