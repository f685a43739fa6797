// Package schedule exposes the care calendar and the reschedule
// negotiation over confirmed blocks.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"carepool/internal/database"
	"carepool/internal/fault"
	"carepool/internal/notify"
	"carepool/internal/util"

	"github.com/google/uuid"
)

// maxRescheduleHops caps a counter-proposal chain; after this the
// parties have to settle out of band.
const maxRescheduleHops = 5

type Store interface {
	GetScheduledCareByID(ctx context.Context, id uuid.UUID) (database.ScheduledCare, error)
	ListScheduledCare(ctx context.Context, params database.ListScheduledCareParams) ([]database.ScheduledCare, error)
	ArrangementsBetween(ctx context.Context, groupID, parentA, parentB uuid.UUID, from time.Time) ([]database.ScheduledCare, error)
	CancelScheduledCare(ctx context.Context, id uuid.UUID) (database.ScheduledCare, error)
	ListBlockChildren(ctx context.Context, blockID uuid.UUID) ([]database.Child, error)
	CreateRescheduleRequest(ctx context.Context, params database.CreateRescheduleParams) (database.RescheduleRequest, error)
	GetRescheduleByID(ctx context.Context, id uuid.UUID) (database.RescheduleRequest, error)
	ListReschedulesForUser(ctx context.Context, userID uuid.UUID) ([]database.RescheduleRequest, error)
	AcceptReschedule(ctx context.Context, id uuid.UUID) (database.AcceptRescheduleResult, error)
	DeclineReschedule(ctx context.Context, id uuid.UUID, cancelBlockID util.Optional[uuid.UUID]) (database.RescheduleRequest, error)
	CounterProposeReschedule(ctx context.Context, id uuid.UUID, params database.CreateRescheduleParams) (database.RescheduleRequest, error)
	GetChildByID(ctx context.Context, id uuid.UUID) (database.Child, error)
	GetGroupMember(ctx context.Context, groupID, userID uuid.UUID) (database.GroupMember, error)
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

// Calendar lists a member's upcoming confirmed blocks, optionally
// narrowed to one group.
func (m *Manager) Calendar(ctx context.Context, actorID uuid.UUID, groupID util.Optional[uuid.UUID], from time.Time) ([]database.ScheduledCare, error) {
	if groupID.IsSet {
		if err := m.requireActiveMember(ctx, groupID.Val, actorID); err != nil {
			return nil, err
		}
		return m.store.ListScheduledCare(ctx, database.ListScheduledCareParams{
			GroupID: groupID,
			From:    util.Some(from),
		})
	}
	return m.store.ListScheduledCare(ctx, database.ListScheduledCareParams{
		ParentID: util.Some(actorID),
		From:     util.Some(from),
	})
}

type BlockDetail struct {
	Block    database.ScheduledCare `json:"block"`
	Children []database.Child       `json:"children"`
}

func (m *Manager) GetBlock(ctx context.Context, actorID, blockID uuid.UUID) (BlockDetail, error) {
	var detail BlockDetail

	block, err := m.getBlock(ctx, blockID)
	if err != nil {
		return detail, err
	}
	if err := m.requireActiveMember(ctx, block.GroupID, actorID); err != nil {
		return detail, err
	}

	children, err := m.store.ListBlockChildren(ctx, blockID)
	if err != nil {
		return detail, err
	}
	detail.Block = block
	detail.Children = children
	return detail, nil
}

type RescheduleParams struct {
	ToDate  time.Time `validate:"required"`
	ToStart string    `validate:"required,clock"`
	ToEnd   string    `validate:"required,clock"`
	Notes   util.Optional[string]
}

// RequestReschedule asks the other party of a block to move it. Either
// side of the block may open the negotiation; the counterpart is
// whoever the requester is not.
func (m *Manager) RequestReschedule(ctx context.Context, actorID, blockID uuid.UUID, params RescheduleParams) (database.RescheduleRequest, error) {
	var reschedule database.RescheduleRequest

	block, err := m.getBlock(ctx, blockID)
	if err != nil {
		return reschedule, err
	}
	counterpartID, err := m.counterpartOf(ctx, block, actorID)
	if err != nil {
		return reschedule, err
	}
	if err := validateWindow(params.ToStart, params.ToEnd); err != nil {
		return reschedule, err
	}

	reschedule, err = m.store.CreateRescheduleRequest(ctx, database.CreateRescheduleParams{
		BlockID:       blockID,
		RequesterID:   actorID,
		CounterpartID: counterpartID,
		ToDate:        params.ToDate,
		ToStart:       params.ToStart,
		ToEnd:         params.ToEnd,
		Notes:         params.Notes,
	})
	if errors.Is(err, database.ErrScheduledCareNotFound) {
		return reschedule, fault.Wrap(fault.KindNotFound, "scheduled care not found", err)
	}
	if errors.Is(err, database.ErrBlockNotReschedulable) {
		return reschedule, fault.Wrap(fault.KindConflict, "block cannot be rescheduled right now", err)
	}
	if err != nil {
		return reschedule, err
	}

	m.notifyParty(ctx, reschedule, counterpartID, actorID, notify.TypeRescheduleRequested,
		"Reschedule requested",
		fmt.Sprintf("A care block on %s is proposed to move to %s %s-%s",
			reschedule.FromDate.Format("Mon Jan 2"), reschedule.ToDate.Format("Mon Jan 2"), reschedule.ToStart, reschedule.ToEnd))

	m.logger.Info("reschedule requested",
		slog.String("reschedule_id", reschedule.ID.String()),
		slog.String("block_id", blockID.String()))
	return reschedule, nil
}

func (m *Manager) ListReschedules(ctx context.Context, actorID uuid.UUID) ([]database.RescheduleRequest, error) {
	return m.store.ListReschedulesForUser(ctx, actorID)
}

// AcceptReschedule moves the block to the proposed window. Only the
// counterpart may answer.
func (m *Manager) AcceptReschedule(ctx context.Context, actorID, rescheduleID uuid.UUID) (database.AcceptRescheduleResult, error) {
	var result database.AcceptRescheduleResult

	reschedule, err := m.getPendingFor(ctx, actorID, rescheduleID)
	if err != nil {
		return result, err
	}

	result, err = m.store.AcceptReschedule(ctx, rescheduleID)
	if errors.Is(err, database.ErrRescheduleNotPending) {
		return result, fault.Wrap(fault.KindConflict, "reschedule request already resolved", err)
	}
	if errors.Is(err, database.ErrBlockNotReschedulable) {
		return result, fault.Wrap(fault.KindConflict, "block is no longer confirmed", err)
	}
	if err != nil {
		return result, err
	}

	m.notifyParty(ctx, result.Reschedule, reschedule.RequesterID, actorID, notify.TypeRescheduleAccepted,
		"Reschedule accepted",
		fmt.Sprintf("The care block moved to %s %s-%s",
			result.Block.Date.Format("Mon Jan 2"), result.Block.StartTime, result.Block.EndTime))

	m.logger.Info("reschedule accepted", slog.String("reschedule_id", rescheduleID.String()))
	return result, nil
}

type DeclineRescheduleParams struct {
	// CancelArrangementID names an arrangement between the two parties
	// to call off instead of the default target.
	CancelArrangementID util.Optional[uuid.UUID]
}

// DeclineReschedule refuses the proposed window and cancels one
// arrangement along with it. By default the block under negotiation
// goes, or whichever arrangement an earlier round picked; the decliner
// may instead select a different future arrangement between the same
// pair.
func (m *Manager) DeclineReschedule(ctx context.Context, actorID, rescheduleID uuid.UUID, params DeclineRescheduleParams) (database.RescheduleRequest, error) {
	var declined database.RescheduleRequest

	reschedule, err := m.getPendingFor(ctx, actorID, rescheduleID)
	if err != nil {
		return declined, err
	}

	target, err := m.cancelTargetOf(ctx, reschedule, params.CancelArrangementID)
	if err != nil {
		return declined, err
	}

	declined, err = m.store.DeclineReschedule(ctx, rescheduleID, util.Some(target))
	if errors.Is(err, database.ErrRescheduleNotPending) {
		return declined, fault.Wrap(fault.KindConflict, "reschedule request already resolved", err)
	}
	if err != nil {
		return declined, err
	}

	m.notifyParty(ctx, declined, declined.RequesterID, actorID, notify.TypeRescheduleDeclined,
		"Reschedule declined",
		fmt.Sprintf("The proposal to move the block on %s was declined", declined.FromDate.Format("Mon Jan 2")))
	m.notifyParty(ctx, declined, declined.RequesterID, actorID, notify.TypeArrangementCancelled,
		"Arrangement cancelled",
		"A care arrangement between you was cancelled alongside the declined reschedule")

	m.logger.Info("reschedule declined",
		slog.String("reschedule_id", rescheduleID.String()),
		slog.String("cancelled_block_id", target.String()))
	return declined, nil
}

// cancelTargetOf resolves which arrangement a decline calls off: an
// explicit selection wins, then a choice carried from an earlier
// round, then the block under negotiation itself. An explicit
// selection must be a future arrangement between the two parties.
func (m *Manager) cancelTargetOf(ctx context.Context, reschedule database.RescheduleRequest, explicit util.Optional[uuid.UUID]) (uuid.UUID, error) {
	if !explicit.IsSet {
		return reschedule.CancelTargetID.UnwrapOr(reschedule.BlockID), nil
	}
	arrangements, err := m.store.ArrangementsBetween(ctx, reschedule.GroupID, reschedule.RequesterID, reschedule.CounterpartID, time.Now().UTC().Truncate(24*time.Hour))
	if err != nil {
		return uuid.Nil, err
	}
	for _, arrangement := range arrangements {
		if arrangement.ID == explicit.Val {
			return explicit.Val, nil
		}
	}
	return uuid.Nil, fault.New(fault.KindValidation, "arrangement is not between the two parties")
}

// ListArrangements returns the future arrangements between the two
// parties of a pending reschedule. The answering party picks from
// this list when a decline also calls an arrangement off.
func (m *Manager) ListArrangements(ctx context.Context, actorID, rescheduleID uuid.UUID) ([]database.ScheduledCare, error) {
	reschedule, err := m.getPendingFor(ctx, actorID, rescheduleID)
	if err != nil {
		return nil, err
	}
	return m.store.ArrangementsBetween(ctx, reschedule.GroupID, reschedule.RequesterID, reschedule.CounterpartID,
		time.Now().UTC().Truncate(24*time.Hour))
}

type CounterProposeParams struct {
	RescheduleParams
	// CancelArrangementID replaces the cancellation choice carried on
	// the chain; unset keeps the current one.
	CancelArrangementID util.Optional[uuid.UUID]
}

// CounterPropose answers a proposal with a different window, swapping
// the negotiating roles. The cancellation choice rides along so a
// later decline still calls off the arrangement picked earlier.
// Chains are bounded; after maxRescheduleHops back-and-forths the
// counter is refused.
func (m *Manager) CounterPropose(ctx context.Context, actorID, rescheduleID uuid.UUID, params CounterProposeParams) (database.RescheduleRequest, error) {
	var counter database.RescheduleRequest

	reschedule, err := m.getPendingFor(ctx, actorID, rescheduleID)
	if err != nil {
		return counter, err
	}
	if reschedule.HopCount >= maxRescheduleHops {
		return counter, fault.New(fault.KindConflict, "too many counter proposals; settle directly")
	}
	if err := validateWindow(params.ToStart, params.ToEnd); err != nil {
		return counter, err
	}

	carried := reschedule.CancelTargetID
	if params.CancelArrangementID.IsSet {
		target, err := m.cancelTargetOf(ctx, reschedule, params.CancelArrangementID)
		if err != nil {
			return counter, err
		}
		carried = util.Some(target)
	}

	counter, err = m.store.CounterProposeReschedule(ctx, rescheduleID, database.CreateRescheduleParams{
		BlockID:        reschedule.BlockID,
		RequesterID:    actorID,
		CounterpartID:  reschedule.RequesterID,
		ToDate:         params.ToDate,
		ToStart:        params.ToStart,
		ToEnd:          params.ToEnd,
		Notes:          params.Notes,
		CancelTargetID: carried,
	})
	if errors.Is(err, database.ErrRescheduleNotPending) {
		return counter, fault.Wrap(fault.KindConflict, "reschedule request already resolved", err)
	}
	if errors.Is(err, database.ErrBlockNotReschedulable) {
		return counter, fault.Wrap(fault.KindConflict, "block is no longer confirmed", err)
	}
	if err != nil {
		return counter, err
	}

	m.notifyParty(ctx, counter, counter.CounterpartID, actorID, notify.TypeRescheduleRequested,
		"Counter proposal",
		fmt.Sprintf("A different window was proposed: %s %s-%s",
			counter.ToDate.Format("Mon Jan 2"), counter.ToStart, counter.ToEnd))

	m.logger.Info("reschedule countered",
		slog.String("reschedule_id", rescheduleID.String()),
		slog.String("counter_id", counter.ID.String()),
		slog.Int("hop_count", counter.HopCount))
	return counter, nil
}

// CancelBlock calls off a confirmed block. Either party may cancel;
// the other party is told.
func (m *Manager) CancelBlock(ctx context.Context, actorID, blockID uuid.UUID) (database.ScheduledCare, error) {
	var cancelled database.ScheduledCare

	block, err := m.getBlock(ctx, blockID)
	if err != nil {
		return cancelled, err
	}
	counterpartID, err := m.counterpartOf(ctx, block, actorID)
	if err != nil {
		return cancelled, err
	}

	cancelled, err = m.store.CancelScheduledCare(ctx, blockID)
	if err != nil {
		return cancelled, err
	}

	actor, err := m.store.GetUserByID(ctx, actorID)
	if err != nil {
		return cancelled, err
	}
	if err := m.notifier.Notify(ctx, notify.Direct{
		EventID:     notify.EventID(blockID, notify.TypeArrangementCancelled),
		RecipientID: counterpartID,
		SenderID:    actorID,
		GroupID:     util.Some(block.GroupID),
		Type:        notify.TypeArrangementCancelled,
		Title:       "Care block cancelled",
		Message:     fmt.Sprintf("%s cancelled the care block on %s", actor.Name, block.Date.Format("Mon Jan 2")),
	}); err != nil {
		m.logger.Warn("cancel notification failed",
			slog.String("block_id", blockID.String()),
			slog.String("error", err.Error()))
	}

	m.logger.Info("care block cancelled", slog.String("block_id", blockID.String()))
	return cancelled, nil
}

func (m *Manager) getBlock(ctx context.Context, blockID uuid.UUID) (database.ScheduledCare, error) {
	block, err := m.store.GetScheduledCareByID(ctx, blockID)
	if errors.Is(err, database.ErrScheduledCareNotFound) {
		return block, fault.Wrap(fault.KindNotFound, "scheduled care not found", err)
	}
	return block, err
}

// counterpartOf identifies the other party of a block: the caregiver
// on one side, the cared-for child's parent on the other. Anyone else
// is not a party to the block.
func (m *Manager) counterpartOf(ctx context.Context, block database.ScheduledCare, actorID uuid.UUID) (uuid.UUID, error) {
	child, err := m.store.GetChildByID(ctx, block.ChildID)
	if err != nil {
		return uuid.Nil, err
	}
	switch actorID {
	case block.ParentID:
		return child.ParentID, nil
	case child.ParentID:
		return block.ParentID, nil
	default:
		return uuid.Nil, fault.New(fault.KindAuthorization, "not a party to this care block")
	}
}

// getPendingFor loads a reschedule the actor is allowed to answer.
func (m *Manager) getPendingFor(ctx context.Context, actorID, rescheduleID uuid.UUID) (database.RescheduleRequest, error) {
	reschedule, err := m.store.GetRescheduleByID(ctx, rescheduleID)
	if errors.Is(err, database.ErrRescheduleNotFound) {
		return reschedule, fault.Wrap(fault.KindNotFound, "reschedule request not found", err)
	}
	if err != nil {
		return reschedule, err
	}
	if reschedule.CounterpartID != actorID {
		return reschedule, fault.New(fault.KindAuthorization, "only the other party can answer this proposal")
	}
	return reschedule, nil
}

func (m *Manager) notifyParty(ctx context.Context, reschedule database.RescheduleRequest, recipientID, senderID uuid.UUID, eventType, title, message string) {
	if err := m.notifier.Notify(ctx, notify.Direct{
		EventID:     notify.EventID(reschedule.ID, eventType),
		RecipientID: recipientID,
		SenderID:    senderID,
		GroupID:     util.Some(reschedule.GroupID),
		Type:        eventType,
		Title:       title,
		Message:     message,
	}); err != nil {
		m.logger.Warn("reschedule notification failed",
			slog.String("reschedule_id", reschedule.ID.String()),
			slog.String("error", err.Error()))
	}
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

func validateWindow(start, end string) error {
	if start == "" || end == "" {
		return fault.New(fault.KindValidation, "start and end times are required")
	}
	if start >= end {
		return fault.New(fault.KindValidation, "start time must be before end time")
	}
	return nil
}
