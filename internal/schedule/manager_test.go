package schedule_test

import (
	"context"
	"testing"
	"time"

	"carepool/internal/database"
	"carepool/internal/fault"
	"carepool/internal/logger"
	"carepool/internal/memstore"
	"carepool/internal/notify"
	"carepool/internal/schedule"
	"carepool/internal/util"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *memstore.Store
	manager *schedule.Manager

	group database.Group

	alice database.User // caregiver on the block
	bob   database.User // parent of the cared-for child
	carol database.User // unrelated member

	bobKid database.Child
	block  database.ScheduledCare
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	log := logger.Discard()
	notifier := notify.NewNotifier(log, store, nil, nil)

	f := &fixture{
		store:   store,
		manager: schedule.NewManager(log, store, notifier),
	}

	var err error
	f.alice, err = store.CreateUser(ctx, database.CreateUserParams{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	f.bob, err = store.CreateUser(ctx, database.CreateUserParams{Name: "Bob", Email: "bob@example.com"})
	require.NoError(t, err)
	f.carol, err = store.CreateUser(ctx, database.CreateUserParams{Name: "Carol", Email: "carol@example.com"})
	require.NoError(t, err)

	f.group, err = store.CreateGroup(ctx, database.CreateGroupParams{Name: "School runs", CreatorID: f.alice.ID})
	require.NoError(t, err)
	for _, member := range []database.User{f.bob, f.carol} {
		invite, err := store.CreateGroupInvite(ctx, database.CreateGroupInviteParams{
			GroupID: f.group.ID, InvitedByUserID: f.alice.ID, Email: member.Email, Role: "member",
		})
		require.NoError(t, err)
		_, err = store.ResolveGroupInvite(ctx, database.ResolveGroupInviteParams{InviteID: invite.ID, UserID: member.ID, Accept: true})
		require.NoError(t, err)
	}

	f.bobKid, err = store.CreateChild(ctx, database.CreateChildParams{ParentID: f.bob.ID, Name: "Ben"})
	require.NoError(t, err)

	f.block, err = store.CreateScheduledCare(ctx, database.CreateScheduledCareParams{
		GroupID:   f.group.ID,
		ParentID:  f.alice.ID,
		ChildID:   f.bobKid.ID,
		Date:      time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC),
		StartTime: "14:00",
		EndTime:   "17:00",
		Type:      database.CareTypeProvided,
	})
	require.NoError(t, err)
	return f
}

// secondBlock adds another future arrangement between alice and bob.
func (f *fixture) secondBlock(t *testing.T) database.ScheduledCare {
	t.Helper()
	block, err := f.store.CreateScheduledCare(context.Background(), database.CreateScheduledCareParams{
		GroupID:   f.group.ID,
		ParentID:  f.alice.ID,
		ChildID:   f.bobKid.ID,
		Date:      time.Date(2026, 9, 25, 0, 0, 0, 0, time.UTC),
		StartTime: "09:00",
		EndTime:   "12:00",
		Type:      database.CareTypeProvided,
	})
	require.NoError(t, err)
	return block
}

func proposal() schedule.RescheduleParams {
	return schedule.RescheduleParams{
		ToDate:  time.Date(2026, 9, 19, 0, 0, 0, 0, time.UTC),
		ToStart: "10:00",
		ToEnd:   "13:00",
	}
}

func TestRequestReschedule(t *testing.T) {
	t.Run("either_party_may_open_the_negotiation", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		reschedule, err := f.manager.RequestReschedule(ctx, f.bob.ID, f.block.ID, proposal())
		require.NoError(t, err)
		assert.Equal(t, database.RescheduleStatusPending, reschedule.Status)
		assert.Equal(t, f.bob.ID, reschedule.RequesterID)
		assert.Equal(t, f.alice.ID, reschedule.CounterpartID)
		assert.Equal(t, "14:00", reschedule.FromStart, "the current window is snapshotted")
		assert.Equal(t, 0, reschedule.HopCount)

		notifications, err := f.store.ListNotifications(ctx, database.ListNotificationsParams{RecipientID: f.alice.ID})
		require.NoError(t, err)
		require.Len(t, notifications, 1)
		assert.Equal(t, notify.TypeRescheduleRequested, notifications[0].Type)
	})

	t.Run("one_pending_proposal_per_block", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		_, err := f.manager.RequestReschedule(ctx, f.bob.ID, f.block.ID, proposal())
		require.NoError(t, err)
		_, err = f.manager.RequestReschedule(ctx, f.alice.ID, f.block.ID, proposal())
		assert.True(t, fault.IsConflict(err), "got %v", err)
	})

	t.Run("strangers_are_not_a_party", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.RequestReschedule(context.Background(), f.carol.ID, f.block.ID, proposal())
		assert.True(t, fault.IsAuthorization(err), "got %v", err)
	})

	t.Run("rejects_inverted_window", func(t *testing.T) {
		f := newFixture(t)
		params := proposal()
		params.ToStart, params.ToEnd = params.ToEnd, params.ToStart
		_, err := f.manager.RequestReschedule(context.Background(), f.bob.ID, f.block.ID, params)
		assert.True(t, fault.IsValidation(err), "got %v", err)
	})

	t.Run("cancelled_blocks_cannot_move", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		_, err := f.manager.CancelBlock(ctx, f.alice.ID, f.block.ID)
		require.NoError(t, err)

		_, err = f.manager.RequestReschedule(ctx, f.bob.ID, f.block.ID, proposal())
		assert.True(t, fault.IsConflict(err), "got %v", err)
	})
}

func TestAcceptReschedule(t *testing.T) {
	t.Run("moves_the_block_to_the_proposed_window", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		reschedule, err := f.manager.RequestReschedule(ctx, f.bob.ID, f.block.ID, proposal())
		require.NoError(t, err)

		result, err := f.manager.AcceptReschedule(ctx, f.alice.ID, reschedule.ID)
		require.NoError(t, err)
		assert.Equal(t, database.RescheduleStatusAccepted, result.Reschedule.Status)
		assert.True(t, result.Block.Date.Equal(time.Date(2026, 9, 19, 0, 0, 0, 0, time.UTC)))
		assert.Equal(t, "10:00", result.Block.StartTime)
		assert.Equal(t, "13:00", result.Block.EndTime)
		assert.Equal(t, database.BlockStatusConfirmed, result.Block.Status)

		notifications, err := f.store.ListNotifications(ctx, database.ListNotificationsParams{RecipientID: f.bob.ID})
		require.NoError(t, err)
		require.Len(t, notifications, 1)
		assert.Equal(t, notify.TypeRescheduleAccepted, notifications[0].Type)
	})

	t.Run("the_requester_cannot_answer_their_own_proposal", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		reschedule, err := f.manager.RequestReschedule(ctx, f.bob.ID, f.block.ID, proposal())
		require.NoError(t, err)

		_, err = f.manager.AcceptReschedule(ctx, f.bob.ID, reschedule.ID)
		assert.True(t, fault.IsAuthorization(err), "got %v", err)
	})

	t.Run("resolved_proposals_stay_resolved", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		reschedule, err := f.manager.RequestReschedule(ctx, f.bob.ID, f.block.ID, proposal())
		require.NoError(t, err)
		_, err = f.manager.AcceptReschedule(ctx, f.alice.ID, reschedule.ID)
		require.NoError(t, err)

		_, err = f.manager.AcceptReschedule(ctx, f.alice.ID, reschedule.ID)
		assert.True(t, fault.IsConflict(err), "got %v", err)
	})
}

func TestDeclineReschedule(t *testing.T) {
	t.Run("cancels_the_targeted_block_by_default", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		reschedule, err := f.manager.RequestReschedule(ctx, f.bob.ID, f.block.ID, proposal())
		require.NoError(t, err)

		declined, err := f.manager.DeclineReschedule(ctx, f.alice.ID, reschedule.ID, schedule.DeclineRescheduleParams{})
		require.NoError(t, err)
		assert.Equal(t, database.RescheduleStatusDeclined, declined.Status)

		block, err := f.store.GetScheduledCareByID(ctx, f.block.ID)
		require.NoError(t, err)
		assert.Equal(t, database.BlockStatusCancelled, block.Status)

		var cancelled bool
		notifications, err := f.store.ListNotifications(ctx, database.ListNotificationsParams{RecipientID: f.bob.ID})
		require.NoError(t, err)
		for _, n := range notifications {
			if n.Type == notify.TypeArrangementCancelled {
				cancelled = true
			}
		}
		assert.True(t, cancelled)
	})

	t.Run("may_cancel_a_different_arrangement_between_the_parties", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		other := f.secondBlock(t)
		reschedule, err := f.manager.RequestReschedule(ctx, f.bob.ID, f.block.ID, proposal())
		require.NoError(t, err)

		_, err = f.manager.DeclineReschedule(ctx, f.alice.ID, reschedule.ID, schedule.DeclineRescheduleParams{
			CancelArrangementID: util.Some(other.ID),
		})
		require.NoError(t, err)

		cancelled, err := f.store.GetScheduledCareByID(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, database.BlockStatusCancelled, cancelled.Status)

		// The selection spares the block under negotiation.
		kept, err := f.store.GetScheduledCareByID(ctx, f.block.ID)
		require.NoError(t, err)
		assert.Equal(t, database.BlockStatusConfirmed, kept.Status)
	})

	t.Run("rejects_arrangements_the_parties_do_not_share", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		reschedule, err := f.manager.RequestReschedule(ctx, f.bob.ID, f.block.ID, proposal())
		require.NoError(t, err)

		_, err = f.manager.DeclineReschedule(ctx, f.alice.ID, reschedule.ID, schedule.DeclineRescheduleParams{
			CancelArrangementID: util.Some(uuid.New()),
		})
		assert.True(t, fault.IsValidation(err), "got %v", err)
	})
}

func TestListArrangements(t *testing.T) {
	t.Run("offers_the_future_blocks_between_the_parties", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		reschedule, err := f.manager.RequestReschedule(ctx, f.bob.ID, f.block.ID, proposal())
		require.NoError(t, err)

		arrangements, err := f.manager.ListArrangements(ctx, f.alice.ID, reschedule.ID)
		require.NoError(t, err)
		require.Len(t, arrangements, 1)
		assert.Equal(t, f.block.ID, arrangements[0].ID)
	})

	t.Run("only_the_answering_party_picks", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		reschedule, err := f.manager.RequestReschedule(ctx, f.bob.ID, f.block.ID, proposal())
		require.NoError(t, err)

		_, err = f.manager.ListArrangements(ctx, f.bob.ID, reschedule.ID)
		assert.True(t, fault.IsAuthorization(err))
	})
}

func TestCounterPropose(t *testing.T) {
	t.Run("swaps_the_negotiating_roles", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		reschedule, err := f.manager.RequestReschedule(ctx, f.bob.ID, f.block.ID, proposal())
		require.NoError(t, err)

		counter, err := f.manager.CounterPropose(ctx, f.alice.ID, reschedule.ID, schedule.CounterProposeParams{
			RescheduleParams: schedule.RescheduleParams{
				ToDate:  time.Date(2026, 9, 20, 0, 0, 0, 0, time.UTC),
				ToStart: "09:00",
				ToEnd:   "12:00",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, f.alice.ID, counter.RequesterID)
		assert.Equal(t, f.bob.ID, counter.CounterpartID)
		assert.Equal(t, 1, counter.HopCount)

		original, err := f.store.GetRescheduleByID(ctx, reschedule.ID)
		require.NoError(t, err)
		assert.Equal(t, database.RescheduleStatusDeclined, original.Status)
	})

	t.Run("chains_are_bounded", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		current, err := f.manager.RequestReschedule(ctx, f.bob.ID, f.block.ID, proposal())
		require.NoError(t, err)

		parties := []database.User{f.alice, f.bob}
		for i := 0; i < 5; i++ {
			current, err = f.manager.CounterPropose(ctx, parties[i%2].ID, current.ID, schedule.CounterProposeParams{RescheduleParams: proposal()})
			require.NoError(t, err)
		}
		assert.Equal(t, 5, current.HopCount)

		_, err = f.manager.CounterPropose(ctx, parties[1].ID, current.ID, schedule.CounterProposeParams{RescheduleParams: proposal()})
		assert.True(t, fault.IsConflict(err), "got %v", err)
	})

	t.Run("the_cancellation_choice_survives_the_chain", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		other := f.secondBlock(t)

		reschedule, err := f.manager.RequestReschedule(ctx, f.bob.ID, f.block.ID, proposal())
		require.NoError(t, err)

		counter, err := f.manager.CounterPropose(ctx, f.alice.ID, reschedule.ID, schedule.CounterProposeParams{
			RescheduleParams:    proposal(),
			CancelArrangementID: util.Some(other.ID),
		})
		require.NoError(t, err)
		assert.Equal(t, util.Some(other.ID), counter.CancelTargetID)

		// Declining the counter without a new selection falls back to
		// the choice made a round earlier.
		_, err = f.manager.DeclineReschedule(ctx, f.bob.ID, counter.ID, schedule.DeclineRescheduleParams{})
		require.NoError(t, err)

		cancelled, err := f.store.GetScheduledCareByID(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, database.BlockStatusCancelled, cancelled.Status)

		kept, err := f.store.GetScheduledCareByID(ctx, f.block.ID)
		require.NoError(t, err)
		assert.Equal(t, database.BlockStatusConfirmed, kept.Status)
	})
}

func TestCancelBlock(t *testing.T) {
	t.Run("either_party_may_cancel", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		cancelled, err := f.manager.CancelBlock(ctx, f.bob.ID, f.block.ID)
		require.NoError(t, err)
		assert.Equal(t, database.BlockStatusCancelled, cancelled.Status)

		notifications, err := f.store.ListNotifications(ctx, database.ListNotificationsParams{RecipientID: f.alice.ID})
		require.NoError(t, err)
		require.Len(t, notifications, 1)
		assert.Equal(t, notify.TypeArrangementCancelled, notifications[0].Type)
	})

	t.Run("strangers_may_not", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.CancelBlock(context.Background(), f.carol.ID, f.block.ID)
		assert.True(t, fault.IsAuthorization(err), "got %v", err)
	})
}

func TestCalendar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	t.Run("lists_the_actors_blocks", func(t *testing.T) {
		blocks, err := f.manager.Calendar(ctx, f.alice.ID, util.None[uuid.UUID](), from)
		require.NoError(t, err)
		require.Len(t, blocks, 1)
		assert.Equal(t, f.block.ID, blocks[0].ID)
	})

	t.Run("group_view_requires_membership", func(t *testing.T) {
		outsider, err := f.store.CreateUser(ctx, database.CreateUserParams{Name: "Mallory", Email: "mallory@example.com"})
		require.NoError(t, err)
		_, err = f.manager.Calendar(ctx, outsider.ID, util.Some(f.group.ID), from)
		assert.True(t, fault.IsAuthorization(err), "got %v", err)
	})

	t.Run("cancelled_blocks_drop_off", func(t *testing.T) {
		_, err := f.manager.CancelBlock(ctx, f.alice.ID, f.block.ID)
		require.NoError(t, err)
		blocks, err := f.manager.Calendar(ctx, f.alice.ID, util.None[uuid.UUID](), from)
		require.NoError(t, err)
		assert.Empty(t, blocks)
	})
}
