package care_test

import (
	"context"
	"testing"
	"time"

	"carepool/internal/care"
	"carepool/internal/database"
	"carepool/internal/fault"
	"carepool/internal/logger"
	"carepool/internal/memstore"
	"carepool/internal/notify"
	"carepool/internal/util"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *memstore.Store
	manager *care.Manager

	group database.Group

	alice database.User // group creator, posts requests
	bob   database.User // member, responds
	carol database.User // member, responds

	aliceKid database.Child
	bobKid   database.Child
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	log := logger.Discard()
	notifier := notify.NewNotifier(log, store, nil, nil)

	f := &fixture{
		store:   store,
		manager: care.NewManager(log, store, notifier),
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
	f.join(t, f.bob)
	f.join(t, f.carol)

	f.aliceKid, err = store.CreateChild(ctx, database.CreateChildParams{ParentID: f.alice.ID, Name: "Ann"})
	require.NoError(t, err)
	f.bobKid, err = store.CreateChild(ctx, database.CreateChildParams{ParentID: f.bob.ID, Name: "Ben"})
	require.NoError(t, err)
	return f
}

func (f *fixture) join(t *testing.T, user database.User) {
	t.Helper()
	ctx := context.Background()
	invite, err := f.store.CreateGroupInvite(ctx, database.CreateGroupInviteParams{
		GroupID:         f.group.ID,
		InvitedByUserID: f.alice.ID,
		Email:           user.Email,
		Role:            "member",
	})
	require.NoError(t, err)
	_, err = f.store.ResolveGroupInvite(ctx, database.ResolveGroupInviteParams{
		InviteID: invite.ID,
		UserID:   user.ID,
		Accept:   true,
	})
	require.NoError(t, err)
}

func hasNotification(t *testing.T, f *fixture, recipientID uuid.UUID, eventType string) bool {
	t.Helper()
	notifications, err := f.store.ListNotifications(context.Background(), database.ListNotificationsParams{RecipientID: recipientID})
	require.NoError(t, err)
	for _, n := range notifications {
		if n.Type == eventType {
			return true
		}
	}
	return false
}

func (f *fixture) postRequest(t *testing.T) database.CareRequest {
	t.Helper()
	request, err := f.manager.CreateRequest(context.Background(), f.alice.ID, care.CreateRequestParams{
		GroupID:   f.group.ID,
		ChildID:   f.aliceKid.ID,
		Date:      time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
		StartTime: "14:00",
		EndTime:   "17:00",
	})
	require.NoError(t, err)
	return request
}

func TestCreateRequest(t *testing.T) {
	t.Run("posts_and_notifies_other_members", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		request := f.postRequest(t)
		assert.Equal(t, database.RequestStatusPending, request.Status)
		assert.Equal(t, database.RequestTypeSimple, request.Type)

		for _, member := range []database.User{f.bob, f.carol} {
			notifications, err := f.store.ListNotifications(ctx, database.ListNotificationsParams{RecipientID: member.ID})
			require.NoError(t, err)
			require.Len(t, notifications, 1)
			assert.Equal(t, notify.TypeCareRequestCreated, notifications[0].Type)
		}
		requesterInbox, err := f.store.ListNotifications(ctx, database.ListNotificationsParams{RecipientID: f.alice.ID})
		require.NoError(t, err)
		assert.Empty(t, requesterInbox, "the requester should not hear about their own request")
	})

	t.Run("rejects_non_members", func(t *testing.T) {
		f := newFixture(t)
		outsider, err := f.store.CreateUser(context.Background(), database.CreateUserParams{Name: "Mallory", Email: "mallory@example.com"})
		require.NoError(t, err)

		_, err = f.manager.CreateRequest(context.Background(), outsider.ID, care.CreateRequestParams{
			GroupID:   f.group.ID,
			ChildID:   f.aliceKid.ID,
			Date:      time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
			StartTime: "14:00",
			EndTime:   "17:00",
		})
		assert.True(t, fault.IsAuthorization(err), "got %v", err)
	})

	t.Run("rejects_inverted_window", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.CreateRequest(context.Background(), f.alice.ID, care.CreateRequestParams{
			GroupID:   f.group.ID,
			ChildID:   f.aliceKid.ID,
			Date:      time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
			StartTime: "17:00",
			EndTime:   "14:00",
		})
		assert.True(t, fault.IsValidation(err), "got %v", err)
	})

	t.Run("rejects_someone_elses_child", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.CreateRequest(context.Background(), f.alice.ID, care.CreateRequestParams{
			GroupID:   f.group.ID,
			ChildID:   f.bobKid.ID,
			Date:      time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
			StartTime: "14:00",
			EndTime:   "17:00",
		})
		assert.True(t, fault.IsAuthorization(err), "got %v", err)
	})

	t.Run("event_requests_need_a_title", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.CreateRequest(context.Background(), f.alice.ID, care.CreateRequestParams{
			GroupID:   f.group.ID,
			ChildID:   f.aliceKid.ID,
			Date:      time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
			StartTime: "14:00",
			EndTime:   "17:00",
			Type:      database.RequestTypeEvent,
		})
		assert.True(t, fault.IsValidation(err), "got %v", err)
	})

	t.Run("reciprocal_requests_need_a_return_date", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.CreateRequest(context.Background(), f.alice.ID, care.CreateRequestParams{
			GroupID:   f.group.ID,
			ChildID:   f.aliceKid.ID,
			Date:      time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
			StartTime: "14:00",
			EndTime:   "17:00",
			Type:      database.RequestTypeReciprocal,
		})
		assert.True(t, fault.IsValidation(err), "got %v", err)
	})
}

func TestRespond(t *testing.T) {
	t.Run("offer_activates_request_and_notifies_requester", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		request := f.postRequest(t)

		response, err := f.manager.Respond(ctx, f.bob.ID, request.ID, care.RespondParams{})
		require.NoError(t, err)
		assert.Equal(t, database.ResponseStatusPending, response.Status)
		assert.Equal(t, database.ResponseTypeAccept, response.Type)

		updated, err := f.store.GetCareRequestByID(ctx, request.ID)
		require.NoError(t, err)
		assert.Equal(t, database.RequestStatusActive, updated.Status)

		notifications, err := f.store.ListNotifications(ctx, database.ListNotificationsParams{RecipientID: f.alice.ID})
		require.NoError(t, err)
		require.Len(t, notifications, 1)
		assert.Equal(t, notify.TypeCareResponseReceived, notifications[0].Type)
	})

	t.Run("requester_cannot_respond_to_own_request", func(t *testing.T) {
		f := newFixture(t)
		request := f.postRequest(t)

		_, err := f.manager.Respond(context.Background(), f.alice.ID, request.ID, care.RespondParams{})
		assert.True(t, fault.IsAuthorization(err), "got %v", err)
	})

	t.Run("one_response_per_member", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		request := f.postRequest(t)

		_, err := f.manager.Respond(ctx, f.bob.ID, request.ID, care.RespondParams{})
		require.NoError(t, err)
		_, err = f.manager.Respond(ctx, f.bob.ID, request.ID, care.RespondParams{})
		assert.True(t, fault.IsConflict(err), "got %v", err)
	})

	t.Run("closed_requests_take_no_responses", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		request := f.postRequest(t)
		_, err := f.manager.CancelRequest(ctx, f.alice.ID, request.ID)
		require.NoError(t, err)

		_, err = f.manager.Respond(ctx, f.bob.ID, request.ID, care.RespondParams{})
		assert.True(t, fault.IsConflict(err), "got %v", err)
	})
}

func TestAcceptResponse(t *testing.T) {
	t.Run("winner_gets_the_block_losers_get_the_news", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		request := f.postRequest(t)

		winner, err := f.manager.Respond(ctx, f.bob.ID, request.ID, care.RespondParams{})
		require.NoError(t, err)
		loser, err := f.manager.Respond(ctx, f.carol.ID, request.ID, care.RespondParams{})
		require.NoError(t, err)

		result, err := f.manager.AcceptResponse(ctx, f.alice.ID, request.ID, winner.ID)
		require.NoError(t, err)
		assert.False(t, result.Replayed)
		assert.Equal(t, database.RequestStatusClosed, result.Request.Status)
		assert.Equal(t, database.ResponseStatusAccepted, result.Response.Status)

		require.Len(t, result.Blocks, 1)
		block := result.Blocks[0]
		assert.Equal(t, f.bob.ID, block.ParentID)
		assert.Equal(t, f.aliceKid.ID, block.ChildID)
		assert.Equal(t, database.BlockStatusConfirmed, block.Status)
		assert.Equal(t, request.StartTime, block.StartTime)

		declined, err := f.store.GetCareResponseByID(ctx, loser.ID)
		require.NoError(t, err)
		assert.Equal(t, database.ResponseStatusDeclined, declined.Status)

		assert.True(t, hasNotification(t, f, f.bob.ID, notify.TypeResponseAccepted))
		assert.True(t, hasNotification(t, f, f.carol.ID, notify.TypeResponseDeclined))
	})

	t.Run("bystanders_hear_the_request_was_settled", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		request := f.postRequest(t)

		winner, err := f.manager.Respond(ctx, f.bob.ID, request.ID, care.RespondParams{})
		require.NoError(t, err)
		_, err = f.manager.AcceptResponse(ctx, f.alice.ID, request.ID, winner.ID)
		require.NoError(t, err)

		// Carol never responded but is an active member.
		assert.True(t, hasNotification(t, f, f.carol.ID, notify.TypeRequestFulfilled))
		// The winner already got the acceptance directly.
		assert.False(t, hasNotification(t, f, f.bob.ID, notify.TypeRequestFulfilled))
		assert.False(t, hasNotification(t, f, f.alice.ID, notify.TypeRequestFulfilled))
	})

	t.Run("only_the_requester_accepts", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		request := f.postRequest(t)
		response, err := f.manager.Respond(ctx, f.bob.ID, request.ID, care.RespondParams{})
		require.NoError(t, err)

		_, err = f.manager.AcceptResponse(ctx, f.bob.ID, request.ID, response.ID)
		assert.True(t, fault.IsAuthorization(err), "got %v", err)
	})

	t.Run("at_most_one_response_wins", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		request := f.postRequest(t)

		first, err := f.manager.Respond(ctx, f.bob.ID, request.ID, care.RespondParams{})
		require.NoError(t, err)
		second, err := f.manager.Respond(ctx, f.carol.ID, request.ID, care.RespondParams{})
		require.NoError(t, err)

		_, err = f.manager.AcceptResponse(ctx, f.alice.ID, request.ID, first.ID)
		require.NoError(t, err)
		_, err = f.manager.AcceptResponse(ctx, f.alice.ID, request.ID, second.ID)
		assert.True(t, fault.IsConflict(err), "got %v", err)

		responses, err := f.store.ListCareResponses(ctx, request.ID)
		require.NoError(t, err)
		accepted := 0
		for _, response := range responses {
			if response.Status == database.ResponseStatusAccepted {
				accepted++
			}
		}
		assert.Equal(t, 1, accepted)
	})

	t.Run("replaying_an_accept_is_harmless", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		request := f.postRequest(t)
		response, err := f.manager.Respond(ctx, f.bob.ID, request.ID, care.RespondParams{})
		require.NoError(t, err)

		first, err := f.manager.AcceptResponse(ctx, f.alice.ID, request.ID, response.ID)
		require.NoError(t, err)
		before, err := f.store.ListNotifications(ctx, database.ListNotificationsParams{RecipientID: f.bob.ID})
		require.NoError(t, err)

		replay, err := f.manager.AcceptResponse(ctx, f.alice.ID, request.ID, response.ID)
		require.NoError(t, err)
		assert.True(t, replay.Replayed)
		require.Len(t, replay.Blocks, len(first.Blocks))
		assert.Equal(t, first.Blocks[0].ID, replay.Blocks[0].ID)

		after, err := f.store.ListNotifications(ctx, database.ListNotificationsParams{RecipientID: f.bob.ID})
		require.NoError(t, err)
		assert.Len(t, after, len(before), "replay must not re-notify")
	})

	t.Run("reciprocal_acceptance_books_the_return_block", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		request, err := f.manager.CreateRequest(ctx, f.alice.ID, care.CreateRequestParams{
			GroupID:        f.group.ID,
			ChildID:        f.aliceKid.ID,
			Date:           time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
			StartTime:      "14:00",
			EndTime:        "17:00",
			Type:           database.RequestTypeReciprocal,
			ReciprocalDate: util.Some(time.Date(2026, 9, 21, 0, 0, 0, 0, time.UTC)),
		})
		require.NoError(t, err)

		response, err := f.manager.Respond(ctx, f.bob.ID, request.ID, care.RespondParams{
			ReciprocalChildID:   util.Some(f.bobKid.ID),
			ReciprocalDate:      util.Some(time.Date(2026, 9, 22, 0, 0, 0, 0, time.UTC)),
			ReciprocalStartTime: util.Some("09:00"),
			ReciprocalEndTime:   util.Some("12:00"),
		})
		require.NoError(t, err)

		result, err := f.manager.AcceptResponse(ctx, f.alice.ID, request.ID, response.ID)
		require.NoError(t, err)
		require.Len(t, result.Blocks, 2)

		assert.Equal(t, f.bob.ID, result.Blocks[0].ParentID, "the responder covers the requested window")
		returned := result.Blocks[1]
		assert.Equal(t, f.alice.ID, returned.ParentID, "the requester returns the favor")
		assert.Equal(t, f.bobKid.ID, returned.ChildID)
		assert.Equal(t, "09:00", returned.StartTime)
		assert.True(t, returned.Date.Equal(time.Date(2026, 9, 22, 0, 0, 0, 0, time.UTC)))
	})
}

func TestCancelRequest(t *testing.T) {
	t.Run("pending_responders_hear_about_it", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		request := f.postRequest(t)
		_, err := f.manager.Respond(ctx, f.bob.ID, request.ID, care.RespondParams{})
		require.NoError(t, err)

		cancelled, err := f.manager.CancelRequest(ctx, f.alice.ID, request.ID)
		require.NoError(t, err)
		assert.Equal(t, database.RequestStatusCancelled, cancelled.Status)

		assert.True(t, hasNotification(t, f, f.bob.ID, notify.TypeRequestCancelled))
	})

	t.Run("settled_requests_stay_settled", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		request := f.postRequest(t)
		response, err := f.manager.Respond(ctx, f.bob.ID, request.ID, care.RespondParams{})
		require.NoError(t, err)
		_, err = f.manager.AcceptResponse(ctx, f.alice.ID, request.ID, response.ID)
		require.NoError(t, err)

		_, err = f.manager.CancelRequest(ctx, f.alice.ID, request.ID)
		assert.True(t, fault.IsConflict(err), "got %v", err)
	})

	t.Run("repeat_cancel_is_a_no_op", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		request := f.postRequest(t)

		_, err := f.manager.CancelRequest(ctx, f.alice.ID, request.ID)
		require.NoError(t, err)
		cancelled, err := f.manager.CancelRequest(ctx, f.alice.ID, request.ID)
		require.NoError(t, err)
		assert.Equal(t, database.RequestStatusCancelled, cancelled.Status)
	})

	t.Run("only_the_requester_cancels", func(t *testing.T) {
		f := newFixture(t)
		request := f.postRequest(t)

		_, err := f.manager.CancelRequest(context.Background(), f.bob.ID, request.ID)
		assert.True(t, fault.IsAuthorization(err), "got %v", err)
	})
}

func TestListOpenRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mine := f.postRequest(t)
	theirs, err := f.manager.CreateRequest(ctx, f.bob.ID, care.CreateRequestParams{
		GroupID:   f.group.ID,
		ChildID:   f.bobKid.ID,
		Date:      time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
		StartTime: "08:00",
		EndTime:   "12:00",
	})
	require.NoError(t, err)
	_, err = f.manager.CancelRequest(ctx, f.alice.ID, mine.ID)
	require.NoError(t, err)

	open, err := f.manager.ListOpenRequests(ctx, f.alice.ID, f.group.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, theirs.ID, open[0].ID)
}
