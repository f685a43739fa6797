package notify_test

import (
	"context"
	"errors"
	"testing"

	"carepool/internal/database"
	"carepool/internal/logger"
	"carepool/internal/memstore"
	"carepool/internal/notify"
	"carepool/internal/util"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroadcaster struct {
	channels []string
	err      error
}

func (b *fakeBroadcaster) Publish(_ context.Context, channel string, _ any) error {
	b.channels = append(b.channels, channel)
	return b.err
}

type fakePusher struct {
	sent [][]string
}

func (p *fakePusher) Send(_ context.Context, tokens []string, _, _ string, _ map[string]string) error {
	p.sent = append(p.sent, tokens)
	return nil
}

// creatorRejectedStore rewrites the creator's membership row to
// rejected, a state the in-memory flows cannot produce on their own.
type creatorRejectedStore struct {
	*memstore.Store
	creatorID uuid.UUID
}

func (s *creatorRejectedStore) ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]database.GroupMember, error) {
	members, err := s.Store.ListGroupMembers(ctx, groupID)
	for i := range members {
		if members[i].UserID == s.creatorID {
			members[i].Status = database.MemberStatusRejected
		}
	}
	return members, err
}

type fixture struct {
	store    *memstore.Store
	notifier *notify.Notifier

	group database.Group
	alice database.User // creator
	bob   database.User // active member
	carol database.User // active member
	dave  database.User // pending member
}

func newFixture(t *testing.T, broadcaster notify.Broadcaster, pusher notify.PushSender) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()

	f := &fixture{
		store:    store,
		notifier: notify.NewNotifier(logger.Discard(), store, broadcaster, pusher),
	}

	var err error
	f.alice, err = store.CreateUser(ctx, database.CreateUserParams{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	f.bob, err = store.CreateUser(ctx, database.CreateUserParams{Name: "Bob", Email: "bob@example.com"})
	require.NoError(t, err)
	f.carol, err = store.CreateUser(ctx, database.CreateUserParams{Name: "Carol", Email: "carol@example.com"})
	require.NoError(t, err)
	f.dave, err = store.CreateUser(ctx, database.CreateUserParams{Name: "Dave", Email: "dave@example.com"})
	require.NoError(t, err)

	f.group, err = store.CreateGroup(ctx, database.CreateGroupParams{Name: "School runs", CreatorID: f.alice.ID})
	require.NoError(t, err)
	for _, member := range []database.User{f.bob, f.carol, f.dave} {
		invite, err := store.CreateGroupInvite(ctx, database.CreateGroupInviteParams{
			GroupID: f.group.ID, InvitedByUserID: f.alice.ID, Email: member.Email, Role: "member",
		})
		require.NoError(t, err)
		if member.ID != f.dave.ID { // dave stays pending
			_, err = store.ResolveGroupInvite(ctx, database.ResolveGroupInviteParams{InviteID: invite.ID, UserID: member.ID, Accept: true})
			require.NoError(t, err)
		}
	}
	return f
}

func (f *fixture) event(actorID uuid.UUID, exclude ...uuid.UUID) notify.Event {
	return notify.Event{
		EventID: uuid.New(),
		GroupID: f.group.ID,
		ActorID: actorID,
		Type:    notify.TypeCareRequestCreated,
		Title:   "New care request",
		Message: "someone needs care",
		Exclude: exclude,
	}
}

func (f *fixture) inbox(t *testing.T, recipientID uuid.UUID) []database.Notification {
	t.Helper()
	notifications, err := f.store.ListNotifications(context.Background(), database.ListNotificationsParams{RecipientID: recipientID})
	require.NoError(t, err)
	return notifications
}

func TestFanout(t *testing.T) {
	t.Run("reaches_every_active_member_except_the_actor", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		require.NoError(t, f.notifier.Fanout(context.Background(), f.event(f.bob.ID)))

		assert.Len(t, f.inbox(t, f.alice.ID), 1, "the creator hears about group activity")
		assert.Len(t, f.inbox(t, f.carol.ID), 1)
		assert.Empty(t, f.inbox(t, f.bob.ID), "the actor does not notify themselves")
		assert.Empty(t, f.inbox(t, f.dave.ID), "pending members are not yet recipients")
	})

	t.Run("honors_the_exclude_list", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		require.NoError(t, f.notifier.Fanout(context.Background(), f.event(f.bob.ID, f.carol.ID)))

		assert.Len(t, f.inbox(t, f.alice.ID), 1)
		assert.Empty(t, f.inbox(t, f.carol.ID))
	})

	t.Run("a_creator_who_left_the_group_is_not_a_recipient", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		store := &creatorRejectedStore{Store: f.store, creatorID: f.alice.ID}
		notifier := notify.NewNotifier(logger.Discard(), store, nil, nil)

		require.NoError(t, notifier.Fanout(context.Background(), f.event(f.bob.ID)))

		assert.Empty(t, f.inbox(t, f.alice.ID), "a rejected membership row overrides the creator default")
		assert.Len(t, f.inbox(t, f.carol.ID), 1)
	})

	t.Run("replaying_an_event_inserts_nothing_new", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		event := f.event(f.bob.ID)

		require.NoError(t, f.notifier.Fanout(context.Background(), event))
		require.NoError(t, f.notifier.Fanout(context.Background(), event))

		assert.Len(t, f.inbox(t, f.alice.ID), 1)
		assert.Len(t, f.inbox(t, f.carol.ID), 1)
	})
}

func TestDeliveryLegs(t *testing.T) {
	t.Run("broadcasts_on_the_recipients_channel", func(t *testing.T) {
		broadcaster := &fakeBroadcaster{}
		f := newFixture(t, broadcaster, nil)

		require.NoError(t, f.notifier.Notify(context.Background(), notify.Direct{
			EventID:     uuid.New(),
			RecipientID: f.bob.ID,
			SenderID:    f.alice.ID,
			Type:        notify.TypeGroupInvite,
			Title:       "Group invitation",
		}))
		require.Len(t, broadcaster.channels, 1)
		assert.Equal(t, "user:"+f.bob.ID.String(), broadcaster.channels[0])
	})

	t.Run("a_dead_broker_does_not_fail_the_operation", func(t *testing.T) {
		broadcaster := &fakeBroadcaster{err: errors.New("connection refused")}
		f := newFixture(t, broadcaster, nil)

		require.NoError(t, f.notifier.Notify(context.Background(), notify.Direct{
			EventID:     uuid.New(),
			RecipientID: f.bob.ID,
			SenderID:    f.alice.ID,
			Type:        notify.TypeGroupInvite,
		}))
		assert.Len(t, f.inbox(t, f.bob.ID), 1, "persistence is the source of truth")
	})

	t.Run("pushes_to_registered_devices_only", func(t *testing.T) {
		pusher := &fakePusher{}
		f := newFixture(t, nil, pusher)
		ctx := context.Background()

		_, err := f.store.RegisterDevice(ctx, database.RegisterDeviceParams{UserID: f.bob.ID, Token: "tok-1", Platform: "android"})
		require.NoError(t, err)

		require.NoError(t, f.notifier.Notify(ctx, notify.Direct{
			EventID: uuid.New(), RecipientID: f.bob.ID, SenderID: f.alice.ID, Type: notify.TypeGroupInvite,
		}))
		require.NoError(t, f.notifier.Notify(ctx, notify.Direct{
			EventID: uuid.New(), RecipientID: f.carol.ID, SenderID: f.alice.ID, Type: notify.TypeGroupInvite,
		}))

		require.Len(t, pusher.sent, 1, "recipients without devices get no push")
		assert.Equal(t, []string{"tok-1"}, pusher.sent[0])
	})
}

func TestEventID(t *testing.T) {
	entity := uuid.New()

	assert.Equal(t, notify.EventID(entity, notify.TypeRequestCancelled), notify.EventID(entity, notify.TypeRequestCancelled),
		"retries derive the same event")
	assert.NotEqual(t, notify.EventID(entity, notify.TypeCareRequestCreated), notify.EventID(entity, notify.TypeRequestCancelled),
		"different transitions of one entity stay distinct")
	assert.NotEqual(t, notify.EventID(uuid.New(), notify.TypeRequestCancelled), notify.EventID(entity, notify.TypeRequestCancelled))
}

func TestReadState(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.notifier.Notify(ctx, notify.Direct{
			EventID: uuid.New(), RecipientID: f.bob.ID, SenderID: f.alice.ID, Type: notify.TypeGroupInvite,
		}))
	}

	count, err := f.notifier.CountUnread(ctx, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	inbox, err := f.notifier.List(ctx, f.bob.ID, true, util.Some(2))
	require.NoError(t, err)
	assert.Len(t, inbox, 2)

	read, err := f.notifier.MarkRead(ctx, inbox[0].ID, f.bob.ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead)

	_, err = f.notifier.MarkRead(ctx, inbox[1].ID, f.carol.ID)
	assert.ErrorIs(t, err, database.ErrNotificationNotFound)

	marked, err := f.notifier.MarkAllRead(ctx, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	count, err = f.notifier.CountUnread(ctx, f.bob.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}
