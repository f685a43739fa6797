package group_test

import (
	"context"
	"testing"

	"carepool/internal/database"
	"carepool/internal/fault"
	"carepool/internal/group"
	"carepool/internal/logger"
	"carepool/internal/memstore"
	"carepool/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *memstore.Store
	manager *group.Manager

	alice database.User
	bob   database.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	log := logger.Discard()
	notifier := notify.NewNotifier(log, store, nil, nil)

	f := &fixture{
		store:   store,
		manager: group.NewManager(log, store, notifier),
	}

	var err error
	f.alice, err = store.CreateUser(ctx, database.CreateUserParams{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	f.bob, err = store.CreateUser(ctx, database.CreateUserParams{Name: "Bob", Email: "bob@example.com"})
	require.NoError(t, err)
	return f
}

func TestCreateGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.manager.CreateGroup(ctx, f.alice.ID, group.CreateGroupParams{Name: "Neighborhood"})
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, created.CreatorID)

	member, err := f.store.GetGroupMember(ctx, created.ID, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, database.MemberStatusActive, member.Status)
	assert.Equal(t, "admin", member.Role)
}

func TestGetGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.manager.CreateGroup(ctx, f.alice.ID, group.CreateGroupParams{Name: "Neighborhood"})
	require.NoError(t, err)

	t.Run("members_see_the_group", func(t *testing.T) {
		got, err := f.manager.GetGroup(ctx, f.alice.ID, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
	})

	t.Run("outsiders_do_not", func(t *testing.T) {
		_, err := f.manager.GetGroup(ctx, f.bob.ID, created.ID)
		assert.True(t, fault.IsAuthorization(err), "got %v", err)
	})
}

func TestInvite(t *testing.T) {
	t.Run("creates_pending_invite_and_notifies_known_account", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		created, err := f.manager.CreateGroup(ctx, f.alice.ID, group.CreateGroupParams{Name: "Neighborhood"})
		require.NoError(t, err)

		invite, err := f.manager.Invite(ctx, f.alice.ID, created.ID, group.InviteParams{Email: "Bob@Example.com"})
		require.NoError(t, err)
		assert.Equal(t, database.InviteStatusPending, invite.Status)
		assert.Equal(t, "bob@example.com", invite.Email)
		assert.Equal(t, "member", invite.Role)

		member, err := f.store.GetGroupMember(ctx, created.ID, f.bob.ID)
		require.NoError(t, err)
		assert.Equal(t, database.MemberStatusPending, member.Status)

		notifications, err := f.store.ListNotifications(ctx, database.ListNotificationsParams{RecipientID: f.bob.ID})
		require.NoError(t, err)
		require.Len(t, notifications, 1)
		assert.Equal(t, notify.TypeGroupInvite, notifications[0].Type)
	})

	t.Run("self_invites_are_rejected", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		created, err := f.manager.CreateGroup(ctx, f.alice.ID, group.CreateGroupParams{Name: "Neighborhood"})
		require.NoError(t, err)

		_, err = f.manager.Invite(ctx, f.alice.ID, created.ID, group.InviteParams{Email: f.alice.Email})
		assert.True(t, fault.IsValidation(err), "got %v", err)
	})

	t.Run("existing_members_cannot_be_reinvited", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		created, err := f.manager.CreateGroup(ctx, f.alice.ID, group.CreateGroupParams{Name: "Neighborhood"})
		require.NoError(t, err)

		_, err = f.manager.Invite(ctx, f.alice.ID, created.ID, group.InviteParams{Email: f.bob.Email})
		require.NoError(t, err)
		_, err = f.manager.Invite(ctx, f.alice.ID, created.ID, group.InviteParams{Email: f.bob.Email})
		assert.True(t, fault.IsConflict(err), "got %v", err)
	})

	t.Run("only_members_invite", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		created, err := f.manager.CreateGroup(ctx, f.alice.ID, group.CreateGroupParams{Name: "Neighborhood"})
		require.NoError(t, err)

		_, err = f.manager.Invite(ctx, f.bob.ID, created.ID, group.InviteParams{Email: "carol@example.com"})
		assert.True(t, fault.IsAuthorization(err), "got %v", err)
	})
}

func TestResolveInvite(t *testing.T) {
	setup := func(t *testing.T) (*fixture, database.Group, database.GroupInvite) {
		f := newFixture(t)
		ctx := context.Background()
		created, err := f.manager.CreateGroup(ctx, f.alice.ID, group.CreateGroupParams{Name: "Neighborhood"})
		require.NoError(t, err)
		invite, err := f.manager.Invite(ctx, f.alice.ID, created.ID, group.InviteParams{Email: f.bob.Email})
		require.NoError(t, err)
		return f, created, invite
	}

	t.Run("accept_activates_membership_and_announces_it", func(t *testing.T) {
		f, created, invite := setup(t)
		ctx := context.Background()

		resolved, err := f.manager.AcceptInvite(ctx, f.bob.ID, invite.ID)
		require.NoError(t, err)
		assert.Equal(t, database.InviteStatusAccepted, resolved.Status)

		member, err := f.store.GetGroupMember(ctx, created.ID, f.bob.ID)
		require.NoError(t, err)
		assert.Equal(t, database.MemberStatusActive, member.Status)

		aliceInbox, err := f.store.ListNotifications(ctx, database.ListNotificationsParams{RecipientID: f.alice.ID})
		require.NoError(t, err)
		require.Len(t, aliceInbox, 1)
		assert.Equal(t, notify.TypeMemberJoined, aliceInbox[0].Type)
	})

	t.Run("decline_keeps_the_member_out", func(t *testing.T) {
		f, created, invite := setup(t)
		ctx := context.Background()

		resolved, err := f.manager.DeclineInvite(ctx, f.bob.ID, invite.ID)
		require.NoError(t, err)
		assert.Equal(t, database.InviteStatusRejected, resolved.Status)

		member, err := f.store.GetGroupMember(ctx, created.ID, f.bob.ID)
		require.NoError(t, err)
		assert.Equal(t, database.MemberStatusRejected, member.Status)

		// The inviter hears the invite was turned down.
		aliceInbox, err := f.store.ListNotifications(ctx, database.ListNotificationsParams{RecipientID: f.alice.ID})
		require.NoError(t, err)
		require.Len(t, aliceInbox, 1)
		assert.Equal(t, notify.TypeInviteDeclined, aliceInbox[0].Type)
	})

	t.Run("addressed_to_someone_else", func(t *testing.T) {
		f, _, invite := setup(t)
		carol, err := f.store.CreateUser(context.Background(), database.CreateUserParams{Name: "Carol", Email: "carol@example.com"})
		require.NoError(t, err)

		_, err = f.manager.AcceptInvite(context.Background(), carol.ID, invite.ID)
		assert.True(t, fault.IsAuthorization(err), "got %v", err)
	})

	t.Run("already_resolved", func(t *testing.T) {
		f, _, invite := setup(t)
		ctx := context.Background()

		_, err := f.manager.AcceptInvite(ctx, f.bob.ID, invite.ID)
		require.NoError(t, err)
		_, err = f.manager.AcceptInvite(ctx, f.bob.ID, invite.ID)
		assert.True(t, fault.IsConflict(err), "got %v", err)
	})
}

func TestListInvites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.manager.CreateGroup(ctx, f.alice.ID, group.CreateGroupParams{Name: "Neighborhood"})
	require.NoError(t, err)
	invite, err := f.manager.Invite(ctx, f.alice.ID, created.ID, group.InviteParams{Email: f.bob.Email})
	require.NoError(t, err)

	invites, err := f.manager.ListInvites(ctx, f.bob.ID)
	require.NoError(t, err)
	require.Len(t, invites, 1)
	assert.Equal(t, invite.ID, invites[0].ID)

	_, err = f.manager.AcceptInvite(ctx, f.bob.ID, invite.ID)
	require.NoError(t, err)
	invites, err = f.manager.ListInvites(ctx, f.bob.ID)
	require.NoError(t, err)
	assert.Empty(t, invites)
}
