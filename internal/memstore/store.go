// Package memstore is an in-memory double of the database package
// used by manager tests. It holds the same invariants the SQL schema
// enforces, including the conditional status flips, so concurrency
// behavior can be exercised without Postgres.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"carepool/internal/database"

	"github.com/google/uuid"
)

type Store struct {
	mu sync.Mutex

	users     map[uuid.UUID]database.User
	children  map[uuid.UUID]database.Child
	sessions  map[string]database.Session
	devices   map[string]database.Device
	groups    map[uuid.UUID]database.Group
	members   map[uuid.UUID]database.GroupMember
	invites   map[uuid.UUID]database.GroupInvite
	requests  map[uuid.UUID]database.CareRequest
	responses map[uuid.UUID]database.CareResponse
	blocks    map[uuid.UUID]database.ScheduledCare
	blockKids map[uuid.UUID][]uuid.UUID
	resched   map[uuid.UUID]database.RescheduleRequest
	obInvites map[uuid.UUID]database.OpenBlockInvitation
	notifs    map[uuid.UUID]database.Notification

	// insertion order, for the list operations that sort by creation
	responseOrder []uuid.UUID
	blockOrder    []uuid.UUID
	obOrder       []uuid.UUID
	notifOrder    []uuid.UUID
	requestOrder  []uuid.UUID
	reschedOrder  []uuid.UUID
	memberOrder   []uuid.UUID
	inviteOrder   []uuid.UUID
}

func New() *Store {
	return &Store{
		users:     make(map[uuid.UUID]database.User),
		children:  make(map[uuid.UUID]database.Child),
		sessions:  make(map[string]database.Session),
		devices:   make(map[string]database.Device),
		groups:    make(map[uuid.UUID]database.Group),
		members:   make(map[uuid.UUID]database.GroupMember),
		invites:   make(map[uuid.UUID]database.GroupInvite),
		requests:  make(map[uuid.UUID]database.CareRequest),
		responses: make(map[uuid.UUID]database.CareResponse),
		blocks:    make(map[uuid.UUID]database.ScheduledCare),
		blockKids: make(map[uuid.UUID][]uuid.UUID),
		resched:   make(map[uuid.UUID]database.RescheduleRequest),
		obInvites: make(map[uuid.UUID]database.OpenBlockInvitation),
		notifs:    make(map[uuid.UUID]database.Notification),
	}
}

func (s *Store) CreateUser(_ context.Context, params database.CreateUserParams) (database.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := database.User{
		ID:           uuid.New(),
		Name:         params.Name,
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *Store) GetUserByID(_ context.Context, id uuid.UUID) (database.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return user, database.ErrUserNotFound
	}
	return user, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (database.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return database.User{}, database.ErrUserNotFound
}

func (s *Store) CreateChild(_ context.Context, params database.CreateChildParams) (database.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	child := database.Child{
		ID:        uuid.New(),
		ParentID:  params.ParentID,
		Name:      params.Name,
		CreatedAt: time.Now().UTC(),
	}
	s.children[child.ID] = child
	return child, nil
}

func (s *Store) GetChildByID(_ context.Context, id uuid.UUID) (database.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	child, ok := s.children[id]
	if !ok {
		return child, database.ErrChildNotFound
	}
	return child, nil
}

func (s *Store) ListChildren(_ context.Context, parentID uuid.UUID) ([]database.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var children []database.Child
	for _, child := range s.children {
		if child.ParentID == parentID {
			children = append(children, child)
		}
	}
	return children, nil
}

func (s *Store) CreateSession(_ context.Context, params database.CreateSessionParams) (database.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := database.Session{
		ID:        uuid.New(),
		Token:     params.Token,
		UserID:    params.UserID,
		ExpiresAt: params.ExpiresAt,
		CreatedAt: time.Now().UTC(),
	}
	s.sessions[session.Token] = session
	return session, nil
}

func (s *Store) GetSessionByToken(_ context.Context, token string) (database.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return session, database.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	now := time.Now().UTC()
	for token, session := range s.sessions {
		if session.ExpiresAt.Before(now) {
			delete(s.sessions, token)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) RegisterDevice(_ context.Context, params database.RegisterDeviceParams) (database.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	device := database.Device{
		ID:        uuid.New(),
		UserID:    params.UserID,
		Token:     params.Token,
		Platform:  params.Platform,
		CreatedAt: time.Now().UTC(),
	}
	s.devices[device.Token] = device
	return device, nil
}

func (s *Store) RemoveDevice(_ context.Context, userID uuid.UUID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[token]
	if !ok || device.UserID != userID {
		return database.ErrDeviceNotFound
	}
	delete(s.devices, token)
	return nil
}

func (s *Store) ListDevices(_ context.Context, userID uuid.UUID) ([]database.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var devices []database.Device
	for _, device := range s.devices {
		if device.UserID == userID {
			devices = append(devices, device)
		}
	}
	return devices, nil
}

func (s *Store) CreateGroup(_ context.Context, params database.CreateGroupParams) (database.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group := database.Group{
		ID:          uuid.New(),
		Name:        params.Name,
		Description: params.Description,
		CreatorID:   params.CreatorID,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	s.groups[group.ID] = group

	member := database.GroupMember{
		ID:        uuid.New(),
		GroupID:   group.ID,
		UserID:    params.CreatorID,
		Role:      "admin",
		Status:    database.MemberStatusActive,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	s.members[member.ID] = member
	s.memberOrder = append(s.memberOrder, member.ID)
	return group, nil
}

func (s *Store) GetGroupByID(_ context.Context, id uuid.UUID) (database.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[id]
	if !ok {
		return group, database.ErrGroupNotFound
	}
	return group, nil
}

func (s *Store) ListGroupsForUser(_ context.Context, userID uuid.UUID) ([]database.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var groups []database.Group
	for _, member := range s.members {
		if member.UserID == userID && member.Status == database.MemberStatusActive {
			if group, ok := s.groups[member.GroupID]; ok {
				groups = append(groups, group)
			}
		}
	}
	return groups, nil
}

func (s *Store) GetGroupMember(_ context.Context, groupID, userID uuid.UUID) (database.GroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	member, ok := s.findMember(groupID, userID)
	if !ok {
		return member, database.ErrGroupMemberNotFound
	}
	return member, nil
}

func (s *Store) ListGroupMembers(_ context.Context, groupID uuid.UUID) ([]database.GroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var members []database.GroupMember
	for _, id := range s.memberOrder {
		member := s.members[id]
		if member.GroupID == groupID {
			members = append(members, member)
		}
	}
	return members, nil
}

func (s *Store) CreateGroupInvite(_ context.Context, params database.CreateGroupInviteParams) (database.GroupInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invite := database.GroupInvite{
		ID:              uuid.New(),
		GroupID:         params.GroupID,
		InvitedByUserID: params.InvitedByUserID,
		Email:           params.Email,
		Role:            params.Role,
		Status:          database.InviteStatusPending,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}

	// Mirror the insert of a pending membership for known accounts.
	for _, user := range s.users {
		if !strings.EqualFold(user.Email, params.Email) {
			continue
		}
		if _, exists := s.findMember(params.GroupID, user.ID); exists {
			return invite, database.ErrDuplicateGroupMember
		}
		member := database.GroupMember{
			ID:        uuid.New(),
			GroupID:   params.GroupID,
			UserID:    user.ID,
			Role:      params.Role,
			Status:    database.MemberStatusPending,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		s.members[member.ID] = member
		s.memberOrder = append(s.memberOrder, member.ID)
		break
	}

	s.invites[invite.ID] = invite
	s.inviteOrder = append(s.inviteOrder, invite.ID)
	return invite, nil
}

func (s *Store) GetGroupInviteByID(_ context.Context, id uuid.UUID) (database.GroupInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invite, ok := s.invites[id]
	if !ok {
		return invite, database.ErrGroupInviteNotFound
	}
	return invite, nil
}

func (s *Store) ListGroupInvitesByEmail(_ context.Context, email string) ([]database.GroupInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var invites []database.GroupInvite
	for _, id := range s.inviteOrder {
		invite := s.invites[id]
		if invite.Status == database.InviteStatusPending && strings.EqualFold(invite.Email, email) {
			invites = append(invites, invite)
		}
	}
	return invites, nil
}

func (s *Store) ResolveGroupInvite(_ context.Context, params database.ResolveGroupInviteParams) (database.GroupInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invite, ok := s.invites[params.InviteID]
	if !ok {
		return invite, database.ErrGroupInviteNotFound
	}
	if invite.Status != database.InviteStatusPending {
		return invite, database.ErrInviteNotPending
	}

	memberStatus := database.MemberStatusRejected
	if params.Accept {
		invite.Status = database.InviteStatusAccepted
		memberStatus = database.MemberStatusActive
	} else {
		invite.Status = database.InviteStatusRejected
	}
	invite.UpdatedAt = time.Now().UTC()
	s.invites[invite.ID] = invite

	if member, exists := s.findMember(invite.GroupID, params.UserID); exists {
		member.Status = memberStatus
		member.UpdatedAt = time.Now().UTC()
		s.members[member.ID] = member
	} else {
		member := database.GroupMember{
			ID:        uuid.New(),
			GroupID:   invite.GroupID,
			UserID:    params.UserID,
			Role:      invite.Role,
			Status:    memberStatus,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		s.members[member.ID] = member
		s.memberOrder = append(s.memberOrder, member.ID)
	}
	return invite, nil
}

func (s *Store) findMember(groupID, userID uuid.UUID) (database.GroupMember, bool) {
	for _, member := range s.members {
		if member.GroupID == groupID && member.UserID == userID {
			return member, true
		}
	}
	return database.GroupMember{}, false
}
