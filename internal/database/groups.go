package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type CreateGroupParams struct {
	Name        string
	Description string
	CreatorID   uuid.UUID
}

// CreateGroup inserts the group and its creator's active admin
// membership in one transaction.
func (db *Database) CreateGroup(ctx context.Context, params CreateGroupParams) (Group, error) {
	group := Group{
		ID:          uuid.New(),
		Name:        params.Name,
		Description: params.Description,
		CreatorID:   params.CreatorID,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	err := db.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO tbl_group (id, name, description, creator_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			group.ID, group.Name, group.Description, group.CreatorID, group.CreatedAt, group.UpdatedAt); err != nil {
			return fmt.Errorf("database: failed to insert group (name=%s): %w", group.Name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO tbl_group_member (id, group_id, user_id, role, status, created_at, updated_at) VALUES ($1, $2, $3, 'admin', 'active', $4, $5)`,
			uuid.New(), group.ID, group.CreatorID, group.CreatedAt, group.UpdatedAt); err != nil {
			return fmt.Errorf("database: failed to insert creator membership (group_id=%s): %w", group.ID, err)
		}
		return nil
	})
	if err != nil {
		return group, err
	}
	return group, nil
}

func (db *Database) GetGroupByID(ctx context.Context, id uuid.UUID) (Group, error) {
	var group Group
	err := db.Pool.QueryRow(ctx, `SELECT id, name, description, creator_id, created_at, updated_at FROM tbl_group WHERE id = $1`, id).
		Scan(&group.ID, &group.Name, &group.Description, &group.CreatorID, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return group, ErrGroupNotFound
		}
		return group, fmt.Errorf("database: failed to scan group: %w", err)
	}
	return group, nil
}

func (db *Database) ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]Group, error) {
	rows, err := db.Pool.Query(ctx, `SELECT g.id, g.name, g.description, g.creator_id, g.created_at, g.updated_at
		FROM tbl_group g
		JOIN tbl_group_member m ON m.group_id = g.id
		WHERE m.user_id = $1 AND m.status = 'active'
		ORDER BY g.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var group Group
		if err := rows.Scan(&group.ID, &group.Name, &group.Description, &group.CreatorID, &group.CreatedAt, &group.UpdatedAt); err != nil {
			return nil, fmt.Errorf("database: failed to scan group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate groups: %w", err)
	}
	return groups, nil
}

func (db *Database) GetGroupMember(ctx context.Context, groupID, userID uuid.UUID) (GroupMember, error) {
	var member GroupMember
	err := db.Pool.QueryRow(ctx, `SELECT id, group_id, user_id, role, status, created_at, updated_at FROM tbl_group_member WHERE group_id = $1 AND user_id = $2`, groupID, userID).
		Scan(&member.ID, &member.GroupID, &member.UserID, &member.Role, &member.Status, &member.CreatedAt, &member.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return member, ErrGroupMemberNotFound
		}
		return member, fmt.Errorf("database: failed to scan group member: %w", err)
	}
	return member, nil
}

func (db *Database) ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]GroupMember, error) {
	rows, err := db.Pool.Query(ctx, `SELECT id, group_id, user_id, role, status, created_at, updated_at FROM tbl_group_member WHERE group_id = $1 ORDER BY created_at`, groupID)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list group members: %w", err)
	}
	defer rows.Close()

	var members []GroupMember
	for rows.Next() {
		var member GroupMember
		if err := rows.Scan(&member.ID, &member.GroupID, &member.UserID, &member.Role, &member.Status, &member.CreatedAt, &member.UpdatedAt); err != nil {
			return nil, fmt.Errorf("database: failed to scan group member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate group members: %w", err)
	}
	return members, nil
}

type CreateGroupInviteParams struct {
	GroupID         uuid.UUID
	InvitedByUserID uuid.UUID
	Email           string
	Role            string
}

// CreateGroupInvite inserts the invite row together with the invitee's
// pending membership when the invitee already has an account. A
// duplicate (group, user) membership reports ErrDuplicateGroupMember.
func (db *Database) CreateGroupInvite(ctx context.Context, params CreateGroupInviteParams) (GroupInvite, error) {
	invite := GroupInvite{
		ID:              uuid.New(),
		GroupID:         params.GroupID,
		InvitedByUserID: params.InvitedByUserID,
		Email:           params.Email,
		Role:            params.Role,
		Status:          InviteStatusPending,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}

	err := db.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO tbl_group_invite (id, group_id, invited_by_user_id, email, role, status, created_at, updated_at) VALUES ($1, $2, $3, lower($4), $5, $6, $7, $8)`,
			invite.ID, invite.GroupID, invite.InvitedByUserID, invite.Email, invite.Role, invite.Status, invite.CreatedAt, invite.UpdatedAt); err != nil {
			return fmt.Errorf("database: failed to insert group invite (group_id=%s, email=%s): %w", invite.GroupID, invite.Email, err)
		}

		var userID uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM tbl_user WHERE lower(email) = lower($1)`, params.Email).Scan(&userID)
		if errors.Is(err, pgx.ErrNoRows) {
			// Invitee has no account yet; the member row is created on
			// acceptance instead.
			return nil
		}
		if err != nil {
			return fmt.Errorf("database: failed to look up invitee: %w", err)
		}

		if _, err := tx.Exec(ctx, `INSERT INTO tbl_group_member (id, group_id, user_id, role, status, created_at, updated_at) VALUES ($1, $2, $3, $4, 'pending', $5, $6)`,
			uuid.New(), params.GroupID, userID, params.Role, invite.CreatedAt, invite.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateGroupMember
			}
			return fmt.Errorf("database: failed to insert pending membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return invite, err
	}
	return invite, nil
}

func (db *Database) GetGroupInviteByID(ctx context.Context, id uuid.UUID) (GroupInvite, error) {
	var invite GroupInvite
	err := db.Pool.QueryRow(ctx, `SELECT id, group_id, invited_by_user_id, email, role, status, created_at, updated_at FROM tbl_group_invite WHERE id = $1`, id).
		Scan(&invite.ID, &invite.GroupID, &invite.InvitedByUserID, &invite.Email, &invite.Role, &invite.Status, &invite.CreatedAt, &invite.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return invite, ErrGroupInviteNotFound
		}
		return invite, fmt.Errorf("database: failed to scan group invite: %w", err)
	}
	return invite, nil
}

func (db *Database) ListGroupInvitesByEmail(ctx context.Context, email string) ([]GroupInvite, error) {
	rows, err := db.Pool.Query(ctx, `SELECT id, group_id, invited_by_user_id, email, role, status, created_at, updated_at FROM tbl_group_invite WHERE email = lower($1) AND status = 'pending' ORDER BY created_at`, email)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list group invites: %w", err)
	}
	defer rows.Close()

	var invites []GroupInvite
	for rows.Next() {
		var invite GroupInvite
		if err := rows.Scan(&invite.ID, &invite.GroupID, &invite.InvitedByUserID, &invite.Email, &invite.Role, &invite.Status, &invite.CreatedAt, &invite.UpdatedAt); err != nil {
			return nil, fmt.Errorf("database: failed to scan group invite: %w", err)
		}
		invites = append(invites, invite)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate group invites: %w", err)
	}
	return invites, nil
}

type ResolveGroupInviteParams struct {
	InviteID uuid.UUID
	UserID   uuid.UUID
	Accept   bool
}

// ResolveGroupInvite flips the invite and the paired membership row in
// one transaction: accepted/active or rejected/rejected. Only a
// pending invite can be resolved; a lost race reports
// ErrInviteNotPending.
func (db *Database) ResolveGroupInvite(ctx context.Context, params ResolveGroupInviteParams) (GroupInvite, error) {
	var invite GroupInvite

	inviteStatus := InviteStatusRejected
	memberStatus := MemberStatusRejected
	if params.Accept {
		inviteStatus = InviteStatusAccepted
		memberStatus = MemberStatusActive
	}

	err := db.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `UPDATE tbl_group_invite SET status = $2, updated_at = now() WHERE id = $1 AND status = 'pending'
			RETURNING id, group_id, invited_by_user_id, email, role, status, created_at, updated_at`,
			params.InviteID, inviteStatus).
			Scan(&invite.ID, &invite.GroupID, &invite.InvitedByUserID, &invite.Email, &invite.Role, &invite.Status, &invite.CreatedAt, &invite.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInviteNotPending
		}
		if err != nil {
			return fmt.Errorf("database: failed to resolve group invite (id=%s): %w", params.InviteID, err)
		}

		// Upsert covers invitees who registered after being invited.
		if _, err := tx.Exec(ctx, `INSERT INTO tbl_group_member (id, group_id, user_id, role, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, now(), now())
			ON CONFLICT (group_id, user_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()`,
			uuid.New(), invite.GroupID, params.UserID, invite.Role, memberStatus); err != nil {
			return fmt.Errorf("database: failed to update membership for invite (id=%s): %w", params.InviteID, err)
		}
		return nil
	})
	if err != nil {
		return invite, err
	}
	return invite, nil
}
