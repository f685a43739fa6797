package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carepool/internal/util"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const invitationColumns = `id, existing_block_id, group_id, inviting_parent_id, invited_parent_id,
	reciprocal_date, reciprocal_start_time, reciprocal_end_time, notes, status, accepted_child_id, created_at, updated_at`

func scanInvitation(row pgx.Row) (OpenBlockInvitation, error) {
	var inv OpenBlockInvitation
	err := row.Scan(&inv.ID, &inv.ExistingBlockID, &inv.GroupID, &inv.InvitingParentID, &inv.InvitedParentID,
		&inv.ReciprocalDate, &inv.ReciprocalStartTime, &inv.ReciprocalEndTime, &inv.Notes, &inv.Status, &inv.AcceptedChildID, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

type OpenBlockInviteeParams struct {
	InvitedParentID     uuid.UUID
	ReciprocalDate      time.Time
	ReciprocalStartTime string
	ReciprocalEndTime   string
}

type CreateOpenBlockInvitationsParams struct {
	ExistingBlockID  uuid.UUID
	GroupID          uuid.UUID
	InvitingParentID uuid.UUID
	Notes            util.Optional[string]
	Invitees         []OpenBlockInviteeParams
}

// CreateOpenBlockInvitations fans an open block out to a set of group
// members, one invitation per invitee with its own reciprocal window.
// All rows commit together.
func (db *Database) CreateOpenBlockInvitations(ctx context.Context, params CreateOpenBlockInvitationsParams) ([]OpenBlockInvitation, error) {
	invitations := make([]OpenBlockInvitation, 0, len(params.Invitees))
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		for _, invitee := range params.Invitees {
			inv := OpenBlockInvitation{
				ID:                  uuid.New(),
				ExistingBlockID:     params.ExistingBlockID,
				GroupID:             params.GroupID,
				InvitingParentID:    params.InvitingParentID,
				InvitedParentID:     invitee.InvitedParentID,
				ReciprocalDate:      invitee.ReciprocalDate,
				ReciprocalStartTime: invitee.ReciprocalStartTime,
				ReciprocalEndTime:   invitee.ReciprocalEndTime,
				Notes:               params.Notes,
				Status:              InvitationStatusPending,
				CreatedAt:           time.Now().UTC(),
				UpdatedAt:           time.Now().UTC(),
			}
			if _, err := tx.Exec(ctx, `INSERT INTO tbl_open_block_invitation (`+invitationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
				inv.ID, inv.ExistingBlockID, inv.GroupID, inv.InvitingParentID, inv.InvitedParentID,
				inv.ReciprocalDate, inv.ReciprocalStartTime, inv.ReciprocalEndTime, inv.Notes, inv.Status, inv.AcceptedChildID, inv.CreatedAt, inv.UpdatedAt); err != nil {
				return fmt.Errorf("database: failed to insert open block invitation (block_id=%s): %w", params.ExistingBlockID, err)
			}
			invitations = append(invitations, inv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invitations, nil
}

func (db *Database) GetInvitationByID(ctx context.Context, id uuid.UUID) (OpenBlockInvitation, error) {
	inv, err := scanInvitation(db.Pool.QueryRow(ctx, `SELECT `+invitationColumns+` FROM tbl_open_block_invitation WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inv, ErrInvitationNotFound
		}
		return inv, fmt.Errorf("database: failed to scan open block invitation: %w", err)
	}
	return inv, nil
}

// ListInvitationsForParent returns a member's pending invitations in
// creation order.
func (db *Database) ListInvitationsForParent(ctx context.Context, parentID uuid.UUID) ([]OpenBlockInvitation, error) {
	return db.listInvitations(ctx, `SELECT `+invitationColumns+` FROM tbl_open_block_invitation WHERE invited_parent_id = $1 AND status = 'pending' ORDER BY created_at`, parentID)
}

func (db *Database) ListInvitationsForBlock(ctx context.Context, blockID uuid.UUID) ([]OpenBlockInvitation, error) {
	return db.listInvitations(ctx, `SELECT `+invitationColumns+` FROM tbl_open_block_invitation WHERE existing_block_id = $1 ORDER BY created_at`, blockID)
}

func (db *Database) listInvitations(ctx context.Context, query string, args ...any) ([]OpenBlockInvitation, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list open block invitations: %w", err)
	}
	defer rows.Close()

	var invitations []OpenBlockInvitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("database: failed to scan open block invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate open block invitations: %w", err)
	}
	return invitations, nil
}

type AcceptInvitationParams struct {
	InvitationID uuid.UUID
	ChildID      uuid.UUID
}

type AcceptInvitationResult struct {
	Invitation OpenBlockInvitation `json:"invitation"`
	Request    CareRequest         `json:"request"`
	// Reciprocal is the return-care block created for the accepting
	// parent's counterpart.
	Reciprocal ScheduledCare `json:"reciprocal"`
	// Expired holds the sibling invitations voided because the block
	// filled up with this acceptance.
	Expired []OpenBlockInvitation `json:"expired"`
	// Replayed is set when the same parent retries an acceptance that
	// already went through.
	Replayed bool `json:"replayed"`
}

// AcceptOpenBlockInvitation claims a seat in a shared block. The
// block's offer row is locked first so concurrent acceptances
// serialize; once the last seat is taken the offer closes and every
// pending sibling invitation expires. The accepting child joins the
// block and a reciprocal block is scheduled for the invited parent,
// all in one transaction.
func (db *Database) AcceptOpenBlockInvitation(ctx context.Context, params AcceptInvitationParams) (AcceptInvitationResult, error) {
	var result AcceptInvitationResult
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		inv, err := scanInvitation(tx.QueryRow(ctx, `SELECT `+invitationColumns+` FROM tbl_open_block_invitation WHERE id = $1`, params.InvitationID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvitationNotFound
		}
		if err != nil {
			return fmt.Errorf("database: failed to scan open block invitation: %w", err)
		}

		request, err := scanCareRequest(tx.QueryRow(ctx, `SELECT `+careRequestColumns+` FROM tbl_care_request
			WHERE existing_block_id = $1 AND request_type = 'open_block_sent' FOR UPDATE`, inv.ExistingBlockID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCareRequestNotFound
		}
		if err != nil {
			return fmt.Errorf("database: failed to lock open block offer (block_id=%s): %w", inv.ExistingBlockID, err)
		}

		if inv.Status == InvitationStatusAccepted {
			return db.replayAcceptedInvitation(ctx, tx, inv, request, params.ChildID, &result)
		}

		if request.Status != RequestStatusPending && request.Status != RequestStatusActive {
			return ErrInvitationNotPending
		}

		inv, err = scanInvitation(tx.QueryRow(ctx, `UPDATE tbl_open_block_invitation SET status = 'accepted', accepted_child_id = $2, updated_at = now()
			WHERE id = $1 AND status = 'pending'
			RETURNING `+invitationColumns, params.InvitationID, params.ChildID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvitationNotPending
		}
		if err != nil {
			return fmt.Errorf("database: failed to accept open block invitation (id=%s): %w", params.InvitationID, err)
		}
		result.Invitation = inv

		slotsUsed := request.SlotsUsed + 1
		status := RequestStatusActive
		full := request.Slots.IsSet && slotsUsed >= request.Slots.Val
		if full {
			status = RequestStatusClosed
		}
		request, err = scanCareRequest(tx.QueryRow(ctx, `UPDATE tbl_care_request SET slots_used = $2, status = $3, updated_at = now()
			WHERE id = $1 RETURNING `+careRequestColumns, request.ID, slotsUsed, status))
		if err != nil {
			return fmt.Errorf("database: failed to update open block offer (id=%s): %w", request.ID, err)
		}
		result.Request = request

		if full {
			expired, err := expirePendingSiblings(ctx, tx, inv.ExistingBlockID)
			if err != nil {
				return err
			}
			result.Expired = expired
		}

		if _, err := tx.Exec(ctx, `INSERT INTO tbl_scheduled_care_child (block_id, child_id) VALUES ($1, $2) ON CONFLICT (block_id, child_id) DO NOTHING`, inv.ExistingBlockID, params.ChildID); err != nil {
			return fmt.Errorf("database: failed to add block child (block_id=%s): %w", inv.ExistingBlockID, err)
		}

		block, err := scanScheduledCare(tx.QueryRow(ctx, `SELECT `+scheduledCareColumns+` FROM tbl_scheduled_care WHERE id = $1`, inv.ExistingBlockID))
		if err != nil {
			return fmt.Errorf("database: failed to scan scheduled care: %w", err)
		}

		reciprocal, err := insertScheduledCare(ctx, tx, ScheduledCare{
			ID:               uuid.New(),
			GroupID:          inv.GroupID,
			ParentID:         inv.InvitedParentID,
			ChildID:          block.ChildID,
			Date:             inv.ReciprocalDate,
			StartTime:        inv.ReciprocalStartTime,
			EndTime:          inv.ReciprocalEndTime,
			Type:             CareTypeProvided,
			Status:           BlockStatusConfirmed,
			RelatedRequestID: util.Some(request.ID),
		})
		if err != nil {
			return err
		}
		result.Reciprocal = reciprocal
		return nil
	})
	return result, err
}

// replayAcceptedInvitation restores the outcome of an acceptance that
// already committed so retries stay side-effect free. A different
// child on the retry is a real conflict, not a replay.
func (db *Database) replayAcceptedInvitation(ctx context.Context, tx pgx.Tx, inv OpenBlockInvitation, request CareRequest, childID uuid.UUID, result *AcceptInvitationResult) error {
	if inv.AcceptedChildID.IsSet && inv.AcceptedChildID.Val != childID {
		return ErrAcceptedDifferentChild
	}
	result.Invitation = inv
	result.Request = request
	result.Replayed = true

	reciprocal, err := scanScheduledCare(tx.QueryRow(ctx, `SELECT `+scheduledCareColumns+` FROM tbl_scheduled_care
		WHERE related_request_id = $1 AND parent_id = $2`, request.ID, inv.InvitedParentID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("database: failed to scan reciprocal block: %w", err)
	}
	if err == nil {
		result.Reciprocal = reciprocal
	}
	return nil
}

func expirePendingSiblings(ctx context.Context, tx pgx.Tx, blockID uuid.UUID) ([]OpenBlockInvitation, error) {
	rows, err := tx.Query(ctx, `UPDATE tbl_open_block_invitation SET status = 'expired', updated_at = now()
		WHERE existing_block_id = $1 AND status = 'pending'
		RETURNING `+invitationColumns, blockID)
	if err != nil {
		return nil, fmt.Errorf("database: failed to expire sibling invitations (block_id=%s): %w", blockID, err)
	}
	defer rows.Close()

	var expired []OpenBlockInvitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("database: failed to scan open block invitation: %w", err)
		}
		expired = append(expired, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate expired invitations: %w", err)
	}
	return expired, nil
}

// DeclineOpenBlockInvitation turns down a seat without touching the
// offer; the other invitations stay live.
func (db *Database) DeclineOpenBlockInvitation(ctx context.Context, id uuid.UUID) (OpenBlockInvitation, error) {
	inv, err := scanInvitation(db.Pool.QueryRow(ctx, `UPDATE tbl_open_block_invitation SET status = 'declined', updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+invitationColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return inv, ErrInvitationNotPending
	}
	if err != nil {
		return inv, fmt.Errorf("database: failed to decline open block invitation (id=%s): %w", id, err)
	}
	return inv, nil
}
