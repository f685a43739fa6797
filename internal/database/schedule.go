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

const scheduledCareColumns = `id, group_id, parent_id, child_id, care_date, start_time, end_time, care_type, status, related_request_id, created_at, updated_at`

func scanScheduledCare(row pgx.Row) (ScheduledCare, error) {
	var b ScheduledCare
	err := row.Scan(&b.ID, &b.GroupID, &b.ParentID, &b.ChildID, &b.Date, &b.StartTime, &b.EndTime, &b.Type, &b.Status, &b.RelatedRequestID, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func insertScheduledCare(ctx context.Context, tx pgx.Tx, block ScheduledCare) (ScheduledCare, error) {
	block.CreatedAt = time.Now().UTC()
	block.UpdatedAt = block.CreatedAt
	if _, err := tx.Exec(ctx, `INSERT INTO tbl_scheduled_care (`+scheduledCareColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		block.ID, block.GroupID, block.ParentID, block.ChildID, block.Date, block.StartTime, block.EndTime, block.Type, block.Status, block.RelatedRequestID, block.CreatedAt, block.UpdatedAt); err != nil {
		return block, fmt.Errorf("database: failed to insert scheduled care (group_id=%s): %w", block.GroupID, err)
	}
	return block, nil
}

func listBlocksByRequest(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) ([]ScheduledCare, error) {
	rows, err := tx.Query(ctx, `SELECT `+scheduledCareColumns+` FROM tbl_scheduled_care WHERE related_request_id = $1 ORDER BY created_at`, requestID)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list blocks by request: %w", err)
	}
	defer rows.Close()

	var blocks []ScheduledCare
	for rows.Next() {
		block, err := scanScheduledCare(rows)
		if err != nil {
			return nil, fmt.Errorf("database: failed to scan scheduled care: %w", err)
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate scheduled care: %w", err)
	}
	return blocks, nil
}

type CreateScheduledCareParams struct {
	GroupID          uuid.UUID
	ParentID         uuid.UUID
	ChildID          uuid.UUID
	Date             time.Time
	StartTime        string
	EndTime          string
	Type             CareType
	RelatedRequestID util.Optional[uuid.UUID]
}

func (db *Database) CreateScheduledCare(ctx context.Context, params CreateScheduledCareParams) (ScheduledCare, error) {
	var block ScheduledCare
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		block, err = insertScheduledCare(ctx, tx, ScheduledCare{
			ID:               uuid.New(),
			GroupID:          params.GroupID,
			ParentID:         params.ParentID,
			ChildID:          params.ChildID,
			Date:             params.Date,
			StartTime:        params.StartTime,
			EndTime:          params.EndTime,
			Type:             params.Type,
			Status:           BlockStatusConfirmed,
			RelatedRequestID: params.RelatedRequestID,
		})
		return err
	})
	return block, err
}

func (db *Database) GetScheduledCareByID(ctx context.Context, id uuid.UUID) (ScheduledCare, error) {
	block, err := scanScheduledCare(db.Pool.QueryRow(ctx, `SELECT `+scheduledCareColumns+` FROM tbl_scheduled_care WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return block, ErrScheduledCareNotFound
		}
		return block, fmt.Errorf("database: failed to scan scheduled care: %w", err)
	}
	return block, nil
}

type ListScheduledCareParams struct {
	GroupID  util.Optional[uuid.UUID]
	ParentID util.Optional[uuid.UUID]
	From     util.Optional[time.Time]
}

// ListScheduledCare returns confirmed blocks in calendar order.
func (db *Database) ListScheduledCare(ctx context.Context, params ListScheduledCareParams) ([]ScheduledCare, error) {
	query := `SELECT ` + scheduledCareColumns + ` FROM tbl_scheduled_care WHERE status = 'confirmed'`
	var args []any

	if params.GroupID.IsSet {
		args = append(args, params.GroupID.Val)
		query += fmt.Sprintf(" AND group_id = $%d", len(args))
	}
	if params.ParentID.IsSet {
		args = append(args, params.ParentID.Val)
		query += fmt.Sprintf(" AND parent_id = $%d", len(args))
	}
	if params.From.IsSet {
		args = append(args, params.From.Val)
		query += fmt.Sprintf(" AND care_date >= $%d", len(args))
	}
	query += " ORDER BY care_date, start_time"

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list scheduled care: %w", err)
	}
	defer rows.Close()

	var blocks []ScheduledCare
	for rows.Next() {
		block, err := scanScheduledCare(rows)
		if err != nil {
			return nil, fmt.Errorf("database: failed to scan scheduled care: %w", err)
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate scheduled care: %w", err)
	}
	return blocks, nil
}

// ArrangementsBetween lists the upcoming confirmed blocks that tie two
// members of a group together, in either caring direction.
func (db *Database) ArrangementsBetween(ctx context.Context, groupID, parentA, parentB uuid.UUID, from time.Time) ([]ScheduledCare, error) {
	rows, err := db.Pool.Query(ctx, `SELECT s.id, s.group_id, s.parent_id, s.child_id, s.care_date, s.start_time, s.end_time, s.care_type, s.status, s.related_request_id, s.created_at, s.updated_at
		FROM tbl_scheduled_care s
		JOIN tbl_child c ON c.id = s.child_id
		WHERE s.group_id = $1 AND s.status = 'confirmed' AND s.care_date >= $2
		  AND ((s.parent_id = $3 AND c.parent_id = $4) OR (s.parent_id = $4 AND c.parent_id = $3))
		ORDER BY s.care_date, s.start_time`, groupID, from, parentA, parentB)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list arrangements: %w", err)
	}
	defer rows.Close()

	var blocks []ScheduledCare
	for rows.Next() {
		block, err := scanScheduledCare(rows)
		if err != nil {
			return nil, fmt.Errorf("database: failed to scan scheduled care: %w", err)
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate arrangements: %w", err)
	}
	return blocks, nil
}

// CancelScheduledCare flips a confirmed block to cancelled. Cancelling
// twice replays the first outcome.
func (db *Database) CancelScheduledCare(ctx context.Context, id uuid.UUID) (ScheduledCare, error) {
	block, err := scanScheduledCare(db.Pool.QueryRow(ctx, `UPDATE tbl_scheduled_care SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status = 'confirmed'
		RETURNING `+scheduledCareColumns, id))
	if err == nil {
		return block, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return block, fmt.Errorf("database: failed to cancel scheduled care (id=%s): %w", id, err)
	}
	return db.GetScheduledCareByID(ctx, id)
}

// AddBlockChild attaches a child to a shared block; re-adding the same
// child is harmless.
func (db *Database) AddBlockChild(ctx context.Context, blockID, childID uuid.UUID) error {
	if _, err := db.Pool.Exec(ctx, `INSERT INTO tbl_scheduled_care_child (block_id, child_id) VALUES ($1, $2) ON CONFLICT (block_id, child_id) DO NOTHING`, blockID, childID); err != nil {
		return fmt.Errorf("database: failed to add block child (block_id=%s): %w", blockID, err)
	}
	return nil
}

func (db *Database) ListBlockChildren(ctx context.Context, blockID uuid.UUID) ([]Child, error) {
	rows, err := db.Pool.Query(ctx, `SELECT c.id, c.parent_id, c.name, c.created_at
		FROM tbl_child c
		JOIN tbl_scheduled_care_child bc ON bc.child_id = c.id
		WHERE bc.block_id = $1
		ORDER BY c.name`, blockID)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list block children: %w", err)
	}
	defer rows.Close()

	var children []Child
	for rows.Next() {
		var c Child
		if err := rows.Scan(&c.ID, &c.ParentID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("database: failed to scan child: %w", err)
		}
		children = append(children, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate block children: %w", err)
	}
	return children, nil
}

const rescheduleColumns = `id, block_id, group_id, requester_id, counterpart_id,
	from_date, from_start, from_end, to_date, to_start, to_end, notes, status, hop_count, cancel_target_id, created_at, updated_at`

func scanReschedule(row pgx.Row) (RescheduleRequest, error) {
	var r RescheduleRequest
	err := row.Scan(&r.ID, &r.BlockID, &r.GroupID, &r.RequesterID, &r.CounterpartID,
		&r.FromDate, &r.FromStart, &r.FromEnd, &r.ToDate, &r.ToStart, &r.ToEnd, &r.Notes, &r.Status, &r.HopCount, &r.CancelTargetID, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

type CreateRescheduleParams struct {
	BlockID        uuid.UUID
	RequesterID    uuid.UUID
	CounterpartID  uuid.UUID
	ToDate         time.Time
	ToStart        string
	ToEnd          string
	Notes          util.Optional[string]
	HopCount       int
	CancelTargetID util.Optional[uuid.UUID]
}

// CreateRescheduleRequest opens a reschedule proposal against a
// confirmed block. The block is locked so the proposal snapshots its
// current window; a second pending proposal for the same block is
// rejected by the partial unique index.
func (db *Database) CreateRescheduleRequest(ctx context.Context, params CreateRescheduleParams) (RescheduleRequest, error) {
	var reschedule RescheduleRequest
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		block, err := scanScheduledCare(tx.QueryRow(ctx, `SELECT `+scheduledCareColumns+` FROM tbl_scheduled_care WHERE id = $1 FOR UPDATE`, params.BlockID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrScheduledCareNotFound
		}
		if err != nil {
			return fmt.Errorf("database: failed to lock scheduled care (id=%s): %w", params.BlockID, err)
		}
		if block.Status != BlockStatusConfirmed {
			return ErrBlockNotReschedulable
		}

		reschedule = RescheduleRequest{
			ID:             uuid.New(),
			BlockID:        params.BlockID,
			GroupID:        block.GroupID,
			RequesterID:    params.RequesterID,
			CounterpartID:  params.CounterpartID,
			FromDate:       block.Date,
			FromStart:      block.StartTime,
			FromEnd:        block.EndTime,
			ToDate:         params.ToDate,
			ToStart:        params.ToStart,
			ToEnd:          params.ToEnd,
			Notes:          params.Notes,
			Status:         RescheduleStatusPending,
			HopCount:       params.HopCount,
			CancelTargetID: params.CancelTargetID,
			CreatedAt:      time.Now().UTC(),
			UpdatedAt:      time.Now().UTC(),
		}
		if _, err := tx.Exec(ctx, `INSERT INTO tbl_reschedule_request (`+rescheduleColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			reschedule.ID, reschedule.BlockID, reschedule.GroupID, reschedule.RequesterID, reschedule.CounterpartID,
			reschedule.FromDate, reschedule.FromStart, reschedule.FromEnd, reschedule.ToDate, reschedule.ToStart, reschedule.ToEnd,
			reschedule.Notes, reschedule.Status, reschedule.HopCount, reschedule.CancelTargetID, reschedule.CreatedAt, reschedule.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				return ErrBlockNotReschedulable
			}
			return fmt.Errorf("database: failed to insert reschedule request (block_id=%s): %w", params.BlockID, err)
		}
		return nil
	})
	return reschedule, err
}

func (db *Database) GetRescheduleByID(ctx context.Context, id uuid.UUID) (RescheduleRequest, error) {
	reschedule, err := scanReschedule(db.Pool.QueryRow(ctx, `SELECT `+rescheduleColumns+` FROM tbl_reschedule_request WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return reschedule, ErrRescheduleNotFound
		}
		return reschedule, fmt.Errorf("database: failed to scan reschedule request: %w", err)
	}
	return reschedule, nil
}

// ListReschedulesForUser returns the pending proposals a member is
// party to, on either side.
func (db *Database) ListReschedulesForUser(ctx context.Context, userID uuid.UUID) ([]RescheduleRequest, error) {
	rows, err := db.Pool.Query(ctx, `SELECT `+rescheduleColumns+` FROM tbl_reschedule_request
		WHERE status = 'pending' AND (requester_id = $1 OR counterpart_id = $1)
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list reschedule requests: %w", err)
	}
	defer rows.Close()

	var reschedules []RescheduleRequest
	for rows.Next() {
		reschedule, err := scanReschedule(rows)
		if err != nil {
			return nil, fmt.Errorf("database: failed to scan reschedule request: %w", err)
		}
		reschedules = append(reschedules, reschedule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate reschedule requests: %w", err)
	}
	return reschedules, nil
}

type AcceptRescheduleResult struct {
	Reschedule RescheduleRequest `json:"reschedule"`
	Block      ScheduledCare     `json:"block"`
}

// AcceptReschedule moves the block to the proposed window. The flip
// pending -> accepted and the block update commit together; a proposal
// already resolved reports ErrRescheduleNotPending.
func (db *Database) AcceptReschedule(ctx context.Context, id uuid.UUID) (AcceptRescheduleResult, error) {
	var result AcceptRescheduleResult
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		reschedule, err := scanReschedule(tx.QueryRow(ctx, `UPDATE tbl_reschedule_request SET status = 'accepted', updated_at = now()
			WHERE id = $1 AND status = 'pending'
			RETURNING `+rescheduleColumns, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRescheduleNotPending
		}
		if err != nil {
			return fmt.Errorf("database: failed to accept reschedule request (id=%s): %w", id, err)
		}
		result.Reschedule = reschedule

		block, err := scanScheduledCare(tx.QueryRow(ctx, `UPDATE tbl_scheduled_care SET care_date = $2, start_time = $3, end_time = $4, updated_at = now()
			WHERE id = $1 AND status = 'confirmed'
			RETURNING `+scheduledCareColumns, reschedule.BlockID, reschedule.ToDate, reschedule.ToStart, reschedule.ToEnd))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBlockNotReschedulable
		}
		if err != nil {
			return fmt.Errorf("database: failed to move scheduled care (id=%s): %w", reschedule.BlockID, err)
		}
		result.Block = block
		return nil
	})
	return result, err
}

// DeclineReschedule resolves a pending proposal and cancels one
// arrangement in the same transaction. The cancellation target is the
// explicit cancelBlockID when given, then a choice carried from an
// earlier round, then the block under negotiation itself.
func (db *Database) DeclineReschedule(ctx context.Context, id uuid.UUID, cancelBlockID util.Optional[uuid.UUID]) (RescheduleRequest, error) {
	var reschedule RescheduleRequest
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		reschedule, err = scanReschedule(tx.QueryRow(ctx, `UPDATE tbl_reschedule_request SET status = 'declined', updated_at = now()
			WHERE id = $1 AND status = 'pending'
			RETURNING `+rescheduleColumns, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRescheduleNotPending
		}
		if err != nil {
			return fmt.Errorf("database: failed to decline reschedule request (id=%s): %w", id, err)
		}

		target := cancelBlockID.UnwrapOr(reschedule.CancelTargetID.UnwrapOr(reschedule.BlockID))
		if _, err := tx.Exec(ctx, `UPDATE tbl_scheduled_care SET status = 'cancelled', updated_at = now()
			WHERE id = $1 AND status = 'confirmed'`, target); err != nil {
			return fmt.Errorf("database: failed to cancel arrangement (id=%s): %w", target, err)
		}
		return nil
	})
	return reschedule, err
}

// CounterProposeReschedule declines a pending proposal and opens the
// reverse one in a single transaction, carrying the hop count and the
// cancellation choice forward.
func (db *Database) CounterProposeReschedule(ctx context.Context, id uuid.UUID, params CreateRescheduleParams) (RescheduleRequest, error) {
	var counter RescheduleRequest
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		declined, err := scanReschedule(tx.QueryRow(ctx, `UPDATE tbl_reschedule_request SET status = 'declined', updated_at = now()
			WHERE id = $1 AND status = 'pending'
			RETURNING `+rescheduleColumns, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRescheduleNotPending
		}
		if err != nil {
			return fmt.Errorf("database: failed to decline reschedule request (id=%s): %w", id, err)
		}

		block, err := scanScheduledCare(tx.QueryRow(ctx, `SELECT `+scheduledCareColumns+` FROM tbl_scheduled_care WHERE id = $1 FOR UPDATE`, declined.BlockID))
		if err != nil {
			return fmt.Errorf("database: failed to lock scheduled care (id=%s): %w", declined.BlockID, err)
		}
		if block.Status != BlockStatusConfirmed {
			return ErrBlockNotReschedulable
		}

		counter = RescheduleRequest{
			ID:             uuid.New(),
			BlockID:        declined.BlockID,
			GroupID:        declined.GroupID,
			RequesterID:    params.RequesterID,
			CounterpartID:  params.CounterpartID,
			FromDate:       block.Date,
			FromStart:      block.StartTime,
			FromEnd:        block.EndTime,
			ToDate:         params.ToDate,
			ToStart:        params.ToStart,
			ToEnd:          params.ToEnd,
			Notes:          params.Notes,
			Status:         RescheduleStatusPending,
			HopCount:       declined.HopCount + 1,
			CancelTargetID: params.CancelTargetID,
			CreatedAt:      time.Now().UTC(),
			UpdatedAt:      time.Now().UTC(),
		}
		if _, err := tx.Exec(ctx, `INSERT INTO tbl_reschedule_request (`+rescheduleColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			counter.ID, counter.BlockID, counter.GroupID, counter.RequesterID, counter.CounterpartID,
			counter.FromDate, counter.FromStart, counter.FromEnd, counter.ToDate, counter.ToStart, counter.ToEnd,
			counter.Notes, counter.Status, counter.HopCount, counter.CancelTargetID, counter.CreatedAt, counter.UpdatedAt); err != nil {
			return fmt.Errorf("database: failed to insert counter proposal (block_id=%s): %w", counter.BlockID, err)
		}
		return nil
	})
	return counter, err
}
