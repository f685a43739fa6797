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

const careRequestColumns = `id, group_id, requester_id, child_id, care_date, start_time, end_time, request_type, status, notes,
	event_title, event_description, event_location, rsvp_deadline,
	slots, slots_used, open_block_parent_id, existing_block_id,
	reciprocal_parent_id, reciprocal_child_id, reciprocal_date, reciprocal_start_time, reciprocal_end_time,
	created_at, updated_at`

func scanCareRequest(row pgx.Row) (CareRequest, error) {
	var r CareRequest
	err := row.Scan(&r.ID, &r.GroupID, &r.RequesterID, &r.ChildID, &r.Date, &r.StartTime, &r.EndTime, &r.Type, &r.Status, &r.Notes,
		&r.EventTitle, &r.EventDescription, &r.EventLocation, &r.RSVPDeadline,
		&r.Slots, &r.SlotsUsed, &r.OpenBlockParentID, &r.ExistingBlockID,
		&r.ReciprocalParentID, &r.ReciprocalChildID, &r.ReciprocalDate, &r.ReciprocalStartTime, &r.ReciprocalEndTime,
		&r.CreatedAt, &r.UpdatedAt)
	return r, err
}

const careResponseColumns = `id, request_id, responder_id, response_type, status, notes,
	reciprocal_child_id, reciprocal_date, reciprocal_start_time, reciprocal_end_time, created_at, updated_at`

func scanCareResponse(row pgx.Row) (CareResponse, error) {
	var r CareResponse
	err := row.Scan(&r.ID, &r.RequestID, &r.ResponderID, &r.Type, &r.Status, &r.Notes,
		&r.ReciprocalChildID, &r.ReciprocalDate, &r.ReciprocalStartTime, &r.ReciprocalEndTime, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

type CreateCareRequestParams struct {
	GroupID     uuid.UUID
	RequesterID uuid.UUID
	ChildID     uuid.UUID
	Date        time.Time
	StartTime   string
	EndTime     string
	Type        RequestType
	Notes       util.Optional[string]

	EventTitle       util.Optional[string]
	EventDescription util.Optional[string]
	EventLocation    util.Optional[string]
	RSVPDeadline     util.Optional[time.Time]

	Slots             util.Optional[int]
	OpenBlockParentID util.Optional[uuid.UUID]
	ExistingBlockID   util.Optional[uuid.UUID]

	ReciprocalParentID  util.Optional[uuid.UUID]
	ReciprocalChildID   util.Optional[uuid.UUID]
	ReciprocalDate      util.Optional[time.Time]
	ReciprocalStartTime util.Optional[string]
	ReciprocalEndTime   util.Optional[string]
}

func (db *Database) CreateCareRequest(ctx context.Context, params CreateCareRequestParams) (CareRequest, error) {
	request := CareRequest{
		ID:                  uuid.New(),
		GroupID:             params.GroupID,
		RequesterID:         params.RequesterID,
		ChildID:             params.ChildID,
		Date:                params.Date,
		StartTime:           params.StartTime,
		EndTime:             params.EndTime,
		Type:                params.Type,
		Status:              RequestStatusPending,
		Notes:               params.Notes,
		EventTitle:          params.EventTitle,
		EventDescription:    params.EventDescription,
		EventLocation:       params.EventLocation,
		RSVPDeadline:        params.RSVPDeadline,
		Slots:               params.Slots,
		OpenBlockParentID:   params.OpenBlockParentID,
		ExistingBlockID:     params.ExistingBlockID,
		ReciprocalParentID:  params.ReciprocalParentID,
		ReciprocalChildID:   params.ReciprocalChildID,
		ReciprocalDate:      params.ReciprocalDate,
		ReciprocalStartTime: params.ReciprocalStartTime,
		ReciprocalEndTime:   params.ReciprocalEndTime,
		CreatedAt:           time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}

	if _, err := db.Pool.Exec(ctx, `INSERT INTO tbl_care_request (`+careRequestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		request.ID, request.GroupID, request.RequesterID, request.ChildID, request.Date, request.StartTime, request.EndTime, request.Type, request.Status, request.Notes,
		request.EventTitle, request.EventDescription, request.EventLocation, request.RSVPDeadline,
		request.Slots, request.SlotsUsed, request.OpenBlockParentID, request.ExistingBlockID,
		request.ReciprocalParentID, request.ReciprocalChildID, request.ReciprocalDate, request.ReciprocalStartTime, request.ReciprocalEndTime,
		request.CreatedAt, request.UpdatedAt); err != nil {
		return request, fmt.Errorf("database: failed to insert care request (group_id=%s): %w", request.GroupID, err)
	}
	return request, nil
}

func (db *Database) GetCareRequestByID(ctx context.Context, id uuid.UUID) (CareRequest, error) {
	request, err := scanCareRequest(db.Pool.QueryRow(ctx, `SELECT `+careRequestColumns+` FROM tbl_care_request WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return request, ErrCareRequestNotFound
		}
		return request, fmt.Errorf("database: failed to scan care request: %w", err)
	}
	return request, nil
}

type ListCareRequestsParams struct {
	GroupID          util.Optional[uuid.UUID]
	RequesterID      util.Optional[uuid.UUID]
	ExcludeRequester util.Optional[uuid.UUID]
	OpenOnly         bool
}

func (db *Database) ListCareRequests(ctx context.Context, params ListCareRequestsParams) ([]CareRequest, error) {
	query := `SELECT ` + careRequestColumns + ` FROM tbl_care_request WHERE 1=1`
	var args []any

	if params.GroupID.IsSet {
		args = append(args, params.GroupID.Val)
		query += fmt.Sprintf(" AND group_id = $%d", len(args))
	}
	if params.RequesterID.IsSet {
		args = append(args, params.RequesterID.Val)
		query += fmt.Sprintf(" AND requester_id = $%d", len(args))
	}
	if params.ExcludeRequester.IsSet {
		args = append(args, params.ExcludeRequester.Val)
		query += fmt.Sprintf(" AND requester_id <> $%d", len(args))
	}
	if params.OpenOnly {
		query += " AND status IN ('pending', 'active')"
	}
	query += " ORDER BY created_at"

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list care requests: %w", err)
	}
	defer rows.Close()

	var requests []CareRequest
	for rows.Next() {
		request, err := scanCareRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("database: failed to scan care request: %w", err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate care requests: %w", err)
	}
	return requests, nil
}

type CreateCareResponseParams struct {
	RequestID   uuid.UUID
	ResponderID uuid.UUID
	Type        ResponseType
	Notes       util.Optional[string]

	ReciprocalChildID   util.Optional[uuid.UUID]
	ReciprocalDate      util.Optional[time.Time]
	ReciprocalStartTime util.Optional[string]
	ReciprocalEndTime   util.Optional[string]
}

// CreateCareResponse attaches a response to a still-open request. The
// request row is locked so a response racing a cancellation loses
// cleanly with ErrRequestNotOpen, and the first response flips the
// request pending -> active. One response per responder per request.
func (db *Database) CreateCareResponse(ctx context.Context, params CreateCareResponseParams) (CareResponse, error) {
	response := CareResponse{
		ID:                  uuid.New(),
		RequestID:           params.RequestID,
		ResponderID:         params.ResponderID,
		Type:                params.Type,
		Status:              ResponseStatusPending,
		Notes:               params.Notes,
		ReciprocalChildID:   params.ReciprocalChildID,
		ReciprocalDate:      params.ReciprocalDate,
		ReciprocalStartTime: params.ReciprocalStartTime,
		ReciprocalEndTime:   params.ReciprocalEndTime,
		CreatedAt:           time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}

	err := db.withTx(ctx, func(tx pgx.Tx) error {
		var status RequestStatus
		err := tx.QueryRow(ctx, `SELECT status FROM tbl_care_request WHERE id = $1 FOR UPDATE`, params.RequestID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCareRequestNotFound
		}
		if err != nil {
			return fmt.Errorf("database: failed to lock care request (id=%s): %w", params.RequestID, err)
		}
		if status != RequestStatusPending && status != RequestStatusActive {
			return ErrRequestNotOpen
		}

		if _, err := tx.Exec(ctx, `INSERT INTO tbl_care_response (`+careResponseColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			response.ID, response.RequestID, response.ResponderID, response.Type, response.Status, response.Notes,
			response.ReciprocalChildID, response.ReciprocalDate, response.ReciprocalStartTime, response.ReciprocalEndTime,
			response.CreatedAt, response.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateResponse
			}
			return fmt.Errorf("database: failed to insert care response (request_id=%s): %w", params.RequestID, err)
		}

		if status == RequestStatusPending {
			if _, err := tx.Exec(ctx, `UPDATE tbl_care_request SET status = 'active', updated_at = now() WHERE id = $1`, params.RequestID); err != nil {
				return fmt.Errorf("database: failed to activate care request (id=%s): %w", params.RequestID, err)
			}
		}
		return nil
	})
	if err != nil {
		return response, err
	}
	return response, nil
}

func (db *Database) GetCareResponseByID(ctx context.Context, id uuid.UUID) (CareResponse, error) {
	response, err := scanCareResponse(db.Pool.QueryRow(ctx, `SELECT `+careResponseColumns+` FROM tbl_care_response WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return response, ErrCareResponseNotFound
		}
		return response, fmt.Errorf("database: failed to scan care response: %w", err)
	}
	return response, nil
}

// ListCareResponses returns a request's responses in creation order.
func (db *Database) ListCareResponses(ctx context.Context, requestID uuid.UUID) ([]CareResponse, error) {
	rows, err := db.Pool.Query(ctx, `SELECT `+careResponseColumns+` FROM tbl_care_response WHERE request_id = $1 ORDER BY created_at`, requestID)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list care responses: %w", err)
	}
	defer rows.Close()

	var responses []CareResponse
	for rows.Next() {
		response, err := scanCareResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("database: failed to scan care response: %w", err)
		}
		responses = append(responses, response)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate care responses: %w", err)
	}
	return responses, nil
}

// ListResponsesByResponder returns the responses a member has
// submitted across groups, newest first.
func (db *Database) ListResponsesByResponder(ctx context.Context, responderID uuid.UUID) ([]CareResponse, error) {
	rows, err := db.Pool.Query(ctx, `SELECT `+careResponseColumns+` FROM tbl_care_response WHERE responder_id = $1 ORDER BY created_at DESC`, responderID)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list responses by responder: %w", err)
	}
	defer rows.Close()

	var responses []CareResponse
	for rows.Next() {
		response, err := scanCareResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("database: failed to scan care response: %w", err)
		}
		responses = append(responses, response)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate care responses: %w", err)
	}
	return responses, nil
}

type AcceptCareResponseParams struct {
	RequestID  uuid.UUID
	ResponseID uuid.UUID
}

type AcceptCareResponseResult struct {
	Request  CareRequest     `json:"request"`
	Response CareResponse    `json:"response"`
	Blocks   []ScheduledCare `json:"blocks"`
	// Replayed is set when the same accept was already applied; the
	// previously created blocks are returned and nothing changes.
	Replayed bool `json:"replayed"`
}

// AcceptCareResponse is the exchange step. In one transaction: flip
// the response pending -> accepted, close the request, and create the
// scheduled-care block(s): one for the responder's coverage and, for
// reciprocal exchanges, one for the requester's return slot. A
// concurrent accept of a sibling response loses with
// ErrResponseNotPending; a retry of the same accept replays the
// original outcome.
func (db *Database) AcceptCareResponse(ctx context.Context, params AcceptCareResponseParams) (AcceptCareResponseResult, error) {
	var result AcceptCareResponseResult

	err := db.withTx(ctx, func(tx pgx.Tx) error {
		response, err := scanCareResponse(tx.QueryRow(ctx, `UPDATE tbl_care_response SET status = 'accepted', updated_at = now()
			WHERE id = $1 AND request_id = $2 AND status = 'pending'
			RETURNING `+careResponseColumns, params.ResponseID, params.RequestID))
		if errors.Is(err, pgx.ErrNoRows) {
			return db.replayOrConflict(ctx, tx, params, &result)
		}
		if err != nil {
			return fmt.Errorf("database: failed to accept care response (id=%s): %w", params.ResponseID, err)
		}
		result.Response = response

		request, err := scanCareRequest(tx.QueryRow(ctx, `UPDATE tbl_care_request SET status = 'closed', updated_at = now()
			WHERE id = $1 AND status IN ('pending', 'active')
			RETURNING `+careRequestColumns, params.RequestID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRequestAlreadyClosed
		}
		if err != nil {
			return fmt.Errorf("database: failed to close care request (id=%s): %w", params.RequestID, err)
		}
		result.Request = request

		// The remaining pending responses lost the exchange.
		if _, err := tx.Exec(ctx, `UPDATE tbl_care_response SET status = 'declined', updated_at = now()
			WHERE request_id = $1 AND id <> $2 AND status = 'pending'`, params.RequestID, params.ResponseID); err != nil {
			return fmt.Errorf("database: failed to decline sibling responses (request_id=%s): %w", params.RequestID, err)
		}

		careType := CareTypeProvided
		if request.Type == RequestTypeEvent {
			careType = CareTypeEvent
		}

		// The responder covers the requested window.
		provided, err := insertScheduledCare(ctx, tx, ScheduledCare{
			ID:               uuid.New(),
			GroupID:          request.GroupID,
			ParentID:         response.ResponderID,
			ChildID:          request.ChildID,
			Date:             request.Date,
			StartTime:        request.StartTime,
			EndTime:          request.EndTime,
			Type:             careType,
			Status:           BlockStatusConfirmed,
			RelatedRequestID: util.Some(request.ID),
		})
		if err != nil {
			return err
		}
		result.Blocks = append(result.Blocks, provided)

		// Reciprocal exchanges schedule the return slot for the
		// requester. The responder's proposal wins over the request's
		// own suggestion.
		reciprocalDate := response.ReciprocalDate
		reciprocalStart := response.ReciprocalStartTime
		reciprocalEnd := response.ReciprocalEndTime
		reciprocalChild := response.ReciprocalChildID
		if !reciprocalDate.IsSet {
			reciprocalDate = request.ReciprocalDate
			reciprocalStart = request.ReciprocalStartTime
			reciprocalEnd = request.ReciprocalEndTime
			reciprocalChild = request.ReciprocalChildID
		}
		if request.Type == RequestTypeReciprocal && reciprocalDate.IsSet && reciprocalChild.IsSet {
			returned, err := insertScheduledCare(ctx, tx, ScheduledCare{
				ID:               uuid.New(),
				GroupID:          request.GroupID,
				ParentID:         request.RequesterID,
				ChildID:          reciprocalChild.Val,
				Date:             reciprocalDate.Val,
				StartTime:        reciprocalStart.UnwrapOr(request.StartTime),
				EndTime:          reciprocalEnd.UnwrapOr(request.EndTime),
				Type:             CareTypeProvided,
				Status:           BlockStatusConfirmed,
				RelatedRequestID: util.Some(request.ID),
			})
			if err != nil {
				return err
			}
			result.Blocks = append(result.Blocks, returned)
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

// replayOrConflict distinguishes an idempotent retry of an accept that
// already succeeded from a race genuinely lost to another response.
func (db *Database) replayOrConflict(ctx context.Context, tx pgx.Tx, params AcceptCareResponseParams, result *AcceptCareResponseResult) error {
	response, err := scanCareResponse(tx.QueryRow(ctx, `SELECT `+careResponseColumns+` FROM tbl_care_response WHERE id = $1 AND request_id = $2`, params.ResponseID, params.RequestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrCareResponseNotFound
	}
	if err != nil {
		return fmt.Errorf("database: failed to scan care response: %w", err)
	}
	request, err := scanCareRequest(tx.QueryRow(ctx, `SELECT `+careRequestColumns+` FROM tbl_care_request WHERE id = $1`, params.RequestID))
	if err != nil {
		return fmt.Errorf("database: failed to scan care request: %w", err)
	}

	if response.Status != ResponseStatusAccepted {
		if request.Status == RequestStatusClosed {
			return ErrResponseAlreadyAcceptedRace
		}
		return ErrResponseNotPending
	}

	blocks, err := listBlocksByRequest(ctx, tx, params.RequestID)
	if err != nil {
		return err
	}

	result.Request = request
	result.Response = response
	result.Blocks = blocks
	result.Replayed = true
	return nil
}

// DeclineCareResponse marks a single response declined; the request
// stays open to further responses.
func (db *Database) DeclineCareResponse(ctx context.Context, requestID, responseID uuid.UUID) (CareResponse, error) {
	response, err := scanCareResponse(db.Pool.QueryRow(ctx, `UPDATE tbl_care_response SET status = 'declined', updated_at = now()
		WHERE id = $1 AND request_id = $2 AND status = 'pending'
		RETURNING `+careResponseColumns, responseID, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return response, ErrResponseNotPending
	}
	if err != nil {
		return response, fmt.Errorf("database: failed to decline care response (id=%s): %w", responseID, err)
	}
	return response, nil
}

// CancelCareRequest moves an open request to cancelled. Cancelling an
// already-cancelled request is a no-op replay; a closed request
// reports ErrRequestAlreadyClosed.
func (db *Database) CancelCareRequest(ctx context.Context, requestID uuid.UUID) (CareRequest, error) {
	request, err := scanCareRequest(db.Pool.QueryRow(ctx, `UPDATE tbl_care_request SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'active')
		RETURNING `+careRequestColumns, requestID))
	if err == nil {
		return request, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return request, fmt.Errorf("database: failed to cancel care request (id=%s): %w", requestID, err)
	}

	request, err = db.GetCareRequestByID(ctx, requestID)
	if err != nil {
		return request, err
	}
	switch request.Status {
	case RequestStatusCancelled:
		return request, nil
	default:
		return request, ErrRequestAlreadyClosed
	}
}
