// Package care runs the babysitting exchange: a parent posts a
// request, other members of the circle respond, and the requester
// accepts exactly one response, which turns into scheduled care.
package care

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

type Store interface {
	CreateCareRequest(ctx context.Context, params database.CreateCareRequestParams) (database.CareRequest, error)
	GetCareRequestByID(ctx context.Context, id uuid.UUID) (database.CareRequest, error)
	ListCareRequests(ctx context.Context, params database.ListCareRequestsParams) ([]database.CareRequest, error)
	CreateCareResponse(ctx context.Context, params database.CreateCareResponseParams) (database.CareResponse, error)
	GetCareResponseByID(ctx context.Context, id uuid.UUID) (database.CareResponse, error)
	ListCareResponses(ctx context.Context, requestID uuid.UUID) ([]database.CareResponse, error)
	ListResponsesByResponder(ctx context.Context, responderID uuid.UUID) ([]database.CareResponse, error)
	AcceptCareResponse(ctx context.Context, params database.AcceptCareResponseParams) (database.AcceptCareResponseResult, error)
	DeclineCareResponse(ctx context.Context, requestID, responseID uuid.UUID) (database.CareResponse, error)
	CancelCareRequest(ctx context.Context, requestID uuid.UUID) (database.CareRequest, error)
	GetGroupMember(ctx context.Context, groupID, userID uuid.UUID) (database.GroupMember, error)
	GetChildByID(ctx context.Context, id uuid.UUID) (database.Child, error)
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

type CreateRequestParams struct {
	GroupID   uuid.UUID `validate:"required"`
	ChildID   uuid.UUID `validate:"required"`
	Date      time.Time `validate:"required"`
	StartTime string    `validate:"required,clock"`
	EndTime   string    `validate:"required,clock"`
	Type      database.RequestType
	Notes     util.Optional[string]

	EventTitle       util.Optional[string]
	EventDescription util.Optional[string]
	EventLocation    util.Optional[string]
	RSVPDeadline     util.Optional[time.Time]

	ReciprocalChildID   util.Optional[uuid.UUID]
	ReciprocalDate      util.Optional[time.Time]
	ReciprocalStartTime util.Optional[string]
	ReciprocalEndTime   util.Optional[string]
}

// CreateRequest posts a care request into a group and tells the other
// members about it.
func (m *Manager) CreateRequest(ctx context.Context, actorID uuid.UUID, params CreateRequestParams) (database.CareRequest, error) {
	var request database.CareRequest

	if err := m.requireActiveMember(ctx, params.GroupID, actorID); err != nil {
		return request, err
	}
	if err := validateWindow(params.StartTime, params.EndTime); err != nil {
		return request, err
	}
	if params.Type == "" {
		params.Type = database.RequestTypeSimple
	}

	child, err := m.store.GetChildByID(ctx, params.ChildID)
	if errors.Is(err, database.ErrChildNotFound) {
		return request, fault.Wrap(fault.KindNotFound, "child not found", err)
	}
	if err != nil {
		return request, err
	}
	if child.ParentID != actorID {
		return request, fault.New(fault.KindAuthorization, "child belongs to another parent")
	}

	if params.Type == database.RequestTypeEvent && !params.EventTitle.IsSet {
		return request, fault.New(fault.KindValidation, "event requests need a title")
	}
	if params.Type == database.RequestTypeReciprocal {
		if !params.ReciprocalDate.IsSet {
			return request, fault.New(fault.KindValidation, "reciprocal requests need a return date")
		}
		if params.ReciprocalStartTime.IsSet {
			if err := validateWindow(params.ReciprocalStartTime.Val, params.ReciprocalEndTime.UnwrapOr("")); err != nil {
				return request, err
			}
		}
	}

	request, err = m.store.CreateCareRequest(ctx, database.CreateCareRequestParams{
		GroupID:             params.GroupID,
		RequesterID:         actorID,
		ChildID:             params.ChildID,
		Date:                params.Date,
		StartTime:           params.StartTime,
		EndTime:             params.EndTime,
		Type:                params.Type,
		Notes:               params.Notes,
		EventTitle:          params.EventTitle,
		EventDescription:    params.EventDescription,
		EventLocation:       params.EventLocation,
		RSVPDeadline:        params.RSVPDeadline,
		ReciprocalChildID:   params.ReciprocalChildID,
		ReciprocalDate:      params.ReciprocalDate,
		ReciprocalStartTime: params.ReciprocalStartTime,
		ReciprocalEndTime:   params.ReciprocalEndTime,
	})
	if err != nil {
		return request, err
	}

	actor, err := m.store.GetUserByID(ctx, actorID)
	if err != nil {
		return request, err
	}

	title := "New care request"
	message := fmt.Sprintf("%s needs care for %s on %s from %s to %s",
		actor.Name, child.Name, request.Date.Format("Mon Jan 2"), request.StartTime, request.EndTime)
	if request.Type == database.RequestTypeEvent {
		title = "New event"
		message = fmt.Sprintf("%s invites the group to %s on %s", actor.Name, request.EventTitle.UnwrapOr("an event"), request.Date.Format("Mon Jan 2"))
	}

	if err := m.notifier.Fanout(ctx, notify.Event{
		EventID: notify.EventID(request.ID, notify.TypeCareRequestCreated),
		GroupID: request.GroupID,
		ActorID: actorID,
		Type:    notify.TypeCareRequestCreated,
		Title:   title,
		Message: message,
	}); err != nil {
		m.logger.Warn("request fan-out failed",
			slog.String("request_id", request.ID.String()),
			slog.String("error", err.Error()))
	}

	m.logger.Info("care request created",
		slog.String("request_id", request.ID.String()),
		slog.String("group_id", request.GroupID.String()),
		slog.String("type", string(request.Type)))
	return request, nil
}

// ListOpenRequests shows a member the open requests of a group posted
// by others.
func (m *Manager) ListOpenRequests(ctx context.Context, actorID, groupID uuid.UUID) ([]database.CareRequest, error) {
	if err := m.requireActiveMember(ctx, groupID, actorID); err != nil {
		return nil, err
	}
	return m.store.ListCareRequests(ctx, database.ListCareRequestsParams{
		GroupID:          util.Some(groupID),
		ExcludeRequester: util.Some(actorID),
		OpenOnly:         true,
	})
}

// ListMyRequests returns the actor's own requests across groups.
func (m *Manager) ListMyRequests(ctx context.Context, actorID uuid.UUID) ([]database.CareRequest, error) {
	return m.store.ListCareRequests(ctx, database.ListCareRequestsParams{
		RequesterID: util.Some(actorID),
	})
}

type RequestDetail struct {
	Request   database.CareRequest   `json:"request"`
	Responses []database.CareResponse `json:"responses"`
}

// GetRequest returns a request with its responses. Responders other
// than the requester see the response list too, in creation order.
func (m *Manager) GetRequest(ctx context.Context, actorID, requestID uuid.UUID) (RequestDetail, error) {
	var detail RequestDetail

	request, err := m.store.GetCareRequestByID(ctx, requestID)
	if errors.Is(err, database.ErrCareRequestNotFound) {
		return detail, fault.Wrap(fault.KindNotFound, "care request not found", err)
	}
	if err != nil {
		return detail, err
	}
	if err := m.requireActiveMember(ctx, request.GroupID, actorID); err != nil {
		return detail, err
	}

	responses, err := m.store.ListCareResponses(ctx, requestID)
	if err != nil {
		return detail, err
	}
	detail.Request = request
	detail.Responses = responses
	return detail, nil
}

type RespondParams struct {
	Type  database.ResponseType
	Notes util.Optional[string]

	ReciprocalChildID   util.Optional[uuid.UUID]
	ReciprocalDate      util.Optional[time.Time]
	ReciprocalStartTime util.Optional[string]
	ReciprocalEndTime   util.Optional[string]
}

// Respond offers (or declines) to cover a request. Requesters cannot
// respond to themselves and each member gets one response per
// request.
func (m *Manager) Respond(ctx context.Context, actorID, requestID uuid.UUID, params RespondParams) (database.CareResponse, error) {
	var response database.CareResponse

	request, err := m.store.GetCareRequestByID(ctx, requestID)
	if errors.Is(err, database.ErrCareRequestNotFound) {
		return response, fault.Wrap(fault.KindNotFound, "care request not found", err)
	}
	if err != nil {
		return response, err
	}
	if err := m.requireActiveMember(ctx, request.GroupID, actorID); err != nil {
		return response, err
	}
	if request.RequesterID == actorID {
		return response, fault.New(fault.KindAuthorization, "cannot respond to your own request")
	}
	if params.Type == "" {
		params.Type = database.ResponseTypeAccept
	}
	if params.ReciprocalStartTime.IsSet {
		if err := validateWindow(params.ReciprocalStartTime.Val, params.ReciprocalEndTime.UnwrapOr("")); err != nil {
			return response, err
		}
	}

	response, err = m.store.CreateCareResponse(ctx, database.CreateCareResponseParams{
		RequestID:           requestID,
		ResponderID:         actorID,
		Type:                params.Type,
		Notes:               params.Notes,
		ReciprocalChildID:   params.ReciprocalChildID,
		ReciprocalDate:      params.ReciprocalDate,
		ReciprocalStartTime: params.ReciprocalStartTime,
		ReciprocalEndTime:   params.ReciprocalEndTime,
	})
	if errors.Is(err, database.ErrRequestNotOpen) {
		return response, fault.Wrap(fault.KindConflict, "care request is no longer open", err)
	}
	if errors.Is(err, database.ErrDuplicateResponse) {
		return response, fault.Wrap(fault.KindConflict, "you already responded to this request", err)
	}
	if err != nil {
		return response, err
	}

	actor, err := m.store.GetUserByID(ctx, actorID)
	if err != nil {
		return response, err
	}
	verb := "offered to help with"
	if response.Type == database.ResponseTypeDecline {
		verb = "declined"
	}
	if err := m.notifier.Notify(ctx, notify.Direct{
		EventID:     notify.EventID(response.ID, notify.TypeCareResponseReceived),
		RecipientID: request.RequesterID,
		SenderID:    actorID,
		GroupID:     util.Some(request.GroupID),
		Type:        notify.TypeCareResponseReceived,
		Title:       "New response",
		Message:     fmt.Sprintf("%s %s your care request", actor.Name, verb),
	}); err != nil {
		m.logger.Warn("response notification failed",
			slog.String("response_id", response.ID.String()),
			slog.String("error", err.Error()))
	}

	m.logger.Info("care response created",
		slog.String("request_id", requestID.String()),
		slog.String("response_id", response.ID.String()))
	return response, nil
}

// AcceptResponse settles a request. Only the requester may accept,
// and only one response can ever win; the scheduled-care block(s) come
// back with the result.
func (m *Manager) AcceptResponse(ctx context.Context, actorID, requestID, responseID uuid.UUID) (database.AcceptCareResponseResult, error) {
	var result database.AcceptCareResponseResult

	request, err := m.store.GetCareRequestByID(ctx, requestID)
	if errors.Is(err, database.ErrCareRequestNotFound) {
		return result, fault.Wrap(fault.KindNotFound, "care request not found", err)
	}
	if err != nil {
		return result, err
	}
	if request.RequesterID != actorID {
		return result, fault.New(fault.KindAuthorization, "only the requester can accept a response")
	}

	result, err = m.store.AcceptCareResponse(ctx, database.AcceptCareResponseParams{
		RequestID:  requestID,
		ResponseID: responseID,
	})
	switch {
	case errors.Is(err, database.ErrCareResponseNotFound):
		return result, fault.Wrap(fault.KindNotFound, "care response not found", err)
	case errors.Is(err, database.ErrResponseAlreadyAcceptedRace):
		return result, fault.Wrap(fault.KindConflict, "another response was already accepted", err)
	case errors.Is(err, database.ErrResponseNotPending):
		return result, fault.Wrap(fault.KindConflict, "response is no longer pending", err)
	case errors.Is(err, database.ErrRequestAlreadyClosed):
		return result, fault.Wrap(fault.KindConflict, "care request already closed", err)
	case err != nil:
		return result, err
	}
	if result.Replayed {
		return result, nil
	}

	actor, err := m.store.GetUserByID(ctx, actorID)
	if err != nil {
		return result, err
	}

	if err := m.notifier.Notify(ctx, notify.Direct{
		EventID:     notify.EventID(result.Response.ID, notify.TypeResponseAccepted),
		RecipientID: result.Response.ResponderID,
		SenderID:    actorID,
		GroupID:     util.Some(request.GroupID),
		Type:        notify.TypeResponseAccepted,
		Title:       "Response accepted",
		Message:     fmt.Sprintf("%s accepted your offer for %s", actor.Name, request.Date.Format("Mon Jan 2")),
	}); err != nil {
		m.logger.Warn("accept notification failed",
			slog.String("response_id", result.Response.ID.String()),
			slog.String("error", err.Error()))
	}

	// The rest of the group hears the request was settled. The winner
	// is excluded; they already got the acceptance directly.
	if err := m.notifier.Fanout(ctx, notify.Event{
		EventID: notify.EventID(request.ID, notify.TypeRequestFulfilled),
		GroupID: request.GroupID,
		ActorID: actorID,
		Type:    notify.TypeRequestFulfilled,
		Title:   "Care arranged",
		Message: fmt.Sprintf("%s's care request for %s has been arranged", actor.Name, request.Date.Format("Mon Jan 2")),
		Exclude: []uuid.UUID{result.Response.ResponderID},
	}); err != nil {
		m.logger.Warn("fulfilled fan-out failed",
			slog.String("request_id", request.ID.String()),
			slog.String("error", err.Error()))
	}

	// Tell everyone else their offer lost.
	responses, err := m.store.ListCareResponses(ctx, requestID)
	if err != nil {
		m.logger.Warn("sibling lookup failed", slog.String("request_id", requestID.String()), slog.String("error", err.Error()))
		return result, nil
	}
	for _, sibling := range responses {
		if sibling.ID == result.Response.ID || sibling.Type == database.ResponseTypeDecline {
			continue
		}
		if err := m.notifier.Notify(ctx, notify.Direct{
			EventID:     notify.EventID(sibling.ID, notify.TypeResponseDeclined),
			RecipientID: sibling.ResponderID,
			SenderID:    actorID,
			GroupID:     util.Some(request.GroupID),
			Type:        notify.TypeResponseDeclined,
			Title:       "Request filled",
			Message:     fmt.Sprintf("%s's care request for %s has been filled", actor.Name, request.Date.Format("Mon Jan 2")),
		}); err != nil {
			m.logger.Warn("sibling notification failed",
				slog.String("response_id", sibling.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	m.logger.Info("care response accepted",
		slog.String("request_id", requestID.String()),
		slog.String("response_id", responseID.String()),
		slog.Int("blocks", len(result.Blocks)))
	return result, nil
}

// DeclineResponse turns one offer down; the request stays open.
func (m *Manager) DeclineResponse(ctx context.Context, actorID, requestID, responseID uuid.UUID) (database.CareResponse, error) {
	var response database.CareResponse

	request, err := m.store.GetCareRequestByID(ctx, requestID)
	if errors.Is(err, database.ErrCareRequestNotFound) {
		return response, fault.Wrap(fault.KindNotFound, "care request not found", err)
	}
	if err != nil {
		return response, err
	}
	if request.RequesterID != actorID {
		return response, fault.New(fault.KindAuthorization, "only the requester can decline a response")
	}

	response, err = m.store.DeclineCareResponse(ctx, requestID, responseID)
	if errors.Is(err, database.ErrResponseNotPending) {
		return response, fault.Wrap(fault.KindConflict, "response is no longer pending", err)
	}
	if err != nil {
		return response, err
	}

	actor, err := m.store.GetUserByID(ctx, actorID)
	if err != nil {
		return response, err
	}
	if err := m.notifier.Notify(ctx, notify.Direct{
		EventID:     notify.EventID(response.ID, notify.TypeResponseDeclined),
		RecipientID: response.ResponderID,
		SenderID:    actorID,
		GroupID:     util.Some(request.GroupID),
		Type:        notify.TypeResponseDeclined,
		Title:       "Response declined",
		Message:     fmt.Sprintf("%s declined your offer for %s", actor.Name, request.Date.Format("Mon Jan 2")),
	}); err != nil {
		m.logger.Warn("decline notification failed",
			slog.String("response_id", response.ID.String()),
			slog.String("error", err.Error()))
	}
	return response, nil
}

// CancelRequest withdraws an open request. Everyone who had a pending
// offer hears about it; a request already settled cannot be
// cancelled.
func (m *Manager) CancelRequest(ctx context.Context, actorID, requestID uuid.UUID) (database.CareRequest, error) {
	var request database.CareRequest

	request, err := m.store.GetCareRequestByID(ctx, requestID)
	if errors.Is(err, database.ErrCareRequestNotFound) {
		return request, fault.Wrap(fault.KindNotFound, "care request not found", err)
	}
	if err != nil {
		return request, err
	}
	if request.RequesterID != actorID {
		return request, fault.New(fault.KindAuthorization, "only the requester can cancel a request")
	}

	responses, err := m.store.ListCareResponses(ctx, requestID)
	if err != nil {
		return request, err
	}

	request, err = m.store.CancelCareRequest(ctx, requestID)
	if errors.Is(err, database.ErrRequestAlreadyClosed) {
		return request, fault.Wrap(fault.KindConflict, "care request already settled", err)
	}
	if err != nil {
		return request, err
	}

	actor, err := m.store.GetUserByID(ctx, actorID)
	if err != nil {
		return request, err
	}
	for _, response := range responses {
		if response.Status != database.ResponseStatusPending {
			continue
		}
		if err := m.notifier.Notify(ctx, notify.Direct{
			EventID:     notify.EventID(response.ID, notify.TypeRequestCancelled),
			RecipientID: response.ResponderID,
			SenderID:    actorID,
			GroupID:     util.Some(request.GroupID),
			Type:        notify.TypeRequestCancelled,
			Title:       "Request cancelled",
			Message:     fmt.Sprintf("%s cancelled the care request for %s", actor.Name, request.Date.Format("Mon Jan 2")),
		}); err != nil {
			m.logger.Warn("cancel notification failed",
				slog.String("response_id", response.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	m.logger.Info("care request cancelled", slog.String("request_id", requestID.String()))
	return request, nil
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

// validateWindow requires start before end. Clock strings are zero
// padded HH:MM so string order matches time order.
func validateWindow(start, end string) error {
	if start == "" || end == "" {
		return fault.New(fault.KindValidation, "start and end times are required")
	}
	if start >= end {
		return fault.New(fault.KindValidation, "start time must be before end time")
	}
	return nil
}
