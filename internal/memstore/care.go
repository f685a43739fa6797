package memstore

import (
	"context"
	"sort"
	"time"

	"carepool/internal/database"
	"carepool/internal/util"

	"github.com/google/uuid"
)

func (s *Store) CreateCareRequest(_ context.Context, params database.CreateCareRequestParams) (database.CareRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request := database.CareRequest{
		ID:                  uuid.New(),
		GroupID:             params.GroupID,
		RequesterID:         params.RequesterID,
		ChildID:             params.ChildID,
		Date:                params.Date,
		StartTime:           params.StartTime,
		EndTime:             params.EndTime,
		Type:                params.Type,
		Status:              database.RequestStatusPending,
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
	s.requests[request.ID] = request
	s.requestOrder = append(s.requestOrder, request.ID)
	return request, nil
}

func (s *Store) GetCareRequestByID(_ context.Context, id uuid.UUID) (database.CareRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.requests[id]
	if !ok {
		return request, database.ErrCareRequestNotFound
	}
	return request, nil
}

func (s *Store) ListCareRequests(_ context.Context, params database.ListCareRequestsParams) ([]database.CareRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var requests []database.CareRequest
	for _, id := range s.requestOrder {
		request := s.requests[id]
		if params.GroupID.IsSet && request.GroupID != params.GroupID.Val {
			continue
		}
		if params.RequesterID.IsSet && request.RequesterID != params.RequesterID.Val {
			continue
		}
		if params.ExcludeRequester.IsSet && request.RequesterID == params.ExcludeRequester.Val {
			continue
		}
		if params.OpenOnly && !requestOpen(request.Status) {
			continue
		}
		requests = append(requests, request)
	}
	return requests, nil
}

func (s *Store) CreateCareResponse(_ context.Context, params database.CreateCareResponseParams) (database.CareResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.requests[params.RequestID]
	if !ok {
		return database.CareResponse{}, database.ErrCareRequestNotFound
	}
	if !requestOpen(request.Status) {
		return database.CareResponse{}, database.ErrRequestNotOpen
	}
	for _, existing := range s.responses {
		if existing.RequestID == params.RequestID && existing.ResponderID == params.ResponderID {
			return database.CareResponse{}, database.ErrDuplicateResponse
		}
	}

	response := database.CareResponse{
		ID:                  uuid.New(),
		RequestID:           params.RequestID,
		ResponderID:         params.ResponderID,
		Type:                params.Type,
		Status:              database.ResponseStatusPending,
		Notes:               params.Notes,
		ReciprocalChildID:   params.ReciprocalChildID,
		ReciprocalDate:      params.ReciprocalDate,
		ReciprocalStartTime: params.ReciprocalStartTime,
		ReciprocalEndTime:   params.ReciprocalEndTime,
		CreatedAt:           time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}
	s.responses[response.ID] = response
	s.responseOrder = append(s.responseOrder, response.ID)

	if request.Status == database.RequestStatusPending {
		request.Status = database.RequestStatusActive
		request.UpdatedAt = time.Now().UTC()
		s.requests[request.ID] = request
	}
	return response, nil
}

func (s *Store) GetCareResponseByID(_ context.Context, id uuid.UUID) (database.CareResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	response, ok := s.responses[id]
	if !ok {
		return response, database.ErrCareResponseNotFound
	}
	return response, nil
}

func (s *Store) ListCareResponses(_ context.Context, requestID uuid.UUID) ([]database.CareResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var responses []database.CareResponse
	for _, id := range s.responseOrder {
		response := s.responses[id]
		if response.RequestID == requestID {
			responses = append(responses, response)
		}
	}
	return responses, nil
}

func (s *Store) ListResponsesByResponder(_ context.Context, responderID uuid.UUID) ([]database.CareResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var responses []database.CareResponse
	for _, id := range s.responseOrder {
		response := s.responses[id]
		if response.ResponderID == responderID {
			responses = append(responses, response)
		}
	}
	sort.Slice(responses, func(i, j int) bool { return responses[i].CreatedAt.After(responses[j].CreatedAt) })
	return responses, nil
}

func (s *Store) AcceptCareResponse(_ context.Context, params database.AcceptCareResponseParams) (database.AcceptCareResponseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result database.AcceptCareResponseResult

	response, ok := s.responses[params.ResponseID]
	if !ok || response.RequestID != params.RequestID {
		return result, database.ErrCareResponseNotFound
	}
	request, ok := s.requests[params.RequestID]
	if !ok {
		return result, database.ErrCareRequestNotFound
	}

	if response.Status != database.ResponseStatusPending {
		if response.Status == database.ResponseStatusAccepted {
			result.Request = request
			result.Response = response
			result.Blocks = s.blocksByRequest(params.RequestID)
			result.Replayed = true
			return result, nil
		}
		if request.Status == database.RequestStatusClosed {
			return result, database.ErrResponseAlreadyAcceptedRace
		}
		return result, database.ErrResponseNotPending
	}
	if !requestOpen(request.Status) {
		return result, database.ErrRequestAlreadyClosed
	}

	response.Status = database.ResponseStatusAccepted
	response.UpdatedAt = time.Now().UTC()
	s.responses[response.ID] = response

	request.Status = database.RequestStatusClosed
	request.UpdatedAt = time.Now().UTC()
	s.requests[request.ID] = request

	for id, sibling := range s.responses {
		if sibling.RequestID == params.RequestID && sibling.ID != response.ID && sibling.Status == database.ResponseStatusPending {
			sibling.Status = database.ResponseStatusDeclined
			sibling.UpdatedAt = time.Now().UTC()
			s.responses[id] = sibling
		}
	}

	careType := database.CareTypeProvided
	if request.Type == database.RequestTypeEvent {
		careType = database.CareTypeEvent
	}
	provided := s.insertBlock(database.ScheduledCare{
		ID:               uuid.New(),
		GroupID:          request.GroupID,
		ParentID:         response.ResponderID,
		ChildID:          request.ChildID,
		Date:             request.Date,
		StartTime:        request.StartTime,
		EndTime:          request.EndTime,
		Type:             careType,
		Status:           database.BlockStatusConfirmed,
		RelatedRequestID: util.Some(request.ID),
	})
	result.Blocks = append(result.Blocks, provided)

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
	if request.Type == database.RequestTypeReciprocal && reciprocalDate.IsSet && reciprocalChild.IsSet {
		returned := s.insertBlock(database.ScheduledCare{
			ID:               uuid.New(),
			GroupID:          request.GroupID,
			ParentID:         request.RequesterID,
			ChildID:          reciprocalChild.Val,
			Date:             reciprocalDate.Val,
			StartTime:        reciprocalStart.UnwrapOr(request.StartTime),
			EndTime:          reciprocalEnd.UnwrapOr(request.EndTime),
			Type:             database.CareTypeProvided,
			Status:           database.BlockStatusConfirmed,
			RelatedRequestID: util.Some(request.ID),
		})
		result.Blocks = append(result.Blocks, returned)
	}

	result.Request = request
	result.Response = response
	return result, nil
}

func (s *Store) DeclineCareResponse(_ context.Context, requestID, responseID uuid.UUID) (database.CareResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	response, ok := s.responses[responseID]
	if !ok || response.RequestID != requestID || response.Status != database.ResponseStatusPending {
		return database.CareResponse{}, database.ErrResponseNotPending
	}
	response.Status = database.ResponseStatusDeclined
	response.UpdatedAt = time.Now().UTC()
	s.responses[responseID] = response
	return response, nil
}

func (s *Store) CancelCareRequest(_ context.Context, requestID uuid.UUID) (database.CareRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.requests[requestID]
	if !ok {
		return request, database.ErrCareRequestNotFound
	}
	switch request.Status {
	case database.RequestStatusCancelled:
		return request, nil
	case database.RequestStatusClosed:
		return request, database.ErrRequestAlreadyClosed
	}
	request.Status = database.RequestStatusCancelled
	request.UpdatedAt = time.Now().UTC()
	s.requests[requestID] = request
	return request, nil
}

func requestOpen(status database.RequestStatus) bool {
	return status == database.RequestStatusPending || status == database.RequestStatusActive
}

func (s *Store) blocksByRequest(requestID uuid.UUID) []database.ScheduledCare {
	var blocks []database.ScheduledCare
	for _, id := range s.blockOrder {
		block := s.blocks[id]
		if block.RelatedRequestID.IsSet && block.RelatedRequestID.Val == requestID {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

func (s *Store) insertBlock(block database.ScheduledCare) database.ScheduledCare {
	block.CreatedAt = time.Now().UTC()
	block.UpdatedAt = block.CreatedAt
	s.blocks[block.ID] = block
	s.blockOrder = append(s.blockOrder, block.ID)
	return block
}
