package memstore

import (
	"context"
	"time"

	"carepool/internal/database"
	"carepool/internal/util"

	"github.com/google/uuid"
)

func (s *Store) CreateOpenBlockInvitations(_ context.Context, params database.CreateOpenBlockInvitationsParams) ([]database.OpenBlockInvitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invitations := make([]database.OpenBlockInvitation, 0, len(params.Invitees))
	for _, invitee := range params.Invitees {
		inv := database.OpenBlockInvitation{
			ID:                  uuid.New(),
			ExistingBlockID:     params.ExistingBlockID,
			GroupID:             params.GroupID,
			InvitingParentID:    params.InvitingParentID,
			InvitedParentID:     invitee.InvitedParentID,
			ReciprocalDate:      invitee.ReciprocalDate,
			ReciprocalStartTime: invitee.ReciprocalStartTime,
			ReciprocalEndTime:   invitee.ReciprocalEndTime,
			Notes:               params.Notes,
			Status:              database.InvitationStatusPending,
			CreatedAt:           time.Now().UTC(),
			UpdatedAt:           time.Now().UTC(),
		}
		s.obInvites[inv.ID] = inv
		s.obOrder = append(s.obOrder, inv.ID)
		invitations = append(invitations, inv)
	}
	return invitations, nil
}

func (s *Store) GetInvitationByID(_ context.Context, id uuid.UUID) (database.OpenBlockInvitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.obInvites[id]
	if !ok {
		return inv, database.ErrInvitationNotFound
	}
	return inv, nil
}

func (s *Store) ListInvitationsForParent(_ context.Context, parentID uuid.UUID) ([]database.OpenBlockInvitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var invitations []database.OpenBlockInvitation
	for _, id := range s.obOrder {
		inv := s.obInvites[id]
		if inv.InvitedParentID == parentID && inv.Status == database.InvitationStatusPending {
			invitations = append(invitations, inv)
		}
	}
	return invitations, nil
}

func (s *Store) ListInvitationsForBlock(_ context.Context, blockID uuid.UUID) ([]database.OpenBlockInvitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var invitations []database.OpenBlockInvitation
	for _, id := range s.obOrder {
		inv := s.obInvites[id]
		if inv.ExistingBlockID == blockID {
			invitations = append(invitations, inv)
		}
	}
	return invitations, nil
}

func (s *Store) AcceptOpenBlockInvitation(_ context.Context, params database.AcceptInvitationParams) (database.AcceptInvitationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result database.AcceptInvitationResult

	inv, ok := s.obInvites[params.InvitationID]
	if !ok {
		return result, database.ErrInvitationNotFound
	}

	var offer database.CareRequest
	offerFound := false
	for _, id := range s.requestOrder {
		request := s.requests[id]
		if request.Type == database.RequestTypeOpenBlockSent && request.ExistingBlockID.IsSet && request.ExistingBlockID.Val == inv.ExistingBlockID {
			offer = request
			offerFound = true
			break
		}
	}
	if !offerFound {
		return result, database.ErrCareRequestNotFound
	}

	if inv.Status == database.InvitationStatusAccepted {
		if inv.AcceptedChildID.IsSet && inv.AcceptedChildID.Val != params.ChildID {
			return result, database.ErrAcceptedDifferentChild
		}
		result.Invitation = inv
		result.Request = offer
		result.Replayed = true
		for _, id := range s.blockOrder {
			block := s.blocks[id]
			if block.RelatedRequestID.IsSet && block.RelatedRequestID.Val == offer.ID && block.ParentID == inv.InvitedParentID {
				result.Reciprocal = block
				break
			}
		}
		return result, nil
	}

	if !requestOpen(offer.Status) || inv.Status != database.InvitationStatusPending {
		return result, database.ErrInvitationNotPending
	}

	inv.Status = database.InvitationStatusAccepted
	inv.AcceptedChildID = util.Some(params.ChildID)
	inv.UpdatedAt = time.Now().UTC()
	s.obInvites[inv.ID] = inv
	result.Invitation = inv

	offer.SlotsUsed++
	full := offer.Slots.IsSet && offer.SlotsUsed >= offer.Slots.Val
	if full {
		offer.Status = database.RequestStatusClosed
	} else {
		offer.Status = database.RequestStatusActive
	}
	offer.UpdatedAt = time.Now().UTC()
	s.requests[offer.ID] = offer
	result.Request = offer

	if full {
		for _, id := range s.obOrder {
			sibling := s.obInvites[id]
			if sibling.ExistingBlockID == inv.ExistingBlockID && sibling.Status == database.InvitationStatusPending {
				sibling.Status = database.InvitationStatusExpired
				sibling.UpdatedAt = time.Now().UTC()
				s.obInvites[id] = sibling
				result.Expired = append(result.Expired, sibling)
			}
		}
	}

	s.addBlockChild(inv.ExistingBlockID, params.ChildID)

	block := s.blocks[inv.ExistingBlockID]
	result.Reciprocal = s.insertBlock(database.ScheduledCare{
		ID:               uuid.New(),
		GroupID:          inv.GroupID,
		ParentID:         inv.InvitedParentID,
		ChildID:          block.ChildID,
		Date:             inv.ReciprocalDate,
		StartTime:        inv.ReciprocalStartTime,
		EndTime:          inv.ReciprocalEndTime,
		Type:             database.CareTypeProvided,
		Status:           database.BlockStatusConfirmed,
		RelatedRequestID: util.Some(offer.ID),
	})
	return result, nil
}

func (s *Store) DeclineOpenBlockInvitation(_ context.Context, id uuid.UUID) (database.OpenBlockInvitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.obInvites[id]
	if !ok || inv.Status != database.InvitationStatusPending {
		return inv, database.ErrInvitationNotPending
	}
	inv.Status = database.InvitationStatusDeclined
	inv.UpdatedAt = time.Now().UTC()
	s.obInvites[id] = inv
	return inv, nil
}
