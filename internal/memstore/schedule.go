package memstore

import (
	"context"
	"sort"
	"time"

	"carepool/internal/database"
	"carepool/internal/util"

	"github.com/google/uuid"
)

func (s *Store) CreateScheduledCare(_ context.Context, params database.CreateScheduledCareParams) (database.ScheduledCare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block := s.insertBlock(database.ScheduledCare{
		ID:               uuid.New(),
		GroupID:          params.GroupID,
		ParentID:         params.ParentID,
		ChildID:          params.ChildID,
		Date:             params.Date,
		StartTime:        params.StartTime,
		EndTime:          params.EndTime,
		Type:             params.Type,
		Status:           database.BlockStatusConfirmed,
		RelatedRequestID: params.RelatedRequestID,
	})
	return block, nil
}

func (s *Store) GetScheduledCareByID(_ context.Context, id uuid.UUID) (database.ScheduledCare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, ok := s.blocks[id]
	if !ok {
		return block, database.ErrScheduledCareNotFound
	}
	return block, nil
}

func (s *Store) ListScheduledCare(_ context.Context, params database.ListScheduledCareParams) ([]database.ScheduledCare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var blocks []database.ScheduledCare
	for _, id := range s.blockOrder {
		block := s.blocks[id]
		if block.Status != database.BlockStatusConfirmed {
			continue
		}
		if params.GroupID.IsSet && block.GroupID != params.GroupID.Val {
			continue
		}
		if params.ParentID.IsSet && block.ParentID != params.ParentID.Val {
			continue
		}
		if params.From.IsSet && block.Date.Before(params.From.Val) {
			continue
		}
		blocks = append(blocks, block)
	}
	sort.Slice(blocks, func(i, j int) bool {
		if !blocks[i].Date.Equal(blocks[j].Date) {
			return blocks[i].Date.Before(blocks[j].Date)
		}
		return blocks[i].StartTime < blocks[j].StartTime
	})
	return blocks, nil
}

func (s *Store) ArrangementsBetween(_ context.Context, groupID, parentA, parentB uuid.UUID, from time.Time) ([]database.ScheduledCare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var blocks []database.ScheduledCare
	for _, id := range s.blockOrder {
		block := s.blocks[id]
		if block.GroupID != groupID || block.Status != database.BlockStatusConfirmed || block.Date.Before(from) {
			continue
		}
		child, ok := s.children[block.ChildID]
		if !ok {
			continue
		}
		forward := block.ParentID == parentA && child.ParentID == parentB
		reverse := block.ParentID == parentB && child.ParentID == parentA
		if forward || reverse {
			blocks = append(blocks, block)
		}
	}
	return blocks, nil
}

func (s *Store) CancelScheduledCare(_ context.Context, id uuid.UUID) (database.ScheduledCare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, ok := s.blocks[id]
	if !ok {
		return block, database.ErrScheduledCareNotFound
	}
	if block.Status == database.BlockStatusConfirmed {
		block.Status = database.BlockStatusCancelled
		block.UpdatedAt = time.Now().UTC()
		s.blocks[id] = block
	}
	return block, nil
}

func (s *Store) AddBlockChild(_ context.Context, blockID, childID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addBlockChild(blockID, childID)
	return nil
}

func (s *Store) addBlockChild(blockID, childID uuid.UUID) {
	for _, existing := range s.blockKids[blockID] {
		if existing == childID {
			return
		}
	}
	s.blockKids[blockID] = append(s.blockKids[blockID], childID)
}

func (s *Store) ListBlockChildren(_ context.Context, blockID uuid.UUID) ([]database.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var children []database.Child
	for _, childID := range s.blockKids[blockID] {
		if child, ok := s.children[childID]; ok {
			children = append(children, child)
		}
	}
	return children, nil
}

func (s *Store) CreateRescheduleRequest(_ context.Context, params database.CreateRescheduleParams) (database.RescheduleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertReschedule(params)
}

func (s *Store) insertReschedule(params database.CreateRescheduleParams) (database.RescheduleRequest, error) {
	var reschedule database.RescheduleRequest

	block, ok := s.blocks[params.BlockID]
	if !ok {
		return reschedule, database.ErrScheduledCareNotFound
	}
	if block.Status != database.BlockStatusConfirmed {
		return reschedule, database.ErrBlockNotReschedulable
	}
	for _, existing := range s.resched {
		if existing.BlockID == params.BlockID && existing.Status == database.RescheduleStatusPending {
			return reschedule, database.ErrBlockNotReschedulable
		}
	}

	reschedule = database.RescheduleRequest{
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
		Status:         database.RescheduleStatusPending,
		HopCount:       params.HopCount,
		CancelTargetID: params.CancelTargetID,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	s.resched[reschedule.ID] = reschedule
	s.reschedOrder = append(s.reschedOrder, reschedule.ID)
	return reschedule, nil
}

func (s *Store) GetRescheduleByID(_ context.Context, id uuid.UUID) (database.RescheduleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reschedule, ok := s.resched[id]
	if !ok {
		return reschedule, database.ErrRescheduleNotFound
	}
	return reschedule, nil
}

func (s *Store) ListReschedulesForUser(_ context.Context, userID uuid.UUID) ([]database.RescheduleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reschedules []database.RescheduleRequest
	for _, id := range s.reschedOrder {
		reschedule := s.resched[id]
		if reschedule.Status != database.RescheduleStatusPending {
			continue
		}
		if reschedule.RequesterID == userID || reschedule.CounterpartID == userID {
			reschedules = append(reschedules, reschedule)
		}
	}
	return reschedules, nil
}

func (s *Store) AcceptReschedule(_ context.Context, id uuid.UUID) (database.AcceptRescheduleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result database.AcceptRescheduleResult

	reschedule, ok := s.resched[id]
	if !ok || reschedule.Status != database.RescheduleStatusPending {
		return result, database.ErrRescheduleNotPending
	}
	block, ok := s.blocks[reschedule.BlockID]
	if !ok || block.Status != database.BlockStatusConfirmed {
		return result, database.ErrBlockNotReschedulable
	}

	reschedule.Status = database.RescheduleStatusAccepted
	reschedule.UpdatedAt = time.Now().UTC()
	s.resched[id] = reschedule

	block.Date = reschedule.ToDate
	block.StartTime = reschedule.ToStart
	block.EndTime = reschedule.ToEnd
	block.UpdatedAt = time.Now().UTC()
	s.blocks[block.ID] = block

	result.Reschedule = reschedule
	result.Block = block
	return result, nil
}

func (s *Store) DeclineReschedule(_ context.Context, id uuid.UUID, cancelBlockID util.Optional[uuid.UUID]) (database.RescheduleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reschedule, ok := s.resched[id]
	if !ok || reschedule.Status != database.RescheduleStatusPending {
		return reschedule, database.ErrRescheduleNotPending
	}

	reschedule.Status = database.RescheduleStatusDeclined
	reschedule.UpdatedAt = time.Now().UTC()
	s.resched[id] = reschedule

	target := cancelBlockID.UnwrapOr(reschedule.CancelTargetID.UnwrapOr(reschedule.BlockID))
	if block, ok := s.blocks[target]; ok && block.Status == database.BlockStatusConfirmed {
		block.Status = database.BlockStatusCancelled
		block.UpdatedAt = time.Now().UTC()
		s.blocks[block.ID] = block
	}
	return reschedule, nil
}

func (s *Store) CounterProposeReschedule(_ context.Context, id uuid.UUID, params database.CreateRescheduleParams) (database.RescheduleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	declined, ok := s.resched[id]
	if !ok || declined.Status != database.RescheduleStatusPending {
		return database.RescheduleRequest{}, database.ErrRescheduleNotPending
	}

	declined.Status = database.RescheduleStatusDeclined
	declined.UpdatedAt = time.Now().UTC()
	s.resched[id] = declined

	params.HopCount = declined.HopCount + 1
	return s.insertReschedule(params)
}
