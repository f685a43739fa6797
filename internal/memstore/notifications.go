package memstore

import (
	"context"
	"sort"
	"time"

	"carepool/internal/database"

	"github.com/google/uuid"
)

func (s *Store) CreateNotifications(_ context.Context, params []database.CreateNotificationParams) ([]database.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var created []database.Notification
	for _, p := range params {
		duplicate := false
		for _, existing := range s.notifs {
			if existing.EventID == p.EventID && existing.RecipientID == p.RecipientID {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}

		n := database.Notification{
			ID:          uuid.New(),
			EventID:     p.EventID,
			RecipientID: p.RecipientID,
			SenderID:    p.SenderID,
			GroupID:     p.GroupID,
			Type:        p.Type,
			Title:       p.Title,
			Message:     p.Message,
			CreatedAt:   time.Now().UTC(),
		}
		s.notifs[n.ID] = n
		s.notifOrder = append(s.notifOrder, n.ID)
		created = append(created, n)
	}
	return created, nil
}

func (s *Store) ListNotifications(_ context.Context, params database.ListNotificationsParams) ([]database.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var notifications []database.Notification
	for _, id := range s.notifOrder {
		n := s.notifs[id]
		if n.RecipientID != params.RecipientID {
			continue
		}
		if params.UnreadOnly && n.IsRead {
			continue
		}
		notifications = append(notifications, n)
	}
	sort.SliceStable(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	if params.Limit.IsSet && len(notifications) > params.Limit.Val {
		notifications = notifications[:params.Limit.Val]
	}
	return notifications, nil
}

func (s *Store) CountUnreadNotifications(_ context.Context, recipientID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, n := range s.notifs {
		if n.RecipientID == recipientID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id, recipientID uuid.UUID) (database.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifs[id]
	if !ok || n.RecipientID != recipientID {
		return database.Notification{}, database.ErrNotificationNotFound
	}
	n.IsRead = true
	s.notifs[id] = n
	return n, nil
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, recipientID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, n := range s.notifs {
		if n.RecipientID == recipientID && !n.IsRead {
			n.IsRead = true
			s.notifs[id] = n
			count++
		}
	}
	return count, nil
}
