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

const notificationColumns = `id, event_id, recipient_id, sender_id, group_id, notification_type, title, message, is_read, created_at`

func scanNotification(row pgx.Row) (Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.EventID, &n.RecipientID, &n.SenderID, &n.GroupID, &n.Type, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt)
	return n, err
}

type CreateNotificationParams struct {
	EventID     uuid.UUID
	RecipientID uuid.UUID
	SenderID    uuid.UUID
	GroupID     util.Optional[uuid.UUID]
	Type        string
	Title       string
	Message     string
}

// CreateNotifications writes one row per recipient for a single
// domain event. A recipient already notified for the event is skipped,
// so replaying a fan-out never produces duplicates. The rows actually
// inserted are returned.
func (db *Database) CreateNotifications(ctx context.Context, params []CreateNotificationParams) ([]Notification, error) {
	var created []Notification
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		for _, p := range params {
			n := Notification{
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
			tag, err := tx.Exec(ctx, `INSERT INTO tbl_notification (`+notificationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (event_id, recipient_id) DO NOTHING`,
				n.ID, n.EventID, n.RecipientID, n.SenderID, n.GroupID, n.Type, n.Title, n.Message, n.IsRead, n.CreatedAt)
			if err != nil {
				return fmt.Errorf("database: failed to insert notification (event_id=%s): %w", p.EventID, err)
			}
			if tag.RowsAffected() > 0 {
				created = append(created, n)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

type ListNotificationsParams struct {
	RecipientID uuid.UUID
	UnreadOnly  bool
	Limit       util.Optional[int]
}

// ListNotifications returns a member's notifications, newest first.
func (db *Database) ListNotifications(ctx context.Context, params ListNotificationsParams) ([]Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM tbl_notification WHERE recipient_id = $1`
	args := []any{params.RecipientID}

	if params.UnreadOnly {
		query += " AND is_read = false"
	}
	query += " ORDER BY created_at DESC"
	if params.Limit.IsSet {
		args = append(args, params.Limit.Val)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("database: failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate notifications: %w", err)
	}
	return notifications, nil
}

func (db *Database) CountUnreadNotifications(ctx context.Context, recipientID uuid.UUID) (int, error) {
	var count int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM tbl_notification WHERE recipient_id = $1 AND is_read = false`, recipientID).Scan(&count); err != nil {
		return 0, fmt.Errorf("database: failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkNotificationRead is scoped to the recipient so one member cannot
// mark another's notifications.
func (db *Database) MarkNotificationRead(ctx context.Context, id, recipientID uuid.UUID) (Notification, error) {
	n, err := scanNotification(db.Pool.QueryRow(ctx, `UPDATE tbl_notification SET is_read = true
		WHERE id = $1 AND recipient_id = $2
		RETURNING `+notificationColumns, id, recipientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return n, ErrNotificationNotFound
	}
	if err != nil {
		return n, fmt.Errorf("database: failed to mark notification read (id=%s): %w", id, err)
	}
	return n, nil
}

func (db *Database) MarkAllNotificationsRead(ctx context.Context, recipientID uuid.UUID) (int, error) {
	tag, err := db.Pool.Exec(ctx, `UPDATE tbl_notification SET is_read = true WHERE recipient_id = $1 AND is_read = false`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("database: failed to mark notifications read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
