// Package notify records in-app notifications and pushes them out to
// connected clients. Persistence is the source of truth; the realtime
// broadcast and mobile push legs are best effort and never fail the
// triggering operation.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"carepool/internal/database"
	"carepool/internal/util"

	"github.com/google/uuid"
)

const (
	TypeCareRequestCreated   = "care_request_created"
	TypeCareResponseReceived = "care_response_received"
	TypeResponseAccepted     = "care_response_accepted"
	TypeResponseDeclined     = "care_response_declined"
	TypeRequestCancelled     = "care_request_cancelled"
	TypeRequestFulfilled     = "care_request_fulfilled"
	TypeRescheduleRequested  = "reschedule_requested"
	TypeRescheduleAccepted   = "reschedule_accepted"
	TypeRescheduleDeclined   = "reschedule_declined"
	TypeArrangementCancelled = "arrangement_cancelled"
	TypeOpenBlockInvitation  = "open_block_invitation"
	TypeOpenBlockAccepted    = "open_block_accepted"
	TypeInvitationExpired    = "open_block_invitation_expired"
	TypeGroupInvite          = "group_invite"
	TypeInviteDeclined       = "group_invite_declined"
	TypeMemberJoined         = "group_member_joined"
)

// EventID derives a stable identifier for one transition of one
// entity, so retried fan-outs dedupe on (event, recipient) while
// different transitions of the same entity stay distinct.
func EventID(entityID uuid.UUID, eventType string) uuid.UUID {
	return uuid.NewSHA1(entityID, []byte(eventType))
}

type Store interface {
	CreateNotifications(ctx context.Context, params []database.CreateNotificationParams) ([]database.Notification, error)
	ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]database.GroupMember, error)
	GetGroupByID(ctx context.Context, id uuid.UUID) (database.Group, error)
	ListNotifications(ctx context.Context, params database.ListNotificationsParams) ([]database.Notification, error)
	CountUnreadNotifications(ctx context.Context, recipientID uuid.UUID) (int, error)
	MarkNotificationRead(ctx context.Context, id, recipientID uuid.UUID) (database.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, recipientID uuid.UUID) (int, error)
	ListDevices(ctx context.Context, userID uuid.UUID) ([]database.Device, error)
}

// Broadcaster pushes a notification onto a realtime channel.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// PushSender delivers a notification to a set of device tokens.
type PushSender interface {
	Send(ctx context.Context, tokens []string, title, message string, data map[string]string) error
}

type Notifier struct {
	logger      *slog.Logger
	store       Store
	broadcaster Broadcaster
	pushSender  PushSender
}

// NewNotifier wires the notifier. broadcaster and pushSender may be
// nil when the corresponding leg is disabled.
func NewNotifier(logger *slog.Logger, store Store, broadcaster Broadcaster, pushSender PushSender) *Notifier {
	return &Notifier{
		logger:      logger,
		store:       store,
		broadcaster: broadcaster,
		pushSender:  pushSender,
	}
}

// Event is a group-scoped fan-out: every active member of the group
// hears about it except the actor and anyone in Exclude.
type Event struct {
	EventID uuid.UUID
	GroupID uuid.UUID
	ActorID uuid.UUID
	Type    string
	Title   string
	Message string
	Exclude []uuid.UUID
}

// Fanout persists one notification per recipient and then pushes them
// out. Replaying the same event is harmless; only newly inserted rows
// are re-delivered.
func (n *Notifier) Fanout(ctx context.Context, event Event) error {
	members, err := n.store.ListGroupMembers(ctx, event.GroupID)
	if err != nil {
		return fmt.Errorf("notify: failed to resolve recipients (group_id=%s): %w", event.GroupID, err)
	}

	group, err := n.store.GetGroupByID(ctx, event.GroupID)
	if err != nil {
		return fmt.Errorf("notify: failed to load group (group_id=%s): %w", event.GroupID, err)
	}

	excluded := make(map[uuid.UUID]bool, len(event.Exclude)+1)
	excluded[event.ActorID] = true
	for _, id := range event.Exclude {
		excluded[id] = true
	}

	recipients := make(map[uuid.UUID]bool)
	creatorOut := false
	for _, member := range members {
		if member.UserID == group.CreatorID && member.Status != database.MemberStatusActive {
			creatorOut = true
		}
		if member.Status == database.MemberStatusActive && !excluded[member.UserID] {
			recipients[member.UserID] = true
		}
	}
	// The creator hears about group activity even without a membership
	// row, but a rejected or pending row keeps them out like anyone
	// else.
	if !creatorOut && !excluded[group.CreatorID] {
		recipients[group.CreatorID] = true
	}

	params := make([]database.CreateNotificationParams, 0, len(recipients))
	for recipientID := range recipients {
		params = append(params, database.CreateNotificationParams{
			EventID:     event.EventID,
			RecipientID: recipientID,
			SenderID:    event.ActorID,
			GroupID:     util.Some(event.GroupID),
			Type:        event.Type,
			Title:       event.Title,
			Message:     event.Message,
		})
	}
	if len(params) == 0 {
		return nil
	}

	created, err := n.store.CreateNotifications(ctx, params)
	if err != nil {
		return fmt.Errorf("notify: failed to persist notifications (event_id=%s): %w", event.EventID, err)
	}

	for _, notification := range created {
		n.deliver(ctx, notification)
	}
	return nil
}

// Direct addresses a single member.
type Direct struct {
	EventID     uuid.UUID
	RecipientID uuid.UUID
	SenderID    uuid.UUID
	GroupID     util.Optional[uuid.UUID]
	Type        string
	Title       string
	Message     string
}

func (n *Notifier) Notify(ctx context.Context, direct Direct) error {
	created, err := n.store.CreateNotifications(ctx, []database.CreateNotificationParams{{
		EventID:     direct.EventID,
		RecipientID: direct.RecipientID,
		SenderID:    direct.SenderID,
		GroupID:     direct.GroupID,
		Type:        direct.Type,
		Title:       direct.Title,
		Message:     direct.Message,
	}})
	if err != nil {
		return fmt.Errorf("notify: failed to persist notification (event_id=%s): %w", direct.EventID, err)
	}
	for _, notification := range created {
		n.deliver(ctx, notification)
	}
	return nil
}

// deliver runs the best-effort legs. Failures are logged and
// swallowed so a dead broker never rolls back domain state.
func (n *Notifier) deliver(ctx context.Context, notification database.Notification) {
	if n.broadcaster != nil {
		channel := "user:" + notification.RecipientID.String()
		if err := n.broadcaster.Publish(ctx, channel, notification); err != nil {
			n.logger.Warn("broadcast delivery failed",
				slog.String("notification_id", notification.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	if n.pushSender == nil {
		return
	}
	devices, err := n.store.ListDevices(ctx, notification.RecipientID)
	if err != nil {
		n.logger.Warn("device lookup failed",
			slog.String("recipient_id", notification.RecipientID.String()),
			slog.String("error", err.Error()))
		return
	}
	if len(devices) == 0 {
		return
	}
	tokens := make([]string, 0, len(devices))
	for _, device := range devices {
		tokens = append(tokens, device.Token)
	}
	data := map[string]string{
		"notification_id": notification.ID.String(),
		"type":            notification.Type,
	}
	if err := n.pushSender.Send(ctx, tokens, notification.Title, notification.Message, data); err != nil {
		n.logger.Warn("push delivery failed",
			slog.String("recipient_id", notification.RecipientID.String()),
			slog.String("error", err.Error()))
	}
}

// Inbox and read-state passthroughs used by the HTTP layer.

func (n *Notifier) List(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit util.Optional[int]) ([]database.Notification, error) {
	return n.store.ListNotifications(ctx, database.ListNotificationsParams{
		RecipientID: recipientID,
		UnreadOnly:  unreadOnly,
		Limit:       limit,
	})
}

func (n *Notifier) CountUnread(ctx context.Context, recipientID uuid.UUID) (int, error) {
	return n.store.CountUnreadNotifications(ctx, recipientID)
}

func (n *Notifier) MarkRead(ctx context.Context, id, recipientID uuid.UUID) (database.Notification, error) {
	return n.store.MarkNotificationRead(ctx, id, recipientID)
}

func (n *Notifier) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int, error) {
	return n.store.MarkAllNotificationsRead(ctx, recipientID)
}
