// Package database is the single owner of carepool's relational state.
// Every lifecycle transition that must be atomic (accepting a care
// response, accepting an open-block invitation, resolving a group
// invite, applying a reschedule) is implemented here as one pgx
// transaction built on conditional updates, so a lost race surfaces as
// a typed conflict instead of a double-booking.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carepool/internal/util"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Database struct {
	Pool *pgxpool.Pool
}

func NewDatabase() Database {
	return Database{Pool: nil}
}

func (db *Database) Connect(ctx context.Context, connString string) error {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return fmt.Errorf("unable to parse database configuration: %w", err)
	}

	db.Pool, err = pgxpool.New(ctx, config.ConnString())
	if err != nil {
		return fmt.Errorf("unable to create database pool: %w", err)
	}

	return nil
}

func (db *Database) Close() {
	db.Pool.Close()
}

func (db *Database) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// withTx runs fn inside a transaction. Rollback after a successful
// commit is a no-op.
func (db *Database) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("database: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("database: failed to commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a unique-constraint error,
// the signal the lifecycle layer maps to a conflict.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var (
	ErrUserNotFound                = errors.New("user not found")
	ErrChildNotFound               = errors.New("child not found")
	ErrSessionNotFound             = errors.New("session not found")
	ErrGroupNotFound               = errors.New("group not found")
	ErrGroupMemberNotFound         = errors.New("group member not found")
	ErrGroupInviteNotFound         = errors.New("group invite not found")
	ErrCareRequestNotFound         = errors.New("care request not found")
	ErrCareResponseNotFound        = errors.New("care response not found")
	ErrScheduledCareNotFound       = errors.New("scheduled care not found")
	ErrRescheduleNotFound          = errors.New("reschedule request not found")
	ErrInvitationNotFound          = errors.New("open block invitation not found")
	ErrNotificationNotFound        = errors.New("notification not found")
	ErrDeviceNotFound              = errors.New("device not found")
	ErrDuplicateGroupMember        = errors.New("profile already belongs to group")
	ErrDuplicateResponse           = errors.New("responder already answered this request")
	ErrRequestNotOpen              = errors.New("care request is no longer open")
	ErrResponseNotPending          = errors.New("care response is no longer pending")
	ErrInviteNotPending            = errors.New("group invite is no longer pending")
	ErrInvitationNotPending        = errors.New("invitation is no longer available")
	ErrAcceptedDifferentChild      = errors.New("invitation was accepted with a different child")
	ErrRescheduleNotPending        = errors.New("reschedule request is no longer pending")
	ErrBlockNotReschedulable       = errors.New("scheduled care block cannot be rescheduled")
	ErrRequestAlreadyClosed        = errors.New("care request already closed")
	ErrResponseAlreadyAcceptedRace = errors.New("another response was already accepted")
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Child struct {
	ID        uuid.UUID `json:"id"`
	ParentID  uuid.UUID `json:"parent_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Session struct {
	ID        uuid.UUID `json:"id"`
	Token     string    `json:"token"`
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type Device struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
}

type Group struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatorID   uuid.UUID `json:"creator_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type MemberStatus string

const (
	MemberStatusPending  MemberStatus = "pending"
	MemberStatusActive   MemberStatus = "active"
	MemberStatusRejected MemberStatus = "rejected"
)

type GroupMember struct {
	ID        uuid.UUID    `json:"id"`
	GroupID   uuid.UUID    `json:"group_id"`
	UserID    uuid.UUID    `json:"user_id"`
	Role      string       `json:"role"`
	Status    MemberStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "pending"
	InviteStatusAccepted InviteStatus = "accepted"
	InviteStatusRejected InviteStatus = "rejected"
)

type GroupInvite struct {
	ID              uuid.UUID    `json:"id"`
	GroupID         uuid.UUID    `json:"group_id"`
	InvitedByUserID uuid.UUID    `json:"invited_by_user_id"`
	Email           string       `json:"email"`
	Role            string       `json:"role"`
	Status          InviteStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

type RequestType string

const (
	RequestTypeSimple        RequestType = "simple"
	RequestTypeReciprocal    RequestType = "reciprocal"
	RequestTypeEvent         RequestType = "event"
	RequestTypeOpenBlock     RequestType = "open_block"
	RequestTypeOpenBlockSent RequestType = "open_block_sent"
)

type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusActive    RequestStatus = "active"
	RequestStatusClosed    RequestStatus = "closed"
	RequestStatusCancelled RequestStatus = "cancelled"
)

type CareRequest struct {
	ID          uuid.UUID             `json:"id"`
	GroupID     uuid.UUID             `json:"group_id"`
	RequesterID uuid.UUID             `json:"requester_id"`
	ChildID     uuid.UUID             `json:"child_id"`
	Date        time.Time             `json:"date"`
	StartTime   string                `json:"start_time"`
	EndTime     string                `json:"end_time"`
	Type        RequestType           `json:"type"`
	Status      RequestStatus         `json:"status"`
	Notes       util.Optional[string] `json:"notes"`

	// Event requests only.
	EventTitle       util.Optional[string]    `json:"event_title"`
	EventDescription util.Optional[string]    `json:"event_description"`
	EventLocation    util.Optional[string]    `json:"event_location"`
	RSVPDeadline     util.Optional[time.Time] `json:"rsvp_deadline"`

	// Open-block requests only.
	Slots             util.Optional[int]       `json:"slots"`
	SlotsUsed         int                      `json:"slots_used"`
	OpenBlockParentID util.Optional[uuid.UUID] `json:"open_block_parent_id"`
	ExistingBlockID   util.Optional[uuid.UUID] `json:"existing_block_id"`

	// Reciprocal requests only.
	ReciprocalParentID  util.Optional[uuid.UUID] `json:"reciprocal_parent_id"`
	ReciprocalChildID   util.Optional[uuid.UUID] `json:"reciprocal_child_id"`
	ReciprocalDate      util.Optional[time.Time] `json:"reciprocal_date"`
	ReciprocalStartTime util.Optional[string]    `json:"reciprocal_start_time"`
	ReciprocalEndTime   util.Optional[string]    `json:"reciprocal_end_time"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ResponseType string

const (
	ResponseTypeAccept  ResponseType = "accept"
	ResponseTypeDecline ResponseType = "decline"
)

type ResponseStatus string

const (
	ResponseStatusPending  ResponseStatus = "pending"
	ResponseStatusAccepted ResponseStatus = "accepted"
	ResponseStatusDeclined ResponseStatus = "declined"
)

type CareResponse struct {
	ID          uuid.UUID             `json:"id"`
	RequestID   uuid.UUID             `json:"request_id"`
	ResponderID uuid.UUID             `json:"responder_id"`
	Type        ResponseType          `json:"type"`
	Status      ResponseStatus        `json:"status"`
	Notes       util.Optional[string] `json:"notes"`

	ReciprocalChildID   util.Optional[uuid.UUID] `json:"reciprocal_child_id"`
	ReciprocalDate      util.Optional[time.Time] `json:"reciprocal_date"`
	ReciprocalStartTime util.Optional[string]    `json:"reciprocal_start_time"`
	ReciprocalEndTime   util.Optional[string]    `json:"reciprocal_end_time"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CareType string

const (
	CareTypeNeeded   CareType = "needed"
	CareTypeProvided CareType = "provided"
	CareTypeEvent    CareType = "event"
)

type BlockStatus string

const (
	BlockStatusConfirmed BlockStatus = "confirmed"
	BlockStatusCancelled BlockStatus = "cancelled"
)

type ScheduledCare struct {
	ID               uuid.UUID                `json:"id"`
	GroupID          uuid.UUID                `json:"group_id"`
	ParentID         uuid.UUID                `json:"parent_id"`
	ChildID          uuid.UUID                `json:"child_id"`
	Date             time.Time                `json:"date"`
	StartTime        string                   `json:"start_time"`
	EndTime          string                   `json:"end_time"`
	Type             CareType                 `json:"type"`
	Status           BlockStatus              `json:"status"`
	RelatedRequestID util.Optional[uuid.UUID] `json:"related_request_id"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

type RescheduleStatus string

const (
	RescheduleStatusPending  RescheduleStatus = "pending"
	RescheduleStatusAccepted RescheduleStatus = "accepted"
	RescheduleStatusDeclined RescheduleStatus = "declined"
)

type RescheduleRequest struct {
	ID            uuid.UUID             `json:"id"`
	BlockID       uuid.UUID             `json:"block_id"`
	GroupID       uuid.UUID             `json:"group_id"`
	RequesterID   uuid.UUID             `json:"requester_id"`
	CounterpartID uuid.UUID             `json:"counterpart_id"`
	FromDate      time.Time             `json:"from_date"`
	FromStart     string                `json:"from_start"`
	FromEnd       string                `json:"from_end"`
	ToDate        time.Time             `json:"to_date"`
	ToStart       string                `json:"to_start"`
	ToEnd         string                `json:"to_end"`
	Notes         util.Optional[string] `json:"notes"`
	Status        RescheduleStatus      `json:"status"`
	// HopCount grows by one for every counter-proposal in a chain.
	HopCount int `json:"hop_count"`
	// CancelTargetID names the arrangement a decline will call off.
	// Unset means the block under negotiation itself.
	CancelTargetID util.Optional[uuid.UUID] `json:"cancel_target_id"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

type InvitationStatus string

const (
	InvitationStatusPending  InvitationStatus = "pending"
	InvitationStatusAccepted InvitationStatus = "accepted"
	InvitationStatusExpired  InvitationStatus = "expired"
	InvitationStatusDeclined InvitationStatus = "declined"
)

type OpenBlockInvitation struct {
	ID                  uuid.UUID                `json:"id"`
	ExistingBlockID     uuid.UUID                `json:"existing_block_id"`
	GroupID             uuid.UUID                `json:"group_id"`
	InvitingParentID    uuid.UUID                `json:"inviting_parent_id"`
	InvitedParentID     uuid.UUID                `json:"invited_parent_id"`
	ReciprocalDate      time.Time                `json:"reciprocal_date"`
	ReciprocalStartTime string                   `json:"reciprocal_start_time"`
	ReciprocalEndTime   string                   `json:"reciprocal_end_time"`
	Notes               util.Optional[string]    `json:"notes"`
	Status              InvitationStatus         `json:"status"`
	AcceptedChildID     util.Optional[uuid.UUID] `json:"accepted_child_id"`
	CreatedAt           time.Time                `json:"created_at"`
	UpdatedAt           time.Time                `json:"updated_at"`
}

type Notification struct {
	ID          uuid.UUID                `json:"id"`
	EventID     uuid.UUID                `json:"event_id"`
	RecipientID uuid.UUID                `json:"recipient_id"`
	SenderID    uuid.UUID                `json:"sender_id"`
	GroupID     util.Optional[uuid.UUID] `json:"group_id"`
	Type        string                   `json:"type"`
	Title       string                   `json:"title"`
	Message     string                   `json:"message"`
	IsRead      bool                     `json:"is_read"`
	CreatedAt   time.Time                `json:"created_at"`
}
