// Package session handles accounts, bearer-token sessions, the
// children registry, and device registration for push delivery.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"carepool/internal/database"
	"carepool/internal/fault"
	"carepool/internal/util"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenLength = 32
	defaultTTL  = 30 * 24 * time.Hour
)

type Store interface {
	CreateUser(ctx context.Context, params database.CreateUserParams) (database.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (database.User, error)
	GetUserByEmail(ctx context.Context, email string) (database.User, error)
	CreateSession(ctx context.Context, params database.CreateSessionParams) (database.Session, error)
	GetSessionByToken(ctx context.Context, token string) (database.Session, error)
	CreateChild(ctx context.Context, params database.CreateChildParams) (database.Child, error)
	GetChildByID(ctx context.Context, id uuid.UUID) (database.Child, error)
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]database.Child, error)
	RegisterDevice(ctx context.Context, params database.RegisterDeviceParams) (database.Device, error)
	RemoveDevice(ctx context.Context, userID uuid.UUID, token string) error
}

type Manager struct {
	logger *slog.Logger
	store  Store
	ttl    time.Duration
}

func NewManager(logger *slog.Logger, store Store) *Manager {
	return &Manager{
		logger: logger,
		store:  store,
		ttl:    defaultTTL,
	}
}

type RegisterParams struct {
	Name     string `validate:"required,min=2,max=100"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8,max=72"`
}

func (m *Manager) Register(ctx context.Context, params RegisterParams) (database.User, error) {
	var user database.User

	email := strings.ToLower(strings.TrimSpace(params.Email))
	if _, err := m.store.GetUserByEmail(ctx, email); err == nil {
		return user, fault.New(fault.KindConflict, "email already registered")
	} else if !errors.Is(err, database.ErrUserNotFound) {
		return user, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return user, err
	}

	user, err = m.store.CreateUser(ctx, database.CreateUserParams{
		Name:         params.Name,
		Email:        email,
		PasswordHash: string(hash),
	})
	if err != nil {
		return user, err
	}

	m.logger.Info("user registered", slog.String("user_id", user.ID.String()))
	return user, nil
}

type LoginParams struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

// Login verifies the credentials and mints a bearer token. Wrong
// email and wrong password are indistinguishable to the caller.
func (m *Manager) Login(ctx context.Context, params LoginParams) (database.Session, database.User, error) {
	var session database.Session

	user, err := m.store.GetUserByEmail(ctx, params.Email)
	if errors.Is(err, database.ErrUserNotFound) {
		return session, user, fault.New(fault.KindAuthorization, "invalid credentials")
	}
	if err != nil {
		return session, user, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(params.Password)); err != nil {
		return session, user, fault.New(fault.KindAuthorization, "invalid credentials")
	}

	token, err := util.RandomString(tokenLength)
	if err != nil {
		return session, user, err
	}
	session, err = m.store.CreateSession(ctx, database.CreateSessionParams{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(m.ttl),
	})
	if err != nil {
		return session, user, err
	}

	m.logger.Info("user logged in", slog.String("user_id", user.ID.String()))
	return session, user, nil
}

// Authenticate resolves a bearer token into its user. Expired or
// unknown tokens fail the same way.
func (m *Manager) Authenticate(ctx context.Context, token string) (database.User, error) {
	var user database.User

	session, err := m.store.GetSessionByToken(ctx, token)
	if errors.Is(err, database.ErrSessionNotFound) {
		return user, fault.New(fault.KindAuthorization, "invalid or expired session")
	}
	if err != nil {
		return user, err
	}
	if time.Now().UTC().After(session.ExpiresAt) {
		return user, fault.New(fault.KindAuthorization, "invalid or expired session")
	}
	return m.store.GetUserByID(ctx, session.UserID)
}

type AddChildParams struct {
	Name string `validate:"required,min=1,max=100"`
}

func (m *Manager) AddChild(ctx context.Context, actorID uuid.UUID, params AddChildParams) (database.Child, error) {
	child, err := m.store.CreateChild(ctx, database.CreateChildParams{
		ParentID: actorID,
		Name:     params.Name,
	})
	if err != nil {
		return child, err
	}
	m.logger.Info("child added", slog.String("child_id", child.ID.String()))
	return child, nil
}

func (m *Manager) ListChildren(ctx context.Context, actorID uuid.UUID) ([]database.Child, error) {
	return m.store.ListChildren(ctx, actorID)
}

type RegisterDeviceParams struct {
	Token    string `validate:"required"`
	Platform string `validate:"required,oneof=ios android web"`
}

func (m *Manager) RegisterDevice(ctx context.Context, actorID uuid.UUID, params RegisterDeviceParams) (database.Device, error) {
	return m.store.RegisterDevice(ctx, database.RegisterDeviceParams{
		UserID:   actorID,
		Token:    params.Token,
		Platform: params.Platform,
	})
}

func (m *Manager) RemoveDevice(ctx context.Context, actorID uuid.UUID, token string) error {
	err := m.store.RemoveDevice(ctx, actorID, token)
	if errors.Is(err, database.ErrDeviceNotFound) {
		return fault.Wrap(fault.KindNotFound, "device not found", err)
	}
	return err
}
