package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type CreateUserParams struct {
	Name         string
	Email        string
	PasswordHash string
}

func (db *Database) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	user := User{
		ID:           uuid.New(),
		Name:         params.Name,
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	if _, err := db.Pool.Exec(ctx, `INSERT INTO tbl_user (id, name, email, password_hash, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.CreatedAt, user.UpdatedAt); err != nil {
		return user, fmt.Errorf("database: failed to insert user (email=%s): %w", user.Email, err)
	}
	return user, nil
}

func (db *Database) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	var user User
	err := db.Pool.QueryRow(ctx, `SELECT id, name, email, password_hash, created_at, updated_at FROM tbl_user WHERE id = $1`, id).
		Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user, ErrUserNotFound
		}
		return user, fmt.Errorf("database: failed to scan user: %w", err)
	}
	return user, nil
}

func (db *Database) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := db.Pool.QueryRow(ctx, `SELECT id, name, email, password_hash, created_at, updated_at FROM tbl_user WHERE lower(email) = lower($1)`, email).
		Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user, ErrUserNotFound
		}
		return user, fmt.Errorf("database: failed to scan user: %w", err)
	}
	return user, nil
}

type CreateChildParams struct {
	ParentID uuid.UUID
	Name     string
}

func (db *Database) CreateChild(ctx context.Context, params CreateChildParams) (Child, error) {
	child := Child{
		ID:        uuid.New(),
		ParentID:  params.ParentID,
		Name:      params.Name,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := db.Pool.Exec(ctx, `INSERT INTO tbl_child (id, parent_id, name, created_at) VALUES ($1, $2, $3, $4)`,
		child.ID, child.ParentID, child.Name, child.CreatedAt); err != nil {
		return child, fmt.Errorf("database: failed to insert child (parent_id=%s): %w", child.ParentID, err)
	}
	return child, nil
}

func (db *Database) GetChildByID(ctx context.Context, id uuid.UUID) (Child, error) {
	var child Child
	err := db.Pool.QueryRow(ctx, `SELECT id, parent_id, name, created_at FROM tbl_child WHERE id = $1`, id).
		Scan(&child.ID, &child.ParentID, &child.Name, &child.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return child, ErrChildNotFound
		}
		return child, fmt.Errorf("database: failed to scan child: %w", err)
	}
	return child, nil
}

func (db *Database) ListChildren(ctx context.Context, parentID uuid.UUID) ([]Child, error) {
	rows, err := db.Pool.Query(ctx, `SELECT id, parent_id, name, created_at FROM tbl_child WHERE parent_id = $1 ORDER BY created_at`, parentID)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list children: %w", err)
	}
	defer rows.Close()

	var children []Child
	for rows.Next() {
		var child Child
		if err := rows.Scan(&child.ID, &child.ParentID, &child.Name, &child.CreatedAt); err != nil {
			return nil, fmt.Errorf("database: failed to scan child: %w", err)
		}
		children = append(children, child)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate children: %w", err)
	}
	return children, nil
}

type CreateSessionParams struct {
	Token     string
	UserID    uuid.UUID
	ExpiresAt time.Time
}

func (db *Database) CreateSession(ctx context.Context, params CreateSessionParams) (Session, error) {
	session := Session{
		ID:        uuid.New(),
		Token:     params.Token,
		UserID:    params.UserID,
		ExpiresAt: params.ExpiresAt,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := db.Pool.Exec(ctx, `INSERT INTO tbl_session (id, token, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.Token, session.UserID, session.ExpiresAt, session.CreatedAt); err != nil {
		return session, fmt.Errorf("database: failed to insert session (user_id=%s): %w", session.UserID, err)
	}
	return session, nil
}

func (db *Database) GetSessionByToken(ctx context.Context, token string) (Session, error) {
	var session Session
	err := db.Pool.QueryRow(ctx, `SELECT id, token, user_id, expires_at, created_at FROM tbl_session WHERE token = $1`, token).
		Scan(&session.ID, &session.Token, &session.UserID, &session.ExpiresAt, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session, ErrSessionNotFound
		}
		return session, fmt.Errorf("database: failed to scan session: %w", err)
	}
	return session, nil
}

func (db *Database) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM tbl_session WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("database: failed to delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

type RegisterDeviceParams struct {
	UserID   uuid.UUID
	Token    string
	Platform string
}

// RegisterDevice upserts on token so a reinstalled app re-registering
// the same token moves it to the new user.
func (db *Database) RegisterDevice(ctx context.Context, params RegisterDeviceParams) (Device, error) {
	device := Device{
		ID:        uuid.New(),
		UserID:    params.UserID,
		Token:     params.Token,
		Platform:  params.Platform,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := db.Pool.Exec(ctx, `INSERT INTO tbl_device (id, user_id, token, platform, created_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform`,
		device.ID, device.UserID, device.Token, device.Platform, device.CreatedAt); err != nil {
		return device, fmt.Errorf("database: failed to register device (user_id=%s): %w", device.UserID, err)
	}
	return device, nil
}

func (db *Database) RemoveDevice(ctx context.Context, userID uuid.UUID, token string) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM tbl_device WHERE user_id = $1 AND token = $2`, userID, token)
	if err != nil {
		return fmt.Errorf("database: failed to remove device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (db *Database) ListDevices(ctx context.Context, userID uuid.UUID) ([]Device, error) {
	rows, err := db.Pool.Query(ctx, `SELECT id, user_id, token, platform, created_at FROM tbl_device WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var device Device
		if err := rows.Scan(&device.ID, &device.UserID, &device.Token, &device.Platform, &device.CreatedAt); err != nil {
			return nil, fmt.Errorf("database: failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate devices: %w", err)
	}
	return devices, nil
}
