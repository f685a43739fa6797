// Package migrations applies the schema version files shipped under
// versions/. Concurrent runners are fenced with a Postgres advisory
// lock and every version is tracked in schema_migrations with a dirty
// flag, so a crashed run is visible instead of silently half-applied.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const advisoryLockID = 7203914405

var ErrDirty = errors.New("migrations: schema is in a dirty state")

type Migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

type Status struct {
	Current int64
	Latest  int64
	Pending []Migration
	IsDirty bool
}

type Migrator struct {
	pool        *pgxpool.Pool
	path        string
	lockTimeout time.Duration
	logger      *slog.Logger
}

func NewMigrator(pool *pgxpool.Pool, logger *slog.Logger) *Migrator {
	return &Migrator{
		pool:        pool,
		path:        "internal/database/migrations/versions",
		lockTimeout: 5 * time.Minute,
		logger:      logger,
	}
}

func (m *Migrator) SetPath(path string) {
	m.path = path
}

func (m *Migrator) init(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		dirty BOOLEAN NOT NULL DEFAULT FALSE,
		applied_at TIMESTAMPTZ DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("migrations: failed to create schema_migrations: %w", err)
	}
	return nil
}

func (m *Migrator) lock(ctx context.Context) error {
	lockCtx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()

	var acquired bool
	if err := m.pool.QueryRow(lockCtx, `SELECT pg_try_advisory_lock($1)`, advisoryLockID).Scan(&acquired); err != nil {
		return fmt.Errorf("migrations: failed to acquire lock: %w", err)
	}
	if !acquired {
		return errors.New("migrations: lock held by another process")
	}
	return nil
}

func (m *Migrator) unlock(ctx context.Context) {
	var released bool
	if err := m.pool.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, advisoryLockID).Scan(&released); err != nil {
		m.logger.Warn("failed to release migration lock", slog.String("error", err.Error()))
		return
	}
	if !released {
		m.logger.Warn("migration lock was not held on release")
	}
}

// Up applies every pending migration in version order. steps limits
// the run when positive.
func (m *Migrator) Up(ctx context.Context, steps int) error {
	if err := m.init(ctx); err != nil {
		return err
	}
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock(ctx)

	pending, err := m.pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		m.logger.Info("no pending migrations")
		return nil
	}
	if steps > 0 && steps < len(pending) {
		pending = pending[:steps]
	}

	for _, migration := range pending {
		start := time.Now()
		if err := m.apply(ctx, migration, true); err != nil {
			return fmt.Errorf("migrations: version %d failed: %w", migration.Version, err)
		}
		m.logger.Info("applied migration",
			slog.Int64("version", migration.Version),
			slog.String("name", migration.Name),
			slog.Duration("took", time.Since(start)))
	}
	return nil
}

// Down rolls back the newest applied migrations, one per step.
func (m *Migrator) Down(ctx context.Context, steps int) error {
	if err := m.init(ctx); err != nil {
		return err
	}
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock(ctx)

	migrations, err := m.load()
	if err != nil {
		return err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		m.logger.Info("no migrations to roll back")
		return nil
	}

	sort.Slice(applied, func(i, j int) bool { return applied[i] > applied[j] })
	if steps <= 0 || steps > len(applied) {
		steps = len(applied)
	}

	for _, version := range applied[:steps] {
		migration, ok := byVersion(migrations, version)
		if !ok {
			return fmt.Errorf("migrations: no file for applied version %d", version)
		}
		if err := m.apply(ctx, migration, false); err != nil {
			return fmt.Errorf("migrations: rollback of version %d failed: %w", version, err)
		}
		m.logger.Info("rolled back migration",
			slog.Int64("version", migration.Version),
			slog.String("name", migration.Name))
	}
	return nil
}

// Version reports the highest applied version and whether any applied
// version is dirty.
func (m *Migrator) Version(ctx context.Context) (int64, bool, error) {
	if err := m.init(ctx); err != nil {
		return 0, false, err
	}

	var version int64
	var dirty bool
	err := m.pool.QueryRow(ctx, `SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrations: failed to read version: %w", err)
	}
	return version, dirty, nil
}

func (m *Migrator) GetStatus(ctx context.Context) (Status, error) {
	var status Status
	if err := m.init(ctx); err != nil {
		return status, err
	}

	migrations, err := m.load()
	if err != nil {
		return status, err
	}
	rows, err := m.pool.Query(ctx, `SELECT version, dirty FROM schema_migrations ORDER BY version`)
	if err != nil {
		return status, fmt.Errorf("migrations: failed to read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var version int64
		var dirty bool
		if err := rows.Scan(&version, &dirty); err != nil {
			return status, fmt.Errorf("migrations: failed to scan schema_migrations: %w", err)
		}
		applied[version] = true
		if dirty {
			status.IsDirty = true
		}
		if version > status.Current {
			status.Current = version
		}
	}
	if err := rows.Err(); err != nil {
		return status, fmt.Errorf("migrations: failed to iterate schema_migrations: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version > status.Latest {
			status.Latest = migration.Version
		}
		if !applied[migration.Version] {
			status.Pending = append(status.Pending, migration)
		}
	}
	return status, nil
}

// CreateMigration writes an empty .up.sql/.down.sql pair stamped with
// the current time.
func (m *Migrator) CreateMigration(name string) (string, string, error) {
	if err := os.MkdirAll(m.path, 0755); err != nil {
		return "", "", fmt.Errorf("migrations: failed to create directory: %w", err)
	}

	stamp := time.Now().Format("20060102150405")
	slug := strings.ToLower(strings.ReplaceAll(name, " ", "_"))
	base := filepath.Join(m.path, stamp+"_"+slug)

	upPath := base + ".up.sql"
	downPath := base + ".down.sql"
	if err := os.WriteFile(upPath, []byte("-- "+name+"\n"), 0644); err != nil {
		return "", "", fmt.Errorf("migrations: failed to write %s: %w", upPath, err)
	}
	if err := os.WriteFile(downPath, []byte("-- "+name+"\n"), 0644); err != nil {
		return "", "", fmt.Errorf("migrations: failed to write %s: %w", downPath, err)
	}
	return upPath, downPath, nil
}

// apply runs one migration inside a transaction, flagging the version
// dirty for the duration so an interrupted run is detectable.
func (m *Migrator) apply(ctx context.Context, migration Migration, up bool) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if up {
		_, err = tx.Exec(ctx, `INSERT INTO schema_migrations (version, dirty) VALUES ($1, TRUE)
			ON CONFLICT (version) DO UPDATE SET dirty = TRUE`, migration.Version)
	} else {
		_, err = tx.Exec(ctx, `UPDATE schema_migrations SET dirty = TRUE WHERE version = $1`, migration.Version)
	}
	if err != nil {
		return err
	}

	sql := migration.UpSQL
	if !up {
		sql = migration.DownSQL
	}
	if strings.TrimSpace(sql) != "" {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return err
		}
	}

	if up {
		_, err = tx.Exec(ctx, `UPDATE schema_migrations SET dirty = FALSE, applied_at = NOW() WHERE version = $1`, migration.Version)
	} else {
		_, err = tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, migration.Version)
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (m *Migrator) pending(ctx context.Context) ([]Migration, error) {
	migrations, err := m.load()
	if err != nil {
		return nil, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(applied))
	for _, v := range applied {
		seen[v] = true
	}

	var pending []Migration
	for _, migration := range migrations {
		if !seen[migration.Version] {
			pending = append(pending, migration)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })
	return pending, nil
}

func (m *Migrator) appliedVersions(ctx context.Context) ([]int64, error) {
	rows, err := m.pool.Query(ctx, `SELECT version FROM schema_migrations WHERE dirty = FALSE ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("migrations: failed to read applied versions: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("migrations: failed to scan version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// load reads every .up.sql/.down.sql pair from the versions
// directory. Filenames follow VERSION_name.up.sql.
func (m *Migrator) load() ([]Migration, error) {
	byVersion := make(map[int64]*Migration)

	err := filepath.WalkDir(m.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}

		filename := d.Name()
		var base string
		isUp := strings.HasSuffix(filename, ".up.sql")
		switch {
		case isUp:
			base = strings.TrimSuffix(filename, ".up.sql")
		case strings.HasSuffix(filename, ".down.sql"):
			base = strings.TrimSuffix(filename, ".down.sql")
		default:
			m.logger.Warn("skipping unrecognized migration file", slog.String("file", filename))
			return nil
		}

		parts := strings.SplitN(base, "_", 2)
		if len(parts) != 2 {
			return fmt.Errorf("migrations: bad filename %s", filename)
		}
		version, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return fmt.Errorf("migrations: bad version in %s", filename)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		migration, ok := byVersion[version]
		if !ok {
			migration = &Migration{Version: version, Name: strings.ReplaceAll(parts[1], "_", " ")}
			byVersion[version] = migration
		}
		if isUp {
			migration.UpSQL = strings.TrimSpace(string(content))
		} else {
			migration.DownSQL = strings.TrimSpace(string(content))
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, migration := range byVersion {
		migrations = append(migrations, *migration)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func byVersion(migrations []Migration, version int64) (Migration, bool) {
	for _, migration := range migrations {
		if migration.Version == version {
			return migration, true
		}
	}
	return Migration{}, false
}
