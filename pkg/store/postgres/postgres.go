// Package postgres is the shared event store for multi-instance deployments.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"igsync/pkg/events"
	"igsync/pkg/logger"
	"igsync/pkg/metrics"
	"igsync/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	queryTimeout   = 5 * time.Second
	connectTimeout = 5 * time.Second
)

// Store implements the event, tombstone, profile and cache-replay queries
type Store struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// Connect creates a pool for dsn
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 5
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Open connects and applies the embedded migrations
func Open(ctx context.Context, dsn string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	pool, err := Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool, log); err != nil {
		pool.Close()
		return nil, err
	}
	return New(pool, log), nil
}

// New wraps an existing pool without migrating
func New(pool *pgxpool.Pool, log logger.Logger) *Store {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{pool: pool, logger: log.WithField("component", "postgres")}
}

// Migrate applies pending migrations through a database/sql view of pool
func Migrate(ctx context.Context, pool *pgxpool.Pool, log logger.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		log.WithFields(map[string]interface{}{
			"version":  r.Source.Version,
			"duration": r.Duration.String(),
		}).Info("Applied migration")
	}
	return nil
}

// Close releases the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, queryTimeout)
}

func observe(operation string, start time.Time, err error) {
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	metrics.ObserveNetworkRequest("postgres", operation, "events", start, err)
}

// SaveProfile inserts a profile or updates the one with the same username
func (s *Store) SaveProfile(ctx context.Context, p models.Profile) (out *models.Profile, err error) {
	if strings.TrimSpace(p.Username) == "" {
		return nil, errors.New("username is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	ctx, cancel := s.connCtx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { observe("save_profile", start, err) }()

	err = s.pool.QueryRow(ctx, `
INSERT INTO profiles (id, source_id, username, timezone)
VALUES ($1, $2, $3, $4)
ON CONFLICT ((lower(username))) DO UPDATE SET
	source_id = EXCLUDED.source_id,
	timezone = EXCLUDED.timezone
RETURNING id`, p.ID, p.SourceID, p.Username, p.Timezone).Scan(&p.ID)
	if err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return &p, nil
}

func (s *Store) ListProfiles(ctx context.Context) (out []models.Profile, err error) {
	ctx, cancel := s.connCtx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { observe("list_profiles", start, err) }()

	rows, err := s.pool.Query(ctx, `SELECT id, source_id, username, timezone FROM profiles ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(&p.ID, &p.SourceID, &p.Username, &p.Timezone); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProfile returns models.ErrProfileNotFound for unknown IDs
func (s *Store) GetProfile(ctx context.Context, id string) (_ *models.Profile, err error) {
	ctx, cancel := s.connCtx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { observe("get_profile", start, err) }()

	var p models.Profile
	err = s.pool.QueryRow(ctx, `SELECT id, source_id, username, timezone FROM profiles WHERE id = $1`, id).
		Scan(&p.ID, &p.SourceID, &p.Username, &p.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

const eventColumns = `id, profile_id, title, description, event_date, location, image_url, media_kind,
	source_url, caption, external_id, origin, status, published_at, created_at`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var (
		ev                    models.Event
		mediaKind, origin, st string
	)
	if err := row.Scan(&ev.ID, &ev.ProfileID, &ev.Title, &ev.Description, &ev.Date, &ev.Location,
		&ev.ImageURL, &mediaKind, &ev.SourceURL, &ev.Caption, &ev.ExternalID, &origin, &st,
		&ev.PublishedAt, &ev.CreatedAt); err != nil {
		return nil, err
	}
	ev.MediaKind = models.MediaKind(mediaKind)
	ev.Origin = models.Origin(origin)
	ev.Status = models.EventStatus(st)
	return &ev, nil
}

// FindByPermalink returns (nil, nil) when nothing matches
func (s *Store) FindByPermalink(ctx context.Context, permalink, profileID string) (_ *models.Event, err error) {
	ctx, cancel := s.connCtx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { observe("find_by_permalink", start, err) }()

	ev, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE source_url = $1 AND profile_id = $2`, permalink, profileID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find event by permalink: %w", err)
	}
	return ev, nil
}

// GetEvent returns events.ErrNotFound for unknown IDs
func (s *Store) GetEvent(ctx context.Context, id string) (_ *models.Event, err error) {
	ctx, cancel := s.connCtx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { observe("get_event", start, err) }()

	ev, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, events.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// InsertEvent returns events.ErrDuplicate when (profile, permalink) exists
func (s *Store) InsertEvent(ctx context.Context, d models.EventDraft) (_ *models.Event, err error) {
	ctx, cancel := s.connCtx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { observe("insert_event", start, err) }()

	ev, err := scanEvent(s.pool.QueryRow(ctx, `
INSERT INTO events (id, profile_id, title, description, event_date, location, image_url, media_kind,
	source_url, caption, external_id, origin, status, published_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (profile_id, source_url) DO NOTHING
RETURNING `+eventColumns,
		uuid.NewString(), d.ProfileID, d.Title, d.Description, d.Date, d.Location, d.ImageURL,
		string(d.MediaKind), d.SourceURL, d.Caption, d.ExternalID, string(d.Origin), string(d.Status),
		d.PublishedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, events.ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

// DeleteEvent removes the event and records its tombstone in one transaction
func (s *Store) DeleteEvent(ctx context.Context, id string, deletedAt time.Time) (_ *models.DeletionRecord, err error) {
	ctx, cancel := s.connCtx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { observe("delete_event", start, err) }()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec := models.DeletionRecord{DeletedAt: deletedAt.UTC()}
	err = tx.QueryRow(ctx, `DELETE FROM events WHERE id = $1 RETURNING profile_id, source_url`, id).
		Scan(&rec.ProfileID, &rec.Permalink)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, events.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete event: %w", err)
	}
	if _, err = tx.Exec(ctx, `
INSERT INTO deleted_events (profile_id, permalink, deleted_at) VALUES ($1, $2, $3)
ON CONFLICT (profile_id, permalink) DO UPDATE SET deleted_at = EXCLUDED.deleted_at`,
		rec.ProfileID, rec.Permalink, rec.DeletedAt); err != nil {
		return nil, fmt.Errorf("record deletion: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit deletion: %w", err)
	}
	return &rec, nil
}

func (s *Store) IsTombstoned(ctx context.Context, permalink, profileID string) (found bool, err error) {
	ctx, cancel := s.connCtx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { observe("is_tombstoned", start, err) }()

	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM deleted_events WHERE permalink = $1 AND profile_id = $2)`,
		permalink, profileID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check deletion record: %w", err)
	}
	return found, nil
}

func (s *Store) ListDeletionRecords(ctx context.Context, profileID string) (out []models.DeletionRecord, err error) {
	ctx, cancel := s.connCtx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { observe("list_deletion_records", start, err) }()

	rows, err := s.pool.Query(ctx, `SELECT permalink, deleted_at FROM deleted_events WHERE profile_id = $1`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list deletion records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec := models.DeletionRecord{ProfileID: profileID}
		if err := rows.Scan(&rec.Permalink, &rec.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan deletion record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentEvents lists events created at or after since, newest first
func (s *Store) RecentEvents(ctx context.Context, profileID string, since time.Time, limit int) (out []models.Event, err error) {
	ctx, cancel := s.connCtx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { observe("recent_events", start, err) }()

	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM events
WHERE profile_id = $1 AND created_at >= $2
ORDER BY created_at DESC
LIMIT $3`, profileID, since, lim)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

// CountEvents returns how many events a profile has; "" counts all
func (s *Store) CountEvents(ctx context.Context, profileID string) (n int, err error) {
	ctx, cancel := s.connCtx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { observe("count_events", start, err) }()

	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events WHERE $1 = '' OR profile_id = $1`, profileID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
