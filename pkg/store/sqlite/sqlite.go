// Package sqlite is the single-file event store built on the pure-Go
// modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"igsync/pkg/events"
	"igsync/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

const (
	schemaVersion = 1
	// fixed width so stored timestamps sort lexically
	timeLayout = "2006-01-02T15:04:05.000000Z"
)

// Store implements the event, tombstone, profile and cache-replay queries
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file and its directory if needed and applies
// the embedded schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; sqlite serialises anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var versionStr string
	err = tx.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&versionStr)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, "INSERT INTO metadata(key, value) VALUES('schema_version', ?)", strconv.Itoa(schemaVersion)); err != nil {
			return fmt.Errorf("insert schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	default:
		version, err := strconv.Atoi(versionStr)
		if err != nil {
			return fmt.Errorf("parse schema version: %w", err)
		}
		if version > schemaVersion {
			return fmt.Errorf("database schema version %d is newer than supported %d", version, schemaVersion)
		}
	}
	return tx.Commit()
}

// Close closes the database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetClock overrides the creation timestamp source
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveProfile inserts a profile or updates the one with the same username
func (s *Store) SaveProfile(ctx context.Context, p models.Profile) (*models.Profile, error) {
	if strings.TrimSpace(p.Username) == "" {
		return nil, errors.New("username is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
INSERT INTO profiles (id, source_id, username, timezone, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (username) DO UPDATE SET
	source_id = excluded.source_id,
	timezone = excluded.timezone
RETURNING id`, p.ID, p.SourceID, p.Username, p.Timezone, formatTime(s.now()))
	if err := row.Scan(&p.ID); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return &p, nil
}

// ListProfiles returns every profile ordered by username
func (s *Store) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, source_id, username, timezone FROM profiles ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []models.Profile
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
func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	err := s.db.QueryRowContext(ctx, `SELECT id, source_id, username, timezone FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.SourceID, &p.Username, &p.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

const eventColumns = `id, profile_id, title, description, event_date, location, image_url, media_kind,
	source_url, caption, external_id, origin, status, published_at, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*models.Event, error) {
	var (
		ev                    models.Event
		date, published       sql.NullString
		created               string
		mediaKind, origin, st string
	)
	if err := row.Scan(&ev.ID, &ev.ProfileID, &ev.Title, &ev.Description, &date, &ev.Location,
		&ev.ImageURL, &mediaKind, &ev.SourceURL, &ev.Caption, &ev.ExternalID, &origin, &st,
		&published, &created); err != nil {
		return nil, err
	}
	ev.MediaKind = models.MediaKind(mediaKind)
	ev.Origin = models.Origin(origin)
	ev.Status = models.EventStatus(st)

	var err error
	if ev.Date, err = parseNullTime(date); err != nil {
		return nil, fmt.Errorf("parse event date: %w", err)
	}
	if ev.PublishedAt, err = parseNullTime(published); err != nil {
		return nil, fmt.Errorf("parse published_at: %w", err)
	}
	if ev.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &ev, nil
}

// FindByPermalink returns (nil, nil) when nothing matches
func (s *Store) FindByPermalink(ctx context.Context, permalink, profileID string) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE source_url = ? AND profile_id = ?`, permalink, profileID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find event by permalink: %w", err)
	}
	return ev, nil
}

// GetEvent returns events.ErrNotFound for unknown IDs
func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	ev, err := scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, events.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// InsertEvent returns events.ErrDuplicate when (profile, permalink) exists
func (s *Store) InsertEvent(ctx context.Context, d models.EventDraft) (*models.Event, error) {
	id := uuid.NewString()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO events (`+eventColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (profile_id, source_url) DO NOTHING`,
		id, d.ProfileID, d.Title, d.Description, nullTime(d.Date), d.Location, d.ImageURL,
		string(d.MediaKind), d.SourceURL, d.Caption, d.ExternalID, string(d.Origin), string(d.Status),
		nullTime(d.PublishedAt), formatTime(s.now()))
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	if n == 0 {
		return nil, events.ErrDuplicate
	}
	return s.GetEvent(ctx, id)
}

// DeleteEvent removes the event and records its tombstone in one transaction
func (s *Store) DeleteEvent(ctx context.Context, id string, deletedAt time.Time) (*models.DeletionRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rec models.DeletionRecord
	err = tx.QueryRowContext(ctx, `SELECT profile_id, source_url FROM events WHERE id = ?`, id).Scan(&rec.ProfileID, &rec.Permalink)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, events.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}
	rec.DeletedAt = deletedAt.UTC()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete event: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO deleted_events (profile_id, permalink, deleted_at) VALUES (?, ?, ?)
ON CONFLICT (profile_id, permalink) DO UPDATE SET deleted_at = excluded.deleted_at`,
		rec.ProfileID, rec.Permalink, formatTime(rec.DeletedAt)); err != nil {
		return nil, fmt.Errorf("record deletion: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit deletion: %w", err)
	}
	return &rec, nil
}

func (s *Store) IsTombstoned(ctx context.Context, permalink, profileID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM deleted_events WHERE permalink = ? AND profile_id = ?`, permalink, profileID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check deletion record: %w", err)
	}
	return true, nil
}

func (s *Store) ListDeletionRecords(ctx context.Context, profileID string) ([]models.DeletionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT permalink, deleted_at FROM deleted_events WHERE profile_id = ?`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list deletion records: %w", err)
	}
	defer rows.Close()

	var out []models.DeletionRecord
	for rows.Next() {
		rec := models.DeletionRecord{ProfileID: profileID}
		var at string
		if err := rows.Scan(&rec.Permalink, &at); err != nil {
			return nil, fmt.Errorf("scan deletion record: %w", err)
		}
		if rec.DeletedAt, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parse deleted_at: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentEvents lists events created at or after since, newest first
func (s *Store) RecentEvents(ctx context.Context, profileID string, since time.Time, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events
WHERE profile_id = ? AND created_at >= ?
ORDER BY created_at DESC
LIMIT ?`, profileID, formatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
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
func (s *Store) CountEvents(ctx context.Context, profileID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE ? = '' OR profile_id = ?`, profileID, profileID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
