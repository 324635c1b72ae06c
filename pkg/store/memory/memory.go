// Package memory is a process-local event store for dry runs and tests
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"igsync/pkg/events"
	"igsync/pkg/models"
)

// Store keeps profiles, events and tombstones in maps guarded by one mutex
type Store struct {
	mu         sync.RWMutex
	profiles   map[string]models.Profile
	events     map[string]models.Event
	tombstones map[string]models.DeletionRecord
	now        func() time.Time
}

// New returns an empty store
func New() *Store {
	return &Store{
		profiles:   make(map[string]models.Profile),
		events:     make(map[string]models.Event),
		tombstones: make(map[string]models.DeletionRecord),
		now:        time.Now,
	}
}

func key(profileID, permalink string) string { return profileID + "\x00" + permalink }

// Close is a no-op
func (s *Store) Close() error { return nil }

// SaveProfile inserts or updates a profile keyed by username
func (s *Store) SaveProfile(_ context.Context, p models.Profile) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.profiles {
		if strings.EqualFold(existing.Username, p.Username) {
			p.ID = id
			break
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.profiles[p.ID] = p
	return &p, nil
}

// ListProfiles returns every profile ordered by username
func (s *Store) ListProfiles(_ context.Context) ([]models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// GetProfile returns models.ErrProfileNotFound for unknown IDs
func (s *Store) GetProfile(_ context.Context, id string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, models.ErrProfileNotFound
	}
	return &p, nil
}

// FindByPermalink returns (nil, nil) when nothing matches
func (s *Store) FindByPermalink(_ context.Context, permalink, profileID string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ev := range s.events {
		if ev.ProfileID == profileID && ev.SourceURL == permalink {
			return &ev, nil
		}
	}
	return nil, nil
}

func (s *Store) IsTombstoned(_ context.Context, permalink, profileID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tombstones[key(profileID, permalink)]
	return ok, nil
}

func (s *Store) ListDeletionRecords(_ context.Context, profileID string) ([]models.DeletionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DeletionRecord
	for _, r := range s.tombstones {
		if r.ProfileID == profileID {
			out = append(out, r)
		}
	}
	return out, nil
}

// InsertEvent returns events.ErrDuplicate when the permalink is taken
func (s *Store) InsertEvent(_ context.Context, d models.EventDraft) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ProfileID == d.ProfileID && ev.SourceURL == d.SourceURL {
			return nil, events.ErrDuplicate
		}
	}
	ev := models.Event{
		ID:          uuid.NewString(),
		ProfileID:   d.ProfileID,
		Title:       d.Title,
		Description: d.Description,
		Date:        d.Date,
		Location:    d.Location,
		ImageURL:    d.ImageURL,
		MediaKind:   d.MediaKind,
		SourceURL:   d.SourceURL,
		Caption:     d.Caption,
		ExternalID:  d.ExternalID,
		Origin:      d.Origin,
		Status:      d.Status,
		PublishedAt: d.PublishedAt,
		CreatedAt:   s.now().UTC(),
	}
	s.events[ev.ID] = ev
	return &ev, nil
}

func (s *Store) GetEvent(_ context.Context, id string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, events.ErrNotFound
	}
	return &ev, nil
}

func (s *Store) DeleteEvent(_ context.Context, id string, deletedAt time.Time) (*models.DeletionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, events.ErrNotFound
	}
	delete(s.events, id)
	rec := models.DeletionRecord{Permalink: ev.SourceURL, ProfileID: ev.ProfileID, DeletedAt: deletedAt}
	s.tombstones[key(ev.ProfileID, ev.SourceURL)] = rec
	return &rec, nil
}

// RecentEvents lists events created at or after since, newest first
func (s *Store) RecentEvents(_ context.Context, profileID string, since time.Time, limit int) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Event
	for _, ev := range s.events {
		if ev.ProfileID == profileID && !ev.CreatedAt.Before(since) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountEvents returns how many events a profile has; "" counts all
func (s *Store) CountEvents(_ context.Context, profileID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ev := range s.events {
		if profileID == "" || ev.ProfileID == profileID {
			n++
		}
	}
	return n, nil
}

// SetClock overrides the creation timestamp source
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}
