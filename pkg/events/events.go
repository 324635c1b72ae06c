// Package events turns acquired posts into listing events.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"igsync/pkg/caption"
	"igsync/pkg/logger"
	"igsync/pkg/models"
	"igsync/pkg/ocr"
)

const maxTitleRunes = 200

var (
	// ErrAlreadyKnown is returned when the post already produced an event or
	// its event was deleted by an operator.
	ErrAlreadyKnown = errors.New("post already known")
	// ErrNotFound is returned by stores for unknown event IDs
	ErrNotFound = errors.New("event not found")
	// ErrDuplicate is returned by stores when (profile, permalink) already exists
	ErrDuplicate = errors.New("event already exists")
)

// Store persists events and deletion tombstones.
// FindByPermalink returns (nil, nil) when no event matches.
type Store interface {
	FindByPermalink(ctx context.Context, permalink, profileID string) (*models.Event, error)
	IsTombstoned(ctx context.Context, permalink, profileID string) (bool, error)
	InsertEvent(ctx context.Context, draft models.EventDraft) (*models.Event, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	// DeleteEvent removes the event and records its tombstone atomically
	DeleteEvent(ctx context.Context, id string, deletedAt time.Time) (*models.DeletionRecord, error)
}

// Creator builds events from posts
type Creator struct {
	store       Store
	transformer caption.Transformer
	ocr         ocr.Extractor
	loc         *time.Location
	logger      logger.Logger
	now         func() time.Time
}

// NewCreator wires a creator. loc is the timezone used for profiles that do
// not carry their own.
func NewCreator(store Store, transformer caption.Transformer, extractor ocr.Extractor, loc *time.Location, log logger.Logger) *Creator {
	if extractor == nil {
		extractor = ocr.NopExtractor{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.GetLogger()
	}
	if transformer == nil {
		transformer = caption.NewFallback(loc)
	}
	return &Creator{
		store:       store,
		transformer: transformer,
		ocr:         extractor,
		loc:         loc,
		logger:      log.WithField("component", "events"),
		now:         time.Now,
	}
}

// Create builds and stores an event for post. It returns ErrAlreadyKnown
// when the permalink already has an event or a tombstone for the profile.
func (c *Creator) Create(ctx context.Context, post models.Post, profile models.Profile) (*models.Event, error) {
	log := c.logger.WithFields(map[string]interface{}{
		"profile":   profile.Username,
		"permalink": post.Permalink,
		"origin":    string(post.Origin),
	})

	if post.Permalink != "" {
		existing, err := c.store.FindByPermalink(ctx, post.Permalink, profile.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up existing event: %w", err)
		}
		if existing != nil {
			log.Debug("Event already exists for post")
			return nil, ErrAlreadyKnown
		}
		deleted, err := c.store.IsTombstoned(ctx, post.Permalink, profile.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check deletion records: %w", err)
		}
		if deleted {
			log.Debug("Post was deleted by an operator, not recreating")
			return nil, ErrAlreadyKnown
		}
	}

	var imageText string
	if post.MediaKind == models.MediaImage && post.MediaURL != nil {
		imageText = c.ocr.Extract(ctx, *post.MediaURL)
	}

	fields := c.transformer.Transform(ctx, post.Caption, profile.Username, imageText)

	draft := models.EventDraft{
		ProfileID:  profile.ID,
		ImageURL:   post.MediaURLOrEmpty(),
		MediaKind:  post.MediaKind,
		SourceURL:  post.Permalink,
		Caption:    SanitizeText(post.Caption),
		ExternalID: post.ExternalID,
		Origin:     post.Origin,
	}
	draft.Title = SanitizeTitle(fields.Title)
	if draft.Title == "" {
		draft.Title = caption.EventIn(profile.Username)
	}
	draft.Description = SanitizeText(fields.Description)
	if draft.Description == "" {
		draft.Description = caption.NoDescription
	}
	draft.Location = SanitizeText(fields.Location)
	if draft.Location == "" && profile.Username != "" {
		draft.Location = "@" + profile.Username
	}
	draft.Date, draft.Status = c.schedule(fields.Date, profile)
	if !post.LowConfidenceTime && !post.PublishedAt.IsZero() {
		published := post.PublishedAt
		draft.PublishedAt = &published
	}

	ev, err := c.store.InsertEvent(ctx, draft)
	if errors.Is(err, ErrDuplicate) {
		log.Debug("Event inserted concurrently for post")
		return nil, ErrAlreadyKnown
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"event_id": ev.ID,
		"status":   string(ev.Status),
		"has_date": ev.Date != nil,
	}).Info("Created event from post")
	return ev, nil
}

// schedule decides the stored date and moderation status. Missing dates and
// dates before today in the profile's timezone go to manual review.
func (c *Creator) schedule(date *time.Time, profile models.Profile) (*time.Time, models.EventStatus) {
	if date == nil {
		return nil, models.StatusPending
	}
	loc := c.locationFor(profile)
	now := c.now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if date.In(loc).Before(today) {
		return nil, models.StatusPending
	}
	d := *date
	return &d, models.StatusApproved
}

func (c *Creator) locationFor(profile models.Profile) *time.Location {
	if profile.Timezone == "" {
		return c.loc
	}
	loc, err := time.LoadLocation(profile.Timezone)
	if err != nil {
		c.logger.WithField("timezone", profile.Timezone).Warn("Unknown profile timezone, using default")
		return c.loc
	}
	return loc
}

// Delete removes an event and records a tombstone so the post is never
// recreated.
func (c *Creator) Delete(ctx context.Context, id string) (*models.DeletionRecord, error) {
	rec, err := c.store.DeleteEvent(ctx, id, c.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	c.logger.WithFields(map[string]interface{}{
		"event_id":  id,
		"permalink": rec.Permalink,
	}).Info("Deleted event")
	return rec, nil
}

// SanitizeText strips characters that break storage or JSON consumers:
// invalid UTF-8, noncharacters, control characters other than newline and
// tab, zero-width characters and the BOM.
func SanitizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if keep(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// SanitizeTitle is SanitizeText on a single line, capped at 200 runes
func SanitizeTitle(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return ' '
		}
		return r
	}, s)
	s = SanitizeText(s)
	if utf8.RuneCountInString(s) > maxTitleRunes {
		s = caption.Truncate(s, maxTitleRunes)
	}
	return s
}

func keep(r rune) bool {
	switch {
	case r == '\n' || r == '\t':
		return true
	case r == utf8.RuneError, r == 0xFFFE, r == 0xFFFF:
		return false
	case r >= 0xD800 && r <= 0xDFFF:
		return false
	case r >= 0x200B && r <= 0x200D, r == 0x2060, r == 0xFEFF:
		return false
	case unicode.IsControl(r):
		return false
	}
	return true
}
