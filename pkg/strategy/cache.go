package strategy

import (
	"context"
	"time"

	"igsync/pkg/logger"
	"igsync/pkg/models"
	"igsync/pkg/normalize"
)

// CacheSource lists events stored for a profile at or after since, newest
// first, at most limit of them
type CacheSource interface {
	RecentEvents(ctx context.Context, profileID string, since time.Time, limit int) ([]models.Event, error)
}

// Cache replays stored events. It makes no network call and its only
// failure signal is an empty result.
type Cache struct {
	base
	source CacheSource
	maxAge time.Duration
}

func NewCache(source CacheSource, maxAge time.Duration, log logger.Logger) *Cache {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &Cache{base: newBase(NameCache, nil, log), source: source, maxAge: maxAge}
}

func (c *Cache) Origin() models.Origin { return models.OriginCache }

// Fetch reads twice the limit so the reordering by best timestamp can pick
// the newest ones, then truncates
func (c *Cache) Fetch(ctx context.Context, profile models.Profile, limit int) ([]models.Post, error) {
	now := c.now()
	events, err := c.source.RecentEvents(ctx, profile.ID, now.Add(-c.maxAge), limit*2)
	if err != nil {
		c.logger.WithError(err).WithField("profile", profile.Username).Warn("Cache read failed")
		return nil, nil
	}

	posts := make([]models.Post, 0, len(events))
	for _, ev := range events {
		posts = append(posts, normalize.Cache(ev, now))
	}
	models.SortNewestFirst(posts)
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}
