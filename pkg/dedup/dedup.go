// Package dedup drops posts that already became events and posts the
// operator deleted. Identity is (permalink, profile).
package dedup

import (
	"context"
	"fmt"

	"igsync/pkg/logger"
	"igsync/pkg/models"
)

// Store is the read side of the event store used for deduplication
type Store interface {
	FindByPermalink(ctx context.Context, permalink, profileID string) (*models.Event, error)
	ListDeletionRecords(ctx context.Context, profileID string) ([]models.DeletionRecord, error)
}

// Filter removes known and tombstoned posts
type Filter struct {
	store  Store
	logger logger.Logger
}

func New(store Store, log logger.Logger) *Filter {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Filter{store: store, logger: log.WithField("component", "dedup")}
}

// Stats counts what Filter dropped
type Stats struct {
	Known      int
	Tombstoned int
	Anonymous  int
}

// Filter returns posts minus already-known minus tombstoned, in input order.
// Posts without permalink cannot be identified and always pass.
func (f *Filter) Filter(ctx context.Context, posts []models.Post, profileID string) ([]models.Post, error) {
	out, _, err := f.FilterWithStats(ctx, posts, profileID)
	return out, err
}

// FilterWithStats is Filter that also reports why posts were dropped
func (f *Filter) FilterWithStats(ctx context.Context, posts []models.Post, profileID string) ([]models.Post, Stats, error) {
	var stats Stats
	if len(posts) == 0 {
		return posts, stats, nil
	}

	records, err := f.store.ListDeletionRecords(ctx, profileID)
	if err != nil {
		return nil, stats, fmt.Errorf("list deletion records: %w", err)
	}
	tombstones := make(map[string]struct{}, len(records))
	for _, r := range records {
		tombstones[r.Permalink] = struct{}{}
	}

	out := make([]models.Post, 0, len(posts))
	for _, p := range posts {
		if p.Permalink == "" {
			stats.Anonymous++
			out = append(out, p)
			continue
		}
		if _, dead := tombstones[p.Permalink]; dead {
			stats.Tombstoned++
			f.logger.WithFields(map[string]interface{}{"permalink": p.Permalink, "profile_id": profileID}).
				Debug("Skipping deleted post")
			continue
		}
		ev, err := f.store.FindByPermalink(ctx, p.Permalink, profileID)
		if err != nil {
			return nil, stats, fmt.Errorf("find event by permalink %s: %w", p.Permalink, err)
		}
		if ev != nil {
			stats.Known++
			continue
		}
		out = append(out, p)
	}
	return out, stats, nil
}
