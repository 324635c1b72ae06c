package strategy

import (
	"context"

	"igsync/pkg/apify"
	errs "igsync/pkg/errors"
	"igsync/pkg/instagram"
	"igsync/pkg/logger"
	"igsync/pkg/models"
	"igsync/pkg/normalize"
	"igsync/pkg/ratelimit"
)

// ScraperAPI runs the managed scraper for one profile
type ScraperAPI interface {
	HasToken() bool
	ScrapeProfile(ctx context.Context, profileURL string, limit int) ([]apify.Item, error)
}

// Managed delegates to a third-party scraping job
type Managed struct {
	base
	api ScraperAPI
}

func NewManaged(api ScraperAPI, limiter ratelimit.Limiter, log logger.Logger) *Managed {
	return &Managed{base: newBase(NameManagedScraper, limiter, log), api: api}
}

func (m *Managed) Origin() models.Origin { return models.OriginManagedScraper }

// Configured reports whether an API token is present
func (m *Managed) Configured() bool { return m.api.HasToken() }

func (m *Managed) Fetch(ctx context.Context, profile models.Profile, limit int) ([]models.Post, error) {
	username := instagram.SanitizeUsername(profile.Username)
	if username == "" {
		return nil, errs.New(errs.KindNotFound, "profile has no username").WithStrategy(m.name)
	}
	if err := m.throttle(ctx); err != nil {
		return nil, err
	}

	items, err := m.api.ScrapeProfile(ctx, instagram.ProfileURL(username), limit)
	if err != nil {
		return nil, m.fail(err)
	}

	now := m.now()
	posts := make([]models.Post, 0, len(items))
	for _, it := range items {
		if _, isErr := it["error"]; isErr {
			// the actor reports unreachable profiles as error items
			m.logger.WithField("item", it).Debug("Skipping scraper error item")
			continue
		}
		posts = append(posts, normalize.Apify(it, now))
	}
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return m.finish(profile, posts), nil
}
