package strategy

import (
	"context"

	"igsync/pkg/instagram"
	"igsync/pkg/logger"
	"igsync/pkg/models"
	"igsync/pkg/normalize"
	"igsync/pkg/ratelimit"
)

// TimelineAPI reads a public profile's timeline
type TimelineAPI interface {
	FetchTimeline(ctx context.Context, username string) ([]instagram.Node, error)
}

// WebPage reads the public profile page without any credential
type WebPage struct {
	base
	api TimelineAPI
}

func NewWebPage(api TimelineAPI, limiter ratelimit.Limiter, log logger.Logger) *WebPage {
	return &WebPage{base: newBase(NameWebPage, limiter, log), api: api}
}

func (w *WebPage) Origin() models.Origin { return models.OriginWebPage }

func (w *WebPage) Fetch(ctx context.Context, profile models.Profile, limit int) ([]models.Post, error) {
	if err := w.throttle(ctx); err != nil {
		return nil, err
	}
	nodes, err := w.api.FetchTimeline(ctx, profile.Username)
	if err != nil {
		return nil, w.fail(err)
	}

	now := w.now()
	posts := make([]models.Post, 0, len(nodes))
	for _, n := range nodes {
		posts = append(posts, normalize.Web(n, now))
	}
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return w.finish(profile, posts), nil
}
