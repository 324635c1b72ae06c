package strategy

import (
	"context"

	errs "igsync/pkg/errors"
	"igsync/pkg/instagram"
	"igsync/pkg/logger"
	"igsync/pkg/models"
	"igsync/pkg/normalize"
	"igsync/pkg/ratelimit"
)

// GraphAPI is the part of the official client the strategy needs
type GraphAPI interface {
	HasToken() bool
	FetchMedia(ctx context.Context, sourceID string, limit int) ([]instagram.Media, error)
	ValidateToken(ctx context.Context) (instagram.TokenStatus, error)
	ExchangeToken(ctx context.Context, shortLived string) (*instagram.LongLivedToken, error)
}

// Official reads the sanctioned Graph API
type Official struct {
	base
	api GraphAPI
}

func NewOfficial(api GraphAPI, limiter ratelimit.Limiter, log logger.Logger) *Official {
	return &Official{base: newBase(NameOfficial, limiter, log), api: api}
}

func (o *Official) Origin() models.Origin { return models.OriginOfficial }

// Configured reports whether a token is present
func (o *Official) Configured() bool { return o.api.HasToken() }

func (o *Official) Fetch(ctx context.Context, profile models.Profile, limit int) ([]models.Post, error) {
	if profile.SourceID == "" {
		return nil, errs.Newf(errs.KindNotFound, "profile %s has no source id", profile.Username).WithStrategy(o.name)
	}
	if err := o.throttle(ctx); err != nil {
		return nil, err
	}

	media, err := o.api.FetchMedia(ctx, profile.SourceID, limit)
	if err != nil {
		return nil, o.fail(err)
	}

	now := o.now()
	posts := make([]models.Post, 0, len(media))
	for _, m := range media {
		posts = append(posts, normalize.Graph(m, now))
	}
	return o.finish(profile, posts), nil
}

// Validate is the credential pre-flight check. An AUTH_INVALID verdict comes
// back as an error so the orchestrator can abort.
func (o *Official) Validate(ctx context.Context) (instagram.TokenStatus, error) {
	if err := o.throttle(ctx); err != nil {
		return instagram.TokenStatus{}, err
	}
	status, err := o.api.ValidateToken(ctx)
	if err != nil {
		return status, o.fail(err)
	}
	if !status.Valid {
		return status, errs.New(errs.KindAuthInvalid, status.Reason).WithStrategy(o.name)
	}
	return status, nil
}

// Exchange swaps a short-lived token for a long-lived one
func (o *Official) Exchange(ctx context.Context, shortLived string) (*instagram.LongLivedToken, error) {
	if err := o.throttle(ctx); err != nil {
		return nil, err
	}
	tok, err := o.api.ExchangeToken(ctx, shortLived)
	if err != nil {
		return nil, o.fail(err)
	}
	return tok, nil
}
