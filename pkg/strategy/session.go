package strategy

import (
	"context"

	errs "igsync/pkg/errors"
	"igsync/pkg/instagram"
	"igsync/pkg/logger"
	"igsync/pkg/models"
	"igsync/pkg/normalize"
	"igsync/pkg/ratelimit"
	"igsync/pkg/session"
)

// SessionAPI is the part of the session client the strategy needs
type SessionAPI interface {
	HasCredentials() bool
	Blocked() error
	LoggedIn() bool
	Login(ctx context.Context) error
	Close() error
	UserID(ctx context.Context, username string) (string, error)
	EnsureFollowing(ctx context.Context, userID, username string) (bool, error)
	Feed(ctx context.Context, userID string, limit int) ([]session.FeedItem, error)
}

// Session emulates the native app with a real account. Once the account is
// challenged it stays BLOCKED for the rest of the run, and once its password
// is rejected no further login is attempted until Teardown.
//
// Every client call takes its own limiter slot. The friendship check and the
// follow it may trigger share one slot; a follow is always followed by the
// client's follow cooldown.
type Session struct {
	base
	api        SessionAPI
	autoFollow bool

	// rejected holds the AUTH_INVALID login failure of the current run
	rejected error
}

func NewSession(api SessionAPI, autoFollow bool, limiter ratelimit.Limiter, log logger.Logger) *Session {
	return &Session{base: newBase(NameSession, limiter, log), api: api, autoFollow: autoFollow}
}

func (s *Session) Origin() models.Origin { return models.OriginSession }

// Configured reports whether account credentials are present
func (s *Session) Configured() bool { return s.api.HasCredentials() }

// Setup logs in ahead of the run. A failure is not fatal here: Fetch reports
// it to the orchestrator, reusing a password rejection instead of trying the
// password again.
func (s *Session) Setup(ctx context.Context) error {
	if s.rejected != nil {
		return s.rejected
	}
	if s.api.LoggedIn() {
		return nil
	}
	if err := s.login(ctx); err != nil {
		return s.fail(err)
	}
	return nil
}

// Teardown logs out and clears the BLOCKED latch and any login rejection
// for the next run
func (s *Session) Teardown() error {
	s.rejected = nil
	return s.api.Close()
}

func (s *Session) Fetch(ctx context.Context, profile models.Profile, limit int) ([]models.Post, error) {
	if err := s.api.Blocked(); err != nil {
		return nil, s.fail(err)
	}
	if s.rejected != nil {
		return nil, s.rejected
	}
	username := instagram.SanitizeUsername(profile.Username)
	if username == "" {
		return nil, errs.New(errs.KindNotFound, "profile has no username").WithStrategy(s.name)
	}

	items, err := s.fetchFeed(ctx, username, limit)
	if err != nil {
		s.flagIfBlocked(err)
		return nil, s.fail(err)
	}

	now := s.now()
	posts := make([]models.Post, 0, len(items))
	for _, it := range items {
		posts = append(posts, normalize.Session(it, now))
	}
	return s.finish(profile, posts), nil
}

func (s *Session) fetchFeed(ctx context.Context, username string, limit int) ([]session.FeedItem, error) {
	if !s.api.LoggedIn() {
		if err := s.login(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.throttle(ctx); err != nil {
		return nil, err
	}
	userID, err := s.api.UserID(ctx, username)
	if err != nil {
		return nil, err
	}

	if s.autoFollow {
		if err := s.throttle(ctx); err != nil {
			return nil, err
		}
		if _, err := s.api.EnsureFollowing(ctx, userID, username); err != nil {
			return nil, err
		}
	}

	if err := s.throttle(ctx); err != nil {
		return nil, err
	}
	return s.api.Feed(ctx, userID, limit)
}

// login takes a limiter slot and logs in, remembering a password rejection
func (s *Session) login(ctx context.Context) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	err := s.api.Login(ctx)
	if err == nil {
		return nil
	}
	s.flagIfBlocked(err)
	if errs.IsKind(err, errs.KindAuthInvalid) {
		s.rejected = s.fail(err)
		s.logger.WithError(err).Error("Session login rejected, no further attempts this run")
	}
	return err
}

func (s *Session) flagIfBlocked(err error) {
	if errs.IsKind(err, errs.KindBlocked) {
		s.logger.WithError(err).Error("Session account challenged, strategy disabled for the rest of this run")
	}
}
