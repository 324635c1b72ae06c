package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"igsync/pkg/apify"
	"igsync/pkg/caption"
	"igsync/pkg/config"
	"igsync/pkg/credentials"
	"igsync/pkg/dedup"
	"igsync/pkg/events"
	"igsync/pkg/instagram"
	"igsync/pkg/lock"
	"igsync/pkg/logger"
	"igsync/pkg/ocr"
	"igsync/pkg/orchestrator"
	"igsync/pkg/ratelimit"
	"igsync/pkg/runstate"
	"igsync/pkg/session"
	"igsync/pkg/store"
	"igsync/pkg/strategy"
	"igsync/pkg/syncer"
)

// app is the fully wired pipeline shared by the commands
type app struct {
	cfg     *config.Config
	log     logger.Logger
	store   store.Store
	graph   *instagram.GraphClient
	creator *events.Creator
	orch    *orchestrator.Orchestrator
	coord   *syncer.Coordinator

	closers []func() error
}

// newApp opens the store and builds every strategy the configuration enables.
// Nothing here talks to Instagram; sessions are opened by the first run.
func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	loc, err := time.LoadLocation(cfg.Sync.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Sync.Timezone, err)
	}

	st, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, store: st, closers: []func() error{st.Close}}

	newLimiter := func() ratelimit.Limiter {
		return ratelimit.NewSlidingWindow(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	}

	var (
		available  []strategy.Strategy
		lifecycles []strategy.Lifecycle
		validator  orchestrator.Validator
		credential syncer.Credential
	)

	a.graph = instagram.NewGraphClient(cfg.Instagram, log)
	official := strategy.NewOfficial(a.graph, newLimiter(), log)
	if official.Configured() {
		available = append(available, official)
		validator = official
	}
	// Exchange works without a stored token as long as the app secret is set.
	if official.Configured() || cfg.Instagram.AppSecret != "" {
		credential = official
	}

	if cfg.Session.Enabled {
		user, pass := resolveSessionAccount(cfg.Session, log)
		client := session.New(cfg.Session, user, pass, log)
		sess := strategy.NewSession(client, cfg.Session.AutoFollow, newLimiter(), log)
		if sess.Configured() {
			available = append(available, sess)
			lifecycles = append(lifecycles, sess)
		} else {
			log.Warn("Session strategy enabled without account credentials, skipping")
		}
	}

	managed := strategy.NewManaged(apify.New(cfg.Scraper, log), newLimiter(), log)
	if cfg.Scraper.Enabled && managed.Configured() {
		available = append(available, managed)
	}

	if cfg.Fallback.WebPageEnabled {
		available = append(available, strategy.NewWebPage(instagram.NewWebClient(cfg.Instagram, log), newLimiter(), log))
	}

	cache := strategy.NewCache(st, cfg.Cache.MaxAge, log)
	a.orch, err = orchestrator.New(orchestrator.Config{
		Order:            cfg.Fallback.Order,
		Preflight:        cfg.Fallback.Preflight,
		RateLimitRetries: cfg.Fallback.RateLimitRetries,
	}, available, cache, validator, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	fallback := caption.NewFallback(loc)
	var transformer caption.Transformer = fallback
	if cfg.Caption.APIKey != "" {
		transformer = caption.NewLLM(cfg.Caption, fallback, log)
	}
	a.creator = events.NewCreator(st, transformer, ocr.New(cfg.OCR, log), loc, log)

	a.coord = syncer.New(st, a.orch, dedup.New(st, log), a.creator, credential, syncer.Options{
		PostsPerProfile: cfg.Sync.PostsPerProfile,
		Lifecycles:      lifecycles,
	}, log)

	log.WithField("strategies", a.orch.Strategies()).Debug("Pipeline ready")
	return a, nil
}

// resolveSessionAccount fills a missing username or password from the
// credential vault. Configured values win.
func resolveSessionAccount(cfg config.SessionConfig, log logger.Logger) (string, string) {
	if cfg.Username != "" && cfg.Password != "" {
		return cfg.Username, cfg.Password
	}
	manager, err := credentials.NewManager("")
	if err != nil {
		log.WithError(err).Warn("Credential vault unavailable")
		return cfg.Username, cfg.Password
	}
	user, pass, err := manager.Resolve(cfg.Username, cfg.Password)
	if err != nil && !errors.Is(err, credentials.ErrNotFound) {
		log.WithError(err).Warn("Failed to read session account from vault")
	}
	return user, pass
}

// runner serialises runs through the Redis lock when one is configured, the
// in-process lock otherwise, and persists every report.
func (a *app) runner(ctx context.Context) (*runstate.Runner, error) {
	state, err := runstate.NewManager(a.cfg.Sync.StateFile, a.log)
	if err != nil {
		return nil, err
	}

	var locker lock.Locker
	if a.cfg.Redis.Addr != "" {
		client, err := lock.NewRedisClient(ctx, a.cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		locker = lock.NewRedis(client, lock.DefaultKey, a.cfg.Redis.LockTTL, a.log)
	}
	return runstate.NewRunner(a.coord.RunSync, locker, state, a.log), nil
}

// Close releases everything newApp and runner opened, newest first
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("Failed to close resource")
		}
	}
	a.closers = nil
}

// withApp loads the configuration, wires the pipeline and hands it to fn
func withApp(ctx context.Context, extra map[string]interface{}, fn func(*app) error) error {
	cfg, log, err := loadConfig(extra)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
