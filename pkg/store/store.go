// Package store selects and opens the event store backend.
package store

import (
	"context"
	"fmt"
	"time"

	"igsync/pkg/config"
	"igsync/pkg/dedup"
	"igsync/pkg/events"
	"igsync/pkg/logger"
	"igsync/pkg/models"
	"igsync/pkg/store/memory"
	"igsync/pkg/store/postgres"
	"igsync/pkg/store/sqlite"
	"igsync/pkg/strategy"
	"igsync/pkg/syncer"
)

// Store is everything the sync pipeline, the CLI and the HTTP API need
type Store interface {
	events.Store
	dedup.Store
	strategy.CacheSource
	syncer.ProfileRegistry

	SaveProfile(ctx context.Context, p models.Profile) (*models.Profile, error)
	CountEvents(ctx context.Context, profileID string) (int, error)
	Close() error
}

var (
	_ Store = (*memory.Store)(nil)
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

// Open opens the backend named by cfg.Driver
func Open(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	start := time.Now()
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "sqlite", "":
		st, err = sqlite.Open(cfg.Path)
	case "postgres":
		st, err = postgres.Open(ctx, cfg.DSN, log)
	case "memory":
		st = memory.New()
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	log.WithFields(map[string]interface{}{
		"driver":   cfg.Driver,
		"duration": time.Since(start).String(),
	}).Info("Event store ready")
	return st, nil
}
