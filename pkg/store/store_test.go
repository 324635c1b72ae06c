package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igsync/pkg/config"
	"igsync/pkg/logger"
	"igsync/pkg/models"
	"igsync/pkg/store/memory"
	"igsync/pkg/store/sqlite"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	log := logger.NewNopLogger()

	st, err := Open(ctx, config.DatabaseConfig{Driver: "memory"}, log)
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, st)
	require.NoError(t, st.Close())

	st, err = Open(ctx, config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "e.db")}, log)
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, st)
	t.Cleanup(func() { _ = st.Close() })

	p, err := st.SaveProfile(ctx, models.Profile{Username: "bar_y"})
	require.NoError(t, err)
	n, err := st.CountEvents(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = Open(ctx, config.DatabaseConfig{Driver: "mongo"}, log)
	assert.ErrorContains(t, err, "unsupported database driver")

	_, err = Open(ctx, config.DatabaseConfig{Driver: "sqlite"}, log)
	assert.ErrorContains(t, err, "path is required")
}
