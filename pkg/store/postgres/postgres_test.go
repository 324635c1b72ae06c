package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igsync/pkg/events"
	"igsync/pkg/logger"
	"igsync/pkg/models"
)

// openTestStore needs a disposable database in IGSYNC_TEST_POSTGRES_DSN
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("IGSYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("IGSYNC_TEST_POSTGRES_DSN not set")
	}
	st, err := Open(context.Background(), dsn, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestEventLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	p, err := st.SaveProfile(ctx, models.Profile{Username: "pg_" + uuid.NewString()[:8]})
	require.NoError(t, err)

	permalink := "https://www.instagram.com/p/" + uuid.NewString()[:10] + "/"
	d := models.EventDraft{
		ProfileID: p.ID,
		Title:     "Samba",
		MediaKind: models.MediaImage,
		SourceURL: permalink,
		Origin:    models.OriginSession,
		Status:    models.StatusPending,
	}
	ev, err := st.InsertEvent(ctx, d)
	require.NoError(t, err)
	assert.Nil(t, ev.Date)

	_, err = st.InsertEvent(ctx, d)
	assert.ErrorIs(t, err, events.ErrDuplicate)

	recent, err := st.RecentEvents(ctx, p.ID, time.Now().Add(-time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	rec, err := st.DeleteEvent(ctx, ev.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, permalink, rec.Permalink)

	tomb, err := st.IsTombstoned(ctx, permalink, p.ID)
	require.NoError(t, err)
	assert.True(t, tomb)

	_, err = st.GetEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, events.ErrNotFound)
	_, err = st.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrProfileNotFound)
}
