package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igsync/pkg/config"
	errs "igsync/pkg/errors"
	"igsync/pkg/events"
	"igsync/pkg/instagram"
	"igsync/pkg/logger"
	"igsync/pkg/models"
	"igsync/pkg/normalize"
	"igsync/pkg/runstate"
	"igsync/pkg/store/memory"
	"igsync/pkg/syncer"
)

type fakeCoordinator struct {
	status      instagram.TokenStatus
	validateErr error
	token       *instagram.LongLivedToken
	exchangeErr error
	submitted   []normalize.ManualInput
	submitEv    *models.Event
	submitErr   error
}

func (f *fakeCoordinator) ValidateCredential(context.Context) (instagram.TokenStatus, error) {
	return f.status, f.validateErr
}

func (f *fakeCoordinator) ExchangeCredential(_ context.Context, token string) (*instagram.LongLivedToken, error) {
	return f.token, f.exchangeErr
}

func (f *fakeCoordinator) SubmitPost(_ context.Context, profileID string, in normalize.ManualInput) (*models.Event, error) {
	f.submitted = append(f.submitted, in)
	return f.submitEv, f.submitErr
}

type fakeRunner struct {
	report syncer.SyncReport
	err    error
	state  *runstate.State
	calls  int
	ctxErr error
}

func (f *fakeRunner) Run(ctx context.Context) (syncer.SyncReport, error) {
	f.calls++
	f.ctxErr = ctx.Err()
	return f.report, f.err
}

func (f *fakeRunner) Status() (*runstate.State, error) { return f.state, nil }

type fixture struct {
	coord  *fakeCoordinator
	runner *fakeRunner
	store  *memory.Store
	srv    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{coord: &fakeCoordinator{}, runner: &fakeRunner{}, store: memory.New()}
	creator := events.NewCreator(f.store, nil, nil, time.UTC, logger.NewNopLogger())
	s := New(config.ServerConfig{RequestTimeout: 5 * time.Second}, f.coord, f.runner, creator, logger.NewNopLogger(),
		WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		})))
	f.srv = httptest.NewServer(s.Router())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))

	resp, _ = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSync(t *testing.T) {
	f := newFixture(t)
	f.runner.report = syncer.SyncReport{
		RunID:             "run-1",
		ProfilesProcessed: 0,
		Errors:            []syncer.ReportError{{Profile: "bar_x", Kind: errs.KindAuthInvalid, Message: "token rejected"}},
		Halted:            true,
	}

	resp, body := f.do(t, http.MethodPost, "/instagram/sync", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "run-1", body["run_id"])
	errList := body["errors"].([]any)
	require.Len(t, errList, 1)
	assert.Equal(t, "AUTH_INVALID", errList[0].(map[string]any)["kind"])
	assert.NoError(t, f.runner.ctxErr)

	f.runner.err = runstate.ErrAlreadyRunning
	resp, body = f.do(t, http.MethodPost, "/instagram/sync", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "sync_running", body["code"])
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	f.coord.status = instagram.TokenStatus{Valid: false, Reason: "expired"}
	resp, body := f.do(t, http.MethodGet, "/instagram/test", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "expired", body["reason"])

	f.coord.validateErr = errs.New(errs.KindTransient, "dial tcp: timeout")
	resp, body = f.do(t, http.MethodGet, "/instagram/test", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "transient", body["code"])
}

func TestExchange(t *testing.T) {
	f := newFixture(t)
	expires := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.coord.token = &instagram.LongLivedToken{AccessToken: "long", ExpiresAt: expires, ExpiresIn: 5184000}

	resp, body := f.do(t, http.MethodPost, "/instagram/exchange-token", `{"short_lived_token":"short"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "long", body["access_token"])
	assert.Equal(t, "2026-01-01T00:00:00Z", body["expires_at"])

	resp, _ = f.do(t, http.MethodPost, "/instagram/exchange-token", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/instagram/exchange-token", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.coord.exchangeErr = errs.New(errs.KindAuthInvalid, "Invalid OAuth access token")
	resp, body = f.do(t, http.MethodPost, "/instagram/exchange-token", `{"short_lived_token":"short"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "auth_invalid", body["code"])
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.runner.state = &runstate.State{Version: 1, TotalRuns: 4, LastRun: &syncer.SyncReport{RunID: "r4"}}

	resp, body := f.do(t, http.MethodGet, "/instagram/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 4, body["total_runs"])
	assert.Equal(t, "r4", body["last_run"].(map[string]any)["run_id"])
}

func TestSubmitPost(t *testing.T) {
	f := newFixture(t)
	f.coord.submitEv = &models.Event{ID: "ev1", Title: "Pagode", Origin: models.OriginManual}

	resp, body := f.do(t, http.MethodPost, "/instagram/posts",
		`{"profile_id":"p1","caption":"Pagode","media_url":"https://cdn.example.com/a.mp4","permalink":"https://www.instagram.com/p/x/"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ev1", body["id"])
	require.Len(t, f.coord.submitted, 1)
	assert.Equal(t, "https://cdn.example.com/a.mp4", f.coord.submitted[0].MediaURL)

	resp, _ = f.do(t, http.MethodPost, "/instagram/posts", `{"caption":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	cases := map[error]int{
		syncer.ErrInvalidSubmission: http.StatusBadRequest,
		models.ErrProfileNotFound:   http.StatusNotFound,
		events.ErrAlreadyKnown:      http.StatusConflict,
	}
	for err, status := range cases {
		f.coord.submitErr = err
		resp, _ = f.do(t, http.MethodPost, "/instagram/posts", `{"profile_id":"p1","caption":"x"}`)
		assert.Equal(t, status, resp.StatusCode, err.Error())
	}
}

func TestDeleteEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.store.SaveProfile(ctx, models.Profile{Username: "bar_y"})
	require.NoError(t, err)
	ev, err := f.store.InsertEvent(ctx, models.EventDraft{
		ProfileID: p.ID,
		Title:     "Samba",
		SourceURL: "https://www.instagram.com/p/p1/",
		MediaKind: models.MediaImage,
		Origin:    models.OriginOfficial,
		Status:    models.StatusApproved,
	})
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodDelete, "/events/"+ev.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://www.instagram.com/p/p1/", body["permalink"])

	tomb, err := f.store.IsTombstoned(ctx, "https://www.instagram.com/p/p1/", p.ID)
	require.NoError(t, err)
	assert.True(t, tomb)

	resp, body = f.do(t, http.MethodDelete, "/events/"+ev.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "event_not_found", body["code"])
}

func TestListenAndServeShutsDown(t *testing.T) {
	s := New(config.ServerConfig{Addr: "127.0.0.1:0"}, &fakeCoordinator{}, &fakeRunner{}, nil, logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
