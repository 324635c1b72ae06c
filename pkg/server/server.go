// Package server exposes sync control over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"igsync/pkg/config"
	errs "igsync/pkg/errors"
	"igsync/pkg/events"
	"igsync/pkg/instagram"
	"igsync/pkg/logger"
	"igsync/pkg/metrics"
	"igsync/pkg/models"
	"igsync/pkg/normalize"
	"igsync/pkg/runstate"
	"igsync/pkg/syncer"
)

// Coordinator is the part of the sync coordinator served over HTTP
type Coordinator interface {
	ValidateCredential(ctx context.Context) (instagram.TokenStatus, error)
	ExchangeCredential(ctx context.Context, shortLived string) (*instagram.LongLivedToken, error)
	SubmitPost(ctx context.Context, profileID string, in normalize.ManualInput) (*models.Event, error)
}

// Runner runs syncs under the run lock
type Runner interface {
	Run(ctx context.Context) (syncer.SyncReport, error)
	Status() (*runstate.State, error)
}

// EventDeleter removes an event and leaves a tombstone
type EventDeleter interface {
	Delete(ctx context.Context, id string) (*models.DeletionRecord, error)
}

// Server is the HTTP API
type Server struct {
	cfg     config.ServerConfig
	coord   Coordinator
	runner  Runner
	events  EventDeleter
	log     logger.Logger
	metrics http.Handler
}

// Option customises a Server
type Option func(*Server)

// WithMetricsHandler replaces the default Prometheus handler
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func New(cfg config.ServerConfig, coord Coordinator, runner Runner, deleter EventDeleter, log logger.Logger, opts ...Option) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	s := &Server{
		cfg:     cfg,
		coord:   coord,
		runner:  runner,
		events:  deleter,
		log:     log.WithField("component", "http"),
		metrics: metrics.Handler(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type exchangeRequest struct {
	ShortLivedToken string `json:"short_lived_token"`
}

type exchangeResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	ExpiresIn   int64     `json:"expires_in"`
}

type submitRequest struct {
	ProfileID string `json:"profile_id"`
	normalize.ManualInput
}

// Router builds the route table
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.metrics)

	r.Route("/instagram", func(r chi.Router) {
		r.Post("/sync", s.handleSync)
		r.Get("/test", s.handleValidate)
		r.Post("/exchange-token", s.handleExchange)
		r.Get("/status", s.handleStatus)
		r.Post("/posts", s.handleSubmit)
	})
	r.Delete("/events/{id}", s.handleDeleteEvent)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.LogComponentStart(s.log, "http", map[string]interface{}{"addr": s.cfg.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.LogComponentStop(s.log, "http", "shutdown")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		l := s.log.WithFields(map[string]interface{}{
			"request_id": middleware.GetReqID(r.Context()),
			"remote":     r.RemoteAddr,
			"route":      route,
			"bytes":      ww.BytesWritten(),
		})
		logger.LogRequest(l, r.Method, r.URL.Path, status, time.Since(start))
		var err error
		if status >= 500 {
			err = errors.New(http.StatusText(status))
		}
		metrics.ObserveNetworkRequest("http", r.Method, route, start, err)
	})
}

// handleSync runs detached from the request context so a dropped client
// does not abort a run halfway
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.runner.Run(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, runstate.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "sync_running", err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	status, err := s.coord.ValidateCredential(r.Context())
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if strings.TrimSpace(req.ShortLivedToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "short_lived_token is required")
		return
	}
	tok, err := s.coord.ExchangeCredential(r.Context(), req.ShortLivedToken)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exchangeResponse{AccessToken: tok.AccessToken, ExpiresAt: tok.ExpiresAt, ExpiresIn: tok.ExpiresIn})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.runner.Status()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.ProfileID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "profile_id is required")
		return
	}
	ev, err := s.coord.SubmitPost(r.Context(), req.ProfileID, req.ManualInput)
	switch {
	case errors.Is(err, syncer.ErrInvalidSubmission):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, models.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "profile_not_found", err.Error())
	case errors.Is(err, events.ErrAlreadyKnown):
		writeError(w, http.StatusConflict, "already_known", err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	default:
		writeJSON(w, http.StatusCreated, ev)
	}
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.events.Delete(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, events.ErrNotFound):
		writeError(w, http.StatusNotFound, "event_not_found", err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

// writeKindError maps a classified upstream failure onto a status
func writeKindError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := http.StatusBadGateway
	switch kind {
	case errs.KindAuthInvalid:
		status = http.StatusUnauthorized
	case errs.KindRateLimited:
		status = http.StatusTooManyRequests
	case errs.KindTransient:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, strings.ToLower(string(kind)), err.Error())
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
