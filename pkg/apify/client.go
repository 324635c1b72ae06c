// Package apify drives a managed scraping actor: start a run, poll it to a
// terminal state, then read its dataset.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"igsync/pkg/config"
	errs "igsync/pkg/errors"
	"igsync/pkg/logger"
	"igsync/pkg/metrics"
	"igsync/pkg/retry"
)

// Run states reported by the actor API
const (
	StatusReady     = "READY"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusAborted   = "ABORTED"
	StatusTimedOut  = "TIMED-OUT"
)

// Item is one raw dataset record; its shape varies between actor versions
type Item = map[string]any

// Run is the subset of the run object we read
type Run struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	DefaultDatasetID string `json:"defaultDatasetId"`
}

type runEnvelope struct {
	Data Run `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// RunInput is the actor input for a profile scrape
type RunInput struct {
	DirectURLs   []string `json:"directUrls"`
	ResultsType  string   `json:"resultsType"`
	ResultsLimit int      `json:"resultsLimit"`
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client talks to the actor API
type Client struct {
	httpClient   *http.Client
	baseURL      string
	token        string
	actor        string
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       logger.Logger
}

// New creates a client from the scraper settings
func New(cfg config.ScraperConfig, log logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	c := &Client{
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.APIToken,
		actor:        cfg.Actor,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		logger:       log.WithField("component", "apify"),
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.apify.com"
	}
	if c.actor == "" {
		c.actor = "apify~instagram-scraper"
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 2 * time.Second
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = 5 * time.Minute
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasToken reports whether an API token is configured
func (c *Client) HasToken() bool { return c.token != "" }

// ScrapeProfile runs the actor for one profile URL and returns its dataset items
func (c *Client) ScrapeProfile(ctx context.Context, profileURL string, limit int) ([]Item, error) {
	if !c.HasToken() {
		return nil, errs.New(errs.KindAuthInvalid, "managed scraper token is not configured")
	}

	run, err := c.StartRun(ctx, RunInput{
		DirectURLs:   []string{profileURL},
		ResultsType:  "posts",
		ResultsLimit: limit,
	})
	if err != nil {
		return nil, err
	}
	log := c.logger.WithFields(map[string]interface{}{"run_id": run.ID, "profile_url": profileURL})
	log.Debug("Scraper run started")

	run, err = c.WaitForRun(ctx, run)
	if err != nil {
		return nil, err
	}

	items, err := c.DatasetItems(ctx, run.DefaultDatasetID)
	if err != nil {
		return nil, err
	}
	log.WithField("items", len(items)).Debug("Scraper run finished")
	return items, nil
}

// StartRun submits a run of the configured actor
func (c *Client) StartRun(ctx context.Context, input RunInput) (*Run, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnknown, err, "failed to encode run input")
	}

	var env runEnvelope
	endpoint := fmt.Sprintf("%s/v2/acts/%s/runs?%s", c.baseURL, url.PathEscape(c.actor), c.tokenQuery(nil))
	if err := c.doJSON(ctx, "start_run", http.MethodPost, endpoint, body, &env); err != nil {
		return nil, err
	}
	if env.Data.ID == "" {
		return nil, errs.New(errs.KindTransient, "scraper returned a run without id")
	}
	return &env.Data, nil
}

// GetRun fetches the current state of a run
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var env runEnvelope
	endpoint := fmt.Sprintf("%s/v2/actor-runs/%s?%s", c.baseURL, url.PathEscape(id), c.tokenQuery(nil))
	if err := c.doJSON(ctx, "get_run", http.MethodGet, endpoint, nil, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// WaitForRun polls until the run succeeds. A failed, aborted or timed out
// run, or one still going after the poll timeout, is TRANSIENT.
func (c *Client) WaitForRun(ctx context.Context, run *Run) (*Run, error) {
	current := run
	err := retry.Poll(ctx, c.pollInterval, c.pollTimeout, func(ctx context.Context) (bool, error) {
		if done, err := settled(current); done || err != nil {
			return done, err
		}
		next, err := c.GetRun(ctx, current.ID)
		if err != nil {
			return false, err
		}
		current = next
		return settled(current)
	})
	if errors.Is(err, retry.ErrPollTimeout) {
		return nil, errs.Wrap(errs.KindTransient, err, fmt.Sprintf("scraper run %s still %s after %s", current.ID, current.Status, c.pollTimeout))
	}
	if err != nil {
		return nil, err
	}
	return current, nil
}

func settled(run *Run) (bool, error) {
	switch run.Status {
	case StatusSucceeded:
		return true, nil
	case StatusFailed, StatusAborted, StatusTimedOut:
		return false, errs.Newf(errs.KindTransient, "scraper run %s ended with status %s", run.ID, run.Status)
	}
	return false, nil
}

// DatasetItems reads every item of a dataset
func (c *Client) DatasetItems(ctx context.Context, datasetID string) ([]Item, error) {
	if datasetID == "" {
		return nil, errs.New(errs.KindTransient, "scraper run has no dataset")
	}
	q := url.Values{}
	q.Set("clean", "true")
	q.Set("format", "json")
	endpoint := fmt.Sprintf("%s/v2/datasets/%s/items?%s", c.baseURL, url.PathEscape(datasetID), c.tokenQuery(q))

	var items []Item
	if err := c.doJSON(ctx, "dataset_items", http.MethodGet, endpoint, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) tokenQuery(q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	q.Set("token", c.token)
	return q.Encode()
}

func (c *Client) doJSON(ctx context.Context, operation, method, endpoint string, body []byte, target any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errs.Wrap(errs.KindUnknown, err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("apify", operation, req.URL.Host, start, err)
		logger.LogRequest(c.logger, method, redact(endpoint), 0, time.Since(start))
		return errs.Wrap(errs.KindTransient, err, "network error")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	var obsErr error = err
	if obsErr == nil && resp.StatusCode >= 400 {
		obsErr = fmt.Errorf("status %d", resp.StatusCode)
	}
	metrics.ObserveNetworkRequest("apify", operation, req.URL.Host, start, obsErr)
	logger.LogRequest(c.logger, method, redact(endpoint), resp.StatusCode, time.Since(start))
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(resp.StatusCode, data)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(target); err != nil {
		return errs.Wrap(errs.KindUnknown, err, "failed to decode scraper response")
	}
	return nil
}

// classify maps an error response onto the taxonomy
func classify(status int, body []byte) *errs.Error {
	var env errorEnvelope
	_ = json.Unmarshal(body, &env)
	msg := env.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
	}
	text := strings.ToLower(msg + " " + env.Error.Type)

	switch {
	case status == http.StatusUnauthorized, strings.Contains(text, "unauthorized"):
		return errs.New(errs.KindAuthInvalid, "scraper token rejected: "+msg).WithCode(status)
	case status == http.StatusPaymentRequired, status == http.StatusTooManyRequests,
		strings.Contains(text, "rate limit"), strings.Contains(text, "rate-limit"), strings.Contains(text, "quota"):
		return errs.New(errs.KindRateLimited, msg).WithCode(status)
	}
	return errs.FromStatus(status, msg)
}

func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
