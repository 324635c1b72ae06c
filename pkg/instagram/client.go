package instagram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	errs "igsync/pkg/errors"
	"igsync/pkg/logger"
	"igsync/pkg/metrics"
)

// maxBodySize bounds how much of a response is read into memory
const maxBodySize = 10 << 20

// Option customises a client
type Option func(*client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.httpClient = hc }
}

// WithBaseURL points the client at another host, e.g. an httptest server
func WithBaseURL(base string) Option {
	return func(c *client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithHeader adds a header sent with every request
func WithHeader(key, value string) Option {
	return func(c *client) { c.headers[key] = value }
}

// client is the HTTP plumbing shared by the Graph and web clients
type client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	component  string
	logger     logger.Logger
}

func newClient(component, baseURL string, timeout time.Duration, log logger.Logger, opts []Option) *client {
	if log == nil {
		log = logger.GetLogger()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &client{
		httpClient: &http.Client{Timeout: timeout},
		headers:    map[string]string{"Accept": "application/json"},
		baseURL:    strings.TrimRight(baseURL, "/"),
		component:  component,
		logger:     log.WithField("component", component),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get performs a GET and returns status and body. Transport failures come
// back as TRANSIENT; HTTP error statuses are left for the caller to classify.
func (c *client) get(ctx context.Context, operation, rawURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, errs.Wrap(errs.KindUnknown, err, "failed to create request")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest(c.component, operation, req.URL.Host, start, err)
		logger.LogRequest(c.logger, req.Method, redact(rawURL), 0, time.Since(start))
		return 0, nil, errs.Wrap(errs.KindTransient, err, "network error")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	metrics.ObserveNetworkRequest(c.component, operation, req.URL.Host, start, statusErr(resp.StatusCode, err))
	logger.LogRequest(c.logger, req.Method, redact(rawURL), resp.StatusCode, time.Since(start))
	if err != nil {
		return resp.StatusCode, nil, errs.Wrap(errs.KindTransient, err, "failed to read response body")
	}
	return resp.StatusCode, body, nil
}

func statusErr(status int, err error) error {
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("status %d", status)
	}
	return nil
}

// redact hides credentials carried in query strings before logging
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for _, k := range []string{"access_token", "client_secret", "token"} {
		if q.Has(k) {
			q.Set(k, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
