// Package session emulates the native Instagram app with a real account.
//
// The Client is constructed explicitly and owned by the session strategy.
// Its lifecycle is Login, any number of UserID/EnsureFollowing/Feed calls,
// then Close. Once Instagram answers with a challenge or checkpoint the client
// latches BLOCKED and refuses every further call until Close, so a flagged
// account is never pushed again within the same run.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"igsync/pkg/config"
	errs "igsync/pkg/errors"
	"igsync/pkg/logger"
	"igsync/pkg/metrics"
	"igsync/pkg/retry"
)

const appID = "567067343352427"

// markers in a failure envelope that mean the account is being challenged
var blockMarkers = []string{
	"challenge_required",
	"checkpoint_required",
	"checkpoint",
	"feedback_required",
}

// Client is an authenticated private API session
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	username   string
	password   string
	deviceID   string
	cooldown   time.Duration
	logger     logger.Logger
	ids        *cache.Cache

	mu            sync.Mutex
	authorization string
	loggedIn      bool
	blocked       *errs.Error
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client; its Jar is kept if set
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a logged-out client for the given account
func New(cfg config.SessionConfig, username, password string, log logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	jar, _ := cookiejar.New(nil)

	c := &Client{
		httpClient: &http.Client{Timeout: timeout, Jar: jar},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		username:   username,
		password:   password,
		deviceID:   deviceID(username),
		cooldown:   cfg.FollowCooldown,
		logger:     log.WithField("component", "session"),
		ids:        cache.New(time.Hour, 10*time.Minute),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Jar == nil {
		c.httpClient.Jar = jar
	}
	return c
}

// deviceID derives a stable android device id from the username so the
// account always appears on the same device
func deviceID(username string) string {
	sum := sha256.Sum256([]byte("igsync-device:" + username))
	return "android-" + hex.EncodeToString(sum[:])[:16]
}

// HasCredentials reports whether a username and password are configured
func (c *Client) HasCredentials() bool {
	return c.username != "" && c.password != ""
}

// Blocked returns the latched BLOCKED error, if any
func (c *Client) Blocked() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blocked == nil {
		return nil
	}
	return c.blocked
}

// LoggedIn reports whether Login succeeded and Close has not been called
func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

// Login authenticates the account. Calling it on a logged-in client is a no-op.
func (c *Client) Login(ctx context.Context) error {
	if c.LoggedIn() {
		return nil
	}
	if !c.HasCredentials() {
		return errs.New(errs.KindAuthInvalid, "session username and password are not configured")
	}

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("enc_password", fmt.Sprintf("#PWD_INSTAGRAM:0:%d:%s", time.Now().Unix(), c.password))
	form.Set("device_id", c.deviceID)
	form.Set("login_attempt_count", "0")

	resp, body, err := c.do(ctx, "login", http.MethodPost, "/api/v1/accounts/login/", form)
	if err != nil {
		return err
	}

	var lr loginResponse
	_ = json.Unmarshal(body, &lr)
	if resp.StatusCode != http.StatusOK || lr.LoggedInUser == nil {
		return c.classify(resp.StatusCode, body)
	}

	c.mu.Lock()
	c.loggedIn = true
	if auth := resp.Header.Get("ig-set-authorization"); auth != "" {
		c.authorization = auth
	}
	c.mu.Unlock()

	c.logger.WithField("username", lr.LoggedInUser.Username).Info("Session login succeeded")
	return nil
}

// Close logs out and clears the session, including any BLOCKED latch
func (c *Client) Close() error {
	c.mu.Lock()
	wasLoggedIn := c.loggedIn
	c.mu.Unlock()

	var err error
	if wasLoggedIn {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _, err = c.do(ctx, "logout", http.MethodPost, "/api/v1/accounts/logout/", url.Values{})
	}

	jar, _ := cookiejar.New(nil)
	c.mu.Lock()
	c.loggedIn = false
	c.authorization = ""
	c.blocked = nil
	c.httpClient.Jar = jar
	c.mu.Unlock()
	c.ids.Flush()

	if err != nil {
		c.logger.WithError(err).Warn("Session logout failed")
	}
	return nil
}

// UserID resolves a username to its numeric id, memoised for an hour
func (c *Client) UserID(ctx context.Context, username string) (string, error) {
	if id, ok := c.ids.Get(username); ok {
		return id.(string), nil
	}

	q := url.Values{}
	q.Set("username", username)
	resp, body, err := c.do(ctx, "user_id", http.MethodGet, "/api/v1/users/web_profile_info/?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", c.classify(resp.StatusCode, body)
	}

	var wp webProfileResponse
	if err := json.Unmarshal(body, &wp); err != nil {
		return "", errs.Wrap(errs.KindUnknown, err, "failed to parse profile info")
	}
	if wp.Data.User == nil || wp.Data.User.ID == "" {
		return "", errs.Newf(errs.KindNotFound, "user %s not found", username)
	}

	c.ids.SetDefault(username, wp.Data.User.ID)
	return wp.Data.User.ID, nil
}

// EnsureFollowing follows userID when the account does not follow it yet,
// then pauses for the cooldown. Friendship failures are logged and ignored
// because public profiles stay readable without following, except BLOCKED
// which latches like everywhere else.
func (c *Client) EnsureFollowing(ctx context.Context, userID, username string) (bool, error) {
	log := c.logger.WithField("profile", username)

	resp, body, err := c.do(ctx, "friendship_show", http.MethodGet, "/api/v1/friendships/show/"+userID+"/", nil)
	if err == nil && resp.StatusCode != http.StatusOK {
		err = c.classify(resp.StatusCode, body)
	}
	if err != nil {
		if errs.IsKind(err, errs.KindBlocked) {
			return false, err
		}
		log.WithError(err).Warn("Could not read friendship status")
		return false, nil
	}

	var status friendshipStatus
	if err := json.Unmarshal(body, &status); err != nil {
		log.WithError(err).Warn("Could not parse friendship status")
		return false, nil
	}
	if status.Following || status.OutgoingRequest {
		log.Debug("Already following")
		return false, nil
	}

	form := url.Values{}
	form.Set("user_id", userID)
	form.Set("device_id", c.deviceID)
	resp, body, err = c.do(ctx, "friendship_create", http.MethodPost, "/api/v1/friendships/create/"+userID+"/", form)
	if err == nil && resp.StatusCode != http.StatusOK {
		err = c.classify(resp.StatusCode, body)
	}
	if err != nil {
		if errs.IsKind(err, errs.KindBlocked) {
			return false, err
		}
		log.WithError(err).Warn("Could not follow profile")
		return false, nil
	}

	log.WithField("cooldown", c.cooldown).Info("Followed profile")
	if err := retry.Wait(ctx, c.cooldown); err != nil {
		return true, errs.Wrap(errs.KindTransient, err, "cooldown interrupted")
	}
	return true, nil
}

// Feed returns up to limit items of the user's feed
func (c *Client) Feed(ctx context.Context, userID string, limit int) ([]FeedItem, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("count", strconv.Itoa(limit))
	}
	resp, body, err := c.do(ctx, "feed", http.MethodGet, "/api/v1/feed/user/"+userID+"/?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.classify(resp.StatusCode, body)
	}

	var feed feedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, errs.Wrap(errs.KindUnknown, err, "failed to parse feed")
	}
	if limit > 0 && len(feed.Items) > limit {
		feed.Items = feed.Items[:limit]
	}
	return feed.Items, nil
}

// do sends one request, refusing when the client is latched BLOCKED
func (c *Client) do(ctx context.Context, operation, method, path string, form url.Values) (*http.Response, []byte, error) {
	if err := c.Blocked(); err != nil {
		return nil, nil, err
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindUnknown, err, "failed to create request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-IG-App-ID", appID)
	req.Header.Set("X-IG-Device-ID", c.deviceID)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	c.mu.Lock()
	if c.authorization != "" {
		req.Header.Set("Authorization", c.authorization)
	}
	c.mu.Unlock()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("session", operation, req.URL.Host, start, err)
		logger.LogRequest(c.logger, method, path, 0, time.Since(start))
		return nil, nil, errs.Wrap(errs.KindTransient, err, "network error")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	metrics.ObserveNetworkRequest("session", operation, req.URL.Host, start, err)
	logger.LogRequest(c.logger, method, path, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindTransient, err, "failed to read response body")
	}

	if isBlocked(resp.StatusCode, data) {
		return nil, nil, c.latch(data)
	}
	return resp, data, nil
}

// isBlocked looks for a challenge only in failure responses: a non-2xx
// status or a status:"fail" envelope. Successful payloads carry captions and
// biographies, which may contain any word.
func isBlocked(status int, body []byte) bool {
	var env failureEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		if status >= 200 && status < 300 {
			return false
		}
		return hasBlockMarker(string(body))
	}
	if env.Status != "fail" && status >= 200 && status < 300 {
		return false
	}
	if env.CheckpointURL != "" || (len(env.Challenge) > 0 && string(env.Challenge) != "null") {
		return true
	}
	return hasBlockMarker(env.Message) || hasBlockMarker(env.ErrorType)
}

func hasBlockMarker(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range blockMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func (c *Client) latch(body []byte) *errs.Error {
	msg := "account challenged by Instagram"
	var lr loginResponse
	if json.Unmarshal(body, &lr) == nil && lr.Message != "" {
		msg = lr.Message
	}
	blocked := errs.New(errs.KindBlocked, msg)

	c.mu.Lock()
	c.blocked = blocked
	c.mu.Unlock()

	c.logger.WithField("username", c.username).Error("Session account blocked by challenge, refusing further calls this run")
	return blocked
}

// classify maps a non-200 private API response to the taxonomy
func (c *Client) classify(status int, body []byte) *errs.Error {
	var lr loginResponse
	_ = json.Unmarshal(body, &lr)
	msg := lr.Message
	text := strings.ToLower(string(body))

	switch {
	case strings.Contains(text, "bad_password"), strings.Contains(text, "invalid_credentials"),
		strings.Contains(text, "invalid_user"), strings.Contains(text, "login_required"):
		if msg == "" {
			msg = "session credentials rejected"
		}
		return errs.New(errs.KindAuthInvalid, msg).WithCode(status)
	case status == http.StatusTooManyRequests, strings.Contains(text, "rate_limit"),
		strings.Contains(text, "please wait a few minutes"):
		if msg == "" {
			msg = "session rate limited"
		}
		return errs.New(errs.KindRateLimited, msg).WithCode(status)
	case status == http.StatusNotFound, strings.Contains(text, "user not found"):
		if msg == "" {
			msg = "user not found"
		}
		return errs.New(errs.KindNotFound, msg).WithCode(status)
	}
	return errs.FromStatus(status, msg)
}
