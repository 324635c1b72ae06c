package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"igsync/pkg/config"
	errs "igsync/pkg/errors"
	"igsync/pkg/logger"
)

const timelineKey = "edge_owner_to_timeline_media"

// WebClient reads a public profile without credentials
type WebClient struct {
	*client
}

// NewWebClient creates a client for the public web surfaces
func NewWebClient(cfg config.InstagramConfig, log logger.Logger, opts ...Option) *WebClient {
	base := cfg.WebBaseURL
	if base == "" {
		base = WebBaseURL
	}
	c := newClient("web", base, cfg.Timeout, log, opts)
	// the browser headers the web app sends; without them the JSON endpoint refuses
	for k, v := range map[string]string{
		"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		"Accept-Language": "en-US,en;q=0.9",
		"X-IG-App-ID":     WebAppID,
	} {
		if _, set := c.headers[k]; !set {
			c.headers[k] = v
		}
	}
	return &WebClient{client: c}
}

// FetchTimeline returns the recent timeline nodes of username.
// The JSON endpoint is tried first; the profile HTML is the fallback.
func (w *WebClient) FetchTimeline(ctx context.Context, username string) ([]Node, error) {
	username = SanitizeUsername(username)
	if !IsValidUsername(username) {
		return nil, errs.Newf(errs.KindNotFound, "invalid username %q", username)
	}

	nodes, err := w.fetchProfileJSON(ctx, username)
	if err == nil {
		return nodes, nil
	}
	// these will not improve by parsing HTML
	if errs.IsKind(err, errs.KindBlocked) || errs.IsKind(err, errs.KindRateLimited) || errs.IsKind(err, errs.KindNotFound) {
		return nil, err
	}

	w.logger.WithField("username", username).WithError(err).Debug("Profile JSON unavailable, scanning page HTML")
	return w.fetchProfileHTML(ctx, username)
}

func (w *WebClient) fetchProfileJSON(ctx context.Context, username string) ([]Node, error) {
	params := url.Values{}
	params.Set("username", username)

	status, body, err := w.get(ctx, "web_profile_info", w.baseURL+WebProfileEndpoint+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, webStatusError(status)
	}

	var resp WebProfileResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errs.Wrap(errs.KindUnknown, err, "failed to parse profile JSON")
	}
	if resp.RequiresToLogin {
		return nil, errs.New(errs.KindBlocked, "Instagram requires login to view this profile")
	}
	if resp.Data.User == nil {
		return nil, errs.Newf(errs.KindNotFound, "profile %s not found", username)
	}
	return nodesOf(resp.Data.User.EdgeOwnerToTimelineMedia), nil
}

func (w *WebClient) fetchProfileHTML(ctx context.Context, username string) ([]Node, error) {
	c := *w.client
	c.headers = map[string]string{}
	for k, v := range w.headers {
		c.headers[k] = v
	}
	c.headers["Accept"] = "text/html,application/xhtml+xml"

	status, body, err := c.get(ctx, "profile_page", w.baseURL+"/"+url.PathEscape(username)+"/")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, webStatusError(status)
	}
	if bytes.Contains(body, []byte(`"requires_to_login":true`)) {
		return nil, errs.New(errs.KindBlocked, "Instagram requires login to view this profile")
	}

	media, ok := TimelineFromHTML(body)
	if !ok {
		return nil, errs.New(errs.KindUnknown, "no timeline data embedded in profile page")
	}
	return nodesOf(media), nil
}

// webStatusError classifies a web response. There is no credential on this
// path, so 401/403 mean a login wall rather than a bad token.
func webStatusError(status int) *errs.Error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return errs.New(errs.KindBlocked, "login wall").WithCode(status)
	}
	return errs.FromStatus(status, "")
}

// TimelineFromHTML scans the JSON blobs embedded in a profile page for the
// timeline edge, wherever it is nested.
func TimelineFromHTML(page []byte) (TimelineMedia, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return TimelineMedia{}, false
	}

	var (
		found TimelineMedia
		ok    bool
	)
	doc.Find(`script[type="application/json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(text, timelineKey) {
			return true
		}
		var blob any
		if json.Unmarshal([]byte(text), &blob) != nil {
			return true
		}
		raw, hit := findKey(blob, timelineKey)
		if !hit {
			return true
		}
		encoded, err := json.Marshal(raw)
		if err != nil {
			return true
		}
		if json.Unmarshal(encoded, &found) == nil {
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// findKey walks decoded JSON depth-first and returns the first value under key
func findKey(v any, key string) (any, bool) {
	switch x := v.(type) {
	case map[string]any:
		if hit, ok := x[key]; ok {
			return hit, true
		}
		for _, child := range x {
			if hit, ok := findKey(child, key); ok {
				return hit, true
			}
		}
	case []any:
		for _, child := range x {
			if hit, ok := findKey(child, key); ok {
				return hit, true
			}
		}
	}
	return nil, false
}

func nodesOf(media TimelineMedia) []Node {
	nodes := make([]Node, 0, len(media.Edges))
	for _, e := range media.Edges {
		nodes = append(nodes, e.Node)
	}
	return nodes
}
