package instagram

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	// GraphBaseURL is the official Graph API host
	GraphBaseURL = "https://graph.instagram.com"

	// WebBaseURL is the public web host
	WebBaseURL = "https://www.instagram.com"

	// WebProfileEndpoint returns profile JSON for the web app
	WebProfileEndpoint = "/api/v1/users/web_profile_info/"

	// MediaFields lists the Graph media fields requested
	MediaFields = "id,caption,media_type,media_url,permalink,timestamp,thumbnail_url"

	// DefaultMediaLimit is used when a caller asks for zero posts
	DefaultMediaLimit = 12

	// MaxMediaLimit is the largest page the Graph API serves
	MaxMediaLimit = 100
)

// WebAppID is the X-IG-App-ID the public web client sends
const WebAppID = "936619743392459"

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultMediaLimit
	}
	if limit > MaxMediaLimit {
		return MaxMediaLimit
	}
	return limit
}

// PostURL constructs the canonical URL of a post
func PostURL(shortcode string) string {
	if shortcode == "" {
		return ""
	}
	return WebBaseURL + "/p/" + shortcode + "/"
}

// ProfileURL constructs the public profile URL for a user
func ProfileURL(username string) string {
	if username == "" {
		return ""
	}
	return WebBaseURL + "/" + username + "/"
}

var postPath = regexp.MustCompile(`^/(?:[A-Za-z0-9._]+/)?(?:p|reel|reels|tv)/([A-Za-z0-9_-]+)/?$`)

// CanonicalPermalink rewrites any instagram.com post, reel or tv URL to
// https://www.instagram.com/p/{shortcode}/ so one post has one identity
// whichever source reported it. Other URLs are returned unchanged.
func CanonicalPermalink(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || !strings.HasSuffix(strings.ToLower(u.Hostname()), "instagram.com") {
		return raw
	}
	m := postPath.FindStringSubmatch(u.Path)
	if m == nil {
		return raw
	}
	return PostURL(m[1])
}

// ShortcodeFromURL extracts the shortcode of a post URL, or ""
func ShortcodeFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	if m := postPath.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	return ""
}

// IsValidUsername checks Instagram's username rules: up to 30 letters,
// digits, periods and underscores
func IsValidUsername(username string) bool {
	if username == "" || len(username) > 30 {
		return false
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_':
		default:
			return false
		}
	}
	return true
}

// SanitizeUsername strips a leading @, a profile URL prefix and trailing slashes
func SanitizeUsername(username string) string {
	username = strings.TrimSpace(username)
	for _, prefix := range []string{"https://www.instagram.com/", "https://instagram.com/", "http://www.instagram.com/", "instagram.com/"} {
		username = strings.TrimPrefix(username, prefix)
	}
	username = strings.TrimPrefix(username, "@")
	return strings.TrimRight(username, "/ ")
}
