// Package normalize turns the raw records of each acquisition source into
// models.Post. Every function is pure apart from the injected clock and the
// random suffix of synthesized ids.
//
// When a record carries no usable timestamp the post is stamped with the
// acquisition time and marked LowConfidenceTime; callers log that.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"igsync/internal/fields"
	"igsync/pkg/apify"
	"igsync/pkg/instagram"
	"igsync/pkg/models"
	"igsync/pkg/session"
)

// Prefixes of synthesized external ids, one per source
const (
	PrefixOfficial = "official"
	PrefixSession  = "private_api"
	PrefixApify    = "apify"
	PrefixWeb      = "web"
	PrefixCache    = "cache"
	PrefixManual   = "manual"
)

// SyntheticID builds a strategy-prefixed id for records that carry none
func SyntheticID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// LooksLikeVideo is the URL heuristic used when a source gives no type hint
func LooksLikeVideo(mediaURL string) bool {
	lower := strings.ToLower(mediaURL)
	return strings.Contains(lower, "video") || strings.Contains(lower, ".mp4")
}

func kindFor(video bool) models.MediaKind {
	if video {
		return models.MediaVideo
	}
	return models.MediaImage
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func publishedOr(t time.Time, ok bool, now time.Time) (time.Time, bool) {
	if ok && !t.IsZero() {
		return t.UTC(), false
	}
	return now.UTC(), true
}

func idOr(id, prefix string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return SyntheticID(prefix)
}

// Graph normalizes an official API media item. Videos prefer the thumbnail
// so the event gets a still image.
func Graph(m instagram.Media, now time.Time) models.Post {
	video := strings.EqualFold(m.MediaType, "VIDEO")
	mediaURL := m.MediaURL
	if video && m.ThumbnailURL != "" {
		mediaURL = m.ThumbnailURL
	}
	ts, ok := fields.ParseTime(m.Timestamp)
	published, low := publishedOr(ts, ok, now)

	return models.Post{
		ExternalID:        idOr(m.ID, PrefixOfficial),
		Caption:           m.Caption,
		MediaKind:         kindFor(video),
		MediaURL:          optional(mediaURL),
		Permalink:         instagram.CanonicalPermalink(m.Permalink),
		PublishedAt:       published,
		Origin:            models.OriginOfficial,
		LowConfidenceTime: low,
	}
}

// Session normalizes a private feed item
func Session(item session.FeedItem, now time.Time) models.Post {
	var ts time.Time
	if item.TakenAt > 0 {
		ts = time.Unix(item.TakenAt, 0)
	}
	published, low := publishedOr(ts, item.TakenAt > 0, now)

	permalink := ""
	if item.Code != "" {
		permalink = instagram.PostURL(item.Code)
	}
	return models.Post{
		ExternalID:        idOr(item.Identifier(), PrefixSession),
		Caption:           item.CaptionText(),
		MediaKind:         kindFor(item.IsVideo()),
		MediaURL:          optional(item.BestMediaURL()),
		Permalink:         permalink,
		PublishedAt:       published,
		Origin:            models.OriginSession,
		LowConfidenceTime: low,
	}
}

// Apify field tables, tried top to bottom
var (
	ApifyTimeFields = []fields.Accessor{
		fields.Key("timestamp"),
		fields.Key("uploadDate"),
		fields.Key("createdAt"),
		fields.Key("takenAt"),
		fields.Key("date"),
		fields.Key("timestampISO"),
	}
	ApifyMediaFields = []fields.Accessor{
		fields.Key("displayUrl"),
		fields.Key("imageUrl"),
		fields.Key("image"),
		fields.Key("thumbnailUrl"),
		fields.Key("thumbnail"),
		fields.Index("images", 0),
		fields.Index("images", -1),
		fields.Index("displayResourceUrls", 0),
		fields.Index("displayResourceUrls", -1),
		fields.IndexKey("sidecarChildren", 0, "displayUrl"),
		fields.Key("videoUrl"),
		fields.Key("videoThumbnailUrl"),
	}
	ApifyIDFields = []fields.Accessor{
		fields.Key("shortCode"),
		fields.Key("id"),
	}
	ApifyCaptionFields = []fields.Accessor{
		fields.Key("caption"),
		fields.Key("text"),
		fields.Key("description"),
	}
)

// Apify normalizes one managed scraper dataset item
func Apify(item apify.Item, now time.Time) models.Post {
	ts, ok := fields.FirstTime(item, ApifyTimeFields)
	published, low := publishedOr(ts, ok, now)

	mediaURL, _ := fields.FirstString(item, ApifyMediaFields, fields.IsHTTPURL)
	id, _ := fields.FirstString(item, ApifyIDFields, nil)
	caption, _ := fields.FirstString(item, ApifyCaptionFields, nil)
	shortCode, _ := fields.FirstString(item, []fields.Accessor{fields.Key("shortCode")}, nil)

	permalink, _ := fields.FirstString(item, []fields.Accessor{fields.Key("url")}, fields.IsHTTPURL)
	if permalink == "" && shortCode != "" {
		permalink = instagram.PostURL(shortCode)
	}

	typ, _ := item["type"].(string)
	isVideo, _ := item["isVideo"].(bool)

	return models.Post{
		ExternalID:        idOr(id, PrefixApify),
		Caption:           caption,
		MediaKind:         kindFor(strings.EqualFold(typ, "Video") || isVideo),
		MediaURL:          optional(mediaURL),
		Permalink:         instagram.CanonicalPermalink(permalink),
		PublishedAt:       published,
		Origin:            models.OriginManagedScraper,
		LowConfidenceTime: low,
	}
}

// Web normalizes a public profile page timeline node
func Web(n instagram.Node, now time.Time) models.Post {
	var ts time.Time
	if n.TakenAtTimestamp > 0 {
		ts = time.Unix(n.TakenAtTimestamp, 0)
	}
	published, low := publishedOr(ts, n.TakenAtTimestamp > 0, now)

	mediaURL := n.DisplayURL
	if mediaURL == "" {
		mediaURL = n.ThumbnailSrc
	}
	permalink := ""
	if n.Shortcode != "" {
		permalink = instagram.PostURL(n.Shortcode)
	}
	return models.Post{
		ExternalID:        idOr(n.ID, PrefixWeb),
		Caption:           n.CaptionText(),
		MediaKind:         kindFor(n.IsVideo),
		MediaURL:          optional(mediaURL),
		Permalink:         permalink,
		PublishedAt:       published,
		Origin:            models.OriginWebPage,
		LowConfidenceTime: low,
	}
}

// CachedPermalink is the stand-in permalink of a stored event without source URL
func CachedPermalink(eventID string) string {
	return fmt.Sprintf("%s/p/cached_%s/", instagram.WebBaseURL, eventID)
}

// Cache replays a stored event as a post. The timestamp falls back from
// published_at to the event date to the creation time.
func Cache(ev models.Event, now time.Time) models.Post {
	var ts time.Time
	switch {
	case ev.PublishedAt != nil && !ev.PublishedAt.IsZero():
		ts = *ev.PublishedAt
	case ev.Date != nil && !ev.Date.IsZero():
		ts = *ev.Date
	default:
		ts = ev.CreatedAt
	}
	published, low := publishedOr(ts, !ts.IsZero(), now)

	permalink := ev.SourceURL
	if permalink == "" {
		permalink = CachedPermalink(ev.ID)
	}
	externalID := ev.ExternalID
	if externalID == "" && ev.ID != "" {
		externalID = PrefixCache + "_" + ev.ID
	}
	return models.Post{
		ExternalID:        idOr(externalID, PrefixCache),
		Caption:           ev.Caption,
		MediaKind:         kindFor(LooksLikeVideo(ev.ImageURL)),
		MediaURL:          optional(ev.ImageURL),
		Permalink:         instagram.CanonicalPermalink(permalink),
		PublishedAt:       published,
		Origin:            models.OriginCache,
		LowConfidenceTime: low,
	}
}

// ManualInput is an operator-submitted post
type ManualInput struct {
	Caption     string     `json:"caption"`
	MediaURL    string     `json:"media_url"`
	Permalink   string     `json:"permalink"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Manual normalizes an operator submission
func Manual(in ManualInput, now time.Time) models.Post {
	var ts time.Time
	if in.PublishedAt != nil {
		ts = *in.PublishedAt
	}
	published, low := publishedOr(ts, !ts.IsZero(), now)

	externalID := ""
	if code := instagram.ShortcodeFromURL(in.Permalink); code != "" {
		externalID = PrefixManual + "_" + code
	}
	return models.Post{
		ExternalID:        idOr(externalID, PrefixManual),
		Caption:           in.Caption,
		MediaKind:         kindFor(LooksLikeVideo(in.MediaURL)),
		MediaURL:          optional(in.MediaURL),
		Permalink:         instagram.CanonicalPermalink(in.Permalink),
		PublishedAt:       published,
		Origin:            models.OriginManual,
		LowConfidenceTime: low,
	}
}
