package normalize

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igsync/pkg/apify"
	"igsync/pkg/instagram"
	"igsync/pkg/models"
	"igsync/pkg/session"
)

var now = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

func TestGraph(t *testing.T) {
	t.Run("image", func(t *testing.T) {
		p := Graph(instagram.Media{
			ID:        "17900",
			Caption:   "Samba na sexta",
			MediaType: "IMAGE",
			MediaURL:  "https://cdn/a.jpg",
			Permalink: "https://www.instagram.com/bar_y/p/AAA/",
			Timestamp: "2024-03-15T21:00:00+0000",
		}, now)

		assert.Equal(t, "17900", p.ExternalID)
		assert.Equal(t, models.MediaImage, p.MediaKind)
		assert.Equal(t, "https://cdn/a.jpg", p.MediaURLOrEmpty())
		assert.Equal(t, "https://www.instagram.com/p/AAA/", p.Permalink)
		assert.Equal(t, time.Date(2024, 3, 15, 21, 0, 0, 0, time.UTC), p.PublishedAt)
		assert.Equal(t, models.OriginOfficial, p.Origin)
		assert.False(t, p.LowConfidenceTime)
	})

	t.Run("video prefers thumbnail", func(t *testing.T) {
		p := Graph(instagram.Media{ID: "1", MediaType: "VIDEO", MediaURL: "https://cdn/v.mp4", ThumbnailURL: "https://cdn/v.jpg"}, now)
		assert.Equal(t, models.MediaVideo, p.MediaKind)
		assert.Equal(t, "https://cdn/v.jpg", p.MediaURLOrEmpty())
	})

	t.Run("video without thumbnail", func(t *testing.T) {
		p := Graph(instagram.Media{ID: "1", MediaType: "VIDEO", MediaURL: "https://cdn/v.mp4"}, now)
		assert.Equal(t, "https://cdn/v.mp4", p.MediaURLOrEmpty())
	})

	t.Run("missing fields", func(t *testing.T) {
		p := Graph(instagram.Media{MediaType: "CAROUSEL_ALBUM"}, now)
		assert.True(t, strings.HasPrefix(p.ExternalID, PrefixOfficial+"_"))
		assert.Nil(t, p.MediaURL)
		assert.Equal(t, now, p.PublishedAt)
		assert.True(t, p.LowConfidenceTime)
	})
}

func TestSession(t *testing.T) {
	p := Session(session.FeedItem{
		PK:            31,
		Code:          "BBB",
		TakenAt:       1710536400,
		Caption:       &session.Caption{Text: "Pagode"},
		VideoVersions: []session.Candidate{{URL: "https://cdn/b.mp4"}},
	}, now)

	assert.Equal(t, "31", p.ExternalID)
	assert.Equal(t, "Pagode", p.Caption)
	assert.Equal(t, models.MediaVideo, p.MediaKind)
	assert.Equal(t, "https://www.instagram.com/p/BBB/", p.Permalink)
	assert.Equal(t, time.Unix(1710536400, 0).UTC(), p.PublishedAt)
	assert.Equal(t, models.OriginSession, p.Origin)

	bare := Session(session.FeedItem{}, now)
	assert.True(t, strings.HasPrefix(bare.ExternalID, PrefixSession+"_"))
	assert.Empty(t, bare.Permalink)
	assert.True(t, bare.LowConfidenceTime)
}

func decodeItem(t *testing.T, raw string) apify.Item {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var item apify.Item
	require.NoError(t, dec.Decode(&item))
	return item
}

func TestApifyTimestampCandidates(t *testing.T) {
	want := time.Date(2024, 3, 15, 21, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		raw  string
	}{
		{"iso timestamp", `{"timestamp":"2024-03-15T21:00:00.000Z"}`},
		{"unix uploadDate", `{"uploadDate":1710536400}`},
		{"createdAt string", `{"createdAt":"2024-03-15T21:00:00Z"}`},
		{"takenAt millis", `{"takenAt":1710536400000}`},
		{"date", `{"date":"2024-03-15 21:00:00"}`},
		{"timestampISO last", `{"timestampISO":"2024-03-15T21:00:00Z"}`},
		{"first usable wins", `{"timestamp":"","uploadDate":1710536400,"date":"1999-01-01"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Apify(decodeItem(t, tt.raw), now)
			assert.Equal(t, want, p.PublishedAt)
			assert.False(t, p.LowConfidenceTime)
		})
	}

	p := Apify(decodeItem(t, `{"shortCode":"X"}`), now)
	assert.Equal(t, now, p.PublishedAt)
	assert.True(t, p.LowConfidenceTime)
}

func TestApifyMediaCandidates(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"displayUrl", `{"displayUrl":"https://cdn/d.jpg","imageUrl":"https://cdn/i.jpg"}`, "https://cdn/d.jpg"},
		{"skips non http", `{"displayUrl":"/relative.jpg","imageUrl":"https://cdn/i.jpg"}`, "https://cdn/i.jpg"},
		{"images first", `{"images":["https://cdn/0.jpg","https://cdn/1.jpg"]}`, "https://cdn/0.jpg"},
		{"images last when first unusable", `{"images":[null,"https://cdn/1.jpg"]}`, "https://cdn/1.jpg"},
		{"image objects", `{"displayResourceUrls":[{"url":"https://cdn/r.jpg"}]}`, "https://cdn/r.jpg"},
		{"sidecar child", `{"sidecarChildren":[{"displayUrl":"https://cdn/s.jpg"}]}`, "https://cdn/s.jpg"},
		{"video url", `{"videoUrl":"https://cdn/v.mp4"}`, "https://cdn/v.mp4"},
		{"video thumbnail last", `{"videoThumbnailUrl":"https://cdn/vt.jpg"}`, "https://cdn/vt.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Apify(decodeItem(t, tt.raw), now).MediaURLOrEmpty())
		})
	}

	assert.Nil(t, Apify(decodeItem(t, `{"displayUrl":""}`), now).MediaURL)
}

func TestApifyIdentity(t *testing.T) {
	p := Apify(decodeItem(t, `{"id":"3301","shortCode":"CCC","caption":"Forró","type":"Video"}`), now)
	assert.Equal(t, "CCC", p.ExternalID)
	assert.Equal(t, "https://www.instagram.com/p/CCC/", p.Permalink)
	assert.Equal(t, "Forró", p.Caption)
	assert.Equal(t, models.MediaVideo, p.MediaKind)
	assert.Equal(t, models.OriginManagedScraper, p.Origin)

	withURL := Apify(decodeItem(t, `{"id":3301,"url":"https://www.instagram.com/reel/DDD/","text":"alt caption"}`), now)
	assert.Equal(t, "3301", withURL.ExternalID)
	assert.Equal(t, "https://www.instagram.com/p/DDD/", withURL.Permalink)
	assert.Equal(t, "alt caption", withURL.Caption)
	assert.Equal(t, models.MediaImage, withURL.MediaKind)

	anon := Apify(decodeItem(t, `{}`), now)
	assert.True(t, strings.HasPrefix(anon.ExternalID, PrefixApify+"_"))
	assert.Empty(t, anon.Permalink)
}

func TestWeb(t *testing.T) {
	n := instagram.Node{ID: "9", Shortcode: "ZZZ", ThumbnailSrc: "https://cdn/t.jpg", IsVideo: true, TakenAtTimestamp: 1710536400}
	p := Web(n, now)

	assert.Equal(t, "9", p.ExternalID)
	assert.Equal(t, "https://cdn/t.jpg", p.MediaURLOrEmpty())
	assert.Equal(t, models.MediaVideo, p.MediaKind)
	assert.Equal(t, "https://www.instagram.com/p/ZZZ/", p.Permalink)
	assert.Equal(t, models.OriginWebPage, p.Origin)
}

func TestCache(t *testing.T) {
	published := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	date := time.Date(2024, 3, 22, 0, 0, 0, 0, time.UTC)
	created := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

	p := Cache(models.Event{
		ID:          "ev1",
		SourceURL:   "https://www.instagram.com/p/AAA/",
		ImageURL:    "https://cdn/video/a.jpg",
		Caption:     "c",
		PublishedAt: &published,
		Date:        &date,
		CreatedAt:   created,
	}, now)
	assert.Equal(t, published, p.PublishedAt)
	assert.Equal(t, "https://www.instagram.com/p/AAA/", p.Permalink)
	assert.Equal(t, models.MediaVideo, p.MediaKind)
	assert.Equal(t, "cache_ev1", p.ExternalID)
	assert.Equal(t, models.OriginCache, p.Origin)

	noPublished := Cache(models.Event{ID: "ev2", Date: &date, CreatedAt: created}, now)
	assert.Equal(t, date, noPublished.PublishedAt)
	assert.Equal(t, "https://www.instagram.com/p/cached_ev2/", noPublished.Permalink)

	onlyCreated := Cache(models.Event{ID: "ev3", CreatedAt: created}, now)
	assert.Equal(t, created, onlyCreated.PublishedAt)
	assert.False(t, onlyCreated.LowConfidenceTime)
}

func TestManual(t *testing.T) {
	p := Manual(ManualInput{
		Caption:   "Show",
		MediaURL:  "https://cdn/clip.MP4",
		Permalink: "https://instagram.com/p/MMM",
	}, now)

	assert.Equal(t, "manual_MMM", p.ExternalID)
	assert.Equal(t, models.MediaVideo, p.MediaKind)
	assert.Equal(t, "https://www.instagram.com/p/MMM/", p.Permalink)
	assert.Equal(t, models.OriginManual, p.Origin)
	assert.True(t, p.LowConfidenceTime)
}

func TestLooksLikeVideo(t *testing.T) {
	assert.True(t, LooksLikeVideo("https://cdn/x.mp4?sig=1"))
	assert.True(t, LooksLikeVideo("https://video.cdn/x"))
	assert.False(t, LooksLikeVideo("https://cdn/x.jpg"))
	assert.False(t, LooksLikeVideo(""))
}

func TestSortNewestFirstAfterNormalize(t *testing.T) {
	posts := []models.Post{
		Session(session.FeedItem{PK: 1, TakenAt: 100}, now),
		Session(session.FeedItem{PK: 2, TakenAt: 300}, now),
		Session(session.FeedItem{PK: 3, TakenAt: 200}, now),
	}
	models.SortNewestFirst(posts)

	for i := 1; i < len(posts); i++ {
		assert.False(t, posts[i].PublishedAt.After(posts[i-1].PublishedAt))
	}
	assert.Equal(t, "2", posts[0].ExternalID)
}
