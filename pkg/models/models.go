// Package models holds the records shared by acquisition, deduplication and
// event creation.
package models

import (
	"errors"
	"sort"
	"time"
)

// ErrProfileNotFound is returned by profile registries for unknown IDs
var ErrProfileNotFound = errors.New("profile not found")

// MediaKind classifies a post's primary media
type MediaKind string

const (
	MediaImage MediaKind = "IMAGE"
	MediaVideo MediaKind = "VIDEO"
)

// Origin tags which acquisition path produced a post
type Origin string

const (
	OriginOfficial       Origin = "OFFICIAL"
	OriginSession        Origin = "SESSION"
	OriginManagedScraper Origin = "MANAGED_SCRAPER"
	OriginCache          Origin = "CACHE"
	OriginWebPage        Origin = "WEB_PAGE"
	OriginManual         Origin = "MANUAL"
)

// Post is the canonical, strategy-independent form of a source post.
// Permalink identifies the post across strategies.
type Post struct {
	ExternalID  string    `json:"external_id"`
	Caption     string    `json:"caption"`
	MediaKind   MediaKind `json:"media_kind"`
	MediaURL    *string   `json:"media_url,omitempty"`
	Permalink   string    `json:"permalink"`
	PublishedAt time.Time `json:"published_at"`
	Origin      Origin    `json:"origin"`

	// LowConfidenceTime is set when PublishedAt fell back to acquisition time
	LowConfidenceTime bool `json:"-"`
}

// MediaURLOrEmpty returns the media URL or ""
func (p Post) MediaURLOrEmpty() string {
	if p.MediaURL == nil {
		return ""
	}
	return *p.MediaURL
}

// SortNewestFirst orders posts by PublishedAt descending, keeping the
// relative order of equal timestamps.
func SortNewestFirst(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].PublishedAt.After(posts[j].PublishedAt)
	})
}

// Profile is a monitored account
type Profile struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	Username string `json:"username"`
	// Timezone is used to decide whether an event date lies in the past
	Timezone string `json:"timezone,omitempty"`
}

// EventStatus is the moderation state of an event
type EventStatus string

const (
	StatusPending  EventStatus = "pending"
	StatusApproved EventStatus = "approved"
)

// Event is a listing entry created from a post
type Event struct {
	ID          string      `json:"id"`
	ProfileID   string      `json:"profile_id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Date        *time.Time  `json:"date,omitempty"`
	Location    string      `json:"location"`
	ImageURL    string      `json:"image_url,omitempty"`
	MediaKind   MediaKind   `json:"media_kind"`
	SourceURL   string      `json:"source_url"`
	Caption     string      `json:"caption"`
	ExternalID  string      `json:"external_id"`
	Origin      Origin      `json:"origin"`
	Status      EventStatus `json:"status"`
	PublishedAt *time.Time  `json:"published_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// EventDraft is what the creator hands to the store
type EventDraft struct {
	ProfileID   string
	Title       string
	Description string
	Date        *time.Time
	Location    string
	ImageURL    string
	MediaKind   MediaKind
	SourceURL   string
	Caption     string
	ExternalID  string
	Origin      Origin
	Status      EventStatus
	PublishedAt *time.Time
}

// DeletionRecord is a tombstone for an event the operator removed
type DeletionRecord struct {
	Permalink string    `json:"permalink"`
	ProfileID string    `json:"profile_id"`
	DeletedAt time.Time `json:"deleted_at"`
}
