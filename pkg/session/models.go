package session

import (
	"encoding/json"
	"strconv"
)

// FeedItem is one post of the private user feed
type FeedItem struct {
	ID        string   `json:"id"`
	PK        int64    `json:"pk"`
	Code      string   `json:"code"`
	TakenAt   int64    `json:"taken_at"`
	MediaType int      `json:"media_type"`
	Caption   *Caption `json:"caption"`

	ImageVersions2 *ImageVersions `json:"image_versions2"`
	VideoVersions  []Candidate    `json:"video_versions"`
	CarouselMedia  []FeedItem     `json:"carousel_media"`
}

// Caption is the caption object of a feed item
type Caption struct {
	Text string `json:"text"`
}

// ImageVersions lists renditions of an image
type ImageVersions struct {
	Candidates []Candidate `json:"candidates"`
}

// Candidate is one rendition
type Candidate struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Identifier returns id, then pk, or "" when the item carries neither
func (f FeedItem) Identifier() string {
	if f.ID != "" {
		return f.ID
	}
	if f.PK != 0 {
		return strconv.FormatInt(f.PK, 10)
	}
	return ""
}

// CaptionText returns the caption or ""
func (f FeedItem) CaptionText() string {
	if f.Caption == nil {
		return ""
	}
	return f.Caption.Text
}

// IsVideo reports whether the item has video renditions
func (f FeedItem) IsVideo() bool {
	return len(f.VideoVersions) > 0
}

// BestMediaURL prefers the first image rendition, then video, then the first carousel image
func (f FeedItem) BestMediaURL() string {
	if f.ImageVersions2 != nil && len(f.ImageVersions2.Candidates) > 0 && f.ImageVersions2.Candidates[0].URL != "" {
		return f.ImageVersions2.Candidates[0].URL
	}
	if len(f.VideoVersions) > 0 && f.VideoVersions[0].URL != "" {
		return f.VideoVersions[0].URL
	}
	if len(f.CarouselMedia) > 0 {
		first := f.CarouselMedia[0]
		if first.ImageVersions2 != nil && len(first.ImageVersions2.Candidates) > 0 {
			return first.ImageVersions2.Candidates[0].URL
		}
	}
	return ""
}

// failureEnvelope is the part of any private API response that signals a
// challenge
type failureEnvelope struct {
	Status        string          `json:"status"`
	Message       string          `json:"message"`
	ErrorType     string          `json:"error_type"`
	CheckpointURL string          `json:"checkpoint_url"`
	Challenge     json.RawMessage `json:"challenge"`
}

type loginResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	ErrorType    string `json:"error_type"`
	LoggedInUser *struct {
		PK       int64  `json:"pk"`
		Username string `json:"username"`
	} `json:"logged_in_user"`
}

type webProfileResponse struct {
	Data struct {
		User *struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
	} `json:"data"`
}

type friendshipStatus struct {
	Following       bool   `json:"following"`
	OutgoingRequest bool   `json:"outgoing_request"`
	Status          string `json:"status"`
}

type feedResponse struct {
	Items         []FeedItem `json:"items"`
	MoreAvailable bool       `json:"more_available"`
	Status        string     `json:"status"`
}
