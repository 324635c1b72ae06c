package instagram

import "time"

// Media is one item of the Graph media edge
type Media struct {
	ID           string `json:"id"`
	Caption      string `json:"caption"`
	MediaType    string `json:"media_type"`
	MediaURL     string `json:"media_url"`
	Permalink    string `json:"permalink"`
	Timestamp    string `json:"timestamp"`
	ThumbnailURL string `json:"thumbnail_url"`
}

type mediaPage struct {
	Data   []Media `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// GraphUser is the /me or /{id} node
type GraphUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// graphErrorBody is the error envelope of every Graph response
type graphErrorBody struct {
	Error *struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
	} `json:"error"`
}

// TokenStatus is the outcome of a credential pre-flight check
type TokenStatus struct {
	Valid    bool   `json:"valid"`
	Reason   string `json:"reason,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// LongLivedToken is the result of a token exchange
type LongLivedToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// WebProfileResponse is the payload of the web profile endpoint
type WebProfileResponse struct {
	RequiresToLogin bool   `json:"requires_to_login"`
	Data            Data   `json:"data"`
	Status          string `json:"status"`
}

// Data wraps the user information in the response
type Data struct {
	User *WebUser `json:"user"`
}

// WebUser is the profile node of the web payload
type WebUser struct {
	ID                       string        `json:"id"`
	Username                 string        `json:"username"`
	EdgeOwnerToTimelineMedia TimelineMedia `json:"edge_owner_to_timeline_media"`
}

// TimelineMedia contains the user's most recent media
type TimelineMedia struct {
	Count int    `json:"count"`
	Edges []Edge `json:"edges"`
}

// Edge wraps a single media node
type Edge struct {
	Node Node `json:"node"`
}

// Node is a single timeline item (photo, video or carousel)
type Node struct {
	ID               string `json:"id"`
	Shortcode        string `json:"shortcode"`
	DisplayURL       string `json:"display_url"`
	ThumbnailSrc     string `json:"thumbnail_src"`
	IsVideo          bool   `json:"is_video"`
	TakenAtTimestamp int64  `json:"taken_at_timestamp"`
	Caption          struct {
		Edges []struct {
			Node struct {
				Text string `json:"text"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"edge_media_to_caption"`
}

// CaptionText returns the first caption edge text
func (n Node) CaptionText() string {
	if len(n.Caption.Edges) == 0 {
		return ""
	}
	return n.Caption.Edges[0].Node.Text
}
