package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"igsync/pkg/config"
	errs "igsync/pkg/errors"
	"igsync/pkg/logger"
)

// GraphClient calls the official Instagram Graph API with a bearer token
type GraphClient struct {
	*client
	accessToken string
	appSecret   string
	now         func() time.Time
}

// NewGraphClient creates a Graph API client from configuration
func NewGraphClient(cfg config.InstagramConfig, log logger.Logger, opts ...Option) *GraphClient {
	base := cfg.BaseURL
	if base == "" {
		base = GraphBaseURL
	}
	return &GraphClient{
		client:      newClient("graph", base, cfg.Timeout, log, opts),
		accessToken: cfg.AccessToken,
		appSecret:   cfg.AppSecret,
		now:         time.Now,
	}
}

// HasToken reports whether an access token is configured
func (g *GraphClient) HasToken() bool {
	return g.accessToken != ""
}

// SetAccessToken swaps the token, e.g. after an exchange
func (g *GraphClient) SetAccessToken(token string) {
	g.accessToken = token
}

// FetchMedia returns up to limit recent media of the account sourceID, newest first as served
func (g *GraphClient) FetchMedia(ctx context.Context, sourceID string, limit int) ([]Media, error) {
	if g.accessToken == "" {
		return nil, errs.New(errs.KindAuthInvalid, "no Graph access token configured")
	}
	if sourceID == "" {
		return nil, errs.New(errs.KindNotFound, "profile has no Graph source id")
	}

	params := url.Values{}
	params.Set("fields", MediaFields)
	params.Set("limit", strconv.Itoa(clampLimit(limit)))
	params.Set("access_token", g.accessToken)
	endpoint := fmt.Sprintf("%s/%s/media?%s", g.baseURL, url.PathEscape(sourceID), params.Encode())

	var page mediaPage
	if err := g.getJSON(ctx, "media", endpoint, &page); err != nil {
		return nil, err
	}

	g.logger.WithFields(map[string]interface{}{
		"source_id": sourceID,
		"count":     len(page.Data),
	}).Debug("Fetched Graph media")

	if limit > 0 && len(page.Data) > limit {
		page.Data = page.Data[:limit]
	}
	return page.Data, nil
}

// FetchProfile resolves a Graph user id to its username
func (g *GraphClient) FetchProfile(ctx context.Context, id string) (*GraphUser, error) {
	params := url.Values{}
	params.Set("fields", "id,username")
	params.Set("access_token", g.accessToken)
	endpoint := fmt.Sprintf("%s/%s?%s", g.baseURL, url.PathEscape(id), params.Encode())

	var user GraphUser
	if err := g.getJSON(ctx, "profile", endpoint, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ValidateToken calls /me. An AUTH_INVALID response yields a TokenStatus with
// Valid=false and no error; other failures are returned as errors because they
// say nothing about the credential.
func (g *GraphClient) ValidateToken(ctx context.Context) (TokenStatus, error) {
	if g.accessToken == "" {
		return TokenStatus{Valid: false, Reason: "no access token configured"}, nil
	}

	params := url.Values{}
	params.Set("fields", "id,username")
	params.Set("access_token", g.accessToken)

	var me GraphUser
	err := g.getJSON(ctx, "validate", g.baseURL+"/me?"+params.Encode(), &me)
	switch {
	case err == nil:
		return TokenStatus{Valid: true, UserID: me.ID, Username: me.Username}, nil
	case errs.IsKind(err, errs.KindAuthInvalid):
		return TokenStatus{Valid: false, Reason: errs.Classify(err).Message}, nil
	default:
		return TokenStatus{}, err
	}
}

// ExchangeToken swaps a short-lived token for a long-lived one
func (g *GraphClient) ExchangeToken(ctx context.Context, shortLived string) (*LongLivedToken, error) {
	if strings.TrimSpace(shortLived) == "" {
		return nil, errs.New(errs.KindAuthInvalid, "short-lived token is empty")
	}
	if g.appSecret == "" {
		return nil, errs.New(errs.KindAuthInvalid, "app secret is required for token exchange")
	}

	params := url.Values{}
	params.Set("grant_type", "ig_exchange_token")
	params.Set("client_secret", g.appSecret)
	params.Set("access_token", shortLived)

	var tok LongLivedToken
	if err := g.getJSON(ctx, "exchange_token", g.baseURL+"/access_token?"+params.Encode(), &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errs.New(errs.KindUnknown, "exchange response carried no access token")
	}
	tok.ExpiresAt = g.now().Add(time.Duration(tok.ExpiresIn) * time.Second).UTC()

	g.logger.WithField("expires_at", tok.ExpiresAt).Info("Exchanged Graph token")
	return &tok, nil
}

// getJSON fetches endpoint and decodes a 200 body into target, classifying everything else
func (g *GraphClient) getJSON(ctx context.Context, operation, endpoint string, target interface{}) error {
	status, body, err := g.get(ctx, operation, endpoint)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return classifyGraphError(status, body)
	}
	// Graph occasionally answers 200 with an error envelope
	var envelope graphErrorBody
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
		return classifyGraphError(status, body)
	}
	if err := json.Unmarshal(body, target); err != nil {
		g.logger.WithFields(map[string]interface{}{
			"operation":    operation,
			"body_preview": preview(body),
		}).WithError(err).Error("Failed to parse Graph response")
		return errs.Wrap(errs.KindUnknown, err, "failed to parse Graph response")
	}
	return nil
}

// classifyGraphError maps a Graph error envelope (or bare status) to the taxonomy
func classifyGraphError(status int, body []byte) *errs.Error {
	var envelope graphErrorBody
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return errs.FromStatus(status, "")
	}

	e := envelope.Error
	kind := errs.KindForStatus(status)
	switch {
	case e.Code == 190 || strings.Contains(e.Message, "Invalid OAuth access token"):
		kind = errs.KindAuthInvalid
	case e.Code == 4 || e.Code == 17 || e.Code == 32 || e.Code == 613:
		kind = errs.KindRateLimited
	case e.Code == 1 || e.Code == 2 || strings.Contains(e.Message, "An unexpected error"):
		kind = errs.KindTransient
	case e.Code == 100 && e.ErrorSubcode == 33:
		kind = errs.KindNotFound
	}
	return errs.New(kind, e.Message).WithCode(e.Code)
}
