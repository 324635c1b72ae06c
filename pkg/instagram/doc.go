// Package instagram talks to Instagram's public surfaces.
//
// GraphClient wraps the official Graph API: recent media for an account,
// token validation and the short-lived to long-lived token exchange. Graph
// error codes are mapped onto the pkg/errors taxonomy, so an expired token
// comes back as AUTH_INVALID and throttling as RATE_LIMITED.
//
// WebClient reads the public profile page, first through the web profile
// JSON endpoint and then by scanning the JSON blobs embedded in the HTML.
//
//	graph := instagram.NewGraphClient(cfg.Instagram, log)
//	status, err := graph.ValidateToken(ctx)
//	media, err := graph.FetchMedia(ctx, profile.SourceID, 3)
package instagram
