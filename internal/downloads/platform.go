package downloads

import (
	"net/url"
	"strings"
)

// Site type hints understood by the worker's generic downloader.
const (
	SiteInstagram = "instagram"
	SiteTikTok    = "tiktok"
	SiteTwitter   = "twitter"
	SiteFacebook  = "facebook"
	SiteReddit    = "reddit"
	SitePinterest = "pinterest"
)

// DetectSite returns the site type hint for rawURL, or "" when unknown.
func DetectSite(rawURL string) string {
	u := strings.ToLower(strings.TrimSpace(rawURL))
	if u == "" {
		return ""
	}

	host := u
	if parsed, err := url.Parse(u); err == nil && parsed.Host != "" {
		host = parsed.Host
	}

	switch {
	case strings.Contains(u, "instagram.com"):
		return SiteInstagram
	case strings.Contains(u, "tiktok.com"):
		return SiteTikTok
	case strings.Contains(u, "twitter.com") || host == "x.com" || strings.HasSuffix(host, ".x.com"):
		return SiteTwitter
	case strings.Contains(u, "facebook.com") || strings.Contains(host, "fb."):
		return SiteFacebook
	case strings.Contains(u, "reddit.com"):
		return SiteReddit
	case strings.Contains(u, "pinterest.com"):
		return SitePinterest
	default:
		return ""
	}
}

// IsPlaylistURL reports whether rawURL points at a playlist rather than a
// single video.
func IsPlaylistURL(rawURL string) bool {
	return strings.Contains(rawURL, "playlist?list=") || strings.Contains(rawURL, "&list=")
}
