package storage

import (
	"mime"
	"net/url"
	"strings"
)

// SiteSegment turns a page URL into a filesystem-safe directory name made of
// the host and path, e.g. "news.example_world_article".
func SiteSegment(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	seg := strings.ToLower(parsed.Hostname())
	if path := strings.Trim(parsed.Path, "/"); path != "" {
		seg += "_" + path
	}
	seg = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, seg)
	if len(seg) > 96 {
		seg = seg[:96]
	}
	return seg
}

// ShortID returns the first 8 characters of an id for file names.
func ShortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// ResourceClass buckets a Content-Type header into a coarse resource kind
// for the exchange log. Empty input yields "other".
func ResourceClass(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case mt == "":
		return "other"
	case mt == "text/html", mt == "application/xhtml+xml":
		return "document"
	case strings.Contains(mt, "javascript"), mt == "application/ecmascript":
		return "script"
	case mt == "text/css":
		return "stylesheet"
	case strings.HasPrefix(mt, "image/"):
		return "image"
	case strings.HasPrefix(mt, "font/"), strings.Contains(mt, "font"):
		return "font"
	case strings.HasPrefix(mt, "video/"), strings.HasPrefix(mt, "audio/"):
		return "media"
	case strings.Contains(mt, "json"), strings.Contains(mt, "xml"), mt == "text/plain":
		return "data"
	default:
		return "other"
	}
}
