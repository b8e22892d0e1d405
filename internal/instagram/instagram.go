// Package instagram validates post URLs and derives display titles.
package instagram

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Validation errors returned by ValidateURL. Handlers map these to 400
// responses with the message intact.
var (
	ErrEmptyURL      = errors.New("url is required")
	ErrBadScheme     = errors.New("url must use http or https")
	ErrNotInstagram  = errors.New("url must point at instagram.com")
	ErrUnsupported   = errors.New("url must be a post, reel, or tv link")
	ErrMissingShort  = errors.New("url is missing a shortcode")
	errMalformedHost = errors.New("url has no host")
)

// pathKinds maps the first path segment to the content kind it carries.
var pathKinds = map[string]string{
	"p":     "post",
	"reel":  "reel",
	"reels": "reel",
	"tv":    "tv",
}

var titleCaser = cases.Title(language.English)

// Post describes a validated Instagram content URL.
type Post struct {
	// URL is the normalized form handed to the downloader.
	URL string
	// Kind is one of "post", "reel", or "tv".
	Kind string
	// Shortcode is the opaque content identifier from the path.
	Shortcode string
}

// Title returns a human-readable name for the post, used as the base of the
// served filename.
func (p Post) Title() string {
	kind := titleCaser.String(p.Kind)
	if p.Shortcode == "" {
		return "Instagram " + kind
	}
	return fmt.Sprintf("Instagram %s %s", kind, p.Shortcode)
}

// ValidateURL checks that raw is a well-formed Instagram post, reel, or tv
// URL and returns its parsed form. Query strings and fragments are dropped
// from the normalized URL so tracking parameters never reach the downloader.
func ValidateURL(raw string) (Post, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Post{}, ErrEmptyURL
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return Post{}, fmt.Errorf("parse url: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https":
	default:
		return Post{}, ErrBadScheme
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return Post{}, errMalformedHost
	}
	if host != "instagram.com" && !strings.HasSuffix(host, ".instagram.com") {
		return Post{}, ErrNotInstagram
	}

	segments := splitPath(parsed.Path)
	if len(segments) == 0 {
		return Post{}, ErrUnsupported
	}
	kind, ok := pathKinds[strings.ToLower(segments[0])]
	if !ok {
		return Post{}, ErrUnsupported
	}
	if len(segments) < 2 || segments[1] == "" {
		return Post{}, ErrMissingShort
	}
	shortcode := segments[1]

	normalized := url.URL{
		Scheme: "https",
		Host:   parsed.Host,
		Path:   "/" + segments[0] + "/" + shortcode + "/",
	}
	return Post{
		URL:       normalized.String(),
		Kind:      kind,
		Shortcode: shortcode,
	}, nil
}

func splitPath(path string) []string {
	var segments []string
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return segments
}
