// Package youtube finds YouTube video links in free-form chat text.
package youtube

import (
	"net/url"
	"regexp"
	"strings"
)

// Patterns are tried in order; the first one with any match wins.
var urlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)https?://(www\.)?(youtube\.com/watch\?v=|youtu\.be/)[\w-]+(&[\w=%-]*)?`),
	regexp.MustCompile(`(?i)https?://m\.youtube\.com/watch\?v=[\w-]+(&[\w=%-]*)?`),
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ExtractURL returns the first YouTube link found in text, exactly as the
// user wrote it.
func ExtractURL(text string) (string, bool) {
	for _, p := range urlPatterns {
		if m := p.FindString(text); m != "" {
			return m, true
		}
	}
	return "", false
}

// VideoID returns the 11-character video id of a watch or short link.
func VideoID(link string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	var id string
	switch host {
	case "youtu.be":
		id = strings.TrimPrefix(u.Path, "/")
	case "youtube.com", "m.youtube.com":
		if !strings.EqualFold(u.Path, "/watch") {
			return "", false
		}
		id = u.Query().Get("v")
	default:
		return "", false
	}
	if !videoIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

// ShortURL is the canonical youtu.be link for a video id.
func ShortURL(videoID string) string {
	return "https://youtu.be/" + videoID
}
