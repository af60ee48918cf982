// Package references extracts and labels the links embedded in a cue's reference text.
package references

import (
	"net/url"
	"regexp"
	"strings"
)

// PreviewLimit caps how many links a preview pane shows.
const PreviewLimit = 4

var (
	urlPattern       = regexp.MustCompile(`https?://[^\s<>"']+`)
	youtubeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,}$`)
)

// Link is a labeled URL.
type Link struct {
	URL       string `json:"url"`
	Provider  string `json:"provider"`
	YouTubeID string `json:"youtubeId,omitempty"`
}

// ExtractURLs returns the http(s) URLs in text in order of first appearance.
func ExtractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	seen := make(map[string]struct{}, len(matches))
	urls := make([]string, 0, len(matches))
	for _, match := range matches {
		trimmed := strings.TrimRight(match, ").,;")
		if _, duplicate := seen[trimmed]; duplicate {
			continue
		}
		seen[trimmed] = struct{}{}
		urls = append(urls, trimmed)
	}
	return urls
}

// YouTubeID extracts the video id from youtu.be, watch?v=, /shorts/ and /embed/ links.
func YouTubeID(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	var candidate string
	switch {
	case host == "youtu.be":
		candidate = strings.Trim(parsed.Path, "/")
	case strings.HasSuffix(host, "youtube.com"):
		if value := parsed.Query().Get("v"); value != "" {
			candidate = value
		} else if rest, found := strings.CutPrefix(parsed.Path, "/shorts/"); found {
			candidate = rest
		} else if rest, found := strings.CutPrefix(parsed.Path, "/embed/"); found {
			candidate = rest
		}
	}
	candidate, _, _ = strings.Cut(candidate, "/")
	if !youtubeIDPattern.MatchString(candidate) {
		return ""
	}
	return candidate
}

// ProviderLabel names the service hosting raw.
func ProviderLabel(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Hostname() == "" {
		return "Link"
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	switch {
	case host == "youtu.be" || strings.HasSuffix(host, "youtube.com"):
		return "YouTube"
	case strings.HasSuffix(host, "spotify.com"):
		return "Spotify"
	case host == "music.apple.com":
		return "Apple Music"
	default:
		return host
	}
}

// Links extracts up to limit labeled links from text. A non-positive limit returns all.
func Links(text string, limit int) []Link {
	urls := ExtractURLs(text)
	if limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}
	links := make([]Link, 0, len(urls))
	for _, raw := range urls {
		links = append(links, Link{URL: raw, Provider: ProviderLabel(raw), YouTubeID: YouTubeID(raw)})
	}
	return links
}
