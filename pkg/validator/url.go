// Package validator recognizes video-sharing URLs.
//
// The check is a loose first-line filter: the pattern is anchored at the
// start of the input only, so trailing content after a valid prefix is
// accepted.
package validator

import "regexp"

var youtubeURL = regexp.MustCompile(`^(https?://)?(www\.)?(youtube|youtu|youtube-nocookie)\.(com|be)/(watch\?v=|embed/|v/|.+\?v=)?([^"&?/s]{11})`)

// IsYouTubeURL reports whether raw begins with a recognized YouTube URL.
func IsYouTubeURL(raw string) bool {
	return youtubeURL.MatchString(raw)
}

// VideoID returns the 11 character video identifier, or "" when raw is
// not a recognized URL.
func VideoID(raw string) string {
	m := youtubeURL.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return m[6]
}
