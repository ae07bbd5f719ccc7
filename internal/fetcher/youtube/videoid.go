// Package youtube fetches video transcripts and watch-page metadata.
package youtube

import (
	"net/url"
	"regexp"
	"strings"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ExtractVideoID returns the video id carried by a watch, share, shorts or
// embed URL, or by a bare id. ok is false when no well-formed id is found.
func ExtractVideoID(urlOrID string) (id string, ok bool) {
	s := strings.TrimSpace(urlOrID)
	if videoIDPattern.MatchString(s) {
		return s, true
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}
	if v := u.Query().Get("v"); v != "" {
		return v, videoIDPattern.MatchString(v)
	}
	path := strings.Trim(u.Path, "/")
	for _, prefix := range []string{"shorts/", "watch/", "embed/", "live/", "v/"} {
		if rest, found := strings.CutPrefix(path, prefix); found {
			id = strings.SplitN(rest, "/", 2)[0]
			return id, videoIDPattern.MatchString(id)
		}
	}
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return path, videoIDPattern.MatchString(path)
}

// IsVideoURL reports whether raw points at a YouTube video.
func IsVideoURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	switch host {
	case "youtube.com", "youtu.be", "youtube-nocookie.com", "music.youtube.com":
	default:
		return false
	}
	_, ok := ExtractVideoID(raw)
	return ok
}

// WatchURL returns the canonical watch URL for a video id.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}
