package ytvideodata

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var (
	ErrInvalidVideoRef = errors.New("invalid video reference")

	videoIdRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
)

// ParseVideoId accepts a bare id or a youtube.com / youtu.be URL.
func ParseVideoId(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if videoIdRegexp.MatchString(ref) {
		return ref, nil
	}

	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return "", ErrInvalidVideoRef
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")

	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if u.Path == "/watch" {
			id = u.Query().Get("v")
			break
		}

		for _, prefix := range []string{"/embed/", "/shorts/", "/live/", "/v/"} {
			if strings.HasPrefix(u.Path, prefix) {
				id = strings.Trim(strings.TrimPrefix(u.Path, prefix), "/")
				break
			}
		}
	}

	if !videoIdRegexp.MatchString(id) {
		return "", ErrInvalidVideoRef
	}

	return id, nil
}
