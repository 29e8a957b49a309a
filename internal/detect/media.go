package detect

import (
	"net/url"
	"strings"

	"deepguard/internal/apperr"
)

type mediaKind int

const (
	mediaRemote mediaKind = iota
	mediaEmbedded
)

// parseMedia accepts an http(s) URL with a host or a data URI. It returns the
// trimmed reference.
func parseMedia(ref string) (string, mediaKind, error) {
	const op = "detect.parseMedia"
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", 0, apperr.New(apperr.KindValidation, op, "mediaUrl is required")
	}

	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "data:") {
		if !strings.Contains(ref, ",") {
			return "", 0, apperr.New(apperr.KindValidation, op, "malformed data URI")
		}
		return ref, mediaEmbedded, nil
	}
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return "", 0, apperr.New(apperr.KindValidation, op, "mediaUrl must be an http(s) URL or a data URI")
	}
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return "", 0, apperr.New(apperr.KindValidation, op, "mediaUrl has no host")
	}
	return ref, mediaRemote, nil
}
