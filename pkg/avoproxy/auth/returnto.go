package auth

import (
	"net/url"
	"strings"
)

// SafeReturnTo keeps redirects on the client: raw is returned when it
// points at clientURL (same scheme and host) or is a path on it, anything
// else falls back to clientURL.
func SafeReturnTo(clientURL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return clientURL
	}
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") && !strings.HasPrefix(raw, "/\\") {
		return clientURL + raw
	}

	target, err := url.Parse(raw)
	if err != nil {
		return clientURL
	}
	client, err := url.Parse(clientURL)
	if err != nil {
		return clientURL
	}
	if !strings.EqualFold(target.Scheme, client.Scheme) || !strings.EqualFold(target.Host, client.Host) {
		return clientURL
	}
	if target.User != nil {
		return clientURL
	}
	return target.String()
}
