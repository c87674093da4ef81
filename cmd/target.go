package main

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// normalizeURL trims the input and assumes https when no scheme is given, so
// a bare host such as "acme.example.com" is accepted. Only http and https
// URLs with a host are valid.
func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", eris.New("url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", eris.Wrap(err, "url is malformed")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", eris.Errorf("url scheme %q is not http(s)", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", eris.New("url has no host")
	}
	return u.String(), nil
}
