package domain

import (
	"net"
	"net/url"
	"strings"
)

// ValidHTTPURL reports whether raw is an absolute http or https URL with a host.
func ValidHTTPURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return false
	}
	return u.Hostname() != ""
}

// NormalizeHTTPURL lower-cases scheme and host, strips default ports and the
// root slash. Non-root paths are kept verbatim. Invalid input is returned as is.
func NormalizeHTTPURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || !ValidHTTPURL(raw) {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	switch {
	case port != "":
		host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		host = "[" + host + "]"
	}
	u.Host = host
	u.Fragment = ""
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String()
}
