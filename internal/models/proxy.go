package models

import (
	"net/url"
	"regexp"
	"strings"
)

// ProxyIdentity is one statically configured egress identity.
type ProxyIdentity struct {
	Server   string `json:"server"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Key identifies a proxy for health tracking: server plus username.
func (p ProxyIdentity) Key() string {
	return p.Server + "-" + p.Username
}

// Scheme returns the proxy protocol, defaulting to http when the server
// has no scheme prefix.
func (p ProxyIdentity) Scheme() string {
	if i := strings.Index(p.Server, "://"); i > 0 {
		return strings.ToLower(p.Server[:i])
	}
	return "http"
}

// Host returns host:port without scheme or inline credentials.
func (p ProxyIdentity) Host() string {
	host := p.Server
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.LastIndex(host, "@"); i >= 0 {
		host = host[i+1:]
	}
	return strings.TrimSuffix(host, "/")
}

// URL builds a proxy URL carrying the credentials, suitable for
// http.ProxyURL.
func (p ProxyIdentity) URL() *url.URL {
	u := &url.URL{Scheme: p.Scheme(), Host: p.Host()}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// Redacted is safe to log.
func (p ProxyIdentity) Redacted() string {
	if p.Username == "" {
		return p.Scheme() + "://" + p.Host()
	}
	return p.Scheme() + "://" + p.Username + "@" + p.Host()
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ProfileKey is a filesystem-safe name for the identity's browser profile.
func (p ProxyIdentity) ProfileKey() string {
	key := p.Host()
	if p.Username != "" {
		key = p.Username + "_" + key
	}
	return strings.Trim(unsafePathChars.ReplaceAllString(key, "_"), "_")
}
