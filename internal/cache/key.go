package cache

import (
	"net/url"
	"strings"
)

// Key is the canonical identity of a cached request: method plus absolute
// URL with the query string kept verbatim.
type Key struct {
	Method string
	URL    string
}

// NewKey canonicalizes method and u. Scheme and host are lower-cased,
// default ports and fragments are dropped.
func NewKey(method string, u *url.URL) Key {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = canonicalHost(c.Scheme, c.Host)
	c.Fragment = ""
	c.RawFragment = ""
	c.User = nil
	if c.Path == "" && c.Host != "" {
		c.Path = "/"
		c.RawPath = ""
	}
	return Key{
		Method: strings.ToUpper(method),
		URL:    c.String(),
	}
}

// ParseKey canonicalizes a raw URL string.
func ParseKey(method, rawURL string) (Key, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Key{}, err
	}
	return NewKey(method, u), nil
}

// String renders the key as "METHOD URL".
func (k Key) String() string {
	return k.Method + " " + k.URL
}

func canonicalHost(scheme, host string) string {
	host = strings.ToLower(host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	}
	return host
}

// GenerationID renders the cache generation id for an app version, e.g.
// "devops-dashboard-v1.2.0". A version that already starts with "v" is used
// verbatim.
func GenerationID(appName, version string) string {
	version = strings.TrimSpace(version)
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	return strings.TrimSpace(appName) + "-" + version
}
