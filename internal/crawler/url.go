package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, strips the
// fragment, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// NormalizePage reduces a URL to its visit identity: scheme, host, and
// path with the query stripped and the trailing slash trimmed. Two pages
// differing only in query string count as the same navigation target.
func NormalizePage(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), nil
}

var staticAssetExts = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".css": {}, ".js": {},
	".ico": {}, ".svg": {}, ".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
	".mp4": {}, ".mp3": {}, ".pdf": {},
}

// IsStaticAsset reports whether the path points at a static resource the
// crawler should not navigate to.
func IsStaticAsset(path string) bool {
	lower := strings.ToLower(path)
	idx := strings.LastIndex(lower, ".")
	if idx < 0 {
		return false
	}
	_, ok := staticAssetExts[lower[idx:]]
	return ok
}

// scopePolicy restricts navigation to the start URL's origin.
type scopePolicy struct {
	host string
}

func newScopePolicy(startURL string) (*scopePolicy, error) {
	u, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("parse start url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("start url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("start url has no host")
	}
	return &scopePolicy{host: strings.ToLower(u.Host)}, nil
}

// InScope reports whether a candidate navigation target stays on the
// crawl origin and is worth visiting.
func (p *scopePolicy) InScope(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !strings.EqualFold(u.Host, p.host) {
		return false
	}
	return !IsStaticAsset(u.Path)
}
