// Package analyzer examines captured traffic to locate the API surface
// under its common prefix, e.g. http://site.test/api/v1.
package analyzer

import (
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/knowlet/scanner/internal/capture"
)

// prefixThreshold is the share of API calls a path segment must cover
// to be folded into the common prefix. Below it the walk stops, so
// sibling subtrees like /api/v1 and /api/v2 both stay reachable under
// /api.
const prefixThreshold = 0.6

var apiContentTypes = []string{
	"application/json",
	"application/xml",
	"text/xml",
	"application/hal+json",
	"application/vnd.api+json",
	"text/html",
	"application/x-www-form-urlencoded",
	"multipart/form-data",
	"text/plain",
}

func looksLikeAPI(mimeType string) bool {
	lower := strings.ToLower(mimeType)
	for _, t := range apiContentTypes {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// DetectPrefix finds the dominant API prefix in captured exchanges.
// targetURL, when non-empty, restricts analysis to its host with a
// fallback to all traffic if nothing matches. Returns "" when no API
// traffic was captured.
func DetectPrefix(exchanges []capture.Exchange, targetURL string, logger *zap.Logger) string {
	if logger == nil {
		logger = zap.NewNop()
	}

	var parsed []*url.URL
	for _, ex := range exchanges {
		if !looksLikeAPI(ex.MimeType) {
			continue
		}
		u, err := url.Parse(ex.URL)
		if err != nil {
			continue
		}
		parsed = append(parsed, u)
	}
	if len(parsed) == 0 {
		logger.Info("no API traffic detected in capture")
		return ""
	}

	if targetURL != "" {
		if t, err := url.Parse(targetURL); err == nil && t.Host != "" {
			var filtered []*url.URL
			for _, u := range parsed {
				if strings.EqualFold(u.Host, t.Host) {
					filtered = append(filtered, u)
				}
			}
			if len(filtered) > 0 {
				logger.Info("filtered API calls to target host",
					zap.String("host", t.Host), zap.Int("count", len(filtered)))
				parsed = filtered
			} else {
				logger.Warn("no API calls matched target host, using all captured traffic",
					zap.String("host", t.Host))
			}
		}
	}

	scheme := mode(collect(parsed, func(u *url.URL) string { return u.Scheme }))
	host := mode(collect(parsed, func(u *url.URL) string { return u.Host }))
	base := scheme + "://" + host

	var segmentLists [][]string
	for _, u := range parsed {
		if u.Scheme != scheme || u.Host != host {
			continue
		}
		segmentLists = append(segmentLists, splitSegments(u.Path))
	}
	if len(segmentLists) == 0 {
		return base
	}

	prefix := commonPrefix(segmentLists)
	if len(prefix) == 0 {
		return base
	}
	return base + "/" + strings.Join(prefix, "/")
}

// commonPrefix walks segment positions left to right, keeping the
// majority segment while it covers the threshold share of all calls.
func commonPrefix(segmentLists [][]string) []string {
	total := len(segmentLists)
	current := segmentLists

	var prefix []string
	maxDepth := 0
	for _, s := range segmentLists {
		if len(s) > maxDepth {
			maxDepth = len(s)
		}
	}

	for i := 0; i < maxDepth; i++ {
		var at []string
		for _, s := range current {
			if len(s) > i {
				at = append(at, s[i])
			}
		}
		if len(at) == 0 {
			break
		}
		seg, count := mostCommon(at)
		if float64(count)/float64(total) < prefixThreshold {
			break
		}
		prefix = append(prefix, seg)

		var next [][]string
		for _, s := range current {
			if len(s) > i && s[i] == seg {
				next = append(next, s)
			}
		}
		current = next
	}
	return prefix
}

func splitSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return []string{""}
	}
	return strings.Split(trimmed, "/")
}

func collect(urls []*url.URL, f func(*url.URL) string) []string {
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = f(u)
	}
	return out
}

func mode(values []string) string {
	v, _ := mostCommon(values)
	return v
}

// mostCommon returns the value with the highest count, ties broken by
// lexical order so the result is stable.
func mostCommon(values []string) (string, int) {
	counts := make(map[string]int)
	for _, v := range values {
		counts[v]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best, bestCount := "", 0
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best, bestCount
}
