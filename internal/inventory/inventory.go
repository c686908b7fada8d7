// Package inventory holds the endpoint inventory built by the crawler:
// concrete observed requests, deduplicated and annotated with navigation
// context, plus the site navigation graph.
package inventory

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/knowlet/scanner/internal/metrics"
)

// maxExamples bounds the observed example values kept per parameter.
const maxExamples = 8

// Entry is one distinct observed request. Entries handed out by
// Snapshot are copies; the inventory only merges example values for
// re-observations of the same (method, path, query-key-set).
type Entry struct {
	Method      string
	URL         string
	Path        string
	QueryKeys   []string
	Headers     http.Header
	BodyKeys    []string
	ContentType string
	Depth       int
	SourceNav   string

	// Examples maps parameter name to observed values, bounded per
	// parameter. Query and body parameters share the namespace; body
	// keys are prefixed by the crawler when they collide.
	Examples map[string][]string
}

// Key returns the dedup key: normalized method, path, and query-key-set.
func (e Entry) Key() string {
	return e.Method + " " + e.Path + " ?" + strings.Join(e.QueryKeys, ",")
}

// Inventory accumulates entries during a crawl. Safe for concurrent use.
type Inventory struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	order     []string
	prefilter *bloom.BloomFilter
	graph     *Graph
}

// New returns an empty inventory. The bloom filter is a cheap negative
// membership probe in front of the exact map; false positives fall
// through to the map, so dedup stays exact.
func New() *Inventory {
	metrics.Init()
	return &Inventory{
		entries:   make(map[string]*Entry),
		prefilter: bloom.NewWithEstimates(100000, 0.01),
		graph:     NewGraph(),
	}
}

// Observe records one observed request. Returns true when the entry is
// new; a re-observation only folds its example values into the existing
// entry.
func (inv *Inventory) Observe(e Entry) bool {
	key := e.Key()

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.prefilter.TestString(key) {
		if existing, ok := inv.entries[key]; ok {
			mergeExamples(existing, e)
			return false
		}
	}
	inv.prefilter.AddString(key)

	stored := e
	stored.Examples = copyExamples(e.Examples)
	inv.entries[key] = &stored
	inv.order = append(inv.order, key)
	metrics.ObserveInventoryEntry()
	return true
}

// Len returns the number of distinct entries.
func (inv *Inventory) Len() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return len(inv.entries)
}

// Snapshot returns the entries in first-seen order. The returned slice
// and its example maps are copies; the inferencer reads them without
// further coordination.
func (inv *Inventory) Snapshot() []Entry {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]Entry, 0, len(inv.order))
	for _, key := range inv.order {
		e := *inv.entries[key]
		e.Examples = copyExamples(e.Examples)
		out = append(out, e)
	}
	return out
}

// Graph returns the navigation graph.
func (inv *Inventory) Graph() *Graph {
	return inv.graph
}

func mergeExamples(dst *Entry, src Entry) {
	if dst.Examples == nil {
		dst.Examples = make(map[string][]string)
	}
	for name, values := range src.Examples {
		for _, v := range values {
			dst.Examples[name] = appendExample(dst.Examples[name], v)
		}
	}
}

func copyExamples(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func appendExample(values []string, v string) []string {
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	if len(values) >= maxExamples {
		return values
	}
	return append(values, v)
}

// FromRequest builds an Entry from raw request parts observed on the
// wire. The header subset keeps only content negotiation and auth keys;
// the rest is noise for schema purposes.
func FromRequest(method, rawURL string, headers http.Header, body []byte, depth int, sourceNav string) (Entry, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Entry{}, err
	}

	query := u.Query()
	queryKeys := make([]string, 0, len(query))
	examples := make(map[string][]string)
	for name, values := range query {
		queryKeys = append(queryKeys, name)
		for _, v := range values {
			examples[name] = appendExample(examples[name], v)
		}
	}
	sort.Strings(queryKeys)

	contentType := headers.Get("Content-Type")
	bodyKeys := BodyKeys(contentType, body)
	for _, name := range bodyKeys {
		if _, clash := examples[name]; clash {
			continue
		}
		if v, ok := bodyValue(contentType, body, name); ok {
			examples[name] = appendExample(examples[name], v)
		}
	}

	return Entry{
		Method:      strings.ToUpper(method),
		URL:         rawURL,
		Path:        u.Path,
		QueryKeys:   queryKeys,
		Headers:     headerSubset(headers),
		BodyKeys:    bodyKeys,
		ContentType: contentType,
		Depth:       depth,
		SourceNav:   sourceNav,
		Examples:    examples,
	}, nil
}

var keptHeaders = []string{"Accept", "Content-Type", "Authorization", "Cookie", "X-Requested-With"}

func headerSubset(h http.Header) http.Header {
	out := http.Header{}
	for _, name := range keptHeaders {
		if v := h.Get(name); v != "" {
			out.Set(name, v)
		}
	}
	return out
}

// BodyKeys extracts the top-level parameter names of a request body:
// field names for JSON objects, form keys for urlencoded bodies. Other
// shapes yield nil.
func BodyKeys(contentType string, body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = contentType
	}
	switch {
	case strings.Contains(mt, "json"):
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	case mt == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	default:
		return nil
	}
}

func bodyValue(contentType string, body []byte, name string) (string, bool) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = contentType
	}
	switch {
	case strings.Contains(mt, "json"):
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return "", false
		}
		raw, ok := obj[name]
		if !ok {
			return "", false
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, true
		}
		return strings.TrimSpace(string(raw)), true
	case mt == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return "", false
		}
		if v := values.Get(name); v != "" {
			return v, true
		}
		return "", false
	default:
		return "", false
	}
}
