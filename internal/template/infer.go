package template

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/knowlet/scanner/internal/inventory"
	"github.com/knowlet/scanner/internal/metrics"
)

const maxParamExamples = 8

var (
	numericRe = regexp.MustCompile(`^\d+$`)
	uuidRe    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	tokenRe   = regexp.MustCompile(`^[A-Za-z0-9_-]{16,}$`)
)

// looksLikeIdentifier reports whether a path segment value has the shape
// of a record identifier rather than a route word.
func looksLikeIdentifier(s string) bool {
	return numericRe.MatchString(s) || uuidRe.MatchString(s) || tokenRe.MatchString(s)
}

// Infer partitions the inventory into endpoint templates. Entries that
// share (method, origin, segment count, masked path shape) unify into
// one template; every entry lands in exactly one.
func Infer(entries []inventory.Entry) ([]Template, error) {
	metrics.Init()

	groups := make(map[string][]groupedEntry)
	var order []string
	for _, entry := range entries {
		ge, err := parseEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("parse inventory entry %q: %w", entry.URL, err)
		}
		key := ge.shapeKey()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ge)
	}

	templates := make([]Template, 0, len(order))
	for _, key := range order {
		templates = append(templates, buildTemplate(groups[key]))
	}
	metrics.ObserveTemplates(len(templates))
	return templates, nil
}

type groupedEntry struct {
	entry    inventory.Entry
	origin   string
	segments []string
	masked   []bool
}

func parseEntry(entry inventory.Entry) (groupedEntry, error) {
	u, err := url.Parse(entry.URL)
	if err != nil {
		return groupedEntry{}, err
	}
	segments := splitPath(u.Path)
	masked := make([]bool, len(segments))
	for i, seg := range segments {
		masked[i] = looksLikeIdentifier(seg)
	}
	return groupedEntry{
		entry:    entry,
		origin:   u.Scheme + "://" + u.Host,
		segments: segments,
		masked:   masked,
	}, nil
}

// shapeKey is the structural identity of an entry: identifier-shaped
// segments collapse to a marker, route words keep their text.
func (g groupedEntry) shapeKey() string {
	parts := make([]string, 0, len(g.segments)+2)
	parts = append(parts, g.entry.Method, g.origin)
	for i, seg := range g.segments {
		if g.masked[i] {
			parts = append(parts, "*")
		} else {
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, "\x00")
}

func buildTemplate(group []groupedEntry) Template {
	first := group[0]
	segCount := len(first.segments)

	segments := make([]Segment, segCount)
	var params []Param
	for i := 0; i < segCount; i++ {
		seg := classifySegment(group, i)
		if seg.Kind != SegmentLiteral {
			seg.Name = slotName(segments[:i], len(params))
			params = append(params, Param{
				Name:     seg.Name,
				Location: LocationPath,
				Type:     inferType(seg.Examples),
				Required: true,
				Examples: seg.Examples,
			})
		}
		segments[i] = seg
	}

	params = append(params, unifyParams(group)...)

	entryKeys := make([]string, 0, len(group))
	contentType := ""
	headers := first.entry.Headers
	for _, ge := range group {
		entryKeys = append(entryKeys, ge.entry.Key())
		if contentType == "" {
			contentType = ge.entry.ContentType
		}
	}

	t := Template{
		Method:      first.entry.Method,
		Origin:      first.origin,
		Segments:    segments,
		Params:      params,
		ContentType: contentType,
		Headers:     headers,
		EntryKeys:   entryKeys,
	}
	t.ID = t.Method + " " + t.Origin + t.Pattern()
	return t
}

// classifySegment applies the identifier heuristic at one position
// across all entries of a group. Varying identifier-shaped values are a
// confident slot; a single identifier-shaped value is ambiguous, it
// could be a record id or a route word that happens to be numeric.
func classifySegment(group []groupedEntry, i int) Segment {
	if !group[0].masked[i] {
		return Segment{Kind: SegmentLiteral, Value: group[0].segments[i]}
	}
	var examples []string
	for _, ge := range group {
		examples = appendBounded(examples, ge.segments[i])
	}
	if len(examples) > 1 {
		return Segment{Kind: SegmentSlot, Examples: examples}
	}
	return Segment{Kind: SegmentAmbiguous, Examples: examples}
}

// slotName derives a readable parameter name from the nearest literal
// segment to the left, falling back to a positional name.
func slotName(before []Segment, ordinal int) string {
	for i := len(before) - 1; i >= 0; i-- {
		if before[i].Kind == SegmentLiteral && before[i].Value != "" {
			return before[i].Value + "_id"
		}
	}
	if ordinal == 0 {
		return "id"
	}
	return fmt.Sprintf("id%d", ordinal)
}

// unifyParams merges query and body parameters across a group. A
// parameter present in every entry is required; present in some,
// optional.
func unifyParams(group []groupedEntry) []Param {
	type acc struct {
		location ParamLocation
		count    int
		examples []string
	}
	merged := make(map[string]*acc)
	var order []string

	note := func(name string, loc ParamLocation, examples []string) {
		a, ok := merged[name]
		if !ok {
			a = &acc{location: loc}
			merged[name] = a
			order = append(order, name)
		}
		a.count++
		for _, v := range examples {
			a.examples = appendBounded(a.examples, v)
		}
	}

	for _, ge := range group {
		for _, name := range ge.entry.QueryKeys {
			note(name, LocationQuery, ge.entry.Examples[name])
		}
		for _, name := range ge.entry.BodyKeys {
			note(name, LocationBody, ge.entry.Examples[name])
		}
	}
	sort.Strings(order)

	params := make([]Param, 0, len(order))
	for _, name := range order {
		a := merged[name]
		params = append(params, Param{
			Name:     name,
			Location: a.location,
			Type:     inferType(a.examples),
			Required: a.count == len(group),
			Examples: a.examples,
		})
	}
	return params
}

// inferType is best-effort: numeric when every example parses as a
// number, boolean when restricted to true/false, else string.
func inferType(examples []string) ParamType {
	if len(examples) == 0 {
		return TypeString
	}
	numeric, boolean := true, true
	for _, v := range examples {
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			numeric = false
		}
		if v != "true" && v != "false" {
			boolean = false
		}
	}
	switch {
	case numeric:
		return TypeNumeric
	case boolean:
		return TypeBoolean
	default:
		return TypeString
	}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func appendBounded(values []string, v string) []string {
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	if len(values) >= maxParamExamples {
		return values
	}
	return append(values, v)
}
