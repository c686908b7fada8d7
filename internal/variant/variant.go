// Package variant expands endpoint templates into bounded sequences of
// concrete probe requests: nominal replays, boundary values, and
// malformed mutations.
package variant

import (
	"encoding/json"
	"hash/fnv"
	"math/rand"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/knowlet/scanner/internal/metrics"
	"github.com/knowlet/scanner/internal/template"
)

// Class labels why a variant exists.
type Class string

// Variant classes.
const (
	ClassNominal   Class = "nominal"
	ClassBoundary  Class = "boundary"
	ClassMalformed Class = "malformed"
)

// Variant is one fully bound probe request. Ephemeral: consumed by a
// single dispatch, never persisted.
type Variant struct {
	TemplateID  string
	Class       Class
	Label       string
	Method      string
	URL         string
	ContentType string
	Body        []byte
}

const (
	defaultMaxPerTemplate = 48
	crossProductThreshold = 3
	longStringLen         = 2048
	largeNumber           = "999999999"
	zeroUUID              = "00000000-0000-0000-0000-000000000000"
	missingToken          = "nonexistent-nonexistent-0000"
)

// Generator produces variant sequences. The same seed and template
// always yield the same ordered sequence, so probe runs are
// reproducible.
type Generator struct {
	seed           int64
	maxPerTemplate int
}

// NewGenerator builds a Generator. maxPerTemplate <= 0 selects the
// default cap.
func NewGenerator(seed int64, maxPerTemplate int) *Generator {
	if maxPerTemplate <= 0 {
		maxPerTemplate = defaultMaxPerTemplate
	}
	metrics.Init()
	return &Generator{seed: seed, maxPerTemplate: maxPerTemplate}
}

// Generate expands one template. Order is nominal, then boundary, then
// malformed, parameters visited in sorted name order, truncated at the
// per-template cap.
func (g *Generator) Generate(tpl template.Template) []Variant {
	rng := rand.New(rand.NewSource(g.seed ^ templateSeed(tpl.ID)))
	base := nominalBindings(tpl, rng)
	params := sortedParams(tpl)

	var out []Variant
	add := func(v Variant, ok bool) {
		if !ok || len(out) >= g.maxPerTemplate {
			return
		}
		out = append(out, v)
		metrics.ObserveVariant(string(v.Class))
	}

	add(bind(tpl, ClassNominal, "nominal", base, nil))

	for _, p := range params {
		for _, bv := range boundaryValues(p) {
			mutated := withOverride(base, p.Name, bv.value)
			add(bind(tpl, ClassBoundary, "boundary:"+p.Name+"="+bv.label, mutated, nil))
		}
	}

	for _, p := range params {
		if wrong, ok := wrongTypeValue(p); ok {
			mutated := withOverride(base, p.Name, wrong)
			add(bind(tpl, ClassMalformed, "malformed:wrong-type:"+p.Name, mutated, nil))
		}
		if p.Required && p.Location != template.LocationPath {
			add(bind(tpl, ClassMalformed, "malformed:missing:"+p.Name, base, map[string]struct{}{p.Name: {}}))
		}
	}

	// Combined mutations stay class-per-parameter above; only small
	// parameter sets get the pairwise expansion.
	if len(params) <= crossProductThreshold {
		for i, a := range params {
			wa, okA := wrongTypeValue(a)
			if !okA {
				continue
			}
			for _, b := range params[i+1:] {
				wb, okB := wrongTypeValue(b)
				if !okB {
					continue
				}
				mutated := withOverride(withOverride(base, a.Name, wa), b.Name, wb)
				add(bind(tpl, ClassMalformed, "malformed:wrong-type:"+a.Name+"+"+b.Name, mutated, nil))
			}
		}
	}

	return out
}

func templateSeed(id string) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return int64(h.Sum64())
}

func sortedParams(tpl template.Template) []template.Param {
	params := append([]template.Param(nil), tpl.Params...)
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	return params
}

// nominalBindings picks one observed example per parameter, falling back
// to a type-appropriate default when the schema has no examples.
func nominalBindings(tpl template.Template, rng *rand.Rand) map[string]string {
	bindings := make(map[string]string, len(tpl.Params))
	for _, p := range sortedParams(tpl) {
		if len(p.Examples) > 0 {
			bindings[p.Name] = p.Examples[rng.Intn(len(p.Examples))]
			continue
		}
		switch p.Type {
		case template.TypeNumeric:
			bindings[p.Name] = "1"
		case template.TypeBoolean:
			bindings[p.Name] = "true"
		default:
			bindings[p.Name] = "test"
		}
	}
	return bindings
}

type boundaryValue struct {
	label string
	value string
}

func boundaryValues(p template.Param) []boundaryValue {
	switch p.Type {
	case template.TypeNumeric:
		// for path slots the large value doubles as a likely-nonexistent id
		return []boundaryValue{
			{label: "zero", value: "0"},
			{label: "negative", value: "-1"},
			{label: "large", value: largeNumber},
		}
	case template.TypeBoolean:
		return nil
	default:
		if p.Location == template.LocationPath {
			return []boundaryValue{{label: "nonexistent", value: nonexistentID(p)}}
		}
		return []boundaryValue{
			{label: "empty", value: ""},
			{label: "long", value: strings.Repeat("x", longStringLen)},
		}
	}
}

// nonexistentID is syntactically valid for the slot's observed shape but
// unlikely to resolve to a record.
func nonexistentID(p template.Param) string {
	for _, ex := range p.Examples {
		if strings.Count(ex, "-") == 4 && len(ex) == 36 {
			return zeroUUID
		}
	}
	return missingToken
}

func wrongTypeValue(p template.Param) (string, bool) {
	switch p.Type {
	case template.TypeNumeric:
		return "not-a-number", true
	case template.TypeBoolean:
		return "maybe", true
	default:
		return "", false
	}
}

func withOverride(base map[string]string, name, value string) map[string]string {
	out := make(map[string]string, len(base))
	for k, v := range base {
		out[k] = v
	}
	out[name] = value
	return out
}

// bind renders one concrete request from bindings. Omitted names are
// dropped entirely, which is how missing-required variants are built.
func bind(tpl template.Template, class Class, label string, bindings map[string]string, omit map[string]struct{}) (Variant, bool) {
	var path strings.Builder
	for _, seg := range tpl.Segments {
		path.WriteByte('/')
		if seg.Kind == template.SegmentLiteral {
			path.WriteString(seg.Value)
			continue
		}
		v, ok := bindings[seg.Name]
		if !ok {
			return Variant{}, false
		}
		path.WriteString(url.PathEscape(v))
	}
	if path.Len() == 0 {
		path.WriteByte('/')
	}

	query := url.Values{}
	bodyParams := make(map[string]string)
	for _, p := range tpl.Params {
		if _, skip := omit[p.Name]; skip {
			continue
		}
		v, ok := bindings[p.Name]
		if !ok {
			continue
		}
		switch p.Location {
		case template.LocationQuery:
			query.Set(p.Name, v)
		case template.LocationBody:
			bodyParams[p.Name] = v
		}
	}

	full := tpl.Origin + path.String()
	if encoded := query.Encode(); encoded != "" {
		full += "?" + encoded
	}

	body, contentType := encodeBody(tpl, bodyParams)
	return Variant{
		TemplateID:  tpl.ID,
		Class:       class,
		Label:       label,
		Method:      tpl.Method,
		URL:         full,
		ContentType: contentType,
		Body:        body,
	}, true
}

func encodeBody(tpl template.Template, bodyParams map[string]string) ([]byte, string) {
	if len(bodyParams) == 0 {
		return nil, ""
	}
	if strings.Contains(tpl.ContentType, "json") || tpl.ContentType == "" {
		obj := make(map[string]interface{}, len(bodyParams))
		for name, v := range bodyParams {
			obj[name] = typedBodyValue(tpl, name, v)
		}
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, ""
		}
		return data, "application/json"
	}
	form := url.Values{}
	for name, v := range bodyParams {
		form.Set(name, v)
	}
	return []byte(form.Encode()), "application/x-www-form-urlencoded"
}

// typedBodyValue keeps JSON bodies honest: numeric parameters encode as
// numbers unless the variant is deliberately feeding a wrong-type value.
func typedBodyValue(tpl template.Template, name, v string) interface{} {
	p, ok := tpl.Param(name)
	if !ok {
		return v
	}
	switch p.Type {
	case template.TypeNumeric:
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	case template.TypeBoolean:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return v
}
