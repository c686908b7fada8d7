// Package template turns concrete inventory entries into parameterized
// endpoint templates: structural path shapes with named slots and a
// typed parameter schema.
package template

import (
	"net/http"
	"strings"
)

// SegmentKind tags how confidently a path segment was classified.
// Ambiguous segments look like identifiers but lack variation evidence;
// they are generalized like slots but consumers can tell the guess from
// the confident inference.
type SegmentKind string

// Segment classifications.
const (
	SegmentLiteral   SegmentKind = "literal"
	SegmentSlot      SegmentKind = "slot"
	SegmentAmbiguous SegmentKind = "ambiguous"
)

// ParamLocation says where a parameter rides on the request.
type ParamLocation string

// Parameter locations.
const (
	LocationPath  ParamLocation = "path"
	LocationQuery ParamLocation = "query"
	LocationBody  ParamLocation = "body"
)

// ParamType is the best-effort inferred value type.
type ParamType string

// Parameter types.
const (
	TypeNumeric ParamType = "numeric"
	TypeBoolean ParamType = "boolean"
	TypeString  ParamType = "string"
)

// Segment is one path segment of a template.
type Segment struct {
	Kind     SegmentKind
	Value    string   // literal text when Kind is literal
	Name     string   // parameter name otherwise
	Examples []string // observed values for slot/ambiguous segments
}

// Param is one entry in a template's parameter schema.
type Param struct {
	Name     string
	Location ParamLocation
	Type     ParamType
	Required bool
	Examples []string
}

// Template is a parameterized generalization of one or more observed
// requests against the same structural path shape.
type Template struct {
	ID          string
	Method      string
	Origin      string // scheme://host
	Segments    []Segment
	Params      []Param
	ContentType string
	Headers     http.Header
	EntryKeys   []string // inventory entries that contributed
}

// Pattern renders the path with named slots, e.g. /users/{users_id}.
func (t Template) Pattern() string {
	if len(t.Segments) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, seg := range t.Segments {
		b.WriteByte('/')
		if seg.Kind == SegmentLiteral {
			b.WriteString(seg.Value)
		} else {
			b.WriteString("{" + seg.Name + "}")
		}
	}
	return b.String()
}

// PathParams returns the schema entries bound to path slots, in segment
// order.
func (t Template) PathParams() []Param {
	var out []Param
	for _, p := range t.Params {
		if p.Location == LocationPath {
			out = append(out, p)
		}
	}
	return out
}

// Param looks up a schema entry by name.
func (t Template) Param(name string) (Param, bool) {
	for _, p := range t.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}
