// Package openapi loads endpoint templates from an existing OpenAPI
// document, so the prober can run against a described API without a
// preceding crawl.
package openapi

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/knowlet/scanner/internal/template"
)

var probeMethods = map[string]struct{}{
	"get": {}, "post": {}, "put": {}, "delete": {}, "patch": {},
}

type document struct {
	Paths map[string]map[string]operation `yaml:"paths"`
}

type operation struct {
	Summary    string      `yaml:"summary"`
	Parameters []parameter `yaml:"parameters"`
}

type parameter struct {
	Name     string `yaml:"name"`
	In       string `yaml:"in"`
	Required bool   `yaml:"required"`
	Schema   struct {
		Type string `yaml:"type"`
	} `yaml:"schema"`
}

// LoadFile reads an OpenAPI YAML document and converts its paths into
// endpoint templates rooted at origin (scheme://host).
func LoadFile(path, origin string) ([]template.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read openapi document: %w", err)
	}
	return Load(data, origin)
}

// Load parses OpenAPI YAML bytes into endpoint templates. Path items
// with templated segments like /users/{id} become slot segments; declared
// parameters fill in the schema.
func Load(data []byte, origin string) ([]template.Template, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	if len(doc.Paths) == 0 {
		return nil, fmt.Errorf("openapi document has no paths")
	}
	origin = strings.TrimSuffix(origin, "/")

	var templates []template.Template
	for path, ops := range doc.Paths {
		for method, op := range ops {
			if _, ok := probeMethods[strings.ToLower(method)]; !ok {
				continue
			}
			tpl := buildTemplate(strings.ToUpper(method), origin, path, op)
			templates = append(templates, tpl)
		}
	}
	sortTemplates(templates)
	return templates, nil
}

func buildTemplate(method, origin, path string, op operation) template.Template {
	declared := make(map[string]parameter, len(op.Parameters))
	for _, p := range op.Parameters {
		declared[p.Name] = p
	}

	var segments []template.Segment
	var params []template.Param
	for _, raw := range splitPath(path) {
		if name, ok := slotSegment(raw); ok {
			pt := template.TypeString
			required := true
			if p, found := declared[name]; found && p.In == "path" {
				pt = schemaType(p.Schema.Type)
			}
			segments = append(segments, template.Segment{Kind: template.SegmentSlot, Name: name})
			params = append(params, template.Param{
				Name:     name,
				Location: template.LocationPath,
				Type:     pt,
				Required: required,
			})
			continue
		}
		segments = append(segments, template.Segment{Kind: template.SegmentLiteral, Value: raw})
	}

	for _, p := range op.Parameters {
		if p.In != "query" {
			continue
		}
		params = append(params, template.Param{
			Name:     p.Name,
			Location: template.LocationQuery,
			Type:     schemaType(p.Schema.Type),
			Required: p.Required,
		})
	}

	tpl := template.Template{
		Method:   method,
		Origin:   origin,
		Segments: segments,
		Params:   params,
	}
	tpl.ID = tpl.Method + " " + tpl.Origin + tpl.Pattern()
	return tpl
}

func slotSegment(raw string) (string, bool) {
	if strings.HasPrefix(raw, "{") && strings.HasSuffix(raw, "}") && len(raw) > 2 {
		return raw[1 : len(raw)-1], true
	}
	return "", false
}

func schemaType(t string) template.ParamType {
	switch t {
	case "integer", "number":
		return template.TypeNumeric
	case "boolean":
		return template.TypeBoolean
	default:
		return template.TypeString
	}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// map iteration order is random; sort so repeated loads of the same
// document probe in the same order
func sortTemplates(templates []template.Template) {
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
}
