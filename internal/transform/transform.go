// Package transform applies declarative path-based transforms to decoded
// JSON values. It backs webhook payload_transform and REST response_transform
// configuration.
//
// Paths are dotted segments; a segment suffixed with "[]" applies the rest of
// the path to every element of an array. Rules run in order, missing paths
// are silently skipped, and the input value is never mutated in place.
package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/cubicler/cubicler/pkg/models"
)

// Apply runs the rules against value and returns the transformed copy.
func Apply(value any, rules []models.TransformRule) any {
	out := deepCopy(value)
	for _, rule := range rules {
		out = applyRule(out, rule)
	}
	return out
}

type segment struct {
	name string
	each bool
}

func parsePath(path string) []segment {
	parts := strings.Split(path, ".")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		each := strings.HasSuffix(p, "[]")
		segs = append(segs, segment{name: strings.TrimSuffix(p, "[]"), each: each})
	}
	return segs
}

func applyRule(root any, rule models.TransformRule) any {
	segs := parsePath(rule.Path)
	if len(segs) == 0 || segs[0].name == "" {
		return root
	}
	walk(root, segs, rule)
	return root
}

// walk descends container along segs and applies the rule at the leaf. The
// container is always the parent of the node addressed by segs[0], so leaf
// operations (including remove) mutate the copied tree via the parent map.
func walk(container any, segs []segment, rule models.TransformRule) {
	m, ok := container.(map[string]any)
	if !ok {
		return
	}
	seg := segs[0]
	current, exists := m[seg.name]
	if !exists {
		return
	}

	if len(segs) == 1 {
		if seg.each {
			arr, ok := current.([]any)
			if !ok {
				return
			}
			if rule.Transform == "remove" {
				delete(m, seg.name)
				return
			}
			for i, elem := range arr {
				arr[i] = transformValue(elem, rule)
			}
			return
		}
		if rule.Transform == "remove" {
			delete(m, seg.name)
			return
		}
		m[seg.name] = transformValue(current, rule)
		return
	}

	if seg.each {
		arr, ok := current.([]any)
		if !ok {
			return
		}
		for _, elem := range arr {
			walk(elem, segs[1:], rule)
		}
		return
	}
	walk(current, segs[1:], rule)
}

func transformValue(value any, rule models.TransformRule) any {
	switch rule.Transform {
	case "map":
		key := stringify(value)
		if mapped, ok := rule.Map[key]; ok {
			return mapped
		}
		return value
	case "template":
		return renderTemplate(rule.Template, value)
	case "date_format":
		return reformatDate(value, rule.Format)
	default:
		return value
	}
}

// renderTemplate substitutes {value} and {value.<field>} interpolations.
func renderTemplate(tmpl string, value any) string {
	out := strings.ReplaceAll(tmpl, "{value}", stringify(value))
	fields, ok := value.(map[string]any)
	if !ok {
		return out
	}
	for key, v := range fields {
		out = strings.ReplaceAll(out, "{value."+key+"}", stringify(v))
	}
	return out
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// reformatDate parses an ISO-8601 value and renders it using the rule's
// format string (YYYY, MM, DD, HH, mm, ss tokens). Unparseable values pass
// through unchanged.
func reformatDate(value any, format string) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	var parsed time.Time
	var err error
	for _, layout := range dateLayouts {
		parsed, err = time.Parse(layout, s)
		if err == nil {
			break
		}
	}
	if err != nil {
		return value
	}
	layout := strings.NewReplacer(
		"YYYY", "2006",
		"MM", "01",
		"DD", "02",
		"HH", "15",
		"mm", "04",
		"ss", "05",
	).Replace(format)
	return parsed.Format(layout)
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode to float64; render integers without a fraction.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			out[k] = deepCopy(elem)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = deepCopy(elem)
		}
		return out
	default:
		return v
	}
}
