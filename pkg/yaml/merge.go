package yaml

import (
	"fmt"
	"maps"
	"slices"
)

// Conflict describes a value that could not be merged because the two
// documents disagree on its type. The existing value is kept.
type Conflict struct {
	Path     string
	Existing string
	Incoming string
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s: cannot merge %s into %s", c.Path, c.Incoming, c.Existing)
}

// Merge deep-merges src into dst and returns the result. Both are decoded
// YAML values (maps, lists and scalars).
//
// Mappings are merged key by key, sequences are concatenated and scalars in
// src replace those in dst. Neither input is modified.
func Merge(dst, src any) (any, []Conflict) {
	var conflicts []Conflict

	merged := merge(dst, src, "$", &conflicts)

	return merged, conflicts
}

func merge(dst, src any, path string, conflicts *[]Conflict) any {
	if dst == nil {
		return clone(src)
	}

	if src == nil {
		return clone(dst)
	}

	switch d := dst.(type) {
	case map[string]any:
		s, ok := src.(map[string]any)
		if !ok {
			break
		}

		out := make(map[string]any, len(d)+len(s))
		for k, v := range d {
			out[k] = clone(v)
		}

		for _, k := range slices.Sorted(maps.Keys(s)) {
			out[k] = merge(out[k], s[k], path+"."+k, conflicts)
		}

		return out

	case []any:
		s, ok := src.([]any)
		if !ok {
			break
		}

		out := make([]any, 0, len(d)+len(s))
		for _, v := range d {
			out = append(out, clone(v))
		}

		for _, v := range s {
			out = append(out, clone(v))
		}

		return out

	default:
		if isContainer(src) {
			break
		}

		return src
	}

	*conflicts = append(*conflicts, Conflict{
		Path:     path,
		Existing: kind(dst),
		Incoming: kind(src),
	})

	return clone(dst)
}

func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = clone(item)
		}

		return out

	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = clone(item)
		}

		return out
	}

	return v
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}

	return false
}

func kind(v any) string {
	switch v.(type) {
	case map[string]any:
		return "mapping"
	case []any:
		return "sequence"
	}

	return "scalar"
}
