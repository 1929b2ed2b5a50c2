// Package treewalk traverses decoded JSON/YAML documents: nested
// map[string]any and []any values with scalar leaves.
package treewalk

// VisitFunc is called for every map entry. Returning false stops the walk
// from descending into value.
type VisitFunc func(key string, value any) bool

// Walk visits every map entry in tree, depth first, in document order for
// lists and unspecified order for maps.
func Walk(tree any, visit VisitFunc) {
	switch node := tree.(type) {
	case map[string]any:
		for k, v := range node {
			if visit(k, v) {
				Walk(v, visit)
			}
		}
	case []any:
		for _, item := range node {
			Walk(item, visit)
		}
	}
}

// CollectStrings returns every string value stored under key anywhere in
// tree. Matching entries are not descended into.
func CollectStrings(tree any, key string) []string {
	var out []string
	Walk(tree, func(k string, v any) bool {
		if k != key {
			return true
		}
		if s, ok := v.(string); ok {
			out = append(out, s)
			return false
		}
		return true
	})
	return out
}

// MatchFunc selects the maps Transform rewrites.
type MatchFunc func(m map[string]any) bool

// FixFunc rewrites a matched map and returns the replacement.
type FixFunc func(m map[string]any) map[string]any

// Transform returns a copy of tree in which every map selected by match is
// replaced by fix(map). Matched maps are not descended into; all other maps
// and lists are copied so the input is left untouched.
func Transform(tree any, match MatchFunc, fix FixFunc) any {
	switch node := tree.(type) {
	case map[string]any:
		if match(node) {
			return fix(copyMap(node))
		}
		out := make(map[string]any, len(node))
		for k, v := range node {
			out[k] = Transform(v, match, fix)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, item := range node {
			out[i] = Transform(item, match, fix)
		}
		return out
	default:
		return tree
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Normalize converts the map[any]any values some YAML decoders produce into
// map[string]any so the rest of the package can assume string keys.
func Normalize(tree any) any {
	switch node := tree.(type) {
	case map[string]any:
		for k, v := range node {
			node[k] = Normalize(v)
		}
		return node
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, v := range node {
			if s, ok := k.(string); ok {
				out[s] = Normalize(v)
			} else {
				out[toString(k)] = Normalize(v)
			}
		}
		return out
	case []any:
		for i, item := range node {
			node[i] = Normalize(item)
		}
		return node
	default:
		return tree
	}
}
