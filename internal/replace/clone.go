package replace

// deepClone copies maps and slices recursively. Other values are immutable
// for the engine's purposes and are returned as-is.
func deepClone(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = deepClone(e)
		}
		return out
	default:
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepClone(v)
	}
	return out
}

// Clone returns a deep copy of a content document.
func Clone(doc any) any {
	return deepClone(doc)
}
