package schema

// Clone returns a deep copy of the row. Nested objects and arrays are copied so the
// result can be handed to callers without aliasing stored state.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = cloneInterface(v)
	}
	return out
}

func cloneMapStringAny(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = cloneInterface(v)
	}
	return out
}

func cloneInterface(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return append([]byte(nil), v...)
	case Row:
		return v.Clone()
	case map[string]any:
		return cloneMapStringAny(v)
	case []any:
		return cloneSliceAny(v)
	default:
		return v
	}
}

func cloneSliceAny(src []any) []any {
	if src == nil {
		return nil
	}
	out := make([]any, len(src))
	for i := range src {
		out[i] = cloneInterface(src[i])
	}
	return out
}
