package story

import "reflect"

// Compact returns a copy of the record with every falsy top-level value
// removed: nil, empty string, false, zero numbers, and empty slices or maps.
// The destination API treats explicit nulls and empty lists as meaningful, so
// unset fields are stripped instead of sent. The strip is shallow; nested
// records are compacted individually where they are built.
func Compact(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		if isFalsy(v) {
			continue
		}
		out[k] = v
	}
	return out
}

func isFalsy(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return rv.IsZero()
	}
}
