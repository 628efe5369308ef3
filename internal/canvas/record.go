// Package canvas implements the canvas-synchronization core: extraction of
// structured canvas-update tool invocations from assistant messages, merging
// of partial updates into the canonical record, and debounced persistence of
// human edits.
package canvas

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Record is the canonical canvas state for one session: a mapping from field
// name to value. Fields are preset-specific and independently optional; an
// absent field means "not yet known", never an error.
type Record map[string]any

// Clone returns a copy of the record. The scores sub-map and the action-list
// slices are copied as well; other values are shared.
func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}
	out := make(Record, len(r))
	for k, v := range r {
		switch k {
		case FieldScores:
			out[k] = cloneScores(v)
		case FieldActionList:
			out[k] = CoerceActionList(v)
		case FieldActionChecked:
			out[k] = coerceChecked(v)
		default:
			out[k] = v
		}
	}
	return out
}

// Field names with merge-relevant semantics.
const (
	FieldScores        = "scores"
	FieldActionList    = "actionList"
	FieldActionChecked = "actionListChecked"
)

func cloneScores(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, sv := range m {
		out[strings.ToLower(k)] = sv
	}
	return out
}

// CoerceActionList forces a value into an ordered sequence of strings. The
// upstream model sometimes emits a keyed object or a bare scalar where an
// array is expected; absence coerces to an empty sequence.
func CoerceActionList(v any) []string {
	switch val := v.(type) {
	case nil:
		return []string{}
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, stringify(item))
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sortNumericAware(keys)
		out := make([]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, stringify(val[k]))
		}
		return out
	default:
		return []string{stringify(v)}
	}
}

func coerceChecked(v any) []bool {
	switch val := v.(type) {
	case nil:
		return []bool{}
	case []bool:
		out := make([]bool, len(val))
		copy(out, val)
		return out
	case []any:
		out := make([]bool, 0, len(val))
		for _, item := range val {
			b, _ := item.(bool)
			out = append(out, b)
		}
		return out
	default:
		return []bool{}
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// sortNumericAware orders keys like JSON object keys from JavaScript:
// integer-like keys ascending first, the rest lexically.
func sortNumericAware(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		ni, errI := strconv.Atoi(keys[i])
		nj, errJ := strconv.Atoi(keys[j])
		switch {
		case errI == nil && errJ == nil:
			return ni < nj
		case errI == nil:
			return true
		case errJ == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
}
