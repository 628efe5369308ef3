package canvas

import "strings"

// Reduce merges a partial update into the current canonical record and
// returns the new record. Neither input is mutated.
//
// Merge rules, in order:
//  1. Patch fields shallow-merge over current fields (patch wins).
//  2. "scores" is the exception: incoming score keys are lowercased and
//     merged key-by-key into the existing scores, so a patch carrying only
//     one dimension never erases the others.
//  3. "actionList" is coerced to an ordered []string (nil → empty, keyed
//     object → values in key order, scalar → single element).
//  4. Whenever a patch carries "actionList", "actionListChecked" is
//     regenerated to the same length, defaulting new slots to false. The
//     patch's own checked slice, when present, is the realignment base;
//     otherwise the prior checked state carries over by index.
//
// Score values are not range-clamped here; that is the tool schema's job.
//
// Reduce is idempotent (re-applying the same patch is a no-op) and
// commutative for field-disjoint patches. For overlapping fields the
// last-applied patch wins.
//
// This is the single merge implementation: both the client-side reducer and
// the server-side PATCH path go through it, so the two can never disagree.
func Reduce(current, patch Record) Record {
	out := current.Clone()
	for k, v := range patch {
		switch k {
		case FieldScores:
			out[FieldScores] = mergeScores(out[FieldScores], v)
		case FieldActionList:
			out[FieldActionList] = CoerceActionList(v)
		case FieldActionChecked:
			out[FieldActionChecked] = coerceChecked(v)
		default:
			out[k] = v
		}
	}
	if _, ok := patch[FieldActionList]; ok {
		list, _ := out[FieldActionList].([]string)
		base := current[FieldActionChecked]
		if patchChecked, ok := patch[FieldActionChecked]; ok {
			base = patchChecked
		}
		out[FieldActionChecked] = realignChecked(list, base)
	}
	return out
}

// mergeScores lowercases every incoming key and merges it over the existing
// scores. A non-object patch value is absorbed silently, leaving the current
// scores untouched.
func mergeScores(current, patch any) map[string]any {
	out := cloneScores(current)
	pm, ok := patch.(map[string]any)
	if !ok {
		return out
	}
	for k, v := range pm {
		out[strings.ToLower(k)] = v
	}
	return out
}

// realignChecked produces a checked slice index-aligned with the new action
// list: prior state is kept by position, new slots default to false.
func realignChecked(list []string, prevChecked any) []bool {
	prev := coerceChecked(prevChecked)
	out := make([]bool, len(list))
	for i := range out {
		if i < len(prev) {
			out[i] = prev[i]
		}
	}
	return out
}
