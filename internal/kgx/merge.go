package kgx

import (
	"encoding/json"
	"fmt"
	"sort"
)

// mapListKeyFuncs maps a list-of-map property name to the function that
// derives the grouping key for its members. Properties without an entry fall
// back to the member's canonical JSON serialization.
var mapListKeyFuncs = map[string]func(map[string]any) string{
	PropRetrievalSources: func(m map[string]any) string {
		id, _ := m["resource_id"].(string)
		role, _ := m["resource_role"].(string)

		return id + "|" + role
	},
}

// MergeEntities folds src into dst, mutating and returning dst. The rules,
// applied per property of src with a non-empty value:
//
//   - absent in dst: adopt the src value.
//   - both lists: concatenate.
//   - exactly one list: the scalar joins the list.
//   - both scalars: dst wins (stable, first writer).
//
// Any property that held or became a list is then normalized: lists of maps
// are regrouped by key function and duplicate groups merged recursively with
// the same rules; scalar lists are deduplicated and sorted.
func MergeEntities(dst, src Entity) Entity {
	for key, srcVal := range src {
		if isEmptyValue(srcVal) {
			continue
		}

		dstVal, exists := dst[key]
		if !exists || isEmptyValue(dstVal) {
			dst[key] = srcVal
		} else {
			dst[key] = combineValues(dstVal, srcVal)
		}

		if list, ok := dst[key].([]any); ok {
			dst[key] = normalizeList(key, list)
		}
	}

	return dst
}

// combineValues merges two non-empty values for the same property.
func combineValues(dstVal, srcVal any) any {
	dstList, dstIsList := dstVal.([]any)
	srcList, srcIsList := srcVal.([]any)

	switch {
	case dstIsList && srcIsList:
		return append(dstList, srcList...)
	case dstIsList:
		return append(dstList, srcVal)
	case srcIsList:
		return append([]any{dstVal}, srcList...)
	default:
		// Both scalars: first writer wins.
		return dstVal
	}
}

// normalizeList dedups a combined list. Lists of maps are regrouped by the
// property's key function and merged; anything else is treated as a scalar
// list and sort-deduplicated.
func normalizeList(property string, list []any) []any {
	if len(list) == 0 {
		return list
	}

	if _, isMap := list[0].(map[string]any); isMap {
		return regroupMapList(property, list)
	}

	return dedupSortScalars(list)
}

// regroupMapList groups list-of-map members by key and recursively merges
// members that share a key. First occurrence order is preserved.
func regroupMapList(property string, list []any) []any {
	keyFn := mapListKeyFuncs[property]
	if keyFn == nil {
		keyFn = canonicalJSONKey
	}

	var order []string

	groups := make(map[string]Entity)

	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}

		key := keyFn(m)

		existing, seen := groups[key]
		if !seen {
			groups[key] = Entity(m)
			order = append(order, key)

			continue
		}

		MergeEntities(existing, Entity(m))
	}

	out := make([]any, 0, len(order))
	for _, key := range order {
		out = append(out, map[string]any(groups[key]))
	}

	return out
}

// dedupSortScalars removes duplicates and orders scalar list members by
// their string form. Stable across runs regardless of input order.
func dedupSortScalars(list []any) []any {
	seen := make(map[string]any, len(list))

	keys := make([]string, 0, len(list))

	for _, v := range list {
		key := scalarKey(v)
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = v
		keys = append(keys, key)
	}

	sort.Strings(keys)

	out := make([]any, len(keys))
	for i, key := range keys {
		out[i] = seen[key]
	}

	return out
}

// canonicalJSONKey is the default map-list key function.
func canonicalJSONKey(m map[string]any) string {
	// Marshal with sorted keys (encoding/json sorts map keys).
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%v", m)
	}

	return string(b)
}

// scalarKey derives the dedup key for a scalar list member.
func scalarKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", v)
}

// isEmptyValue reports whether a property value carries no information and
// should not participate in merging.
func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}
