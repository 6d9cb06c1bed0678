package kgx

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// EdgeKey computes the 64-bit identity key of an edge: the xxhash of
// subject + predicate + object + primary_knowledge_source + the sorted
// qualifier name/value pairs, extended with any caller-supplied extra
// attribute values. Edges with equal keys are merged into one record.
//
// Qualifiers are part of identity because they refine the predicate's
// meaning; the primary knowledge source is part of identity because equal
// triples from independent providers are distinct assertions.
func EdgeKey(edge Entity, extraAttributes []string) uint64 {
	var b strings.Builder

	b.WriteString(edge.Subject())
	b.WriteString(edge.Predicate())
	b.WriteString(edge.Object())
	b.WriteString(edge.PrimaryKnowledgeSource())

	for _, q := range QualifierNames(edge) {
		b.WriteString(q)
		b.WriteString(valueString(edge[q]))
	}

	for _, attr := range extraAttributes {
		if v, ok := edge[attr]; ok {
			b.WriteString(valueString(v))
		}
	}

	return xxhash.Sum64String(b.String())
}

// EdgeKeyString returns the edge key formatted as a fixed-width hex string,
// suitable for use as an edge id property.
func EdgeKeyString(edge Entity, extraAttributes []string) string {
	return fmt.Sprintf("%016x", EdgeKey(edge, extraAttributes))
}

// QualifierNames returns the edge's qualifier property names in sorted
// order. A property is a qualifier when its name ends in "_qualifier" or is
// the qualified_predicate.
func QualifierNames(edge Entity) []string {
	var names []string

	for key := range edge {
		if IsQualifier(key) {
			names = append(names, key)
		}
	}

	sort.Strings(names)

	return names
}

// IsQualifier reports whether an edge property name denotes a qualifier.
func IsQualifier(name string) bool {
	return strings.HasSuffix(name, qualifierSuffix) || name == PropQualifiedPredicate
}

// Hash64 returns the xxhash of the given strings concatenated in order.
// Used for graph and release version derivation.
func Hash64(parts ...string) string {
	var b strings.Builder

	for _, p := range parts {
		b.WriteString(p)
	}

	return fmt.Sprintf("%016x", xxhash.Sum64String(b.String()))
}

// valueString renders a property value deterministically for hashing.
func valueString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", v)
}
