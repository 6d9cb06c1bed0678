// Package kgx implements the canonical node/edge representation used across
// the knowledge-graph build pipeline, the entity merge function, stable edge
// identity keys, and line-oriented JSONL stream I/O.
package kgx

// Entity is one node or edge record: an open-ended property map decoded from
// a single JSONL line. Semantic fields are accessed through the typed helpers
// below; everything else passes through untouched.
type Entity map[string]any

// Node property names.
const (
	PropID                   = "id"
	PropName                 = "name"
	PropCategory             = "category"
	PropEquivalentIdentifiers = "equivalent_identifiers"
	PropInformationContent   = "information_content"
	PropDescription          = "description"
	PropCustomNodeTypes      = "custom_node_types"
)

// Edge property names.
const (
	PropSubject                = "subject"
	PropPredicate              = "predicate"
	PropObject                 = "object"
	PropPrimaryKnowledgeSource = "primary_knowledge_source"
	PropAggregatorSources      = "aggregator_knowledge_source"
	PropPublications           = "publications"
	PropOriginalSubject        = "original_subject"
	PropOriginalObject         = "original_object"
	PropQualifiedPredicate     = "qualified_predicate"
	PropSources                = "sources"
	PropRetrievalSources       = "retrieval_sources"
	PropEdgeID                 = "id"
)

// Biolink identifiers the core depends on.
const (
	NamedThing          = "biolink:NamedThing"
	SequenceVariant     = "biolink:SequenceVariant"
	FallbackPredicate   = "biolink:related_to"
	SubclassOfPredicate = "biolink:subclass_of"
)

// qualifierSuffix marks edge properties that participate in edge identity.
const qualifierSuffix = "_qualifier"

// listProperties is the fixed whitelist of property names whose values are
// list-valued at merge time. Scalar values arriving under these names are
// promoted to single-element lists before merging.
var listProperties = map[string]struct{}{
	PropCategory:              {},
	PropEquivalentIdentifiers: {},
	PropPublications:          {},
	PropAggregatorSources:     {},
	PropCustomNodeTypes:       {},
	PropRetrievalSources:      {},
	"xref":                    {},
	"synonym":                 {},
	"provided_by":             {},
	"hgvs":                    {},
	"same_as":                 {},
}

// IsListProperty reports whether the named property is list-valued per the
// merge whitelist.
func IsListProperty(name string) bool {
	_, ok := listProperties[name]

	return ok
}

// ID returns the node id, or "" when absent or not a string.
func (e Entity) ID() string { return e.str(PropID) }

// Name returns the node name.
func (e Entity) Name() string { return e.str(PropName) }

// Subject returns the edge subject CURIE.
func (e Entity) Subject() string { return e.str(PropSubject) }

// Object returns the edge object CURIE.
func (e Entity) Object() string { return e.str(PropObject) }

// Predicate returns the edge predicate.
func (e Entity) Predicate() string { return e.str(PropPredicate) }

// PrimaryKnowledgeSource returns the edge's primary knowledge source.
func (e Entity) PrimaryKnowledgeSource() string { return e.str(PropPrimaryKnowledgeSource) }

// Categories returns the node category list. JSON decoding yields []any;
// non-string members are skipped.
func (e Entity) Categories() []string {
	return e.strList(PropCategory)
}

// SetCategories replaces the node category list.
func (e Entity) SetCategories(categories []string) {
	list := make([]any, len(categories))
	for i, c := range categories {
		list[i] = c
	}

	e[PropCategory] = list
}

// Clone returns a shallow copy of the entity. List values are copied one
// level deep so the clone can be merged into without aliasing the original.
func (e Entity) Clone() Entity {
	out := make(Entity, len(e))

	for k, v := range e {
		if list, ok := v.([]any); ok {
			out[k] = append([]any(nil), list...)

			continue
		}

		out[k] = v
	}

	return out
}

func (e Entity) str(key string) string {
	v, ok := e[key].(string)
	if !ok {
		return ""
	}

	return v
}

func (e Entity) strList(key string) []string {
	raw, ok := e[key].([]any)
	if !ok {
		// Decoders that preserve string slices (tests, in-process producers).
		if ss, isStrings := e[key].([]string); isStrings {
			return append([]string(nil), ss...)
		}

		return nil
	}

	out := make([]string, 0, len(raw))

	for _, v := range raw {
		if s, isStr := v.(string); isStr {
			out = append(out, s)
		}
	}

	return out
}
