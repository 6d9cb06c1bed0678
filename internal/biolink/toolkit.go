// Package biolink wraps a snapshot of the biolink model: the category and
// predicate hierarchies plus the domain/range constraints the validator
// consults. The toolkit is immutable after Load and safe for concurrent use;
// components receive it explicitly rather than through package globals.
package biolink

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/robokop-kg/orion/internal/kgx"
)

//go:embed model.yaml
var embeddedModel []byte

// ErrUnknownCategory is returned by Ancestors for a category outside the model.
var ErrUnknownCategory = errors.New("unknown biolink category")

// Association holds the domain/range constraint for one predicate.
// Empty fields are unconstrained.
type Association struct {
	Domain string `yaml:"domain"`
	Range  string `yaml:"range"`
}

// modelDocument is the on-disk shape of a model snapshot.
type modelDocument struct {
	Version      string                 `yaml:"version"`
	Categories   map[string]string      `yaml:"categories"`
	Predicates   map[string]string      `yaml:"predicates"`
	Associations map[string]Association `yaml:"associations"`
}

// Toolkit answers category, predicate, and association questions against one
// loaded model version.
type Toolkit struct {
	version         string
	categoryParents map[string]string
	predicates      map[string]string
	associations    map[string]Association
}

// Load builds a Toolkit from the embedded model snapshot.
func Load() (*Toolkit, error) {
	return parse(embeddedModel)
}

// LoadFile builds a Toolkit from a model snapshot on disk. Used when
// BL_VERSION points at a downloaded model rather than the embedded one.
func LoadFile(path string) (*Toolkit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read biolink model: %w", err)
	}

	return parse(data)
}

func parse(data []byte) (*Toolkit, error) {
	var doc modelDocument

	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("parse biolink model: %w", err)
	}

	return &Toolkit{
		version:         doc.Version,
		categoryParents: doc.Categories,
		predicates:      doc.Predicates,
		associations:    doc.Associations,
	}, nil
}

// Version returns the model snapshot version.
func (t *Toolkit) Version() string { return t.version }

// IsValidCategory reports whether the category exists in the model.
func (t *Toolkit) IsValidCategory(category string) bool {
	_, ok := t.categoryParents[category]

	return ok
}

// IsValidPredicate reports whether the predicate exists in the model.
func (t *Toolkit) IsValidPredicate(predicate string) bool {
	_, ok := t.predicates[predicate]

	return ok
}

// Ancestors returns the chain of ancestor categories from the immediate
// parent up to the root, excluding the category itself.
func (t *Toolkit) Ancestors(category string) ([]string, error) {
	if !t.IsValidCategory(category) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}

	var chain []string

	for current := t.categoryParents[category]; current != ""; current = t.categoryParents[current] {
		chain = append(chain, current)
	}

	return chain, nil
}

// IsAncestorOf reports whether ancestor appears in category's ancestor chain.
// A category is not its own ancestor.
func (t *Toolkit) IsAncestorOf(ancestor, category string) bool {
	for current := t.categoryParents[category]; current != ""; current = t.categoryParents[current] {
		if current == ancestor {
			return true
		}
	}

	return false
}

// LeafCategories strips from the list every category that is an ancestor of
// another present category. Unknown categories pass through untouched.
// Input order is preserved.
func (t *Toolkit) LeafCategories(categories []string) []string {
	leaves := make([]string, 0, len(categories))

	for _, candidate := range categories {
		isAncestor := false

		for _, other := range others(categories, candidate) {
			if t.IsAncestorOf(candidate, other) {
				isAncestor = true

				break
			}
		}

		if !isAncestor {
			leaves = append(leaves, candidate)
		}
	}

	return leaves
}

// others yields the members of categories other than self.
func others(categories []string, self string) []string {
	out := make([]string, 0, len(categories))

	for _, c := range categories {
		if c != self {
			out = append(out, c)
		}
	}

	return out
}

// SanitizeCategories rewrites a node's categories under lenient
// normalization: invalid categories move to custom_node_types, the valid
// list is deduplicated and always contains NamedThing.
func (t *Toolkit) SanitizeCategories(node kgx.Entity) {
	var valid, custom []string

	seen := make(map[string]struct{})

	for _, category := range node.Categories() {
		if _, dup := seen[category]; dup {
			continue
		}

		seen[category] = struct{}{}

		if t.IsValidCategory(category) {
			valid = append(valid, category)
		} else {
			custom = append(custom, category)
		}
	}

	if _, hasRoot := seen[kgx.NamedThing]; !hasRoot {
		valid = append(valid, kgx.NamedThing)
	}

	node.SetCategories(valid)

	if len(custom) > 0 {
		sort.Strings(custom)

		list := make([]any, len(custom))
		for i, c := range custom {
			list[i] = c
		}

		node[kgx.PropCustomNodeTypes] = list
	}
}

// PermittedTriple checks the subject leaf categories, predicate, and object
// leaf categories against the model's domain/range constraints. Predicates
// without an association entry are unconstrained.
func (t *Toolkit) PermittedTriple(subjectCategories []string, predicate string, objectCategories []string) bool {
	if !t.IsValidPredicate(predicate) {
		return false
	}

	assoc, constrained := t.associations[predicate]
	if !constrained {
		return true
	}

	return t.satisfies(subjectCategories, assoc.Domain) && t.satisfies(objectCategories, assoc.Range)
}

// satisfies reports whether any category equals the constraint or descends
// from it. An empty constraint always passes.
func (t *Toolkit) satisfies(categories []string, constraint string) bool {
	if constraint == "" {
		return true
	}

	for _, category := range categories {
		if category == constraint || t.IsAncestorOf(constraint, category) {
			return true
		}
	}

	return false
}
