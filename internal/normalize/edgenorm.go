package normalize

import (
	"context"
	"fmt"
	"net/url"

	"github.com/robokop-kg/orion/internal/kgx"
	"github.com/robokop-kg/orion/internal/observability"
)

// DefaultPredicateBatchSize is the maximum predicates per lookup request.
const DefaultPredicateBatchSize = 100

// PredicateMapping is the resolution of one source predicate: its canonical
// biolink form, whether subject and object must swap, and any extra
// properties (qualified predicate mappings) to copy onto the edge.
type PredicateMapping struct {
	Predicate  string
	Inverted   bool
	Properties map[string]any
}

// EdgeNormalizer batch-resolves predicates against the edge normalization
// service, accumulating a predicate lookup map.
type EdgeNormalizer struct {
	client    *Client
	endpoint  string
	version   string
	batchSize int
	metrics   *observability.PipelineMetrics

	lookup map[string]PredicateMapping
}

// NewEdgeNormalizer creates an edge normalizer for one service version.
// A nil metrics value disables batch accounting.
func NewEdgeNormalizer(client *Client, endpoint, version string, metrics *observability.PipelineMetrics) *EdgeNormalizer {
	return &EdgeNormalizer{
		client:    client,
		endpoint:  endpoint,
		version:   version,
		batchSize: DefaultPredicateBatchSize,
		metrics:   metrics,
		lookup:    make(map[string]PredicateMapping),
	}
}

// Lookup returns the accumulated predicate map.
func (n *EdgeNormalizer) Lookup() map[string]PredicateMapping { return n.lookup }

// Resolve returns the mapping for a predicate already passed through
// NormalizePredicates. Unknown predicates fall back to related_to.
func (n *EdgeNormalizer) Resolve(predicate string) PredicateMapping {
	mapping, ok := n.lookup[predicate]
	if !ok {
		return PredicateMapping{Predicate: kgx.FallbackPredicate}
	}

	return mapping
}

// NormalizePredicates resolves every predicate not already in the lookup,
// in sub-batches. Predicates the service cannot resolve fall back to
// related_to with inverted=false.
func (n *EdgeNormalizer) NormalizePredicates(ctx context.Context, predicates []string) error {
	var missing []string

	for _, p := range predicates {
		if _, known := n.lookup[p]; !known {
			missing = append(missing, p)
		}
	}

	for start := 0; start < len(missing); start += n.batchSize {
		batch := missing[start:min(start+n.batchSize, len(missing))]

		err := n.resolveBatch(ctx, batch)
		if err != nil {
			return err
		}
	}

	return nil
}

// resolveBatch performs one resolve_predicate request and folds the answer
// into the lookup.
func (n *EdgeNormalizer) resolveBatch(ctx context.Context, batch []string) error {
	query := url.Values{}
	query.Set("version", n.version)

	for _, p := range batch {
		query.Add("predicate", p)
	}

	response := make(map[string]map[string]any, len(batch))

	err := n.client.GetJSON(ctx, n.endpoint+"/resolve_predicate?"+query.Encode(), &response)
	if err != nil {
		return fmt.Errorf("resolve %d predicates: %w", len(batch), err)
	}

	n.metrics.RecordNormalizationBatch(ctx, "predicate")

	for _, p := range batch {
		raw, answered := response[p]
		if !answered {
			n.lookup[p] = PredicateMapping{Predicate: kgx.FallbackPredicate}

			continue
		}

		n.lookup[p] = mappingFromResponse(raw)
	}

	return nil
}

// mappingFromResponse decodes one service answer. The canonical predicate
// arrives as "predicate" or "identifier"; everything else except the label
// and inversion flag is an extra property for the edge.
func mappingFromResponse(raw map[string]any) PredicateMapping {
	mapping := PredicateMapping{Predicate: kgx.FallbackPredicate}

	if p, ok := raw["predicate"].(string); ok && p != "" {
		mapping.Predicate = p
	} else if ident, isIdent := raw["identifier"].(string); isIdent && ident != "" {
		mapping.Predicate = ident
	}

	if inverted, ok := raw["inverted"].(bool); ok {
		mapping.Inverted = inverted
	}

	for key, value := range raw {
		switch key {
		case "predicate", "identifier", "inverted", "label":
			continue
		default:
			if mapping.Properties == nil {
				mapping.Properties = make(map[string]any)
			}

			mapping.Properties[key] = value
		}
	}

	return mapping
}
