package normalize

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/robokop-kg/orion/internal/biolink"
	"github.com/robokop-kg/orion/internal/kgx"
	"github.com/robokop-kg/orion/internal/observability"
)

// DefaultNodeBatchSize is the maximum CURIEs per normalization request.
const DefaultNodeBatchSize = 1000

// DefaultNormWorkers bounds concurrent in-flight batches.
const DefaultNormWorkers = 4

// nodeNormRequest is the get_normalized_nodes request body.
type nodeNormRequest struct {
	Curies               []string `json:"curies"`
	Conflate             bool     `json:"conflate"`
	DrugChemicalConflate bool     `json:"drug_chemical_conflate"`
	Description          bool     `json:"description"`
	IncludeTaxa          bool     `json:"include_taxa"`
}

// normalizedIdentifier is one identifier record in a service response.
type normalizedIdentifier struct {
	Identifier  string `json:"identifier"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
}

// normalizedRecord is the service's answer for one CURIE; a null answer
// means the identifier is unknown to the service.
type normalizedRecord struct {
	ID                    normalizedIdentifier   `json:"id"`
	Type                  []string               `json:"type"`
	EquivalentIdentifiers []normalizedIdentifier `json:"equivalent_identifiers"`
	InformationContent    *float64               `json:"information_content,omitempty"`
}

// VariantNormalizer resolves sequence-variant identifiers. One input id may
// map to zero, one, or many output ids (the split case). Implementations
// are provided by the variant supplementation subsystem; the zero value of
// the pipeline uses PassthroughVariants.
type VariantNormalizer interface {
	NormalizeVariants(ctx context.Context, ids []string) (map[string][]string, error)
}

// PassthroughVariants maps every variant id to itself. Used when no variant
// normalization service is configured.
type PassthroughVariants struct{}

// NormalizeVariants implements VariantNormalizer.
func (PassthroughVariants) NormalizeVariants(_ context.Context, ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	for _, id := range ids {
		out[id] = []string{id}
	}

	return out, nil
}

// NodeNormalizerConfig configures a NodeNormalizer.
type NodeNormalizerConfig struct {
	Endpoint  string
	Strict    bool
	Conflate  bool
	BatchSize int
	Workers   int
	Variants  VariantNormalizer
	Metrics   *observability.PipelineMetrics
}

// NodeNormalizer batch-resolves node identifiers against the node
// normalization service, accumulating the original-id → normalized-id(s)
// lookup consumed by edge rewriting.
type NodeNormalizer struct {
	client  *Client
	toolkit *biolink.Toolkit
	cfg     NodeNormalizerConfig

	mu       sync.Mutex
	lookup   map[string][]string
	failures map[string]struct{}
}

// NewNodeNormalizer creates a node normalizer. The toolkit sanitizes
// categories on the lenient path.
func NewNodeNormalizer(client *Client, toolkit *biolink.Toolkit, cfg NodeNormalizerConfig) *NodeNormalizer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultNodeBatchSize
	}

	if cfg.Workers <= 0 {
		cfg.Workers = DefaultNormWorkers
	}

	if cfg.Variants == nil {
		cfg.Variants = PassthroughVariants{}
	}

	return &NodeNormalizer{
		client:   client,
		toolkit:  toolkit,
		cfg:      cfg,
		lookup:   make(map[string][]string),
		failures: make(map[string]struct{}),
	}
}

// Lookup returns the accumulated original-id → normalized-id(s) map. A nil
// value records a strict-mode removal.
func (n *NodeNormalizer) Lookup() map[string][]string { return n.lookup }

// Failures returns the set of identifiers the service could not resolve.
func (n *NodeNormalizer) Failures() []string {
	out := make([]string, 0, len(n.failures))
	for id := range n.failures {
		out = append(out, id)
	}

	slices.Sort(out)

	return out
}

// NormalizeNodes resolves one batch of nodes in place and returns the nodes
// that survive (strict-mode failures are removed). Variant nodes may split:
// the returned slice can be longer than the input.
func (n *NodeNormalizer) NormalizeNodes(ctx context.Context, nodes []kgx.Entity) ([]kgx.Entity, error) {
	regular, variants := partitionVariants(nodes)

	kept, err := n.normalizeRegular(ctx, regular)
	if err != nil {
		return nil, err
	}

	variantKept, err := n.normalizeVariants(ctx, variants)
	if err != nil {
		return nil, err
	}

	return append(kept, variantKept...), nil
}

// partitionVariants splits nodes into regular and sequence-variant subsets.
func partitionVariants(nodes []kgx.Entity) (regular, variants []kgx.Entity) {
	for _, node := range nodes {
		if slices.Contains(node.Categories(), kgx.SequenceVariant) {
			variants = append(variants, node)
		} else {
			regular = append(regular, node)
		}
	}

	return regular, variants
}

// normalizeRegular resolves non-variant nodes through the service in
// concurrent sub-batches, then applies the results under the strict or
// lenient policy.
func (n *NodeNormalizer) normalizeRegular(ctx context.Context, nodes []kgx.Entity) ([]kgx.Entity, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(nodes))

	seen := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		id := node.ID()
		if _, dup := seen[id]; dup {
			continue
		}

		seen[id] = struct{}{}

		n.mu.Lock()
		_, known := n.lookup[id]
		n.mu.Unlock()

		if !known {
			ids = append(ids, id)
		}
	}

	results := make(map[string]*normalizedRecord, len(ids))

	var resultsMu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(n.cfg.Workers)

	for start := 0; start < len(ids); start += n.cfg.BatchSize {
		batch := ids[start:min(start+n.cfg.BatchSize, len(ids))]

		group.Go(func() error {
			response := make(map[string]*normalizedRecord, len(batch))

			err := n.client.PostJSON(groupCtx, n.cfg.Endpoint+"/get_normalized_nodes", nodeNormRequest{
				Curies:               batch,
				Conflate:             n.cfg.Conflate,
				DrugChemicalConflate: n.cfg.Conflate,
				Description:          true,
				IncludeTaxa:          false,
			}, &response)
			if err != nil {
				return fmt.Errorf("normalize %d nodes: %w", len(batch), err)
			}

			n.cfg.Metrics.RecordNormalizationBatch(groupCtx, "node")

			resultsMu.Lock()
			for id, record := range response {
				results[id] = record
			}
			resultsMu.Unlock()

			return nil
		})
	}

	waitErr := group.Wait()
	if waitErr != nil {
		return nil, waitErr
	}

	return n.applyResults(nodes, results), nil
}

// applyResults rewrites each node from its service record, dropping
// strict-mode failures and sanitizing lenient-mode survivors.
func (n *NodeNormalizer) applyResults(nodes []kgx.Entity, results map[string]*normalizedRecord) []kgx.Entity {
	kept := make([]kgx.Entity, 0, len(nodes))

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, node := range nodes {
		originalID := node.ID()

		if _, known := n.lookup[originalID]; known {
			// Duplicate id within or across batches: the first resolution wins.
			continue
		}

		record := results[originalID]
		if record == nil {
			n.failures[originalID] = struct{}{}

			if n.cfg.Strict {
				n.lookup[originalID] = nil

				continue
			}

			n.lookup[originalID] = []string{originalID}
			n.toolkit.SanitizeCategories(node)
			kept = append(kept, node)

			continue
		}

		n.lookup[originalID] = []string{record.ID.Identifier}
		applyRecord(node, record)
		kept = append(kept, node)
	}

	return kept
}

// applyRecord overwrites a node's identity fields with service values and
// copies the optional ones through.
func applyRecord(node kgx.Entity, record *normalizedRecord) {
	node[kgx.PropID] = record.ID.Identifier
	node[kgx.PropName] = record.ID.Label

	node.SetCategories(record.Type)

	equivalents := make([]any, 0, len(record.EquivalentIdentifiers))
	for _, eq := range record.EquivalentIdentifiers {
		equivalents = append(equivalents, eq.Identifier)
	}

	node[kgx.PropEquivalentIdentifiers] = equivalents

	if record.InformationContent != nil {
		node[kgx.PropInformationContent] = *record.InformationContent
	}

	if record.ID.Description != "" {
		node[kgx.PropDescription] = record.ID.Description
	}
}

// normalizeVariants delegates variant nodes to the variant normalizer. A
// split produces one output node per resulting id.
func (n *NodeNormalizer) normalizeVariants(ctx context.Context, nodes []kgx.Entity) ([]kgx.Entity, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(nodes))
	for _, node := range nodes {
		ids = append(ids, node.ID())
	}

	resolved, err := n.cfg.Variants.NormalizeVariants(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("normalize %d variants: %w", len(ids), err)
	}

	var kept []kgx.Entity

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, node := range nodes {
		originalID := node.ID()

		outputs := resolved[originalID]
		n.lookup[originalID] = outputs

		if len(outputs) == 0 {
			n.failures[originalID] = struct{}{}

			continue
		}

		for _, outputID := range outputs {
			split := node.Clone()
			split[kgx.PropID] = outputID
			kept = append(kept, split)
		}
	}

	return kept, nil
}
