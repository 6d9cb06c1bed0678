package qc

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/robokop-kg/orion/internal/normalize"
)

// Knowledge-source registry statuses we act on.
const (
	statusReleased   = "released"
	statusDeprecated = "deprecated"
)

// inforesSnapshot is a bundled copy of the information-resource registry so
// QC works offline. A fetched catalog, when configured, replaces it.
//
//go:embed infores.json
var inforesSnapshot []byte

// Catalog indexes known information-resource identifiers by status.
type Catalog struct {
	status map[string]string
}

type catalogDocument struct {
	InformationResources []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"information_resources"`
}

// LoadCatalog parses the embedded registry snapshot.
func LoadCatalog() (*Catalog, error) {
	return parseCatalog(inforesSnapshot)
}

// FetchCatalog retrieves the registry from a remote URL with the
// auxiliary-endpoint retry policy.
func FetchCatalog(ctx context.Context, url string) (*Catalog, error) {
	client := normalize.NewClientWithAttempts(normalize.AuxServiceAttempts)

	var doc catalogDocument

	err := client.GetJSON(ctx, url, &doc)
	if err != nil {
		return nil, fmt.Errorf("fetch information-resource catalog: %w", err)
	}

	return indexCatalog(doc), nil
}

func parseCatalog(data []byte) (*Catalog, error) {
	var doc catalogDocument

	err := json.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("parse information-resource catalog: %w", err)
	}

	return indexCatalog(doc), nil
}

func indexCatalog(doc catalogDocument) *Catalog {
	status := make(map[string]string, len(doc.InformationResources))
	for _, resource := range doc.InformationResources {
		status[resource.ID] = resource.Status
	}

	return &Catalog{status: status}
}

// Known reports whether the identifier appears in the registry.
func (c *Catalog) Known(id string) bool {
	_, ok := c.status[id]

	return ok
}

// Deprecated reports whether the identifier is registered as deprecated.
func (c *Catalog) Deprecated(id string) bool {
	return c.status[id] == statusDeprecated
}
