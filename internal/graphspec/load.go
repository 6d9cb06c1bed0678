package graphspec

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/robokop-kg/orion/internal/normalize"
)

//go:embed schema.json
var schemaDocument []byte

func errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Parse validates raw YAML against the spec schema and decodes it.
func Parse(data []byte) (*Document, error) {
	var raw map[string]any

	err := yaml.Unmarshal(data, &raw)
	if err != nil {
		return nil, errorf("parse yaml: %v", err)
	}

	validateErr := validate(raw)
	if validateErr != nil {
		return nil, validateErr
	}

	var doc Document

	err = yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, errorf("decode graph spec: %v", err)
	}

	return &doc, nil
}

// validate checks the decoded document against the embedded JSON schema and
// reports every violation at once.
func validate(raw map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaDocument),
		gojsonschema.NewGoLoader(raw),
	)
	if err != nil {
		return errorf("validate graph spec: %v", err)
	}

	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}

	return errorf("invalid graph spec: %s", strings.Join(violations, "; "))
}

// LoadFile reads and parses a graph spec from disk.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errorf("read graph spec %s: %v", path, err)
	}

	return Parse(data)
}

// LoadURL fetches and parses a graph spec from a remote location with the
// auxiliary-endpoint retry policy.
func LoadURL(ctx context.Context, url string) (*Document, error) {
	client := normalize.NewClientWithAttempts(normalize.AuxServiceAttempts)

	data, err := client.GetRaw(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch graph spec from %s: %w", url, err)
	}

	return Parse(data)
}

// ResolveServiceVersions asks both normalization services what version they
// run, for resolving `latest` literals. Uses the auxiliary retry policy.
func ResolveServiceVersions(ctx context.Context, nodeEndpoint, edgeEndpoint string) (nodeVersion, edgeVersion string, err error) {
	client := normalize.NewClientWithAttempts(normalize.AuxServiceAttempts)

	nodeVersion, err = fetchServiceVersion(ctx, client, nodeEndpoint)
	if err != nil {
		return "", "", fmt.Errorf("node normalization version: %w", err)
	}

	edgeVersion, err = fetchServiceVersion(ctx, client, edgeEndpoint)
	if err != nil {
		return "", "", fmt.Errorf("edge normalization version: %w", err)
	}

	return nodeVersion, edgeVersion, nil
}

// fetchServiceVersion reads the service's advertised version from its
// OpenAPI descriptor.
func fetchServiceVersion(ctx context.Context, client *normalize.Client, endpoint string) (string, error) {
	var descriptor struct {
		Info struct {
			Version string `json:"version"`
		} `json:"info"`
	}

	err := client.GetJSON(ctx, strings.TrimSuffix(endpoint, "/")+"/openapi.json", &descriptor)
	if err != nil {
		return "", err
	}

	if descriptor.Info.Version == "" {
		return "", fmt.Errorf("service at %s reports no version", endpoint)
	}

	return descriptor.Info.Version, nil
}
