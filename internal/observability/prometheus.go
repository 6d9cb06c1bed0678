package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// newPrometheusReader creates a Prometheus exporter on a fresh registry and
// returns the scrape handler plus the reader to attach to the meter
// provider. A per-call registry avoids collector conflicts when telemetry
// is re-initialized in tests.
func newPrometheusReader() (http.Handler, sdkmetric.Reader, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(
		promexporter.WithRegisterer(registry),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), exporter, nil
}
