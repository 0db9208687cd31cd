package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/honeynil/EscrowServiceTochka/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup installs the JSON logger, registers the domain metrics and starts
// tracing. The returned handler serves /metrics.
func Setup(ctx context.Context, serviceName, logLevel, otlpEndpoint string) (func(context.Context) error, http.Handler, error) {
	observability.InitLogger(logLevel)
	observability.InitMetrics(prometheus.DefaultRegisterer)

	tracerShutdown, err := observability.InitTracing(ctx, serviceName, otlpEndpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	return tracerShutdown, promhttp.Handler(), nil
}
