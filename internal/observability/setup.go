package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/honeynil/payment-ledger/internal/config"
	"github.com/honeynil/payment-ledger/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup initializes logging, metrics and tracing. The returned function
// flushes pending spans.
func Setup(ctx context.Context, cfg *config.Config) (func(context.Context) error, http.Handler, error) {
	observability.InitLogger(cfg.LogLevel)
	if err := observability.InitMetrics(prometheus.DefaultRegisterer); err != nil {
		return nil, nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	tracerShutdown, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, nil, err
	}
	return tracerShutdown, promhttp.Handler(), nil
}
