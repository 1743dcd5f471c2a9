package slo

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"github.com/n2nstreams/rollout/pkg/log"
)

// MetricsSource supplies request outcome counts for the error budget window
type MetricsSource interface {
	// GoodTotalRatio returns the good and total request counts for the
	// service over the trailing window
	GoodTotalRatio(ctx context.Context, service string, window time.Duration) (good, total float64, err error)
}

// PrometheusSource implements MetricsSource against a Prometheus server.
// The good and total queries are PromQL templates with two placeholders:
// the service name and the range duration, e.g.
//
//	sum(increase(http_requests_total{service="%s",code!~"5.."}[%s]))
type PrometheusSource struct {
	api        v1.API
	goodQuery  string
	totalQuery string
	logger     zerolog.Logger
}

// NewPrometheusSource creates a Prometheus-backed metrics source
func NewPrometheusSource(address, goodQuery, totalQuery string) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	return &PrometheusSource{
		api:        v1.NewAPI(client),
		goodQuery:  goodQuery,
		totalQuery: totalQuery,
		logger:     log.WithComponent("prometheus"),
	}, nil
}

// GoodTotalRatio runs the good and total queries for the service
func (p *PrometheusSource) GoodTotalRatio(ctx context.Context, service string, window time.Duration) (float64, float64, error) {
	rng := model.Duration(window).String()

	good, err := p.scalar(ctx, fmt.Sprintf(p.goodQuery, service, rng))
	if err != nil {
		return 0, 0, fmt.Errorf("good query failed for %s: %w", service, err)
	}
	total, err := p.scalar(ctx, fmt.Sprintf(p.totalQuery, service, rng))
	if err != nil {
		return 0, 0, fmt.Errorf("total query failed for %s: %w", service, err)
	}
	return good, total, nil
}

// scalar runs a query and returns the first sample value
func (p *PrometheusSource) scalar(ctx context.Context, query string) (float64, error) {
	result, warnings, err := p.api.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	for _, w := range warnings {
		p.logger.Warn().Str("query", query).Str("warning", w).Msg("prometheus query warning")
	}

	switch v := result.(type) {
	case model.Vector:
		if len(v) == 0 {
			return 0, nil
		}
		return float64(v[0].Value), nil
	case *model.Scalar:
		return float64(v.Value), nil
	default:
		return 0, fmt.Errorf("unexpected result type %s for query %q", result.Type(), query)
	}
}
