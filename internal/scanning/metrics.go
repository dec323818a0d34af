package scanning

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for model calls
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the model-call collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fridgecheck",
			Name:      "model_requests_total",
			Help:      "Model requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fridgecheck",
			Name:      "model_request_duration_seconds",
			Help:      "Model request latency.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"provider"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

// Outcome classifies err into a low-cardinality metric label
func Outcome(err error) string {
	var netErr *NetworkError
	var httpErr *HTTPError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoAPIKey):
		return "no_api_key"
	case errors.As(err, &netErr):
		return "network_error"
	case errors.As(err, &httpErr):
		return "http_error"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	default:
		return "error"
	}
}

type instrumented struct {
	Model
	provider string
	metrics  *Metrics
}

// Instrument wraps model so every Send is counted and timed
func Instrument(model Model, metrics *Metrics, provider string) Model {
	return &instrumented{Model: model, provider: provider, metrics: metrics}
}

func (i *instrumented) Send(ctx context.Context, apiKey string, req Request) (string, error) {
	start := time.Now()
	text, err := i.Model.Send(ctx, apiKey, req)
	i.metrics.duration.WithLabelValues(i.provider).Observe(time.Since(start).Seconds())
	i.metrics.requests.WithLabelValues(i.provider, Outcome(err)).Inc()
	return text, err
}
