package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/headless-fetch/internal/progress"
)

// StatusClass groups HTTP status codes for metric labels.
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}

// PrometheusSink exports fetch outcomes as Prometheus collectors.
type PrometheusSink struct {
	events        *prometheus.CounterVec
	fetchStatus   *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	fetchTimeouts *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetcher_events_total",
			Help: "Fetch events emitted, partitioned by kind.",
		}, []string{"kind"}),
		fetchStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetcher_fetch_responses_total",
			Help: "Completed fetches partitioned by host and status class.",
		}, []string{"host", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetcher_fetch_body_bytes_total",
			Help: "Serialized document bytes downloaded per host.",
		}, []string{"host"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fetcher_fetch_latency_seconds",
			Help:    "Time from spool to response headers per host.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"host"}),
		fetchTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetcher_fetch_timeouts_total",
			Help: "Navigations that exceeded their timeout per host.",
		}, []string{"host"}),
	}
	for _, collector := range []prometheus.Collector{
		s.events,
		s.fetchStatus,
		s.fetchBytes,
		s.fetchLatency,
		s.fetchTimeouts,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register fetch event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Kind)).Inc()
		host := evt.Item.Host
		if host == "" {
			host = "unknown"
		}
		switch evt.Kind {
		case progress.KindFetchHeaders:
			if d := evt.Item.StateData.RequestLatency; d > 0 {
				s.fetchLatency.WithLabelValues(host).Observe(d.Seconds())
			}
		case progress.KindFetchComplete:
			code := 0
			if evt.Response != nil {
				code = evt.Response.StatusCode
			}
			s.fetchStatus.WithLabelValues(host, StatusClass(code)).Inc()
			if n := len(evt.Body); n > 0 {
				s.fetchBytes.WithLabelValues(host).Add(float64(n))
			}
		case progress.KindFetchTimeout:
			s.fetchTimeouts.WithLabelValues(host).Inc()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
