package stats

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the event stream into Prometheus collectors on a private
// registry, for export in the node_exporter textfile format.
type Metrics struct {
	registry *prometheus.Registry

	listed         prometheus.Gauge
	events         *prometheus.CounterVec
	classified     *prometheus.CounterVec
	fetchDuration  prometheus.Histogram
	lastRunSuccess prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		listed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spam_report_messages_listed",
			Help: "Number of messages listed in the scanned folder",
		}),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spam_report_events_total",
				Help: "Per-message pipeline events",
			},
			[]string{"stage", "type", "detail"},
		),
		classified: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spam_report_classified_total",
				Help: "Messages classified, by label",
			},
			[]string{"label"},
		),
		fetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "spam_report_fetch_duration_seconds",
			Help:    "Time to fetch a single message",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}),
		lastRunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spam_report_last_run_success",
			Help: "1 when the last run finished without a fatal error",
		}),
	}
}

func (m *Metrics) Observe(evt Event) {
	switch evt.Type {
	case EventTypeListed:
		m.listed.Add(float64(evt.Total))
		return
	case EventTypeFetched:
		if evt.Duration > 0 {
			m.fetchDuration.Observe(evt.Duration.Seconds())
		}
	case EventTypeClassified:
		m.classified.WithLabelValues(evt.Detail).Inc()
	}
	detail := evt.Detail
	if evt.Type == EventTypeClassified {
		detail = ""
	}
	m.events.WithLabelValues(string(evt.Stage), string(evt.Type), detail).Inc()
}

// Subscriber consumes events until the stream closes.
func (m *Metrics) Subscriber(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			m.Observe(evt)
		}
	}
}

// SetRunResult records whether the run as a whole succeeded.
func (m *Metrics) SetRunResult(err error) {
	if err != nil {
		m.lastRunSuccess.Set(0)
		return
	}
	m.lastRunSuccess.Set(1)
}

// WriteToTextfile atomically writes all metrics to path.
func (m *Metrics) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
