// Package telemetryprom adapts github.com/prometheus/client_golang to the
// telemetry.Metrics seam, for deployments that scrape a /metrics endpoint
// rather than push through an OTLP collector.
package telemetryprom

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ulifeai/agentb/telemetry"
)

// Metrics lazily registers a CounterVec/HistogramVec/GaugeVec per metric
// name the first time it is observed, inferring its label set from the
// even-indexed entries of the first call's tags. Every later call for the
// same name must supply the same tag keys in the same order, matching how
// the runtime always calls IncCounter/RecordTimer/RecordGauge for a given
// name with a fixed tag schema.
type Metrics struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// New constructs a Metrics recorder that registers its vectors against reg.
// Pass prometheus.DefaultRegisterer to expose them on the default
// /metrics handler.
func New(reg prometheus.Registerer) telemetry.Metrics {
	return &Metrics{
		registerer: reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func (m *Metrics) IncCounter(name string, value float64, tags ...string) {
	keys, values := splitTags(tags)
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: sanitize(name), Help: name}, keys)
		m.registerer.MustRegister(c)
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.WithLabelValues(values...).Add(value)
}

func (m *Metrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	keys, values := splitTags(tags)
	m.mu.Lock()
	h, ok := m.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    sanitize(name),
			Help:    name,
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, keys)
		m.registerer.MustRegister(h)
		m.histograms[name] = h
	}
	m.mu.Unlock()
	h.WithLabelValues(values...).Observe(duration.Seconds())
}

func (m *Metrics) RecordGauge(name string, value float64, tags ...string) {
	keys, values := splitTags(tags)
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: sanitize(name), Help: name}, keys)
		m.registerer.MustRegister(g)
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.WithLabelValues(values...).Set(value)
}

// splitTags turns alternating (k1, v1, k2, v2, ...) tags into parallel
// label-name/label-value slices; an odd trailing key pairs with "".
func splitTags(tags []string) (keys, values []string) {
	for i := 0; i < len(tags); i += 2 {
		keys = append(keys, tags[i])
		if i+1 < len(tags) {
			values = append(values, tags[i+1])
		} else {
			values = append(values, "")
		}
	}
	return keys, values
}

// sanitize maps a dotted metric name (e.g. "registry.cache.hit") onto
// Prometheus's underscore-separated naming convention.
func sanitize(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' || c == '-' || c == ' ' {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return string(out)
}
