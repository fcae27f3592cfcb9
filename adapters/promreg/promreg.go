// Package promreg adapts a prometheus.Registerer to shared.Metrics, lazily
// creating one collector per metric name on first use.
package promreg

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kolosys/pipelinekit/shared"
)

// Metrics records pipelinekit component metrics into a prometheus.Registerer.
type Metrics struct {
	reg prometheus.Registerer

	mu        sync.Mutex
	counters  map[string]*prometheus.CounterVec
	gauges    map[string]*prometheus.GaugeVec
	histogram map[string]*prometheus.HistogramVec
}

// New builds a Metrics backed by reg. A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		reg:       reg,
		counters:  make(map[string]*prometheus.CounterVec),
		gauges:    make(map[string]*prometheus.GaugeVec),
		histogram: make(map[string]*prometheus.HistogramVec),
	}
}

func labelsOf(kv []any) ([]string, prometheus.Labels) {
	labels := prometheus.Labels{}
	names := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		names = append(names, key)
		labels[key] = toString(kv[i+1])
	}
	return names, labels
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func (m *Metrics) counterFor(name string, labelNames []string) *prometheus.CounterVec {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, labelNames)
	m.reg.MustRegister(c)
	m.counters[name] = c
	return c
}

func (m *Metrics) gaugeFor(name string, labelNames []string) *prometheus.GaugeVec {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.gauges[name]; ok {
		return g
	}
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, labelNames)
	m.reg.MustRegister(g)
	m.gauges[name] = g
	return g
}

func (m *Metrics) histogramFor(name string, labelNames []string) *prometheus.HistogramVec {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.histogram[name]; ok {
		return h
	}
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: name}, labelNames)
	m.reg.MustRegister(h)
	m.histogram[name] = h
	return h
}

func (m *Metrics) Inc(name string, kv ...any) {
	names, labels := labelsOf(kv)
	m.counterFor(name, names).With(labels).Inc()
}

func (m *Metrics) Add(name string, v float64, kv ...any) {
	names, labels := labelsOf(kv)
	m.counterFor(name, names).With(labels).Add(v)
}

func (m *Metrics) Gauge(name string, v float64, kv ...any) {
	names, labels := labelsOf(kv)
	m.gaugeFor(name, names).With(labels).Set(v)
}

func (m *Metrics) Histogram(name string, v float64, kv ...any) {
	names, labels := labelsOf(kv)
	m.histogramFor(name, names).With(labels).Observe(v)
}

var _ shared.Metrics = (*Metrics)(nil)
