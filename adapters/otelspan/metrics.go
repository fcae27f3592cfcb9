package otelspan

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kolosys/pipelinekit/shared"
)

// Metrics adapts an otel/metric.Meter to shared.Metrics, lazily creating one
// instrument per metric name on first use.
type Metrics struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

// NewMetrics wraps meter.
func NewMetrics(meter metric.Meter) *Metrics {
	return &Metrics{
		meter:      meter,
		counters:   make(map[string]metric.Float64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func attrsOf(kv []any) attribute.Set {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, attribute.String(key, toString(kv[i+1])))
	}
	return attribute.NewSet(attrs...)
}

func (m *Metrics) counterFor(name string) metric.Float64Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c, _ := m.meter.Float64Counter(name)
	m.counters[name] = c
	return c
}

func (m *Metrics) gaugeFor(name string) metric.Float64Gauge {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.gauges[name]; ok {
		return g
	}
	g, _ := m.meter.Float64Gauge(name)
	m.gauges[name] = g
	return g
}

func (m *Metrics) histogramFor(name string) metric.Float64Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.histograms[name]; ok {
		return h
	}
	h, _ := m.meter.Float64Histogram(name)
	m.histograms[name] = h
	return h
}

func (m *Metrics) Inc(name string, kv ...any) {
	set := attrsOf(kv)
	m.counterFor(name).Add(context.Background(), 1, metric.WithAttributeSet(set))
}

func (m *Metrics) Add(name string, v float64, kv ...any) {
	set := attrsOf(kv)
	m.counterFor(name).Add(context.Background(), v, metric.WithAttributeSet(set))
}

func (m *Metrics) Gauge(name string, v float64, kv ...any) {
	set := attrsOf(kv)
	m.gaugeFor(name).Record(context.Background(), v, metric.WithAttributeSet(set))
}

func (m *Metrics) Histogram(name string, v float64, kv ...any) {
	set := attrsOf(kv)
	m.histogramFor(name).Record(context.Background(), v, metric.WithAttributeSet(set))
}

var _ shared.Metrics = (*Metrics)(nil)
