// Package metrics counts classified iteration outcomes.
//
// Every recorded iteration is exported through a private Prometheus registry
// (kvload_iterations_total and kvload_iteration_duration_seconds) and also kept
// as in-memory tallies, so a run can print its own summary without scraping.
package metrics

import (
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanwang67/kvload/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultMaxSamples = 10000

// Metrics is safe for concurrent use by every simulated user.
type Metrics struct {
	registry   *prometheus.Registry
	iterations *prometheus.CounterVec
	duration   *prometheus.HistogramVec

	total          atomic.Uint64
	outcomes       [client.OutcomeCount]atomic.Uint64
	totalLatencyNs atomic.Uint64

	mu         sync.Mutex
	startTime  time.Time
	tasks      map[string]*taskCounts
	latencies  []time.Duration
	maxSamples int
	seen       int64
}

type taskCounts struct {
	outcomes [client.OutcomeCount]uint64
	latency  time.Duration
}

// New creates an empty recorder with its own registry.
func New() *Metrics {
	return NewWithSamples(defaultMaxSamples)
}

// NewWithSamples bounds the number of latency samples kept for percentiles.
func NewWithSamples(maxSamples int) *Metrics {
	if maxSamples <= 0 {
		maxSamples = defaultMaxSamples
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		iterations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvload_iterations_total",
				Help: "Scheduler iterations by task and classified outcome",
			},
			[]string{"task", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kvload_iteration_duration_seconds",
				Help:    "Duration of one task execution in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"task"},
		),
		startTime:  time.Now(),
		tasks:      make(map[string]*taskCounts),
		latencies:  make([]time.Duration, 0, 1024),
		maxSamples: maxSamples,
	}
}

// Registry exposes the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Record counts one finished iteration of task.
func (m *Metrics) Record(task string, res client.Result, latency time.Duration) {
	o := res.Outcome
	if int(o) < 0 || int(o) >= len(m.outcomes) {
		o = client.Failure
	}

	m.iterations.WithLabelValues(task, o.String()).Inc()
	m.duration.WithLabelValues(task).Observe(latency.Seconds())

	m.total.Add(1)
	m.outcomes[o].Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	defer m.mu.Unlock()

	tc, ok := m.tasks[task]
	if !ok {
		tc = &taskCounts{}
		m.tasks[task] = tc
	}
	tc.outcomes[o]++
	tc.latency += latency

	// reservoir sample over the whole run
	m.seen++
	if len(m.latencies) < m.maxSamples {
		m.latencies = append(m.latencies, latency)
	} else if j := rand.Int63n(m.seen); j < int64(m.maxSamples) {
		m.latencies[j] = latency
	}
}

// Total returns the number of recorded iterations.
func (m *Metrics) Total() uint64 {
	return m.total.Load()
}

// Count returns the number of iterations classified as o.
func (m *Metrics) Count(o client.Outcome) uint64 {
	if int(o) < 0 || int(o) >= len(m.outcomes) {
		return 0
	}
	return m.outcomes[o].Load()
}

// TaskCount returns how many iterations of task were recorded.
func (m *Metrics) TaskCount(task string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	tc, ok := m.tasks[task]
	if !ok {
		return 0
	}
	var n uint64
	for _, c := range tc.outcomes {
		n += c
	}
	return n
}

// Latencies returns a sorted copy of the latency samples.
func (m *Metrics) Latencies() []time.Duration {
	m.mu.Lock()
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	m.mu.Unlock()

	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}
