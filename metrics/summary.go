package metrics

import (
	"sort"
	"time"

	"github.com/alanwang67/kvload/client"
)

// TaskSummary is the per-task part of a Summary.
type TaskSummary struct {
	Name           string            `json:"name"`
	Total          uint64            `json:"total"`
	Outcomes       map[string]uint64 `json:"outcomes"`
	AverageLatency time.Duration     `json:"average_latency_ns"`
}

// Summary is a point-in-time view of a run.
type Summary struct {
	Total          uint64            `json:"total"`
	Outcomes       map[string]uint64 `json:"outcomes"`
	Failed         uint64            `json:"failed"`
	Tasks          []TaskSummary     `json:"tasks"`
	RPS            float64           `json:"rps"`
	AverageLatency time.Duration     `json:"average_latency_ns"`
	P50Latency     time.Duration     `json:"p50_latency_ns"`
	P99Latency     time.Duration     `json:"p99_latency_ns"`
	Elapsed        time.Duration     `json:"elapsed_ns"`
}

// Summary returns the current totals. Tasks are sorted by name.
func (m *Metrics) Summary() Summary {
	total := m.total.Load()
	s := Summary{
		Total:    total,
		Outcomes: make(map[string]uint64, client.OutcomeCount),
	}
	for _, o := range client.Outcomes {
		n := m.outcomes[o].Load()
		s.Outcomes[o.String()] = n
		if o.Failed() {
			s.Failed += n
		}
	}
	if total > 0 {
		s.AverageLatency = time.Duration(m.totalLatencyNs.Load() / total)
	}

	m.mu.Lock()
	s.Elapsed = time.Since(m.startTime)
	for name, tc := range m.tasks {
		ts := TaskSummary{Name: name, Outcomes: make(map[string]uint64, client.OutcomeCount)}
		for _, o := range client.Outcomes {
			ts.Outcomes[o.String()] = tc.outcomes[o]
			ts.Total += tc.outcomes[o]
		}
		if ts.Total > 0 {
			ts.AverageLatency = tc.latency / time.Duration(ts.Total)
		}
		s.Tasks = append(s.Tasks, ts)
	}
	m.mu.Unlock()

	sort.Slice(s.Tasks, func(i, j int) bool { return s.Tasks[i].Name < s.Tasks[j].Name })

	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.RPS = float64(total) / secs
	}

	sorted := m.Latencies()
	s.P50Latency = Percentile(sorted, 0.50)
	s.P99Latency = Percentile(sorted, 0.99)
	return s
}

// Percentile returns the q-th quantile of sorted samples.
func Percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
