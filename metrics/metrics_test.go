package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanwang67/kvload/client"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordClassifiesOutcomes(t *testing.T) {
	m := New()

	m.Record("read", client.Result{Outcome: client.Success}, time.Millisecond)
	m.Record("write", client.Result{Outcome: client.Success}, 2*time.Millisecond)
	m.Record("write", client.Result{Outcome: client.Conflict}, 2*time.Millisecond)
	m.Record("write", client.Result{Outcome: client.Unknown}, 5*time.Millisecond)
	m.Record("read2", client.Result{Outcome: client.Failure}, time.Millisecond)
	m.Record("read2", client.Result{Outcome: client.ProtocolViolation}, time.Millisecond)

	assert.Equal(t, uint64(6), m.Total())
	assert.Equal(t, uint64(2), m.Count(client.Success))
	assert.Equal(t, uint64(1), m.Count(client.Conflict))
	assert.Equal(t, uint64(1), m.Count(client.Unknown))
	assert.Equal(t, uint64(3), m.TaskCount("write"))
	assert.Equal(t, uint64(0), m.TaskCount("missing"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.iterations.WithLabelValues("write", "conflict")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.iterations.WithLabelValues("read2", "protocol_violation")))
}

func TestSummary(t *testing.T) {
	m := New()
	for i := 1; i <= 100; i++ {
		m.Record("read", client.Result{Outcome: client.Success}, time.Duration(i)*time.Millisecond)
	}
	m.Record("write", client.Result{Outcome: client.Conflict}, time.Millisecond)
	m.Record("write", client.Result{Outcome: client.Failure}, time.Millisecond)

	s := m.Summary()
	assert.Equal(t, uint64(102), s.Total)
	assert.Equal(t, uint64(1), s.Failed, "conflicts are not failures")
	assert.Equal(t, uint64(100), s.Outcomes["success"])
	require.Len(t, s.Tasks, 2)
	assert.Equal(t, "read", s.Tasks[0].Name)
	assert.Equal(t, uint64(2), s.Tasks[1].Total)
	assert.Equal(t, 50*time.Millisecond, s.P50Latency)
	assert.Equal(t, 99*time.Millisecond, s.P99Latency)
	assert.Greater(t, s.RPS, 0.0)
}

func TestLatencySamplesAreBounded(t *testing.T) {
	m := NewWithSamples(10)
	for i := 0; i < 1000; i++ {
		m.Record("read", client.Result{Outcome: client.Success}, time.Duration(i))
	}
	assert.Len(t, m.Latencies(), 10)
	assert.Equal(t, uint64(1000), m.Total())
}

func TestConcurrentRecord(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				m.Record("read", client.Result{Outcome: client.Success}, time.Microsecond)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(4000), m.Total())
	assert.Equal(t, uint64(4000), m.TaskCount("read"))
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Record("write", client.Result{Outcome: client.Conflict}, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `kvload_iterations_total{outcome="conflict",task="write"} 1`))
}

func TestPercentileEmpty(t *testing.T) {
	assert.Equal(t, time.Duration(0), Percentile(nil, 0.99))
}
