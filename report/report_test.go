package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alanwang67/kvload/client"
	"github.com/alanwang67/kvload/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMetrics() *metrics.Metrics {
	m := metrics.New()
	for i := 1; i <= 20; i++ {
		m.Record("read", client.Result{Outcome: client.Success}, time.Duration(i)*time.Millisecond)
	}
	m.Record("write", client.Result{Outcome: client.Success}, 3*time.Millisecond)
	m.Record("write", client.Result{Outcome: client.Conflict}, 4*time.Millisecond)
	m.Record("write", client.Result{Outcome: client.Unknown}, 5*time.Millisecond)
	return m
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sampleMetrics().Summary()))

	out := buf.String()
	assert.Contains(t, out, "TASK")
	assert.Contains(t, out, "protocol_violation")
	assert.Contains(t, out, "23 iterations")
	assert.Contains(t, out, "1 conflicts, 1 unknown")
	assert.Contains(t, out, "0 failed")
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleMetrics().Summary()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"task", "total", "success", "conflict", "failure", "protocol_violation", "unknown", "avg_latency_seconds"}, rows[0])
	assert.Equal(t, []string{"write", "3", "1", "1", "0", "0", "1"}, rows[2][:7])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleMetrics().Summary()))

	var got metrics.Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, uint64(23), got.Total)
	assert.Equal(t, uint64(1), got.Outcomes["conflict"])
	require.Len(t, got.Tasks, 2)
}

func TestWriteHistogram(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHistogram(&buf, sampleMetrics().Latencies()))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))

	assert.ErrorIs(t, WriteHistogram(io.Discard, nil), ErrNoSamples)
}

func TestSaveFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.csv")
	require.NoError(t, SaveFile(path, func(w io.Writer) error {
		return WriteCSV(w, sampleMetrics().Summary())
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "task,total"))

	err = SaveFile(filepath.Join(t.TempDir(), "missing", "x.csv"), func(io.Writer) error { return nil })
	assert.Error(t, err)
}
