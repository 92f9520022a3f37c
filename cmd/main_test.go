package main

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alanwang67/kvload/metrics"
	"github.com/alanwang67/kvload/server"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetRunFlags clears flag state left over from an earlier Execute.
func resetRunFlags() {
	runCmd.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	runFlags.secondaries = map[string]string{}
	runFlags.metricsAddr = ""
	runFlags.csvFile = ""
	runFlags.jsonFile = ""
	runFlags.plotFile = ""
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetRunFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRunRejectsBadConfiguration(t *testing.T) {
	_, err := execute(t, "run", "--users", "0", "--iterations", "1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid configuration")

	_, err = execute(t, "run", "--users", "1", "--iterations", "1", "--secondary", "secondary-1=http://127.0.0.1:1")
	assert.ErrorContains(t, err, "secondary-2", "default task mix references a missing endpoint")
}

func TestRunAgainstContractServer(t *testing.T) {
	srv := server.New("/key")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	jsonFile := filepath.Join(dir, "summary.json")
	csvFile := filepath.Join(dir, "summary.csv")

	out, err := execute(t, "run",
		"--primary", ts.URL,
		"--secondary", "secondary-1="+ts.URL+",secondary-2="+ts.URL,
		"--users", "4",
		"--iterations", "10",
		"--log-level", "error",
		"--json", jsonFile,
		"--csv", csvFile,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "40 iterations")

	data, err := os.ReadFile(jsonFile)
	require.NoError(t, err)
	var s metrics.Summary
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, uint64(40), s.Total)
	assert.Zero(t, s.Failed)
	assert.Equal(t, uint64(srv.Stats().Conflicts), s.Outcomes["conflict"])

	_, err = os.Stat(csvFile)
	assert.NoError(t, err)
}

func TestRunFailsWhenMetricsAddressIsTaken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv := server.New("/key")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	_, err = execute(t, "run",
		"--primary", ts.URL,
		"--secondary", "secondary-1="+ts.URL+",secondary-2="+ts.URL,
		"--users", "1",
		"--iterations", "1",
		"--metrics-addr", ln.Addr().String(),
	)
	require.Error(t, err)
	assert.ErrorContains(t, err, "metrics listener")
	assert.Zero(t, srv.Stats().Reads, "no user starts when the metrics endpoint cannot bind")
}
