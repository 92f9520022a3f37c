package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alanwang67/kvload/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerInitialization(t *testing.T) {
	s := New("")

	assert.Equal(t, protocol.DefaultKey, s.Key)
	_, ok := s.Lookup()
	assert.False(t, ok, "fresh server should hold no value")
	assert.Equal(t, protocol.NoVersion, s.Stats().Version, "Initial version should be 0")
}

func TestApplyMatchingVersion(t *testing.T) {
	s := New("/key")

	ok, cur := s.Apply(protocol.NewPutRequest("a", 0))
	assert.True(t, ok)
	assert.Equal(t, 1, cur.Version)

	ok, cur = s.Apply(protocol.NewPutRequest("b", 1))
	assert.True(t, ok)
	assert.Equal(t, protocol.ReadReply{Value: "b", Version: 2}, cur)
}

func TestApplyStaleVersion(t *testing.T) {
	s := New("/key")
	s.Apply(protocol.NewPutRequest("a", 0))

	ok, cur := s.Apply(protocol.NewPutRequest("b", 0))
	assert.False(t, ok, "stale write should be rejected")
	assert.Equal(t, protocol.ReadReply{Value: "a", Version: 1}, cur, "rejected write should not mutate state")

	// a version from the future is also rejected
	ok, _ = s.Apply(protocol.NewPutRequest("c", 5))
	assert.False(t, ok)
	assert.Equal(t, int64(2), s.Stats().Conflicts)
}

func TestConcurrentApply(t *testing.T) {
	s := New("/key")

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.Apply(protocol.NewPutRequest("x", 0)); ok {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted, "only one writer can move version 0 to 1")
	assert.Equal(t, 1, s.Stats().Version)
}

func TestHTTPContract(t *testing.T) {
	s := New("/key")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/key")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body, _ := json.Marshal(protocol.NewPutRequest("12:00:00", 0))
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/key", bytes.NewReader(body))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var pr map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pr))
	resp.Body.Close()
	assert.Equal(t, true, pr["success"])
	assert.Equal(t, float64(1), pr["version"])

	resp, err = http.Get(ts.URL + "/key")
	require.NoError(t, err)
	var rr protocol.ReadReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rr))
	resp.Body.Close()
	assert.Equal(t, protocol.ReadReply{Value: "12:00:00", Version: 1}, rr)

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.Reads)
	assert.Equal(t, int64(1), stats.Writes)
}

func TestHTTPRejectsRenamedFields(t *testing.T) {
	s := New("/key")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/key",
		bytes.NewReader([]byte(`{"value":"a","previousVersion":0}`)))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int64(0), s.Stats().Writes)
}
