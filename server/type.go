package server

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
)

// putReply is the server's write reply, field for field what the store sends.
type putReply struct {
	Success bool   `json:"success"`
	Key     string `json:"key"`
	Value   string `json:"value"`
	Version int    `json:"version"`
}

// Server is an in-memory copy of the single-key HTTP contract with strict
// compare-and-version-check writes. It stands in for a cluster member in tests
// and local dry runs.
type Server struct {
	Key     string
	Latency time.Duration // added before every reply

	mutex   sync.Mutex
	exists  bool
	value   string
	version int

	reads     atomic.Int64
	writes    atomic.Int64
	conflicts atomic.Int64

	router *mux.Router
	srv    *http.Server
}

// Stats is a point-in-time view of the server.
type Stats struct {
	Value     string
	Version   int
	Exists    bool
	Reads     int64
	Writes    int64
	Conflicts int64
}
