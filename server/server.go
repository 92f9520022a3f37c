package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/alanwang67/kvload/protocol"
	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
)

// New creates a server holding no value for key.
func New(key string) *Server {
	if key == "" {
		key = protocol.DefaultKey
	}
	s := &Server{Key: key}

	r := mux.NewRouter()
	r.HandleFunc(key, s.handleGet).Methods(http.MethodGet)
	r.HandleFunc(key, s.handlePut).Methods(http.MethodPut)
	s.router = r
	return s
}

// Handler returns the HTTP handler serving the key.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Lookup returns the stored value and version.
func (s *Server) Lookup() (protocol.ReadReply, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.exists {
		return protocol.ReadReply{}, false
	}
	return protocol.ReadReply{Value: s.value, Version: s.version}, true
}

// Apply applies a versioned write. It succeeds only if the submitted version
// equals the current one (NoVersion while the key is absent); the new version is
// the submitted one plus one. A rejected write leaves the state unchanged.
func (s *Server) Apply(req protocol.PutRequest) (success bool, current protocol.ReadReply) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.writes.Add(1)
	if req.PreviouslyObservedVersion != s.version {
		s.conflicts.Add(1)
		return false, protocol.ReadReply{Value: s.value, Version: s.version}
	}

	s.exists = true
	s.value = req.Value
	s.version = req.PreviouslyObservedVersion + 1
	return true, protocol.ReadReply{Value: s.value, Version: s.version}
}

// Stats returns the current state and request counters.
func (s *Server) Stats() Stats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return Stats{
		Value:     s.value,
		Version:   s.version,
		Exists:    s.exists,
		Reads:     s.reads.Load(),
		Writes:    s.writes.Load(),
		Conflicts: s.conflicts.Load(),
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.reads.Add(1)
	s.delay(r.Context())

	v, ok := s.Lookup()
	if !ok {
		http.Error(w, "Failed to GET", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req protocol.PutRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		log.Warnf("failed to deserialize json on PUT (%v)", err)
		http.Error(w, "Invalid request body.", http.StatusBadRequest)
		return
	}
	s.delay(r.Context())

	ok, current := s.Apply(req)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(putReply{
		Success: ok,
		Key:     s.Key,
		Value:   current.Value,
		Version: current.Version,
	})
}

func (s *Server) delay(ctx context.Context) {
	if s.Latency <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(s.Latency):
	}
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mutex.Lock()
	s.srv = srv
	s.mutex.Unlock()
	log.Infof("serving %s on %s", s.Key, addr)

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops a server started with Start.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mutex.Lock()
	srv := s.srv
	s.mutex.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
