package client

import (
	"net/http"
	"time"

	"github.com/alanwang67/kvload/protocol"
	"go.opentelemetry.io/otel/trace"
)

// Outcome classifies one executed operation.
type Outcome int

const (
	Success           Outcome = iota
	Conflict                  // write rejected for a stale version, expected under contention
	Failure                   // transport error, timeout on a read, or unexpected status
	ProtocolViolation         // reply does not match the server contract
	Unknown                   // write timed out, it may or may not have been applied
)

// OutcomeCount is the number of distinct outcomes.
const OutcomeCount = int(Unknown) + 1

// Outcomes lists every outcome in label order.
var Outcomes = []Outcome{Success, Conflict, Failure, ProtocolViolation, Unknown}

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Conflict:
		return "conflict"
	case Failure:
		return "failure"
	case ProtocolViolation:
		return "protocol_violation"
	case Unknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Failed reports whether the outcome counts as a failed iteration.
func (o Outcome) Failed() bool {
	return o == Failure || o == ProtocolViolation
}

// Result is what an executor hands back to the scheduler.
type Result struct {
	Outcome   Outcome
	Found     bool   // reads: the key held a value
	Value     string // value read, or value submitted by a write
	Version   int    // version disclosed by the server, NoVersion when absent
	Submitted int    // writes: previouslyObservedVersion sent with the PUT
	Err       error
}

// Session holds the state of one simulated user. It is not safe for concurrent
// use; each user owns exactly one.
type Session struct {
	version int
}

// NewSession returns a session that has not observed any value.
func NewSession() *Session {
	return &Session{version: protocol.NoVersion}
}

// Observe overwrites the last known version.
func (s *Session) Observe(version int) {
	s.version = version
}

// Current returns the last known version, NoVersion if nothing was observed.
func (s *Session) Current() int {
	return s.version
}

// Client executes reads and versioned writes against the single key.
type Client struct {
	Key     string        // resource path, e.g. /key
	Timeout time.Duration // per request, zero disables

	http   *http.Client
	now    func() time.Time
	tracer trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock replaces the wall clock the written value is derived from.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithTracer sets the tracer used for per-operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}
