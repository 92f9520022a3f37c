package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/alanwang67/kvload/protocol"
	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName          = "github.com/alanwang67/kvload/client"
	maxIdleConnsPerHost = 256
)

// New creates a Client for key with the given per-request timeout.
func New(key string, timeout time.Duration, opts ...Option) *Client {
	if key == "" {
		key = protocol.DefaultKey
	}
	c := &Client{
		Key:     key,
		Timeout: timeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		// shared by every simulated user
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.MaxIdleConnsPerHost = maxIdleConnsPerHost
		c.http = &http.Client{Timeout: timeout, Transport: tr}
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	log.Debugf("client created for key %s (timeout %v)", c.Key, c.Timeout)
	return c
}

// Read fetches the key from e and records the returned version in s. An absent
// key is a successful read of "no value" and records NoVersion. Failures leave
// s untouched and are not retried.
func (c *Client) Read(ctx context.Context, s *Session, e protocol.Endpoint) Result {
	ctx, span := c.tracer.Start(ctx, "kv.read", trace.WithAttributes(
		attribute.String("kv.endpoint", e.Name),
		attribute.String("kv.key", c.Key),
	))
	defer span.End()

	reply, err := c.get(ctx, e)
	switch {
	case errors.Is(err, protocol.ErrNotFound):
		s.Observe(protocol.NoVersion)
		return finish(span, Result{Outcome: Success, Version: protocol.NoVersion})
	case err != nil:
		return finish(span, Result{Outcome: classify(err, false), Err: err})
	}

	s.Observe(reply.Version)
	return finish(span, Result{
		Outcome: Success,
		Found:   true,
		Value:   reply.Value,
		Version: reply.Version,
	})
}

// ReadModifyWrite reads the current version from primary and submits a write of
// the current wall-clock time conditioned on it. A rejected write is a Conflict;
// it is not retried, the next iteration re-reads the latest version. A write
// that times out is Unknown, never Failure.
func (c *Client) ReadModifyWrite(ctx context.Context, s *Session, primary protocol.Endpoint) Result {
	ctx, span := c.tracer.Start(ctx, "kv.read_modify_write", trace.WithAttributes(
		attribute.String("kv.endpoint", primary.Name),
		attribute.String("kv.key", c.Key),
	))
	defer span.End()

	observed := protocol.NoVersion
	reply, err := c.get(ctx, primary)
	switch {
	case errors.Is(err, protocol.ErrNotFound):
		// never written: submit NoVersion
	case err != nil:
		return finish(span, Result{Outcome: classify(err, false), Err: err})
	default:
		observed = reply.Version
	}
	s.Observe(observed)

	req := protocol.NewPutRequest(protocol.ValueAt(c.now()), observed)
	span.SetAttributes(attribute.Int("kv.previously_observed_version", observed))

	put, err := c.put(ctx, primary, req)
	if err != nil {
		return finish(span, Result{
			Outcome:   classify(err, true),
			Value:     req.Value,
			Submitted: observed,
			Err:       err,
		})
	}

	res := Result{Value: req.Value, Submitted: observed, Version: observed}
	if put.Version != nil {
		s.Observe(*put.Version)
		res.Version = *put.Version
	}

	switch {
	case !put.Success:
		res.Outcome = Conflict
		log.Debugf("write conflict on %s: submitted version %d, server at %d", primary, observed, res.Version)
	case put.Version != nil && *put.Version != observed+1:
		res.Outcome = ProtocolViolation
		res.Err = &protocol.ProtocolError{
			Op:     "write",
			Reason: fmt.Sprintf("accepted write moved version from %d to %d", observed, *put.Version),
		}
	default:
		res.Outcome = Success
		res.Version = observed + 1
	}
	return finish(span, res)
}

func (c *Client) get(ctx context.Context, e protocol.Endpoint) (protocol.ReadReply, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL+c.Key, nil)
	if err != nil {
		return protocol.ReadReply{}, fmt.Errorf("failed to create request: %w", err)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return protocol.ReadReply{}, fmt.Errorf("read %s: %w", e, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		drain(resp.Body)
		return protocol.ReadReply{}, protocol.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		drain(resp.Body)
		return protocol.ReadReply{}, &protocol.StatusError{Op: "read", Status: resp.StatusCode}
	}

	reply, err := protocol.DecodeReadReply(resp.Body)
	if err != nil {
		return protocol.ReadReply{}, fmt.Errorf("read %s: %w", e, err)
	}
	return reply, nil
}

func (c *Client) put(ctx context.Context, e protocol.Endpoint, body protocol.PutRequest) (protocol.PutReply, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	r, err := body.Encode()
	if err != nil {
		return protocol.PutReply{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.URL+c.Key, r)
	if err != nil {
		return protocol.PutReply{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return protocol.PutReply{}, fmt.Errorf("write %s: %w", e, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		drain(resp.Body)
		return protocol.PutReply{}, &protocol.StatusError{Op: "write", Status: resp.StatusCode}
	}

	reply, err := protocol.DecodePutReply(resp.Body)
	if err != nil {
		return protocol.PutReply{}, fmt.Errorf("write %s: %w", e, err)
	}
	return reply, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

// classify maps an executor error to an outcome. A timed out write is Unknown
// since the server may have applied it.
func classify(err error, write bool) Outcome {
	if isTimeout(err) {
		if write {
			return Unknown
		}
		return Failure
	}
	if protocol.IsProtocolError(err) {
		return ProtocolViolation
	}
	return Failure
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 4096))
}

func finish(span trace.Span, res Result) Result {
	span.SetAttributes(attribute.String("kv.outcome", res.Outcome.String()))
	if res.Err != nil && res.Outcome != Conflict {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	return res
}
