package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// NoVersion is the version of a key that has never been written. A client that
// has not observed any value submits it as its previously observed version, and a
// strict server accepts that write only while the key is still absent.
const NoVersion = 0

// DefaultKey is the resource path of the single key exercised by the load.
const DefaultKey = "/key"

// ValueLayout formats the wall clock as hour:minute:second.
const ValueLayout = "15:04:05"

// Endpoint is one cluster member addressed over HTTP.
type Endpoint struct {
	Name string // "primary", "secondary-1", ...
	URL  string // base URL without the key path, e.g. http://127.0.0.1:12380
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s(%s)", e.Name, e.URL)
}

// PutRequest is the body of a versioned write. The JSON field names are the
// server's wire contract and must not change.
type PutRequest struct {
	Value                     string `json:"value"`
	PreviouslyObservedVersion int    `json:"previouslyObservedVersion"`
}

// ReadReply is the body of a successful GET.
type ReadReply struct {
	Value   string `json:"value"`
	Version int    `json:"version"`
}

// PutReply is the body returned by a versioned write. Version is nil when the
// server does not disclose the current version.
type PutReply struct {
	Success bool
	Key     string
	Value   string
	Version *int
}

// wire mirrors of the replies; pointers detect missing required fields
type readWire struct {
	Value   *string `json:"value"`
	Version *int    `json:"version"`
}

type putWire struct {
	Success *bool  `json:"success"`
	Key     string `json:"key"`
	Value   string `json:"value"`
	Version *int   `json:"version"`
}

// NewPutRequest builds the write body for value, conditioned on the version the
// caller last observed.
func NewPutRequest(value string, previouslyObservedVersion int) PutRequest {
	return PutRequest{
		Value:                     value,
		PreviouslyObservedVersion: previouslyObservedVersion,
	}
}

// Encode serializes the request body.
func (r PutRequest) Encode() (*bytes.Reader, error) {
	if r.PreviouslyObservedVersion < 0 {
		return nil, fmt.Errorf("negative previously observed version %d", r.PreviouslyObservedVersion)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode put request: %w", err)
	}
	return bytes.NewReader(data), nil
}

// ValueAt derives the value written at t. Two writes within the same second carry
// the same value.
func ValueAt(t time.Time) string {
	return t.Local().Format(ValueLayout)
}

// DecodeReadReply parses a GET body. Both fields are required.
func DecodeReadReply(r io.Reader) (ReadReply, error) {
	var w readWire
	if err := json.NewDecoder(r).Decode(&w); err != nil {
		return ReadReply{}, &ProtocolError{Op: "read", Reason: "malformed body", Err: err}
	}
	if w.Version == nil {
		return ReadReply{}, &ProtocolError{Op: "read", Reason: `missing field "version"`}
	}
	if *w.Version < 0 {
		return ReadReply{}, &ProtocolError{Op: "read", Reason: fmt.Sprintf("negative version %d", *w.Version)}
	}
	if w.Value == nil {
		return ReadReply{}, &ProtocolError{Op: "read", Reason: `missing field "value"`}
	}
	return ReadReply{Value: *w.Value, Version: *w.Version}, nil
}

// DecodePutReply parses a PUT body. Only "success" is required.
func DecodePutReply(r io.Reader) (PutReply, error) {
	var w putWire
	if err := json.NewDecoder(r).Decode(&w); err != nil {
		return PutReply{}, &ProtocolError{Op: "write", Reason: "malformed body", Err: err}
	}
	if w.Success == nil {
		return PutReply{}, &ProtocolError{Op: "write", Reason: `missing field "success"`}
	}
	return PutReply{
		Success: *w.Success,
		Key:     w.Key,
		Value:   w.Value,
		Version: w.Version,
	}, nil
}
