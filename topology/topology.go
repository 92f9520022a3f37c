// Package topology maps tasks to the cluster member they address.
//
// A topology holds exactly one primary and any number of named secondaries.
// Reads may go to any member; writes always go to the primary. Every lookup is
// made while tasks are built, so an unknown member is reported before the run
// starts instead of on the first request.
package topology

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/alanwang67/kvload/protocol"
)

// Primary is the reserved name of the member that accepts writes.
const Primary = "primary"

var (
	ErrNoPrimary        = errors.New("topology: primary endpoint is not configured")
	ErrUnknownEndpoint  = errors.New("topology: unknown endpoint")
	ErrWriteToSecondary = errors.New("topology: writes must target the primary")
)

// Kind is the kind of operation being routed.
type Kind int

const (
	Read Kind = iota
	Write
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Topology is the immutable set of endpoints configured for a run.
type Topology struct {
	primary     protocol.Endpoint
	secondaries map[string]protocol.Endpoint
}

// New validates the member URLs and builds a topology. secondaries maps member
// names to base URLs.
func New(primaryURL string, secondaries map[string]string) (*Topology, error) {
	if strings.TrimSpace(primaryURL) == "" {
		return nil, ErrNoPrimary
	}
	p, err := endpoint(Primary, primaryURL)
	if err != nil {
		return nil, err
	}

	t := &Topology{
		primary:     p,
		secondaries: make(map[string]protocol.Endpoint, len(secondaries)),
	}
	for name, raw := range secondaries {
		if name == "" {
			return nil, fmt.Errorf("topology: secondary with empty name")
		}
		if name == Primary {
			return nil, fmt.Errorf("topology: %q is reserved for the primary", Primary)
		}
		e, err := endpoint(name, raw)
		if err != nil {
			return nil, err
		}
		t.secondaries[name] = e
	}
	return t, nil
}

func endpoint(name, raw string) (protocol.Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return protocol.Endpoint{}, fmt.Errorf("topology: endpoint %s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return protocol.Endpoint{}, fmt.Errorf("topology: endpoint %s: unsupported scheme %q", name, u.Scheme)
	}
	if u.Host == "" {
		return protocol.Endpoint{}, fmt.Errorf("topology: endpoint %s: missing host in %q", name, raw)
	}
	if u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return protocol.Endpoint{}, fmt.Errorf("topology: endpoint %s: base URL %q must not carry a query or fragment", name, raw)
	}
	return protocol.Endpoint{Name: name, URL: strings.TrimRight(u.String(), "/")}, nil
}

// Primary returns the write endpoint.
func (t *Topology) Primary() protocol.Endpoint {
	return t.primary
}

// Names lists every configured member, primary first, secondaries sorted.
func (t *Topology) Names() []string {
	names := make([]string, 0, len(t.secondaries)+1)
	for name := range t.secondaries {
		names = append(names, name)
	}
	sort.Strings(names)
	return append([]string{Primary}, names...)
}

// Resolve returns the endpoint a task of the given kind bound to name addresses.
// An empty name means the primary.
func (t *Topology) Resolve(kind Kind, name string) (protocol.Endpoint, error) {
	if name == "" || name == Primary {
		return t.primary, nil
	}
	e, ok := t.secondaries[name]
	if !ok {
		return protocol.Endpoint{}, fmt.Errorf("%w: %q (configured: %s)", ErrUnknownEndpoint, name, strings.Join(t.Names(), ", "))
	}
	if kind == Write {
		return protocol.Endpoint{}, fmt.Errorf("%w: got %q", ErrWriteToSecondary, name)
	}
	return e, nil
}
