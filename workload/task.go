package workload

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// Kind constants define the operations a task can run.
const (
	KindRead            Kind = "read"
	KindReadModifyWrite Kind = "read_modify_write"
)

var (
	ErrNoTasks        = errors.New("workload: no tasks configured")
	ErrNoWeight       = errors.New("workload: at least one task weight must be positive")
	ErrNegativeWeight = errors.New("workload: task weights must be non-negative")
)

// Kind names the executor a task runs.
type Kind string

// ParseKind accepts the configuration spelling of a task kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindRead:
		return KindRead, nil
	case KindReadModifyWrite, "write", "rmw":
		return KindReadModifyWrite, nil
	default:
		return "", fmt.Errorf("workload: unknown task kind %q", s)
	}
}

// Task is one weighted entry of the task mix.
type Task struct {
	Name   string // label used in logs and metrics
	Kind   Kind
	Target string // endpoint name, empty means primary
	Weight int
}

// DefaultTasks is the documented mix: one plain read of the primary, reads
// bound to two secondaries, and one read-then-conditional-write.
func DefaultTasks() []Task {
	return []Task{
		{Name: "read", Kind: KindRead, Target: "primary", Weight: 1},
		{Name: "read2", Kind: KindRead, Target: "secondary-1", Weight: 3},
		{Name: "read3", Kind: KindRead, Target: "secondary-2", Weight: 4},
		{Name: "write", Kind: KindReadModifyWrite, Target: "primary", Weight: 2},
	}
}

// Sampler draws indices from the discrete distribution given by integer
// weights. It is built once and never changes, so it is safe to share; the
// random source passed to Sample is not.
type Sampler struct {
	cumulative []int
	total      int
}

// NewSampler builds a sampler where index i is drawn with probability
// weights[i] / sum(weights).
func NewSampler(weights []int) (*Sampler, error) {
	if len(weights) == 0 {
		return nil, ErrNoTasks
	}
	s := &Sampler{cumulative: make([]int, len(weights))}
	for i, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("%w: index %d has weight %d", ErrNegativeWeight, i, w)
		}
		s.total += w
		s.cumulative[i] = s.total
	}
	if s.total == 0 {
		return nil, ErrNoWeight
	}
	return s, nil
}

// Sample draws one index using r.
func (s *Sampler) Sample(r *rand.Rand) int {
	n := r.Intn(s.total)
	return sort.Search(len(s.cumulative), func(i int) bool {
		return s.cumulative[i] > n
	})
}

// Probability returns the selection probability of index i.
func (s *Sampler) Probability(i int) float64 {
	if i < 0 || i >= len(s.cumulative) {
		return 0
	}
	prev := 0
	if i > 0 {
		prev = s.cumulative[i-1]
	}
	return float64(s.cumulative[i]-prev) / float64(s.total)
}

// Len returns the number of indices.
func (s *Sampler) Len() int {
	return len(s.cumulative)
}
