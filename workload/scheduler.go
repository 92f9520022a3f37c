package workload

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/alanwang67/kvload/client"
	"github.com/alanwang67/kvload/protocol"
	"github.com/alanwang67/kvload/topology"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

var ErrNoUsers = errors.New("workload: at least one user is required")

// Executor runs the two operations a task can be bound to. *client.Client
// implements it.
type Executor interface {
	Read(ctx context.Context, s *client.Session, e protocol.Endpoint) client.Result
	ReadModifyWrite(ctx context.Context, s *client.Session, primary protocol.Endpoint) client.Result
}

// Recorder receives every classified outcome. It is called from all users
// concurrently. *metrics.Metrics implements it.
type Recorder interface {
	Record(task string, res client.Result, latency time.Duration)
}

// Config holds the scheduler parameters.
type Config struct {
	Users      int           // concurrent simulated users
	Iterations int           // per user, zero means until cancelled
	ThinkTime  time.Duration // pause between iterations of one user
	Seed       int64         // zero seeds from the clock
}

type boundTask struct {
	Task
	endpoint protocol.Endpoint
	run      func(ctx context.Context, s *client.Session) client.Result
}

// Scheduler drives the simulated users.
type Scheduler struct {
	cfg     Config
	tasks   []boundTask
	sampler *Sampler
	rec     Recorder
}

type discard struct{}

func (discard) Record(string, client.Result, time.Duration) {}

// NewScheduler binds every task to its endpoint and executor and builds the
// sampler. All errors it returns are configuration errors.
func NewScheduler(cfg Config, tasks []Task, topo *topology.Topology, exec Executor, rec Recorder) (*Scheduler, error) {
	if cfg.Users <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrNoUsers, cfg.Users)
	}
	if cfg.Iterations < 0 {
		return nil, fmt.Errorf("workload: iterations must be non-negative, got %d", cfg.Iterations)
	}
	if cfg.ThinkTime < 0 {
		return nil, fmt.Errorf("workload: think time must be non-negative, got %v", cfg.ThinkTime)
	}
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if rec == nil {
		rec = discard{}
	}

	s := &Scheduler{cfg: cfg, rec: rec}
	seen := make(map[string]bool, len(tasks))
	weights := make([]int, 0, len(tasks))

	for _, t := range tasks {
		if t.Name == "" {
			return nil, errors.New("workload: task name must not be empty")
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("workload: duplicate task %q", t.Name)
		}
		seen[t.Name] = true

		bt, err := bind(t, topo, exec)
		if err != nil {
			return nil, err
		}
		s.tasks = append(s.tasks, bt)
		weights = append(weights, t.Weight)
	}

	sampler, err := NewSampler(weights)
	if err != nil {
		return nil, err
	}
	s.sampler = sampler

	for i, t := range s.tasks {
		log.Debugf("task %s: %s on %s (p=%.3f)", t.Name, t.Kind, t.endpoint, sampler.Probability(i))
	}
	return s, nil
}

func bind(t Task, topo *topology.Topology, exec Executor) (boundTask, error) {
	bt := boundTask{Task: t}
	switch t.Kind {
	case KindRead:
		e, err := topo.Resolve(topology.Read, t.Target)
		if err != nil {
			return bt, fmt.Errorf("task %q: %w", t.Name, err)
		}
		bt.endpoint = e
		bt.run = func(ctx context.Context, s *client.Session) client.Result {
			return exec.Read(ctx, s, e)
		}
	case KindReadModifyWrite:
		e, err := topo.Resolve(topology.Write, t.Target)
		if err != nil {
			return bt, fmt.Errorf("task %q: %w", t.Name, err)
		}
		bt.endpoint = e
		bt.run = func(ctx context.Context, s *client.Session) client.Result {
			return exec.ReadModifyWrite(ctx, s, e)
		}
	default:
		return bt, fmt.Errorf("task %q: unknown kind %q", t.Name, t.Kind)
	}
	return bt, nil
}

// Tasks returns the bound task definitions in configuration order.
func (s *Scheduler) Tasks() []Task {
	out := make([]Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Task
	}
	return out
}

// Run starts the users and blocks until all of them stopped. Users stop
// starting iterations once ctx is done or their iteration limit is reached;
// requests already issued run to completion or to their own timeout.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Infof("starting %d users over %d tasks", s.cfg.Users, len(s.tasks))

	var g errgroup.Group
	for id := 0; id < s.cfg.Users; id++ {
		id := id
		g.Go(func() error {
			s.user(ctx, id)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) user(ctx context.Context, id int) {
	sess := client.NewSession()
	rng := rand.New(rand.NewSource(s.cfg.Seed + int64(id)))
	logger := log.With("user", id)
	reqCtx := context.WithoutCancel(ctx)

	for i := 0; s.cfg.Iterations == 0 || i < s.cfg.Iterations; i++ {
		if ctx.Err() != nil {
			return
		}
		if i > 0 && !pause(ctx, s.cfg.ThinkTime) {
			return
		}

		t := s.tasks[s.sampler.Sample(rng)]
		start := time.Now()
		res := t.run(reqCtx, sess)
		latency := time.Since(start)

		s.rec.Record(t.Name, res, latency)
		report(logger, t, res, latency)
	}
	logger.Debug("iteration limit reached", "iterations", s.cfg.Iterations)
}

// pause waits d unless ctx is done first.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func report(logger *log.Logger, t boundTask, res client.Result, latency time.Duration) {
	switch res.Outcome {
	case client.Success:
		logger.Debug("ok", "task", t.Name, "version", res.Version, "latency", latency)
	case client.Conflict:
		logger.Debug("conflict", "task", t.Name, "submitted", res.Submitted, "server", res.Version)
	case client.Unknown:
		logger.Warn("write outcome unknown", "task", t.Name, "submitted", res.Submitted, "err", res.Err)
	case client.ProtocolViolation:
		logger.Error("protocol violation", "task", t.Name, "endpoint", t.endpoint.Name, "err", res.Err)
	default:
		logger.Warn("request failed", "task", t.Name, "endpoint", t.endpoint.Name, "err", res.Err)
	}
}
