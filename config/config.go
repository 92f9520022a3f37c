// Package config loads run configuration from YAML or JSON files and turns it
// into the topology, task mix and scheduler parameters of a run.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alanwang67/kvload/protocol"
	"github.com/alanwang67/kvload/topology"
	"github.com/alanwang67/kvload/workload"
	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// Config is the file representation of a run.
type Config struct {
	Key            string            `yaml:"key" json:"key"`
	Primary        string            `yaml:"primary" json:"primary"`
	Secondaries    map[string]string `yaml:"secondaries" json:"secondaries"`
	Users          int               `yaml:"users" json:"users"`
	Duration       string            `yaml:"duration" json:"duration"`     // zero runs until interrupted
	Iterations     int               `yaml:"iterations" json:"iterations"` // per user, zero is unlimited
	RequestTimeout string            `yaml:"request_timeout" json:"request_timeout"`
	ThinkTime      string            `yaml:"think_time" json:"think_time"`
	Seed           int64             `yaml:"seed" json:"seed"`
	LogLevel       string            `yaml:"log_level" json:"log_level"`
	MetricsAddr    string            `yaml:"metrics_addr" json:"metrics_addr"`
	Tasks          []TaskConfig      `yaml:"tasks" json:"tasks"`
}

// TaskConfig is one entry of the task mix.
type TaskConfig struct {
	Name   string `yaml:"name" json:"name"`
	Kind   string `yaml:"kind" json:"kind"`
	Target string `yaml:"target" json:"target"`
	Weight int    `yaml:"weight" json:"weight"`
}

// Timing holds the parsed durations of a Config.
type Timing struct {
	Duration       time.Duration
	RequestTimeout time.Duration
	ThinkTime      time.Duration
}

// Default returns the example three-member cluster on localhost with the
// documented task mix.
func Default() *Config {
	c := &Config{
		Key:     protocol.DefaultKey,
		Primary: "http://127.0.0.1:12380",
		Secondaries: map[string]string{
			"secondary-1": "http://127.0.0.1:22380",
			"secondary-2": "http://127.0.0.1:32380",
		},
		Users:          10,
		Duration:       "30s",
		RequestTimeout: "5s",
		ThinkTime:      "0s",
		LogLevel:       "info",
	}
	for _, t := range workload.DefaultTasks() {
		c.Tasks = append(c.Tasks, TaskConfig{
			Name:   t.Name,
			Kind:   string(t.Kind),
			Target: t.Target,
			Weight: t.Weight,
		})
	}
	return c
}

// Load reads a configuration file. The format follows the extension. Fields
// left out of the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var c Config
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	c.fill(Default())
	log.Debugf("loaded config from %s", path)
	return &c, nil
}

func (c *Config) fill(d *Config) {
	if c.Key == "" {
		c.Key = d.Key
	}
	if c.Primary == "" {
		c.Primary = d.Primary
	}
	if c.Secondaries == nil {
		c.Secondaries = d.Secondaries
	}
	if c.Users == 0 {
		c.Users = d.Users
	}
	if c.Duration == "" {
		c.Duration = d.Duration
	}
	if c.RequestTimeout == "" {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.ThinkTime == "" {
		c.ThinkTime = d.ThinkTime
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Tasks == nil {
		c.Tasks = d.Tasks
	}
}

// Plan is a validated Config turned into the values a run is built from.
type Plan struct {
	Key       string
	Topology  *topology.Topology
	Tasks     []workload.Task
	Timing    Timing
	Scheduler workload.Config
	LogLevel  log.Level
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	_, err := c.Build()
	return err
}

// Build validates the configuration and returns the topology, task mix and
// scheduler parameters of the run.
func (c *Config) Build() (*Plan, error) {
	if !strings.HasPrefix(c.Key, "/") {
		return nil, fmt.Errorf("key must start with '/', got %q", c.Key)
	}
	if c.Users <= 0 {
		return nil, fmt.Errorf("users must be positive, got %d", c.Users)
	}
	if c.Iterations < 0 {
		return nil, fmt.Errorf("iterations must be non-negative, got %d", c.Iterations)
	}
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log_level: %w", err)
	}
	timing, err := c.Timing()
	if err != nil {
		return nil, err
	}
	topo, err := c.Topology()
	if err != nil {
		return nil, err
	}
	tasks, err := c.WorkloadTasks()
	if err != nil {
		return nil, err
	}

	weights := make([]int, len(tasks))
	for i, t := range tasks {
		kind := topology.Read
		if t.Kind == workload.KindReadModifyWrite {
			kind = topology.Write
		}
		if _, err := topo.Resolve(kind, t.Target); err != nil {
			return nil, fmt.Errorf("task %q: %w", t.Name, err)
		}
		weights[i] = t.Weight
	}
	if _, err := workload.NewSampler(weights); err != nil {
		return nil, err
	}

	return &Plan{
		Key:      c.Key,
		Topology: topo,
		Tasks:    tasks,
		Timing:   timing,
		Scheduler: workload.Config{
			Users:      c.Users,
			Iterations: c.Iterations,
			ThinkTime:  timing.ThinkTime,
			Seed:       c.Seed,
		},
		LogLevel: level,
	}, nil
}

// Timing parses the duration fields.
func (c *Config) Timing() (Timing, error) {
	var t Timing
	var err error

	if t.Duration, err = parseDuration("duration", c.Duration); err != nil {
		return t, err
	}
	if t.RequestTimeout, err = parseDuration("request_timeout", c.RequestTimeout); err != nil {
		return t, err
	}
	if t.RequestTimeout == 0 {
		return t, errors.New("request_timeout must be positive")
	}
	if t.ThinkTime, err = parseDuration("think_time", c.ThinkTime); err != nil {
		return t, err
	}
	return t, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must be non-negative, got %v", field, d)
	}
	return d, nil
}

// Topology builds the endpoint set.
func (c *Config) Topology() (*topology.Topology, error) {
	return topology.New(c.Primary, c.Secondaries)
}

// WorkloadTasks converts the task entries. Duplicate names and unknown kinds
// are errors.
func (c *Config) WorkloadTasks() ([]workload.Task, error) {
	if len(c.Tasks) == 0 {
		return nil, workload.ErrNoTasks
	}
	seen := make(map[string]bool, len(c.Tasks))
	tasks := make([]workload.Task, 0, len(c.Tasks))

	for i, tc := range c.Tasks {
		if tc.Name == "" {
			return nil, fmt.Errorf("tasks[%d]: name must not be empty", i)
		}
		if seen[tc.Name] {
			return nil, fmt.Errorf("tasks[%d]: duplicate task name %q", i, tc.Name)
		}
		seen[tc.Name] = true

		kind, err := workload.ParseKind(tc.Kind)
		if err != nil {
			return nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}
		if tc.Weight < 0 {
			return nil, fmt.Errorf("tasks[%d]: %w", i, workload.ErrNegativeWeight)
		}
		tasks = append(tasks, workload.Task{
			Name:   tc.Name,
			Kind:   kind,
			Target: tc.Target,
			Weight: tc.Weight,
		})
	}
	return tasks, nil
}
