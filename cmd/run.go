package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alanwang67/kvload/client"
	"github.com/alanwang67/kvload/config"
	"github.com/alanwang67/kvload/metrics"
	"github.com/alanwang67/kvload/report"
	"github.com/alanwang67/kvload/workload"
	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
)

var runFlags struct {
	configFile  string
	primary     string
	secondaries map[string]string
	users       int
	iterations  int
	duration    time.Duration
	timeout     time.Duration
	thinkTime   time.Duration
	logLevel    string
	metricsAddr string
	csvFile     string
	jsonFile    string
	plotFile    string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the workload against the cluster",
	Args:  cobra.NoArgs,
	RunE:  runLoad,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.configFile, "config", "c", "", "YAML or JSON run configuration")
	f.StringVar(&runFlags.primary, "primary", "", "primary endpoint base URL")
	f.StringToStringVar(&runFlags.secondaries, "secondary", nil, "secondary endpoints as name=url, replaces the configured set")
	f.IntVarP(&runFlags.users, "users", "u", 0, "number of concurrent simulated users")
	f.IntVarP(&runFlags.iterations, "iterations", "n", 0, "iterations per user, 0 runs until the duration elapses")
	f.DurationVarP(&runFlags.duration, "duration", "d", 0, "run duration, 0 runs until interrupted")
	f.DurationVar(&runFlags.timeout, "timeout", 0, "per-request timeout")
	f.DurationVar(&runFlags.thinkTime, "think-time", 0, "pause between iterations of one user")
	f.StringVar(&runFlags.logLevel, "log-level", "", "debug, info, warn or error")
	f.StringVar(&runFlags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&runFlags.csvFile, "csv", "", "write per-task counts to this CSV file")
	f.StringVar(&runFlags.jsonFile, "json", "", "write the summary to this JSON file")
	f.StringVar(&runFlags.plotFile, "plot", "", "write a latency histogram PNG to this file")
}

// loadConfig reads the configured file, or the defaults, applies the flags
// the user set explicitly and builds the run plan.
func loadConfig(cmd *cobra.Command) (*config.Config, *config.Plan, error) {
	cfg := config.Default()
	if runFlags.configFile != "" {
		var err error
		if cfg, err = config.Load(runFlags.configFile); err != nil {
			return nil, nil, err
		}
	}

	f := cmd.Flags()
	if f.Changed("primary") {
		cfg.Primary = runFlags.primary
	}
	if f.Changed("secondary") {
		cfg.Secondaries = runFlags.secondaries
	}
	if f.Changed("users") {
		cfg.Users = runFlags.users
	}
	if f.Changed("iterations") {
		cfg.Iterations = runFlags.iterations
	}
	if f.Changed("duration") {
		cfg.Duration = runFlags.duration.String()
	}
	if f.Changed("timeout") {
		cfg.RequestTimeout = runFlags.timeout.String()
	}
	if f.Changed("think-time") {
		cfg.ThinkTime = runFlags.thinkTime.String()
	}
	if f.Changed("log-level") {
		cfg.LogLevel = runFlags.logLevel
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = runFlags.metricsAddr
	}

	plan, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, plan, nil
}

func runLoad(cmd *cobra.Command, _ []string) error {
	cfg, plan, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log.SetLevel(plan.LogLevel)

	m := metrics.New()
	c := client.New(plan.Key, plan.Timing.RequestTimeout)

	sched, err := workload.NewScheduler(plan.Scheduler, plan.Tasks, plan.Topology, c, m)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.MetricsAddr != "" {
		srv, err := serveMetrics(cfg.MetricsAddr, m)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		defer srv.Shutdown(context.Background())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if plan.Timing.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, plan.Timing.Duration)
		defer cancel()
	}

	log.Infof("running against %s (key %s)", plan.Topology.Primary(), plan.Key)
	if err := sched.Run(ctx); err != nil {
		return err
	}

	summary := m.Summary()
	if err := report.WriteText(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	return writeReports(summary, m.Latencies())
}

// serveMetrics binds addr before returning so a taken address fails the run
// at startup.
func serveMetrics(addr string, m *metrics.Metrics) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	r := mux.NewRouter()
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Infof("serving metrics on %s/metrics", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()
	return srv, nil
}

func writeReports(s metrics.Summary, latencies []time.Duration) error {
	if runFlags.csvFile != "" {
		if err := report.SaveFile(runFlags.csvFile, func(w io.Writer) error {
			return report.WriteCSV(w, s)
		}); err != nil {
			return err
		}
	}
	if runFlags.jsonFile != "" {
		if err := report.SaveFile(runFlags.jsonFile, func(w io.Writer) error {
			return report.WriteJSON(w, s)
		}); err != nil {
			return err
		}
	}
	if runFlags.plotFile != "" {
		err := report.SaveFile(runFlags.plotFile, func(w io.Writer) error {
			return report.WriteHistogram(w, latencies)
		})
		if errors.Is(err, report.ErrNoSamples) {
			log.Warn("no latency samples, skipping plot")
			return nil
		}
		return err
	}
	return nil
}
