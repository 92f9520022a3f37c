package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alanwang67/kvload/protocol"
	"github.com/alanwang67/kvload/server"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var serveFlags struct {
	address string
	key     string
	latency time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the single-key contract from memory for local dry runs",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&serveFlags.address, "address", "a", "127.0.0.1:12380", "address to listen on")
	f.StringVar(&serveFlags.key, "key", protocol.DefaultKey, "resource path of the key")
	f.DurationVar(&serveFlags.latency, "latency", 0, "delay added to every reply")
}

func runServe(cmd *cobra.Command, _ []string) error {
	srv := server.New(serveFlags.key)
	srv.Latency = serveFlags.latency

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(serveFlags.address) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	st := srv.Stats()
	log.Infof("served %d reads and %d writes (%d conflicts), final version %d", st.Reads, st.Writes, st.Conflicts, st.Version)
	return nil
}
