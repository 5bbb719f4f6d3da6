// clawmon is a live monitoring dashboard backend for an agent runtime: it
// tails the runtime's log and session transcript files, reconstructs runs and
// tool calls, and republishes them over HTTP and WebSocket.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"clawmon/internal/app"
	"clawmon/internal/config"
	"clawmon/internal/logging"
)

var version = "0.2.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		addr  string
		debug bool
	)

	root := &cobra.Command{
		Use:           "clawmon",
		Short:         "Agent runtime monitoring dashboard",
		Long:          "clawmon watches an agent runtime's log and session files and serves a live dashboard of runs, tool calls and sessions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(addr, debug)
		},
	}

	root.PersistentFlags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides config)")
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Debug mode")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the monitor server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(addr, debug)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("clawmon %s\n", version)
		},
	})

	return root
}

func serve(addr string, debug bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Debug = true
	}
	if addr != "" {
		host, port, err := splitAddr(addr)
		if err != nil {
			return err
		}
		cfg.Host, cfg.Port = host, port
	}
	if cfg.Debug {
		logging.SetRootLevel(logging.DEBUG)
	} else {
		logging.SetRootLevel(logging.INFO)
	}

	logger := logging.NewComponentLogger("Main")
	logger.Info("clawmon %s starting on %s", version, cfg.Addr())
	logger.Info("log dir: %s", cfg.LogDir)
	logger.Info("transcripts: %s", cfg.TranscriptsDir)
	logger.Info("snapshots: %s", cfg.SnapshotsDir)

	a, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.Run(ctx)
}

func splitAddr(addr string) (string, int, error) {
	host, portRaw, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid addr %q (want host:port): %w", addr, err)
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in addr %q", addr)
	}
	if host == "" {
		host = "localhost"
	}
	return host, port, nil
}
