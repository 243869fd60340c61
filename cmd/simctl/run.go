package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rolling-mesh/simcore/config"
	"github.com/rolling-mesh/simcore/control/console"
	"github.com/rolling-mesh/simcore/control/controller"
	"github.com/rolling-mesh/simcore/control/events"
)

var (
	scriptPath string
	runFor     time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <config.yaml>",
	Short: "Spawn the fleet described by a network config and follow its event stream",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&scriptPath, "script", "", "optional YAML file of timed controller commands to execute")
	runCmd.Flags().DurationVar(&runFor, "for", 0, "stop after this long (0 = run until Ctrl+C)")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()}))

	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl, runID, err := buildFleet(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build fleet: %w", err)
	}
	defer ctrl.Stop()

	c := console.New(verbose)
	c.Header(fmt.Sprintf("simctl run %s (run_id=%s)", args[0], runID))
	go c.Follow(ctrl.Events().Subscribe())

	if metricsAddr != "" {
		metrics := events.NewMetrics(ctrl.Events())
		prometheus.MustRegister(metrics)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", "addr", metricsAddr)
	}

	ctrl.DiscoverTopology()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received interrupt, shutting down")
		cancel()
	}()

	if scriptPath != "" {
		script, err := loadScript(scriptPath)
		if err != nil {
			return err
		}
		go runScript(ctx, script, ctrl, c)
	}

	if runFor > 0 {
		select {
		case <-time.After(runFor):
		case <-ctx.Done():
		}
		return nil
	}

	<-ctx.Done()
	return nil
}

// runScript fires each command at its configured delay from script start,
// in order. A command's own error is reported but doesn't abort the rest
// of the script, since controller commands are independent.
func runScript(ctx context.Context, s *Script, ctrl *controller.Controller, c *console.Console) {
	start := time.Now()
	for _, cmd := range s.Commands {
		wait := cmd.At - time.Since(start)
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
		}
		if err := cmd.apply(ctrl); err != nil {
			c.Error(fmt.Sprintf("script: %s failed: %v", cmd.Action, err))
			continue
		}
		c.Success(fmt.Sprintf("script: %s applied", cmd.Action))
	}
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
