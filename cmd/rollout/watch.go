package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/n2nstreams/rollout/pkg/metrics"
	"github.com/n2nstreams/rollout/pkg/slo"
	"github.com/n2nstreams/rollout/pkg/types"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the SLO burn-rate watcher daemon",
	Long: `Watch one or more promoted services for error budget burn. A fast burn
sustained past the configured window triggers an emergency rollback to the
previous stable revision; a slow burn only raises a warning signal. Each
watched endpoint is also polled for reachability at the health interval.

The daemon also serves Prometheus metrics on the configured listen address.

Examples:
  rollout watch --config rollout.yaml \
    --service my-project/us-central1/checkout \
    --service my-project/europe-west1/checkout`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringSlice("service", nil, "Service to watch as project/region/service (repeatable, required)")
	_ = watchCmd.MarkFlagRequired("service")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	services, _ := cmd.Flags().GetStringSlice("service")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.SLO.PrometheusURL == "" {
		return fmt.Errorf("slo.prometheus_url must be set to run the watcher")
	}

	refs := make([]types.ServiceRef, 0, len(services))
	for _, s := range services {
		parts := strings.Split(s, "/")
		if len(parts) != 3 {
			return fmt.Errorf("invalid --service %q, expected project/region/service", s)
		}
		refs = append(refs, types.ServiceRef{Project: parts[0], Region: parts[1], Service: parts[2]})
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	stk, err := buildStack(ctx, cfg, nil, false)
	if err != nil {
		return err
	}
	defer stk.close()

	source, err := slo.NewPrometheusSource(cfg.SLO.PrometheusURL, cfg.SLO.GoodQuery, cfg.SLO.TotalQuery)
	if err != nil {
		return err
	}

	watcher := slo.NewWatcher(source, stk.rollbacks, stk.target, stk.store, stk.broker, slo.Config{
		Goal:     cfg.SLO.Goal,
		Window:   cfg.SLO.Window.Std(),
		Lookback: cfg.SLO.Lookback.Std(),
		FastBurn: cfg.SLO.FastBurn,
		SlowBurn: cfg.SLO.SlowBurn,
		Sustain:  cfg.SLO.Sustain.Std(),
		Interval: cfg.SLO.Interval.Std(),
	})
	for _, ref := range refs {
		watcher.Monitor(ref)
		url, err := stk.target.ServiceURL(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to resolve endpoint for %s: %w", ref, err)
		}
		stk.monitor.Watch(strings.TrimSuffix(url, "/") + cfg.Health.Path)
		fmt.Printf("✓ Watching %s\n", ref)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()
	go stk.monitor.Run(ctx)
	go watcher.Run(ctx)

	fmt.Printf("Watcher running, metrics on %s. Press Ctrl+C to stop.\n", cfg.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	fmt.Println("✓ Shutdown complete")
	return nil
}
