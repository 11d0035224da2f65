package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-promptexec/internal/worker"
)

const shutdownTimeout = 5 * time.Second

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve prompt execution as a Temporal worker",
	Long:  `Connects to Temporal, registers the prompt workflow and activity on the configured task queue, and exposes Prometheus metrics until interrupted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		wc := cfg.Worker

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		rt, err := worker.NewRuntime(ctx, cfg, worker.Options{Registerer: reg, Logger: logger})
		if err != nil {
			return err
		}
		defer rt.Close()

		c, err := client.Dial(client.Options{
			HostPort:  wc.HostPort,
			Namespace: wc.Namespace,
			Logger:    log.NewStructuredLogger(logger.With("component", "temporal")),
		})
		if err != nil {
			return err
		}
		defer c.Close()

		var srv *http.Server
		if cfg.Observability.MetricsEnabled {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
			srv = &http.Server{Addr: cfg.Observability.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				logger.Info("serving metrics", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", "error", err)
				}
			}()
		}

		w := sdkworker.New(c, wc.TaskQueue, sdkworker.Options{})
		worker.RegisterAll(w, rt.Executor)

		logger.Info("worker started",
			"host_port", wc.HostPort, "namespace", wc.Namespace, "task_queue", wc.TaskQueue,
			"tiers", rt.Executor.Policy().Names())
		runErr := w.Run(sdkworker.InterruptCh())

		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", "error", err)
			}
		}
		logger.Info("worker stopped")
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
