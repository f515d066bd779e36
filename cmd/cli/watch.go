package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GarussMisha/VK-masscan/internal/logging"
)

const metricsShutdownTimeout = 5 * time.Second

// watchCmd represents the recurring scan command.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Scan targets on a schedule and report changes",
	Long: `Run scan cycles continuously, driven by the configured interval or
cron expression. Only changes are reported: new open ports and changed
service banners. Stop with SIGINT or SIGTERM; a stop notification with
lifetime counters is sent before exit.`,
	Example: `  vk-masscan watch
  vk-masscan watch --config /etc/vk-masscan/config.yaml`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := buildApp(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		shutdown := serveMetrics(application, cfg.Metrics.Listen)
		defer shutdown()
	}

	err = application.scheduler.Watch(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveMetrics starts the /metrics endpoint and returns its shutdown
// function. A metrics listen failure is logged, not fatal: scanning is
// the job, observability is a convenience.
func serveMetrics(application *app, listen string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", application.metrics.Handler())

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		application.logger.Info("metrics endpoint listening", "address", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics endpoint failed", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
