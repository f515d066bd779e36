package cli

import (
	"github.com/GarussMisha/VK-masscan/internal/config"
	"github.com/GarussMisha/VK-masscan/internal/engine"
	"github.com/GarussMisha/VK-masscan/internal/history"
	"github.com/GarussMisha/VK-masscan/internal/logging"
	"github.com/GarussMisha/VK-masscan/internal/masscan"
	"github.com/GarussMisha/VK-masscan/internal/metrics"
	"github.com/GarussMisha/VK-masscan/internal/notify"
	"github.com/GarussMisha/VK-masscan/internal/probe"
	"github.com/GarussMisha/VK-masscan/internal/scheduler"
)

// app bundles the wired components for a run.
type app struct {
	cfg       *config.Config
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics
	logger    *logging.Logger
}

// buildApp assembles the full component stack from config: history
// store, sweeper, identifier, engine, notifier, metrics, scheduler.
// The sweeper binary is verified here so a missing masscan fails the
// command before any notification goes out.
func buildApp(cfg *config.Config) (*app, error) {
	logger := logging.Default()

	executor := masscan.NewExecutor(cfg.Masscan.Binary, cfg.Masscan.Rate, cfg.SweepTimeout(), logger)
	if err := executor.CheckBinary(); err != nil {
		return nil, err
	}

	store := history.Load(cfg.History.Path, logger)
	identifier := probe.NewIdentifier(cfg.ProbeTimeout(), logger)
	eng := engine.New(store, identifier, logger)
	notifier := notify.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.Enabled, logger)
	m := metrics.New()

	return &app{
		cfg:       cfg,
		scheduler: scheduler.New(cfg, executor, eng, notifier, m, logger),
		metrics:   m,
		logger:    logger,
	}, nil
}
