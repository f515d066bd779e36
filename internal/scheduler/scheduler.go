// Package scheduler orchestrates scan runs: it walks the configured
// targets sequentially, feeds sweep results through the change engine,
// and drives notifications. It owns the one-shot and watch (recurring)
// execution modes.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/GarussMisha/VK-masscan/internal/config"
	"github.com/GarussMisha/VK-masscan/internal/engine"
	apperrors "github.com/GarussMisha/VK-masscan/internal/errors"
	"github.com/GarussMisha/VK-masscan/internal/logging"
	"github.com/GarussMisha/VK-masscan/internal/masscan"
	"github.com/GarussMisha/VK-masscan/internal/metrics"
	"github.com/GarussMisha/VK-masscan/internal/notify"
)

// Sweeper discovers open ports on a target range.
type Sweeper interface {
	Scan(ctx context.Context, target, ports string) []masscan.Record
}

// Processor turns sweep records into per-address change reports.
type Processor interface {
	Process(ctx context.Context, records []masscan.Record) []engine.Report
}

// Sender delivers a notification message.
type Sender interface {
	Send(ctx context.Context, message string) bool
}

// RunSummary aggregates one pass over all targets.
type RunSummary struct {
	RunID             string
	Started           time.Time
	Elapsed           time.Duration
	TargetsScanned    int
	TargetsSkipped    int
	PortsObserved     int
	AddressesReported int
	NewPorts          int
	ChangedServices   int
}

// Scheduler runs scan cycles over the configured targets. Targets are
// always processed one at a time, so at most one sweep subprocess is in
// flight.
type Scheduler struct {
	targets  []config.TargetConfig
	interval time.Duration
	cronExpr string

	sweeper Sweeper
	engine  Processor
	sender  Sender
	metrics *metrics.Metrics
	logger  *logging.Logger
	now     func() time.Time

	mu         sync.Mutex
	cycles     int
	portChecks int
}

// New creates a scheduler.
func New(cfg *config.Config, sweeper Sweeper, proc Processor, sender Sender,
	m *metrics.Metrics, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		targets:  cfg.Targets,
		interval: cfg.Interval(),
		cronExpr: cfg.Schedule.Cron,
		sweeper:  sweeper,
		engine:   proc,
		sender:   sender,
		metrics:  m,
		logger:   logger.WithComponent("scheduler"),
		now:      time.Now,
	}
}

// RunOnce performs a single pass over all targets with full
// notifications: scan-start, per-address changes, and a completion
// summary per target, including the explicit "no open ports" case.
func (s *Scheduler) RunOnce(ctx context.Context) (RunSummary, error) {
	summary := s.runCycle(ctx, true)
	if err := ctx.Err(); err != nil {
		return summary, apperrors.WrapScanError(apperrors.CodeCanceled, "run interrupted", err)
	}
	return summary, nil
}

// Watch runs scan cycles until the context is canceled. Notifications
// are delta-only: an address is reported only when it has new ports or
// changed banners. A schedule-stopped message with lifetime counters
// goes out on cancellation, before Watch returns.
func (s *Scheduler) Watch(ctx context.Context) error {
	s.send(ctx, notify.ScheduleStarted(len(s.targets), s.describeSchedule()))
	s.logger.Info("watch started", "targets", len(s.targets), "schedule", s.describeSchedule())

	var err error
	if s.cronExpr != "" {
		err = s.watchCron(ctx)
	} else {
		err = s.watchInterval(ctx)
	}

	cycles, checks := s.counters()
	s.send(ctx, notify.ScheduleStopped(cycles, checks))
	s.logger.Info("watch stopped", "cycles", cycles, "port_checks", checks)
	return err
}

func (s *Scheduler) watchInterval(ctx context.Context) error {
	for {
		summary := s.runCycle(ctx, false)
		s.finishCycle(summary)

		// Cancellation lands here within one tick; it never cuts into
		// the interior of a target's sweep-process-notify sequence.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.interval):
		}
	}
}

func (s *Scheduler) watchCron(ctx context.Context) error {
	runner := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := runner.AddFunc(s.cronExpr, func() {
		s.finishCycle(s.runCycle(ctx, false))
	})
	if err != nil {
		return apperrors.WrapConfigError(apperrors.CodeConfiguration,
			fmt.Sprintf("invalid cron expression %q", s.cronExpr), err)
	}

	runner.Start()
	<-ctx.Done()

	// Wait for an in-flight cycle before reporting the stop.
	<-runner.Stop().Done()
	return ctx.Err()
}

// runCycle walks the targets sequentially. announce selects one-shot
// notification behavior; scheduled cycles stay quiet unless something
// changed. Each target is isolated: whatever happens to it, the loop
// moves on to the next one.
func (s *Scheduler) runCycle(ctx context.Context, announce bool) RunSummary {
	summary := RunSummary{
		RunID:   uuid.New().String(),
		Started: s.now(),
	}
	log := s.logger.WithRunID(summary.RunID)
	log.Info("run started", "targets", len(s.targets))

	for _, target := range s.targets {
		if ctx.Err() != nil {
			log.Warn("run interrupted, skipping target", "target", target.Name)
			s.metrics.RecordTargetSkip()
			summary.TargetsSkipped++
			continue
		}
		s.runTarget(ctx, log, target, announce, &summary)
	}

	summary.Elapsed = s.now().Sub(summary.Started)
	log.Info("run complete",
		"targets_scanned", summary.TargetsScanned,
		"targets_skipped", summary.TargetsSkipped,
		"ports_observed", summary.PortsObserved,
		"new_ports", summary.NewPorts,
		"changed_services", summary.ChangedServices,
		"duration", summary.Elapsed)
	return summary
}

func (s *Scheduler) runTarget(ctx context.Context, log *logging.Logger,
	target config.TargetConfig, announce bool, summary *RunSummary) {
	name := target.Name
	if name == "" {
		name = target.Target
	}
	tlog := log.WithTarget(name)

	if announce {
		s.send(ctx, notify.ScanStarted(name, target.Target))
	}

	start := s.now()
	records := s.sweeper.Scan(ctx, target.Target, target.Ports)
	s.metrics.RecordSweep(len(records) > 0, s.now().Sub(start), len(records))

	summary.TargetsScanned++
	summary.PortsObserved += len(records)

	if len(records) == 0 {
		tlog.Info("no open ports found")
		if announce {
			s.send(ctx, notify.NoOpenPorts(name))
		}
		return
	}

	reports := s.engine.Process(ctx, records)
	summary.AddressesReported += len(reports)

	for _, report := range reports {
		s.metrics.RecordChanges(len(report.NewPorts), len(report.ChangedServices))
		summary.NewPorts += len(report.NewPorts)
		summary.ChangedServices += len(report.ChangedServices)

		if len(report.NewPorts) > 0 {
			s.send(ctx, notify.NewPorts(report.Address, report.NewPorts, report.Services))
		}
		if len(report.ChangedServices) > 0 {
			s.send(ctx, notify.ChangedServices(report.Address, report.ChangedServices))
		}
	}

	if announce {
		s.send(ctx, notify.ScanComplete(name, len(reports), len(records), s.now().Sub(start)))
	}
}

func (s *Scheduler) finishCycle(summary RunSummary) {
	s.mu.Lock()
	s.cycles++
	s.portChecks += summary.PortsObserved
	s.mu.Unlock()
	s.metrics.RecordCycle()
}

func (s *Scheduler) counters() (cycles, portChecks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles, s.portChecks
}

func (s *Scheduler) send(ctx context.Context, message string) {
	s.metrics.RecordNotification(s.sender.Send(ctx, message))
}

func (s *Scheduler) describeSchedule() string {
	if s.cronExpr != "" {
		return "cron " + s.cronExpr
	}
	return "every " + s.interval.String()
}
