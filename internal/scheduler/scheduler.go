// Package scheduler runs the periodic sync and health sweeps of `lexdesk serve`.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/service"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const (
	jobSyncDue     = "sync-due"
	jobHealthSweep = "health-sweep"

	defaultWorkers = 4
)

// Service is the part of the integration service the sweeps drive.
type Service interface {
	DueForSync(ctx context.Context, now time.Time) ([]integrations.Integration, error)
	SyncIntegration(ctx context.Context, id string, opts integrations.SyncOptions) (integrations.SyncResult, error)
	HealthAll(ctx context.Context) ([]service.HealthReport, error)
}

// Locker serializes sweeps across replicas. ok is false when another holder has the lock.
type Locker interface {
	TryLock(ctx context.Context, name string) (release func(), ok bool, err error)
}

type Options struct {
	Service        Service
	Locker         Locker
	Logger         *slog.Logger
	SyncSchedule   string
	HealthSchedule string
	Workers        int
	Now            func() time.Time
}

type Scheduler struct {
	svc     Service
	locker  Locker
	logger  *slog.Logger
	workers int
	now     func() time.Time

	cron           *cron.Cron
	syncSchedule   cron.Schedule
	healthSchedule cron.Schedule
}

func New(opts Options) (*Scheduler, error) {
	if opts.Service == nil {
		return nil, errors.New("scheduler needs the integration service")
	}
	s := &Scheduler{svc: opts.Service, locker: opts.Locker, logger: opts.Logger, workers: opts.Workers, now: opts.Now}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.workers < 1 {
		s.workers = defaultWorkers
	}
	if s.now == nil {
		s.now = time.Now
	}

	var err error
	if s.syncSchedule, err = parseSchedule("SYNC_SCHEDULE", opts.SyncSchedule); err != nil {
		return nil, err
	}
	if s.healthSchedule, err = parseSchedule("HEALTH_SCHEDULE", opts.HealthSchedule); err != nil {
		return nil, err
	}
	logger := cronLogger{s.logger}
	s.cron = cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	return s, nil
}

// parseSchedule accepts standard five-field specs and descriptors such as @every 5m. An
// empty spec disables the job.
func parseSchedule(name, spec string) (cron.Schedule, error) {
	if spec == "" || spec == "off" {
		return nil, nil
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", name, spec, err)
	}
	return sched, nil
}

// Start schedules both sweeps. They stop when ctx is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	if s.syncSchedule != nil {
		s.cron.Schedule(s.syncSchedule, cron.FuncJob(func() {
			if _, err := s.RunDueSyncs(ctx); err != nil {
				s.logger.Error("scheduled sync sweep failed", "err", err)
			}
		}))
	}
	if s.healthSchedule != nil {
		s.cron.Schedule(s.healthSchedule, cron.FuncJob(func() {
			if _, err := s.RunHealthSweep(ctx); err != nil {
				s.logger.Error("scheduled health sweep failed", "err", err)
			}
		}))
	}
	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop waits for running sweeps to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// SweepReport counts what one sync sweep did.
type SweepReport struct {
	Due       int
	Succeeded int
	Failed    int
	Skipped   int
}

// RunDueSyncs syncs every integration whose next sync time has passed. Syncs already in
// flight and integrations that went inactive in the meantime are skipped.
func (s *Scheduler) RunDueSyncs(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	release, ok, err := s.lock(ctx, jobSyncDue)
	if err != nil || !ok {
		return report, err
	}
	defer release()

	due, err := s.svc.DueForSync(ctx, s.now())
	if err != nil {
		return report, err
	}
	report.Due = len(due)

	results := make([]error, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, in := range due {
		g.Go(func() error {
			_, err := s.svc.SyncIntegration(gctx, in.ID, integrations.SyncOptions{Direction: integrations.SyncPull})
			results[i] = err
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range results {
		switch {
		case err == nil:
			report.Succeeded++
		case errors.Is(err, integrations.ErrSyncInProgress), errors.Is(err, integrations.ErrIntegrationInactive):
			report.Skipped++
		default:
			report.Failed++
			s.logger.Warn("scheduled sync failed", "integration_id", due[i].ID, "provider", due[i].Provider, "err", err)
		}
	}
	s.logger.Info("sync sweep finished", "due", report.Due, "succeeded", report.Succeeded, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

// RunHealthSweep probes every active integration and logs the unhealthy ones.
func (s *Scheduler) RunHealthSweep(ctx context.Context) ([]service.HealthReport, error) {
	release, ok, err := s.lock(ctx, jobHealthSweep)
	if err != nil || !ok {
		return nil, err
	}
	defer release()

	reports, err := s.svc.HealthAll(ctx)
	if err != nil {
		return nil, err
	}
	unhealthy := 0
	for _, r := range reports {
		if r.Health.Status == integrations.HealthHealthy {
			continue
		}
		unhealthy++
		s.logger.Warn("integration unhealthy", "integration_id", r.IntegrationID, "provider", r.Provider, "status", r.Health.Status, "err", r.Health.Error)
	}
	s.logger.Info("health sweep finished", "checked", len(reports), "unhealthy", unhealthy)
	return reports, nil
}

func (s *Scheduler) lock(ctx context.Context, job string) (func(), bool, error) {
	if s.locker == nil {
		return func() {}, true, nil
	}
	release, ok, err := s.locker.TryLock(ctx, job)
	if err != nil {
		return nil, false, fmt.Errorf("%s lock: %w", job, err)
	}
	if !ok {
		s.logger.Info("sweep already running elsewhere", "job", job)
		return nil, false, nil
	}
	return release, true, nil
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
