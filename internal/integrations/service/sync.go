package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/monitor"
	"github.com/lexdesk/lexdesk/internal/metrics"
)

// ErrSyncFailed is returned when the adapter aborted the whole run. The SyncResult is
// still returned alongside it.
var ErrSyncFailed = errors.New("sync failed")

// SyncIntegration runs one sync. Item-level failures are reported in the result and move
// the integration to error; they are not returned as an error.
func (s *Service) SyncIntegration(ctx context.Context, id string, opts integrations.SyncOptions) (integrations.SyncResult, error) {
	started := s.now()
	ev := monitor.Event{Action: "sync", IntegrationID: id}
	fail := func(err error) (integrations.SyncResult, error) {
		ev.Duration = s.now().Sub(started)
		s.monitor.Error(ctx, ev, err)
		return integrations.SyncResult{}, err
	}

	opts = opts.Normalized()
	if !opts.Direction.Valid() {
		return fail(fmt.Errorf("%w: direction %q", integrations.ErrInvalidConfig, opts.Direction))
	}
	if opts.Limit < 0 {
		return fail(fmt.Errorf("%w: limit must not be negative", integrations.ErrInvalidConfig))
	}

	in, err := s.store.GetIntegration(ctx, id)
	if err != nil {
		return fail(err)
	}
	ev.Provider = in.Provider
	adapter, ok := s.registry.Get(in.Provider)
	if !ok {
		return fail(fmt.Errorf("%w: %q", integrations.ErrUnsupportedProvider, in.Provider))
	}
	syncer, ok := adapter.(integrations.Syncer)
	if !ok {
		return fail(fmt.Errorf("%w: %s cannot sync", integrations.ErrCapabilityNotSupported, in.Provider))
	}

	if !s.acquire(id) {
		return fail(fmt.Errorf("%w: %s", integrations.ErrSyncInProgress, id))
	}
	defer s.release(id)

	// Re-read under the lock so the status check sees the latest write.
	in, err = s.store.GetIntegration(ctx, id)
	if err != nil {
		return fail(err)
	}
	switch in.Status {
	case integrations.StatusActive:
	case integrations.StatusError:
		// error -> active -> syncing
		in.Status = integrations.StatusActive
	default:
		return fail(fmt.Errorf("%w: status is %s", integrations.ErrIntegrationInactive, in.Status))
	}

	sealed, err := s.creds.GetValidCredentials(ctx, in.ID, in.Provider, in.Config)
	if err != nil {
		if errors.Is(err, integrations.ErrInvalidCredentials) {
			s.markExpired(ctx, in, err)
		}
		return fail(fmt.Errorf("credentials: %w", err))
	}
	plain, err := s.creds.Decrypt(sealed)
	if err != nil {
		return fail(err)
	}

	if in.Status, err = in.Status.Transition(integrations.StatusSyncing); err != nil {
		return fail(err)
	}
	in.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateIntegration(ctx, in); err != nil {
		return fail(fmt.Errorf("mark syncing: %w", err))
	}

	conn := integrations.Connection{
		IntegrationID: in.ID,
		Config:        in.Config,
		Credentials:   plain,
		Webhook:       in.Webhook,
		Records:       s.records,
	}
	result := syncer.Sync(ctx, conn, opts)

	s.finishSync(ctx, in, result)
	metrics.SyncRecordsTotal.WithLabelValues(in.Provider, "created").Add(float64(result.Created))
	metrics.SyncRecordsTotal.WithLabelValues(in.Provider, "updated").Add(float64(result.Updated))
	metrics.SyncRecordsTotal.WithLabelValues(in.Provider, "failed").Add(float64(result.Failed))

	ev.Duration = s.now().Sub(started)
	ev.Details = map[string]any{
		"direction": string(opts.Direction),
		"processed": result.Processed,
		"created":   result.Created,
		"updated":   result.Updated,
		"failed":    result.Failed,
		"dry_run":   opts.DryRun,
	}
	switch {
	case result.Error != "":
		err := fmt.Errorf("%w: %s", ErrSyncFailed, result.Error)
		s.monitor.Error(ctx, ev, err)
		return result, err
	case !result.Success:
		s.monitor.Error(ctx, ev, fmt.Errorf("%d of %d records failed", result.Failed, result.Processed))
	default:
		ev.Message = "sync completed"
		s.monitor.Action(ctx, ev)
	}
	return result, nil
}

// finishSync persists the outcome even when the caller has gone away, so an integration is
// never left in syncing.
func (s *Service) finishSync(ctx context.Context, in integrations.Integration, result integrations.SyncResult) {
	ctx = context.WithoutCancel(ctx)
	now := s.now().UTC()
	if result.Success {
		in.Status = integrations.StatusActive
		in.LastSyncAt = &now
		next := now.Add(in.SyncInterval())
		in.NextSyncAt = &next
		in.ErrorCount = 0
		in.LastError = ""
		metrics.SyncLastSuccessTimestamp.WithLabelValues(in.Provider, in.ID).Set(float64(now.Unix()))
	} else {
		in.Status = integrations.StatusError
		in.ErrorCount++
		in.LastError = result.Error
		if in.LastError == "" {
			in.LastError = strconv.Itoa(result.Failed) + " records failed"
		}
		// Retry on the next regular slot rather than on every scheduler tick.
		next := now.Add(in.SyncInterval())
		in.NextSyncAt = &next
	}
	in.UpdatedAt = now
	if err := s.store.UpdateIntegration(ctx, in); err != nil {
		s.logger.Error("persist sync outcome failed", "integration_id", in.ID, "provider", in.Provider, "err", err)
	}
}

func (s *Service) markExpired(ctx context.Context, in integrations.Integration, cause error) {
	in.Status = integrations.StatusExpired
	in.LastError = cause.Error()
	in.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateIntegration(context.WithoutCancel(ctx), in); err != nil {
		s.logger.Error("mark integration expired failed", "integration_id", in.ID, "err", err)
	}
}

// DueForSync lists active integrations whose next sync time has passed.
func (s *Service) DueForSync(ctx context.Context, now time.Time) ([]integrations.Integration, error) {
	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		s.monitor.Error(ctx, monitor.Event{Action: "due"}, err)
		return nil, fmt.Errorf("list due integrations: %w", err)
	}
	return due, nil
}

func (s *Service) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.syncing[id]; busy {
		return false
	}
	s.syncing[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	delete(s.syncing, id)
	s.mu.Unlock()
}
