package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/monitor"
)

// RotationReport summarizes a RotateCredentials run.
type RotationReport struct {
	Scanned int      `json:"scanned"`
	Rotated int      `json:"rotated"`
	Failed  []string `json:"failed"`
}

// RotateCredentials re-seals every stored credential with the active key. Integrations
// whose credentials cannot be opened are reported and skipped.
func (s *Service) RotateCredentials(ctx context.Context) (RotationReport, error) {
	report := RotationReport{Failed: []string{}}
	page := integrations.Page{Page: 1, PageSize: 100}
	for {
		batch, err := s.store.ListIntegrations(ctx, page)
		if err != nil {
			s.monitor.Error(ctx, monitor.Event{Action: "rotate_credentials"}, err)
			return report, fmt.Errorf("list integrations: %w", err)
		}
		for _, in := range batch.Items {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			sealed, err := s.creds.RetrieveCredentials(ctx, in.ID)
			if errors.Is(err, integrations.ErrNotFound) {
				continue
			}
			report.Scanned++
			ev := monitor.Event{Action: "rotate_credentials", IntegrationID: in.ID, Provider: in.Provider}
			if err != nil {
				report.Failed = append(report.Failed, in.ID)
				s.monitor.Error(ctx, ev, err)
				continue
			}
			rotated, changed, err := s.creds.Reencrypt(sealed)
			if err != nil {
				report.Failed = append(report.Failed, in.ID)
				s.monitor.Error(ctx, ev, err)
				continue
			}
			if !changed {
				continue
			}
			if err := s.creds.StoreCredentials(ctx, in.ID, rotated); err != nil {
				report.Failed = append(report.Failed, in.ID)
				s.monitor.Error(ctx, ev, err)
				continue
			}
			report.Rotated++
			ev.Message = "credentials re-sealed with key " + s.creds.ActiveKeyID()
			s.monitor.Action(ctx, ev)
		}
		if page.Page*page.PageSize >= batch.Total || len(batch.Items) == 0 {
			return report, nil
		}
		page.Page++
	}
}
