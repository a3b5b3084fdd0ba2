// Package memory implements the store ports in process memory. It backs tests and
// `lexdesk serve` when no DATABASE_URL is configured.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/store"
)

// Store satisfies every store port.
type Store struct {
	mu           sync.RWMutex
	integrations map[string]integrations.Integration
	credentials  map[string]integrations.Credentials
	logs         []integrations.LogEntry
	records      map[string]map[string]integrations.Record // integration id -> entity/external id
}

var (
	_ store.IntegrationStore = (*Store)(nil)
	_ store.CredentialStore  = (*Store)(nil)
	_ store.LogStore         = (*Store)(nil)
	_ store.RecordStore      = (*Store)(nil)
)

func New() *Store {
	return &Store{
		integrations: make(map[string]integrations.Integration),
		credentials:  make(map[string]integrations.Credentials),
		records:      make(map[string]map[string]integrations.Record),
	}
}

func (s *Store) ListIntegrations(_ context.Context, page integrations.Page) (integrations.Paged[integrations.Integration], error) {
	page = page.Normalized()
	s.mu.RLock()
	all := slices.Collect(maps.Values(s.integrations))
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	return paginate(all, page), nil
}

func (s *Store) GetIntegration(_ context.Context, id string) (integrations.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.integrations[id]
	if !ok {
		return integrations.Integration{}, store.NotFound("integration", id)
	}
	return in, nil
}

func (s *Store) CreateIntegration(_ context.Context, in integrations.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.integrations[in.ID]; ok {
		return fmt.Errorf("integration %q: %w", in.ID, integrations.ErrConflict)
	}
	for _, existing := range s.integrations {
		if in.Slug != "" && existing.Slug == in.Slug {
			return fmt.Errorf("integration slug %q: %w", in.Slug, integrations.ErrConflict)
		}
	}
	s.integrations[in.ID] = in
	return nil
}

func (s *Store) UpdateIntegration(_ context.Context, in integrations.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.integrations[in.ID]; !ok {
		return store.NotFound("integration", in.ID)
	}
	s.integrations[in.ID] = in
	return nil
}

func (s *Store) DeleteIntegration(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.integrations[id]; !ok {
		return store.NotFound("integration", id)
	}
	delete(s.integrations, id)
	delete(s.credentials, id)
	delete(s.records, id)
	return nil
}

func (s *Store) ListActive(_ context.Context) ([]integrations.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []integrations.Integration
	for _, in := range s.integrations {
		if in.Status == integrations.StatusActive || in.Status == integrations.StatusError {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListDue(_ context.Context, now time.Time) ([]integrations.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []integrations.Integration
	for _, in := range s.integrations {
		if in.Status != integrations.StatusActive {
			continue
		}
		if in.NextSyncAt == nil || !in.NextSyncAt.After(now) {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CountIntegrations(_ context.Context) (store.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := store.Counts{
		Total:      len(s.integrations),
		ByStatus:   make(map[integrations.Status]int),
		ByProvider: make(map[string]int),
	}
	for _, in := range s.integrations {
		out.ByStatus[in.Status]++
		out.ByProvider[in.Provider]++
	}
	return out, nil
}

func (s *Store) StoreCredentials(_ context.Context, integrationID string, creds integrations.Credentials) error {
	if err := store.CheckSealed(creds); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if creds.ID == "" {
		if prev, ok := s.credentials[integrationID]; ok {
			creds.ID = prev.ID
		} else {
			creds.ID = uuid.NewString()
		}
	}
	s.credentials[integrationID] = creds.Clone()
	return nil
}

func (s *Store) RetrieveCredentials(_ context.Context, integrationID string) (integrations.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	creds, ok := s.credentials[integrationID]
	if !ok {
		return integrations.Credentials{}, store.NotFound("credentials", integrationID)
	}
	return creds.Clone(), nil
}

func (s *Store) DeleteCredentials(_ context.Context, integrationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, integrationID)
	return nil
}

// HasCredentials reports whether credentials exist for integrationID.
func (s *Store) HasCredentials(integrationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.credentials[integrationID]
	return ok
}

// CredentialCount is the number of stored credential sets.
func (s *Store) CredentialCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.credentials)
}

func (s *Store) AppendLog(_ context.Context, entry integrations.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *Store) ListLogs(_ context.Context, filter store.LogFilter, page integrations.Page) (integrations.Paged[integrations.LogEntry], error) {
	page = page.Normalized()
	matched := s.matchLogs(filter)
	return paginate(matched, page), nil
}

func (s *Store) CountLogs(_ context.Context, filter store.LogFilter) (int, error) {
	return len(s.matchLogs(filter)), nil
}

// matchLogs returns matching entries newest first.
func (s *Store) matchLogs(filter store.LogFilter) []integrations.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []integrations.LogEntry
	for i := len(s.logs) - 1; i >= 0; i-- {
		e := s.logs[i]
		if filter.IntegrationID != "" && e.IntegrationID != filter.IntegrationID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Level != "" && e.Level != filter.Level {
			continue
		}
		if filter.Since != nil && e.CreatedAt.Before(*filter.Since) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (s *Store) UpsertRecord(_ context.Context, integrationID string, rec integrations.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.records[integrationID]
	if !ok {
		byKey = make(map[string]integrations.Record)
		s.records[integrationID] = byKey
	}
	key := rec.Entity + "/" + rec.ExternalID
	_, exists := byKey[key]
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	byKey[key] = rec
	return !exists, nil
}

func (s *Store) ListRecords(_ context.Context, integrationID, entity string, since *time.Time, limit int) ([]integrations.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []integrations.Record
	for _, rec := range s.records[integrationID] {
		if entity != "" && rec.Entity != entity {
			continue
		}
		if since != nil && rec.UpdatedAt.Before(*since) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteRecords(_ context.Context, integrationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, integrationID)
	return nil
}

func paginate[T any](all []T, page integrations.Page) integrations.Paged[T] {
	out := integrations.Paged[T]{Items: []T{}, Total: len(all), Page: page.Page, PageSize: page.PageSize}
	start := page.Offset()
	if start >= len(all) {
		return out
	}
	end := min(start+page.PageSize, len(all))
	out.Items = append(out.Items, all[start:end]...)
	return out
}
