package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"golang.org/x/mod/semver"
)

// Registry maps provider identifiers to adapter instances.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]integrations.Adapter
	order    []string // Registration order
	logger   *slog.Logger
}

// New creates an empty registry. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		adapters: make(map[string]integrations.Adapter),
		order:    make([]string, 0),
		logger:   logger,
	}
}

// NormalizeProvider is the canonical form of a provider key.
func NormalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// Register adds a, replacing any adapter already registered for the same provider.
func (r *Registry) Register(a integrations.Adapter) error {
	if a == nil {
		return errors.New("adapter cannot be nil")
	}
	provider := NormalizeProvider(a.Descriptor().Provider)
	if provider == "" {
		return errors.New("adapter provider cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[provider]; exists {
		r.logger.Warn("adapter replaced", "provider", provider, "version", a.Descriptor().Version)
	} else {
		r.order = append(r.order, provider)
	}
	r.adapters[provider] = a
	return nil
}

// Unregister removes the adapter for provider and reports whether one was removed.
func (r *Registry) Unregister(provider string) bool {
	provider = NormalizeProvider(provider)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[provider]; !ok {
		return false
	}
	delete(r.adapters, provider)
	r.order = slices.DeleteFunc(r.order, func(p string) bool { return p == provider })
	return true
}

// Get returns the adapter for provider, if any.
func (r *Registry) Get(provider string) (integrations.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[NormalizeProvider(provider)]
	return a, ok
}

// IsSupported reports whether provider has a registered adapter.
func (r *Registry) IsSupported(provider string) bool {
	_, ok := r.Get(provider)
	return ok
}

// Providers returns registered provider identifiers in registration order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// All returns registered adapters in registration order.
func (r *Registry) All() []integrations.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]integrations.Adapter, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, r.adapters[p])
	}
	return out
}

// ByFeature returns adapters declaring f.
func (r *Registry) ByFeature(f integrations.Feature) []integrations.Adapter {
	var out []integrations.Adapter
	for _, a := range r.All() {
		if slices.Contains(a.Features(), f) {
			out = append(out, a)
		}
	}
	return out
}

// InvalidAdapter names an adapter that failed the structural self-check.
type InvalidAdapter struct {
	Provider string `json:"provider"`
	Error    string `json:"error"`
}

// Validation is the outcome of ValidateAdapters.
type Validation struct {
	Valid   []string         `json:"valid"`
	Invalid []InvalidAdapter `json:"invalid"`
}

// ValidateAdapters checks every registered adapter for a complete descriptor and for
// declared features that match the optional interfaces it implements.
func (r *Registry) ValidateAdapters() Validation {
	out := Validation{Valid: []string{}, Invalid: []InvalidAdapter{}}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, provider := range r.order {
		if err := checkAdapter(r.adapters[provider]); err != nil {
			out.Invalid = append(out.Invalid, InvalidAdapter{Provider: provider, Error: err.Error()})
			continue
		}
		out.Valid = append(out.Valid, provider)
	}
	return out
}

func checkAdapter(a integrations.Adapter) (err error) {
	if a == nil {
		return errors.New("adapter is nil")
	}
	// A typed-nil adapter panics on the first method call.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("adapter panicked during validation: %v", rec)
		}
	}()

	d := a.Descriptor()
	var problems []string
	if strings.TrimSpace(d.Provider) == "" {
		problems = append(problems, "provider is empty")
	}
	if strings.TrimSpace(d.Name) == "" {
		problems = append(problems, "name is empty")
	}
	if v := strings.TrimSpace(d.Version); v == "" {
		problems = append(problems, "version is empty")
	} else if !semver.IsValid("v" + strings.TrimPrefix(v, "v")) {
		problems = append(problems, fmt.Sprintf("version %q is not a semantic version", v))
	}
	for _, f := range a.Features() {
		if !f.Valid() {
			problems = append(problems, fmt.Sprintf("unknown feature %q", f))
		}
	}
	if slices.Contains(a.Features(), integrations.FeatureWebhookSupport) {
		if _, ok := a.(integrations.WebhookHandler); !ok {
			problems = append(problems, "declares webhook-support without a webhook handler")
		}
	}
	for _, cred := range a.RequiredCredentials() {
		if strings.TrimSpace(cred.Key) == "" {
			problems = append(problems, "credential requirement with empty key")
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Stats is a diagnostic snapshot of the registry.
type Stats struct {
	TotalAdapters int                                  `json:"total_adapters"`
	Providers     []string                             `json:"providers"`
	FeatureCounts map[integrations.Feature]int         `json:"feature_counts"`
	Features      map[string][]integrations.Feature    `json:"features"`
	Capabilities  map[string][]integrations.Capability `json:"capabilities"`
	Descriptors   map[string]integrations.Descriptor   `json:"descriptors"`
}

// Stats returns aggregate counts, the feature set of every provider and its descriptor.
func (r *Registry) Stats() Stats {
	adapters := r.All()
	out := Stats{
		TotalAdapters: len(adapters),
		Providers:     r.Providers(),
		FeatureCounts: make(map[integrations.Feature]int),
		Features:      make(map[string][]integrations.Feature, len(adapters)),
		Capabilities:  make(map[string][]integrations.Capability, len(adapters)),
		Descriptors:   make(map[string]integrations.Descriptor, len(adapters)),
	}
	for _, a := range adapters {
		d := a.Descriptor()
		provider := NormalizeProvider(d.Provider)
		features := slices.Clone(a.Features())
		slices.Sort(features)
		features = slices.Compact(features)
		for _, f := range features {
			out.FeatureCounts[f]++
		}
		out.Features[provider] = features
		out.Capabilities[provider] = integrations.Capabilities(a)
		out.Descriptors[provider] = d
	}
	return out
}
