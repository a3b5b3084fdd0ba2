package credentials

import (
	"context"

	"github.com/lexdesk/lexdesk/internal/integrations"
)

// AdapterLookup resolves a provider to its adapter.
type AdapterLookup interface {
	Get(provider string) (integrations.Adapter, bool)
}

// RegistryBackend validates through Adapter.Authenticate and refreshes through TokenRefresher.
type RegistryBackend struct {
	Adapters AdapterLookup
}

func (b RegistryBackend) Validate(ctx context.Context, provider string, conn integrations.Connection) integrations.AuthResult {
	a, ok := b.Adapters.Get(provider)
	if !ok {
		return integrations.AuthFailure("%v: %s", integrations.ErrUnsupportedProvider, provider)
	}
	return a.Authenticate(ctx, conn)
}

func (b RegistryBackend) Refresh(ctx context.Context, provider string, conn integrations.Connection) integrations.AuthResult {
	a, ok := b.Adapters.Get(provider)
	if !ok {
		return integrations.AuthFailure("%v: %s", integrations.ErrUnsupportedProvider, provider)
	}
	r, ok := a.(integrations.TokenRefresher)
	if !ok {
		return integrations.AuthFailure("%v: %s cannot refresh tokens", integrations.ErrCapabilityNotSupported, provider)
	}
	return r.RefreshToken(ctx, conn)
}
