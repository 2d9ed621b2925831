package storage

import (
	"context"
	"fmt"
	"strings"

	"snapflow-core/internal/models"
)

// Endpoints configures the hosts the factory wires into a freshly built
// provider. In production these are the real Dropbox/Google Drive hosts;
// tests point them at a local fake server.
type Endpoints struct {
	DropboxTokenURL     string
	DropboxContentURL   string
	DropboxAPIURL       string
	GoogleDriveTokenURL string
	GoogleDriveAPIURL   string
}

// DefaultEndpoints returns the real third-party hosts.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		DropboxTokenURL:     "https://api.dropboxapi.com/oauth2/token",
		DropboxContentURL:   "https://content.dropboxapi.com/2",
		DropboxAPIURL:       "https://api.dropboxapi.com/2",
		GoogleDriveTokenURL: "https://oauth2.googleapis.com/token",
		GoogleDriveAPIURL:   "https://www.googleapis.com/drive/v3",
	}
}

// Factory is the compile-time registry of storage backend constructors,
// keyed by selector string — spec.md §9 calls for "a registry (fixed,
// compile-time if the target supports it)" rather than runtime plugin
// loading. Grounded on StorageFactory in
// original_source/lib/shared/providers/storage/factory.go.
type Factory struct {
	endpoints Endpoints
}

func NewFactory(endpoints Endpoints) *Factory {
	return &Factory{endpoints: endpoints}
}

// Create instantiates and connects the named provider. auto-connect is
// always on here — no SPEC_FULL.md caller needs an unconnected provider.
func (f *Factory) Create(ctx context.Context, providerType string, credentials map[string]string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(providerType)) {
	case models.StorageProviderPathAddressed:
		p := NewPathStore(f.endpoints.DropboxTokenURL, f.endpoints.DropboxContentURL, f.endpoints.DropboxAPIURL)
		if err := p.Connect(ctx, credentials); err != nil {
			return nil, err
		}
		return p, nil
	case models.StorageProviderIDAddressed:
		p := NewIDStore(f.endpoints.GoogleDriveTokenURL, f.endpoints.GoogleDriveAPIURL)
		if err := p.Connect(ctx, credentials); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("storage: unknown provider %q (supported: %s, %s)",
			providerType, models.StorageProviderPathAddressed, models.StorageProviderIDAddressed)
	}
}

// DetectProviderType inspects a gateway payload for an explicit
// storage_provider selector, falling back to detecting legacy per-provider
// encrypted fields — mirrors the gateway's _detect_providers.
func DetectProviderType(payload map[string]any) (string, bool) {
	if explicit, ok := payload["storage_provider"].(string); ok && explicit != "" {
		return explicit, true
	}
	if _, ok := payload[models.FieldDropboxRefreshToken+"_encrypted"]; ok {
		return models.StorageProviderPathAddressed, true
	}
	if _, ok := payload[models.FieldGoogleDriveRefreshToken+"_encrypted"]; ok {
		return models.StorageProviderIDAddressed, true
	}
	return "", false
}
