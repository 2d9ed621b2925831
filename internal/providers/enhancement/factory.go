package enhancement

import (
	"fmt"
	"strings"

	"snapflow-core/internal/models"
)

// Endpoints configures the hosts the factory wires into a freshly built
// provider, mirroring storage.Endpoints.
type Endpoints struct {
	FotelloUploadURL  string
	FotelloEnhanceURL string
	FotelloStatusURL  string

	AutoHDRCreateURL   string
	AutoHDRFinalizeURL string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		FotelloUploadURL:   "https://api.fotello.com/v1/uploads",
		FotelloEnhanceURL:  "https://api.fotello.com/v1/enhance",
		FotelloStatusURL:   "https://api.fotello.com/v1/enhance",
		AutoHDRCreateURL:   "https://quantumreachadvertising.com/external-api/v1/create-photoshoot-with-presigned-urls",
		AutoHDRFinalizeURL: "https://quantumreachadvertising.com/external-api/v1/finalize-photoshoot-upload",
	}
}

// Factory is the compile-time registry of enhancement backend constructors,
// keyed by selector string, mirroring storage.Factory.
type Factory struct {
	endpoints Endpoints
}

func NewFactory(endpoints Endpoints) *Factory {
	return &Factory{endpoints: endpoints}
}

// Create instantiates the named provider from decrypted credential fields.
// Unlike storage, neither backend requires a network round trip to connect —
// Fotello validates lazily on first call, AutoHDR's "connect" would be an
// optional profile probe this pipeline doesn't need.
func (f *Factory) Create(providerType string, credentials map[string]string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(providerType)) {
	case models.EnhancementProviderPoll:
		apiKey := credentials[models.FieldFotelloAPIKey]
		if apiKey == "" {
			return nil, fmt.Errorf("enhancement: missing %s", models.FieldFotelloAPIKey)
		}
		return NewPollProvider(f.endpoints.FotelloUploadURL, f.endpoints.FotelloEnhanceURL, f.endpoints.FotelloStatusURL, apiKey), nil
	case models.EnhancementProviderWebhook:
		apiKey := credentials[models.FieldAutoHDRAPIKey]
		if apiKey == "" {
			return nil, fmt.Errorf("enhancement: missing %s", models.FieldAutoHDRAPIKey)
		}
		email := credentials[models.FieldAutoHDREmail]
		if email == "" {
			return nil, fmt.Errorf("enhancement: missing %s", models.FieldAutoHDREmail)
		}
		uploadWebhook := credentials["upload_callback_url"]
		statusWebhook := credentials["status_callback_url"]
		return NewWebhookProvider(f.endpoints.AutoHDRCreateURL, f.endpoints.AutoHDRFinalizeURL, email, apiKey, uploadWebhook, statusWebhook), nil
	default:
		return nil, fmt.Errorf("enhancement: unknown provider %q (supported: %s, %s)",
			providerType, models.EnhancementProviderPoll, models.EnhancementProviderWebhook)
	}
}

// DetectProviderType inspects a gateway payload for an explicit
// enhancement_provider selector, falling back to legacy encrypted-field
// presence.
func DetectProviderType(payload map[string]any) (string, bool) {
	if explicit, ok := payload["enhancement_provider"].(string); ok && explicit != "" {
		return explicit, true
	}
	if _, ok := payload[models.FieldFotelloAPIKey+"_encrypted"]; ok {
		return models.EnhancementProviderPoll, true
	}
	if _, ok := payload[models.FieldAutoHDRAPIKey+"_encrypted"]; ok {
		return models.EnhancementProviderWebhook, true
	}
	return "", false
}
