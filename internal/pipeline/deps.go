package pipeline

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"snapflow-core/internal/providers/enhancement"
	"snapflow-core/internal/providers/storage"
)

// Deps bundles everything a stage needs beyond its request payload: the
// provider registries, the HTTP client used for inter-stage and callback
// calls, structured logging, and the two hooks (RunDispatch, Sleep) tests
// override to make the gateway's background dispatch and finalize's
// inter-pass delay deterministic.
type Deps struct {
	StorageFactory     *storage.Factory
	EnhancementFactory *enhancement.Factory
	HTTPClient         *http.Client
	Logger             *zap.Logger

	ProcessFunctionURL  string
	FinalizeFunctionURL string

	// EncryptionKeyFor resolves a tenant id to its Fernet key, normally
	// config.EncryptionKeyFor.
	EncryptionKeyFor func(clientID string) (string, error)

	// RunDispatch executes fn — in production a detached goroutine, in
	// tests a synchronous call so assertions can run after Gateway returns.
	RunDispatch func(fn func())

	// Sleep is finalize's inter-pass delay, time.Sleep in production.
	Sleep func(time.Duration)

	Version string
}

// WithDefaults fills in zero-value fields with their production behaviour.
func (d Deps) WithDefaults() Deps {
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.RunDispatch == nil {
		d.RunDispatch = func(fn func()) { go fn() }
	}
	if d.Sleep == nil {
		d.Sleep = time.Sleep
	}
	if d.Version == "" {
		d.Version = "1.0.0"
	}
	return d
}

// StageResponse carries the statusCode and body every stage invocation
// returns; it has no headers field — cmd/server's handlers translate this
// directly into the HTTP response. Body is usually a map but make_bracket
// returns the bracket list directly as the body, hence the loose type.
type StageResponse struct {
	StatusCode int
	Body       any
}

func jsonResponse(statusCode int, body any) StageResponse {
	return StageResponse{StatusCode: statusCode, Body: body}
}

func errorResponse(statusCode int, errMsg, correlationID, version string) StageResponse {
	return jsonResponse(statusCode, map[string]any{
		"error":          errMsg,
		"correlation_id": correlationID,
		"version":        version,
	})
}
