package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"snapflow-core/internal/credentials"
	"snapflow-core/internal/models"
	"snapflow-core/internal/providers/enhancement"
	"snapflow-core/internal/providers/storage"
	"snapflow-core/internal/webhooknotify"
)

const gatewayFunctionName = "gateway"

var gatewayValidator = validator.New()

// gatewayRequiredFields is the struct-tag half of the gateway's validation:
// the fields that are unconditionally required regardless of which storage
// or enhancement provider the request selects. Provider-conditional
// credential presence (at least one storage backend, at least one
// enhancement backend) can't be expressed as static tags since it depends on which
// dynamic keys are present, so that half stays in validateGatewayFields.
type gatewayRequiredFields struct {
	ClientID        string `validate:"required"`
	ListingID       string `validate:"required"`
	CallbackWebhook string `validate:"required,url"`
	BracketsData    any    `validate:"required"`
}

// Gateway validates an inbound ingest request, decrypts and selects its
// storage/enhancement providers, then dispatches the resulting process
// payload as a detached background call before acknowledging with a 202.
// Grounded on original_source/packages/snapflow/gateway/__main__.py.
func Gateway(ctx context.Context, rawEvent map[string]any, deps Deps) StageResponse {
	deps = deps.WithDefaults()
	correlationID := uuid.NewString()
	version := "1.0.0-" + gatewayFunctionName

	data, ok := parseEventData(rawEvent)
	if !ok {
		return errorResponse(http.StatusBadRequest, "invalid request format", correlationID, version)
	}
	flatView := flattenCredentialEnvelope(data)

	clientID := getString(flatView, "client_id")
	if clientID == "" {
		return errorResponse(http.StatusBadRequest, "client_id is required", correlationID, version)
	}

	if missing := validateGatewayFields(flatView); len(missing) > 0 {
		return errorResponse(http.StatusBadRequest,
			fmt.Sprintf("missing required fields: %v", missing), correlationID, version)
	}

	storageProviderType, storageOK := storage.DetectProviderType(flatView)
	enhancementProviderType, enhancementOK := enhancement.DetectProviderType(flatView)
	if !storageOK {
		return errorResponse(http.StatusBadRequest, "unable to determine storage provider", correlationID, version)
	}
	if !enhancementOK {
		return errorResponse(http.StatusBadRequest, "unable to determine enhancement provider", correlationID, version)
	}

	encryptionKey, err := deps.EncryptionKeyFor(clientID)
	if err != nil {
		deps.Logger.Warn("gateway: no encryption key", zap.String("client_id", clientID), zap.Error(err))
		return errorResponse(http.StatusBadRequest, fmt.Sprintf("credential setup error: %v", err), correlationID, version)
	}

	decrypted, err := credentials.DecryptEnvelope(data, encryptionKey)
	if err != nil {
		deps.Logger.Warn("gateway: credential decryption failed", zap.String("client_id", clientID), zap.Error(err))
		return errorResponse(http.StatusBadRequest, fmt.Sprintf("credential decryption failed: %v", err), correlationID, version)
	}

	storageCreds := credentials.FlatFields(decrypted, "storage_credentials")
	enhancementCreds := credentials.FlatFields(decrypted, "enhancement_credentials")
	if storageProviderType == models.StorageProviderPathAddressed && len(storageCreds[models.FieldDropboxAppKey]) < 10 {
		return errorResponse(http.StatusBadRequest, "decrypted dropbox_app_key looks malformed", correlationID, version)
	}

	jobID := uuid.NewString()

	// brackets_data is [][]file_reference: count groups and total files from
	// the raw nested-array shape.
	totalBrackets := 0
	totalFiles := 0
	if raw, ok := flatView["brackets_data"].([]any); ok {
		totalBrackets = len(raw)
		for _, group := range raw {
			if members, ok := group.([]any); ok {
				totalFiles += len(members)
			}
		}
	}

	job := models.Job{
		JobID:               jobID,
		ListingID:           getString(flatView, "listing_id"),
		ClientID:            clientID,
		CorrelationID:       correlationID,
		TotalBrackets:       totalBrackets,
		SkipFinalize:        getBool(flatView, "skip_finalize"),
		FilenamePrefix:      sanitizeFilenamePrefix(getString(flatView, "filename_prefix")),
		NotificationLevel:   stringOr(flatView["notification_level"], string(webhooknotify.LevelMinimal)),
		CallbackWebhook:     getString(flatView, "callback_webhook"),
		StorageProvider:     storageProviderType,
		EnhancementProvider: enhancementProviderType,
	}

	processPayload := buildProcessPayload(flatView, storageCreds, enhancementCreds, job, storageProviderType, enhancementProviderType, deps.Version)

	deps.RunDispatch(func() {
		dispatchProcess(deps, processPayload, job)
	})

	receivedAt := time.Now().UTC().Format(time.RFC3339)
	return jsonResponse(http.StatusAccepted, map[string]any{
		"status":               "dispatched",
		"job_id":               jobID,
		"client_id":            clientID,
		"listing_id":           job.ListingID,
		"storage_provider":     storageProviderType,
		"enhancement_provider": enhancementProviderType,
		"total_brackets":       totalBrackets,
		"total_files":          totalFiles,
		"skip_finalize":        job.SkipFinalize,
		"received_at":          receivedAt,
		"version":              version,
		"correlation_id":       correlationID,
	})
}

// validateGatewayFields checks the required-field set spec.md §6 lists for
// the gateway request: identity, destination, storage credentials for one
// backend, enhancement credentials for one backend.
func validateGatewayFields(data map[string]any) []string {
	var missing []string

	fixed := gatewayRequiredFields{
		ClientID:        getString(data, "client_id"),
		ListingID:       getString(data, "listing_id"),
		CallbackWebhook: getString(data, "callback_webhook"),
		BracketsData:    data["brackets_data"],
	}
	if !truthy(data["brackets_data"]) {
		fixed.BracketsData = nil
	}
	if err := gatewayValidator.Struct(fixed); err != nil {
		for _, fe := range err.(validator.ValidationErrors) {
			missing = append(missing, gatewayFieldName(fe.Field()))
		}
	}

	hasDropbox := truthy(data[models.FieldDropboxRefreshToken+"_encrypted"])
	hasGoogleDrive := truthy(data[models.FieldGoogleDriveRefreshToken+"_encrypted"])
	if !hasDropbox && !hasGoogleDrive {
		if !truthy(data["storage_provider"]) {
			missing = append(missing, "storage_credentials")
		}
	}

	hasFotello := truthy(data[models.FieldFotelloAPIKey+"_encrypted"])
	hasAutoHDR := truthy(data[models.FieldAutoHDRAPIKey+"_encrypted"])
	if !hasFotello && !hasAutoHDR {
		if !truthy(data["enhancement_provider"]) {
			missing = append(missing, "enhancement_credentials")
		}
	}

	if !truthy(data["dropbox_destination_folder"]) && !truthy(data["google_drive_destination_folder_id"]) {
		missing = append(missing, "destination_folder")
	}

	return missing
}

// gatewayFieldName maps a gatewayRequiredFields struct field name back to
// the event's wire-format key for the missing-fields error message.
func gatewayFieldName(structField string) string {
	switch structField {
	case "ClientID":
		return "client_id"
	case "ListingID":
		return "listing_id"
	case "CallbackWebhook":
		return "callback_webhook"
	case "BracketsData":
		return "brackets_data"
	default:
		return structField
	}
}

// buildProcessPayload assembles the payload the gateway dispatches to the
// process stage: job identity plus exactly the decrypted credential fields
// the selected providers need, never the full decrypted envelope.
func buildProcessPayload(data map[string]any, storageCreds, enhancementCreds map[string]string, job models.Job, storageProviderType, enhancementProviderType, version string) map[string]any {
	payload := map[string]any{
		"job_id":               job.JobID,
		"client_id":            job.ClientID,
		"listing_id":           job.ListingID,
		"storage_provider":     storageProviderType,
		"enhancement_provider": enhancementProviderType,
		"brackets_data":        data["brackets_data"],
		"callback_webhook":     job.CallbackWebhook,
		"notification_level":   job.NotificationLevel,
		"filename_prefix":      job.FilenamePrefix,
		"skip_finalize":        job.SkipFinalize,
		"twilight":             getBool(data, "twilight"),
		"correlation_id":       job.CorrelationID,
		"version":              version,
	}

	switch storageProviderType {
	case models.StorageProviderPathAddressed:
		payload[models.FieldDropboxRefreshToken] = storageCreds[models.FieldDropboxRefreshToken]
		payload[models.FieldDropboxAppKey] = storageCreds[models.FieldDropboxAppKey]
		payload[models.FieldDropboxAppSecret] = storageCreds[models.FieldDropboxAppSecret]
		payload["dropbox_destination_folder"] = data["dropbox_destination_folder"]
		payload[models.FieldDropboxTeamMemberID] = data[models.FieldDropboxTeamMemberID]
	case models.StorageProviderIDAddressed:
		payload[models.FieldGoogleDriveClientID] = storageCreds[models.FieldGoogleDriveClientID]
		payload[models.FieldGoogleDriveClientSecret] = storageCreds[models.FieldGoogleDriveClientSecret]
		payload[models.FieldGoogleDriveRefreshToken] = storageCreds[models.FieldGoogleDriveRefreshToken]
		payload["google_drive_destination_folder_id"] = data["google_drive_destination_folder_id"]
	}

	switch enhancementProviderType {
	case models.EnhancementProviderPoll:
		payload[models.FieldFotelloAPIKey] = enhancementCreds[models.FieldFotelloAPIKey]
	case models.EnhancementProviderWebhook:
		payload[models.FieldAutoHDRAPIKey] = enhancementCreds[models.FieldAutoHDRAPIKey]
		payload[models.FieldAutoHDREmail] = stringOr(data[models.FieldAutoHDREmail], enhancementCreds[models.FieldAutoHDREmail])
		// No separate inbound webhook receiver is in scope (spec.md
		// Non-goals) so Backend H's two webhook URLs both fall back to the
		// job's own callback_webhook.
		payload["upload_callback_url"] = job.CallbackWebhook
		payload["status_callback_url"] = job.CallbackWebhook
	}

	return payload
}

// dispatchProcess POSTs payload to the process function URL from a detached
// goroutine; any failure is reported through the webhook notifier rather
// than returned, since the caller already received its 202 acknowledgment.
func dispatchProcess(deps Deps, payload map[string]any, job models.Job) {
	notifier := webhooknotify.NewFromJob(deps.Logger, job, gatewayFunctionName, deps.Version)

	body, err := json.Marshal(payload)
	if err != nil {
		notifier.SendError("dispatch_failed", fmt.Sprintf("failed to marshal process payload: %v", err), nil)
		return
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, deps.ProcessFunctionURL, bytes.NewReader(body))
	if err != nil {
		notifier.SendError("dispatch_failed", fmt.Sprintf("failed to build process request: %v", err), nil)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := deps.HTTPClient.Do(req)
	if err != nil {
		notifier.SendError("dispatch_failed", fmt.Sprintf("process dispatch request failed: %v", err), nil)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		notifier.SendError("dispatch_failed",
			fmt.Sprintf("process function returned status %d: %s", resp.StatusCode, string(respBody)), nil)
		return
	}

	deps.Logger.Debug("gateway: dispatched process", zap.String("job_id", job.JobID))
}
