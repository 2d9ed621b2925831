package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"snapflow-core/internal/filetype"
	"snapflow-core/internal/models"
	"snapflow-core/internal/providers/enhancement"
	"snapflow-core/internal/webhooknotify"
)

const processFunctionName = "process"

// Process downloads each bracket's source files, uploads them to the
// enhancement backend, and submits one enhancement request per bracket —
// then either returns the resulting ticket references directly
// (skip_finalize) or forwards them on to the finalize stage synchronously.
// Grounded on original_source/packages/snapflow/process/__main__.py.
func Process(ctx context.Context, rawEvent map[string]any, deps Deps) StageResponse {
	deps = deps.WithDefaults()
	version := "1.0.0-" + processFunctionName

	data, ok := parseEventData(rawEvent)
	if !ok {
		return errorResponse(http.StatusBadRequest, "invalid request format", "", version)
	}
	correlationID := getString(data, "correlation_id")

	jobID := getString(data, "job_id")
	listingID := getString(data, "listing_id")
	callbackWebhook := getString(data, "callback_webhook")
	if listingID == "" || callbackWebhook == "" {
		return errorResponse(http.StatusBadRequest, "listing_id and callback_webhook are required", correlationID, version)
	}

	var brackets [][]BracketFileRef
	if err := decodeInto(data["brackets_data"], &brackets); err != nil || len(brackets) == 0 {
		return errorResponse(http.StatusBadRequest, "brackets_data is required and must be non-empty", correlationID, version)
	}

	job := models.Job{
		JobID:               jobID,
		ListingID:           listingID,
		ClientID:            getString(data, "client_id"),
		CorrelationID:       correlationID,
		TotalBrackets:       len(brackets),
		SkipFinalize:        getBool(data, "skip_finalize"),
		FilenamePrefix:      getString(data, "filename_prefix"),
		NotificationLevel:   stringOr(data["notification_level"], string(webhooknotify.LevelMinimal)),
		CallbackWebhook:     callbackWebhook,
		StorageProvider:     getString(data, "storage_provider"),
		EnhancementProvider: getString(data, "enhancement_provider"),
	}
	notifier := webhooknotify.NewFromJob(deps.Logger, job, processFunctionName, deps.Version)
	notifier.SendDebug("process_started_detailed", map[string]any{"total_brackets": job.TotalBrackets}, "INFO")

	storageCreds := extractStorageCreds(data, job.StorageProvider)
	storageProvider, err := deps.StorageFactory.Create(ctx, job.StorageProvider, storageCreds)
	if err != nil {
		notifier.SendError(job.StorageProvider+"_connection_failed", err.Error(), nil)
		return errorResponse(http.StatusBadGateway, fmt.Sprintf("storage connection failed: %v", err), correlationID, version)
	}
	notifier.SendDebug(job.StorageProvider+"_connected_success", nil, "INFO")

	enhancementCreds := extractEnhancementCreds(data, job.EnhancementProvider)
	enhancementProvider, err := deps.EnhancementFactory.Create(job.EnhancementProvider, enhancementCreds)
	if err != nil {
		notifier.SendError("enhancement_connection_failed", err.Error(), nil)
		return errorResponse(http.StatusBadGateway, fmt.Sprintf("enhancement connection failed: %v", err), correlationID, version)
	}

	var enhancementRefs []EnhancementRef
	filesProcessed := 0
	filesUploaded := 0
	bracketsProcessed := 0

	uploadOptions := map[string]string{"twilight": fmt.Sprintf("%t", getBool(data, "twilight"))}

	for idx, bracket := range brackets {
		notifier.SendDebug("bracket_processing_started",
			map[string]any{"bracket_index": idx, "file_count": len(bracket)}, "INFO")

		var uploads []enhancement.FileUpload
		for _, ref := range bracket {
			filesProcessed++
			content, err := storageProvider.DownloadFile(ctx, ref.Identifier())
			if err != nil {
				deps.Logger.Warn("process: download failed",
					zap.Int("bracket_index", idx), zap.String("file", ref.Name), zap.Error(err))
				continue
			}
			if sizeErr := filetype.ValidateSize(ref.Name, int64(len(content))); sizeErr != nil {
				notifier.SendDebug("bracket_file_oversize_dropped",
					map[string]any{"bracket_index": idx, "file": ref.Name, "error": sizeErr.Error()}, "WARN")
				continue
			}
			uploads = append(uploads, enhancement.FileUpload{Filename: ref.Name, Data: content})
		}

		if len(uploads) == 0 {
			notifier.SendDebug("bracket_skipped_no_files", map[string]any{"bracket_index": idx}, "WARN")
			continue
		}

		handles, err := uploadBracket(ctx, enhancementProvider, listingID, uploads, uploadOptions)
		if err != nil {
			notifier.SendError("bracket_upload_failed", err.Error(), map[string]any{"bracket_index": idx})
			continue
		}
		filesUploaded += len(handles)

		ticket, err := enhancementProvider.RequestEnhancement(ctx, handles, listingID, map[string]string{"shot_type": "interior"})
		if err != nil {
			notifier.SendError("bracket_processing_error", err.Error(), map[string]any{"bracket_index": idx})
			continue
		}

		notifier.SendDebug("enhancement_request_success",
			map[string]any{"bracket_index": idx, "enhancement_id": ticket.ID}, "INFO")
		enhancementRefs = append(enhancementRefs, EnhancementRef{EnhancementID: ticket.ID, BracketIndex: idx, FileCount: len(handles)})
		bracketsProcessed++
	}

	if len(enhancementRefs) == 0 {
		notifier.SendError("job_failed", "no brackets produced an enhancement request", nil)
		return jsonResponse(http.StatusUnprocessableEntity, map[string]any{
			"status":         string(models.StatusJobFailed),
			"job_id":         jobID,
			"listing_id":     listingID,
			"error":          "no brackets produced an enhancement request",
			"version":        version,
			"correlation_id": correlationID,
		})
	}

	notifier.SendDebug("process_completed_success", map[string]any{
		"brackets_processed": bracketsProcessed,
		"files_uploaded":     filesUploaded,
	}, "INFO")

	if job.SkipFinalize {
		notifier.SendBusiness(string(models.StatusEnhancementRequested), map[string]any{
			"status":             string(models.StatusEnhancementRequested),
			"job_id":             jobID,
			"listing_id":         listingID,
			"total_brackets":     job.TotalBrackets,
			"processed_brackets": bracketsProcessed,
		})
		return jsonResponse(http.StatusOK, map[string]any{
			"status":                string(models.StatusEnhancementRequested),
			"job_id":                jobID,
			"listing_id":            listingID,
			"skip_finalize":         true,
			"enhancement_ids":       enhancementRefs,
			"files_processed":       filesProcessed,
			"files_uploaded":        filesUploaded,
			"brackets_processed":    bracketsProcessed,
			"enhancement_requests":  len(enhancementRefs),
			"version":               version,
			"correlation_id":        correlationID,
		})
	}

	finalizePayload := buildFinalizePayload(data, job, enhancementRefs, deps.Version)
	if err := dispatchFinalizeSync(ctx, deps, finalizePayload); err != nil {
		notifier.SendError("finalize_call_failed", err.Error(), nil)
		deps.Logger.Warn("process: finalize dispatch failed", zap.Error(err))
	}

	return jsonResponse(http.StatusOK, map[string]any{
		"status":                string(models.StatusEnhancementRequested),
		"job_id":                jobID,
		"listing_id":            listingID,
		"files_processed":       filesProcessed,
		"files_uploaded":        filesUploaded,
		"brackets_processed":    bracketsProcessed,
		"enhancement_requests":  len(enhancementRefs),
		"version":               version,
		"correlation_id":        correlationID,
	})
}

// uploadBracket prefers the grouped-upload protocol when the enhancement
// provider supports it (Backend H shares one photoshoot per bracket, and
// options carries the job's twilight flag through to it); otherwise it
// falls back to one UploadImage call per file (Backend F, which has no
// group-level options).
func uploadBracket(ctx context.Context, provider enhancement.Provider, listingID string, uploads []enhancement.FileUpload, options map[string]string) ([]models.UploadHandle, error) {
	if grouper, ok := provider.(enhancement.GroupUploader); ok {
		return grouper.UploadGroup(ctx, listingID, uploads, options)
	}

	handles := make([]models.UploadHandle, 0, len(uploads))
	for _, u := range uploads {
		h, err := provider.UploadImage(ctx, u.Filename, u.Data, filetype.ContentType(u.Filename))
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", u.Filename, err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func extractStorageCreds(data map[string]any, providerType string) map[string]string {
	creds := map[string]string{}
	switch providerType {
	case models.StorageProviderPathAddressed:
		creds[models.FieldDropboxRefreshToken] = getString(data, models.FieldDropboxRefreshToken)
		creds[models.FieldDropboxAppKey] = getString(data, models.FieldDropboxAppKey)
		creds[models.FieldDropboxAppSecret] = getString(data, models.FieldDropboxAppSecret)
		creds[models.FieldDropboxTeamMemberID] = getString(data, models.FieldDropboxTeamMemberID)
	case models.StorageProviderIDAddressed:
		creds[models.FieldGoogleDriveClientID] = getString(data, models.FieldGoogleDriveClientID)
		creds[models.FieldGoogleDriveClientSecret] = getString(data, models.FieldGoogleDriveClientSecret)
		creds[models.FieldGoogleDriveRefreshToken] = getString(data, models.FieldGoogleDriveRefreshToken)
	}
	return creds
}

func extractEnhancementCreds(data map[string]any, providerType string) map[string]string {
	creds := map[string]string{}
	switch providerType {
	case models.EnhancementProviderPoll:
		creds[models.FieldFotelloAPIKey] = getString(data, models.FieldFotelloAPIKey)
	case models.EnhancementProviderWebhook:
		creds[models.FieldAutoHDRAPIKey] = getString(data, models.FieldAutoHDRAPIKey)
		creds[models.FieldAutoHDREmail] = getString(data, models.FieldAutoHDREmail)
		creds["upload_callback_url"] = getString(data, "upload_callback_url")
		creds["status_callback_url"] = getString(data, "status_callback_url")
	}
	return creds
}

// buildFinalizePayload carries forward just the fields finalize needs:
// identity, the destination folder, the same storage credentials (so
// finalize can reconnect independently, matching every stage's
// statelessness), and the bracket -> enhancement ticket mapping.
func buildFinalizePayload(data map[string]any, job models.Job, refs []EnhancementRef, version string) map[string]any {
	payload := map[string]any{
		"job_id":               job.JobID,
		"listing_id":           job.ListingID,
		"client_id":            job.ClientID,
		"callback_webhook":     job.CallbackWebhook,
		"storage_provider":     job.StorageProvider,
		"enhancement_provider": job.EnhancementProvider,
		"enhancement_ids":      refs,
		"total_brackets":       job.TotalBrackets,
		"notification_level":  job.NotificationLevel,
		"filename_prefix":     job.FilenamePrefix,
		"correlation_id":      job.CorrelationID,
		"version":             version,
	}

	switch job.StorageProvider {
	case models.StorageProviderPathAddressed:
		for _, k := range []string{models.FieldDropboxRefreshToken, models.FieldDropboxAppKey,
			models.FieldDropboxAppSecret, models.FieldDropboxTeamMemberID, "dropbox_destination_folder"} {
			payload[k] = data[k]
		}
	case models.StorageProviderIDAddressed:
		for _, k := range []string{models.FieldGoogleDriveClientID, models.FieldGoogleDriveClientSecret,
			models.FieldGoogleDriveRefreshToken, "google_drive_destination_folder_id"} {
			payload[k] = data[k]
		}
	}

	switch job.EnhancementProvider {
	case models.EnhancementProviderPoll:
		payload[models.FieldFotelloAPIKey] = data[models.FieldFotelloAPIKey]
	case models.EnhancementProviderWebhook:
		payload[models.FieldAutoHDRAPIKey] = data[models.FieldAutoHDRAPIKey]
		payload[models.FieldAutoHDREmail] = data[models.FieldAutoHDREmail]
		payload["upload_callback_url"] = data["upload_callback_url"]
		payload["status_callback_url"] = data["status_callback_url"]
	}

	return payload
}

func dispatchFinalizeSync(ctx context.Context, deps Deps, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal finalize payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, deps.FinalizeFunctionURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build finalize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := deps.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("finalize dispatch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("finalize function returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
