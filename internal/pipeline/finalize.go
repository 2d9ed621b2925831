package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"snapflow-core/internal/models"
	"snapflow-core/internal/providers/enhancement"
	"snapflow-core/internal/providers/storage"
	"snapflow-core/internal/webhooknotify"
)

const (
	finalizeFunctionName = "finalize"
	finalizeMaxRetries   = 3
	finalizeRetryDelay   = 180 * time.Second
)

// Finalize polls every bracket's enhancement ticket until it completes,
// fails, or the retry budget (finalizeMaxRetries extra passes, sleeping
// finalizeRetryDelay before each) is exhausted, uploading each completed
// result back to the source storage backend. Grounded on
// original_source/packages/snapflow/finalize/__main__.py.
func Finalize(ctx context.Context, rawEvent map[string]any, deps Deps) StageResponse {
	deps = deps.WithDefaults()
	version := "1.0.0-" + finalizeFunctionName

	data, ok := parseEventData(rawEvent)
	if !ok {
		return errorResponse(http.StatusBadRequest, "invalid request format", "", version)
	}
	correlationID := getString(data, "correlation_id")

	listingID := getString(data, "listing_id")
	callbackWebhook := getString(data, "callback_webhook")
	if listingID == "" || callbackWebhook == "" || data["enhancement_ids"] == nil {
		return errorResponse(http.StatusBadRequest,
			"listing_id, enhancement_ids and callback_webhook are required", correlationID, version)
	}

	refs, err := normalizeEnhancementIDs(data["enhancement_ids"])
	if err != nil || len(refs) == 0 {
		return errorResponse(http.StatusBadRequest, "enhancement_ids must be non-empty", correlationID, version)
	}

	job := models.Job{
		JobID:               getString(data, "job_id"),
		ListingID:           listingID,
		ClientID:            getString(data, "client_id"),
		CorrelationID:       correlationID,
		TotalBrackets:       intOr(data["total_brackets"], len(refs)),
		FilenamePrefix:      getString(data, "filename_prefix"),
		NotificationLevel:   stringOr(data["notification_level"], string(webhooknotify.LevelMinimal)),
		CallbackWebhook:     callbackWebhook,
		StorageProvider:     getString(data, "storage_provider"),
		EnhancementProvider: getString(data, "enhancement_provider"),
	}
	notifier := webhooknotify.NewFromJob(deps.Logger, job, finalizeFunctionName, deps.Version)
	notifier.SendDebug("finalize_processing_started", map[string]any{"total_enhancements": len(refs)}, "INFO")
	notifier.SendBusiness(string(models.StatusJobStarted), map[string]any{
		"status":         string(models.StatusJobStarted),
		"job_id":         job.JobID,
		"listing_id":     job.ListingID,
		"total_brackets": job.TotalBrackets,
	})

	storageCreds := extractStorageCreds(data, job.StorageProvider)
	storageProvider, err := deps.StorageFactory.Create(ctx, job.StorageProvider, storageCreds)
	if err != nil {
		notifier.SendError(job.StorageProvider+"_connection_failed", err.Error(), nil)
		return errorResponse(http.StatusBadGateway, fmt.Sprintf("storage connection failed: %v", err), correlationID, version)
	}

	enhancementCreds := extractEnhancementCreds(data, job.EnhancementProvider)
	enhancementProvider, err := deps.EnhancementFactory.Create(job.EnhancementProvider, enhancementCreds)
	if err != nil {
		notifier.SendError("enhancement_connection_failed", err.Error(), nil)
		return errorResponse(http.StatusBadGateway, fmt.Sprintf("enhancement connection failed: %v", err), correlationID, version)
	}

	destinationFolder := getString(data, "dropbox_destination_folder")
	if destinationFolder == "" {
		destinationFolder = getString(data, "google_drive_destination_folder_id")
	}

	var enhancedImages []models.EnhancedImage
	var failedBrackets []models.FailedBracket

	pending := refs
	retryCount := 0
	for len(pending) > 0 && retryCount <= finalizeMaxRetries {
		if retryCount > 0 {
			notifier.SendDebug("retry_attempt", map[string]any{"retry_count": retryCount, "pending": len(pending)}, "INFO")
			deps.Sleep(finalizeRetryDelay)
		}

		var stillPending []EnhancementRef
		for _, ref := range pending {
			ticket := models.EnhancementTicket{ID: ref.EnhancementID, BracketIndex: ref.BracketIndex}
			status, err := enhancementProvider.CheckStatus(ctx, ticket)
			notifier.SendDebug("status_checked",
				map[string]any{"bracket_index": ref.BracketIndex, "state": string(status.State)}, "INFO")
			if err != nil {
				stillPending = append(stillPending, ref)
				continue
			}

			switch status.State {
			case models.EnhancementCompleted:
				img, err := finalizeCompletedBracket(ctx, deps, storageProvider, enhancementProvider, ticket, status,
					job, destinationFolder)
				if err != nil {
					failedBrackets = append(failedBrackets, models.FailedBracket{BracketIndex: ref.BracketIndex, Error: err.Error()})
					continue
				}
				enhancedImages = append(enhancedImages, img)
			case models.EnhancementFailed:
				failedBrackets = append(failedBrackets, models.FailedBracket{BracketIndex: ref.BracketIndex, Error: status.Error})
			case models.EnhancementWebhookOnly:
				// Backend H never resolves through CheckStatus — delivery
				// happens out-of-band via the status webhook — so this
				// ticket is recorded immediately, the same pass it is seen,
				// rather than burning a retry pass waiting for a poll
				// result that will never arrive.
				notifier.SendDebug("webhook_delivery_pending",
					map[string]any{"bracket_index": ref.BracketIndex}, "INFO")
				failedBrackets = append(failedBrackets, models.FailedBracket{
					BracketIndex: ref.BracketIndex,
					Error:        "webhook-based delivery: result arrives out-of-band via the status webhook, not a poll",
				})
			default:
				// pending, in-progress, unknown.
				stillPending = append(stillPending, ref)
			}
		}
		pending = stillPending
		retryCount++
	}

	for _, ref := range pending {
		failedBrackets = append(failedBrackets, models.FailedBracket{
			BracketIndex: ref.BracketIndex,
			Error:        "timed out waiting for enhancement completion",
		})
	}

	resultStatus := models.StatusJobCompleted
	switch {
	case len(enhancedImages) == 0:
		resultStatus = models.StatusJobFailed
	case len(failedBrackets) > 0:
		resultStatus = models.StatusJobPartialSuccess
	}

	result := models.JobResult{
		Status:                 resultStatus,
		JobID:                  job.JobID,
		ListingID:              job.ListingID,
		TotalBrackets:          job.TotalBrackets,
		ProcessedBrackets:      len(enhancedImages) + len(failedBrackets),
		SuccessfulEnhancements: len(enhancedImages),
		FailedEnhancements:     len(failedBrackets),
		EnhancedImages:         enhancedImages,
		FailedBrackets:         failedBrackets,
		RetryAttempts:          retryCount,
		Timestamp:              time.Now().UTC(),
		Source:                 finalizeFunctionName + "_function",
		Version:                deps.Version,
		CorrelationID:          correlationID,
	}
	notifier.SendJobResult(result)

	imagePaths := make([]string, len(enhancedImages))
	for i, img := range enhancedImages {
		imagePaths[i] = img.StoragePath
	}

	return jsonResponse(http.StatusOK, map[string]any{
		"message":            "finalize processing complete",
		"job_id":             job.JobID,
		"listing_id":         job.ListingID,
		"status":             string(resultStatus),
		"total_enhancements": len(refs),
		"successful_uploads": len(enhancedImages),
		"failed_uploads":     len(failedBrackets),
		"enhanced_images":    imagePaths,
		"version":            version,
		"retry_attempts":     retryCount,
		"correlation_id":     correlationID,
	})
}

// finalizeCompletedBracket downloads a completed ticket's result and
// uploads it back to the source storage backend under a name derived from
// the bracket index and the job's sanitized filename prefix (or, absent
// one, the listing id).
func finalizeCompletedBracket(
	ctx context.Context,
	deps Deps,
	storageProvider storage.Provider,
	enhancementProvider enhancement.Provider,
	ticket models.EnhancementTicket,
	status models.EnhancementStatus,
	job models.Job,
	destinationFolder string,
) (models.EnhancedImage, error) {
	resultURL := status.ResultURL
	if resultURL == "" {
		u, err := enhancementProvider.GetResultURL(ctx, ticket)
		if err != nil {
			return models.EnhancedImage{}, fmt.Errorf("resolve result url: %w", err)
		}
		resultURL = u
	}

	content, err := downloadResult(ctx, deps.HTTPClient, resultURL)
	if err != nil {
		return models.EnhancedImage{}, fmt.Errorf("download result: %w", err)
	}

	filename := buildResultFilename(ticket.BracketIndex, job.FilenamePrefix, job.ListingID)
	destination := joinDestination(job.StorageProvider, destinationFolder, filename)
	if err := storageProvider.UploadFile(ctx, destination, content, true); err != nil {
		return models.EnhancedImage{}, fmt.Errorf("upload result: %w", err)
	}

	return models.EnhancedImage{
		BracketIndex: ticket.BracketIndex,
		StoragePath:  destination,
		FileSizeMB:   float64(len(content)) / (1024 * 1024),
	}, nil
}

func downloadResult(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 300*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func buildResultFilename(bracketIndex int, prefix, listingID string) string {
	base := sanitizeFilenamePrefix(prefix)
	if base == "" {
		base = sanitizeFilenamePrefix(listingID)
	}
	if base == "" {
		base = "listing"
	}
	return fmt.Sprintf("%d_%s.jpg", bracketIndex+1, base)
}

// joinDestination builds the upload path for the enhanced result: a single
// NormalizePath pass for Backend A, a plain "folder_id/filename" join for
// Backend B (its UploadFile splits on the last slash itself).
func joinDestination(providerType, folder, filename string) string {
	if providerType == models.StorageProviderPathAddressed {
		return storage.JoinDestination(folder, filename)
	}
	return strings.TrimSuffix(folder, "/") + "/" + filename
}

// normalizeEnhancementIDs accepts either the {enhancement_id, bracket_index}
// object shape process produces, or a flat list of ticket id strings (the
// shape a caller doing delayed, direct retrieval might send), assigning
// sequential bracket indices in the latter case.
func normalizeEnhancementIDs(raw any) ([]EnhancementRef, error) {
	var refs []EnhancementRef
	if err := decodeInto(raw, &refs); err == nil {
		complete := len(refs) > 0
		for _, r := range refs {
			if r.EnhancementID == "" {
				complete = false
				break
			}
		}
		if complete {
			return refs, nil
		}
	}

	var flat []string
	if err := decodeInto(raw, &flat); err != nil || len(flat) == 0 {
		return nil, fmt.Errorf("pipeline: enhancement_ids must be a non-empty list of ids or ticket objects")
	}
	refs = make([]EnhancementRef, len(flat))
	for i, id := range flat {
		refs[i] = EnhancementRef{EnhancementID: id, BracketIndex: i}
	}
	return refs, nil
}
