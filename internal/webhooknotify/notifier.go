// Package webhooknotify sends job-progress and job-result notifications to
// a caller-supplied callback webhook, filtered by verbosity level
// (spec.md §4.6). Grounded on
// original_source/lib/shared/notifications/webhook_notifier.py, with the
// outbound POST built in the style of internal/supabase/realtime.go's
// PublishEvent (swallow errors, log, never fail the caller).
package webhooknotify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"snapflow-core/internal/models"
)

// Level is the notification verbosity level.
type Level string

const (
	LevelErrorsOnly Level = "errors_only"
	LevelMinimal    Level = "minimal"
	LevelStandard   Level = "standard"
	LevelVerbose    Level = "verbose"
)

// criticalNotifications are always sent regardless of level.
var criticalNotifications = map[string]bool{
	"job_failed": true, "job_completed": true, "job_partial_success": true, "job_started": true,
	"dispatch_failed": true, "process_completed_success": true, "finalize_processing_started": true,
	"dropbox_connection_failed": true, "enhancement_request_success": true,
	"google_drive_connection_failed": true,
}

// minimalAllowed are the only non-critical, non-ERROR notifications sent at
// LevelMinimal.
var minimalAllowed = map[string]bool{
	"process_started_detailed": true, "dropbox_connected_success": true,
	"google_drive_connected_success": true,
	"bracket_processing_started":     true, "process_completed_success": true,
}

// verboseOnly are suppressed at LevelStandard and below.
var verboseOnly = map[string]bool{
	"status_checked": true, "upload_attempt_details": true, "upload_result_details": true,
	"dropbox_token_refresh_attempt": true, "finalize_call_attempt": true, "retry_attempt": true,
}

// Notifier posts job progress and results to a single callback webhook.
type Notifier struct {
	httpClient      *http.Client
	logger          *zap.Logger
	callbackWebhook string
	jobID           string
	listingID       string
	correlationID   string
	functionName    string
	version         string
	level           Level
}

// New builds a Notifier. An unrecognized level string falls back to
// LevelMinimal, mirroring the source's permissive NotificationLevel parse.
func New(logger *zap.Logger, callbackWebhook, jobID, listingID, correlationID, functionName, version, level string) *Notifier {
	n := &Notifier{
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		logger:          logger,
		callbackWebhook: callbackWebhook,
		jobID:           jobID,
		listingID:       listingID,
		correlationID:   correlationID,
		functionName:    functionName,
		version:         version,
		level:           LevelMinimal,
	}
	switch Level(level) {
	case LevelErrorsOnly, LevelMinimal, LevelStandard, LevelVerbose:
		n.level = Level(level)
	}
	return n
}

// NewFromJob builds a Notifier directly from a job's fields, covering the
// common case of constructing one per stage invocation.
func NewFromJob(logger *zap.Logger, job models.Job, functionName, version string) *Notifier {
	return New(logger, job.CallbackWebhook, job.JobID, job.ListingID, job.CorrelationID, functionName, version, job.NotificationLevel)
}

func (n *Notifier) shouldSend(status, logLevel string) bool {
	if logLevel == "ERROR" {
		return true
	}
	if criticalNotifications[status] {
		return true
	}
	switch n.level {
	case LevelErrorsOnly:
		return false
	case LevelMinimal:
		return minimalAllowed[status]
	case LevelStandard:
		return !verboseOnly[status]
	default: // verbose
		return true
	}
}

// SendDebug sends a progress/debug notification, filtered by level.
func (n *Notifier) SendDebug(status string, extra map[string]any, logLevel string) bool {
	if n.callbackWebhook == "" || !n.shouldSend(status, logLevel) {
		return false
	}

	payload := map[string]any{
		"debug_status":   status,
		"function_name":  n.functionName,
		"log_level":      logLevel,
		"job_id":         n.jobID,
		"listing_id":     n.listingID,
		"timestamp":      time.Now().Unix(),
		"version":        n.version,
		"correlation_id": n.correlationID,
	}
	for k, v := range extra {
		payload[k] = v
	}

	return n.post(payload, status)
}

// SendError sends an ERROR-severity notification — always sent regardless
// of level.
func (n *Notifier) SendError(errorStatus, errorMessage string, extra map[string]any) bool {
	data := map[string]any{"error": errorMessage}
	for k, v := range extra {
		data[k] = v
	}
	return n.SendDebug(errorStatus, data, "ERROR")
}

// SendBusiness sends an unfiltered orchestration notification — these are
// required by downstream automation and are never suppressed by level.
func (n *Notifier) SendBusiness(notificationType string, jobData map[string]any) bool {
	if n.callbackWebhook == "" {
		return false
	}
	jobData["function_name"] = n.functionName
	jobData["log_level"] = "INFO"
	jobData["correlation_id"] = n.correlationID
	jobData["version"] = n.version

	return n.post(jobData, notificationType)
}

// SendJobResult sends the standardized job-result callback (spec.md §6).
func (n *Notifier) SendJobResult(result models.JobResult) bool {
	jobData := map[string]any{
		"status":                  string(result.Status),
		"job_id":                  n.jobID,
		"listing_id":              n.listingID,
		"total_brackets":          result.TotalBrackets,
		"processed_brackets":      result.ProcessedBrackets,
		"successful_enhancements": result.SuccessfulEnhancements,
		"failed_enhancements":     result.FailedEnhancements,
		"enhanced_images":         result.EnhancedImages,
		"failed_brackets":         result.FailedBrackets,
		"timestamp":               time.Now().Unix(),
		"source":                  n.functionName + "_function",
		"retry_attempts":          result.RetryAttempts,
	}
	return n.SendBusiness(string(result.Status), jobData)
}

func (n *Notifier) post(payload map[string]any, label string) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Warn("notifier: marshal failed", zap.String("status", label), zap.Error(err))
		return false
	}

	req, err := http.NewRequest(http.MethodPost, n.callbackWebhook, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("notifier: build request failed", zap.String("status", label), zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("notifier: post failed", zap.String("status", label), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.Warn("notifier: webhook rejected notification",
			zap.String("status", label), zap.Int("http_status", resp.StatusCode))
		return false
	}

	n.logger.Debug("notifier: sent", zap.String("status", label))
	return true
}
