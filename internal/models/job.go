package models

import "time"

// Job carries state across stage invocations. It is never persisted; every
// stage receives and returns it embedded in its HTTP payload.
type Job struct {
	JobID              string `json:"job_id"`
	ListingID          string `json:"listing_id"`
	ClientID           string `json:"client_id"`
	CorrelationID      string `json:"correlation_id"`
	TotalBrackets      int    `json:"total_brackets"`
	ProcessedBrackets  int    `json:"processed_brackets"`
	SkipFinalize       bool   `json:"skip_finalize,omitempty"`
	FilenamePrefix     string `json:"filename_prefix,omitempty"`
	NotificationLevel  string `json:"notification_level,omitempty"`
	CallbackWebhook    string `json:"callback_webhook,omitempty"`
	DestinationFolder  string `json:"destination_folder"`
	StorageProvider    string `json:"storage_provider"`
	EnhancementProvider string `json:"enhancement_provider"`
}

// BracketOutcome is the per-bracket result recorded by the process stage.
type BracketOutcome struct {
	BracketIndex int    `json:"bracket_index"`
	TicketID     string `json:"ticket_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// EnhancedImage is one finalized, uploaded result.
type EnhancedImage struct {
	BracketIndex int     `json:"bracket_index"`
	StoragePath  string  `json:"storage_path"`
	FileSizeMB   float64 `json:"file_size_mb"`
}

// FailedBracket records why a bracket did not produce a final image.
type FailedBracket struct {
	BracketIndex int    `json:"bracket_index"`
	Error        string `json:"error"`
}

// JobResultStatus is the aggregate outcome reported to the callback.
type JobResultStatus string

const (
	StatusJobStarted            JobResultStatus = "job_started"
	StatusJobCompleted          JobResultStatus = "job_completed"
	StatusJobPartialSuccess     JobResultStatus = "job_partial_success"
	StatusJobFailed             JobResultStatus = "job_failed"
	StatusEnhancementRequested  JobResultStatus = "enhancement_requested"
)

// JobResult is the payload POSTed to callback_webhook.
type JobResult struct {
	Status                 JobResultStatus `json:"status"`
	JobID                  string          `json:"job_id"`
	ListingID              string          `json:"listing_id"`
	TotalBrackets          int             `json:"total_brackets"`
	ProcessedBrackets      int             `json:"processed_brackets"`
	SuccessfulEnhancements int             `json:"successful_enhancements"`
	FailedEnhancements     int             `json:"failed_enhancements"`
	EnhancedImages         []EnhancedImage `json:"enhanced_images"`
	FailedBrackets         []FailedBracket `json:"failed_brackets"`
	RetryAttempts          int             `json:"retry_attempts"`
	Timestamp              time.Time       `json:"timestamp"`
	Source                 string          `json:"source"`
	Version                string          `json:"version"`
	CorrelationID          string          `json:"correlation_id"`
}
