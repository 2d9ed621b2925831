// Package logging centralizes the zap logger construction so every stage
// handler and provider logs with the same encoding and level, and so a
// correlation id can be attached once and carried on every subsequent call.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process-wide base logger. Production uses JSON encoding
// (matching what the dispatch shim's log aggregator expects); development
// uses the console encoder for local runs.
func New(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg.Build()
}

// WithJob returns a child logger carrying the fields every stage log line
// needs for cross-stage tracing, matching the correlation-id discipline
// spec.md §5 requires of every event.
func WithJob(base *zap.Logger, jobID, correlationID, listingID string) *zap.Logger {
	return base.With(
		zap.String("job_id", jobID),
		zap.String("correlation_id", correlationID),
		zap.String("listing_id", listingID),
	)
}
