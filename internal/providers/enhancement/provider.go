// Package enhancement defines the uniform enhancement-provider contract
// (spec.md §4.3) and its two backend families: pollprovider (Fotello-shaped,
// poll-based status) and webhookprovider (AutoHDR-shaped, webhook-delivered
// results).
package enhancement

import (
	"context"
	"fmt"

	"snapflow-core/internal/models"
)

// Provider is the capability set every enhancement backend must implement.
// check_status on a webhook-driven backend returns a synthetic
// EnhancementWebhookOnly state rather than an error — spec.md §4.3 treats
// that as the correct non-answer, not a failure.
type Provider interface {
	UploadImage(ctx context.Context, filename string, data []byte, contentType string) (models.UploadHandle, error)
	RequestEnhancement(ctx context.Context, handles []models.UploadHandle, listingID string, options map[string]string) (models.EnhancementTicket, error)
	CheckStatus(ctx context.Context, ticket models.EnhancementTicket) (models.EnhancementStatus, error)
	GetResultURL(ctx context.Context, ticket models.EnhancementTicket) (string, error)
	ProviderType() string
}

// ErrNotConnected mirrors storage.ErrNotConnected for backends that require
// an explicit connect/validate step before use.
var ErrNotConnected = fmt.Errorf("enhancement: not connected")
