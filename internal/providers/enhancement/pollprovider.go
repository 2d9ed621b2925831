package enhancement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"snapflow-core/internal/filetype"
	"snapflow-core/internal/models"
)

// PollProvider implements the poll-based enhancement contract against a
// Fotello-shaped API: a 3-step presigned-URL upload followed by a single
// enhancement request and GET-based status polling. Grounded on
// original_source/lib/shared/providers/enhancement/fotello_provider.py,
// with request plumbing in the style of internal/autoenhance/client.go.
type PollProvider struct {
	httpClient      *http.Client
	uploadEndpoint  string
	enhanceEndpoint string
	statusEndpoint  string
	apiKey          string
}

func NewPollProvider(uploadEndpoint, enhanceEndpoint, statusEndpoint, apiKey string) *PollProvider {
	return &PollProvider{
		httpClient:      &http.Client{},
		uploadEndpoint:  uploadEndpoint,
		enhanceEndpoint: enhanceEndpoint,
		statusEndpoint:  statusEndpoint,
		apiKey:          apiKey,
	}
}

func (p *PollProvider) ProviderType() string { return models.EnhancementProviderPoll }

type presignedURLResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// UploadImage requests a presigned URL, then PUTs the file data to it with
// Content-Type fixed to application/octet-stream — the presigned URL rejects
// anything else, regardless of the file's real content type.
func (p *PollProvider) UploadImage(ctx context.Context, filename string, data []byte, contentType string) (models.UploadHandle, error) {
	presigned, err := p.getPresignedURL(ctx, filename)
	if err != nil {
		return models.UploadHandle{}, err
	}

	timeout := time.Duration(filetype.UploadTimeoutSeconds(filename, int64(len(data)))) * time.Second
	putCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(putCtx, http.MethodPut, presigned.URL, bytes.NewReader(data))
	if err != nil {
		return models.UploadHandle{}, fmt.Errorf("enhancement: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return models.UploadHandle{}, fmt.Errorf("enhancement: upload %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusForbidden {
			return models.UploadHandle{}, fmt.Errorf("enhancement: upload %s forbidden (possible content-type mismatch): %s", filename, string(body))
		}
		return models.UploadHandle{}, fmt.Errorf("enhancement: upload %s failed: status %d, body: %s", filename, resp.StatusCode, string(body))
	}

	return models.UploadHandle{ID: presigned.ID, Filename: filename}, nil
}

func (p *PollProvider) getPresignedURL(ctx context.Context, filename string) (presignedURLResponse, error) {
	payload, err := json.Marshal(map[string]string{"filename": filename})
	if err != nil {
		return presignedURLResponse{}, fmt.Errorf("enhancement: marshal presign request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.uploadEndpoint, bytes.NewReader(payload))
	if err != nil {
		return presignedURLResponse{}, fmt.Errorf("enhancement: build presign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return presignedURLResponse{}, fmt.Errorf("enhancement: presign request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return presignedURLResponse{}, fmt.Errorf("enhancement: read presign response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return presignedURLResponse{}, fmt.Errorf("enhancement: presign failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var out presignedURLResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return presignedURLResponse{}, fmt.Errorf("enhancement: decode presign response: %w", err)
	}
	return out, nil
}

type enhanceRequest struct {
	UploadIDs []string `json:"upload_ids"`
	ListingID string   `json:"listing_id"`
	ShotType  string   `json:"shot_type"`
}

type enhanceResponse struct {
	ID string `json:"id"`
}

// RequestEnhancement submits all uploaded handles for a listing in a single
// call. options["shot_type"] defaults to "interior" when unset, mirroring
// fotello_provider.py's request_enhancement.
func (p *PollProvider) RequestEnhancement(ctx context.Context, handles []models.UploadHandle, listingID string, options map[string]string) (models.EnhancementTicket, error) {
	shotType := options["shot_type"]
	if shotType == "" {
		shotType = "interior"
	}

	ids := make([]string, len(handles))
	for i, h := range handles {
		ids[i] = h.ID
	}

	payload, err := json.Marshal(enhanceRequest{UploadIDs: ids, ListingID: listingID, ShotType: shotType})
	if err != nil {
		return models.EnhancementTicket{}, fmt.Errorf("enhancement: marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.enhanceEndpoint, bytes.NewReader(payload))
	if err != nil {
		return models.EnhancementTicket{}, fmt.Errorf("enhancement: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return models.EnhancementTicket{}, fmt.Errorf("enhancement: request enhancement: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.EnhancementTicket{}, fmt.Errorf("enhancement: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return models.EnhancementTicket{}, fmt.Errorf("enhancement: request failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var out enhanceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return models.EnhancementTicket{}, fmt.Errorf("enhancement: decode response: %w", err)
	}
	if out.ID == "" {
		return models.EnhancementTicket{}, fmt.Errorf("enhancement: response missing id")
	}
	return models.EnhancementTicket{ID: out.ID}, nil
}

type statusResponse struct {
	Status                string `json:"status"`
	EnhancedImageURL       string `json:"enhanced_image_url"`
	EnhancedImageExpiresAt string `json:"enhanced_image_url_expires"`
	Error                  string `json:"error"`
}

// CheckStatus polls with a reduced header set — no Content-Type, matching
// fotello_provider.py's check_status.
func (p *PollProvider) CheckStatus(ctx context.Context, ticket models.EnhancementTicket) (models.EnhancementStatus, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s?id=%s", p.statusEndpoint, ticket.ID)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return models.EnhancementStatus{}, fmt.Errorf("enhancement: build status request: %w", err)
	}
	req.Header.Set("Authorization", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return models.EnhancementStatus{}, fmt.Errorf("enhancement: status request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.EnhancementStatus{}, fmt.Errorf("enhancement: read status response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return models.EnhancementStatus{}, fmt.Errorf("enhancement: status check failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var out statusResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return models.EnhancementStatus{}, fmt.Errorf("enhancement: decode status response: %w", err)
	}

	status := models.EnhancementStatus{Error: out.Error}
	switch out.Status {
	case "completed":
		status.State = models.EnhancementCompleted
		status.ResultURL = out.EnhancedImageURL
	case "failed":
		status.State = models.EnhancementFailed
	case "in_progress", "processing":
		status.State = models.EnhancementInProgress
	case "pending", "":
		status.State = models.EnhancementPending
	default:
		status.State = models.EnhancementUnknown
	}
	return status, nil
}

// GetResultURL re-polls status and returns its result URL — Fotello has no
// separate result-fetch endpoint.
func (p *PollProvider) GetResultURL(ctx context.Context, ticket models.EnhancementTicket) (string, error) {
	status, err := p.CheckStatus(ctx, ticket)
	if err != nil {
		return "", err
	}
	if status.State != models.EnhancementCompleted {
		return "", fmt.Errorf("enhancement: ticket %s not completed (state=%s)", ticket.ID, status.State)
	}
	return status.ResultURL, nil
}
