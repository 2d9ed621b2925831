package enhancement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"snapflow-core/internal/filetype"
	"snapflow-core/internal/models"
)

// WebhookProvider implements the webhook-delivered enhancement contract
// against an AutoHDR-shaped API: a grouped "photoshoot" upload keyed by a
// client-generated unique_identifier, one presigned S3 URL per file, and a
// finalize step that triggers processing. Results arrive out-of-band via
// the webhook URLs supplied at creation time — CheckStatus returns a
// synthetic non-answer and GetResultURL always errors. Grounded on
// original_source/lib/shared/providers/enhancement/autohdr_provider.py.
type WebhookProvider struct {
	httpClient     *http.Client
	createEndpoint string
	finalizeEndpoint string
	email          string
	apiKey         string

	uploadWebhookURL string
	statusWebhookURL string
}

func NewWebhookProvider(createEndpoint, finalizeEndpoint, email, apiKey, uploadWebhookURL, statusWebhookURL string) *WebhookProvider {
	return &WebhookProvider{
		httpClient:       &http.Client{},
		createEndpoint:   createEndpoint,
		finalizeEndpoint: finalizeEndpoint,
		email:            email,
		apiKey:           apiKey,
		uploadWebhookURL: uploadWebhookURL,
		statusWebhookURL: statusWebhookURL,
	}
}

// FileUpload is one bracket member handed to UploadGroup: its name and raw
// bytes.
type FileUpload struct {
	Filename string
	Data     []byte
}

// GroupUploader is implemented by enhancement providers whose upload
// protocol is keyed per-bracket rather than per-file — AutoHDR's
// "photoshoot" groups every bracket member under one unique_identifier and
// returns one presigned URL per file in the same order they were submitted.
// Callers should prefer UploadGroup over a per-file UploadImage loop when a
// provider implements this interface, since RequestEnhancement finalizes the
// whole group by the shared id carried in the returned handles.
type GroupUploader interface {
	UploadGroup(ctx context.Context, listingID string, files []FileUpload, options map[string]string) ([]models.UploadHandle, error)
}

func (p *WebhookProvider) ProviderType() string { return models.EnhancementProviderWebhook }

type createPhotoshootRequest struct {
	Email              string              `json:"email"`
	UniqueIdentifier   string              `json:"unique_identifier"`
	Files              []map[string]string `json:"files"`
	Address            string              `json:"address"`
	Twilight           bool                `json:"twilight"`
	UploadCallbackURL  string              `json:"upload_callback_url"`
	StatusCallbackURL  string              `json:"status_callback_url"`
}

type uploadedFile struct {
	URL string `json:"url"`
}

type createPhotoshootResponse struct {
	ID            string         `json:"id"`
	UploadedFiles []uploadedFile `json:"uploaded_files"`
}

// UploadImage wraps a single file as a one-image photoshoot: it creates the
// photoshoot, then PUTs the file to its lone presigned URL. This satisfies
// the Provider interface for single-file callers and tests; a multi-file
// bracket must go through UploadGroup instead, since every file in a
// bracket needs to share one photoshoot id for RequestEnhancement's
// finalize-by-id call to cover the whole group. The Provider interface
// carries no options parameter here, so this path always requests
// twilight=false; the bracket pipeline (the only caller with job context to
// thread a twilight flag through) goes via UploadGroup instead.
func (p *WebhookProvider) UploadImage(ctx context.Context, filename string, data []byte, contentType string) (models.UploadHandle, error) {
	uniqueID := filename + "-" + uuid.NewString()

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	payload, err := json.Marshal(createPhotoshootRequest{
		Email:             p.email,
		UniqueIdentifier:  uniqueID,
		Files:             []map[string]string{{"filename": filename}},
		Address:           filename,
		Twilight:          false,
		UploadCallbackURL: p.uploadWebhookURL,
		StatusCallbackURL: p.statusWebhookURL,
	})
	if err != nil {
		return models.UploadHandle{}, fmt.Errorf("enhancement: marshal photoshoot request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.createEndpoint, bytes.NewReader(payload))
	if err != nil {
		return models.UploadHandle{}, fmt.Errorf("enhancement: build photoshoot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return models.UploadHandle{}, fmt.Errorf("enhancement: create photoshoot: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.UploadHandle{}, fmt.Errorf("enhancement: read photoshoot response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return models.UploadHandle{}, fmt.Errorf("enhancement: create photoshoot failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var out createPhotoshootResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return models.UploadHandle{}, fmt.Errorf("enhancement: decode photoshoot response: %w", err)
	}
	if len(out.UploadedFiles) != 1 {
		return models.UploadHandle{}, fmt.Errorf("enhancement: expected 1 presigned url, got %d", len(out.UploadedFiles))
	}

	uploadTimeout := time.Duration(filetype.UploadTimeoutSeconds(filename, int64(len(data)))) * time.Second
	putCtx, putCancel := context.WithTimeout(ctx, uploadTimeout)
	defer putCancel()

	ct := contentType
	if ct == "" {
		ct = filetype.ContentType(filename)
	}
	putReq, err := http.NewRequestWithContext(putCtx, http.MethodPut, out.UploadedFiles[0].URL, bytes.NewReader(data))
	if err != nil {
		return models.UploadHandle{}, fmt.Errorf("enhancement: build s3 put request: %w", err)
	}
	putReq.Header.Set("Content-Type", ct)

	putResp, err := p.httpClient.Do(putReq)
	if err != nil {
		return models.UploadHandle{}, fmt.Errorf("enhancement: s3 upload %s: %w", filename, err)
	}
	defer putResp.Body.Close()
	if putResp.StatusCode >= 300 {
		putBody, _ := io.ReadAll(putResp.Body)
		return models.UploadHandle{}, fmt.Errorf("enhancement: s3 upload %s failed: status %d, body: %s", filename, putResp.StatusCode, string(putBody))
	}

	return models.UploadHandle{ID: out.ID, Filename: filename}, nil
}

// UploadGroup creates a single photoshoot carrying every file in the
// bracket, uploads each to its corresponding presigned URL in response
// order, and returns one handle per file, all sharing the photoshoot's id.
// options["twilight"] == "true" requests twilight processing for the whole
// photoshoot, mirroring how PollProvider.RequestEnhancement reads
// options["shot_type"].
func (p *WebhookProvider) UploadGroup(ctx context.Context, listingID string, files []FileUpload, options map[string]string) ([]models.UploadHandle, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("enhancement: upload group called with no files")
	}
	uniqueID := listingID + "-" + uuid.NewString()

	fileDescriptors := make([]map[string]string, len(files))
	for i, f := range files {
		fileDescriptors[i] = map[string]string{"filename": f.Filename}
	}

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	payload, err := json.Marshal(createPhotoshootRequest{
		Email:             p.email,
		UniqueIdentifier:  uniqueID,
		Files:             fileDescriptors,
		Address:           listingID,
		Twilight:          options["twilight"] == "true",
		UploadCallbackURL: p.uploadWebhookURL,
		StatusCallbackURL: p.statusWebhookURL,
	})
	if err != nil {
		return nil, fmt.Errorf("enhancement: marshal photoshoot request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.createEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("enhancement: build photoshoot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enhancement: create photoshoot: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("enhancement: read photoshoot response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("enhancement: create photoshoot failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var out createPhotoshootResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("enhancement: decode photoshoot response: %w", err)
	}
	if len(out.UploadedFiles) != len(files) {
		return nil, fmt.Errorf("enhancement: expected %d presigned urls, got %d", len(files), len(out.UploadedFiles))
	}

	handles := make([]models.UploadHandle, 0, len(files))
	for i, f := range files {
		uploadTimeout := time.Duration(filetype.UploadTimeoutSeconds(f.Filename, int64(len(f.Data)))) * time.Second
		putCtx, putCancel := context.WithTimeout(ctx, uploadTimeout)

		ct := filetype.ContentType(f.Filename)
		putReq, err := http.NewRequestWithContext(putCtx, http.MethodPut, out.UploadedFiles[i].URL, bytes.NewReader(f.Data))
		if err != nil {
			putCancel()
			return nil, fmt.Errorf("enhancement: build s3 put request for %s: %w", f.Filename, err)
		}
		putReq.Header.Set("Content-Type", ct)

		putResp, err := p.httpClient.Do(putReq)
		if err != nil {
			putCancel()
			return nil, fmt.Errorf("enhancement: s3 upload %s: %w", f.Filename, err)
		}
		if putResp.StatusCode >= 300 {
			putBody, _ := io.ReadAll(putResp.Body)
			putResp.Body.Close()
			putCancel()
			return nil, fmt.Errorf("enhancement: s3 upload %s failed: status %d, body: %s", f.Filename, putResp.StatusCode, string(putBody))
		}
		putResp.Body.Close()
		putCancel()

		handles = append(handles, models.UploadHandle{ID: out.ID, Filename: f.Filename})
	}

	return handles, nil
}

type finalizeRequest struct {
	Email            string `json:"email"`
	UniqueIdentifier string `json:"unique_identifier"`
}

// RequestEnhancement finalizes the photoshoot to trigger processing.
// AutoHDR has no separate enhancement-request step — finalize IS the
// request — so handles[0].ID (the photoshoot/listing id returned by
// UploadImage) doubles as the ticket id, and listingID is only used for
// logging by the caller.
func (p *WebhookProvider) RequestEnhancement(ctx context.Context, handles []models.UploadHandle, listingID string, options map[string]string) (models.EnhancementTicket, error) {
	if len(handles) == 0 {
		return models.EnhancementTicket{}, fmt.Errorf("enhancement: no uploaded handles to finalize")
	}
	photoshootID := handles[0].ID

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	payload, err := json.Marshal(finalizeRequest{Email: p.email, UniqueIdentifier: photoshootID})
	if err != nil {
		return models.EnhancementTicket{}, fmt.Errorf("enhancement: marshal finalize request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.finalizeEndpoint, bytes.NewReader(payload))
	if err != nil {
		return models.EnhancementTicket{}, fmt.Errorf("enhancement: build finalize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return models.EnhancementTicket{}, fmt.Errorf("enhancement: finalize photoshoot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return models.EnhancementTicket{}, fmt.Errorf("enhancement: finalize failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	return models.EnhancementTicket{ID: photoshootID}, nil
}

// CheckStatus reports the synthetic webhook-based non-answer — AutoHDR has
// no polling endpoint; completion arrives at statusWebhookURL instead.
func (p *WebhookProvider) CheckStatus(ctx context.Context, ticket models.EnhancementTicket) (models.EnhancementStatus, error) {
	return models.EnhancementStatus{State: models.EnhancementWebhookOnly}, nil
}

// GetResultURL always errors: AutoHDR delivers results via webhook callback,
// never through a pollable URL.
func (p *WebhookProvider) GetResultURL(ctx context.Context, ticket models.EnhancementTicket) (string, error) {
	return "", fmt.Errorf("enhancement: autohdr delivers results via webhook, not a result url")
}
