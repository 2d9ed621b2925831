package pipeline_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"snapflow-core/internal/pipeline"
	"snapflow-core/internal/providers/enhancement"
	"snapflow-core/internal/providers/storage"
)

// TestFinalize_PartialSuccess_FourRetryPasses covers spec.md §8 scenario 4:
// of three outstanding tickets, one completes immediately, one fails
// explicitly, and one never resolves and is eventually marked as a timeout —
// yielding job_partial_success with 1 success, 2 failures, and exactly 4
// retry passes (finalizeMaxRetries=3 extra passes after the first).
func TestFinalize_PartialSuccess_FourRetryPasses(t *testing.T) {
	var uploadedPaths []string
	var mu sync.Mutex

	dropboxServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case "/users/get_current_account":
			json.NewEncoder(w).Encode(map[string]any{"name": map[string]string{"display_name": "Agency"}})
		case "/files/upload":
			arg := r.Header.Get("Dropbox-API-Arg")
			var meta struct {
				Path string `json:"path"`
			}
			json.Unmarshal([]byte(arg), &meta)
			mu.Lock()
			uploadedPaths = append(uploadedPaths, meta.Path)
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected dropbox request %s", r.URL.Path)
		}
	}))
	defer dropboxServer.Close()

	var statusAddr string
	statusCallCounts := map[string]int{}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		mu.Lock()
		statusCallCounts[id]++
		mu.Unlock()

		switch id {
		case "ticket-1":
			json.NewEncoder(w).Encode(map[string]string{
				"status":             "completed",
				"enhanced_image_url": statusAddr + "/result/ticket-1.jpg",
			})
		case "ticket-2":
			json.NewEncoder(w).Encode(map[string]string{"status": "failed", "error": "vendor rejected image"})
		case "ticket-3":
			json.NewEncoder(w).Encode(map[string]string{"status": "in_progress"})
		}
	})
	mux.HandleFunc("/result/ticket-1.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("enhanced-bytes"))
	})
	enhancementServer := httptest.NewServer(mux)
	defer enhancementServer.Close()
	statusAddr = enhancementServer.URL

	storageFactory := storage.NewFactory(storage.Endpoints{
		DropboxTokenURL:   dropboxServer.URL + "/token",
		DropboxContentURL: dropboxServer.URL,
		DropboxAPIURL:     dropboxServer.URL,
	})
	enhancementFactory := enhancement.NewFactory(enhancement.Endpoints{
		FotelloStatusURL: enhancementServer.URL + "/status",
	})

	var sleeps int
	deps := pipeline.Deps{
		StorageFactory:     storageFactory,
		EnhancementFactory: enhancementFactory,
		HTTPClient:         &http.Client{},
		Logger:             zap.NewNop(),
		Sleep:              func(time.Duration) { sleeps++ },
	}

	payload := map[string]any{
		"job_id":                     "job-finalize-1",
		"listing_id":                 "listing-1",
		"callback_webhook":           "https://callback.test/hook",
		"storage_provider":           "dropbox",
		"enhancement_provider":       "fotello",
		"dropbox_destination_folder": "/Enhanced",
		"dropbox_refresh_token":      "refresh-raw",
		"dropbox_app_key":            "app-key-0123456789",
		"dropbox_app_secret":         "app-secret-raw",
		"fotello_api_key":            "fotello-key",
		"notification_level":         "errors_only",
		"total_brackets":             3,
		"enhancement_ids": []any{
			map[string]any{"enhancement_id": "ticket-1", "bracket_index": 0},
			map[string]any{"enhancement_id": "ticket-2", "bracket_index": 1},
			map[string]any{"enhancement_id": "ticket-3", "bracket_index": 2},
		},
	}

	resp := pipeline.Finalize(context.Background(), payload, deps)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, ok := resp.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "job_partial_success", body["status"])
	assert.Equal(t, 1, body["successful_uploads"])
	assert.Equal(t, 2, body["failed_uploads"])
	assert.Equal(t, 4, body["retry_attempts"])

	assert.Equal(t, 4, statusCallCounts["ticket-3"], "the never-resolving ticket must be polled once per pass")
	assert.Equal(t, 3, sleeps, "a sleep precedes every pass after the first of four")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, uploadedPaths, 1)
	assert.Contains(t, uploadedPaths[0], "1_listing-1.jpg")
}

// TestFinalize_WebhookBasedTicket_RecordedImmediatelyWithoutRetrying covers
// an AutoHDR (Backend H) ticket: CheckStatus always answers webhook-based,
// so finalize must record it on the first pass instead of treating it as a
// retryable pending ticket and burning the whole retry budget on a poll
// result that will never arrive.
func TestFinalize_WebhookBasedTicket_RecordedImmediatelyWithoutRetrying(t *testing.T) {
	driveServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/token":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case r.URL.Path == "/about":
			json.NewEncoder(w).Encode(map[string]any{"user": map[string]string{"displayName": "Agency"}})
		default:
			t.Fatalf("unexpected google drive request %s", r.URL.Path)
		}
	}))
	defer driveServer.Close()

	storageFactory := storage.NewFactory(storage.Endpoints{
		GoogleDriveTokenURL: driveServer.URL + "/token",
		GoogleDriveAPIURL:   driveServer.URL,
	})

	var sleeps int
	deps := pipeline.Deps{
		StorageFactory:     storageFactory,
		EnhancementFactory: enhancement.NewFactory(enhancement.Endpoints{}),
		HTTPClient:         &http.Client{},
		Logger:             zap.NewNop(),
		Sleep:              func(time.Duration) { sleeps++ },
	}

	payload := map[string]any{
		"job_id":                             "job-finalize-webhook",
		"listing_id":                         "listing-2",
		"callback_webhook":                   "https://callback.test/hook",
		"storage_provider":                   "google_drive",
		"enhancement_provider":               "autohdr",
		"google_drive_destination_folder_id": "folder-id",
		"google_drive_client_id":             "client-id",
		"google_drive_client_secret":         "client-secret",
		"google_drive_refresh_token":         "refresh-raw",
		"autohdr_api_key":                    "autohdr-key",
		"autohdr_email":                      "agency@example.com",
		"notification_level":                 "errors_only",
		"total_brackets":                     1,
		"enhancement_ids": []any{
			map[string]any{"enhancement_id": "shoot-1", "bracket_index": 0},
		},
	}

	resp := pipeline.Finalize(context.Background(), payload, deps)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, ok := resp.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "job_failed", body["status"])
	assert.Equal(t, 0, body["successful_uploads"])
	assert.Equal(t, 1, body["failed_uploads"])
	assert.Equal(t, 1, body["retry_attempts"], "a webhook-based ticket resolves on the first pass, no retries")
	assert.Equal(t, 0, sleeps, "no retry pass is slept through for a webhook-based ticket")
}
