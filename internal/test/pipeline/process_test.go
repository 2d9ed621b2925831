package pipeline_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"snapflow-core/internal/pipeline"
	"snapflow-core/internal/providers/enhancement"
	"snapflow-core/internal/providers/storage"
)

// dropboxFakeBackend wires a minimal Dropbox-shaped API covering the calls
// Process/Finalize make: token exchange, account info, file download, and
// file upload (simple, single-shot path — every fixture here stays under the
// 8 MiB chunking threshold).
func dropboxFakeBackend(t *testing.T, fileContents map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "fresh-token"})
		case "/users/get_current_account":
			json.NewEncoder(w).Encode(map[string]any{"name": map[string]string{"display_name": "Agency"}})
		case "/files/download":
			arg := r.Header.Get("Dropbox-API-Arg")
			var meta struct {
				Path string `json:"path"`
			}
			json.Unmarshal([]byte(arg), &meta)
			content, ok := fileContents[meta.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte(content))
		case "/files/upload":
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected dropbox request %s", r.URL.Path)
		}
	}))
}

func baseProcessPayload(storageFields map[string]any) map[string]any {
	payload := map[string]any{
		"job_id":            "job-process-1",
		"listing_id":        "listing-1",
		"callback_webhook":  "https://callback.test/hook",
		"client_id":         "acme",
		"storage_provider":  "dropbox",
		"correlation_id":    "corr-1",
		"notification_level": "errors_only",
		"dropbox_refresh_token": "refresh-raw",
		"dropbox_app_key":       "app-key-0123456789",
		"dropbox_app_secret":    "app-secret-raw",
	}
	for k, v := range storageFields {
		payload[k] = v
	}
	return payload
}

// TestProcess_SkipFinalize_EnhancementRequested covers spec.md §8 scenario 6:
// two valid brackets with skip_finalize=true produce status
// enhancement_requested with two enhancement ids and no dispatch to the
// finalize stage.
func TestProcess_SkipFinalize_EnhancementRequested(t *testing.T) {
	files := map[string]string{
		"/listing/img_0001.jpg": "bracket-1-file-a",
		"/listing/img_0002.jpg": "bracket-1-file-b",
		"/listing/img_0010.jpg": "bracket-2-file-a",
		"/listing/img_0011.jpg": "bracket-2-file-b",
	}
	dropboxServer := dropboxFakeBackend(t, files)
	defer dropboxServer.Close()

	var createCalls int
	var finalizeCalled bool
	var enhancementAddr string // filled in once the server is listening

	mux := http.NewServeMux()
	mux.HandleFunc("/photoshoots", func(w http.ResponseWriter, r *http.Request) {
		createCalls++
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		files, _ := req["files"].([]any)
		urls := make([]map[string]string, len(files))
		for i := range files {
			urls[i] = map[string]string{"url": enhancementAddr + "/s3"}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":             "shoot-1",
			"uploaded_files": urls,
		})
	})
	mux.HandleFunc("/finalize", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/finalize-stage", func(w http.ResponseWriter, r *http.Request) {
		finalizeCalled = true
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/s3", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	})

	enhancementServer := httptest.NewServer(mux)
	defer enhancementServer.Close()
	enhancementAddr = enhancementServer.URL

	storageFactory := storage.NewFactory(storage.Endpoints{
		DropboxTokenURL:   dropboxServer.URL + "/token",
		DropboxContentURL: dropboxServer.URL,
		DropboxAPIURL:     dropboxServer.URL,
	})
	enhancementFactory := enhancement.NewFactory(enhancement.Endpoints{
		AutoHDRCreateURL:   enhancementServer.URL + "/photoshoots",
		AutoHDRFinalizeURL: enhancementServer.URL + "/finalize",
	})

	payload := baseProcessPayload(map[string]any{
		"enhancement_provider": "autohdr",
		"skip_finalize":        true,
		"autohdr_api_key":      "ahdr-key",
		"autohdr_email":        "ops@example.test",
		"brackets_data": []any{
			[]any{
				map[string]any{"name": "IMG_0001.jpg", "path_lower": "/listing/img_0001.jpg"},
				map[string]any{"name": "IMG_0002.jpg", "path_lower": "/listing/img_0002.jpg"},
			},
			[]any{
				map[string]any{"name": "IMG_0010.jpg", "path_lower": "/listing/img_0010.jpg"},
				map[string]any{"name": "IMG_0011.jpg", "path_lower": "/listing/img_0011.jpg"},
			},
		},
	})

	deps := pipeline.Deps{
		StorageFactory:      storageFactory,
		EnhancementFactory:  enhancementFactory,
		Logger:              zap.NewNop(),
		FinalizeFunctionURL: enhancementServer.URL + "/finalize-stage",
	}

	resp := pipeline.Process(context.Background(), payload, deps)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, ok := resp.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "enhancement_requested", body["status"])
	assert.Equal(t, true, body["skip_finalize"])

	refs, ok := body["enhancement_ids"].([]pipeline.EnhancementRef)
	require.True(t, ok)
	assert.Len(t, refs, 2)

	assert.Equal(t, 2, createCalls)
	assert.False(t, finalizeCalled, "skip_finalize must not trigger the finalize dispatch")
}

// TestProcess_OversizeFileDropped_BracketStillSubmitted covers spec.md §8
// scenario 5: an oversize bracket member is silently dropped and the
// remaining file is still submitted for enhancement.
func TestProcess_OversizeFileDropped_BracketStillSubmitted(t *testing.T) {
	oversize := make([]byte, 60*1024*1024)
	small := make([]byte, 5*1024*1024)
	files := map[string]string{
		"/listing/big.jpg":   string(oversize),
		"/listing/small.jpg": string(small),
	}
	dropboxServer := dropboxFakeBackend(t, files)
	defer dropboxServer.Close()

	var uploadCount int
	var enhancementAddr string // filled in once the server is listening

	mux := http.NewServeMux()
	mux.HandleFunc("/uploads", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "upload-1", "url": enhancementAddr + "/put"})
	})
	mux.HandleFunc("/put", func(w http.ResponseWriter, r *http.Request) {
		uploadCount++
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/enhance", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "ticket-1"})
	})

	enhancementServer := httptest.NewServer(mux)
	defer enhancementServer.Close()
	enhancementAddr = enhancementServer.URL

	storageFactory := storage.NewFactory(storage.Endpoints{
		DropboxTokenURL:   dropboxServer.URL + "/token",
		DropboxContentURL: dropboxServer.URL,
		DropboxAPIURL:     dropboxServer.URL,
	})
	enhancementFactory := enhancement.NewFactory(enhancement.Endpoints{
		FotelloUploadURL:  enhancementServer.URL + "/uploads",
		FotelloEnhanceURL: enhancementServer.URL + "/enhance",
		FotelloStatusURL:  enhancementServer.URL + "/status",
	})

	payload := baseProcessPayload(map[string]any{
		"enhancement_provider": "fotello",
		"skip_finalize":        true,
		"fotello_api_key":      "fotello-key",
		"brackets_data": []any{
			[]any{
				map[string]any{"name": "big.jpg", "path_lower": "/listing/big.jpg"},
				map[string]any{"name": "small.jpg", "path_lower": "/listing/small.jpg"},
			},
		},
	})

	deps := pipeline.Deps{
		StorageFactory:     storageFactory,
		EnhancementFactory: enhancementFactory,
		Logger:             zap.NewNop(),
	}

	resp := pipeline.Process(context.Background(), payload, deps)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, ok := resp.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, body["files_uploaded"])
	assert.Equal(t, 1, uploadCount, "only the under-limit file should reach the enhancement backend")

	refs, ok := body["enhancement_ids"].([]pipeline.EnhancementRef)
	require.True(t, ok)
	require.Len(t, refs, 1)
	assert.Equal(t, 1, refs[0].FileCount)
}
