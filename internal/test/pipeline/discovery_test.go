package pipeline_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"snapflow-core/internal/models"
	"snapflow-core/internal/pipeline"
	"snapflow-core/internal/providers/storage"
)

// TestDiscovery_MakeBracket_GroupsFlatMetadata covers spec.md §8 scenario 1
// end-to-end through the discovery stage's make_bracket mode.
func TestDiscovery_MakeBracket_GroupsFlatMetadata(t *testing.T) {
	records := []models.FileMetadataRecord{
		{Name: "a.jpg", PathLower: "/a.jpg", DateTaken: "2024-01-01T10:00:00"},
		{Name: "b.jpg", PathLower: "/b.jpg", DateTaken: "2024-01-01T10:00:01"},
		{Name: "c.jpg", PathLower: "/c.jpg", DateTaken: "2024-01-01T10:00:03"},
		{Name: "d.jpg", PathLower: "/d.jpg", DateTaken: "2024-01-01T10:00:04"},
		{Name: "e.jpg", PathLower: "/e.jpg", DateTaken: "2024-01-01T10:00:24"},
	}
	aggregated, err := toAnySlice(records)
	require.NoError(t, err)

	deps := pipeline.Deps{Logger: zap.NewNop()}
	resp := pipeline.Discovery(context.Background(), map[string]any{
		"mode":                "make_bracket",
		"aggregated_metadata": aggregated,
		"time_delta_seconds":  2.0,
	}, deps)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	brackets, ok := resp.Body.([]models.Bracket)
	require.True(t, ok)
	require.Len(t, brackets, 2)
	assert.Len(t, brackets[0], 4)
	assert.Len(t, brackets[1], 1)
}

// TestDiscovery_MakeBracket_FlattensNestedMetadata covers the doubly-nested
// aggregated_metadata shape discovery must tolerate.
func TestDiscovery_MakeBracket_FlattensNestedMetadata(t *testing.T) {
	nested := [][]models.FileMetadataRecord{
		{
			{Name: "a.jpg", PathLower: "/a.jpg", DateTaken: "2024-01-01T10:00:00"},
			{Name: "b.jpg", PathLower: "/b.jpg", DateTaken: "2024-01-01T10:00:01"},
		},
		{
			{Name: "c.jpg", PathLower: "/c.jpg", DateTaken: "2024-01-01T10:00:30"},
		},
	}
	aggregated, err := toAnySlice(nested)
	require.NoError(t, err)

	deps := pipeline.Deps{Logger: zap.NewNop()}
	resp := pipeline.Discovery(context.Background(), map[string]any{
		"mode":                "make_bracket",
		"aggregated_metadata": aggregated,
	}, deps)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	brackets, ok := resp.Body.([]models.Bracket)
	require.True(t, ok)
	require.Len(t, brackets, 2)
}

func TestDiscovery_MakeBracket_MissingMetadataRejected(t *testing.T) {
	deps := pipeline.Deps{Logger: zap.NewNop()}
	resp := pipeline.Discovery(context.Background(), map[string]any{"mode": "make_bracket"}, deps)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDiscovery_UnknownModeRejected(t *testing.T) {
	deps := pipeline.Deps{Logger: zap.NewNop()}
	resp := pipeline.Discovery(context.Background(), map[string]any{"mode": "bogus"}, deps)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestDiscovery_List_ReturnsPagedFileCount exercises discovery mode against
// a fake Dropbox-shaped backend.
func TestDiscovery_List_ReturnsPagedFileCount(t *testing.T) {
	dropboxServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case "/users/get_current_account":
			json.NewEncoder(w).Encode(map[string]any{"name": map[string]string{"display_name": "Agency"}})
		case "/files/list_folder":
			entries := make([]map[string]any, 30)
			for i := range entries {
				entries[i] = map[string]any{".tag": "file", "name": "img.jpg", "path_lower": "/img.jpg", "size": 10}
			}
			json.NewEncoder(w).Encode(map[string]any{"entries": entries, "has_more": false})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer dropboxServer.Close()

	storageFactory := storage.NewFactory(storage.Endpoints{
		DropboxTokenURL:   dropboxServer.URL + "/token",
		DropboxContentURL: dropboxServer.URL,
		DropboxAPIURL:     dropboxServer.URL,
	})

	deps := pipeline.Deps{StorageFactory: storageFactory, Logger: zap.NewNop()}
	resp := pipeline.Discovery(context.Background(), map[string]any{
		"mode":                  "discovery",
		"storage_provider":      "dropbox",
		"folder":                "/listing",
		"dropbox_refresh_token": "refresh-raw",
		"dropbox_app_key":       "app-key-0123456789",
		"dropbox_app_secret":    "app-secret-raw",
	}, deps)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, ok := resp.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 30, body["total_files"])
	assert.Equal(t, 2, body["total_pages"])
}

func toAnySlice(v any) ([]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out []any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
