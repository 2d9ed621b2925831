package enhancement_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapflow-core/internal/models"
	"snapflow-core/internal/providers/enhancement"
)

func TestWebhookProvider_UploadImage_SingleFilePhotoshoot(t *testing.T) {
	var serverAddr string
	var gotAuth string

	mux := http.NewServeMux()
	mux.HandleFunc("/photoshoots", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		files, _ := req["files"].([]any)
		require.Len(t, files, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"id": "shoot-1",
			"uploaded_files": []map[string]string{
				{"url": serverAddr + "/s3/one"},
			},
		})
	})
	mux.HandleFunc("/s3/one", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/finalize", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(mux)
	defer server.Close()
	serverAddr = server.URL

	p := enhancement.NewWebhookProvider(server.URL+"/photoshoots", server.URL+"/finalize", "ops@example.test", "key-1", "https://hook/upload", "https://hook/status")
	ctx := context.Background()

	handle, err := p.UploadImage(ctx, "house.jpg", []byte("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "shoot-1", handle.ID)
	assert.Equal(t, "Bearer key-1", gotAuth)

	ticket, err := p.RequestEnhancement(ctx, []models.UploadHandle{handle}, "listing-99", nil)
	require.NoError(t, err)
	assert.Equal(t, "shoot-1", ticket.ID)
}

func TestWebhookProvider_UploadGroup_SharesOnePhotoshootID(t *testing.T) {
	var serverAddr string
	var putOrder []string

	mux := http.NewServeMux()
	mux.HandleFunc("/photoshoots", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		files, _ := req["files"].([]any)
		require.Len(t, files, 3)
		json.NewEncoder(w).Encode(map[string]any{
			"id": "shoot-group-1",
			"uploaded_files": []map[string]string{
				{"url": serverAddr + "/s3/a"},
				{"url": serverAddr + "/s3/b"},
				{"url": serverAddr + "/s3/c"},
			},
		})
	})
	for _, name := range []string{"a", "b", "c"} {
		n := name
		mux.HandleFunc("/s3/"+n, func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			putOrder = append(putOrder, n+":"+string(body))
			w.WriteHeader(http.StatusOK)
		})
	}

	server := httptest.NewServer(mux)
	defer server.Close()
	serverAddr = server.URL

	p := enhancement.NewWebhookProvider(server.URL+"/photoshoots", server.URL+"/finalize", "ops@example.test", "key-1", "", "")

	files := []enhancement.FileUpload{
		{Filename: "bracket_1.jpg", Data: []byte("one")},
		{Filename: "bracket_2.jpg", Data: []byte("two")},
		{Filename: "bracket_3.jpg", Data: []byte("three")},
	}

	handles, err := p.UploadGroup(context.Background(), "listing-1", files, nil)
	require.NoError(t, err)
	require.Len(t, handles, 3)
	for _, h := range handles {
		assert.Equal(t, "shoot-group-1", h.ID)
	}
	assert.Equal(t, []string{"a:one", "b:two", "c:three"}, putOrder)
}

func TestWebhookProvider_UploadGroup_ThreadsTwilightOption(t *testing.T) {
	var serverAddr string
	var gotTwilight bool

	mux := http.NewServeMux()
	mux.HandleFunc("/photoshoots", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		gotTwilight, _ = req["twilight"].(bool)
		json.NewEncoder(w).Encode(map[string]any{
			"id": "shoot-twilight",
			"uploaded_files": []map[string]string{
				{"url": serverAddr + "/s3/a"},
			},
		})
	})
	mux.HandleFunc("/s3/a", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(mux)
	defer server.Close()
	serverAddr = server.URL

	p := enhancement.NewWebhookProvider(server.URL+"/photoshoots", server.URL+"/finalize", "ops@example.test", "key-1", "", "")

	_, err := p.UploadGroup(context.Background(), "listing-1",
		[]enhancement.FileUpload{{Filename: "bracket_1.jpg", Data: []byte("one")}},
		map[string]string{"twilight": "true"})
	require.NoError(t, err)
	assert.True(t, gotTwilight, "twilight option must be carried into the photoshoot creation request")
}

func TestWebhookProvider_UploadGroup_RejectsEmpty(t *testing.T) {
	p := enhancement.NewWebhookProvider("", "", "", "", "", "")
	_, err := p.UploadGroup(context.Background(), "listing-1", nil, nil)
	assert.Error(t, err)
}

func TestWebhookProvider_CheckStatus_AlwaysWebhookOnly(t *testing.T) {
	p := enhancement.NewWebhookProvider("", "", "", "", "", "")
	status, err := p.CheckStatus(context.Background(), models.EnhancementTicket{ID: "shoot-1"})
	require.NoError(t, err)
	assert.Equal(t, models.EnhancementWebhookOnly, status.State)
}

func TestWebhookProvider_GetResultURL_AlwaysErrors(t *testing.T) {
	p := enhancement.NewWebhookProvider("", "", "", "", "", "")
	_, err := p.GetResultURL(context.Background(), models.EnhancementTicket{ID: "shoot-1"})
	assert.Error(t, err)
}

func TestWebhookProvider_ProviderType(t *testing.T) {
	p := enhancement.NewWebhookProvider("", "", "", "", "", "")
	assert.Equal(t, models.EnhancementProviderWebhook, p.ProviderType())
}
