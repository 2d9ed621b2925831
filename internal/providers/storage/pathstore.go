package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"snapflow-core/internal/models"
)

// PathStore is the path-addressed backend (spec Backend A,
// Dropbox-shaped): refresh-token OAuth2, and a single-shot-vs-chunked
// upload split at 8 MiB. An optional team-member id is sent only on the
// connect-time account lookup; list, download and upload requests carry
// neither a member-selection header nor a namespace path root.
// Grounded on
// original_source/lib/shared/providers/storage/dropbox_provider.py.
type PathStore struct {
	httpClient *http.Client
	tokenURL   string
	contentURL string
	apiURL     string

	accessToken string
	connected   bool
	userInfo    UserInfo
}

const (
	pathStoreUploadChunkSize = 8 * 1024 * 1024
	pathStoreSmallUploadMax  = 8 * 1024 * 1024
)

// NewPathStore builds a PathStore pointed at the given API hosts. The three
// URLs are separated (rather than hardcoded) so tests can point at a fake
// server — the teacher's own clients take a baseURL constructor argument
// for the same reason.
func NewPathStore(tokenURL, contentURL, apiURL string) *PathStore {
	return &PathStore{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokenURL:   tokenURL,
		contentURL: contentURL,
		apiURL:     apiURL,
	}
}

func (p *PathStore) ProviderType() string { return models.StorageProviderPathAddressed }

func (p *PathStore) GetUserInfo() UserInfo { return p.userInfo }

// Connect exchanges the refresh token for an access token and, when
// memberID is present, sends it on the account lookup and marks the account
// as "team". The caller
// supplies credentials via the map produced by internal/credentials —
// refresh_token, app_key, app_secret, and the optional, unencrypted
// dropbox_team_member_id.
func (p *PathStore) Connect(ctx context.Context, credentials map[string]string) error {
	refreshToken := credentials[models.FieldDropboxRefreshToken]
	appKey := credentials[models.FieldDropboxAppKey]
	appSecret := credentials[models.FieldDropboxAppSecret]
	memberID := credentials[models.FieldDropboxTeamMemberID]

	if refreshToken == "" || appKey == "" || appSecret == "" {
		return fmt.Errorf("pathstore: missing required credentials")
	}

	token, err := p.refreshAccessToken(ctx, refreshToken, appKey, appSecret)
	if err != nil {
		return fmt.Errorf("pathstore: token refresh failed: %w", err)
	}
	p.accessToken = token

	accountType := "personal"
	if memberID != "" {
		accountType = "team"
	}

	user, err := p.fetchCurrentAccount(ctx, memberID)
	if err != nil {
		return fmt.Errorf("pathstore: connect failed: %w", err)
	}
	user.AccountType = accountType
	p.userInfo = user
	p.connected = true
	return nil
}

func (p *PathStore) refreshAccessToken(ctx context.Context, refreshToken, appKey, appSecret string) (string, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {appKey},
		"client_secret": {appSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("no access_token in response")
	}
	return parsed.AccessToken, nil
}

func (p *PathStore) fetchCurrentAccount(ctx context.Context, memberID string) (UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/users/get_current_account", nil)
	if err != nil {
		return UserInfo{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	if memberID != "" {
		req.Header.Set("Dropbox-API-Select-Admin", memberID)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return UserInfo{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return UserInfo{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return UserInfo{}, fmt.Errorf("get_current_account returned %d: %s", resp.StatusCode, string(body))
	}

	var account struct {
		Name struct {
			DisplayName string `json:"display_name"`
		} `json:"name"`
		Email    string `json:"email"`
		RootInfo struct {
			RootNamespaceID string `json:"root_namespace_id"`
		} `json:"root_info"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return UserInfo{}, fmt.Errorf("decoding account response: %w", err)
	}

	return UserInfo{
		DisplayName: account.Name.DisplayName,
		Email:       account.Email,
		NamespaceID: account.RootInfo.RootNamespaceID,
	}, nil
}

// ListFiles mirrors files_list_folder: the caller's extension filter is
// applied case-insensitively against entry.name.
func (p *PathStore) ListFiles(ctx context.Context, folder string, extensions []string, recursive bool, maxFiles int) ([]models.FileReference, error) {
	if !p.connected {
		return nil, ErrNotConnected
	}
	normalized := NormalizePath(folder)

	reqBody, _ := json.Marshal(map[string]any{
		"path":      normalized,
		"recursive": recursive,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/files/list_folder", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var listing struct {
		Entries []struct {
			Tag       string `json:".tag"`
			Name      string `json:"name"`
			PathLower string `json:"path_lower"`
			Size      int64  `json:"size"`
		} `json:"entries"`
		HasMore bool   `json:"has_more"`
		Cursor  string `json:"cursor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("pathstore: decoding list_folder response: %w", err)
	}

	var refs []models.FileReference
	for _, e := range listing.Entries {
		if e.Tag != "file" {
			continue
		}
		if len(extensions) > 0 && !matchesExtension(e.Name, extensions) {
			continue
		}
		refs = append(refs, models.FileReference{Name: e.Name, ID: e.PathLower, Size: e.Size})
		if maxFiles > 0 && len(refs) >= maxFiles {
			return refs, nil
		}
	}
	return refs, nil
}

func matchesExtension(name string, extensions []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

func (p *PathStore) DownloadFile(ctx context.Context, id string) ([]byte, error) {
	if !p.connected {
		return nil, ErrNotConnected
	}
	return p.download(ctx, id, "")
}

// DownloadFilePartial uses a byte-range header; Dropbox's content API
// honours Range even on the download endpoint.
func (p *PathStore) DownloadFilePartial(ctx context.Context, id string, start, end int64) ([]byte, error) {
	if !p.connected {
		return nil, ErrNotConnected
	}
	var rangeHeader string
	if end <= 0 {
		rangeHeader = fmt.Sprintf("bytes=%d-", start)
	} else {
		rangeHeader = fmt.Sprintf("bytes=%d-%d", start, end-1)
	}
	return p.download(ctx, id, rangeHeader)
}

func (p *PathStore) download(ctx context.Context, id, rangeHeader string) ([]byte, error) {
	normalized := NormalizePath(id)
	apiArg, _ := json.Marshal(map[string]string{"path": normalized})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.contentURL+"/files/download", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Dropbox-API-Arg", string(apiArg))
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("pathstore: file not found: %s", normalized)
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("pathstore: download failed (%d): %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

// UploadFile splits on the 8 MiB boundary: small files go through the
// single-shot endpoint, larger ones through start/append/finish.
func (p *PathStore) UploadFile(ctx context.Context, destination string, content []byte, overwrite bool) error {
	if !p.connected {
		return ErrNotConnected
	}
	normalized := NormalizePath(destination)
	mode := "add"
	if overwrite {
		mode = "overwrite"
	}

	if len(content) <= pathStoreSmallUploadMax {
		return p.simpleUpload(ctx, normalized, content, mode)
	}
	return p.chunkedUpload(ctx, normalized, content, mode)
}

func (p *PathStore) simpleUpload(ctx context.Context, path string, content []byte, mode string) error {
	apiArg, _ := json.Marshal(map[string]any{"path": path, "mode": mode})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.contentURL+"/files/upload", bytes.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Dropbox-API-Arg", string(apiArg))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pathstore: upload failed (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}

func (p *PathStore) chunkedUpload(ctx context.Context, path string, content []byte, mode string) error {
	sessionID, err := p.startSession(ctx, content[:pathStoreUploadChunkSize])
	if err != nil {
		return fmt.Errorf("pathstore: starting upload session: %w", err)
	}

	offset := pathStoreUploadChunkSize
	for offset < len(content) {
		chunkEnd := offset + pathStoreUploadChunkSize
		if chunkEnd >= len(content) {
			return p.finishSession(ctx, sessionID, offset, content[offset:], path, mode)
		}
		if err := p.appendSession(ctx, sessionID, offset, content[offset:chunkEnd]); err != nil {
			return fmt.Errorf("pathstore: appending upload chunk: %w", err)
		}
		offset = chunkEnd
	}
	return nil
}

func (p *PathStore) startSession(ctx context.Context, chunk []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.contentURL+"/files/upload_session/start", bytes.NewReader(chunk))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	return parsed.SessionID, nil
}

func (p *PathStore) appendSession(ctx context.Context, sessionID string, offset int, chunk []byte) error {
	apiArg := mustJSON(map[string]any{"cursor": map[string]any{"session_id": sessionID, "offset": offset}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.contentURL+"/files/upload_session/append_v2", bytes.NewReader(chunk))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Dropbox-API-Arg", string(apiArg))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("append_v2 failed (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}

func (p *PathStore) finishSession(ctx context.Context, sessionID string, offset int, finalChunk []byte, path, mode string) error {
	cursor := map[string]any{"session_id": sessionID, "offset": offset}
	commit := map[string]any{"path": path, "mode": mode}
	apiArg := mustJSON(map[string]any{"cursor": cursor, "commit": commit})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.contentURL+"/files/upload_session/finish", bytes.NewReader(finalChunk))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Dropbox-API-Arg", string(apiArg))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload_session/finish failed (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// NormalizePath applies the normalization rules Backend A requires:
// backslashes to forward slashes, a leading slash, collapsed duplicate
// slashes, no trailing slash (unless root), all lowercase. It is applied by
// every PathStore method that takes a caller-supplied path, and is the
// single normalization pass the finalize destination-join Open Question
// (spec.md §9) resolves to.
func NormalizePath(path string) string {
	if path == "" {
		return path
	}
	normalized := strings.ReplaceAll(path, "\\", "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	for strings.Contains(normalized, "//") {
		normalized = strings.ReplaceAll(normalized, "//", "/")
	}
	if len(normalized) > 1 && strings.HasSuffix(normalized, "/") {
		normalized = normalized[:len(normalized)-1]
	}
	return strings.ToLower(normalized)
}

// JoinDestination builds the "<folder>/<filename>" destination path for
// Backend A, followed by the single NormalizePath pass — the fix for the
// inconsistent joining the Open Question in spec.md §9 calls out.
func JoinDestination(folder, filename string) string {
	return NormalizePath(strings.TrimSuffix(folder, "/") + "/" + filename)
}
