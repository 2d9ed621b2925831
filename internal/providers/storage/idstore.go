package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"snapflow-core/internal/models"
)

// IDStore is the id-addressed backend (spec Backend B, Google-Drive-shaped):
// OAuth2 with a refresh token exchanged for an access token once, in
// Connect (no later request refreshes it), a MIME-type query for listing, and no native partial-download support —
// callers always get a full object sliced in memory.
type IDStore struct {
	httpClient *http.Client
	tokenURL   string
	apiURL     string

	accessToken string
	connected   bool
	userInfo    UserInfo

	// refreshed/refreshedAccessToken record the access token Connect minted,
	// so the caller can persist it.
	refreshed            bool
	refreshedAccessToken string
}

// defaultRawMimeFallbackExtensions catches files the backend reports as
// application/octet-stream — common for RAW formats it doesn't recognise.
var defaultRawMimeFallbackExtensions = []string{".dng", ".raw", ".cr2", ".nef", ".arw", ".orf", ".rw2", ".cr3"}

var mimeQuery = []string{
	"image/jpeg", "image/png", "image/tiff",
	"image/x-adobe-dng", "image/x-canon-cr2", "image/x-canon-cr3",
	"image/x-nikon-nef", "image/x-sony-arw", "image/x-olympus-orf", "image/x-panasonic-rw2",
	"application/octet-stream",
}

func NewIDStore(tokenURL, apiURL string) *IDStore {
	return &IDStore{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokenURL:   tokenURL,
		apiURL:     apiURL,
	}
}

func (s *IDStore) ProviderType() string { return models.StorageProviderIDAddressed }

func (s *IDStore) GetUserInfo() UserInfo { return s.userInfo }

// WasRefreshed reports whether Connect minted a new access token this
// invocation (true after every successful Connect; no other path refreshes
// the token), and RefreshedToken exposes that access token alone, not the
// refresh token or expiry.
func (s *IDStore) WasRefreshed() bool     { return s.refreshed }
func (s *IDStore) RefreshedToken() string { return s.refreshedAccessToken }

func (s *IDStore) Connect(ctx context.Context, credentials map[string]string) error {
	clientID := credentials[models.FieldGoogleDriveClientID]
	clientSecret := credentials[models.FieldGoogleDriveClientSecret]
	refreshToken := credentials[models.FieldGoogleDriveRefreshToken]

	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return fmt.Errorf("idstore: missing required credentials")
	}

	token, err := s.refreshAccessToken(ctx, clientID, clientSecret, refreshToken)
	if err != nil {
		return fmt.Errorf("idstore: token refresh failed: %w", err)
	}
	s.accessToken = token
	s.refreshed = true
	s.refreshedAccessToken = token

	user, err := s.fetchAbout(ctx)
	if err != nil {
		return fmt.Errorf("idstore: connect failed: %w", err)
	}
	user.AccountType = "personal"
	s.userInfo = user
	s.connected = true
	return nil
}

func (s *IDStore) refreshAccessToken(ctx context.Context, clientID, clientSecret, refreshToken string) (string, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
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
		return "", err
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("no access_token in response")
	}
	return parsed.AccessToken, nil
}

func (s *IDStore) fetchAbout(ctx context.Context) (UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"/about?fields=user", nil)
	if err != nil {
		return UserInfo{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return UserInfo{}, err
	}
	defer resp.Body.Close()

	var parsed struct {
		User struct {
			DisplayName  string `json:"displayName"`
			EmailAddress string `json:"emailAddress"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return UserInfo{}, err
	}
	return UserInfo{DisplayName: parsed.User.DisplayName, Email: parsed.User.EmailAddress}, nil
}

// ListFiles builds the MIME-type query, then applies the caller's extension
// filter again to catch octet-stream-reported RAW files.
func (s *IDStore) ListFiles(ctx context.Context, folder string, extensions []string, recursive bool, maxFiles int) ([]models.FileReference, error) {
	if !s.connected {
		return nil, ErrNotConnected
	}

	mimeClauses := make([]string, 0, len(mimeQuery))
	for _, m := range mimeQuery {
		mimeClauses = append(mimeClauses, fmt.Sprintf("mimeType='%s'", m))
	}
	query := fmt.Sprintf("'%s' in parents and trashed=false and (%s)", folder, strings.Join(mimeClauses, " or "))

	q := url.Values{}
	q.Set("q", query)
	q.Set("fields", "files(id,name,size,mimeType)")
	if maxFiles > 0 {
		q.Set("pageSize", fmt.Sprintf("%d", maxFiles))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"/files?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Files []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Size     string `json:"size"`
			MimeType string `json:"mimeType"`
		} `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("idstore: decoding files.list response: %w", err)
	}

	allowed := defaultRawMimeFallbackExtensions
	if len(extensions) > 0 {
		allowed = extensions
	}

	var refs []models.FileReference
	for _, f := range parsed.Files {
		if f.MimeType == "application/octet-stream" && !matchesExtension(f.Name, allowed) {
			continue
		}
		var size int64
		fmt.Sscanf(f.Size, "%d", &size)
		refs = append(refs, models.FileReference{Name: f.Name, ID: f.ID, Size: size})
		if maxFiles > 0 && len(refs) >= maxFiles {
			break
		}
	}
	return refs, nil
}

func (s *IDStore) DownloadFile(ctx context.Context, id string) ([]byte, error) {
	if !s.connected {
		return nil, ErrNotConnected
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"/files/"+id+"?alt=media", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("idstore: file not found: %s", id)
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("idstore: download failed (%d): %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

// DownloadFilePartial has no native support on this backend: it downloads
// the whole object and slices in memory, per spec.md §4.2.
func (s *IDStore) DownloadFilePartial(ctx context.Context, id string, start, end int64) ([]byte, error) {
	full, err := s.DownloadFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if end <= 0 || end > int64(len(full)) {
		end = int64(len(full))
	}
	if start > end {
		start = end
	}
	return full[start:end], nil
}

// UploadFile expects destination in "<folder_id>/<filename>" form. It
// checks for an existing file of the same name in the parent folder first:
// present + overwrite allowed updates in place, otherwise it creates a new
// file.
func (s *IDStore) UploadFile(ctx context.Context, destination string, content []byte, overwrite bool) error {
	if !s.connected {
		return ErrNotConnected
	}
	folderID, filename, err := splitIDDestination(destination)
	if err != nil {
		return err
	}

	existingID := ""
	if overwrite {
		existingID, err = s.findExistingFile(ctx, folderID, filename)
		if err != nil {
			return fmt.Errorf("idstore: checking for existing file: %w", err)
		}
	}

	if existingID != "" {
		return s.updateFileContent(ctx, existingID, content)
	}
	return s.createFile(ctx, folderID, filename, content)
}

func splitIDDestination(destination string) (folderID, filename string, err error) {
	idx := strings.LastIndex(destination, "/")
	if idx < 0 {
		return "", "", fmt.Errorf("idstore: destination %q is not folder_id/filename", destination)
	}
	return destination[:idx], destination[idx+1:], nil
}

func (s *IDStore) findExistingFile(ctx context.Context, folderID, filename string) (string, error) {
	query := fmt.Sprintf("'%s' in parents and name='%s' and trashed=false", folderID, filename)
	q := url.Values{"q": {query}, "fields": {"files(id)"}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"/files?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed struct {
		Files []struct {
			ID string `json:"id"`
		} `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Files) == 0 {
		return "", nil
	}
	return parsed.Files[0].ID, nil
}

func (s *IDStore) createFile(ctx context.Context, folderID, filename string, content []byte) error {
	metadata := map[string]any{"name": filename, "parents": []string{folderID}}
	body, contentType, err := multipartUploadBody(metadata, content)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/upload/files?uploadType=multipart", body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("idstore: create file failed (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (s *IDStore) updateFileContent(ctx context.Context, fileID string, content []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, s.apiURL+"/upload/files/"+fileID+"?uploadType=media", bytes.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("idstore: update file failed (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func multipartUploadBody(metadata map[string]any, content []byte) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	metaPart, err := writer.CreatePart(map[string][]string{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return nil, "", err
	}
	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return nil, "", err
	}
	if _, err := metaPart.Write(metaBytes); err != nil {
		return nil, "", err
	}

	mediaPart, err := writer.CreatePart(map[string][]string{"Content-Type": {"application/octet-stream"}})
	if err != nil {
		return nil, "", err
	}
	if _, err := mediaPart.Write(content); err != nil {
		return nil, "", err
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf, writer.FormDataContentType(), nil
}
