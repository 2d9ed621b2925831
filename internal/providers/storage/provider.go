// Package storage defines the uniform storage-provider contract
// (spec.md §4.2) and its two backend families: pathstore (Dropbox-shaped,
// path-addressed) and idstore (Google-Drive-shaped, id-addressed).
package storage

import (
	"context"
	"fmt"

	"snapflow-core/internal/models"
)

// UserInfo describes the authenticated account, as returned by connect.
type UserInfo struct {
	DisplayName string
	Email       string
	AccountType string
	NamespaceID string
}

// Provider is the capability set every storage backend must implement.
// download_file_partial falls back to a full download where native range
// support is unavailable — callers tolerate this per spec.md §4.2.
type Provider interface {
	Connect(ctx context.Context, credentials map[string]string) error
	ListFiles(ctx context.Context, folder string, extensions []string, recursive bool, maxFiles int) ([]models.FileReference, error)
	DownloadFile(ctx context.Context, id string) ([]byte, error)
	DownloadFilePartial(ctx context.Context, id string, start, end int64) ([]byte, error)
	UploadFile(ctx context.Context, destination string, content []byte, overwrite bool) error
	GetUserInfo() UserInfo
	ProviderType() string
}

// ErrNotConnected is returned by any operation attempted before Connect
// succeeds, matching the source's "ConnectionError: Not connected" guard
// repeated at the top of every Dropbox/Google Drive method.
var ErrNotConnected = fmt.Errorf("storage: not connected")
