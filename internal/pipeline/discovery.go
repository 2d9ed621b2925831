package pipeline

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"snapflow-core/internal/bracketing"
	"snapflow-core/internal/filetype"
	"snapflow-core/internal/models"
	"snapflow-core/internal/providers/storage"
)

const (
	discoveryFilesPerPage = 25
	discoveryWorkerCount  = 3
	discoveryHeaderBytes  = 64 * 1024
)

const discoveryFunctionName = "discovery"

// Discovery dispatches to one of the three operating modes spec.md §6
// describes: "discovery" lists a source folder, "process_page" extracts
// EXIF metadata for one page of already-listed files, and "make_bracket"
// groups an aggregated metadata set into exposure brackets. Grounded on
// original_source/packages/snapflow/discovery/__main__.py's helper
// functions; the original's mode-dispatch entry point itself was not part
// of the retrieved reference material, so the HTTP contract below follows
// spec.md §6 directly.
func Discovery(ctx context.Context, rawEvent map[string]any, deps Deps) StageResponse {
	deps = deps.WithDefaults()
	version := "1.0.0-" + discoveryFunctionName

	data, ok := parseEventData(rawEvent)
	if !ok {
		return errorResponse(http.StatusBadRequest, "invalid request format", "", version)
	}

	switch mode := getString(data, "mode"); mode {
	case "discovery":
		return discoveryList(ctx, data, deps, version)
	case "process_page":
		return discoveryProcessPage(ctx, data, deps, version)
	case "make_bracket":
		return discoveryMakeBracket(data, version)
	default:
		return errorResponse(http.StatusBadRequest, fmt.Sprintf("unknown mode %q", mode), "", version)
	}
}

// discoveryList connects to the selected storage backend and lists every
// supported-extension file under folder, applying the optional max_files
// cap the provider itself enforces.
func discoveryList(ctx context.Context, data map[string]any, deps Deps, version string) StageResponse {
	providerType := getString(data, "storage_provider")
	folder := getString(data, "folder")
	if providerType == "" || folder == "" {
		return errorResponse(http.StatusBadRequest, "storage_provider and folder are required", "", version)
	}

	creds := extractStorageCreds(data, providerType)
	provider, err := deps.StorageFactory.Create(ctx, providerType, creds)
	if err != nil {
		return errorResponse(http.StatusBadGateway, fmt.Sprintf("storage connection failed: %v", err), "", version)
	}

	maxFiles := intOr(data["max_files"], 0)
	recursive := getBool(data, "recursive")
	files, err := provider.ListFiles(ctx, folder, filetype.SupportedExtensions(), recursive, maxFiles)
	if err != nil {
		return errorResponse(http.StatusBadGateway, fmt.Sprintf("list files failed: %v", err), "", version)
	}

	totalFiles := len(files)
	totalPages := 0
	if totalFiles > 0 {
		totalPages = int(math.Ceil(float64(totalFiles) / float64(discoveryFilesPerPage)))
	}

	return jsonResponse(http.StatusOK, map[string]any{
		"total_files":       totalFiles,
		"total_pages":       totalPages,
		"files_per_page":    discoveryFilesPerPage,
		"session_id":        uuid.NewString(),
		"all_files":         files,
		"file_limit_active": maxFiles > 0,
		"max_files_applied": maxFiles > 0 && totalFiles >= maxFiles,
	})
}

// discoveryProcessPage slices page_number out of all_files and extracts
// EXIF capture metadata for each file in that slice, bounded to
// discoveryWorkerCount concurrent downloads with a per-file retry.
func discoveryProcessPage(ctx context.Context, data map[string]any, deps Deps, version string) StageResponse {
	if getString(data, "session_id") == "" {
		return errorResponse(http.StatusBadRequest, "session_id is required", "", version)
	}
	pageNumber := intOr(data["page_number"], 1)

	var allFiles []models.FileReference
	if err := decodeInto(data["all_files"], &allFiles); err != nil {
		return errorResponse(http.StatusBadRequest, "all_files is required", "", version)
	}

	start := (pageNumber - 1) * discoveryFilesPerPage
	if start < 0 || start >= len(allFiles) {
		return jsonResponse(http.StatusOK, map[string]any{"metadata": []models.FileMetadataRecord{}})
	}
	end := start + discoveryFilesPerPage
	if end > len(allFiles) {
		end = len(allFiles)
	}
	page := allFiles[start:end]

	providerType := getString(data, "storage_provider")
	creds := extractStorageCreds(data, providerType)
	provider, err := deps.StorageFactory.Create(ctx, providerType, creds)
	if err != nil {
		return errorResponse(http.StatusBadGateway, fmt.Sprintf("storage connection failed: %v", err), "", version)
	}

	records := make([]models.FileMetadataRecord, len(page))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(discoveryWorkerCount)

	for i, ref := range page {
		i, ref := i, ref
		group.Go(func() error {
			record, err := extractFileMetadata(groupCtx, provider, ref)
			if err != nil {
				deps.Logger.Warn("discovery: metadata extraction failed",
					zap.String("file", ref.Name), zap.Error(err))
				records[i] = models.FileMetadataRecord{Name: ref.Name, PathLower: ref.ID}
				return nil
			}
			records[i] = record
			return nil
		})
	}
	_ = group.Wait()

	return jsonResponse(http.StatusOK, map[string]any{"metadata": records})
}

// extractFileMetadata downloads just enough of a file to read its EXIF
// segment — a partial range for traditional RAW formats, the full object
// otherwise (CR3's metadata lives inside its MP4-style container and JPEG/
// TIFF files are small enough that a partial fetch buys nothing) — retrying
// up to 3 times with a fixed 2s delay on transient download failures.
func extractFileMetadata(ctx context.Context, provider storage.Provider, ref models.FileReference) (models.FileMetadataRecord, error) {
	operation := func() (models.FileMetadataRecord, error) {
		var content []byte
		var err error
		if filetype.IsRawFile(ref.Name) {
			content, err = provider.DownloadFilePartial(ctx, ref.ID, 0, discoveryHeaderBytes)
		} else {
			content, err = provider.DownloadFile(ctx, ref.ID)
		}
		if err != nil {
			return models.FileMetadataRecord{}, err
		}

		manufacturer := ""
		if bracketing.IsDJIFile(ref.Name) {
			manufacturer = "dji"
		}
		return models.FileMetadataRecord{
			Name:         ref.Name,
			PathLower:    ref.ID,
			DateTaken:    bracketing.ExtractCaptureTime(content, ref.Name),
			Manufacturer: manufacturer,
		}, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(2*time.Second)),
		backoff.WithMaxTries(4))
}

// discoveryMakeBracket groups an already-EXIF'd metadata set into
// brackets, tolerating the doubly-nested array shape the gateway/discovery
// envelopes are documented to sometimes emit.
func discoveryMakeBracket(data map[string]any, version string) StageResponse {
	if data["aggregated_metadata"] == nil {
		return errorResponse(http.StatusBadRequest, "aggregated_metadata is required", "", version)
	}

	var timeDelta *float64
	if v, ok := data["time_delta_seconds"].(float64); ok {
		timeDelta = &v
	}

	var records []models.FileMetadataRecord
	if err := decodeInto(data["aggregated_metadata"], &records); err != nil || len(records) == 0 {
		var nested [][]models.FileMetadataRecord
		if nestedErr := decodeInto(data["aggregated_metadata"], &nested); nestedErr != nil {
			return errorResponse(http.StatusBadRequest, "aggregated_metadata is required", "", version)
		}
		records = bracketing.Flatten(nested)
	}

	brackets, err := bracketing.Group(records, timeDelta)
	if err != nil {
		return errorResponse(http.StatusBadRequest, err.Error(), "", version)
	}

	return jsonResponse(http.StatusOK, brackets)
}
