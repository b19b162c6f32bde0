package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/supoclip/api/internal/config"
	"github.com/supoclip/api/internal/logger"
	"github.com/supoclip/api/internal/model"
)

// Downloader fetches source media to local scratch storage
type Downloader interface {
	Download(ctx context.Context, source model.Source) (*DownloadResult, error)
}

// DownloadResult describes the fetched media file
type DownloadResult struct {
	FilePath string  `json:"file_path"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
}

// DownloadRequest is the request to the downloader sidecar
type DownloadRequest struct {
	URL       string `json:"url"`
	Type      string `json:"type,omitempty"`
	OutputDir string `json:"output_dir"`
}

// MediaDownloader talks to the yt-dlp sidecar service, which fetches
// YouTube (or already-uploaded) media onto the shared scratch volume
type MediaDownloader struct {
	httpClient *http.Client
	baseURL    string
	scratchDir string
}

func NewMediaDownloader(cfg *config.DownloaderConfig) *MediaDownloader {
	return &MediaDownloader{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:    cfg.ServiceURL,
		scratchDir: cfg.ScratchDir,
	}
}

// Download fetches the source media and returns its scratch path
func (c *MediaDownloader) Download(ctx context.Context, source model.Source) (*DownloadResult, error) {
	reqBody := DownloadRequest{
		URL:       source.URL,
		Type:      source.Type,
		OutputDir: c.scratchDir,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/download", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Service: "downloader", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result DownloadResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	logger.L.Debug().Str("url", source.URL).Str("path", result.FilePath).Msg("media downloaded")
	return &result, nil
}
