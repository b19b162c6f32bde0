package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/supoclip/api/internal/config"
	"github.com/supoclip/api/internal/logger"
)

// Transcriber produces a transcript from a local media file
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath string) (string, error)
	IsConfigured() bool
}

// AssemblyAIClient handles communication with the AssemblyAI API:
// upload the media, submit a transcript job, poll until it settles
type AssemblyAIClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	pollTimeout  time.Duration
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL string `json:"audio_url"`
}

type transcriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"` // queued | processing | completed | error
	Text   string `json:"text"`
	Error  string `json:"error,omitempty"`
}

func NewAssemblyAIClient(cfg *config.TranscriberConfig) *AssemblyAIClient {
	return &AssemblyAIClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
	}
}

// Transcribe uploads the media file, submits a transcription job and
// polls until it completes
func (c *AssemblyAIClient) Transcribe(ctx context.Context, mediaPath string) (string, error) {
	uploadURL, err := c.upload(ctx, mediaPath)
	if err != nil {
		return "", err
	}

	submitted, err := c.submit(ctx, uploadURL)
	if err != nil {
		return "", err
	}

	return c.poll(ctx, submitted.ID)
}

func (c *AssemblyAIClient) upload(ctx context.Context, mediaPath string) (string, error) {
	f, err := os.Open(mediaPath)
	if err != nil {
		return "", fmt.Errorf("open media file: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", f)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	var result uploadResponse
	if err := c.doRequest(req, &result); err != nil {
		return "", err
	}
	return result.UploadURL, nil
}

func (c *AssemblyAIClient) submit(ctx context.Context, audioURL string) (*transcriptResponse, error) {
	bodyBytes, err := json.Marshal(transcriptRequest{AudioURL: audioURL})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcript", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var result transcriptResponse
	if err := c.doRequest(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// poll waits for the transcript job to settle
func (c *AssemblyAIClient) poll(ctx context.Context, transcriptID string) (string, error) {
	deadline := time.Now().Add(c.pollTimeout)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transcript/"+transcriptID, nil)
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", c.apiKey)

		var result transcriptResponse
		if err := c.doRequest(req, &result); err != nil {
			return "", err
		}

		logger.L.Debug().Int("attempt", attempt).Str("transcript_id", transcriptID).Str("status", result.Status).Msg("transcript poll")

		switch result.Status {
		case "completed":
			return result.Text, nil
		case "error":
			return "", fmt.Errorf("transcription failed: %s", result.Error)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}

	return "", fmt.Errorf("transcription timed out after %v", c.pollTimeout)
}

// doRequest executes an HTTP request and parses the response
func (c *AssemblyAIClient) doRequest(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Service: "assemblyai", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *AssemblyAIClient) IsConfigured() bool {
	return c.apiKey != ""
}
