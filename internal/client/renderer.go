package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/supoclip/api/internal/config"
	"github.com/supoclip/api/internal/model"
)

// ClipRenderer cuts, captions and transitions clips out of the source
// media. Video encoding is CPU-heavy and runs in its own service.
type ClipRenderer interface {
	RenderClips(ctx context.Context, req *RenderClipsRequest) ([]RenderedClip, error)
}

// ClipSegment is one segment to cut
type ClipSegment struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Caption   string  `json:"caption"`
}

// RenderClipsRequest is the request to the video service
type RenderClipsRequest struct {
	MediaPath  string        `json:"media_path"`
	Segments   []ClipSegment `json:"segments"`
	FontFamily string        `json:"font_family"`
	FontSize   int           `json:"font_size"`
	FontColor  string        `json:"font_color"`
}

// RenderedClip is one produced clip file
type RenderedClip struct {
	FilePath  string  `json:"file_path"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Caption   string  `json:"caption"`
}

type renderClipsResponse struct {
	Clips []RenderedClip `json:"clips"`
}

// VideoServiceClient implements ClipRenderer for the video microservice
type VideoServiceClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewVideoServiceClient(cfg *config.RendererConfig) *VideoServiceClient {
	return &VideoServiceClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: cfg.ServiceURL,
	}
}

// RenderClips sends the segments to the video service
func (c *VideoServiceClient) RenderClips(ctx context.Context, req *RenderClipsRequest) ([]RenderedClip, error) {
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/clips", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Service: "video", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result renderClipsResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(result.Clips) == 0 {
		return nil, fmt.Errorf("video service produced no clips")
	}
	return result.Clips, nil
}

// SegmentsFromHighlights converts analyzer output to render segments
func SegmentsFromHighlights(highlights []model.Highlight) []ClipSegment {
	segments := make([]ClipSegment, 0, len(highlights))
	for _, h := range highlights {
		segments = append(segments, ClipSegment{
			StartTime: h.StartTime,
			EndTime:   h.EndTime,
			Caption:   h.Text,
		})
	}
	return segments
}
