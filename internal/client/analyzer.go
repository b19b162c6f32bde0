package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/supoclip/api/internal/config"
	"github.com/supoclip/api/internal/model"
)

// Analyzer finds the most clip-worthy segments of a transcript
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) ([]model.Highlight, error)
	IsConfigured() bool
}

const analyzeSystemPrompt = `You are a short-form video editor. Given a timestamped transcript,
select the segments most likely to perform as standalone clips.
Respond with a JSON object: {"segments": [{"start_time": float seconds,
"end_time": float seconds, "text": string, "relevance_score": float 0-1,
"reasoning": string}]}. Pick at most 5 segments of 15-60 seconds each.
Respond with JSON only.`

// GroqAnalyzer handles communication with the Groq chat-completions API
type GroqAnalyzer struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type highlightPayload struct {
	Segments []struct {
		StartTime      float64 `json:"start_time"`
		EndTime        float64 `json:"end_time"`
		Text           string  `json:"text"`
		RelevanceScore float64 `json:"relevance_score"`
		Reasoning      string  `json:"reasoning"`
	} `json:"segments"`
}

func NewGroqAnalyzer(cfg *config.AnalyzerConfig) *GroqAnalyzer {
	return &GroqAnalyzer{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// Analyze asks the model for the most relevant transcript segments
func (c *GroqAnalyzer) Analyze(ctx context.Context, transcript string) ([]model.Highlight, error) {
	content, err := c.chatCompletion(ctx, analyzeSystemPrompt, transcript)
	if err != nil {
		return nil, err
	}

	// Models occasionally wrap JSON in a code fence
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var payload highlightPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}
	if len(payload.Segments) == 0 {
		return nil, fmt.Errorf("analysis returned no segments")
	}

	highlights := make([]model.Highlight, 0, len(payload.Segments))
	for _, s := range payload.Segments {
		highlights = append(highlights, model.Highlight{
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
			Text:      s.Text,
			Relevance: s.RelevanceScore,
			Reasoning: s.Reasoning,
		})
	}
	return highlights, nil
}

// chatCompletion sends a chat completion request
func (c *GroqAnalyzer) chatCompletion(ctx context.Context, system, user string) (string, error) {
	reqBody := ChatCompletionRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.3,
		MaxTokens:   2048,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Service: "groq", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GroqAnalyzer) IsConfigured() bool {
	return c.apiKey != ""
}
