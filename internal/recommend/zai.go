package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"cravehy/internal/config"
	"cravehy/internal/logging"
)

// ZAIClient calls the Z.AI chat completions API.
type ZAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
	sem         chan struct{} // Z.AI allows max 5 concurrent requests
}

// NewZAIClient creates a Z.AI client from configuration.
func NewZAIClient(cfg config.LLMConfig) *ZAIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.z.ai/api/paas/v4"
	}
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gemini") {
		model = "glm-4.6"
	}
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ZAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		sem:        make(chan struct{}, 5),
	}
}

type zaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type zaiRequest struct {
	Model       string       `json:"model"`
	Messages    []zaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
	TopP        float64      `json:"top_p,omitempty"`
}

type zaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Complete sends a prompt with a system message and returns the
// completion.
func (c *ZAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("API key not configured")
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	// At least 600ms between requests
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 600*time.Millisecond {
		time.Sleep(600*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	messages := make([]zaiMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, zaiMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, zaiMessage{Role: "user", Content: userPrompt})

	reqBody := zaiRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   4096,
		Temperature: 0.1,
		TopP:        0.9,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	// Retry loop for 429 errors
	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s, 4s
			time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			logging.RecommendDebug("zai 429, attempt %d", i+1)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var zResp zaiResponse
		if err := json.Unmarshal(body, &zResp); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if zResp.Error != nil {
			return "", fmt.Errorf("API error: %s", zResp.Error.Message)
		}
		if len(zResp.Choices) == 0 {
			return "", fmt.Errorf("no completion returned")
		}

		logging.API("zai %s: prompt %d chars, completion %d chars",
			c.model, len(userPrompt), len(zResp.Choices[0].Message.Content))
		return strings.TrimSpace(zResp.Choices[0].Message.Content), nil
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Name returns the provider and model.
func (c *ZAIClient) Name() string {
	return fmt.Sprintf("zai:%s", c.model)
}
