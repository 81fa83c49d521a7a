package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"plantops/models"

	"go.uber.org/zap"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
)

// AnthropicReasoner asks the Anthropic Messages API for a decision.
type AnthropicReasoner struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	tracker    *UsageTracker
	logger     *zap.Logger
	maxRetries int
	baseDelay  time.Duration
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []anthropicBlock `json:"content"`
	Usage   struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewAnthropicReasoner(apiKey, model string, tracker *UsageTracker, logger *zap.Logger) *AnthropicReasoner {
	return &AnthropicReasoner{
		apiKey:     apiKey,
		baseURL:    anthropicBaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		tracker:    tracker,
		logger:     logger,
		maxRetries: 3,
		baseDelay:  2 * time.Second,
	}
}

// SetBaseURL points the client at another endpoint.
func (a *AnthropicReasoner) SetBaseURL(url string) {
	a.baseURL = strings.TrimRight(url, "/")
}

// SetRetryDelay sets the first retry delay; later retries double it.
func (a *AnthropicReasoner) SetRetryDelay(d time.Duration) {
	a.baseDelay = d
}

func (a *AnthropicReasoner) Decide(ctx context.Context, req *models.DecisionRequest) (*models.Decision, error) {
	content := []anthropicBlock{{Type: "text", Text: BuildUserPrompt(req)}}
	if photo := loadPhoto(req.PhotoPath, a.logger); photo != nil {
		content = append(content,
			anthropicBlock{
				Type: "image",
				Source: &anthropicImageSource{
					Type:      "base64",
					MediaType: "image/jpeg",
					Data:      base64.StdEncoding.EncodeToString(photo),
				},
			},
			anthropicBlock{Type: "text", Text: "A photo of the plant is attached above. Factor any visible stress into the decision."},
		)
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: maxDecisionTokens,
		System:    BuildSystemPrompt(req),
		Messages:  []anthropicMessage{{Role: "user", Content: content}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	a.logger.Info("Requesting plant decision",
		zap.String("provider", "anthropic"),
		zap.String("model", a.model),
		zap.Bool("photo", len(content) > 1))

	text, err := a.send(ctx, body)
	if err != nil {
		return nil, err
	}
	return ParseDecision(text)
}

// send posts body with retries on rate limits, server errors and transport
// failures. Other client errors fail immediately.
func (a *AnthropicReasoner) send(ctx context.Context, body []byte) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			delay := a.baseDelay * time.Duration(1<<uint(attempt-1))
			a.logger.Warn("Retrying reasoning request",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", a.maxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", a.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)

		resp, err := a.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("API returned status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
		}

		var parsed anthropicResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if parsed.Error != nil {
			return "", fmt.Errorf("API error: %s", parsed.Error.Message)
		}

		a.tracker.Record(parsed.Usage.InputTokens, parsed.Usage.OutputTokens)
		a.logger.Info("Decision response received",
			zap.Int64("input_tokens", parsed.Usage.InputTokens),
			zap.Int64("output_tokens", parsed.Usage.OutputTokens),
			zap.Float64("cumulative_cost_usd", a.tracker.EstimatedCostUSD()))

		var text strings.Builder
		for _, block := range parsed.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		if strings.TrimSpace(text.String()) == "" {
			return "", fmt.Errorf("reasoning service returned an empty response")
		}
		return text.String(), nil
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}
