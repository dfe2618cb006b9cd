package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

const (
	anthropicModel     = "claude-3-5-haiku-latest"
	anthropicMaxTokens = 1024
	initialBackoff     = 1 * time.Second
)

type AnthropicClient struct {
	client     anthropic.Client
	model      anthropic.Model
	maxRetries int
}

var _ domain.ChatClient = (*AnthropicClient)(nil)

// NewAnthropicClient returns a chat client. An empty model selects the default.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	if model == "" {
		model = anthropicModel
	}
	return &AnthropicClient{
		client:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:      anthropic.Model(model),
		maxRetries: maxRetries,
	}
}

// Chat sends a single-turn prompt and returns the first text block.
// Rate limits, server errors and network timeouts are retried with
// exponential backoff.
func (c *AnthropicClient) Chat(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := c.client.Messages.New(ctx, params)
		if err == nil {
			if len(message.Content) == 0 {
				return "", fmt.Errorf("anthropic API returned no content blocks")
			}
			content := message.Content[0]
			if content.Type != "text" {
				return "", fmt.Errorf("anthropic API returned non-text block (type=%s)", content.Type)
			}
			return strings.TrimSpace(content.Text), nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !anthropicRetryable(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("anthropic API failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func anthropicRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	return false
}
