package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/zed-wong/modified-autoglm/internal/config"
)

// Response is one model turn split into its reasoning trail and the action
// text the parser consumes.
type Response struct {
	Thinking string
	Action   string
}

// Client is the inference contract the orchestrator depends on: one
// synchronous request over the full context, which may fail.
type Client interface {
	Request(ctx context.Context, messages []Message) (Response, error)
}

// HTTPClient talks to an OpenAI-compatible chat-completions endpoint (the
// original deployment target is a local vLLM server).
type HTTPClient struct {
	cfg        config.ModelConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient builds a client from the model configuration.
func NewHTTPClient(cfg config.ModelConfig, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.APITimeout},
		logger:     logger.Named("model"),
	}
}

// -- chat-completions wire structures --

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	TopP        float32       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Request sends the context and returns the split model turn. Transport
// failures and 5xx responses are retried with exponential backoff up to the
// configured cap; 4xx responses fail immediately.
func (c *HTTPClient) Request(ctx context.Context, messages []Message) (Response, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    wireMessages(messages),
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal chat request: %w", err)
	}

	var content string
	operation := func() error {
		var opErr error
		content, opErr = c.post(ctx, payload)
		return opErr
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.MaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return Response{}, fmt.Errorf("model request failed: %w", err)
	}

	thinking, action := SplitResponse(content)
	return Response{Thinking: thinking, Action: action}, nil
}

func (c *HTTPClient) post(ctx context.Context, payload []byte) (string, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("model transport error", zap.Error(err))
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", err
	}

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("model endpoint returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", backoff.Permanent(fmt.Errorf("model endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 500)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", backoff.Permanent(fmt.Errorf("decode model response: %w", err))
	}
	if parsed.Error != nil {
		return "", backoff.Permanent(fmt.Errorf("model error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", backoff.Permanent(fmt.Errorf("model response carried no choices"))
	}

	c.logger.Debug("model turn",
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("response_bytes", len(body)))
	return parsed.Choices[0].Message.Content, nil
}

// wireMessages renders context messages into chat-completions form. A user
// message with a screenshot becomes a two-part content array with the image
// as a data URL.
func wireMessages(messages []Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		if m.ImageBase64 == "" {
			out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
			continue
		}
		out = append(out, chatMessage{
			Role: string(m.Role),
			Content: []contentPart{
				{Type: "text", Text: m.Content},
				{Type: "image_url", ImageURL: &imageURL{
					URL: "data:image/png;base64," + m.ImageBase64,
				}},
			},
		})
	}
	return out
}

// SplitResponse separates a raw model turn into thinking and action text.
// The fine-tuned model wraps them in <think>/<answer> tags; without tags,
// the last do(...)/finish(...) line is the action and everything before it
// the thinking.
func SplitResponse(content string) (thinking, action string) {
	if inner, ok := between(content, "<answer>", "</answer>"); ok {
		action = strings.TrimSpace(inner)
		if t, ok := between(content, "<think>", "</think>"); ok {
			thinking = strings.TrimSpace(t)
		} else {
			head, _, _ := strings.Cut(content, "<answer>")
			thinking = strings.TrimSpace(head)
		}
		return thinking, action
	}

	lines := strings.Split(content, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "do(") || strings.HasPrefix(trimmed, "finish(") {
			return strings.TrimSpace(strings.Join(lines[:i], "\n")), trimmed
		}
	}
	return "", strings.TrimSpace(content)
}

func between(s, open, close string) (string, bool) {
	_, rest, ok := strings.Cut(s, open)
	if !ok {
		return "", false
	}
	inner, _, ok := strings.Cut(rest, close)
	if !ok {
		return "", false
	}
	return inner, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
