package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zed-wong/modified-autoglm/internal/config"
)

func testModelConfig(baseURL string) config.ModelConfig {
	return config.ModelConfig{
		BaseURL:    baseURL,
		Model:      "autoglm-phone-9b",
		APIKey:     "EMPTY",
		APITimeout: 5 * time.Second,
		MaxRetries: 2,
	}
}

func chatReply(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(b)
}

func TestRequest_SplitsThinkAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer EMPTY", r.Header.Get("Authorization"))
		fmt.Fprint(w, chatReply("<think>the button is at the top</think><answer>do(action=\"Tap\", element=[500, 100])</answer>"))
	}))
	defer srv.Close()

	c := NewHTTPClient(testModelConfig(srv.URL+"/v1"), zaptest.NewLogger(t))
	resp, err := c.Request(context.Background(), []Message{SystemMessage("prompt")})
	require.NoError(t, err)
	assert.Equal(t, "the button is at the top", resp.Thinking)
	assert.Equal(t, `do(action="Tap", element=[500, 100])`, resp.Action)
}

func TestRequest_ImageBecomesDataURLPart(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, chatReply("<answer>finish(message=\"done\")</answer>"))
	}))
	defer srv.Close()

	c := NewHTTPClient(testModelConfig(srv.URL+"/v1"), zaptest.NewLogger(t))
	_, err := c.Request(context.Background(), []Message{
		UserMessage("look at this", "aW1hZ2U="),
	})
	require.NoError(t, err)

	require.Len(t, captured.Messages, 1)
	parts, ok := captured.Messages[0].Content.([]any)
	require.True(t, ok, "image message must use the content-parts form")
	require.Len(t, parts, 2)
	imagePart := parts[1].(map[string]any)
	assert.Equal(t, "image_url", imagePart["type"])
	url := imagePart["image_url"].(map[string]any)["url"].(string)
	assert.Equal(t, "data:image/png;base64,aW1hZ2U=", url)
}

func TestRequest_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, chatReply("<answer>finish(message=\"ok\")</answer>"))
	}))
	defer srv.Close()

	c := NewHTTPClient(testModelConfig(srv.URL+"/v1"), zaptest.NewLogger(t))
	resp, err := c.Request(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, `finish(message="ok")`, resp.Action)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRequest_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(testModelConfig(srv.URL+"/v1"), zaptest.NewLogger(t))
	_, err := c.Request(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestSplitResponse_WithoutTags(t *testing.T) {
	thinking, action := SplitResponse("I should go back first.\ndo(action=\"Back\")")
	assert.Equal(t, "I should go back first.", thinking)
	assert.Equal(t, `do(action="Back")`, action)

	thinking, action = SplitResponse("no action at all")
	assert.Empty(t, thinking)
	assert.Equal(t, "no action at all", action)
}

func TestStripImage(t *testing.T) {
	m := UserMessage("text", "payload")
	stripped := StripImage(m)
	assert.Empty(t, stripped.ImageBase64)
	assert.Equal(t, "text", stripped.Content)
	assert.Equal(t, "payload", m.ImageBase64, "original is untouched")
}
