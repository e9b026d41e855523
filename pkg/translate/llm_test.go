package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMTranslateOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var payload struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.Messages, 2)
		assert.Equal(t, "system", payload.Messages[0].Role)
		assert.Equal(t, "hello world", payload.Messages[1].Content)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  你好世界\n"}},
			},
		})
	}))
	defer srv.Close()

	l := NewLLM("openai", "", "test-key", srv.URL)
	out, err := l.Translate(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, "你好世界", out)
}

func TestLLMTranslateAnthropic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-api-key"))
		require.NotEmpty(t, r.Header.Get("anthropic-version"))

		var payload struct {
			System   string `json:"system"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.NotEmpty(t, payload.System)
		require.Len(t, payload.Messages, 1)

		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"text": "你好"}},
		})
	}))
	defer srv.Close()

	l := NewLLM("anthropic", "", "test-key", srv.URL)
	out, err := l.Translate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "你好", out)
}

func TestLLMTranslateEmptyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no API call expected for empty text")
	}))
	defer srv.Close()

	l := NewLLM("openai", "", "test-key", srv.URL)
	out, err := l.Translate(context.Background(), "   \n  ")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestLLMTranslateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "rate limited"}})
	}))
	defer srv.Close()

	l := NewLLM("openai", "", "test-key", srv.URL)
	_, err := l.Translate(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestNewLLMDefaultModels(t *testing.T) {
	assert.Equal(t, "gpt-4o", NewLLM("openai", "", "k", "").model)
	assert.Equal(t, "claude-sonnet-4-20250514", NewLLM("anthropic", "", "k", "").model)
	assert.Equal(t, "gpt-4o-mini", NewLLM("openai", "gpt-4o-mini", "k", "").model)
}
