package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/docqa/internal/core/generation"
)

func TestNewEmbedderOptionsOverrideDefaults(t *testing.T) {
	embedder := NewEmbedder("dummy-key",
		WithEmbeddingModel("custom-model"),
		WithEmbeddingDimension(42),
	)

	meta := embedder.Metadata()
	assert.Equal(t, "custom-model", meta.ModelName)
	assert.Equal(t, 42, meta.Dimension)
	assert.Equal(t, MaxEmbeddingBatchSize, embedder.MaxBatchSize())
}

func TestBatchEmbedOrdersByIndex(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0, 1]},
				{"object": "embedding", "index": 0, "embedding": [1, 0]}
			],
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`))
	}))
	defer server.Close()

	embedder := NewEmbedder("test-key", WithEmbeddingBaseURL(server.URL), WithEmbeddingDimension(2))

	vectors, err := embedder.BatchEmbed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
	assert.Equal(t, "text-embedding-3-small", body["model"])
	assert.EqualValues(t, 2, body["dimensions"])
	assert.Equal(t, []any{"first", "second"}, body["input"])
}

func TestBatchEmbedValidatesInput(t *testing.T) {
	embedder := NewEmbedder("test-key")

	_, err := embedder.BatchEmbed(context.Background(), nil)
	assert.Error(t, err)

	_, err = embedder.BatchEmbed(context.Background(), make([]string, MaxEmbeddingBatchSize+1))
	assert.Error(t, err)
}

func TestBatchEmbedErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		unavailable bool
	}{
		{"認証エラー", http.StatusUnauthorized, true},
		{"レート制限", http.StatusTooManyRequests, true},
		{"サーバーエラー", http.StatusBadGateway, true},
		{"不正なリクエスト", http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, tt.status)
			}))
			defer server.Close()

			embedder := NewEmbedder("test-key", WithEmbeddingBaseURL(server.URL))
			_, err := embedder.BatchEmbed(context.Background(), []string{"text"})
			require.Error(t, err)
			assert.Equal(t, tt.unavailable, errors.Is(err, generation.ErrUnavailable))
		})
	}
}

func TestBatchEmbedUnreachableBackend(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	embedder := NewEmbedder("test-key", WithEmbeddingBaseURL(url))
	_, err := embedder.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, generation.ErrUnavailable)
}

func TestBatchEmbedCanceledIsNotUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	embedder := NewEmbedder("test-key", WithEmbeddingBaseURL("http://127.0.0.1:1"))
	_, err := embedder.BatchEmbed(ctx, []string{"text"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, generation.ErrUnavailable)
}

func TestNewRateLimiter(t *testing.T) {
	assert.Nil(t, NewRateLimiter(0, 5))

	limiter := NewRateLimiter(2.5, 0)
	require.NotNil(t, limiter)
	assert.Equal(t, 1, limiter.Burst())
}
