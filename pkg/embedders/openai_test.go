package embedders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavernkeep/loremaster/pkg/config"
)

func embedServer(t *testing.T, dimension int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 1)

		vector := make([]float32, dimension)
		json.NewEncoder(w).Encode(map[string]any{
			"model": req.Model,
			"data":  []map[string]any{{"embedding": vector, "index": 0}},
		})
	}))
}

func newTestEmbedder(t *testing.T, host string, dimension int) *OpenAIEmbedder {
	t.Helper()
	e, err := NewOpenAIEmbedder(config.EmbedderConfig{
		Host:      host,
		APIKey:    "sk-test",
		Model:     "text-embedding-3-small",
		Dimension: dimension,
	})
	require.NoError(t, err)
	return e
}

func TestEmbed(t *testing.T) {
	var hits atomic.Int32
	server := embedServer(t, 1536, &hits)
	defer server.Close()

	embedder := newTestEmbedder(t, server.URL, 1536)

	vector, err := embedder.Embed(context.Background(), "who is Adam?")
	require.NoError(t, err)
	assert.Len(t, vector, 1536)
	assert.Equal(t, 1536, embedder.Dimension())
}

func TestEmbedDimensionMismatchIsFatal(t *testing.T) {
	var hits atomic.Int32
	// Server produces 1536-wide vectors while the client is configured
	// for 3072.
	server := embedServer(t, 1536, &hits)
	defer server.Close()

	embedder := newTestEmbedder(t, server.URL, 3072)

	_, err := embedder.Embed(context.Background(), "who is Adam?")
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEmbedRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(config.EmbedderConfig{})
	assert.Error(t, err)
}

func TestEmbedDoesNotRetryAuthFailure(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "bad key", "type": "invalid_request_error"},
		})
	}))
	defer server.Close()

	embedder := newTestEmbedder(t, server.URL, 1536)

	_, err := embedder.Embed(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
	assert.Equal(t, int32(1), hits.Load())
}
