package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowEmbedder struct {
	delay time.Duration
}

func (s *slowEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-time.After(s.delay):
		return []float32{1, 0}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *slowEmbedder) ModelID() string { return "slow" }

func TestWithTimeout_ExceedsDeadline(t *testing.T) {
	e := WithTimeout(&slowEmbedder{delay: 200 * time.Millisecond}, 20*time.Millisecond)

	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmbedTimeout))
	assert.Equal(t, "slow", e.ModelID())
}

func TestWithTimeout_FastCallPasses(t *testing.T) {
	e := WithTimeout(&slowEmbedder{delay: time.Millisecond}, time.Second)

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
}

func TestWithTimeout_ParentCancelIsNotTimeout(t *testing.T) {
	e := WithTimeout(&slowEmbedder{delay: time.Second}, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Embed(ctx, "hello")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrEmbedTimeout))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestOllamaProvider_NormalizesVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		_ = json.NewEncoder(w).Encode(ollamaEmbeddingResponse{Embedding: []float64{3, 4}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "")
	vec, err := p.Embed(context.Background(), "how do I renew a passport")
	require.NoError(t, err)
	require.Len(t, vec, 2)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
	assert.Equal(t, "ollama/nomic-embed-text", p.ModelID())
}

func TestOllamaProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "missing").Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestNormalizeVector(t *testing.T) {
	zero := []float32{0, 0}
	assert.Equal(t, zero, normalizeVector(zero))

	out := normalizeVector([]float32{1, 1, 1, 1})
	var sum float64
	for _, v := range out {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)
}
