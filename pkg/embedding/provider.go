package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Embedder turns text into a vector. ModelID identifies the model so cached
// vectors can be tied to the model that produced them.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelID() string
}

var ErrEmbedTimeout = errors.New("embedding call timed out")

type timeoutEmbedder struct {
	inner   Embedder
	timeout time.Duration
}

// WithTimeout bounds every Embed call. A deadline hit is reported as ErrEmbedTimeout.
func WithTimeout(inner Embedder, timeout time.Duration) Embedder {
	if timeout <= 0 {
		return inner
	}
	return &timeoutEmbedder{inner: inner, timeout: timeout}
}

func (e *timeoutEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		vec []float32
		err error
	}
	done := make(chan result, 1)
	go func() {
		vec, err := e.inner.Embed(callCtx, text)
		done <- result{vec, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrEmbedTimeout, e.timeout)
		}
		return r.vec, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrEmbedTimeout, e.timeout)
	}
}

func (e *timeoutEmbedder) ModelID() string {
	return e.inner.ModelID()
}

// normalizeVector normalizes a vector to unit length (magnitude = 1)
func normalizeVector(vec []float32) []float32 {
	var magnitude float64
	for _, v := range vec {
		magnitude += float64(v) * float64(v)
	}
	magnitude = math.Sqrt(magnitude)

	if magnitude == 0 {
		return vec
	}

	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = float32(float64(v) / magnitude)
	}
	return normalized
}
