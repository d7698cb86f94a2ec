package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docsearch/ai/mock"
)

// fastConfig keeps retry delays negligible so tests stay quick.
func fastConfig() *Config {
	config := DefaultConfig()
	config.BaseDelay = time.Millisecond
	config.MaxDelay = 5 * time.Millisecond
	config.Jitter = 0
	return config
}

func TestNewOrchestratorRequiresEmbedder(t *testing.T) {
	_, err := NewOrchestrator(nil, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
}

func TestNewOrchestratorRejectsBadConfig(t *testing.T) {
	embedder := mock.NewMockEmbedder()

	config := DefaultConfig()
	config.MaxBatchItems = 0
	_, err := NewOrchestrator(embedder, config)
	assert.Error(t, err)

	config = DefaultConfig()
	config.MaxInFlight = -1
	_, err = NewOrchestrator(embedder, config)
	assert.Error(t, err)
}

func TestEmbedEmptyInput(t *testing.T) {
	orch, err := NewOrchestrator(mock.NewMockEmbedder(), fastConfig())
	require.NoError(t, err)
	defer orch.Release()

	vectors, err := orch.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestEmbedPreservesOrder(t *testing.T) {
	config := fastConfig()
	config.MaxBatchItems = 3
	config.MaxInFlight = 4

	orch, err := NewOrchestrator(mock.NewMockEmbedder(), config)
	require.NoError(t, err)
	defer orch.Release()

	texts := make([]string, 20)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk number %d", i)
	}

	vectors, err := orch.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))

	// Results land at the index of their input text regardless of which
	// batch ran first.
	for i, text := range texts {
		expected := NormalizeVector(mock.DeterministicVector(text, 384))
		assert.Equal(t, expected, vectors[i], "vector %d out of place", i)
	}
}

func TestEmbedRetriesRateLimit(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()

		if n <= 2 {
			return nil, errors.New("429 too many requests")
		}
		vectors := make([][]float32, len(texts))
		for i, text := range texts {
			vectors[i] = mock.DeterministicVector(text, 384)
		}
		return vectors, nil
	}

	orch, err := NewOrchestrator(embedder, fastConfig())
	require.NoError(t, err)
	defer orch.Release()

	vectors, err := orch.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, 3, attempts)
}

func TestEmbedRateLimitExhausted(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, errors.New("429 too many requests")
	}

	config := fastConfig()
	config.MaxAttempts = 3

	orch, err := NewOrchestrator(embedder, config)
	require.NoError(t, err)
	defer orch.Release()

	_, err = orch.Embed(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, 3, attempts)
}

func TestEmbedPermanentErrorNotRetried(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, errors.New("401 unauthorized")
	}

	orch, err := NewOrchestrator(embedder, fastConfig())
	require.NoError(t, err)
	defer orch.Release()

	_, err = orch.Embed(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrEmbeddingRequest)
	assert.Equal(t, 1, attempts, "permanent errors must not be retried")
}

func TestEmbedTransientExhausted(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("connection reset by peer")
	}

	config := fastConfig()
	config.MaxAttempts = 2

	orch, err := NewOrchestrator(embedder, config)
	require.NoError(t, err)
	defer orch.Release()

	_, err = orch.Embed(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrEmbeddingService)
}

func TestEmbedResultCountMismatch(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1, 0}}, nil
	}

	orch, err := NewOrchestrator(embedder, fastConfig())
	require.NoError(t, err)
	defer orch.Release()

	_, err = orch.Embed(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrResultMismatch)
}

func TestEmbedFailureCancelsRemainingBatches(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, errors.New("400 invalid request")
	}

	config := fastConfig()
	config.MaxBatchItems = 1
	config.MaxInFlight = 1

	orch, err := NewOrchestrator(embedder, config)
	require.NoError(t, err)
	defer orch.Release()

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}

	_, err = orch.Embed(context.Background(), texts)
	require.ErrorIs(t, err, ErrEmbeddingRequest)

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, calls, 10, "failure should stop submitting remaining batches")
}

func TestEmbedHonorsCancellation(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	config := fastConfig()
	config.MaxBatchItems = 1

	orch, err := NewOrchestrator(embedder, config)
	require.NoError(t, err)
	defer orch.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = orch.Embed(ctx, []string{"a", "b", "c"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmbedQuery(t *testing.T) {
	orch, err := NewOrchestrator(mock.NewMockEmbedder(), fastConfig())
	require.NoError(t, err)
	defer orch.Release()

	vector, err := orch.EmbedQuery(context.Background(), "what is a vector index")
	require.NoError(t, err)
	assert.Len(t, vector, 384)

	// Output vectors are unit length.
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
}
