// Package embedding orchestrates text-to-vector conversion against an
// embedding provider. It batches inputs under provider size limits, retries
// rate-limited and transient failures with capped exponential backoff, and
// guarantees the output vector slice is parallel to the input texts. A batch
// fails as a unit; no item is silently dropped.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docsearch/ai"
	"github.com/poiesic/docsearch/retry"
)

// Config holds orchestration parameters. Batch and retry limits mirror the
// embedding provider's published constraints and are configuration, never
// hardcoded call sites.
type Config struct {
	// MaxBatchItems caps the number of texts per provider call.
	MaxBatchItems int

	// MaxBatchBytes caps the total text bytes per provider call.
	MaxBatchBytes int

	// MaxInFlight bounds concurrently running provider calls.
	MaxInFlight int

	// RequestTimeout applies per provider call.
	RequestTimeout time.Duration

	// MaxAttempts is the attempt budget for retryable failures.
	MaxAttempts int

	// BaseDelay is the first retry delay; it doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Jitter randomizes each delay by up to this fraction.
	Jitter float64
}

// DefaultConfig returns orchestration defaults suitable for
// OpenAI-compatible embedding endpoints.
func DefaultConfig() *Config {
	return &Config{
		MaxBatchItems:  64,
		MaxBatchBytes:  128 * 1024,
		MaxInFlight:    2,
		RequestTimeout: 30 * time.Second,
		MaxAttempts:    4,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       8 * time.Second,
		Jitter:         0.2,
	}
}

// Orchestrator converts batches of texts into embedding vectors.
type Orchestrator struct {
	embedder ai.Embedder
	config   *Config
	pool     *ants.Pool
	policy   retry.Policy
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger.With("component", "embedding")
		return nil
	}
}

// NewOrchestrator creates an orchestrator around the given embedder.
func NewOrchestrator(embedder ai.Embedder, config *Config, opts ...Option) (*Orchestrator, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxBatchItems <= 0 {
		return nil, fmt.Errorf("embedding: MaxBatchItems must be positive, got %d", config.MaxBatchItems)
	}
	if config.MaxBatchBytes <= 0 {
		return nil, fmt.Errorf("embedding: MaxBatchBytes must be positive, got %d", config.MaxBatchBytes)
	}
	if config.MaxInFlight <= 0 {
		return nil, fmt.Errorf("embedding: MaxInFlight must be positive, got %d", config.MaxInFlight)
	}

	pool, err := ants.NewPool(config.MaxInFlight)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		embedder: embedder,
		config:   config,
		pool:     pool,
		policy: retry.Policy{
			MaxAttempts: config.MaxAttempts,
			BaseDelay:   config.BaseDelay,
			MaxDelay:    config.MaxDelay,
			Jitter:      config.Jitter,
			Retryable: func(err error) bool {
				return Classify(err) != ClassPermanent
			},
		},
		logger: slog.Default().With("component", "embedding"),
	}

	for _, opt := range opts {
		if optErr := opt(o); optErr != nil {
			pool.Release()
			return nil, optErr
		}
	}
	return o, nil
}

// Release shuts down the worker pool.
// The orchestrator should not be used after calling Release.
func (o *Orchestrator) Release() {
	o.pool.Release()
}

// Embed converts texts into unit-length vectors, output parallel to input.
// Batches run with bounded parallelism; the first batch failure cancels the
// batches not yet started (in-flight calls run to completion or timeout) and
// fails the whole call. Cancellation via ctx is honored between batches.
func (o *Orchestrator) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	batches := splitBatches(texts, o.config.MaxBatchItems, o.config.MaxBatchBytes)
	o.logger.Debug("embedding texts", "texts", len(texts), "batches", len(batches))

	results := make([][]float32, len(texts))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	for _, b := range batches {
		// Cooperative cancellation point before each batch.
		if runCtx.Err() != nil {
			break
		}

		b := b
		wg.Add(1)
		submitErr := o.pool.Submit(func() {
			defer wg.Done()
			vectors, err := o.embedBatch(runCtx, texts[b.start:b.end])
			if err != nil {
				fail(err)
				return
			}
			copy(results[b.start:b.end], vectors)
		})
		if submitErr != nil {
			wg.Done()
			fail(submitErr)
			break
		}
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// EmbedQuery embeds a single query text.
func (o *Orchestrator) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := o.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embedBatch runs one provider call under the retry policy and normalizes
// the returned vectors.
func (o *Orchestrator) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	var lastErr error

	err := o.policy.Do(ctx, func() error {
		callCtx := ctx
		var callCancel context.CancelFunc
		if o.config.RequestTimeout > 0 {
			callCtx, callCancel = context.WithTimeout(ctx, o.config.RequestTimeout)
			defer callCancel()
		}

		var callErr error
		vectors, callErr = o.embedder.EmbedTexts(callCtx, texts)
		lastErr = callErr
		return callErr
	})

	if err != nil {
		// Parent cancellation is not a provider failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if lastErr == nil {
			lastErr = err
		}
		switch Classify(lastErr) {
		case ClassPermanent:
			return nil, fmt.Errorf("%w: %w", ErrEmbeddingRequest, lastErr)
		case ClassRateLimited:
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrRateLimitExceeded, o.config.MaxAttempts, lastErr)
		default:
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrEmbeddingService, o.config.MaxAttempts, lastErr)
		}
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrResultMismatch, len(texts), len(vectors))
	}

	for i := range vectors {
		vectors[i] = NormalizeVector(vectors[i])
	}
	return vectors, nil
}
