package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docsearch/ai/mock"
	"github.com/poiesic/docsearch/chunker"
	"github.com/poiesic/docsearch/core"
	"github.com/poiesic/docsearch/extract"
	"github.com/poiesic/docsearch/storage"
	storebadger "github.com/poiesic/docsearch/storage/badger"
)

const testCollection = "docs"

// fakeEmbedder is a counting BatchEmbedder with injectable behavior.
type fakeEmbedder struct {
	mu        sync.Mutex
	calls     int
	embedFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.embedFunc != nil {
		return f.embedFunc(ctx, texts)
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = mock.DeterministicVector(text, 64)
	}
	return vectors, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestCoordinator(t *testing.T, embedder BatchEmbedder, opts ...Option) (*Coordinator, storage.VectorIndex) {
	t.Helper()

	index, err := storebadger.NewMemoryIndex(storebadger.WithAutoCreateCollections(true))
	require.NoError(t, err)
	t.Cleanup(func() {
		index.Close()
	})

	chk, err := chunker.NewChunker(chunker.DefaultConfig())
	require.NoError(t, err)

	coordinator, err := NewCoordinator(chk, embedder, index, testCollection, opts...)
	require.NoError(t, err)
	t.Cleanup(coordinator.Release)

	return coordinator, index
}

func waitForTask(t *testing.T, task *Task) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return task.Wait(ctx)
}

func TestNewCoordinatorValidation(t *testing.T) {
	index, err := storebadger.NewMemoryIndex()
	require.NoError(t, err)
	defer index.Close()

	chk, err := chunker.NewChunker(chunker.DefaultConfig())
	require.NoError(t, err)
	embedder := &fakeEmbedder{}

	_, err = NewCoordinator(nil, embedder, index, testCollection)
	assert.ErrorIs(t, err, ErrChunkerRequired)

	_, err = NewCoordinator(chk, nil, index, testCollection)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = NewCoordinator(chk, embedder, nil, testCollection)
	assert.ErrorIs(t, err, ErrIndexRequired)

	_, err = NewCoordinator(chk, embedder, index, "")
	assert.ErrorIs(t, err, ErrCollectionRequired)
}

func TestSubmitValidation(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, &fakeEmbedder{})
	ctx := context.Background()

	_, err := coordinator.Submit(ctx, DocumentInput{ID: "", Text: "body"})
	assert.ErrorIs(t, err, core.ErrInvalidDocumentID)

	_, err = coordinator.Submit(ctx, DocumentInput{ID: "doc1"})
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestIngestDocument(t *testing.T) {
	coordinator, index := newTestCoordinator(t, &fakeEmbedder{})
	ctx := context.Background()

	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 80)
	task, err := coordinator.Submit(ctx, DocumentInput{ID: "doc1", Text: text})
	require.NoError(t, err)

	require.NoError(t, waitForTask(t, task))
	assert.Equal(t, StateIndexed, task.Status())
	assert.NotZero(t, task.Version())

	version, err := index.VisibleVersion(ctx, testCollection, "doc1")
	require.NoError(t, err)
	assert.Equal(t, task.Version(), version)

	query := mock.DeterministicVector("The quick brown fox", 64)
	results, err := index.Search(ctx, testCollection, query, 100, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, result := range results {
		assert.Equal(t, "doc1", result.Record.Chunk.DocumentID)
		assert.Equal(t, version, result.Record.Chunk.Version)
	}
}

func TestIngestIdempotentSameContent(t *testing.T) {
	embedder := &fakeEmbedder{}
	coordinator, _ := newTestCoordinator(t, embedder)
	ctx := context.Background()

	text := strings.Repeat("Ingestion is idempotent for identical content. ", 50)

	first, err := coordinator.Submit(ctx, DocumentInput{ID: "doc1", Text: text})
	require.NoError(t, err)
	require.NoError(t, waitForTask(t, first))
	callsAfterFirst := embedder.callCount()

	second, err := coordinator.Submit(ctx, DocumentInput{ID: "doc1", Text: text})
	require.NoError(t, err)
	require.NoError(t, waitForTask(t, second))

	assert.Equal(t, StateIndexed, second.Status())
	assert.Equal(t, first.Version(), second.Version())
	assert.Equal(t, callsAfterFirst, embedder.callCount(),
		"re-ingesting identical content must not re-embed")
}

func TestIngestReplacesOldVersion(t *testing.T) {
	coordinator, index := newTestCoordinator(t, &fakeEmbedder{})
	ctx := context.Background()

	oldText := strings.Repeat("Original content about storage engines. ", 50)
	task, err := coordinator.Submit(ctx, DocumentInput{ID: "doc1", Text: oldText})
	require.NoError(t, err)
	require.NoError(t, waitForTask(t, task))
	oldVersion := task.Version()

	newText := strings.Repeat("Revised content about vector search. ", 50)
	task, err = coordinator.Submit(ctx, DocumentInput{ID: "doc1", Text: newText})
	require.NoError(t, err)
	require.NoError(t, waitForTask(t, task))
	newVersion := task.Version()
	require.NotEqual(t, oldVersion, newVersion)

	version, err := index.VisibleVersion(ctx, testCollection, "doc1")
	require.NoError(t, err)
	assert.Equal(t, newVersion, version)

	query := mock.DeterministicVector("vector search", 64)
	results, err := index.Search(ctx, testCollection, query, 100, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, result := range results {
		assert.Equal(t, newVersion, result.Record.Chunk.Version,
			"superseded version must not be retrievable")
	}
}

func TestIngestEmbedFailureLeavesNothingVisible(t *testing.T) {
	providerErr := errors.New("API returned unexpected status code: 500")
	embedder := &fakeEmbedder{
		embedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, providerErr
		},
	}
	coordinator, index := newTestCoordinator(t, embedder)
	ctx := context.Background()

	text := strings.Repeat("This document will fail to embed. ", 50)
	task, err := coordinator.Submit(ctx, DocumentInput{ID: "doc1", Text: text})
	require.NoError(t, err)

	err = waitForTask(t, task)
	require.Error(t, err)
	assert.Equal(t, StateFailed, task.Status())

	stage, taskErr := task.Failure()
	assert.Equal(t, StageEmbed, stage)
	assert.ErrorIs(t, taskErr, providerErr)

	_, err = index.VisibleVersion(ctx, testCollection, "doc1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	results, err := index.Search(ctx, testCollection, mock.DeterministicVector("fail", 64), 100, nil)
	require.NoError(t, err)
	assert.Empty(t, results, "failed ingest must leave nothing retrievable")
}

func TestIngestEmptyDocumentFailsChunkStage(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, &fakeEmbedder{})

	task, err := coordinator.Submit(context.Background(), DocumentInput{ID: "doc1", Text: "   \n\t  "})
	require.NoError(t, err)

	err = waitForTask(t, task)
	require.Error(t, err)
	stage, taskErr := task.Failure()
	assert.Equal(t, StageChunk, stage)
	assert.ErrorIs(t, taskErr, core.ErrEmptyDocument)
}

func TestIngestExtractionFailure(t *testing.T) {
	runner := &failingRunner{err: errors.New("exit status 1")}
	extractor := extract.New(extract.WithRunner(runner))

	coordinator, _ := newTestCoordinator(t, &fakeEmbedder{}, WithExtractor(extractor))

	task, err := coordinator.Submit(context.Background(), DocumentInput{ID: "doc1", Path: "/tmp/missing.pdf"})
	require.NoError(t, err)

	err = waitForTask(t, task)
	require.Error(t, err)
	stage, _ := task.Failure()
	assert.Equal(t, StageExtract, stage)
}

// failingRunner implements extract.CommandRunner and always fails.
type failingRunner struct {
	err error
}

func (r *failingRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return nil, r.err
}

func TestIngestCancellation(t *testing.T) {
	started := make(chan struct{})
	embedder := &fakeEmbedder{
		embedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	coordinator, _ := newTestCoordinator(t, embedder)

	text := strings.Repeat("Cancellation is honored between batches. ", 50)
	task, err := coordinator.Submit(context.Background(), DocumentInput{ID: "doc1", Text: text})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("embedder was never invoked")
	}
	task.Cancel()

	err = waitForTask(t, task)
	require.Error(t, err)
	assert.Equal(t, StateFailed, task.Status())
	stage, taskErr := task.Failure()
	assert.Equal(t, StageEmbed, stage)
	assert.ErrorIs(t, taskErr, context.Canceled)
}

func TestTaskLookup(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, &fakeEmbedder{})
	ctx := context.Background()

	text := strings.Repeat("Task registry lookup. ", 40)
	task, err := coordinator.Submit(ctx, DocumentInput{ID: "doc1", Text: text})
	require.NoError(t, err)

	found, err := coordinator.Task(task.ID())
	require.NoError(t, err)
	assert.Same(t, task, found)

	_, err = coordinator.Task("no-such-task")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	require.NoError(t, waitForTask(t, task))
}

func TestConcurrentQueryDuringReingest(t *testing.T) {
	coordinator, index := newTestCoordinator(t, &fakeEmbedder{}, WithPoolSize(2))
	ctx := context.Background()

	oldText := strings.Repeat("First revision about storage engines. ", 60)
	task, err := coordinator.Submit(ctx, DocumentInput{ID: "doc1", Text: oldText})
	require.NoError(t, err)
	require.NoError(t, waitForTask(t, task))
	oldVersion := task.Version()

	// Hammer the index with queries while the re-ingest runs. Every
	// snapshot must show exactly one version of the document, never a mix
	// of old and new chunks.
	query := mock.DeterministicVector("storage engines", 64)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}

			results, err := index.Search(ctx, testCollection, query, 100, nil)
			if err != nil {
				t.Errorf("search during re-ingest: %v", err)
				return
			}
			versions := make(map[core.Version]bool)
			for _, result := range results {
				versions[result.Record.Chunk.Version] = true
			}
			if len(versions) > 1 {
				t.Errorf("query observed %d versions of one document", len(versions))
				return
			}
		}
	}()

	newText := strings.Repeat("Second revision about vector search. ", 60)
	task, err = coordinator.Submit(ctx, DocumentInput{ID: "doc1", Text: newText})
	require.NoError(t, err)
	require.NoError(t, waitForTask(t, task))
	close(stop)
	wg.Wait()

	newVersion := task.Version()
	require.NotEqual(t, oldVersion, newVersion)
	visible, err := index.VisibleVersion(ctx, testCollection, "doc1")
	require.NoError(t, err)
	assert.Equal(t, newVersion, visible)
}

func TestConcurrentIngestSameDocument(t *testing.T) {
	coordinator, index := newTestCoordinator(t, &fakeEmbedder{}, WithPoolSize(4))
	ctx := context.Background()

	tasks := make([]*Task, 4)
	versions := make(map[core.Version]bool)
	for i := range tasks {
		text := strings.Repeat("Revision "+string(rune('A'+i))+" of the same document. ", 50)
		task, err := coordinator.Submit(ctx, DocumentInput{ID: "doc1", Text: text})
		require.NoError(t, err)
		tasks[i] = task
	}

	for _, task := range tasks {
		require.NoError(t, waitForTask(t, task))
		assert.Equal(t, StateIndexed, task.Status())
		versions[task.Version()] = true
	}

	// Writers are serialized, so whichever ran last is the visible version
	// and the only retrievable one.
	visible, err := index.VisibleVersion(ctx, testCollection, "doc1")
	require.NoError(t, err)
	assert.True(t, versions[visible], "visible version must come from a submitted revision")

	results, err := index.Search(ctx, testCollection, mock.DeterministicVector("revision", 64), 100, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, result := range results {
		assert.Equal(t, visible, result.Record.Chunk.Version)
	}
}

func TestTaskRetention(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, &fakeEmbedder{}, WithTaskRetention(10*time.Millisecond))
	ctx := context.Background()

	text := strings.Repeat("Finished tasks are evicted from the registry. ", 40)
	task, err := coordinator.Submit(ctx, DocumentInput{ID: "doc1", Text: text})
	require.NoError(t, err)
	require.NoError(t, waitForTask(t, task))

	require.Eventually(t, func() bool {
		_, err := coordinator.Task(task.ID())
		return errors.Is(err, ErrTaskNotFound)
	}, 5*time.Second, 10*time.Millisecond)

	coordinator.mu.Lock()
	remaining := len(coordinator.docLocks)
	coordinator.mu.Unlock()
	assert.Zero(t, remaining, "document locks are dropped once released")
}

func TestConcurrentIngestDistinctDocuments(t *testing.T) {
	coordinator, index := newTestCoordinator(t, &fakeEmbedder{}, WithPoolSize(4))
	ctx := context.Background()

	ids := []string{"a", "b", "c", "d", "e"}
	tasks := make([]*Task, len(ids))
	for i, id := range ids {
		text := strings.Repeat("Document "+id+" has its own distinct content. ", 40)
		task, err := coordinator.Submit(ctx, DocumentInput{ID: id, Text: text})
		require.NoError(t, err)
		tasks[i] = task
	}

	for _, task := range tasks {
		require.NoError(t, waitForTask(t, task))
		assert.Equal(t, StateIndexed, task.Status())
	}

	for _, id := range ids {
		_, err := index.VisibleVersion(ctx, testCollection, id)
		assert.NoError(t, err)
	}
}
