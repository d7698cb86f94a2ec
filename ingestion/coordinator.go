package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docsearch/chunker"
	"github.com/poiesic/docsearch/core"
	"github.com/poiesic/docsearch/extract"
	"github.com/poiesic/docsearch/storage"
)

// BatchEmbedder converts chunk texts into vectors, output parallel to
// input. embedding.Orchestrator satisfies this interface and provides
// batching, bounded parallelism and retries underneath it.
type BatchEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentInput describes one document to ingest. Text takes precedence
// over Path; when only Path is set the coordinator extracts the text.
type DocumentInput struct {
	ID       string
	Path     string
	Text     string
	Metadata map[string]string
}

// DefaultTaskRetention is how long finished tasks stay retrievable through
// Coordinator.Task before they are evicted.
const DefaultTaskRetention = time.Hour

// Coordinator drives documents through chunking, embedding and indexing.
// Independent documents run concurrently on a worker pool; writes to the
// same document ID are serialized.
type Coordinator struct {
	chunker       *chunker.Chunker
	embedder      BatchEmbedder
	index         storage.VectorIndex
	extractor     *extract.Extractor
	collection    string
	pool          *ants.Pool
	logger        *slog.Logger
	taskRetention time.Duration

	mu       sync.Mutex
	tasks    map[string]*Task
	docLocks map[string]*docLock
}

// docLock serializes writers for one document ID. Refcounting lets the
// entry be dropped once the last holder releases it.
type docLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Coordinator.
type Option func(*Coordinator) error

// WithPoolSize sets the worker pool size for concurrent document tasks.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(c *Coordinator) error {
		if size < 1 {
			size = 1
		}

		if c.pool != nil {
			c.pool.Release()
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		c.pool = pool
		return nil
	}
}

// WithTaskRetention sets how long finished tasks remain retrievable through
// Task. Zero or negative keeps them forever.
// Default is DefaultTaskRetention.
func WithTaskRetention(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.taskRetention = d
		return nil
	}
}

// WithExtractor replaces the PDF text extractor.
func WithExtractor(extractor *extract.Extractor) Option {
	return func(c *Coordinator) error {
		if extractor != nil {
			c.extractor = extractor
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "ingestion")
		return nil
	}
}

// NewCoordinator creates an ingestion coordinator writing into the given
// collection.
func NewCoordinator(
	chk *chunker.Chunker,
	embedder BatchEmbedder,
	index storage.VectorIndex,
	collection string,
	opts ...Option,
) (*Coordinator, error) {
	if chk == nil {
		return nil, ErrChunkerRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	if collection == "" {
		return nil, ErrCollectionRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		chunker:       chk,
		embedder:      embedder,
		index:         index,
		extractor:     extract.New(),
		collection:    collection,
		pool:          pool,
		logger:        slog.Default().With("component", "ingestion"),
		taskRetention: DefaultTaskRetention,
		tasks:         make(map[string]*Task),
		docLocks:      make(map[string]*docLock),
	}

	// Apply options
	for _, opt := range opts {
		if optErr := opt(c); optErr != nil {
			c.Release()
			return nil, optErr
		}
	}

	return c, nil
}

// Release releases the worker pool.
// The coordinator should not be used after calling Release.
func (c *Coordinator) Release() {
	if c.pool != nil {
		c.pool.Release()
	}
}

// Submit accepts a document for ingestion and returns immediately with a
// Task for tracking progress. The returned error covers only input
// validation and pool submission; pipeline failures are reported through
// the task.
func (c *Coordinator) Submit(ctx context.Context, input DocumentInput) (*Task, error) {
	if err := core.ValidateDocumentID(input.ID); err != nil {
		return nil, err
	}
	if input.Text == "" && input.Path == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoContent, input.ID)
	}

	// The task outlives Submit's ctx; cancellation comes from Task.Cancel.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	task := newTask(input.ID, cancel)

	c.mu.Lock()
	c.tasks[task.id] = task
	c.mu.Unlock()

	err := c.pool.Submit(func() {
		defer cancel()
		c.run(runCtx, task, input)
		c.retireTask(task.id)
	})
	if err != nil {
		cancel()
		c.mu.Lock()
		delete(c.tasks, task.id)
		c.mu.Unlock()
		return nil, err
	}

	return task, nil
}

// Task returns a previously submitted task by ID.
func (c *Coordinator) Task(id string) (*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task, nil
}

// run executes the pipeline for one document. Holding the per-document
// lock makes this the only writer for the document ID.
func (c *Coordinator) run(ctx context.Context, task *Task, input DocumentInput) {
	unlock := c.lockDocument(input.ID)
	defer unlock()

	logger := c.logger.With("task", task.id, "document", input.ID)
	started := time.Now()

	text := input.Text
	if text == "" {
		extracted, err := c.extractor.Text(ctx, input.Path)
		if err != nil {
			logger.Error("extraction failed", "path", input.Path, "err", err)
			task.fail(StageExtract, err)
			return
		}
		text = extracted
	}

	doc := &core.Document{
		ID:         input.ID,
		SourcePath: input.Path,
		Text:       core.NormalizeText(text),
		Metadata:   input.Metadata,
	}
	doc.Version = core.VersionFromContent(doc.Text)
	task.setVersion(doc.Version)

	// Re-ingesting identical content is a no-op.
	visible, err := c.index.VisibleVersion(ctx, c.collection, doc.ID)
	if err == nil && visible == doc.Version {
		logger.Info("document version already indexed", "version", doc.Version)
		task.complete()
		return
	}
	// A missing collection also means no previous version; whether Upsert
	// may create it is the index's decision.
	if err != nil && !errors.Is(err, storage.ErrNotFound) &&
		!errors.Is(err, storage.ErrCollectionNotFound) {
		task.fail(StageIndex, err)
		return
	}
	previous := core.Version(0)
	if err == nil {
		previous = visible
	}

	chunks, err := c.chunker.Chunk(doc)
	if err != nil {
		logger.Error("chunking failed", "err", err)
		task.fail(StageChunk, err)
		return
	}
	task.setState(StateChunked)
	logger.Debug("document chunked", "chunks", len(chunks))

	task.setState(StateEmbedding)
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		logger.Error("embedding failed", "err", err)
		task.fail(StageEmbed, err)
		return
	}

	records := make([]*core.EmbeddingRecord, len(chunks))
	for i := range chunks {
		records[i] = &core.EmbeddingRecord{
			Chunk:  chunks[i],
			Vector: vectors[i],
		}
	}

	if err := c.index.Upsert(ctx, c.collection, records); err != nil {
		logger.Error("staging records failed", "err", err)
		c.rollback(task, doc)
		task.fail(StageIndex, err)
		return
	}

	if err := c.index.Publish(ctx, c.collection, doc.ID, doc.Version); err != nil {
		logger.Error("publish failed", "err", err)
		c.rollback(task, doc)
		task.fail(StagePublish, err)
		return
	}

	// The new version is visible; the superseded one can go.
	if previous != 0 && previous != doc.Version {
		if err := c.index.DeleteVersion(context.WithoutCancel(ctx), c.collection, doc.ID, previous); err != nil {
			logger.Warn("failed to delete superseded version", "version", previous, "err", err)
		}
	}

	logger.Info("document indexed",
		"version", doc.Version, "chunks", len(chunks), "elapsed", time.Since(started))
	task.complete()
}

// rollback removes any records staged for the failed version so nothing
// half-indexed is ever retrievable. Best effort; the manifest was never
// switched, so leftovers are invisible either way.
func (c *Coordinator) rollback(task *Task, doc *core.Document) {
	ctx := context.Background()
	if err := c.index.DeleteVersion(ctx, c.collection, doc.ID, doc.Version); err != nil {
		c.logger.Warn("rollback failed", "task", task.id, "document", doc.ID,
			"version", doc.Version, "err", err)
	}
}

// lockDocument takes the per-document write lock and returns its release
// function. The map entry is removed when the last holder releases it, so
// docLocks stays proportional to in-flight documents.
func (c *Coordinator) lockDocument(documentID string) (unlock func()) {
	c.mu.Lock()
	entry, ok := c.docLocks[documentID]
	if !ok {
		entry = &docLock{}
		c.docLocks[documentID] = entry
	}
	entry.refs++
	c.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		c.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(c.docLocks, documentID)
		}
		c.mu.Unlock()
	}
}

// retireTask evicts a finished task from the registry once the retention
// window passes.
func (c *Coordinator) retireTask(id string) {
	if c.taskRetention <= 0 {
		return
	}
	time.AfterFunc(c.taskRetention, func() {
		c.mu.Lock()
		delete(c.tasks, id)
		c.mu.Unlock()
	})
}
