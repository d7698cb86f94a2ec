package ingestion

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/poiesic/docsearch/core"
)

// State is a task's position in the ingestion state machine.
type State int

const (
	// StateReceived means the task is accepted but not yet chunked.
	StateReceived State = iota

	// StateChunked means the document text has been split into chunks.
	StateChunked

	// StateEmbedding means chunk batches are being embedded.
	StateEmbedding

	// StateIndexed means the document version is published and searchable.
	StateIndexed

	// StateFailed means the task stopped at some stage; see Task.Failure.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateChunked:
		return "chunked"
	case StateEmbedding:
		return "embedding"
	case StateIndexed:
		return "indexed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stage names the pipeline step a task failed in.
type Stage string

const (
	StageExtract Stage = "extract"
	StageChunk   Stage = "chunk"
	StageEmbed   Stage = "embed"
	StageIndex   Stage = "index"
	StagePublish Stage = "publish"
)

// Task tracks one document ingestion through the pipeline.
// All methods are safe for concurrent use.
type Task struct {
	id         string
	documentID string

	mu      sync.Mutex
	state   State
	version core.Version
	stage   Stage
	err     error

	cancel context.CancelFunc
	done   chan struct{}
}

func newTask(documentID string, cancel context.CancelFunc) *Task {
	return &Task{
		id:         uuid.NewString(),
		documentID: documentID,
		state:      StateReceived,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// ID returns the task's unique identifier.
func (t *Task) ID() string {
	return t.id
}

// DocumentID returns the document being ingested.
func (t *Task) DocumentID() string {
	return t.documentID
}

// Status returns the task's current state.
func (t *Task) Status() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Version returns the content version being ingested.
// Zero until the document text has been read.
func (t *Task) Version() core.Version {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// Failure returns the stage and error of a failed task.
// Both are zero values while the task has not failed.
func (t *Task) Failure() (Stage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage, t.err
}

// Cancel requests cancellation. The task stops between embedding batches;
// an in-flight batch runs to completion or context timeout.
func (t *Task) Cancel() {
	t.cancel()
}

// Done returns a channel closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is canceled. Returns the
// task's error if it failed.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		_, err := t.Failure()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) setState(state State) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}

func (t *Task) setVersion(version core.Version) {
	t.mu.Lock()
	t.version = version
	t.mu.Unlock()
}

func (t *Task) fail(stage Stage, err error) {
	t.mu.Lock()
	t.state = StateFailed
	t.stage = stage
	t.err = err
	t.mu.Unlock()
	close(t.done)
}

func (t *Task) complete() {
	t.setState(StateIndexed)
	close(t.done)
}
