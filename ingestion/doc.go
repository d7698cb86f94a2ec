// Package ingestion provides pipeline orchestration for indexing documents.
//
// The Coordinator type manages the ingestion workflow for documents:
//   - Extracting text from PDF sources when needed
//   - Chunking the normalized text
//   - Generating embeddings through the orchestrator
//   - Staging, publishing and cleaning up index versions
//
// Each submitted document becomes a Task that moves through the states
// received, chunked, embedding and indexed (or failed, with the failing
// stage recorded). Documents are processed concurrently on a worker pool,
// but writes to the same document ID are serialized, and a document version
// only becomes searchable once every one of its chunks is indexed.
package ingestion
