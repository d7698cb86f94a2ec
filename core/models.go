package core

//go:generate go run ../cmd/musgen

import (
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// Version identifies one immutable revision of a document's content.
// It is derived from the content itself, so re-ingesting identical text
// yields the same version.
type Version uint64

// VersionFromContent generates a deterministic Version from text content
// using BLAKE2b hashing. Identical content always produces the same version.
func VersionFromContent(text string) Version {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return Version(binary.LittleEndian.Uint64(sum))
}

// Document is the unit of ingestion: a source file's extracted text plus
// identity. Documents are immutable once submitted; re-ingesting the same ID
// with different text produces a new Version that supersedes the old one.
type Document struct {
	ID         string            // Caller-supplied identifier, e.g. the source filename
	SourcePath string            // Path the text was extracted from (informational)
	Text       string            // Normalized extracted text
	Version    Version           // Content hash; zero means "compute on submit"
	Metadata   map[string]string // Optional caller-supplied metadata
}

// Chunk is a bounded span of a document's text, the retrieval unit.
// Chunks of one version are ordered by Seq and tile the document text,
// overlapping their neighbors by a configured token window.
type Chunk struct {
	DocumentID  string
	Version     Version
	Seq         int    // 0-based position within the document
	Text        string // Exact slice of the normalized document text
	StartOffset int    // Byte offset of Text within the document
	EndOffset   int    // Byte offset one past the end of Text
	Page        int    // 1-based page number, 0 when the source has no pages
	TokenCount  int
}

// EmbeddingRecord pairs a chunk with its embedding vector. Records are
// keyed by (document ID, version, seq) in the index; InsertedSeq is a
// per-collection monotonic counter used to break score ties in search,
// most-recently-indexed first.
type EmbeddingRecord struct {
	Chunk       Chunk
	Vector      []float32 // Unit-length embedding vector
	InsertedSeq uint64
	InsertedAt  time.Time
}

// CollectionInfo describes a collection in the vector index.
type CollectionInfo struct {
	Name      string
	CreatedAt time.Time
}

// SearchResult is one ranked hit from a similarity search.
type SearchResult struct {
	Record *EmbeddingRecord
	Score  float32
}
