package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/docsearch/core"
	"github.com/poiesic/docsearch/storage"
)

const (
	// DefaultTopK matches the result count the original front end requested.
	DefaultTopK = 5

	// DefaultMinSimilarity is the cosine score below which results are
	// dropped as noise.
	DefaultMinSimilarity = 0.60

	// DefaultAdjacencyWindow treats chunks of the same document version
	// whose sequence numbers differ by at most this much as duplicates.
	DefaultAdjacencyWindow = 1
)

// QueryEmbedder converts query text into a unit-length vector.
// embedding.Orchestrator satisfies this interface.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher answers free-text queries with ranked passages from the index.
type Searcher struct {
	index           storage.VectorIndex
	embedder        QueryEmbedder
	collection      string
	topK            int
	minSimilarity   float32
	adjacencyWindow int
	logger          *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "search")
		return nil
	}
}

// WithTopK sets the default result count used when Retrieve is called with
// a non-positive topK.
func WithTopK(topK int) Option {
	return func(s *Searcher) error {
		if topK <= 0 {
			return fmt.Errorf("topK must be positive, got %d", topK)
		}
		s.topK = topK
		return nil
	}
}

// WithMinSimilarity sets the minimum cosine score a result must reach.
func WithMinSimilarity(minSimilarity float32) Option {
	return func(s *Searcher) error {
		if minSimilarity < -1 || minSimilarity > 1 {
			return fmt.Errorf("minSimilarity must be in [-1, 1], got %f", minSimilarity)
		}
		s.minSimilarity = minSimilarity
		return nil
	}
}

// WithAdjacencyWindow sets the chunk distance within which same-document
// results are deduplicated. Zero disables deduplication.
func WithAdjacencyWindow(window int) Option {
	return func(s *Searcher) error {
		if window < 0 {
			return fmt.Errorf("adjacency window must be non-negative, got %d", window)
		}
		s.adjacencyWindow = window
		return nil
	}
}

// NewSearcher creates a new searcher over the given collection.
func NewSearcher(index storage.VectorIndex, embedder QueryEmbedder, collection string, opts ...Option) (*Searcher, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if collection == "" {
		return nil, ErrCollectionRequired
	}

	s := &Searcher{
		index:           index,
		embedder:        embedder,
		collection:      collection,
		topK:            DefaultTopK,
		minSimilarity:   DefaultMinSimilarity,
		adjacencyWindow: DefaultAdjacencyWindow,
		logger:          slog.Default().With("component", "search"),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Retrieve returns up to topK passages ranked by descending similarity to
// the query. A non-positive topK uses the configured default.
func (s *Searcher) Retrieve(ctx context.Context, query string, topK int, filters *storage.Filters) ([]*core.SearchResult, error) {
	return s.RetrieveWithMonitor(ctx, query, topK, filters, nil)
}

// RetrieveWithMonitor retrieves with monitoring. The monitor receives
// callbacks at each stage of the retrieval process.
//
// Results below the similarity threshold are dropped, then near-duplicate
// passages (same document version, chunk sequence within the adjacency
// window of a better-scoring result) are removed. An empty result set is
// returned as a nil-error empty slice.
func (s *Searcher) RetrieveWithMonitor(ctx context.Context, query string, topK int, filters *storage.Filters, monitor RetrievalMonitor) ([]*core.SearchResult, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = s.topK
	}

	monitor.Start(query)

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		s.logger.Error("error embedding query", "err", err)
		return nil, fmt.Errorf("%w: %w", ErrQueryEmbedding, err)
	}
	monitor.AfterQueryEmbedding(vector)

	// Over-fetch so threshold and dedup drops still leave topK candidates.
	fetchK := topK * (s.adjacencyWindow + 2)
	matches, err := s.index.Search(ctx, s.collection, vector, fetchK, filters)
	if err != nil {
		s.logger.Error("error searching index", "collection", s.collection, "err", err)
		return nil, err
	}
	monitor.AfterIndexSearch(matches)

	results := s.winnow(matches, topK, monitor)
	monitor.Finish(results)
	return results, nil
}

// winnow applies the similarity threshold and adjacent-chunk deduplication
// to index results, which arrive ordered by descending score. The first
// result seen for a neighborhood is its best-scoring representative.
func (s *Searcher) winnow(matches []*core.SearchResult, topK int, monitor RetrievalMonitor) []*core.SearchResult {
	results := make([]*core.SearchResult, 0, min(len(matches), topK))
	kept := make(map[string][]int)

	for _, match := range matches {
		if match.Score < s.minSimilarity {
			monitor.BelowThreshold(match)
			continue
		}

		chunk := match.Record.Chunk
		neighborhood := fmt.Sprintf("%s:%d", chunk.DocumentID, chunk.Version)
		if keptSeq, dup := s.adjacentKept(kept[neighborhood], chunk.Seq); dup {
			monitor.AdjacentDuplicate(match, keptSeq)
			continue
		}

		kept[neighborhood] = append(kept[neighborhood], chunk.Seq)
		results = append(results, match)
		if len(results) == topK {
			break
		}
	}
	return results
}

// adjacentKept reports whether seq falls within the adjacency window of an
// already-kept sequence number, returning the kept neighbor.
func (s *Searcher) adjacentKept(keptSeqs []int, seq int) (int, bool) {
	if s.adjacencyWindow == 0 {
		return 0, false
	}
	for _, keptSeq := range keptSeqs {
		distance := seq - keptSeq
		if distance < 0 {
			distance = -distance
		}
		if distance <= s.adjacencyWindow {
			return keptSeq, true
		}
	}
	return 0, false
}
