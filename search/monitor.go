package search

import (
	"github.com/poiesic/docsearch/core"
)

// RetrievalMonitor provides hooks to observe the retrieval process.
// Implement this interface to track intermediate steps and results.
type RetrievalMonitor interface {
	Start(query string)
	AfterQueryEmbedding(vector []float32)
	AfterIndexSearch(results []*core.SearchResult)
	BelowThreshold(result *core.SearchResult)
	AdjacentDuplicate(dropped *core.SearchResult, keptSeq int)
	Finish(results []*core.SearchResult)
}

// noopMonitor is a no-op implementation of RetrievalMonitor
type noopMonitor struct{}

var _ RetrievalMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                                {}
func (n *noopMonitor) AfterQueryEmbedding(_ []float32)               {}
func (n *noopMonitor) AfterIndexSearch(_ []*core.SearchResult)       {}
func (n *noopMonitor) BelowThreshold(_ *core.SearchResult)           {}
func (n *noopMonitor) AdjacentDuplicate(_ *core.SearchResult, _ int) {}
func (n *noopMonitor) Finish(_ []*core.SearchResult)                 {}
