// Package chunker splits normalized document text into overlapping,
// token-bounded passages that serve as the retrieval unit.
//
// The chunker prefers paragraph boundaries, falls back to sentence
// boundaries for oversized paragraphs, and hard-cuts unbroken spans that no
// boundary can shorten. Consecutive chunks overlap by approximately the
// configured token window; the overlap is best-effort because it respects
// span boundaries.
package chunker

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/docsearch/core"
)

// Config holds chunking parameters.
type Config struct {
	// MaxTokensPerChunk is the hard upper bound on chunk size.
	MaxTokensPerChunk int

	// OverlapTokens is the approximate token overlap between consecutive chunks.
	OverlapTokens int

	// MinChunkTokens is the minimum size for a trailing chunk; a smaller
	// trailing fragment is merged into the previous chunk when the merge
	// stays within MaxTokensPerChunk.
	MinChunkTokens int
}

// DefaultConfig returns chunking defaults tuned for embedding models with
// 512-token context windows.
func DefaultConfig() *Config {
	return &Config{
		MaxTokensPerChunk: 400,
		OverlapTokens:     80,
		MinChunkTokens:    40,
	}
}

// Chunker splits document text into core.Chunk values.
type Chunker struct {
	config  *Config
	counter TokenCounter
	logger  *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithTokenCounter sets the token counter used for chunk budgets.
// Default is HeuristicCounter.
func WithTokenCounter(counter TokenCounter) Option {
	return func(c *Chunker) error {
		if counter == nil {
			counter = HeuristicCounter{}
		}
		c.counter = counter
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chunker) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// NewChunker creates a chunker with the given configuration.
func NewChunker(config *Config, opts ...Option) (*Chunker, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxTokensPerChunk <= 0 {
		return nil, fmt.Errorf("chunker: MaxTokensPerChunk must be positive, got %d", config.MaxTokensPerChunk)
	}
	if config.OverlapTokens < 0 || config.OverlapTokens >= config.MaxTokensPerChunk {
		return nil, fmt.Errorf("chunker: OverlapTokens must be in [0, MaxTokensPerChunk), got %d", config.OverlapTokens)
	}
	if config.MinChunkTokens < 0 {
		return nil, fmt.Errorf("chunker: MinChunkTokens must not be negative, got %d", config.MinChunkTokens)
	}

	c := &Chunker{
		config:  config,
		counter: HeuristicCounter{},
		logger:  slog.Default().With("component", "chunker"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// span is a contiguous slice of the document text. Spans tile the text:
// each span ends where the next begins, so any run of consecutive spans is
// itself an exact slice of the text.
type span struct {
	start  int
	end    int
	tokens int
}

// Chunk splits the document's text into ordered, overlapping chunks.
// Offsets are byte offsets into the normalized text; pages are derived from
// form-feed page breaks when present. Returns core.ErrEmptyDocument when
// the text is empty after normalization.
func (c *Chunker) Chunk(doc *core.Document) ([]core.Chunk, error) {
	if doc == nil {
		return nil, core.ErrInvalidDocument
	}

	text := core.NormalizeText(doc.Text)
	if strings.TrimSpace(text) == "" {
		return nil, core.ErrEmptyDocument
	}

	version := doc.Version
	if version == 0 {
		version = core.VersionFromContent(text)
	}

	spans := c.split(text)
	pages := pageBreaks(text)

	var chunks []core.Chunk
	i := 0
	for i < len(spans) {
		j := i
		tokens := 0
		for j < len(spans) {
			if j > i && tokens+spans[j].tokens > c.config.MaxTokensPerChunk {
				break
			}
			tokens += spans[j].tokens
			j++
		}

		start := spans[i].start
		end := spans[j-1].end
		chunks = append(chunks, core.Chunk{
			DocumentID:  doc.ID,
			Version:     version,
			Seq:         len(chunks),
			Text:        text[start:end],
			StartOffset: start,
			EndOffset:   end,
			Page:        pageAt(pages, start),
			TokenCount:  tokens,
		})

		if j == len(spans) {
			break
		}

		// Step back over trailing spans until roughly OverlapTokens are
		// repeated at the start of the next chunk, always advancing by at
		// least one span.
		next := j
		overlap := 0
		for k := j - 1; k > i && overlap < c.config.OverlapTokens; k-- {
			overlap += spans[k].tokens
			next = k
		}
		if next <= i {
			next = i + 1
		}
		i = next
	}

	chunks = c.mergeTrailingFragment(text, chunks)

	c.logger.Debug("chunked document", "doc", doc.ID, "chunks", len(chunks), "bytes", len(text))
	return chunks, nil
}

// mergeTrailingFragment folds an undersized final chunk into its predecessor
// when the combined chunk stays within the token budget.
func (c *Chunker) mergeTrailingFragment(text string, chunks []core.Chunk) []core.Chunk {
	n := len(chunks)
	if n < 2 {
		return chunks
	}
	last := chunks[n-1]
	if last.TokenCount >= c.config.MinChunkTokens {
		return chunks
	}

	prev := chunks[n-2]
	merged := text[prev.StartOffset:last.EndOffset]
	mergedTokens := c.counter.Count(merged)
	if mergedTokens > c.config.MaxTokensPerChunk {
		return chunks
	}

	prev.Text = merged
	prev.EndOffset = last.EndOffset
	prev.TokenCount = mergedTokens
	chunks[n-2] = prev
	return chunks[:n-1]
}

// split tiles the text into spans no larger than MaxTokensPerChunk.
// Paragraph boundaries first, then sentences within oversized paragraphs,
// then hard character cuts for unbroken spans.
func (c *Chunker) split(text string) []span {
	var spans []span
	for _, p := range splitAfter(text, 0, paragraphBoundary) {
		p.tokens = c.counter.Count(text[p.start:p.end])
		if p.tokens <= c.config.MaxTokensPerChunk {
			spans = append(spans, p)
			continue
		}
		for _, s := range splitAfter(text[p.start:p.end], p.start, sentenceBoundary) {
			s.tokens = c.counter.Count(text[s.start:s.end])
			if s.tokens <= c.config.MaxTokensPerChunk {
				spans = append(spans, s)
				continue
			}
			spans = append(spans, c.hardCut(text, s)...)
		}
	}
	return spans
}

// hardCut slices an unbroken span into pieces under the token budget.
// Cuts land on rune boundaries; content is never dropped.
func (c *Chunker) hardCut(text string, s span) []span {
	var out []span
	start := s.start
	for start < s.end {
		// Initial guess of four bytes per token, shrunk until it fits.
		cut := start + c.config.MaxTokensPerChunk*4
		if cut > s.end {
			cut = s.end
		}
		cut = runeAlign(text, cut)
		for cut > start && c.counter.Count(text[start:cut]) > c.config.MaxTokensPerChunk {
			cut = runeAlign(text, start+(cut-start)/2)
		}
		if cut <= start {
			// Pathological counter; take one rune to guarantee progress.
			_, size := utf8.DecodeRuneInString(text[start:])
			cut = start + size
		}
		out = append(out, span{start: start, end: cut, tokens: c.counter.Count(text[start:cut])})
		start = cut
	}
	return out
}

// runeAlign moves pos left to the nearest rune start.
func runeAlign(text string, pos int) int {
	for pos > 0 && pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}

// splitAfter tiles text into spans that end just after each boundary match,
// with trailing separator whitespace attached to the preceding span.
// base shifts offsets so spans index the full document text.
func splitAfter(text string, base int, boundary func(text string, i int) bool) []span {
	var spans []span
	start := 0
	i := 0
	for i < len(text) {
		if boundary(text, i) {
			// Consume the whitespace run following the boundary.
			j := i + 1
			for j < len(text) && (text[j] == '\n' || text[j] == ' ' || text[j] == '\t' || text[j] == '\f') {
				j++
			}
			spans = append(spans, span{start: base + start, end: base + j})
			start = j
			i = j
			continue
		}
		i++
	}
	if start < len(text) {
		spans = append(spans, span{start: base + start, end: base + len(text)})
	}
	return spans
}

// paragraphBoundary reports a paragraph break: a blank line or a page break.
func paragraphBoundary(text string, i int) bool {
	if text[i] == '\f' {
		return true
	}
	return text[i] == '\n' && i+1 < len(text) && text[i+1] == '\n'
}

// sentenceBoundary reports a sentence end: terminal punctuation followed by
// whitespace, or a line break.
func sentenceBoundary(text string, i int) bool {
	if text[i] == '\n' {
		return true
	}
	if text[i] != '.' && text[i] != '!' && text[i] != '?' {
		return false
	}
	return i+1 >= len(text) || text[i+1] == ' ' || text[i+1] == '\n' || text[i+1] == '\t'
}

// pageBreaks returns the byte offsets of form-feed page separators.
func pageBreaks(text string) []int {
	var breaks []int
	for i := 0; i < len(text); i++ {
		if text[i] == '\f' {
			breaks = append(breaks, i)
		}
	}
	return breaks
}

// pageAt returns the 1-based page for a byte offset, or 0 when the text has
// no page breaks.
func pageAt(breaks []int, offset int) int {
	if len(breaks) == 0 {
		return 0
	}
	page := 1
	for _, b := range breaks {
		if b < offset {
			page++
		} else {
			break
		}
	}
	return page
}
