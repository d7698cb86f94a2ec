package chunker

import (
	"strings"
	"testing"

	"github.com/poiesic/docsearch/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunker(t *testing.T, config *Config) *Chunker {
	t.Helper()
	c, err := NewChunker(config)
	require.NoError(t, err)
	return c
}

func TestNewChunker_Validation(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		c, err := NewChunker(nil)
		require.NoError(t, err)
		assert.NotNil(t, c)
	})

	t.Run("zero max tokens", func(t *testing.T) {
		_, err := NewChunker(&Config{MaxTokensPerChunk: 0})
		assert.Error(t, err)
	})

	t.Run("overlap not below max", func(t *testing.T) {
		_, err := NewChunker(&Config{MaxTokensPerChunk: 10, OverlapTokens: 10})
		assert.Error(t, err)
	})

	t.Run("negative min chunk tokens", func(t *testing.T) {
		_, err := NewChunker(&Config{MaxTokensPerChunk: 10, OverlapTokens: 2, MinChunkTokens: -1})
		assert.Error(t, err)
	})
}

func TestChunk_EmptyDocument(t *testing.T) {
	c := newTestChunker(t, nil)

	for _, text := range []string{"", "   \n\t\n  ", "\r\n\r\n"} {
		_, err := c.Chunk(&core.Document{ID: "doc.pdf", Text: text})
		assert.ErrorIs(t, err, core.ErrEmptyDocument, "text %q", text)
	}
}

func TestChunk_SingleSmallDocument(t *testing.T) {
	c := newTestChunker(t, nil)

	doc := &core.Document{ID: "doc.pdf", Text: "A short paragraph of text."}
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	chunk := chunks[0]
	assert.Equal(t, "doc.pdf", chunk.DocumentID)
	assert.Equal(t, 0, chunk.Seq)
	assert.Equal(t, doc.Text, chunk.Text)
	assert.Equal(t, 0, chunk.StartOffset)
	assert.Equal(t, len(doc.Text), chunk.EndOffset)
	assert.Equal(t, 0, chunk.Page, "no page breaks means page 0")
	assert.Equal(t, core.VersionFromContent(doc.Text), chunk.Version)
}

func TestChunk_CoverageAndOrdering(t *testing.T) {
	// ~40 paragraphs of ~30 tokens each against a 100-token budget.
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString(strings.Repeat("some words about retrieval systems. ", 4))
		b.WriteString("\n\n")
	}
	text := b.String()

	c := newTestChunker(t, &Config{MaxTokensPerChunk: 100, OverlapTokens: 20, MinChunkTokens: 10})
	chunks, err := c.Chunk(&core.Document{ID: "doc.pdf", Text: text})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	normalized := core.NormalizeText(text)
	counter := HeuristicCounter{}

	assert.Equal(t, 0, chunks[0].StartOffset, "first chunk starts at the beginning")
	assert.Equal(t, len(normalized), chunks[len(chunks)-1].EndOffset, "last chunk ends at the end")

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Seq)
		assert.Equal(t, normalized[chunk.StartOffset:chunk.EndOffset], chunk.Text)
		assert.LessOrEqual(t, counter.Count(chunk.Text), 100,
			"chunk %d exceeds the token budget", i)

		if i > 0 {
			prev := chunks[i-1]
			assert.Greater(t, chunk.StartOffset, prev.StartOffset, "chunks must advance")
			assert.LessOrEqual(t, chunk.StartOffset, prev.EndOffset,
				"chunk %d leaves a gap after its predecessor", i)
		}
	}
}

func TestChunk_OverlapApproximatesConfig(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("Sentence number one about indexing. Sentence number two about vectors.\n\n")
	}

	c := newTestChunker(t, &Config{MaxTokensPerChunk: 120, OverlapTokens: 30, MinChunkTokens: 10})
	chunks, err := c.Chunk(&core.Document{ID: "doc.pdf", Text: b.String()})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	counter := HeuristicCounter{}
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		require.LessOrEqual(t, cur.StartOffset, prev.EndOffset)
		overlapText := prev.Text[cur.StartOffset-prev.StartOffset:]
		overlap := counter.Count(overlapText)
		assert.Greater(t, overlap, 0, "consecutive chunks should share text")
		assert.Less(t, overlap, 120, "overlap must stay below the chunk budget")
	}
}

func TestChunk_HardCutUnbrokenSpan(t *testing.T) {
	// A single unbroken token with no sentence or paragraph boundaries.
	text := strings.Repeat("x", 4000)

	c := newTestChunker(t, &Config{MaxTokensPerChunk: 100, OverlapTokens: 10, MinChunkTokens: 5})
	chunks, err := c.Chunk(&core.Document{ID: "doc.pdf", Text: text})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	counter := HeuristicCounter{}
	for i, chunk := range chunks {
		assert.LessOrEqual(t, counter.Count(chunk.Text), 100, "chunk %d over budget", i)
	}
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, len(text), chunks[len(chunks)-1].EndOffset)
}

func TestChunk_PageNumbers(t *testing.T) {
	text := "Page one text here.\f" + "Page two text here.\f" + "Page three text here."

	c := newTestChunker(t, &Config{MaxTokensPerChunk: 6, OverlapTokens: 0, MinChunkTokens: 1})
	chunks, err := c.Chunk(&core.Document{ID: "doc.pdf", Text: text})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 3)

	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, 3, chunks[len(chunks)-1].Page)

	lastPage := 0
	for _, chunk := range chunks {
		assert.GreaterOrEqual(t, chunk.Page, lastPage, "pages must not decrease")
		lastPage = chunk.Page
	}
}

func TestMergeTrailingFragment(t *testing.T) {
	c := newTestChunker(t, &Config{MaxTokensPerChunk: 100, OverlapTokens: 0, MinChunkTokens: 10})
	text := strings.Repeat("a", 200) + " tail"
	counter := HeuristicCounter{}

	base := []core.Chunk{
		{Seq: 0, Text: text[:200], StartOffset: 0, EndOffset: 200, TokenCount: counter.Count(text[:200])},
		{Seq: 1, Text: text[200:], StartOffset: 200, EndOffset: len(text), TokenCount: counter.Count(text[200:])},
	}

	t.Run("undersized tail merges when the result fits", func(t *testing.T) {
		chunks := append([]core.Chunk(nil), base...)
		merged := c.mergeTrailingFragment(text, chunks)
		require.Len(t, merged, 1)
		assert.Equal(t, text, merged[0].Text)
		assert.Equal(t, len(text), merged[0].EndOffset)
		assert.Equal(t, counter.Count(text), merged[0].TokenCount)
	})

	t.Run("tail at or above the minimum is kept", func(t *testing.T) {
		chunks := append([]core.Chunk(nil), base...)
		chunks[1].TokenCount = 10
		merged := c.mergeTrailingFragment(text, chunks)
		assert.Len(t, merged, 2)
	})

	t.Run("merge that would overflow the budget is skipped", func(t *testing.T) {
		small, err := NewChunker(&Config{MaxTokensPerChunk: 50, OverlapTokens: 0, MinChunkTokens: 10})
		require.NoError(t, err)
		chunks := append([]core.Chunk(nil), base...)
		merged := small.mergeTrailingFragment(text, chunks)
		assert.Len(t, merged, 2)
	})

	t.Run("single chunk untouched", func(t *testing.T) {
		chunks := []core.Chunk{base[0]}
		merged := c.mergeTrailingFragment(text, chunks)
		assert.Len(t, merged, 1)
	})
}

func TestChunk_DeterministicVersion(t *testing.T) {
	c := newTestChunker(t, nil)
	doc := &core.Document{ID: "doc.pdf", Text: "Stable content."}

	first, err := c.Chunk(doc)
	require.NoError(t, err)
	second, err := c.Chunk(doc)
	require.NoError(t, err)

	assert.Equal(t, first, second, "chunking is deterministic")
}
