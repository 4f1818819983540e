package chunker_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanqian/rag-service/internal/infra/rag/chunker"
)

func TestSimpleChunker_EmptyInputYieldsNoChunks(t *testing.T) {
	c := chunker.NewSimpleChunker(100, 10)
	out, err := c.Chunk("   \n\t  ")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSimpleChunker_SmallInputYieldsOneChunk(t *testing.T) {
	c := chunker.NewSimpleChunker(500, 50)
	out, err := c.Chunk("a short document")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a short document", out[0].Content)
	assert.Equal(t, 0, out[0].Index)
}

func TestSimpleChunker_SplitsLongTextIntoMultipleOrderedChunks(t *testing.T) {
	c := chunker.NewSimpleChunker(50, 5)
	sentence := "This is a sentence that repeats. "
	text := strings.Repeat(sentence, 20)
	out, err := c.Chunk(text)
	require.NoError(t, err)
	require.Greater(t, len(out), 1)
	for i, candidate := range out {
		assert.Equal(t, i, candidate.Index)
		assert.NotEmpty(t, candidate.Content)
		assert.Greater(t, candidate.TokenCount, 0)
	}
}

func TestSimpleChunker_DefaultsAppliedForInvalidSizeAndOverlap(t *testing.T) {
	c := chunker.NewSimpleChunker(0, 0)
	assert.Equal(t, chunker.DefaultChunkSize, c.ChunkSize)
	assert.Equal(t, chunker.DefaultChunkOverlap, c.Overlap)

	c2 := chunker.NewSimpleChunker(100, 200)
	assert.Equal(t, chunker.DefaultChunkOverlap, c2.Overlap)
}
