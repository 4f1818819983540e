package chunker

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	domain "github.com/yanqian/rag-service/internal/domain/rag"
)

// SimpleChunker implements the baseline text chunker: greedy forward cuts at
// the best natural separator within a window of the target chunk size,
// falling back to a hard cut when no separator is found.
type SimpleChunker struct {
	ChunkSize int
	Overlap   int
	encoder   *tiktoken.Tiktoken
}

// NewSimpleChunker constructs a chunker with the given size/overlap,
// applying spec defaults (900/120) when unset.
func NewSimpleChunker(chunkSize, overlap int) *SimpleChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultChunkOverlap
	}
	return &SimpleChunker{ChunkSize: chunkSize, Overlap: overlap, encoder: encoder()}
}

// Chunk splits text into ordered, overlapping fragments. Empty input yields
// an empty slice; input no larger than ChunkSize yields exactly one chunk
// equal to the trimmed input.
func (c *SimpleChunker) Chunk(text string) ([]domain.ChunkCandidate, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}
	parts := splitGreedy(trimmed, c.ChunkSize, c.Overlap)
	parts = mergeTrailingShortChunk(parts, c.ChunkSize)
	return toCandidates(c.encoder, parts), nil
}

var _ domain.Chunker = (*SimpleChunker)(nil)
