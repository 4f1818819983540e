package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	domain "github.com/yanqian/rag-service/internal/domain/rag"
)

// StructuredChunker is the markdown/code-aware variant selected by
// text_chunker_mode=structured (§4.B): code fences are never split,
// headers are merged with the paragraph that follows them, and paragraphs
// are repacked per section up to ChunkSize, with overlap applied by
// prepending a tail slice of the previous chunk.
type StructuredChunker struct {
	ChunkSize int
	Overlap   int
	encoder   *tiktoken.Tiktoken
}

// NewStructuredChunker constructs the chunker with spec defaults when unset.
func NewStructuredChunker(chunkSize, overlap int) *StructuredChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultChunkOverlap
	}
	return &StructuredChunker{ChunkSize: chunkSize, Overlap: overlap, encoder: encoder()}
}

// Chunk splits text into ordered, structure-preserving fragments.
func (c *StructuredChunker) Chunk(text string) ([]domain.ChunkCandidate, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}
	blocks := parseBlocks(trimmed)
	if len(blocks) == 0 {
		return nil, nil
	}
	parts := packBlocks(blocks, c.ChunkSize, c.Overlap)
	parts = mergeTrailingShortChunk(parts, c.ChunkSize)
	return toCandidates(c.encoder, parts), nil
}

func isHeaderLine(trimmed string) bool {
	if !strings.HasPrefix(trimmed, "#") {
		return false
	}
	i := 0
	for i < len(trimmed) && trimmed[i] == '#' {
		i++
	}
	return i < len(trimmed) && trimmed[i] == ' '
}

func isFenceLine(trimmed string) bool {
	return strings.HasPrefix(trimmed, "```")
}

// parseBlocks splits text into indivisible units: fenced code blocks kept
// whole, and paragraphs with any immediately preceding header line merged in.
func parseBlocks(text string) []string {
	lines := strings.Split(text, "\n")
	var blocks []string
	var current []string
	var pendingHeader string
	inFence := false
	var fenceLines []string

	flushParagraph := func() {
		if len(current) == 0 {
			return
		}
		paragraph := strings.Join(current, "\n")
		if pendingHeader != "" {
			paragraph = pendingHeader + "\n" + paragraph
			pendingHeader = ""
		}
		blocks = append(blocks, paragraph)
		current = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if inFence {
			fenceLines = append(fenceLines, line)
			if isFenceLine(trimmed) {
				blocks = append(blocks, strings.Join(fenceLines, "\n"))
				fenceLines = nil
				inFence = false
			}
			continue
		}

		if isFenceLine(trimmed) {
			flushParagraph()
			inFence = true
			fenceLines = []string{line}
			continue
		}

		if trimmed == "" {
			flushParagraph()
			continue
		}

		if isHeaderLine(trimmed) && len(current) == 0 {
			if pendingHeader != "" {
				// A header with no body before the next one: emit it alone.
				blocks = append(blocks, pendingHeader)
			}
			pendingHeader = line
			continue
		}

		current = append(current, line)
	}
	if inFence && len(fenceLines) > 0 {
		// Unterminated fence: keep what we have rather than dropping content.
		blocks = append(blocks, strings.Join(fenceLines, "\n"))
	}
	flushParagraph()
	if pendingHeader != "" {
		blocks = append(blocks, pendingHeader)
	}
	return blocks
}

// packBlocks repacks blocks into chunks up to chunkSize runes, prepending an
// overlap tail of the previous chunk to each new one after the first.
func packBlocks(blocks []string, chunkSize, overlap int) []string {
	var out []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen == 0 {
			return
		}
		out = append(out, current.String())
		current.Reset()
		currentLen = 0
	}

	for _, b := range blocks {
		blockLen := utf8.RuneCountInString(b)
		if currentLen > 0 && currentLen+2+blockLen > chunkSize {
			prevTail := tailRunes(current.String(), overlap)
			flush()
			if prevTail != "" {
				current.WriteString(prevTail)
				current.WriteString("\n\n")
				currentLen = utf8.RuneCountInString(prevTail) + 2
			}
		}
		if currentLen > 0 {
			current.WriteString("\n\n")
			currentLen += 2
		}
		current.WriteString(b)
		currentLen += blockLen
	}
	flush()
	return out
}

// tailRunes returns the trailing overlap runes of the chunk about to be
// flushed, used to seed the next chunk.
func tailRunes(content string, overlap int) string {
	if overlap <= 0 || content == "" {
		return ""
	}
	runes := []rune(content)
	if len(runes) <= overlap {
		return content
	}
	return string(runes[len(runes)-overlap:])
}

var _ domain.Chunker = (*StructuredChunker)(nil)
