package rag

import (
	"fmt"
	"strings"
)

const (
	chunkDelimiterFmt = "\n---[CHUNK %d]---\n"
	chunkEndDelimiter = "\n---[END CHUNK]---\n"
)

// ContextBuilder assembles the retrieved chunks into a single prompt-ready
// context block: deduplicated, delimiter-escaped against prompt injection,
// and capped at MaxChars.
type ContextBuilder struct {
	MaxChars int
}

// NewContextBuilder constructs a builder with the given character budget.
func NewContextBuilder(maxChars int) *ContextBuilder {
	if maxChars <= 0 {
		maxChars = 12000
	}
	return &ContextBuilder{MaxChars: maxChars}
}

// Build renders chunks (already ranked by the retrieval pipeline) into a
// context string and reports how many chunks actually fit the budget.
func (b *ContextBuilder) Build(chunks []ScoredChunk) (string, int) {
	if len(chunks) == 0 {
		return "", 0
	}

	seen := make(map[string]bool, len(chunks))
	unique := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Chunk.ID != "" && seen[c.Chunk.ID] {
			continue
		}
		if c.Chunk.ID != "" {
			seen[c.Chunk.ID] = true
		}
		unique = append(unique, c)
	}

	var builder strings.Builder
	totalChars := 0
	used := 0
	for i, c := range unique {
		formatted := formatChunk(c, i+1)
		if totalChars+len(formatted) > b.MaxChars {
			break
		}
		builder.WriteString(formatted)
		totalChars += len(formatted)
		used++
	}
	return builder.String(), used
}

// escapeDelimiters neutralizes the chunk-boundary markers inside untrusted
// document text so a crafted document cannot forge a fake chunk boundary
// and smuggle instructions past the context frame.
func escapeDelimiters(text string) string {
	text = strings.ReplaceAll(text, "---[", "—[")
	text = strings.ReplaceAll(text, "]---", "]—")
	return text
}

func formatChunk(c ScoredChunk, index int) string {
	var meta []string
	if c.Chunk.DocumentID != "" {
		meta = append(meta, fmt.Sprintf("Doc ID: %s", c.Chunk.DocumentID))
	}
	meta = append(meta, fmt.Sprintf("Fragment: %d", c.Chunk.ChunkIndex+1))
	if c.Document.Title != "" {
		meta = append(meta, fmt.Sprintf("Title: %s", c.Document.Title))
	}

	header := fmt.Sprintf(chunkDelimiterFmt, index)
	safeContent := escapeDelimiters(c.Chunk.Content)
	if len(meta) == 0 {
		return header + safeContent + chunkEndDelimiter
	}
	return header + "[" + strings.Join(meta, " | ") + "]\n" + safeContent + chunkEndDelimiter
}
