package chunker_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanqian/rag-service/internal/infra/rag/chunker"
)

func TestStructuredChunker_EmptyInput(t *testing.T) {
	c := chunker.NewStructuredChunker(200, 20)
	out, err := c.Chunk("")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestStructuredChunker_KeepsCodeFenceIntact(t *testing.T) {
	c := chunker.NewStructuredChunker(1000, 50)
	text := "Intro paragraph.\n\n```go\nfunc main() {\n\tprintln(\"hi\")\n}\n```\n\nOutro paragraph."
	out, err := c.Chunk(text)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Content, "```go")
	assert.Contains(t, out[0].Content, "func main()")
}

func TestStructuredChunker_MergesHeaderWithFollowingParagraph(t *testing.T) {
	c := chunker.NewStructuredChunker(1000, 50)
	text := "# Section One\n\nBody text for section one.\n\n# Section Two\n\nBody text for section two."
	out, err := c.Chunk(text)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Content, "# Section One\nBody text for section one.")
}

func TestStructuredChunker_PacksMultipleChunksUnderSizeLimit(t *testing.T) {
	c := chunker.NewStructuredChunker(80, 10)
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString("This is a distinct paragraph used to force chunk splitting across the boundary.\n\n")
	}
	out, err := c.Chunk(b.String())
	require.NoError(t, err)
	require.Greater(t, len(out), 1)
	for i, candidate := range out {
		assert.Equal(t, i, candidate.Index)
	}
}
