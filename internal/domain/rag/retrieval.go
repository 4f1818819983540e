package rag

import (
	"context"
	"fmt"
	"time"
)

// NoEvidenceAnswer is the canonical fallback returned whenever retrieval
// finds nothing usable; the Answer Use Case never calls the LLM in this case.
const NoEvidenceAnswer = "No sufficient evidence found in the sources. Could you be more specific (keywords/date/document)?"

const (
	mmrFetchMultiplier = 4
	mmrLambda          = 0.5
)

// StageTimings records wall-clock duration per named pipeline stage for
// structured logging, mirroring the original's StageTimings helper.
type StageTimings struct {
	stages map[string]time.Duration
}

// NewStageTimings constructs an empty timing sink.
func NewStageTimings() *StageTimings {
	return &StageTimings{stages: make(map[string]time.Duration)}
}

func (t *StageTimings) measure(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	t.stages[name] = time.Since(start)
	return err
}

// AsFields renders the timings as slog-friendly key/value pairs.
func (t *StageTimings) AsFields() []any {
	fields := make([]any, 0, len(t.stages)*2)
	for name, d := range t.stages {
		fields = append(fields, name+"_ms", d.Milliseconds())
	}
	return fields
}

// RetrievalResult is the Retrieval Pipeline's output.
type RetrievalResult struct {
	Query          string
	TopK           int
	UseMMR         bool
	ChunksFound    int
	ChunksUsed     []ScoredChunk
	Context        string
	ContextChars   int
	FallbackAnswer string
	Timings        *StageTimings
}

// RetrievalPipeline embeds a query, searches for similar chunks (plain or
// MMR), filters by document access, and assembles a bounded context block.
type RetrievalPipeline struct {
	embedder   Embedder
	chunks     ChunkRepository
	contextBld *ContextBuilder
}

// NewRetrievalPipeline constructs the pipeline.
func NewRetrievalPipeline(embedder Embedder, chunks ChunkRepository, contextBld *ContextBuilder) *RetrievalPipeline {
	return &RetrievalPipeline{embedder: embedder, chunks: chunks, contextBld: contextBld}
}

// Run executes the pipeline. topK <= 0 is a no-op returning an empty result
// without touching any port. An empty workspaceID is a usage error.
func (p *RetrievalPipeline) Run(ctx context.Context, actor Actor, workspaceID, query string, topK int, useMMR bool) (RetrievalResult, error) {
	timings := NewStageTimings()
	result := RetrievalResult{Query: query, TopK: topK, UseMMR: useMMR, FallbackAnswer: NoEvidenceAnswer, Timings: timings}

	if workspaceID == "" {
		return RetrievalResult{}, fmt.Errorf("workspaceID is required")
	}
	if topK <= 0 {
		return result, nil
	}

	var queryEmbedding []float32
	if err := timings.measure("embed", func() error {
		vectors, err := p.embedder.Embed(ctx, []string{query})
		if err != nil {
			return err
		}
		if len(vectors) == 0 {
			return fmt.Errorf("embedder returned no vectors")
		}
		queryEmbedding = vectors[0]
		return nil
	}); err != nil {
		return RetrievalResult{}, err
	}

	var candidates []ScoredChunk
	if err := timings.measure("retrieve", func() error {
		fetchK := topK
		if useMMR {
			if mult := topK * mmrFetchMultiplier; mult > fetchK {
				fetchK = mult
			}
		}
		found, err := p.chunks.SearchSimilar(ctx, workspaceID, queryEmbedding, fetchK, DocumentFilter{WorkspaceID: workspaceID})
		if err != nil {
			return err
		}
		candidates = FilterScoredChunks(found, actor)
		if useMMR {
			candidates = MaximalMarginalRelevance(candidates, queryEmbedding, topK, mmrLambda)
		} else if len(candidates) > topK {
			candidates = candidates[:topK]
		}
		return nil
	}); err != nil {
		return RetrievalResult{}, err
	}

	result.ChunksFound = len(candidates)
	if len(candidates) == 0 {
		return result, nil
	}

	var (
		contextStr string
		used       int
	)
	_ = timings.measure("build_context", func() error {
		contextStr, used = p.contextBld.Build(candidates)
		return nil
	})

	result.ChunksUsed = candidates[:used]
	result.Context = contextStr
	result.ContextChars = len(contextStr)
	return result, nil
}
