package rag

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical vectors", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal vectors", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite vectors", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0, 0}, []float32{1, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"empty vectors", nil, nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := cosineSimilarity(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("cosineSimilarity(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func candidate(id string, embedding []float32) ScoredChunk {
	return ScoredChunk{Chunk: Chunk{ID: id, Embedding: embedding}}
}

func TestMaximalMarginalRelevance_EmptyAndBounds(t *testing.T) {
	if got := MaximalMarginalRelevance(nil, []float32{1, 0}, 3, 0.5); got != nil {
		t.Errorf("expected nil on empty candidates, got %v", got)
	}
	cands := []ScoredChunk{candidate("a", []float32{1, 0})}
	if got := MaximalMarginalRelevance(cands, []float32{1, 0}, 0, 0.5); got != nil {
		t.Errorf("expected nil for topK<=0, got %v", got)
	}
}

func TestMaximalMarginalRelevance_FirstPickIsMostRelevant(t *testing.T) {
	query := []float32{1, 0}
	cands := []ScoredChunk{
		candidate("low", []float32{0, 1}),
		candidate("high", []float32{1, 0}),
		candidate("mid", []float32{0.7, 0.7}),
	}
	out := MaximalMarginalRelevance(cands, query, 1, 0.5)
	if len(out) != 1 || out[0].Chunk.ID != "high" {
		t.Fatalf("expected the single most relevant candidate first, got %+v", out)
	}
}

func TestMaximalMarginalRelevance_PrefersDiversityOverRedundantDuplicate(t *testing.T) {
	query := []float32{1, 0.5}
	cands := []ScoredChunk{
		candidate("dup1", []float32{1, 0}),
		candidate("dup2", []float32{1, 0}),
		candidate("diverse", []float32{0, 1}),
	}
	out := MaximalMarginalRelevance(cands, query, 2, 0.5)
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[0].Chunk.ID != "dup1" && out[0].Chunk.ID != "dup2" {
		t.Fatalf("expected first pick to be one of the relevant duplicates, got %s", out[0].Chunk.ID)
	}
	if out[1].Chunk.ID != "diverse" {
		t.Errorf("expected second pick to favor the diverse candidate over the redundant duplicate, got %s", out[1].Chunk.ID)
	}
}

func TestMaximalMarginalRelevance_TopKExceedsPoolSizeReturnsAll(t *testing.T) {
	query := []float32{1, 0}
	cands := []ScoredChunk{candidate("a", []float32{1, 0}), candidate("b", []float32{0, 1})}
	out := MaximalMarginalRelevance(cands, query, 10, 0.5)
	if len(out) != 2 {
		t.Fatalf("expected all candidates when topK exceeds pool, got %d", len(out))
	}
}

func TestMaximalMarginalRelevance_NonPositiveLambdaFallsBackToDefault(t *testing.T) {
	query := []float32{1, 0}
	cands := []ScoredChunk{candidate("a", []float32{1, 0}), candidate("b", []float32{0, 1})}
	withZero := MaximalMarginalRelevance(cands, query, 2, 0)
	withDefault := MaximalMarginalRelevance(cands, query, 2, defaultLambda)
	if len(withZero) != len(withDefault) {
		t.Fatalf("lambda<=0 should behave like defaultLambda")
	}
	for i := range withZero {
		if withZero[i].Chunk.ID != withDefault[i].Chunk.ID {
			t.Errorf("expected same ordering with lambda<=0 fallback, got %s vs %s", withZero[i].Chunk.ID, withDefault[i].Chunk.ID)
		}
	}
}
