package rag

import "math"

// cosineSimilarity mirrors the teacher's in-memory vector store cosine helper:
// zero on length mismatch or a zero-norm vector instead of NaN/Inf.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// defaultLambda balances relevance against diversity in MaximalMarginalRelevance.
const defaultLambda = 0.5

// MaximalMarginalRelevance re-ranks candidates (already sorted by relevance is
// not required) to topK results, trading off relevance to query against
// redundancy with chunks already selected:
//
//	score(c) = lambda*sim(c,query) - (1-lambda)*max(sim(c,s) for s in selected)
//
// The first pick is always the most relevant candidate, since the diversity
// term is zero with an empty selection.
func MaximalMarginalRelevance(candidates []ScoredChunk, query []float32, topK int, lambda float64) []ScoredChunk {
	if topK <= 0 || len(candidates) == 0 {
		return nil
	}
	if lambda <= 0 {
		lambda = defaultLambda
	}
	pool := make([]ScoredChunk, len(candidates))
	copy(pool, candidates)

	relevance := make([]float64, len(pool))
	for i, c := range pool {
		relevance[i] = cosineSimilarity(c.Chunk.Embedding, query)
	}

	selected := make([]ScoredChunk, 0, topK)
	chosen := make(map[int]bool, topK)

	for len(selected) < topK && len(chosen) < len(pool) {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i := range pool {
			if chosen[i] {
				continue
			}
			diversityPenalty := 0.0
			for j, s := range selected {
				sim := cosineSimilarity(pool[i].Chunk.Embedding, s.Chunk.Embedding)
				if j == 0 || sim > diversityPenalty {
					diversityPenalty = sim
				}
			}
			score := lambda*relevance[i] - (1-lambda)*diversityPenalty
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		chosen[bestIdx] = true
		selected = append(selected, pool[bestIdx])
	}
	return selected
}
