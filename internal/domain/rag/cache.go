package rag

import (
	"context"
	"fmt"
	"strings"
)

const cacheNormVersion = "v1"

// embeddingCacheKey builds the "model_id | task_type | norm_version |
// normalized_text" key from §4.C, normalizing by stripping and collapsing
// whitespace.
func embeddingCacheKey(modelID, taskType, text string) string {
	return modelID + "|" + taskType + "|" + cacheNormVersion + "|" + normalizeForCache(text)
}

func normalizeForCache(text string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(text)), " ")
}

// embedWithCache decorates embedder with cache, following the batch-path
// contract: dedup by key preserving first-appearance order, resolve hits,
// call the provider once with the unique miss texts, validate counts, then
// fan results out to every original index (so a repeated text embeds once).
// cache may be nil, in which case the provider is always called directly.
func embedWithCache(ctx context.Context, embedder Embedder, cache EmbeddingCache, texts []string, taskType string) ([][]float32, error) {
	if cache == nil {
		return embedder.Embed(ctx, texts)
	}

	const modelID = "default"
	out := make([][]float32, len(texts))
	keyForIndex := make([]string, len(texts))
	firstIndexForKey := make(map[string]int)
	var missKeys []string
	var missTexts []string

	for i, text := range texts {
		key := embeddingCacheKey(modelID, taskType, text)
		keyForIndex[i] = key
		if vec, hit, err := cache.Get(ctx, key); err == nil && hit {
			out[i] = vec
			continue
		}
		if _, seen := firstIndexForKey[key]; !seen {
			firstIndexForKey[key] = i
			missKeys = append(missKeys, key)
			missTexts = append(missTexts, text)
		}
	}

	if len(missTexts) > 0 {
		resolved, err := embedder.Embed(ctx, missTexts)
		if err != nil {
			return nil, fmt.Errorf("embedding provider: %w", err)
		}
		if len(resolved) != len(missTexts) {
			return nil, fmt.Errorf("embedding batch: provider returned %d vectors for %d inputs", len(resolved), len(missTexts))
		}
		resolvedByKey := make(map[string][]float32, len(missKeys))
		for i, key := range missKeys {
			resolvedByKey[key] = resolved[i]
			if err := cache.Set(ctx, key, resolved[i]); err != nil {
				// Cache write failures are ignored; they are never fatal here.
				_ = err
			}
		}
		for i := range texts {
			if out[i] == nil {
				out[i] = resolvedByKey[keyForIndex[i]]
			}
		}
	}

	for i, vec := range out {
		if vec == nil {
			return nil, fmt.Errorf("embedding batch: no result resolved for index %d", i)
		}
	}
	return out, nil
}
