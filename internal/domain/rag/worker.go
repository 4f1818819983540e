package rag

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yanqian/rag-service/internal/infra/rag/retry"
)

// WorkerOutcome classifies how a single dequeued job ended, for the
// worker's per-outcome counters.
type WorkerOutcome string

const (
	OutcomeReady   WorkerOutcome = "READY"
	OutcomeFailed  WorkerOutcome = "FAILED"
	OutcomeInvalid WorkerOutcome = "INVALID"
	OutcomeMissing WorkerOutcome = "MISSING"
	OutcomeNoop    WorkerOutcome = "NOOP"
)

// WorkerStats accumulates outcome counts across a worker's lifetime.
type WorkerStats struct {
	Ready   atomic.Int64
	Failed  atomic.Int64
	Invalid atomic.Int64
	Missing atomic.Int64
	Noop    atomic.Int64
}

func (s *WorkerStats) record(outcome WorkerOutcome) {
	switch outcome {
	case OutcomeReady:
		s.Ready.Add(1)
	case OutcomeFailed:
		s.Failed.Add(1)
	case OutcomeInvalid:
		s.Invalid.Add(1)
	case OutcomeMissing:
		s.Missing.Add(1)
	default:
		s.Noop.Add(1)
	}
}

// ProcessDocumentWorker implements component K: claims a pending document,
// downloads its bytes, extracts text, chunks, embeds, and replaces the
// chunk set before transitioning to READY (or FAILED on any error).
type ProcessDocumentWorker struct {
	documents DocumentRepository
	chunksRepo ChunkRepository
	storage   ObjectStorage
	extractor TextExtractor
	chunker   Chunker
	embedder  Embedder
	cache     EmbeddingCache

	retryConfig retry.Config
	Stats       WorkerStats
	logger      *slog.Logger
}

// NewProcessDocumentWorker constructs the worker. retryConfig governs how
// the embedding provider call is retried on transient failure (component L);
// a zero Config falls back to retry.DefaultConfig's N=3/503-aware schedule.
func NewProcessDocumentWorker(documents DocumentRepository, chunksRepo ChunkRepository, storage ObjectStorage, extractor TextExtractor, chunker Chunker, embedder Embedder, cache EmbeddingCache, retryConfig retry.Config, logger *slog.Logger) *ProcessDocumentWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessDocumentWorker{
		documents:   documents,
		chunksRepo:  chunksRepo,
		storage:     storage,
		extractor:   extractor,
		chunker:     chunker,
		embedder:    embedder,
		cache:       cache,
		retryConfig: retryConfig,
		logger:      logger.With("component", "rag.worker"),
	}
}

// ProcessDocument runs one job: (documentID, workspaceID).
func (w *ProcessDocumentWorker) ProcessDocument(ctx context.Context, documentID, workspaceID string) WorkerOutcome {
	start := time.Now()
	outcome := w.processDocument(ctx, documentID, workspaceID)
	w.Stats.record(outcome)
	w.logger.Info("processed document", "document_id", documentID, "outcome", outcome, "duration_ms", time.Since(start).Milliseconds())
	return outcome
}

func (w *ProcessDocumentWorker) processDocument(ctx context.Context, documentID, workspaceID string) WorkerOutcome {
	doc, err := w.documents.Get(ctx, documentID)
	if err != nil || doc.WorkspaceID != workspaceID || doc.IsDeleted() {
		return OutcomeMissing
	}
	if doc.Status == DocumentReady || doc.Status == DocumentProcessing {
		return OutcomeNoop
	}

	ok, err := claimForProcessing(ctx, w.documents, documentID)
	if err != nil {
		w.logger.Error("failed to claim document for processing", "document_id", documentID, "error", err)
		return OutcomeNoop
	}
	if !ok {
		return OutcomeNoop
	}

	if err := w.runPipeline(ctx, doc); err != nil {
		if _, cErr := markFailed(ctx, w.documents, documentID, err.Error()); cErr != nil {
			w.logger.Error("failed to transition document to FAILED", "document_id", documentID, "error", cErr)
		}
		return OutcomeFailed
	}

	if ok, err := markReady(ctx, w.documents, documentID); err != nil || !ok {
		w.logger.Error("failed to transition document to READY after successful processing", "document_id", documentID, "error", err)
		return OutcomeFailed
	}
	return OutcomeReady
}

func (w *ProcessDocumentWorker) runPipeline(ctx context.Context, doc Document) error {
	if doc.StorageKey == "" || doc.MimeType == "" {
		return fmt.Errorf("missing file metadata for processing")
	}

	reader, err := w.storage.Get(ctx, doc.StorageKey)
	if err != nil {
		return fmt.Errorf("download document bytes: %w", err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read document bytes: %w", err)
	}

	text, err := w.extractor.Extract(ctx, doc.MimeType, data)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}

	candidates, err := w.chunker.Chunk(text)
	if err != nil {
		return fmt.Errorf("chunk text: %w", err)
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no chunks produced from document text")
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Content
	}
	var vectors [][]float32
	err = retry.Do(ctx, w.retryConfig, func(ctx context.Context) error {
		v, embedErr := embedWithCache(ctx, w.embedder, w.cache, texts, "retrieval_document")
		if embedErr != nil {
			return embedErr
		}
		vectors = v
		return nil
	})
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(candidates) {
		return fmt.Errorf("embedding count mismatch: expected %d got %d", len(candidates), len(vectors))
	}

	now := time.Now().UTC()
	chunks := make([]Chunk, len(candidates))
	for i, c := range candidates {
		chunks[i] = Chunk{
			ID:          uuid.NewString(),
			DocumentID:  doc.ID,
			WorkspaceID: doc.WorkspaceID,
			ChunkIndex:  c.Index,
			Content:     c.Content,
			TokenCount:  c.TokenCount,
			Embedding:   vectors[i],
			CreatedAt:   now,
		}
	}

	// Replace the chunk set; ordered so READY is the last step of the caller.
	if err := w.chunksRepo.SaveChunks(ctx, doc.ID, doc.WorkspaceID, chunks); err != nil {
		return fmt.Errorf("persist chunks: %w", err)
	}
	return nil
}
