package queue

import (
	"context"
	"log/slog"

	domain "github.com/yanqian/rag-service/internal/domain/rag"
)

// processDocumentJob is the enqueued job name the Upload Orchestrator and
// Document Service's Reprocess operation both dispatch.
const processDocumentJob = "process_document"

// documentWorker is the subset of ProcessDocumentWorker the dispatcher needs,
// kept narrow so this package does not import the concrete worker type.
type documentWorker interface {
	ProcessDocument(ctx context.Context, documentID, workspaceID string) domain.WorkerOutcome
}

// NewDocumentProcessingHandler adapts a ProcessDocumentWorker into the
// Handler shape a HandlerQueue dispatches to, decoding the (documentID,
// workspaceID) pair out of the job payload.
func NewDocumentProcessingHandler(worker documentWorker, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rag.queue.dispatch")
	return func(ctx context.Context, name string, payload map[string]any) {
		if name != processDocumentJob {
			return
		}
		documentID, _ := payload["document_id"].(string)
		workspaceID, _ := payload["workspace_id"].(string)
		if documentID == "" || workspaceID == "" {
			logger.Warn("process_document job missing required fields", "payload", payload)
			return
		}
		worker.ProcessDocument(ctx, documentID, workspaceID)
	}
}
