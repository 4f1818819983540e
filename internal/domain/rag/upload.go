package rag

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/yanqian/rag-service/pkg/errors"
)

// Prober is implemented by adapters that can report their own liveness
// (mirrors the teacher's Postgres-ping-else-memory-fallback DI pattern).
// Adapters that cannot fail independently (e.g. the in-memory fallbacks)
// simply don't implement it, and are treated as always available.
type Prober interface {
	Ping(ctx context.Context) error
}

func probeAvailable(ctx context.Context, port any) bool {
	prober, ok := port.(Prober)
	if !ok {
		return true
	}
	return prober.Ping(ctx) == nil
}

// UploadRequest is the Upload Orchestrator's input.
type UploadRequest struct {
	Actor       Actor
	WorkspaceID string
	Filename    string
	MimeType    string
	Content     []byte
	Tags        []string
	AllowedRoles []string
}

// UploadResponse is returned once the document row is durably persisted.
type UploadResponse struct {
	DocumentID string
	Status     DocumentStatus
	Filename   string
	MimeType   string
}

// UploadOrchestrator implements component J: store bytes, persist metadata,
// enqueue a processing job, and compensate when a later step fails.
type UploadOrchestrator struct {
	workspaces WorkspaceRepository
	documents  DocumentRepository
	storage    ObjectStorage
	queue      JobQueue
	maxBytes   int64
	logger     *slog.Logger
}

// NewUploadOrchestrator constructs the orchestrator.
func NewUploadOrchestrator(workspaces WorkspaceRepository, documents DocumentRepository, storage ObjectStorage, queue JobQueue, maxBytes int64, logger *slog.Logger) *UploadOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadOrchestrator{
		workspaces: workspaces,
		documents:  documents,
		storage:    storage,
		queue:      queue,
		maxBytes:   maxBytes,
		logger:     logger.With("component", "rag.upload"),
	}
}

// Upload runs the ordered, compensating upload flow.
func (o *UploadOrchestrator) Upload(ctx context.Context, req UploadRequest) (UploadResponse, error) {
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		return UploadResponse{}, apperrors.Wrap("VALIDATION_ERROR", "filename cannot be empty", nil)
	}
	if len(req.Content) == 0 {
		return UploadResponse{}, apperrors.Wrap("VALIDATION_ERROR", "file content cannot be empty", nil)
	}
	if o.maxBytes > 0 && int64(len(req.Content)) > o.maxBytes {
		return UploadResponse{}, apperrors.Wrap("VALIDATION_ERROR", "file exceeds maximum upload size", nil)
	}

	// 1. Verify write access.
	ws, err := o.workspaces.Get(ctx, req.WorkspaceID)
	if err != nil {
		return UploadResponse{}, apperrors.Wrap("NOT_FOUND", "workspace not found", err)
	}
	if !CanWriteWorkspace(ws, req.Actor) {
		return UploadResponse{}, apperrors.Wrap("FORBIDDEN", "actor cannot write to this workspace", nil)
	}

	// 2. Verify storage and queue are available.
	if !probeAvailable(ctx, o.storage) {
		return UploadResponse{}, apperrors.Wrap("SERVICE_UNAVAILABLE", "object storage unavailable", nil)
	}
	if !probeAvailable(ctx, o.queue) {
		return UploadResponse{}, apperrors.Wrap("SERVICE_UNAVAILABLE", "job queue unavailable", nil)
	}

	// 3. Generate id and deterministic storage key.
	documentID := uuid.NewString()
	storageKey := path.Join("documents", documentID, sanitizeFilename(filename))

	// 4. Put bytes first so the DB never points at nothing.
	stored, err := o.storage.Put(ctx, storageKey, req.Content, req.MimeType)
	if err != nil {
		return UploadResponse{}, apperrors.Wrap("SERVICE_UNAVAILABLE", "failed to store uploaded file", err)
	}

	// 5. Persist the document row with status PENDING; compensate on failure.
	now := time.Now().UTC()
	doc, err := o.documents.Create(ctx, Document{
		ID:           documentID,
		WorkspaceID:  ws.ID,
		OwnerUserID:  req.Actor.UserID,
		Title:        filename,
		Source:       DocumentSourceUpload,
		StorageKey:   stored.Key,
		MimeType:     req.MimeType,
		SizeBytes:    stored.Size,
		ETag:         stored.ETag,
		Status:       DocumentPending,
		AllowedRoles: req.AllowedRoles,
		Tags:         req.Tags,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if delErr := o.storage.Delete(ctx, storageKey); delErr != nil {
			o.logger.Warn("compensation: failed to delete orphaned object", "key", storageKey, "error", delErr)
		}
		return UploadResponse{}, apperrors.Wrap("DATABASE_ERROR", "failed to persist document", err)
	}

	// 6. Enqueue processing; compensate by transitioning to FAILED on failure.
	if err := o.queue.Enqueue(ctx, "process_document", map[string]any{
		"document_id":  doc.ID,
		"workspace_id": ws.ID,
	}); err != nil {
		if _, cErr := markFailedFromPending(ctx, o.documents, doc.ID, "Failed to enqueue document processing job"); cErr != nil {
			o.logger.Warn("compensation: failed to mark document failed after enqueue error", "document_id", doc.ID, "error", cErr)
		}
		return UploadResponse{}, apperrors.Wrap("SERVICE_UNAVAILABLE", "failed to enqueue document processing job", err)
	}

	return UploadResponse{DocumentID: doc.ID, Status: DocumentPending, Filename: filename, MimeType: req.MimeType}, nil
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		return fmt.Sprintf("upload-%d", time.Now().UnixNano())
	}
	return name
}
