package rag

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/yanqian/rag-service/pkg/errors"
)

const defaultPresignTTLSeconds = 15 * 60

// DocumentService implements the document list/get/delete/download-url/
// reprocess/status/cancel-processing operations (§6).
type DocumentService struct {
	workspaces WorkspaceRepository
	acl        ACLRepository
	documents  DocumentRepository
	chunks     ChunkRepository
	storage    ObjectStorage
	queue      JobQueue
	logger     *slog.Logger
}

// NewDocumentService constructs the service.
func NewDocumentService(workspaces WorkspaceRepository, acl ACLRepository, documents DocumentRepository, chunks ChunkRepository, storage ObjectStorage, queue JobQueue, logger *slog.Logger) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		workspaces: workspaces,
		acl:        acl,
		documents:  documents,
		chunks:     chunks,
		storage:    storage,
		queue:      queue,
		logger:     logger.With("component", "rag.document"),
	}
}

func (s *DocumentService) authorizeRead(ctx context.Context, workspaceID string, actor Actor) (Workspace, error) {
	ws, err := s.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return Workspace{}, apperrors.Wrap("NOT_FOUND", "workspace not found", err)
	}
	if ws.Visibility == VisibilityShared && len(ws.SharedUserIDs) == 0 {
		entries, err := s.acl.ListByWorkspace(ctx, workspaceID)
		if err != nil {
			return Workspace{}, apperrors.Wrap("DATABASE_ERROR", "failed to load workspace acl", err)
		}
		ids := make([]int64, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.UserID)
		}
		ws.SharedUserIDs = ids
	}
	if !CanReadWorkspace(ws, actor) {
		return Workspace{}, apperrors.Wrap("FORBIDDEN", "actor cannot read this workspace", nil)
	}
	return ws, nil
}

func (s *DocumentService) authorizeWrite(ctx context.Context, workspaceID string, actor Actor) (Workspace, error) {
	ws, err := s.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return Workspace{}, apperrors.Wrap("NOT_FOUND", "workspace not found", err)
	}
	if !CanWriteWorkspace(ws, actor) {
		return Workspace{}, apperrors.Wrap("FORBIDDEN", "actor cannot write to this workspace", nil)
	}
	return ws, nil
}

// getAccessible loads doc, checking workspace read access and the per-
// document allowed_roles gate (§5 Open Question decision 3).
func (s *DocumentService) getAccessible(ctx context.Context, workspaceID, documentID string, actor Actor) (Document, error) {
	if _, err := s.authorizeRead(ctx, workspaceID, actor); err != nil {
		return Document{}, err
	}
	doc, err := s.documents.Get(ctx, documentID)
	if err != nil || doc.WorkspaceID != workspaceID || doc.IsDeleted() {
		return Document{}, apperrors.Wrap("NOT_FOUND", "document not found", err)
	}
	if !CanAccessDocument(doc, actor) {
		return Document{}, apperrors.Wrap("FORBIDDEN", "actor cannot access this document", nil)
	}
	return doc, nil
}

// List returns the documents in workspaceID that actor can read and access,
// excluding soft-deleted rows (the repository filters those at the data layer).
func (s *DocumentService) List(ctx context.Context, actor Actor, workspaceID string) ([]Document, error) {
	if _, err := s.authorizeRead(ctx, workspaceID, actor); err != nil {
		return nil, err
	}
	docs, err := s.documents.List(ctx, DocumentFilter{WorkspaceID: workspaceID})
	if err != nil {
		return nil, apperrors.Wrap("DATABASE_ERROR", "failed to list documents", err)
	}
	return FilterDocuments(docs, actor), nil
}

// Get returns a single document actor may access.
func (s *DocumentService) Get(ctx context.Context, actor Actor, workspaceID, documentID string) (Document, error) {
	return s.getAccessible(ctx, workspaceID, documentID, actor)
}

// Delete soft-deletes a document. Requires workspace write access.
func (s *DocumentService) Delete(ctx context.Context, actor Actor, workspaceID, documentID string) error {
	if _, err := s.authorizeWrite(ctx, workspaceID, actor); err != nil {
		return err
	}
	doc, err := s.documents.Get(ctx, documentID)
	if err != nil || doc.WorkspaceID != workspaceID || doc.IsDeleted() {
		return apperrors.Wrap("NOT_FOUND", "document not found", err)
	}
	if err := s.documents.SoftDelete(ctx, documentID); err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to delete document", err)
	}
	return nil
}

// DownloadURL returns a presigned URL for the document's stored bytes.
func (s *DocumentService) DownloadURL(ctx context.Context, actor Actor, workspaceID, documentID string, ttlSeconds int64) (string, error) {
	doc, err := s.getAccessible(ctx, workspaceID, documentID, actor)
	if err != nil {
		return "", err
	}
	if doc.StorageKey == "" {
		return "", apperrors.Wrap("VALIDATION_ERROR", "document has no stored file", nil)
	}
	if ttlSeconds <= 0 {
		ttlSeconds = defaultPresignTTLSeconds
	}
	url, err := s.storage.PresignedURL(ctx, doc.StorageKey, ttlSeconds, doc.Title)
	if err != nil {
		return "", apperrors.Wrap("SERVICE_UNAVAILABLE", "failed to presign download url", err)
	}
	return url, nil
}

// Status returns a document's current status and failure reason, if any.
func (s *DocumentService) Status(ctx context.Context, actor Actor, workspaceID, documentID string) (DocumentStatus, string, error) {
	doc, err := s.getAccessible(ctx, workspaceID, documentID, actor)
	if err != nil {
		return "", "", err
	}
	return doc.Status, doc.FailureReason, nil
}

// Reprocess re-enqueues a document for ingestion: {∅,PENDING,READY,FAILED}
// -> PENDING, then enqueues the processing job. Requires write access.
func (s *DocumentService) Reprocess(ctx context.Context, actor Actor, workspaceID, documentID string) error {
	if _, err := s.authorizeWrite(ctx, workspaceID, actor); err != nil {
		return err
	}
	doc, err := s.documents.Get(ctx, documentID)
	if err != nil || doc.WorkspaceID != workspaceID || doc.IsDeleted() {
		return apperrors.Wrap("NOT_FOUND", "document not found", err)
	}
	ok, err := requeueForProcessing(ctx, s.documents, documentID)
	if err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to transition document to pending", err)
	}
	if !ok {
		return apperrors.Wrap("CONFLICT", "document is not in a reprocessable state", nil)
	}
	if err := s.queue.Enqueue(ctx, "process_document", map[string]any{
		"document_id":  doc.ID,
		"workspace_id": doc.WorkspaceID,
	}); err != nil {
		if _, cErr := markFailedFromPending(ctx, s.documents, doc.ID, "Failed to enqueue document processing job"); cErr != nil {
			s.logger.Warn("compensation: failed to mark document failed after enqueue error", "document_id", doc.ID, "error", cErr)
		}
		return apperrors.Wrap("SERVICE_UNAVAILABLE", "failed to enqueue document processing job", err)
	}
	return nil
}

// CancelProcessing moves a stuck PROCESSING document to FAILED. Admin-only:
// this is not automatic (§7).
func (s *DocumentService) CancelProcessing(ctx context.Context, actor Actor, workspaceID, documentID string) error {
	if !actor.IsAdmin() {
		return apperrors.Wrap("FORBIDDEN", "only an admin may cancel processing", nil)
	}
	doc, err := s.documents.Get(ctx, documentID)
	if err != nil || doc.WorkspaceID != workspaceID || doc.IsDeleted() {
		return apperrors.Wrap("NOT_FOUND", "document not found", err)
	}
	reason := fmt.Sprintf("Cancelled by admin user %d", actor.UserID)
	ok, err := markFailed(ctx, s.documents, documentID, reason)
	if err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to cancel processing", err)
	}
	if !ok {
		return apperrors.Wrap("CONFLICT", "document is not currently processing", nil)
	}
	return nil
}
