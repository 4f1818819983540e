package rag_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rag "github.com/yanqian/rag-service/internal/domain/rag"
	"github.com/yanqian/rag-service/internal/infra/rag/queue"
	"github.com/yanqian/rag-service/internal/infra/rag/repo"
	"github.com/yanqian/rag-service/internal/infra/rag/storage"
	apperrors "github.com/yanqian/rag-service/pkg/errors"
)

type failingQueue struct{}

func (failingQueue) Enqueue(ctx context.Context, name string, payload any) error {
	return errors.New("queue unavailable")
}

func newUploadFixture(q rag.JobQueue) (*repo.MemoryWorkspaceRepository, *repo.MemoryDocumentRepository, *storage.MemoryStorage, *rag.UploadOrchestrator) {
	workspaces := repo.NewMemoryWorkspaceRepository()
	documents := repo.NewMemoryDocumentRepository()
	objStorage := storage.NewMemoryStorage()
	orch := rag.NewUploadOrchestrator(workspaces, documents, objStorage, q, 0, testLogger())
	return workspaces, documents, objStorage, orch
}

func TestUploadOrchestrator_RejectsEmptyFilenameAndContent(t *testing.T) {
	_, _, _, orch := newUploadFixture(queue.NewImmediateQueue(nil))
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}

	_, err := orch.Upload(context.Background(), rag.UploadRequest{Actor: owner, WorkspaceID: "ws", Filename: "  ", Content: []byte("x")})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "VALIDATION_ERROR"))

	_, err = orch.Upload(context.Background(), rag.UploadRequest{Actor: owner, WorkspaceID: "ws", Filename: "a.txt", Content: nil})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "VALIDATION_ERROR"))
}

func TestUploadOrchestrator_RejectsOversizedContent(t *testing.T) {
	workspaces, _, _, _ := newUploadFixture(queue.NewImmediateQueue(nil))
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	ws, err := workspaces.Create(context.Background(), rag.Workspace{ID: "ws", OwnerUserID: owner.UserID})
	require.NoError(t, err)

	documents := repo.NewMemoryDocumentRepository()
	objStorage := storage.NewMemoryStorage()
	orch := rag.NewUploadOrchestrator(workspaces, documents, objStorage, queue.NewImmediateQueue(nil), 4, testLogger())

	_, err = orch.Upload(context.Background(), rag.UploadRequest{Actor: owner, WorkspaceID: ws.ID, Filename: "a.txt", Content: []byte("way too big")})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "VALIDATION_ERROR"))
}

func TestUploadOrchestrator_RequiresWriteAccess(t *testing.T) {
	workspaces, documents, objStorage, _ := newUploadFixture(queue.NewImmediateQueue(nil))
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	stranger := rag.Actor{UserID: 2, Role: rag.RoleEmployee}
	ws, err := workspaces.Create(context.Background(), rag.Workspace{ID: "ws", OwnerUserID: owner.UserID, Visibility: rag.VisibilityOrgRead})
	require.NoError(t, err)

	orch := rag.NewUploadOrchestrator(workspaces, documents, objStorage, queue.NewImmediateQueue(nil), 0, testLogger())
	_, err = orch.Upload(context.Background(), rag.UploadRequest{Actor: stranger, WorkspaceID: ws.ID, Filename: "a.txt", Content: []byte("hi")})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"))
}

func TestUploadOrchestrator_UnknownWorkspace(t *testing.T) {
	_, _, _, orch := newUploadFixture(queue.NewImmediateQueue(nil))
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	_, err := orch.Upload(context.Background(), rag.UploadRequest{Actor: owner, WorkspaceID: "missing", Filename: "a.txt", Content: []byte("hi")})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "NOT_FOUND"))
}

func TestUploadOrchestrator_SuccessPersistsPendingDocument(t *testing.T) {
	workspaces, documents, objStorage, _ := newUploadFixture(nil)
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	ws, err := workspaces.Create(context.Background(), rag.Workspace{ID: "ws", OwnerUserID: owner.UserID})
	require.NoError(t, err)

	orch := rag.NewUploadOrchestrator(workspaces, documents, objStorage, queue.NewImmediateQueue(nil), 0, testLogger())
	resp, err := orch.Upload(context.Background(), rag.UploadRequest{
		Actor: owner, WorkspaceID: ws.ID, Filename: "notes.txt", MimeType: "text/plain", Content: []byte("hello"),
		Tags: []string{"foo"}, AllowedRoles: []string{"EMPLOYEE"},
	})
	require.NoError(t, err)
	assert.Equal(t, rag.DocumentPending, resp.Status)
	assert.Equal(t, "notes.txt", resp.Filename)

	doc, err := documents.Get(context.Background(), resp.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, ws.ID, doc.WorkspaceID)
	assert.Equal(t, []string{"foo"}, doc.Tags)
}

func TestUploadOrchestrator_QueueFailureCompensatesToFailed(t *testing.T) {
	workspaces, documents, objStorage, _ := newUploadFixture(nil)
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	ws, err := workspaces.Create(context.Background(), rag.Workspace{ID: "ws", OwnerUserID: owner.UserID})
	require.NoError(t, err)

	orch := rag.NewUploadOrchestrator(workspaces, documents, objStorage, failingQueue{}, 0, testLogger())
	_, err = orch.Upload(context.Background(), rag.UploadRequest{Actor: owner, WorkspaceID: ws.ID, Filename: "a.txt", Content: []byte("hi")})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "SERVICE_UNAVAILABLE"))

	list, err := documents.List(context.Background(), rag.DocumentFilter{WorkspaceID: ws.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rag.DocumentFailed, list[0].Status)
}
