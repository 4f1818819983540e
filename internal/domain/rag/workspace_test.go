package rag_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rag "github.com/yanqian/rag-service/internal/domain/rag"
	"github.com/yanqian/rag-service/internal/infra/rag/repo"
	apperrors "github.com/yanqian/rag-service/pkg/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newWorkspaceService() *rag.WorkspaceService {
	return rag.NewWorkspaceService(repo.NewMemoryWorkspaceRepository(), repo.NewMemoryACLRepository(), testLogger())
}

func TestWorkspaceService_CreateRejectsEmptyName(t *testing.T) {
	svc := newWorkspaceService()
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	_, err := svc.Create(context.Background(), owner, "   ", "", rag.VisibilityPrivate)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "VALIDATION_ERROR"))
}

func TestWorkspaceService_CreateRejectsDuplicateName(t *testing.T) {
	svc := newWorkspaceService()
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	ctx := context.Background()
	_, err := svc.Create(ctx, owner, "Research", "", rag.VisibilityPrivate)
	require.NoError(t, err)
	_, err = svc.Create(ctx, owner, "research", "", rag.VisibilityPrivate)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "CONFLICT"))
}

func TestWorkspaceService_CreateDefaultsToPrivate(t *testing.T) {
	svc := newWorkspaceService()
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	ws, err := svc.Create(context.Background(), owner, "Notes", "desc", "")
	require.NoError(t, err)
	assert.Equal(t, rag.VisibilityPrivate, ws.Visibility)
}

func TestWorkspaceService_GetDeniesUnauthorizedActor(t *testing.T) {
	svc := newWorkspaceService()
	ctx := context.Background()
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	stranger := rag.Actor{UserID: 2, Role: rag.RoleEmployee}

	ws, err := svc.Create(ctx, owner, "Private WS", "", rag.VisibilityPrivate)
	require.NoError(t, err)

	_, err = svc.Get(ctx, stranger, ws.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"))

	got, err := svc.Get(ctx, owner, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, ws.ID, got.ID)
}

func TestWorkspaceService_GetUnknownID(t *testing.T) {
	svc := newWorkspaceService()
	_, err := svc.Get(context.Background(), rag.Actor{UserID: 1, Role: rag.RoleEmployee}, "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "NOT_FOUND"))
}

func TestWorkspaceService_ListFiltersToReadable(t *testing.T) {
	svc := newWorkspaceService()
	ctx := context.Background()
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	other := rag.Actor{UserID: 2, Role: rag.RoleEmployee}

	_, err := svc.Create(ctx, owner, "Mine", "", rag.VisibilityPrivate)
	require.NoError(t, err)
	_, err = svc.Create(ctx, owner, "Open", "", rag.VisibilityOrgRead)
	require.NoError(t, err)

	list, err := svc.List(ctx, other)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Open", list[0].Name)
}

func TestWorkspaceService_UpdateRequiresWriteAccess(t *testing.T) {
	svc := newWorkspaceService()
	ctx := context.Background()
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	stranger := rag.Actor{UserID: 2, Role: rag.RoleEmployee}

	ws, err := svc.Create(ctx, owner, "WS", "", rag.VisibilityOrgRead)
	require.NoError(t, err)

	_, err = svc.Update(ctx, stranger, ws.ID, "New Name", "", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"))

	updated, err := svc.Update(ctx, owner, ws.ID, "New Name", "new desc", "")
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.Name)
	assert.Equal(t, "new desc", updated.Description)
}

func TestWorkspaceService_ArchiveIsIdempotent(t *testing.T) {
	svc := newWorkspaceService()
	ctx := context.Background()
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	ws, err := svc.Create(ctx, owner, "WS", "", rag.VisibilityPrivate)
	require.NoError(t, err)

	require.NoError(t, svc.Archive(ctx, owner, ws.ID))
	require.NoError(t, svc.Archive(ctx, owner, ws.ID))
}

func TestWorkspaceService_ShareGrantsAccessAndPublishes(t *testing.T) {
	svc := newWorkspaceService()
	ctx := context.Background()
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	member := rag.Actor{UserID: 2, Role: rag.RoleEmployee}

	ws, err := svc.Create(ctx, owner, "Shared WS", "", rag.VisibilityPrivate)
	require.NoError(t, err)

	err = svc.Share(ctx, owner, ws.ID, []rag.ACLGrant{{UserID: member.UserID, Role: rag.ACLRoleViewer}}, rag.VisibilityShared)
	require.NoError(t, err)

	got, err := svc.Get(ctx, member, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, rag.VisibilityShared, got.Visibility)

	entries, err := svc.ListACL(ctx, owner, ws.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, member.UserID, entries[0].UserID)
}

func TestWorkspaceService_GrantAndRevokeACL(t *testing.T) {
	svc := newWorkspaceService()
	ctx := context.Background()
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	member := rag.Actor{UserID: 2, Role: rag.RoleEmployee}

	ws, err := svc.Create(ctx, owner, "WS", "", rag.VisibilityPrivate)
	require.NoError(t, err)

	require.NoError(t, svc.GrantACL(ctx, owner, ws.ID, member.UserID, rag.ACLRoleEditor))
	entries, err := svc.ListACL(ctx, owner, ws.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, svc.RevokeACL(ctx, owner, ws.ID, member.UserID))
	entries, err = svc.ListACL(ctx, owner, ws.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 0)
}

func TestWorkspaceService_NonOwnerCannotManageACL(t *testing.T) {
	svc := newWorkspaceService()
	ctx := context.Background()
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	stranger := rag.Actor{UserID: 2, Role: rag.RoleEmployee}

	ws, err := svc.Create(ctx, owner, "WS", "", rag.VisibilityOrgRead)
	require.NoError(t, err)

	err = svc.GrantACL(ctx, stranger, ws.ID, 3, rag.ACLRoleViewer)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"))
}
