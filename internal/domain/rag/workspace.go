package rag

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/yanqian/rag-service/pkg/errors"
)

// WorkspaceService implements the Workspace CRUD + archive + publish +
// share + ACL operations the out-of-scope API layer calls (§6).
type WorkspaceService struct {
	workspaces WorkspaceRepository
	acl        ACLRepository
	logger     *slog.Logger
}

// NewWorkspaceService constructs the service.
func NewWorkspaceService(workspaces WorkspaceRepository, acl ACLRepository, logger *slog.Logger) *WorkspaceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkspaceService{workspaces: workspaces, acl: acl, logger: logger.With("component", "rag.workspace")}
}

// resolveSharedUserIDs loads ws's ACL user ids on demand, only when the
// workspace's visibility is SHARED, to avoid a mandatory N+1 fetch (§4.A).
func (s *WorkspaceService) resolveSharedUserIDs(ctx context.Context, ws Workspace) (Workspace, error) {
	if ws.Visibility != VisibilityShared || len(ws.SharedUserIDs) > 0 {
		return ws, nil
	}
	entries, err := s.acl.ListByWorkspace(ctx, ws.ID)
	if err != nil {
		return Workspace{}, apperrors.Wrap("DATABASE_ERROR", "failed to load workspace acl", err)
	}
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.UserID)
	}
	ws.SharedUserIDs = ids
	return ws, nil
}

// getReadable loads the workspace and checks read access, resolving ACL
// membership only if required.
func (s *WorkspaceService) getReadable(ctx context.Context, id string, actor Actor) (Workspace, error) {
	ws, err := s.workspaces.Get(ctx, id)
	if err != nil {
		return Workspace{}, apperrors.Wrap("NOT_FOUND", "workspace not found", err)
	}
	ws, err = s.resolveSharedUserIDs(ctx, ws)
	if err != nil {
		return Workspace{}, err
	}
	if !CanReadWorkspace(ws, actor) {
		return Workspace{}, apperrors.Wrap("FORBIDDEN", "actor cannot read this workspace", nil)
	}
	return ws, nil
}

// getWritable loads the workspace and checks write access.
func (s *WorkspaceService) getWritable(ctx context.Context, id string, actor Actor) (Workspace, error) {
	ws, err := s.workspaces.Get(ctx, id)
	if err != nil {
		return Workspace{}, apperrors.Wrap("NOT_FOUND", "workspace not found", err)
	}
	if !CanWriteWorkspace(ws, actor) {
		return Workspace{}, apperrors.Wrap("FORBIDDEN", "actor cannot write to this workspace", nil)
	}
	return ws, nil
}

// Create registers a new workspace owned by actor. Name uniqueness per
// (owner, case-insensitive) is enforced by the repository.
func (s *WorkspaceService) Create(ctx context.Context, actor Actor, name, description string, visibility Visibility) (Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Workspace{}, apperrors.Wrap("VALIDATION_ERROR", "workspace name cannot be empty", nil)
	}
	if visibility == "" {
		visibility = VisibilityPrivate
	}
	if _, exists, err := s.workspaces.FindByOwnerAndName(ctx, actor.UserID, name); err != nil {
		return Workspace{}, apperrors.Wrap("DATABASE_ERROR", "failed to check workspace name uniqueness", err)
	} else if exists {
		return Workspace{}, apperrors.Wrap("CONFLICT", "a workspace with this name already exists", nil)
	}

	now := time.Now().UTC()
	return s.workspaces.Create(ctx, Workspace{
		ID:          uuid.NewString(),
		OwnerUserID: actor.UserID,
		Name:        name,
		Description: description,
		Visibility:  visibility,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// Get returns ws if actor may read it.
func (s *WorkspaceService) Get(ctx context.Context, actor Actor, id string) (Workspace, error) {
	return s.getReadable(ctx, id, actor)
}

// List returns every workspace actor owns or can otherwise reach (visibility
// or ACL), delegated to the repository's ListForUser query.
func (s *WorkspaceService) List(ctx context.Context, actor Actor) ([]Workspace, error) {
	workspaces, err := s.workspaces.ListForUser(ctx, actor.UserID)
	if err != nil {
		return nil, apperrors.Wrap("DATABASE_ERROR", "failed to list workspaces", err)
	}
	out := make([]Workspace, 0, len(workspaces))
	for _, ws := range workspaces {
		ws, err := s.resolveSharedUserIDs(ctx, ws)
		if err != nil {
			return nil, err
		}
		if CanReadWorkspace(ws, actor) {
			out = append(out, ws)
		}
	}
	return out, nil
}

// Update changes name/description/visibility. Only the owner or an ADMIN may.
func (s *WorkspaceService) Update(ctx context.Context, actor Actor, id, name, description string, visibility Visibility) (Workspace, error) {
	ws, err := s.getWritable(ctx, id, actor)
	if err != nil {
		return Workspace{}, err
	}
	if name = strings.TrimSpace(name); name != "" {
		ws.Name = name
	}
	ws.Description = description
	if visibility != "" {
		ws.Visibility = visibility
	}
	ws.UpdatedAt = time.Now().UTC()
	if err := s.workspaces.Update(ctx, ws); err != nil {
		return Workspace{}, apperrors.Wrap("DATABASE_ERROR", "failed to update workspace", err)
	}
	return ws, nil
}

// Publish changes a workspace's visibility mode (e.g. PRIVATE -> ORG_READ or
// SHARED), the "publish" lifecycle step from §3.
func (s *WorkspaceService) Publish(ctx context.Context, actor Actor, id string, visibility Visibility) (Workspace, error) {
	return s.Update(ctx, actor, id, "", "", visibility)
}

// Archive soft-archives ws by setting its ArchivedAt; its documents are not
// soft-deleted.
// Idempotent: archiving an already-archived workspace returns success.
func (s *WorkspaceService) Archive(ctx context.Context, actor Actor, id string) error {
	if _, err := s.getWritable(ctx, id, actor); err != nil {
		return err
	}
	if err := s.workspaces.Archive(ctx, id); err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to archive workspace", err)
	}
	return nil
}

// ACLGrant is a single (user, role) pair, the unit the Share operation and
// individual grant/revoke calls operate over.
type ACLGrant struct {
	UserID int64
	Role   ACLRole
}

// Share replaces ws's entire ACL set in one transaction — spec's canonical
// share operation — and, if visibility is provided, also publishes it.
func (s *WorkspaceService) Share(ctx context.Context, actor Actor, id string, grants []ACLGrant, visibility Visibility) error {
	ws, err := s.getWritable(ctx, id, actor)
	if err != nil {
		return err
	}
	if !CanManageACL(ws, actor) {
		return apperrors.Wrap("FORBIDDEN", "actor cannot manage this workspace's acl", nil)
	}
	now := time.Now().UTC()
	entries := make([]ACLEntry, 0, len(grants))
	for _, g := range grants {
		entries = append(entries, ACLEntry{
			WorkspaceID: ws.ID,
			UserID:      g.UserID,
			Role:        g.Role,
			GrantedBy:   actor.UserID,
			CreatedAt:   now,
		})
	}
	if err := s.acl.ReplaceAll(ctx, ws.ID, entries); err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to replace workspace acl", err)
	}
	if visibility != "" && visibility != ws.Visibility {
		ws.Visibility = visibility
		ws.UpdatedAt = now
		if err := s.workspaces.Update(ctx, ws); err != nil {
			return apperrors.Wrap("DATABASE_ERROR", "failed to update workspace visibility", err)
		}
	}
	return nil
}

// GrantACL adds or updates a single user's grant without touching the rest
// of the ACL set.
func (s *WorkspaceService) GrantACL(ctx context.Context, actor Actor, id string, userID int64, role ACLRole) error {
	ws, err := s.getWritable(ctx, id, actor)
	if err != nil {
		return err
	}
	_, err = s.acl.Grant(ctx, ACLEntry{
		WorkspaceID: ws.ID,
		UserID:      userID,
		Role:        role,
		GrantedBy:   actor.UserID,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to grant acl entry", err)
	}
	return nil
}

// RevokeACL removes a single user's grant.
func (s *WorkspaceService) RevokeACL(ctx context.Context, actor Actor, id string, userID int64) error {
	ws, err := s.getWritable(ctx, id, actor)
	if err != nil {
		return err
	}
	if err := s.acl.Revoke(ctx, ws.ID, userID); err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to revoke acl entry", err)
	}
	return nil
}

// ListACL returns the deterministic (created_at ASC, user_id ASC) grant set.
func (s *WorkspaceService) ListACL(ctx context.Context, actor Actor, id string) ([]ACLEntry, error) {
	ws, err := s.getWritable(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	entries, err := s.acl.ListByWorkspace(ctx, ws.ID)
	if err != nil {
		return nil, apperrors.Wrap("DATABASE_ERROR", "failed to list workspace acl", err)
	}
	return entries, nil
}
