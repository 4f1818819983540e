package rag

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/yanqian/rag-service/pkg/errors"
)

// ConversationService implements the conversation create/get-history/clear
// operations exposed by §6. It is distinct from the bounded in-process FIFO
// of §4.N (ConversationRepository/MessageRepository persist the same shape
// durably; see internal/infra/rag/repo for the in-memory variant
// used when no database is configured).
type ConversationService struct {
	workspaces    WorkspaceRepository
	acl           ACLRepository
	conversations ConversationRepository
	messages      MessageRepository
	logger        *slog.Logger
}

// NewConversationService constructs the service.
func NewConversationService(workspaces WorkspaceRepository, acl ACLRepository, conversations ConversationRepository, messages MessageRepository, logger *slog.Logger) *ConversationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationService{
		workspaces:    workspaces,
		acl:           acl,
		conversations: conversations,
		messages:      messages,
		logger:        logger.With("component", "rag.conversation"),
	}
}

func (s *ConversationService) authorizeRead(ctx context.Context, workspaceID string, actor Actor) (Workspace, error) {
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

// ownsConversation reports whether actor may view/clear c: its own
// conversation, or an admin.
func ownsConversation(c Conversation, actor Actor) bool {
	return actor.IsAdmin() || c.UserID == actor.UserID
}

// Create starts a new, empty conversation scoped to workspaceID.
func (s *ConversationService) Create(ctx context.Context, actor Actor, workspaceID, title string) (Conversation, error) {
	ws, err := s.authorizeRead(ctx, workspaceID, actor)
	if err != nil {
		return Conversation{}, err
	}
	now := time.Now().UTC()
	conv, err := s.conversations.Create(ctx, Conversation{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		UserID:      actor.UserID,
		Title:       title,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Conversation{}, apperrors.Wrap("DATABASE_ERROR", "failed to create conversation", err)
	}
	return conv, nil
}

// GetHistory returns up to limit of the most recent messages (all, if
// limit <= 0), for a conversation actor may view.
func (s *ConversationService) GetHistory(ctx context.Context, actor Actor, workspaceID, conversationID string, limit int) ([]Message, error) {
	if _, err := s.authorizeRead(ctx, workspaceID, actor); err != nil {
		return nil, err
	}
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil || conv.WorkspaceID != workspaceID {
		return nil, apperrors.Wrap("NOT_FOUND", "conversation not found", err)
	}
	if !ownsConversation(conv, actor) {
		return nil, apperrors.Wrap("FORBIDDEN", "actor cannot view this conversation", nil)
	}
	messages, err := s.messages.ListRecent(ctx, conversationID, limit)
	if err != nil {
		return nil, apperrors.Wrap("DATABASE_ERROR", "failed to load conversation history", err)
	}
	return messages, nil
}

// Clear empties a conversation's message history, keeping the conversation
// itself.
func (s *ConversationService) Clear(ctx context.Context, actor Actor, workspaceID, conversationID string) error {
	if _, err := s.authorizeRead(ctx, workspaceID, actor); err != nil {
		return err
	}
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil || conv.WorkspaceID != workspaceID {
		return apperrors.Wrap("NOT_FOUND", "conversation not found", err)
	}
	if !ownsConversation(conv, actor) {
		return apperrors.Wrap("FORBIDDEN", "actor cannot clear this conversation", nil)
	}
	if err := s.messages.Clear(ctx, conversationID); err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to clear conversation", err)
	}
	return nil
}
