package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/yanqian/rag-service/internal/infra/rag/retry"
	apperrors "github.com/yanqian/rag-service/pkg/errors"
)

// AskRequest is the Answer Use Case's input.
type AskRequest struct {
	Actor          Actor
	WorkspaceID    string
	ConversationID string
	Query          string
	TopK           int
	UseMMR         bool
}

// AskResponse is the sync Answer Use Case's output.
type AskResponse struct {
	ConversationID string
	Answer         string
	Sources        []ChunkCitation
}

// AskEventType enumerates the streaming answer event kinds (spec §6).
type AskEventType string

const (
	AskEventSources AskEventType = "sources"
	AskEventToken   AskEventType = "token"
	AskEventDone    AskEventType = "done"
	AskEventError   AskEventType = "error"
)

// AskEvent is one frame of the ask-stream SSE envelope.
type AskEvent struct {
	Type           AskEventType
	ConversationID string
	Sources        []ChunkCitation
	Token          string
	Answer         string
	Error          string
}

const defaultMaxPreviewChars = 200

// AnswerUseCase implements component H: authorize, retrieve, compose a
// prompt, call the LLM, and keep the conversation's history consistent.
type AnswerUseCase struct {
	workspaces    WorkspaceRepository
	acl           ACLRepository
	conversations ConversationRepository
	messages      MessageRepository
	retrieval     *RetrievalPipeline
	prompt        *PromptComposer
	llm           LLM

	promptPolicyName string
	promptVersion    string
	maxHistory       int
	retryConfig      retry.Config
	logger           *slog.Logger
}

// NewAnswerUseCase constructs the use case. retryConfig governs how the LLM
// call (and, for streaming, opening the stream) is retried on transient
// failure (component L); a zero Config falls back to retry.DefaultConfig.
func NewAnswerUseCase(
	workspaces WorkspaceRepository,
	acl ACLRepository,
	conversations ConversationRepository,
	messages MessageRepository,
	retrieval *RetrievalPipeline,
	prompt *PromptComposer,
	llm LLM,
	promptPolicyName, promptVersion string,
	maxHistory int,
	retryConfig retry.Config,
	logger *slog.Logger,
) *AnswerUseCase {
	if maxHistory <= 0 {
		maxHistory = 12
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerUseCase{
		workspaces:       workspaces,
		acl:              acl,
		conversations:    conversations,
		messages:         messages,
		retrieval:        retrieval,
		prompt:           prompt,
		llm:              llm,
		promptPolicyName: promptPolicyName,
		promptVersion:    promptVersion,
		maxHistory:       maxHistory,
		retryConfig:      retryConfig,
		logger:           logger.With("component", "rag.answer"),
	}
}

// authorize loads the workspace and, if visibility is SHARED, its ACL, then
// checks read access. ACL is loaded only when needed, per §4.A.
func (u *AnswerUseCase) authorize(ctx context.Context, workspaceID string, actor Actor) (Workspace, error) {
	ws, err := u.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return Workspace{}, apperrors.Wrap("NOT_FOUND", "workspace not found", err)
	}
	if ws.Visibility == VisibilityShared && len(ws.SharedUserIDs) == 0 {
		entries, err := u.acl.ListByWorkspace(ctx, workspaceID)
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

func (u *AnswerUseCase) ensureConversation(ctx context.Context, workspaceID string, actor Actor, conversationID string) (string, error) {
	if conversationID != "" {
		return conversationID, nil
	}
	conv, err := u.conversations.Create(ctx, Conversation{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		UserID:      actor.UserID,
	})
	if err != nil {
		return "", apperrors.Wrap("DATABASE_ERROR", "failed to create conversation", err)
	}
	return conv.ID, nil
}

// buildSemanticQuery formats recent history plus the current turn into a
// simple labeled transcript ("User:/Assistant:/User:") the embedder and LLM
// both consume as the effective query text.
func (u *AnswerUseCase) buildSemanticQuery(ctx context.Context, conversationID, query string) (string, error) {
	history, err := u.messages.ListRecent(ctx, conversationID, u.maxHistory)
	if err != nil {
		return "", apperrors.Wrap("DATABASE_ERROR", "failed to load conversation history", err)
	}
	if len(history) == 0 {
		return query, nil
	}
	var b strings.Builder
	for _, m := range history {
		switch m.Role {
		case MessageRoleUser:
			fmt.Fprintf(&b, "User: %s\n", m.Content)
		case MessageRoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n", m.Content)
		}
	}
	fmt.Fprintf(&b, "User: %s", query)
	return b.String(), nil
}

func buildSources(chunks []ScoredChunk, maxPreview int) []ChunkCitation {
	if maxPreview <= 0 {
		maxPreview = defaultMaxPreviewChars
	}
	out := make([]ChunkCitation, 0, len(chunks))
	for _, c := range chunks {
		preview := c.Chunk.Content
		if len(preview) > maxPreview {
			preview = preview[:maxPreview]
		}
		out = append(out, ChunkCitation{
			DocumentID: c.Chunk.DocumentID,
			ChunkIndex: c.Chunk.ChunkIndex,
			Score:      c.Score,
			Preview:    preview,
		})
	}
	return out
}

// Ask runs the synchronous flow: authorize, append user turn, retrieve,
// compose prompt, call the LLM (retried on transient errors via retry.Do),
// append the assistant turn.
func (u *AnswerUseCase) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	ws, err := u.authorize(ctx, req.WorkspaceID, req.Actor)
	if err != nil {
		return AskResponse{}, err
	}

	conversationID, err := u.ensureConversation(ctx, ws.ID, req.Actor, req.ConversationID)
	if err != nil {
		return AskResponse{}, err
	}

	semanticQuery, err := u.buildSemanticQuery(ctx, conversationID, req.Query)
	if err != nil {
		return AskResponse{}, err
	}

	if _, err := u.messages.Append(ctx, Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           MessageRoleUser,
		Content:        req.Query,
	}); err != nil {
		return AskResponse{}, apperrors.Wrap("DATABASE_ERROR", "failed to append user message", err)
	}

	result, err := u.retrieval.Run(ctx, req.Actor, ws.ID, semanticQuery, req.TopK, req.UseMMR)
	if err != nil {
		return AskResponse{}, apperrors.Wrap("EMBEDDING_ERROR", "retrieval failed", err)
	}

	var answer string
	var sources []ChunkCitation
	if len(result.ChunksUsed) == 0 {
		answer = NoEvidenceAnswer
	} else {
		composed, err := u.prompt.Compose(u.promptPolicyName, u.promptVersion, result.Context, req.Query)
		if err != nil {
			return AskResponse{}, apperrors.Wrap("LLM_ERROR", "failed to compose prompt", err)
		}
		err = retry.Do(ctx, u.retryConfig, func(ctx context.Context) error {
			a, chatErr := u.llm.Chat(ctx, []LLMMessage{{Role: "system", Content: composed}})
			if chatErr != nil {
				return chatErr
			}
			answer = a
			return nil
		})
		if err != nil {
			return AskResponse{}, apperrors.Wrap("LLM_ERROR", "llm call failed", err)
		}
		sources = buildSources(result.ChunksUsed, defaultMaxPreviewChars)
	}

	if _, err := u.messages.Append(ctx, Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           MessageRoleAssistant,
		Content:        answer,
		Sources:        sources,
	}); err != nil {
		u.logger.Warn("failed to persist assistant message", "error", err)
	}

	u.logger.Info("ask completed", append(result.Timings.AsFields(), "conversation_id", conversationID)...)

	return AskResponse{ConversationID: conversationID, Answer: answer, Sources: sources}, nil
}

// AskStream runs the streaming flow, emitting sources/token/done/error
// events on the returned channel. If ctx is cancelled (client disconnect),
// generation stops after the in-flight token and the partial answer
// accumulated so far is still persisted as the assistant's message.
func (u *AnswerUseCase) AskStream(ctx context.Context, req AskRequest) (<-chan AskEvent, error) {
	ws, err := u.authorize(ctx, req.WorkspaceID, req.Actor)
	if err != nil {
		return nil, err
	}
	conversationID, err := u.ensureConversation(ctx, ws.ID, req.Actor, req.ConversationID)
	if err != nil {
		return nil, err
	}
	semanticQuery, err := u.buildSemanticQuery(ctx, conversationID, req.Query)
	if err != nil {
		return nil, err
	}
	if _, err := u.messages.Append(ctx, Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           MessageRoleUser,
		Content:        req.Query,
	}); err != nil {
		return nil, apperrors.Wrap("DATABASE_ERROR", "failed to append user message", err)
	}

	out := make(chan AskEvent)
	go u.runStream(ctx, req, ws.ID, conversationID, semanticQuery, out)
	return out, nil
}

func (u *AnswerUseCase) runStream(ctx context.Context, req AskRequest, workspaceID, conversationID, semanticQuery string, out chan<- AskEvent) {
	defer close(out)

	result, err := u.retrieval.Run(ctx, req.Actor, workspaceID, semanticQuery, req.TopK, req.UseMMR)
	if err != nil {
		out <- AskEvent{Type: AskEventError, Error: err.Error()}
		return
	}

	sources := buildSources(result.ChunksUsed, defaultMaxPreviewChars)
	out <- AskEvent{Type: AskEventSources, ConversationID: conversationID, Sources: sources}

	if len(result.ChunksUsed) == 0 {
		u.persistAssistant(context.WithoutCancel(ctx), conversationID, NoEvidenceAnswer, nil)
		out <- AskEvent{Type: AskEventDone, ConversationID: conversationID, Answer: NoEvidenceAnswer}
		return
	}

	composed, err := u.prompt.Compose(u.promptPolicyName, u.promptVersion, result.Context, req.Query)
	if err != nil {
		out <- AskEvent{Type: AskEventError, Error: err.Error()}
		return
	}

	stream, err := retry.DoStream(ctx, u.retryConfig, func(ctx context.Context) (<-chan LLMChunk, error) {
		return u.llm.ChatStream(ctx, []LLMMessage{{Role: "system", Content: composed}})
	})
	if err != nil {
		out <- AskEvent{Type: AskEventError, Error: err.Error()}
		return
	}

	var builder strings.Builder
	disconnected := false
loop:
	for chunk := range stream {
		if ctx.Err() != nil {
			disconnected = true
			break
		}
		builder.WriteString(chunk.Content)
		if chunk.Content != "" {
			select {
			case out <- AskEvent{Type: AskEventToken, Token: chunk.Content}:
			case <-ctx.Done():
				disconnected = true
				break loop
			}
		}
		if chunk.Done {
			break
		}
	}

	answer := builder.String()
	u.persistAssistant(context.WithoutCancel(ctx), conversationID, answer, sources)

	if disconnected {
		u.logger.Info("ask-stream client disconnected, persisted partial answer", "conversation_id", conversationID)
		return
	}
	out <- AskEvent{Type: AskEventDone, ConversationID: conversationID, Answer: answer}
}

func (u *AnswerUseCase) persistAssistant(ctx context.Context, conversationID, answer string, sources []ChunkCitation) {
	if _, err := u.messages.Append(ctx, Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           MessageRoleAssistant,
		Content:        answer,
		Sources:        sources,
	}); err != nil {
		u.logger.Warn("failed to persist assistant message", "error", err)
	}
}
