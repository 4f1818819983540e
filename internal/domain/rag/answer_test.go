package rag_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rag "github.com/yanqian/rag-service/internal/domain/rag"
	"github.com/yanqian/rag-service/internal/infra/rag/embedder"
	raglllm "github.com/yanqian/rag-service/internal/infra/rag/llm"
	"github.com/yanqian/rag-service/internal/infra/rag/prompt"
	"github.com/yanqian/rag-service/internal/infra/rag/repo"
	"github.com/yanqian/rag-service/internal/infra/rag/retry"
)

var testRetryConfig = retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

type answerFixture struct {
	workspaces    *repo.MemoryWorkspaceRepository
	documents     *repo.MemoryDocumentRepository
	chunks        *repo.MemoryChunkRepository
	conversations *repo.MemoryConversationRepository
	messages      *repo.MemoryMessageRepository
	useCase       *rag.AnswerUseCase
}

func newAnswerFixture() *answerFixture {
	workspaces := repo.NewMemoryWorkspaceRepository()
	acl := repo.NewMemoryACLRepository()
	documents := repo.NewMemoryDocumentRepository()
	chunks := repo.NewMemoryChunkRepository(documents)
	conversations := repo.NewMemoryConversationRepository()
	messages := repo.NewMemoryMessageRepository(20)

	emb := embedder.NewDeterministicEmbedder(8)
	pipeline := rag.NewRetrievalPipeline(emb, chunks, rag.NewContextBuilder(4000))
	composer := rag.NewPromptComposer(prompt.NewFileSource(""))
	llm := raglllm.EchoLLM{}

	useCase := rag.NewAnswerUseCase(workspaces, acl, conversations, messages, pipeline, composer, llm, "default", "v1", 20, testRetryConfig, testLogger())
	return &answerFixture{workspaces: workspaces, documents: documents, chunks: chunks, conversations: conversations, messages: messages, useCase: useCase}
}

func TestAnswerUseCase_Ask_NoEvidenceFallback(t *testing.T) {
	f := newAnswerFixture()
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	ws, err := f.workspaces.Create(context.Background(), rag.Workspace{ID: "ws", OwnerUserID: owner.UserID})
	require.NoError(t, err)

	resp, err := f.useCase.Ask(context.Background(), rag.AskRequest{Actor: owner, WorkspaceID: ws.ID, Query: "what is in the documents?", TopK: 5})
	require.NoError(t, err)
	assert.Equal(t, rag.NoEvidenceAnswer, resp.Answer)
	assert.NotEmpty(t, resp.ConversationID)

	history, err := f.messages.ListRecent(context.Background(), resp.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, rag.MessageRoleUser, history[0].Role)
	assert.Equal(t, rag.MessageRoleAssistant, history[1].Role)
}

func TestAnswerUseCase_Ask_WithEvidenceCallsLLM(t *testing.T) {
	f := newAnswerFixture()
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	ws, err := f.workspaces.Create(context.Background(), rag.Workspace{ID: "ws", OwnerUserID: owner.UserID})
	require.NoError(t, err)

	doc, err := f.documents.Create(context.Background(), rag.Document{ID: "doc", WorkspaceID: ws.ID, OwnerUserID: owner.UserID, Title: "notes"})
	require.NoError(t, err)

	emb := embedder.NewDeterministicEmbedder(8)
	vectors, err := emb.Embed(context.Background(), []string{"the quarterly report shows growth"})
	require.NoError(t, err)
	err = f.chunks.SaveChunks(context.Background(), doc.ID, ws.ID, []rag.Chunk{
		{ID: "c1", DocumentID: doc.ID, WorkspaceID: ws.ID, Content: "the quarterly report shows growth", Embedding: vectors[0]},
	})
	require.NoError(t, err)

	resp, err := f.useCase.Ask(context.Background(), rag.AskRequest{
		Actor: owner, WorkspaceID: ws.ID, Query: "the quarterly report shows growth", TopK: 3,
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Answer, "Answer:")
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, doc.ID, resp.Sources[0].DocumentID)
}

func TestAnswerUseCase_Ask_UnauthorizedWorkspace(t *testing.T) {
	f := newAnswerFixture()
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	stranger := rag.Actor{UserID: 2, Role: rag.RoleEmployee}
	ws, err := f.workspaces.Create(context.Background(), rag.Workspace{ID: "ws", OwnerUserID: owner.UserID, Visibility: rag.VisibilityPrivate})
	require.NoError(t, err)

	_, err = f.useCase.Ask(context.Background(), rag.AskRequest{Actor: stranger, WorkspaceID: ws.ID, Query: "hi", TopK: 1})
	require.Error(t, err)
}

func TestAnswerUseCase_AskStream_EmitsSourcesTokenAndDone(t *testing.T) {
	f := newAnswerFixture()
	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	ws, err := f.workspaces.Create(context.Background(), rag.Workspace{ID: "ws", OwnerUserID: owner.UserID})
	require.NoError(t, err)

	doc, err := f.documents.Create(context.Background(), rag.Document{ID: "doc", WorkspaceID: ws.ID, OwnerUserID: owner.UserID})
	require.NoError(t, err)
	emb := embedder.NewDeterministicEmbedder(8)
	vectors, err := emb.Embed(context.Background(), []string{"streaming content example"})
	require.NoError(t, err)
	err = f.chunks.SaveChunks(context.Background(), doc.ID, ws.ID, []rag.Chunk{
		{ID: "c1", DocumentID: doc.ID, WorkspaceID: ws.ID, Content: "streaming content example", Embedding: vectors[0]},
	})
	require.NoError(t, err)

	events, err := f.useCase.AskStream(context.Background(), rag.AskRequest{Actor: owner, WorkspaceID: ws.ID, Query: "streaming content example", TopK: 3})
	require.NoError(t, err)

	var seen []rag.AskEventType
	var finalAnswer string
	for ev := range events {
		seen = append(seen, ev.Type)
		if ev.Type == rag.AskEventDone {
			finalAnswer = ev.Answer
		}
	}
	require.Contains(t, seen, rag.AskEventSources)
	require.Contains(t, seen, rag.AskEventDone)
	assert.Contains(t, finalAnswer, "Answer:")
}

// slowStreamLLM yields one token, then blocks on a signal channel before
// yielding the rest, giving a test time to cancel the context mid-stream.
type slowStreamLLM struct {
	proceed chan struct{}
}

func (s *slowStreamLLM) Chat(_ context.Context, messages []rag.LLMMessage) (string, error) {
	return "unused", nil
}

func (s *slowStreamLLM) ChatStream(ctx context.Context, _ []rag.LLMMessage) (<-chan rag.LLMChunk, error) {
	out := make(chan rag.LLMChunk)
	go func() {
		defer close(out)
		out <- rag.LLMChunk{Content: "partial "}
		select {
		case <-s.proceed:
		case <-ctx.Done():
			return
		}
		out <- rag.LLMChunk{Content: "rest", Done: true}
	}()
	return out, nil
}

func TestAnswerUseCase_AskStream_DisconnectStillPersistsPartialAnswer(t *testing.T) {
	workspaces := repo.NewMemoryWorkspaceRepository()
	acl := repo.NewMemoryACLRepository()
	documents := repo.NewMemoryDocumentRepository()
	chunks := repo.NewMemoryChunkRepository(documents)
	conversations := repo.NewMemoryConversationRepository()
	messages := repo.NewMemoryMessageRepository(20)
	emb := embedder.NewDeterministicEmbedder(8)
	pipeline := rag.NewRetrievalPipeline(emb, chunks, rag.NewContextBuilder(4000))
	composer := rag.NewPromptComposer(prompt.NewFileSource(""))
	llm := &slowStreamLLM{proceed: make(chan struct{})}
	useCase := rag.NewAnswerUseCase(workspaces, acl, conversations, messages, pipeline, composer, llm, "default", "v1", 20, testRetryConfig, testLogger())

	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	ws, err := workspaces.Create(context.Background(), rag.Workspace{ID: "ws", OwnerUserID: owner.UserID})
	require.NoError(t, err)
	doc, err := documents.Create(context.Background(), rag.Document{ID: "doc", WorkspaceID: ws.ID, OwnerUserID: owner.UserID})
	require.NoError(t, err)
	vectors, err := emb.Embed(context.Background(), []string{"disconnect scenario content"})
	require.NoError(t, err)
	err = chunks.SaveChunks(context.Background(), doc.ID, ws.ID, []rag.Chunk{
		{ID: "c1", DocumentID: doc.ID, WorkspaceID: ws.ID, Content: "disconnect scenario content", Embedding: vectors[0]},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := useCase.AskStream(ctx, rag.AskRequest{Actor: owner, WorkspaceID: ws.ID, Query: "disconnect scenario content", TopK: 3})
	require.NoError(t, err)

	first := <-events
	require.Equal(t, rag.AskEventSources, first.Type)
	second := <-events
	require.Equal(t, rag.AskEventToken, second.Type)
	assert.Equal(t, "partial ", second.Token)

	// Disconnect before the LLM yields its remaining content.
	cancel()
	for range events {
		// drain until the producer goroutine closes the channel after ctx.Done()
	}

	require.Eventually(t, func() bool {
		convs, convErr := conversations.ListForWorkspace(context.Background(), ws.ID, owner.UserID)
		if convErr != nil || len(convs) == 0 {
			return false
		}
		history, histErr := messages.ListRecent(context.Background(), convs[0].ID, 0)
		if histErr != nil || len(history) != 2 {
			return false
		}
		return history[1].Role == rag.MessageRoleAssistant && history[1].Content == "partial "
	}, time.Second, 10*time.Millisecond)
}

type flakyStatusErr struct{ code int }

func (e flakyStatusErr) Error() string   { return "llm provider unavailable" }
func (e flakyStatusErr) StatusCode() int { return e.code }

// flakyChatLLM fails its first failUntil Chat calls with a transient 503.
type flakyChatLLM struct {
	inner     rag.LLM
	failUntil int
	calls     int
}

func (f *flakyChatLLM) Chat(ctx context.Context, messages []rag.LLMMessage) (string, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return "", flakyStatusErr{code: 503}
	}
	return f.inner.Chat(ctx, messages)
}

func (f *flakyChatLLM) ChatStream(ctx context.Context, messages []rag.LLMMessage) (<-chan rag.LLMChunk, error) {
	return f.inner.ChatStream(ctx, messages)
}

func TestAnswerUseCase_Ask_RetriesTransientLLMFailureThenSucceeds(t *testing.T) {
	workspaces := repo.NewMemoryWorkspaceRepository()
	acl := repo.NewMemoryACLRepository()
	documents := repo.NewMemoryDocumentRepository()
	chunks := repo.NewMemoryChunkRepository(documents)
	conversations := repo.NewMemoryConversationRepository()
	messages := repo.NewMemoryMessageRepository(20)
	emb := embedder.NewDeterministicEmbedder(8)
	pipeline := rag.NewRetrievalPipeline(emb, chunks, rag.NewContextBuilder(4000))
	composer := rag.NewPromptComposer(prompt.NewFileSource(""))
	flaky := &flakyChatLLM{inner: raglllm.EchoLLM{}, failUntil: 2}
	useCase := rag.NewAnswerUseCase(workspaces, acl, conversations, messages, pipeline, composer, flaky, "default", "v1", 20, testRetryConfig, testLogger())

	owner := rag.Actor{UserID: 1, Role: rag.RoleEmployee}
	ws, err := workspaces.Create(context.Background(), rag.Workspace{ID: "ws", OwnerUserID: owner.UserID})
	require.NoError(t, err)
	doc, err := documents.Create(context.Background(), rag.Document{ID: "doc", WorkspaceID: ws.ID, OwnerUserID: owner.UserID})
	require.NoError(t, err)
	vectors, err := emb.Embed(context.Background(), []string{"retry scenario content"})
	require.NoError(t, err)
	err = chunks.SaveChunks(context.Background(), doc.ID, ws.ID, []rag.Chunk{
		{ID: "c1", DocumentID: doc.ID, WorkspaceID: ws.ID, Content: "retry scenario content", Embedding: vectors[0]},
	})
	require.NoError(t, err)

	resp, err := useCase.Ask(context.Background(), rag.AskRequest{Actor: owner, WorkspaceID: ws.ID, Query: "retry scenario content", TopK: 3})
	require.NoError(t, err)
	assert.Contains(t, resp.Answer, "Answer:")
	assert.Equal(t, 3, flaky.calls, "two transient failures plus the succeeding third attempt")
}
