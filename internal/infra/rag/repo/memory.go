// Package repo provides in-memory and Postgres-backed implementations of the
// Workspace/ACL/Document/Chunk/Conversation/Message repositories (spec
// components D, M and N), grounded on the teacher's dual in-memory/Postgres
// adapter pattern.
package repo

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/yanqian/rag-service/internal/domain/rag"
	apperrors "github.com/yanqian/rag-service/pkg/errors"
)

// MemoryWorkspaceRepository is an in-process Workspace store, useful for
// tests and for local/dev deployments with no database configured.
type MemoryWorkspaceRepository struct {
	mu         sync.RWMutex
	workspaces map[string]domain.Workspace
}

// NewMemoryWorkspaceRepository constructs the repository.
func NewMemoryWorkspaceRepository() *MemoryWorkspaceRepository {
	return &MemoryWorkspaceRepository{workspaces: make(map[string]domain.Workspace)}
}

func (r *MemoryWorkspaceRepository) Create(_ context.Context, ws domain.Workspace) (domain.Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workspaces[ws.ID] = ws
	return ws, nil
}

func (r *MemoryWorkspaceRepository) Get(_ context.Context, id string) (domain.Workspace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ws, ok := r.workspaces[id]
	if !ok {
		return domain.Workspace{}, apperrors.Wrap("NOT_FOUND", "workspace not found", nil)
	}
	return ws, nil
}

func (r *MemoryWorkspaceRepository) FindByOwnerAndName(_ context.Context, ownerUserID int64, name string) (domain.Workspace, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	target := strings.ToLower(name)
	for _, ws := range r.workspaces {
		if ws.OwnerUserID == ownerUserID && strings.ToLower(ws.Name) == target {
			return ws, true, nil
		}
	}
	return domain.Workspace{}, false, nil
}

func (r *MemoryWorkspaceRepository) Update(_ context.Context, ws domain.Workspace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workspaces[ws.ID]; !ok {
		return apperrors.Wrap("NOT_FOUND", "workspace not found", nil)
	}
	r.workspaces[ws.ID] = ws
	return nil
}

func (r *MemoryWorkspaceRepository) Archive(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workspaces[id]
	if !ok {
		return apperrors.Wrap("NOT_FOUND", "workspace not found", nil)
	}
	if ws.ArchivedAt != nil {
		return nil // idempotent
	}
	now := time.Now().UTC()
	ws.ArchivedAt = &now
	ws.UpdatedAt = now
	r.workspaces[id] = ws
	return nil
}

func (r *MemoryWorkspaceRepository) ListForUser(_ context.Context, userID int64) ([]domain.Workspace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Workspace, 0)
	for _, ws := range r.workspaces {
		if ws.ArchivedAt != nil {
			continue
		}
		if ws.OwnerUserID == userID || ws.Visibility == domain.VisibilityOrgRead || ws.Visibility == domain.VisibilityShared {
			out = append(out, ws)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ domain.WorkspaceRepository = (*MemoryWorkspaceRepository)(nil)

// MemoryACLRepository is an in-process ACL store keyed by (workspace, user).
type MemoryACLRepository struct {
	mu      sync.RWMutex
	entries map[string]map[int64]domain.ACLEntry
}

// NewMemoryACLRepository constructs the repository.
func NewMemoryACLRepository() *MemoryACLRepository {
	return &MemoryACLRepository{entries: make(map[string]map[int64]domain.ACLEntry)}
}

func (r *MemoryACLRepository) Grant(_ context.Context, entry domain.ACLEntry) (domain.ACLEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[entry.WorkspaceID] == nil {
		r.entries[entry.WorkspaceID] = make(map[int64]domain.ACLEntry)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.entries[entry.WorkspaceID][entry.UserID] = entry
	return entry, nil
}

func (r *MemoryACLRepository) Revoke(_ context.Context, workspaceID string, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries[workspaceID], userID)
	return nil
}

func (r *MemoryACLRepository) ReplaceAll(_ context.Context, workspaceID string, entries []domain.ACLEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fresh := make(map[int64]domain.ACLEntry, len(entries))
	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		fresh[e.UserID] = e
	}
	r.entries[workspaceID] = fresh
	return nil
}

func (r *MemoryACLRepository) ListByWorkspace(_ context.Context, workspaceID string) ([]domain.ACLEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]domain.ACLEntry, 0, len(r.entries[workspaceID]))
	for _, e := range r.entries[workspaceID] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].UserID < entries[j].UserID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func (r *MemoryACLRepository) ListWorkspacesForUser(_ context.Context, userID int64) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for wsID, byUser := range r.entries {
		if _, ok := byUser[userID]; ok {
			ids = append(ids, wsID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

var _ domain.ACLRepository = (*MemoryACLRepository)(nil)

// MemoryDocumentRepository is an in-process Document store supporting the
// atomic compare-and-set status transition primitive.
type MemoryDocumentRepository struct {
	mu        sync.RWMutex
	documents map[string]domain.Document
}

// NewMemoryDocumentRepository constructs the repository.
func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{documents: make(map[string]domain.Document)}
}

func (r *MemoryDocumentRepository) Create(_ context.Context, doc domain.Document) (domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.documents[doc.ID] = doc
	return doc, nil
}

func (r *MemoryDocumentRepository) Get(_ context.Context, id string) (domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.documents[id]
	if !ok {
		return domain.Document{}, apperrors.Wrap("NOT_FOUND", "document not found", nil)
	}
	return doc, nil
}

func (r *MemoryDocumentRepository) List(_ context.Context, filter domain.DocumentFilter) ([]domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Document
	for _, doc := range r.documents {
		if filter.WorkspaceID != "" && doc.WorkspaceID != filter.WorkspaceID {
			continue
		}
		if !filter.IncludeDeleted && doc.IsDeleted() {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, doc.Status) {
			continue
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryDocumentRepository) SoftDelete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.documents[id]
	if !ok {
		return apperrors.Wrap("NOT_FOUND", "document not found", nil)
	}
	now := time.Now().UTC()
	doc.DeletedAt = &now
	r.documents[id] = doc
	return nil
}

func (r *MemoryDocumentRepository) TransitionStatus(_ context.Context, id string, fromStatuses []domain.DocumentStatus, to domain.DocumentStatus, failureReason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.documents[id]
	if !ok {
		return false, apperrors.Wrap("NOT_FOUND", "document not found", nil)
	}
	if !containsStatus(fromStatuses, doc.Status) {
		return false, nil
	}
	doc.Status = to
	doc.FailureReason = failureReason
	doc.UpdatedAt = time.Now().UTC()
	r.documents[id] = doc
	return true, nil
}

func containsStatus(set []domain.DocumentStatus, s domain.DocumentStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

var _ domain.DocumentRepository = (*MemoryDocumentRepository)(nil)

// MemoryChunkRepository is the in-process Vector Index Adapter: it stores
// chunks alongside their owning document's workspace/deleted state so
// SearchSimilar can filter without a join.
type MemoryChunkRepository struct {
	mu        sync.RWMutex
	documents *MemoryDocumentRepository
	chunks    map[string][]domain.Chunk // documentID -> chunks
}

// NewMemoryChunkRepository constructs the repository. documents is consulted
// to verify workspace ownership and soft-delete status.
func NewMemoryChunkRepository(documents *MemoryDocumentRepository) *MemoryChunkRepository {
	return &MemoryChunkRepository{documents: documents, chunks: make(map[string][]domain.Chunk)}
}

func (r *MemoryChunkRepository) SaveDocumentWithChunks(ctx context.Context, doc domain.Document, chunks []domain.Chunk) (domain.Document, error) {
	// In-memory equivalent of a single transaction: both writes happen
	// together under the lock, with no partial-failure window.
	r.mu.Lock()
	defer r.mu.Unlock()
	r.documents.mu.Lock()
	r.documents.documents[doc.ID] = doc
	r.documents.mu.Unlock()
	r.chunks[doc.ID] = append([]domain.Chunk(nil), chunks...)
	return doc, nil
}

func (r *MemoryChunkRepository) SaveChunks(ctx context.Context, documentID, workspaceID string, chunks []domain.Chunk) error {
	doc, err := r.documents.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.WorkspaceID != workspaceID {
		return apperrors.Wrap("FORBIDDEN", "document does not belong to this workspace", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks[documentID] = append([]domain.Chunk(nil), chunks...)
	return nil
}

func (r *MemoryChunkRepository) DeleteForDocument(_ context.Context, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chunks, documentID)
	return nil
}

func (r *MemoryChunkRepository) SearchSimilar(ctx context.Context, workspaceID string, embedding []float32, limit int, filter domain.DocumentFilter) ([]domain.ScoredChunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	r.documents.mu.RLock()
	docsByID := make(map[string]domain.Document, len(r.documents.documents))
	for id, d := range r.documents.documents {
		docsByID[id] = d
	}
	r.documents.mu.RUnlock()

	var scored []domain.ScoredChunk
	for docID, chunks := range r.chunks {
		doc, ok := docsByID[docID]
		if !ok || doc.WorkspaceID != workspaceID || doc.IsDeleted() {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, doc.Status) {
			continue
		}
		for _, c := range chunks {
			scored = append(scored, domain.ScoredChunk{
				Chunk:    c,
				Document: doc,
				Score:    cosine(c.Embedding, embedding),
			})
		}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ domain.ChunkRepository = (*MemoryChunkRepository)(nil)

// MemoryConversationRepository is an in-process Conversation store.
type MemoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]domain.Conversation
}

// NewMemoryConversationRepository constructs the repository.
func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{conversations: make(map[string]domain.Conversation)}
}

func (r *MemoryConversationRepository) Create(_ context.Context, c domain.Conversation) (domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[c.ID] = c
	return c, nil
}

func (r *MemoryConversationRepository) Get(_ context.Context, id string) (domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conversations[id]
	if !ok {
		return domain.Conversation{}, apperrors.Wrap("NOT_FOUND", "conversation not found", nil)
	}
	return c, nil
}

func (r *MemoryConversationRepository) ListForWorkspace(_ context.Context, workspaceID string, userID int64) ([]domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Conversation
	for _, c := range r.conversations {
		if c.WorkspaceID == workspaceID && c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

var _ domain.ConversationRepository = (*MemoryConversationRepository)(nil)

// MemoryMessageRepository is an in-process, bounded-history Message store
// (spec component N): append evicts the oldest message beyond maxHistory.
type MemoryMessageRepository struct {
	mu         sync.RWMutex
	maxHistory int
	messages   map[string][]domain.Message
}

// NewMemoryMessageRepository constructs the repository with the configured
// per-conversation history bound (default 12, per §3).
func NewMemoryMessageRepository(maxHistory int) *MemoryMessageRepository {
	if maxHistory <= 0 {
		maxHistory = 12
	}
	return &MemoryMessageRepository{maxHistory: maxHistory, messages: make(map[string][]domain.Message)}
}

func (r *MemoryMessageRepository) Append(_ context.Context, msg domain.Message) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	list := append(r.messages[msg.ConversationID], msg)
	if len(list) > r.maxHistory {
		list = list[len(list)-r.maxHistory:]
	}
	r.messages[msg.ConversationID] = list
	return msg, nil
}

func (r *MemoryMessageRepository) ListRecent(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.messages[conversationID]
	if limit <= 0 || limit >= len(list) {
		return append([]domain.Message(nil), list...), nil
	}
	return append([]domain.Message(nil), list[len(list)-limit:]...), nil
}

func (r *MemoryMessageRepository) Clear(_ context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, conversationID)
	return nil
}

var _ domain.MessageRepository = (*MemoryMessageRepository)(nil)
