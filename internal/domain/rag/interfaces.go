package rag

import (
	"context"
	"io"
)

// ObjectStorage persists the raw bytes behind a Document.
type ObjectStorage interface {
	Put(ctx context.Context, key string, data []byte, mimeType string) (StoredObject, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key string, ttlSeconds int64, filename string) (string, error)
}

// StoredObject is the metadata an ObjectStorage.Put returns.
type StoredObject struct {
	Key      string
	Size     int64
	MimeType string
	ETag     string
}

// Embedder turns text into vectors for similarity search.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// LLMMessage is a single role/content pair sent to the language model.
type LLMMessage struct {
	Role    string
	Content string
}

// LLMChunk is one partial delta of a streaming completion.
type LLMChunk struct {
	Content string
	Done    bool
}

// LLM is the completion port consumed by the Answer Use Case.
type LLM interface {
	Chat(ctx context.Context, messages []LLMMessage) (string, error)
	ChatStream(ctx context.Context, messages []LLMMessage) (<-chan LLMChunk, error)
}

// Chunker splits document text into token-bounded candidates.
type Chunker interface {
	Chunk(text string) ([]ChunkCandidate, error)
}

// TextExtractor pulls plain text out of a downloaded document's raw bytes
// given its MIME type. Unsupported MIME types are treated as plain text.
type TextExtractor interface {
	Extract(ctx context.Context, mimeType string, data []byte) (string, error)
}

// JobQueue dispatches asynchronous ingestion work.
type JobQueue interface {
	Enqueue(ctx context.Context, name string, payload any) error
}

// EmbeddingCache fronts the Embedder with a cache keyed by model, task type
// and normalized text.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vector []float32) error
}

// WorkspaceRepository persists Workspace aggregates.
type WorkspaceRepository interface {
	Create(ctx context.Context, ws Workspace) (Workspace, error)
	Get(ctx context.Context, id string) (Workspace, error)
	// FindByOwnerAndName looks up a workspace by (owner, name) case-insensitively.
	FindByOwnerAndName(ctx context.Context, ownerUserID int64, name string) (Workspace, bool, error)
	Update(ctx context.Context, ws Workspace) error
	// Archive sets archived_at; archiving an already-archived workspace is a no-op success.
	Archive(ctx context.Context, id string) error
	// ListForUser returns workspaces owned by, or visible to, userID (by visibility or ACL).
	ListForUser(ctx context.Context, userID int64) ([]Workspace, error)
}

// ACLRepository persists explicit per-user grants on a workspace.
type ACLRepository interface {
	Grant(ctx context.Context, entry ACLEntry) (ACLEntry, error)
	Revoke(ctx context.Context, workspaceID string, userID int64) error
	// ReplaceAll deletes the existing ACL set and bulk-upserts entries in one transaction.
	ReplaceAll(ctx context.Context, workspaceID string, entries []ACLEntry) error
	// ListByWorkspace is ordered (created_at ASC, user_id ASC) for deterministic reads.
	ListByWorkspace(ctx context.Context, workspaceID string) ([]ACLEntry, error)
	// ListWorkspacesForUser returns workspace ids the user can reach via an ACL grant.
	ListWorkspacesForUser(ctx context.Context, userID int64) ([]string, error)
}

// DocumentFilter narrows a listing or search to a subset of documents.
type DocumentFilter struct {
	WorkspaceID string
	Statuses    []DocumentStatus
	IncludeDeleted bool
}

// DocumentRepository persists Document aggregates.
type DocumentRepository interface {
	Create(ctx context.Context, doc Document) (Document, error)
	Get(ctx context.Context, id string) (Document, error)
	List(ctx context.Context, filter DocumentFilter) ([]Document, error)
	SoftDelete(ctx context.Context, id string) error
	// TransitionStatus atomically moves a document from one of fromStatuses
	// to the given target status, the single primitive backing every
	// ingestion state change. ok is false (with no error) when the document
	// was not in one of fromStatuses — a lost race, not a failure.
	TransitionStatus(ctx context.Context, id string, fromStatuses []DocumentStatus, to DocumentStatus, failureReason string) (ok bool, err error)
}

// ChunkRepository is the Vector Index Adapter (spec component D). MMR
// re-ranking itself is pure domain math (mmr.go) applied by the Retrieval
// Pipeline on top of SearchSimilar's fetchK candidates — the adapter only
// needs to fetch a similarity-ordered candidate set efficiently.
type ChunkRepository interface {
	// SaveDocumentWithChunks inserts doc and its chunks as a single atomic
	// operation: it either fully succeeds or leaves no trace.
	SaveDocumentWithChunks(ctx context.Context, doc Document, chunks []Chunk) (Document, error)
	// SaveChunks replaces the chunk set for documentID, verifying the
	// document belongs to workspaceID first and rejecting otherwise.
	SaveChunks(ctx context.Context, documentID, workspaceID string, chunks []Chunk) error
	DeleteForDocument(ctx context.Context, documentID string) error
	// SearchSimilar returns up to limit candidates ordered by descending
	// similarity, filtering soft-deleted documents and foreign workspaces
	// at the data layer.
	SearchSimilar(ctx context.Context, workspaceID string, embedding []float32, limit int, filter DocumentFilter) ([]ScoredChunk, error)
}

// ConversationRepository persists Conversation aggregates.
type ConversationRepository interface {
	Create(ctx context.Context, c Conversation) (Conversation, error)
	Get(ctx context.Context, id string) (Conversation, error)
	ListForWorkspace(ctx context.Context, workspaceID string, userID int64) ([]Conversation, error)
}

// MessageRepository persists Message turns and supports FIFO-bounded history reads.
type MessageRepository interface {
	Append(ctx context.Context, msg Message) (Message, error)
	ListRecent(ctx context.Context, conversationID string, limit int) ([]Message, error)
	Clear(ctx context.Context, conversationID string) error
}
