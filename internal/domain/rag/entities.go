package rag

import "time"

// Visibility controls who can read a workspace without an explicit ACL grant.
type Visibility string

const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityOrgRead Visibility = "ORG_READ"
	VisibilityShared  Visibility = "SHARED"
)

// Role mirrors the caller's organizational role, carried on the JWT claims.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleEmployee Role = "EMPLOYEE"
)

// Actor identifies the caller behind a request, resolved by the auth domain
// at the composition root and threaded into every RAG use case.
type Actor struct {
	UserID int64
	Role   Role
}

// IsAdmin reports whether the actor bypasses ownership and ACL checks.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Workspace is the top-level tenant boundary documents and conversations live in.
type Workspace struct {
	ID            string
	OwnerUserID   int64
	Name          string
	Description   string
	Visibility    Visibility
	SharedUserIDs []int64
	ArchivedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsArchived reports whether the workspace has been soft-archived.
func (w Workspace) IsArchived() bool {
	return w.ArchivedAt != nil
}

// ACLRole is the grant level attached to an ACLEntry.
type ACLRole string

const (
	ACLRoleViewer ACLRole = "VIEWER"
	ACLRoleEditor ACLRole = "EDITOR"
)

// ACLEntry grants an additional user access to a workspace beyond its
// visibility mode (e.g. explicit sharing on a PRIVATE workspace). Primary
// key is (WorkspaceID, UserID); replacing the set is the canonical share
// operation (§4.M).
type ACLEntry struct {
	WorkspaceID string
	UserID      int64
	Role        ACLRole
	GrantedBy   int64
	CreatedAt   time.Time
}

// DocumentStatus is the ingestion state machine's current position.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "PENDING"
	DocumentProcessing DocumentStatus = "PROCESSING"
	DocumentReady      DocumentStatus = "READY"
	DocumentFailed     DocumentStatus = "FAILED"
)

// DocumentSource distinguishes how the bytes behind a document were obtained.
type DocumentSource string

const (
	DocumentSourceUpload DocumentSource = "upload"
	DocumentSourceURL    DocumentSource = "url"
)

// Document is a single ingested file scoped to a workspace.
type Document struct {
	ID            string
	WorkspaceID   string
	OwnerUserID   int64
	Title         string
	Source        DocumentSource
	StorageKey    string
	MimeType      string
	SizeBytes     int64
	ETag          string
	Status        DocumentStatus
	FailureReason string
	AllowedRoles  []string
	Tags          []string
	DeletedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsDeleted reports whether the document has been soft-deleted.
func (d Document) IsDeleted() bool {
	return d.DeletedAt != nil
}

// Chunk is one retrievable slice of a document, carrying its embedding.
type Chunk struct {
	ID          string
	DocumentID  string
	WorkspaceID string
	ChunkIndex  int
	Content     string
	TokenCount  int
	Embedding   []float32
	CreatedAt   time.Time
}

// ScoredChunk pairs a retrieved chunk with its similarity score and owning
// document, the shape returned by the Vector Index Adapter and consumed by
// the Retrieval Pipeline.
type ScoredChunk struct {
	Chunk    Chunk
	Document Document
	Score    float64
}

// MessageRole identifies the speaker of a conversation turn.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// Conversation groups a sequence of messages scoped to a workspace and actor.
type Conversation struct {
	ID          string
	WorkspaceID string
	UserID      int64
	Title       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChunkCitation is the compact source reference attached to an assistant
// answer, echoing what chunk/document contributed and with what score.
type ChunkCitation struct {
	DocumentID string
	ChunkIndex int
	Score      float64
	Preview    string
}

// Message is one turn in a conversation. Sources is populated on assistant
// turns produced by the Answer Use Case.
type Message struct {
	ID             string
	ConversationID string
	Role           MessageRole
	Content        string
	Sources        []ChunkCitation
	CreatedAt      time.Time
}

// ChunkCandidate is what a Chunker produces before persistence assigns ids.
type ChunkCandidate struct {
	Index      int
	Content    string
	TokenCount int
}
