package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	domain "github.com/yanqian/rag-service/internal/domain/rag"
	apperrors "github.com/yanqian/rag-service/pkg/errors"
)

func marshalCitations(sources []domain.ChunkCitation) ([]byte, error) {
	if len(sources) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(sources)
}

func unmarshalCitations(raw []byte) ([]domain.ChunkCitation, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []domain.ChunkCitation
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PostgresWorkspaceRepository persists workspaces in Postgres.
type PostgresWorkspaceRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresWorkspaceRepository constructs the repository.
func NewPostgresWorkspaceRepository(pool *pgxpool.Pool) *PostgresWorkspaceRepository {
	return &PostgresWorkspaceRepository{pool: pool}
}

func (r *PostgresWorkspaceRepository) Create(ctx context.Context, ws domain.Workspace) (domain.Workspace, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rag_workspaces (id, owner_user_id, name, description, visibility, archived_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ws.ID, ws.OwnerUserID, ws.Name, ws.Description, ws.Visibility, ws.ArchivedAt, ws.CreatedAt, ws.UpdatedAt)
	if err != nil {
		return domain.Workspace{}, apperrors.Wrap("DATABASE_ERROR", "failed to insert workspace", err)
	}
	return ws, nil
}

func (r *PostgresWorkspaceRepository) Get(ctx context.Context, id string) (domain.Workspace, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, owner_user_id, name, description, visibility, archived_at, created_at, updated_at
		FROM rag_workspaces
		WHERE id = $1
	`, id)
	var ws domain.Workspace
	if err := row.Scan(&ws.ID, &ws.OwnerUserID, &ws.Name, &ws.Description, &ws.Visibility, &ws.ArchivedAt, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Workspace{}, apperrors.Wrap("NOT_FOUND", "workspace not found", nil)
		}
		return domain.Workspace{}, apperrors.Wrap("DATABASE_ERROR", "failed to load workspace", err)
	}
	return ws, nil
}

func (r *PostgresWorkspaceRepository) FindByOwnerAndName(ctx context.Context, ownerUserID int64, name string) (domain.Workspace, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, owner_user_id, name, description, visibility, archived_at, created_at, updated_at
		FROM rag_workspaces
		WHERE owner_user_id = $1 AND lower(name) = lower($2)
		LIMIT 1
	`, ownerUserID, name)
	var ws domain.Workspace
	if err := row.Scan(&ws.ID, &ws.OwnerUserID, &ws.Name, &ws.Description, &ws.Visibility, &ws.ArchivedAt, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Workspace{}, false, nil
		}
		return domain.Workspace{}, false, apperrors.Wrap("DATABASE_ERROR", "failed to query workspace", err)
	}
	return ws, true, nil
}

func (r *PostgresWorkspaceRepository) Update(ctx context.Context, ws domain.Workspace) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rag_workspaces
		SET name = $1, description = $2, visibility = $3, archived_at = $4, updated_at = $5
		WHERE id = $6
	`, ws.Name, ws.Description, ws.Visibility, ws.ArchivedAt, ws.UpdatedAt, ws.ID)
	if err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to update workspace", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Wrap("NOT_FOUND", "workspace not found", nil)
	}
	return nil
}

func (r *PostgresWorkspaceRepository) Archive(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE rag_workspaces
		SET archived_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND archived_at IS NULL
	`, id)
	if err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to archive workspace", err)
	}
	return nil
}

func (r *PostgresWorkspaceRepository) ListForUser(ctx context.Context, userID int64) ([]domain.Workspace, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT w.id, w.owner_user_id, w.name, w.description, w.visibility, w.archived_at, w.created_at, w.updated_at
		FROM rag_workspaces w
		LEFT JOIN rag_acl_entries a ON a.workspace_id = w.id AND a.user_id = $1
		WHERE w.archived_at IS NULL
		  AND (w.owner_user_id = $1 OR w.visibility IN ('ORG_READ', 'SHARED') OR a.user_id IS NOT NULL)
		ORDER BY w.created_at ASC
	`, userID)
	if err != nil {
		return nil, apperrors.Wrap("DATABASE_ERROR", "failed to list workspaces", err)
	}
	defer rows.Close()

	var out []domain.Workspace
	for rows.Next() {
		var ws domain.Workspace
		if err := rows.Scan(&ws.ID, &ws.OwnerUserID, &ws.Name, &ws.Description, &ws.Visibility, &ws.ArchivedAt, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
			return nil, apperrors.Wrap("DATABASE_ERROR", "failed to scan workspace", err)
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

var _ domain.WorkspaceRepository = (*PostgresWorkspaceRepository)(nil)

// PostgresACLRepository persists per-user workspace grants.
type PostgresACLRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresACLRepository constructs the repository.
func NewPostgresACLRepository(pool *pgxpool.Pool) *PostgresACLRepository {
	return &PostgresACLRepository{pool: pool}
}

func (r *PostgresACLRepository) Grant(ctx context.Context, entry domain.ACLEntry) (domain.ACLEntry, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rag_acl_entries (workspace_id, user_id, role, granted_by, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = EXCLUDED.role, granted_by = EXCLUDED.granted_by
	`, entry.WorkspaceID, entry.UserID, entry.Role, entry.GrantedBy)
	if err != nil {
		return domain.ACLEntry{}, apperrors.Wrap("DATABASE_ERROR", "failed to grant acl entry", err)
	}
	return entry, nil
}

func (r *PostgresACLRepository) Revoke(ctx context.Context, workspaceID string, userID int64) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM rag_acl_entries WHERE workspace_id = $1 AND user_id = $2
	`, workspaceID, userID)
	if err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to revoke acl entry", err)
	}
	return nil
}

func (r *PostgresACLRepository) ReplaceAll(ctx context.Context, workspaceID string, entries []domain.ACLEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to start transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM rag_acl_entries WHERE workspace_id = $1`, workspaceID); err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to clear acl entries", err)
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO rag_acl_entries (workspace_id, user_id, role, granted_by, created_at)
			VALUES ($1, $2, $3, $4, NOW())
		`, workspaceID, e.UserID, e.Role, e.GrantedBy)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return apperrors.Wrap("DATABASE_ERROR", "failed to insert acl entries", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to commit acl replacement", err)
	}
	return nil
}

func (r *PostgresACLRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]domain.ACLEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT workspace_id, user_id, role, granted_by, created_at
		FROM rag_acl_entries
		WHERE workspace_id = $1
		ORDER BY created_at ASC, user_id ASC
	`, workspaceID)
	if err != nil {
		return nil, apperrors.Wrap("DATABASE_ERROR", "failed to list acl entries", err)
	}
	defer rows.Close()

	var out []domain.ACLEntry
	for rows.Next() {
		var e domain.ACLEntry
		if err := rows.Scan(&e.WorkspaceID, &e.UserID, &e.Role, &e.GrantedBy, &e.CreatedAt); err != nil {
			return nil, apperrors.Wrap("DATABASE_ERROR", "failed to scan acl entry", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresACLRepository) ListWorkspacesForUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT workspace_id FROM rag_acl_entries WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, apperrors.Wrap("DATABASE_ERROR", "failed to list acl workspaces", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Wrap("DATABASE_ERROR", "failed to scan acl workspace", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

var _ domain.ACLRepository = (*PostgresACLRepository)(nil)

// PostgresDocumentRepository persists documents and their ingestion status.
type PostgresDocumentRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresDocumentRepository constructs the repository.
func NewPostgresDocumentRepository(pool *pgxpool.Pool) *PostgresDocumentRepository {
	return &PostgresDocumentRepository{pool: pool}
}

func (r *PostgresDocumentRepository) Create(ctx context.Context, doc domain.Document) (domain.Document, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rag_documents (id, workspace_id, owner_user_id, title, source, storage_key, mime_type, size_bytes,
			etag, status, failure_reason, allowed_roles, tags, deleted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, doc.ID, doc.WorkspaceID, doc.OwnerUserID, doc.Title, doc.Source, doc.StorageKey, doc.MimeType, doc.SizeBytes,
		doc.ETag, doc.Status, doc.FailureReason, doc.AllowedRoles, doc.Tags, doc.DeletedAt, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return domain.Document{}, apperrors.Wrap("DATABASE_ERROR", "failed to insert document", err)
	}
	return doc, nil
}

func scanDocument(row pgx.Row) (domain.Document, error) {
	var doc domain.Document
	if err := row.Scan(&doc.ID, &doc.WorkspaceID, &doc.OwnerUserID, &doc.Title, &doc.Source, &doc.StorageKey,
		&doc.MimeType, &doc.SizeBytes, &doc.ETag, &doc.Status, &doc.FailureReason, &doc.AllowedRoles, &doc.Tags,
		&doc.DeletedAt, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

const documentColumnList = `id, workspace_id, owner_user_id, title, source, storage_key, mime_type, size_bytes,
	etag, status, failure_reason, allowed_roles, tags, deleted_at, created_at, updated_at`

func (r *PostgresDocumentRepository) Get(ctx context.Context, id string) (domain.Document, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumnList+` FROM rag_documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Document{}, apperrors.Wrap("NOT_FOUND", "document not found", nil)
		}
		return domain.Document{}, apperrors.Wrap("DATABASE_ERROR", "failed to load document", err)
	}
	return doc, nil
}

func (r *PostgresDocumentRepository) List(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error) {
	query := `SELECT ` + documentColumnList + ` FROM rag_documents WHERE workspace_id = $1`
	args := []any{filter.WorkspaceID}
	argPos := 2
	if !filter.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	if len(filter.Statuses) > 0 {
		query += ` AND status = ANY($` + itoa(argPos) + `)`
		args = append(args, filter.Statuses)
		argPos++
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap("DATABASE_ERROR", "failed to list documents", err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, apperrors.Wrap("DATABASE_ERROR", "failed to scan document", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (r *PostgresDocumentRepository) SoftDelete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rag_documents SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to delete document", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Wrap("NOT_FOUND", "document not found", nil)
	}
	return nil
}

// TransitionStatus is the single atomic CAS primitive backing the ingestion
// state machine: the UPDATE's WHERE clause encodes both the identity check
// and the allowed-source-states check in one statement, so a concurrent
// worker racing the same transition loses cleanly (RowsAffected == 0).
func (r *PostgresDocumentRepository) TransitionStatus(ctx context.Context, id string, fromStatuses []domain.DocumentStatus, to domain.DocumentStatus, failureReason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rag_documents
		SET status = $1, failure_reason = $2, updated_at = NOW()
		WHERE id = $3 AND status = ANY($4)
	`, to, failureReason, id, fromStatuses)
	if err != nil {
		return false, apperrors.Wrap("DATABASE_ERROR", "failed to transition document status", err)
	}
	return tag.RowsAffected() > 0, nil
}

var _ domain.DocumentRepository = (*PostgresDocumentRepository)(nil)

// PostgresChunkRepository stores chunks and supports pgvector cosine search.
type PostgresChunkRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresChunkRepository constructs the repository.
func NewPostgresChunkRepository(pool *pgxpool.Pool) *PostgresChunkRepository {
	return &PostgresChunkRepository{pool: pool}
}

func (r *PostgresChunkRepository) SaveDocumentWithChunks(ctx context.Context, doc domain.Document, chunks []domain.Chunk) (domain.Document, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Document{}, apperrors.Wrap("DATABASE_ERROR", "failed to start transaction", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO rag_documents (id, workspace_id, owner_user_id, title, source, storage_key, mime_type, size_bytes,
			etag, status, failure_reason, allowed_roles, tags, deleted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`, doc.ID, doc.WorkspaceID, doc.OwnerUserID, doc.Title, doc.Source, doc.StorageKey, doc.MimeType, doc.SizeBytes,
		doc.ETag, doc.Status, doc.FailureReason, doc.AllowedRoles, doc.Tags, doc.DeletedAt, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return domain.Document{}, apperrors.Wrap("DATABASE_ERROR", "failed to upsert document", err)
	}

	if err := insertChunkBatch(ctx, tx, chunks); err != nil {
		return domain.Document{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Document{}, apperrors.Wrap("DATABASE_ERROR", "failed to commit document with chunks", err)
	}
	return doc, nil
}

func insertChunkBatch(ctx context.Context, q interface {
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO rag_chunks (id, document_id, workspace_id, chunk_index, content, token_count, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, c.ID, c.DocumentID, c.WorkspaceID, c.ChunkIndex, c.Content, c.TokenCount, pgvector.NewVector(c.Embedding), c.CreatedAt)
	}
	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to insert chunks", err)
	}
	return nil
}

func (r *PostgresChunkRepository) SaveChunks(ctx context.Context, documentID, workspaceID string, chunks []domain.Chunk) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to start transaction", err)
	}
	defer tx.Rollback(ctx)

	var ownerWorkspace string
	row := tx.QueryRow(ctx, `SELECT workspace_id FROM rag_documents WHERE id = $1`, documentID)
	if err := row.Scan(&ownerWorkspace); err != nil {
		if err == pgx.ErrNoRows {
			return apperrors.Wrap("NOT_FOUND", "document not found", nil)
		}
		return apperrors.Wrap("DATABASE_ERROR", "failed to verify document ownership", err)
	}
	if ownerWorkspace != workspaceID {
		return apperrors.Wrap("FORBIDDEN", "document does not belong to this workspace", nil)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM rag_chunks WHERE document_id = $1`, documentID); err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to clear existing chunks", err)
	}
	if err := insertChunkBatch(ctx, tx, chunks); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to commit chunks", err)
	}
	return nil
}

func (r *PostgresChunkRepository) DeleteForDocument(ctx context.Context, documentID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM rag_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to delete chunks", err)
	}
	return nil
}

func (r *PostgresChunkRepository) SearchSimilar(ctx context.Context, workspaceID string, embedding []float32, limit int, filter domain.DocumentFilter) ([]domain.ScoredChunk, error) {
	query := `
		SELECT
			c.id, c.document_id, c.workspace_id, c.chunk_index, c.content, c.token_count, c.embedding, c.created_at,
			d.id, d.workspace_id, d.owner_user_id, d.title, d.source, d.storage_key, d.mime_type, d.size_bytes,
			d.etag, d.status, d.failure_reason, d.allowed_roles, d.tags, d.deleted_at, d.created_at, d.updated_at,
			(1.0 - (c.embedding <=> $1)) AS score
		FROM rag_chunks c
		JOIN rag_documents d ON d.id = c.document_id
		WHERE c.workspace_id = $2 AND d.deleted_at IS NULL
	`
	args := []any{pgvector.NewVector(embedding), workspaceID}
	argPos := 3
	if len(filter.Statuses) > 0 {
		query += ` AND d.status = ANY($` + itoa(argPos) + `)`
		args = append(args, filter.Statuses)
		argPos++
	}
	query += ` ORDER BY (c.embedding <=> $1) ASC LIMIT $` + itoa(argPos)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap("DATABASE_ERROR", "failed to search chunks", err)
	}
	defer rows.Close()

	var out []domain.ScoredChunk
	for rows.Next() {
		var (
			chunk        domain.Chunk
			doc          domain.Document
			score        float64
			embeddingRaw any
		)
		if err := rows.Scan(
			&chunk.ID, &chunk.DocumentID, &chunk.WorkspaceID, &chunk.ChunkIndex, &chunk.Content, &chunk.TokenCount, &embeddingRaw, &chunk.CreatedAt,
			&doc.ID, &doc.WorkspaceID, &doc.OwnerUserID, &doc.Title, &doc.Source, &doc.StorageKey, &doc.MimeType, &doc.SizeBytes,
			&doc.ETag, &doc.Status, &doc.FailureReason, &doc.AllowedRoles, &doc.Tags, &doc.DeletedAt, &doc.CreatedAt, &doc.UpdatedAt,
			&score,
		); err != nil {
			return nil, apperrors.Wrap("DATABASE_ERROR", "failed to scan search result", err)
		}
		parsed, err := normalizeEmbedding(embeddingRaw)
		if err != nil {
			return nil, apperrors.Wrap("DATABASE_ERROR", "failed to parse embedding", err)
		}
		chunk.Embedding = parsed
		out = append(out, domain.ScoredChunk{Chunk: chunk, Document: doc, Score: score})
	}
	return out, rows.Err()
}

var _ domain.ChunkRepository = (*PostgresChunkRepository)(nil)

// PostgresConversationRepository persists conversations.
type PostgresConversationRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresConversationRepository constructs the repository.
func NewPostgresConversationRepository(pool *pgxpool.Pool) *PostgresConversationRepository {
	return &PostgresConversationRepository{pool: pool}
}

func (r *PostgresConversationRepository) Create(ctx context.Context, c domain.Conversation) (domain.Conversation, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rag_conversations (id, workspace_id, user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.WorkspaceID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return domain.Conversation{}, apperrors.Wrap("DATABASE_ERROR", "failed to create conversation", err)
	}
	return c, nil
}

func (r *PostgresConversationRepository) Get(ctx context.Context, id string) (domain.Conversation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, workspace_id, user_id, title, created_at, updated_at
		FROM rag_conversations WHERE id = $1
	`, id)
	var c domain.Conversation
	if err := row.Scan(&c.ID, &c.WorkspaceID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Conversation{}, apperrors.Wrap("NOT_FOUND", "conversation not found", nil)
		}
		return domain.Conversation{}, apperrors.Wrap("DATABASE_ERROR", "failed to load conversation", err)
	}
	return c, nil
}

func (r *PostgresConversationRepository) ListForWorkspace(ctx context.Context, workspaceID string, userID int64) ([]domain.Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, workspace_id, user_id, title, created_at, updated_at
		FROM rag_conversations
		WHERE workspace_id = $1 AND user_id = $2
		ORDER BY created_at DESC
	`, workspaceID, userID)
	if err != nil {
		return nil, apperrors.Wrap("DATABASE_ERROR", "failed to list conversations", err)
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, apperrors.Wrap("DATABASE_ERROR", "failed to scan conversation", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ domain.ConversationRepository = (*PostgresConversationRepository)(nil)

// PostgresMessageRepository persists conversation turns and trims history to
// maxHistory on every append, keeping the bounded-FIFO guarantee durable.
type PostgresMessageRepository struct {
	pool       *pgxpool.Pool
	maxHistory int
}

// NewPostgresMessageRepository constructs the repository with the configured
// per-conversation history bound (default 12, per §3).
func NewPostgresMessageRepository(pool *pgxpool.Pool, maxHistory int) *PostgresMessageRepository {
	if maxHistory <= 0 {
		maxHistory = 12
	}
	return &PostgresMessageRepository{pool: pool, maxHistory: maxHistory}
}

func (r *PostgresMessageRepository) Append(ctx context.Context, msg domain.Message) (domain.Message, error) {
	sources, err := marshalCitations(msg.Sources)
	if err != nil {
		return domain.Message{}, apperrors.Wrap("VALIDATION_ERROR", "failed to encode sources", err)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Message{}, apperrors.Wrap("DATABASE_ERROR", "failed to start transaction", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO rag_messages (id, conversation_id, role, content, sources, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.ConversationID, msg.Role, msg.Content, sources, msg.CreatedAt)
	if err != nil {
		return domain.Message{}, apperrors.Wrap("DATABASE_ERROR", "failed to append message", err)
	}
	_, err = tx.Exec(ctx, `
		DELETE FROM rag_messages
		WHERE conversation_id = $1 AND id NOT IN (
			SELECT id FROM rag_messages WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2
		)
	`, msg.ConversationID, r.maxHistory)
	if err != nil {
		return domain.Message{}, apperrors.Wrap("DATABASE_ERROR", "failed to trim message history", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Message{}, apperrors.Wrap("DATABASE_ERROR", "failed to commit message append", err)
	}
	return msg, nil
}

func (r *PostgresMessageRepository) ListRecent(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = r.maxHistory
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, sources, created_at
		FROM rag_messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, apperrors.Wrap("DATABASE_ERROR", "failed to list messages", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var (
			m       domain.Message
			rawJSON []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &rawJSON, &m.CreatedAt); err != nil {
			return nil, apperrors.Wrap("DATABASE_ERROR", "failed to scan message", err)
		}
		m.Sources, err = unmarshalCitations(rawJSON)
		if err != nil {
			return nil, apperrors.Wrap("DATABASE_ERROR", "failed to decode sources", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap("DATABASE_ERROR", "failed to list messages", err)
	}
	// rows are fetched newest-first for LIMIT to apply to the tail; restore
	// chronological order before returning.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *PostgresMessageRepository) Clear(ctx context.Context, conversationID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM rag_messages WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return apperrors.Wrap("DATABASE_ERROR", "failed to clear messages", err)
	}
	return nil
}

var _ domain.MessageRepository = (*PostgresMessageRepository)(nil)

func itoa(v int) string {
	return strconv.Itoa(v)
}

func normalizeEmbedding(raw any) ([]float32, error) {
	switch v := raw.(type) {
	case pgvector.Vector:
		return append([]float32(nil), v.Slice()...), nil
	case []float32:
		return append([]float32(nil), v...), nil
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out, nil
	case string:
		trimmed := strings.TrimSpace(v)
		trimmed = strings.TrimPrefix(trimmed, "[")
		trimmed = strings.TrimSuffix(trimmed, "]")
		if trimmed == "" {
			return nil, nil
		}
		parts := strings.Split(trimmed, ",")
		out := make([]float32, 0, len(parts))
		for _, p := range parts {
			numStr := strings.TrimSpace(p)
			if numStr == "" {
				continue
			}
			f, err := strconv.ParseFloat(numStr, 32)
			if err != nil {
				return nil, err
			}
			out = append(out, float32(f))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported embedding type %T", raw)
	}
}
