package rag_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rag "github.com/yanqian/rag-service/internal/domain/rag"
	"github.com/yanqian/rag-service/internal/infra/rag/chunker"
	"github.com/yanqian/rag-service/internal/infra/rag/embedcache"
	"github.com/yanqian/rag-service/internal/infra/rag/embedder"
	"github.com/yanqian/rag-service/internal/infra/rag/extract"
	"github.com/yanqian/rag-service/internal/infra/rag/repo"
	"github.com/yanqian/rag-service/internal/infra/rag/retry"
	"github.com/yanqian/rag-service/internal/infra/rag/storage"
)

type workerFixture struct {
	documents *repo.MemoryDocumentRepository
	chunks    *repo.MemoryChunkRepository
	storage   *storage.MemoryStorage
	worker    *rag.ProcessDocumentWorker
}

func newWorkerFixture() *workerFixture {
	documents := repo.NewMemoryDocumentRepository()
	chunks := repo.NewMemoryChunkRepository(documents)
	objStorage := storage.NewMemoryStorage()
	worker := rag.NewProcessDocumentWorker(
		documents, chunks, objStorage,
		extract.NewMimeExtractor(),
		chunker.NewSimpleChunker(50, 10),
		embedder.NewDeterministicEmbedder(8),
		embedcache.NewMemoryCache(0),
		retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		testLogger(),
	)
	return &workerFixture{documents: documents, chunks: chunks, storage: objStorage, worker: worker}
}

func (f *workerFixture) createDocument(t *testing.T, content, mimeType string) rag.Document {
	t.Helper()
	key := "doc-key"
	_, err := f.storage.Put(context.Background(), key, []byte(content), mimeType)
	require.NoError(t, err)
	doc, err := f.documents.Create(context.Background(), rag.Document{
		ID:          "doc-1",
		WorkspaceID: "ws-1",
		StorageKey:  key,
		MimeType:    mimeType,
		Status:      rag.DocumentPending,
	})
	require.NoError(t, err)
	return doc
}

func TestProcessDocumentWorker_SuccessTransitionsToReady(t *testing.T) {
	f := newWorkerFixture()
	doc := f.createDocument(t, "This is a reasonably long document used to exercise chunking and embedding in the worker pipeline test.", "text/plain")

	outcome := f.worker.ProcessDocument(context.Background(), doc.ID, doc.WorkspaceID)
	assert.Equal(t, rag.OutcomeReady, outcome)
	assert.Equal(t, int64(1), f.worker.Stats.Ready.Load())

	got, err := f.documents.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, rag.DocumentReady, got.Status)
}

func TestProcessDocumentWorker_MissingDocumentIsMissing(t *testing.T) {
	f := newWorkerFixture()
	outcome := f.worker.ProcessDocument(context.Background(), "nope", "ws-1")
	assert.Equal(t, rag.OutcomeMissing, outcome)
	assert.Equal(t, int64(1), f.worker.Stats.Missing.Load())
}

func TestProcessDocumentWorker_WrongWorkspaceIsMissing(t *testing.T) {
	f := newWorkerFixture()
	doc := f.createDocument(t, "some content", "text/plain")
	outcome := f.worker.ProcessDocument(context.Background(), doc.ID, "other-workspace")
	assert.Equal(t, rag.OutcomeMissing, outcome)
}

func TestProcessDocumentWorker_AlreadyReadyIsNoop(t *testing.T) {
	f := newWorkerFixture()
	doc := f.createDocument(t, "content", "text/plain")
	ok, err := f.documents.TransitionStatus(context.Background(), doc.ID, []rag.DocumentStatus{rag.DocumentPending}, rag.DocumentReady, "")
	require.NoError(t, err)
	require.True(t, ok)

	outcome := f.worker.ProcessDocument(context.Background(), doc.ID, doc.WorkspaceID)
	assert.Equal(t, rag.OutcomeNoop, outcome)
}

func TestProcessDocumentWorker_MissingStorageKeyFails(t *testing.T) {
	f := newWorkerFixture()
	doc, err := f.documents.Create(context.Background(), rag.Document{
		ID:          "doc-2",
		WorkspaceID: "ws-1",
		Status:      rag.DocumentPending,
	})
	require.NoError(t, err)

	outcome := f.worker.ProcessDocument(context.Background(), doc.ID, doc.WorkspaceID)
	assert.Equal(t, rag.OutcomeFailed, outcome)

	got, err := f.documents.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, rag.DocumentFailed, got.Status)
	assert.NotEmpty(t, got.FailureReason)
}

// flakyEmbedder fails with a transient 503 for the first failUntilCall
// calls, then delegates to a real embedder.
type flakyEmbedder struct {
	inner     rag.Embedder
	failUntil int
	calls     int
}

type statusErr struct{ code int }

func (e statusErr) Error() string   { return "embedding provider unavailable" }
func (e statusErr) StatusCode() int { return e.code }

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return nil, statusErr{code: 503}
	}
	return f.inner.Embed(ctx, texts)
}

func TestProcessDocumentWorker_EmbeddingRetriesTransientFailureThenReady(t *testing.T) {
	documents := repo.NewMemoryDocumentRepository()
	chunks := repo.NewMemoryChunkRepository(documents)
	objStorage := storage.NewMemoryStorage()
	flaky := &flakyEmbedder{inner: embedder.NewDeterministicEmbedder(8), failUntil: 2}
	worker := rag.NewProcessDocumentWorker(
		documents, chunks, objStorage,
		extract.NewMimeExtractor(),
		chunker.NewSimpleChunker(50, 10),
		flaky,
		embedcache.NewMemoryCache(0),
		retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		testLogger(),
	)

	key := "doc-key"
	_, err := objStorage.Put(context.Background(), key, []byte("content long enough to chunk and embed for the retry test."), "text/plain")
	require.NoError(t, err)
	doc, err := documents.Create(context.Background(), rag.Document{ID: "doc-1", WorkspaceID: "ws-1", StorageKey: key, MimeType: "text/plain", Status: rag.DocumentPending})
	require.NoError(t, err)

	outcome := worker.ProcessDocument(context.Background(), doc.ID, doc.WorkspaceID)
	assert.Equal(t, rag.OutcomeReady, outcome)
	assert.Equal(t, 3, flaky.calls, "two transient failures plus the succeeding third attempt")

	got, err := documents.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, rag.DocumentReady, got.Status)
}

func TestProcessDocumentWorker_EmbeddingExhaustsRetriesThenFails(t *testing.T) {
	documents := repo.NewMemoryDocumentRepository()
	chunks := repo.NewMemoryChunkRepository(documents)
	objStorage := storage.NewMemoryStorage()
	flaky := &flakyEmbedder{inner: embedder.NewDeterministicEmbedder(8), failUntil: 10}
	worker := rag.NewProcessDocumentWorker(
		documents, chunks, objStorage,
		extract.NewMimeExtractor(),
		chunker.NewSimpleChunker(50, 10),
		flaky,
		embedcache.NewMemoryCache(0),
		retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		testLogger(),
	)

	key := "doc-key"
	_, err := objStorage.Put(context.Background(), key, []byte("content long enough to chunk and embed for the retry test."), "text/plain")
	require.NoError(t, err)
	doc, err := documents.Create(context.Background(), rag.Document{ID: "doc-1", WorkspaceID: "ws-1", StorageKey: key, MimeType: "text/plain", Status: rag.DocumentPending})
	require.NoError(t, err)

	outcome := worker.ProcessDocument(context.Background(), doc.ID, doc.WorkspaceID)
	assert.Equal(t, rag.OutcomeFailed, outcome)
	assert.Equal(t, 3, flaky.calls, "all three configured attempts are consumed before giving up")

	got, err := documents.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, rag.DocumentFailed, got.Status)
	assert.NotEmpty(t, got.FailureReason)
}

func TestProcessDocumentWorker_ClaimRaceIsNoop(t *testing.T) {
	f := newWorkerFixture()
	doc := f.createDocument(t, "some content to process", "text/plain")

	ok, err := f.documents.TransitionStatus(context.Background(), doc.ID, []rag.DocumentStatus{rag.DocumentPending}, rag.DocumentProcessing, "")
	require.NoError(t, err)
	require.True(t, ok)

	outcome := f.worker.ProcessDocument(context.Background(), doc.ID, doc.WorkspaceID)
	assert.Equal(t, rag.OutcomeNoop, outcome)
}
