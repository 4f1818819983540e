package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	domain "github.com/yanqian/rag-service/internal/domain/rag"
)

// MemoryStorage keeps blobs in memory. Useful for tests and local dev.
type MemoryStorage struct {
	mu    sync.RWMutex
	blobs map[string]storedBlob
}

type storedBlob struct {
	data     []byte
	mimeType string
	etag     string
}

// NewMemoryStorage constructs storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[string]storedBlob)}
}

// Put stores the blob and returns metadata.
func (s *MemoryStorage) Put(_ context.Context, key string, data []byte, mimeType string) (domain.StoredObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := md5.Sum(data)
	etag := hex.EncodeToString(hash[:])
	s.blobs[key] = storedBlob{data: data, mimeType: mimeType, etag: etag}
	return domain.StoredObject{
		Key:      key,
		Size:     int64(len(data)),
		MimeType: mimeType,
		ETag:     etag,
	}, nil
}

// Get returns a reader for the stored blob.
func (s *MemoryStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[key]
	if !ok {
		return io.NopCloser(bytes.NewReader(nil)), fmt.Errorf("blob not found")
	}
	return io.NopCloser(bytes.NewReader(blob.data)), nil
}

// Delete removes the blob.
func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

// PresignedURL fabricates a local, non-network "memory://" reference with
// the expiry and filename encoded as query parameters. There is no real
// server to resolve it against: it exists so callers exercising the
// ObjectStorage contract in tests and local dev see the same shape a real
// backend would return.
func (s *MemoryStorage) PresignedURL(_ context.Context, key string, ttlSeconds int64, filename string) (string, error) {
	s.mu.RLock()
	_, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("blob not found")
	}
	expires := time.Now().UTC().Add(time.Duration(ttlSeconds) * time.Second)
	q := url.Values{}
	q.Set("expires", expires.Format(time.RFC3339))
	if filename != "" {
		q.Set("filename", filename)
	}
	u := url.URL{Scheme: "memory", Host: "local", Path: "/" + key, RawQuery: q.Encode()}
	return u.String(), nil
}

var _ domain.ObjectStorage = (*MemoryStorage)(nil)
