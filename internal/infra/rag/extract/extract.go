// Package extract implements the TextExtractor port consumed by the
// Process-Document Worker (§4.K), dispatching on MIME type. PDF and DOCX
// go through MuPDF/docx libraries that only accept file paths, grounded on
// niski84-the-hive's internal/parser package; since the worker only has the
// downloaded bytes, both are written to a temp file first.
package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	domain "github.com/yanqian/rag-service/internal/domain/rag"
)

// MimeExtractor dispatches plain-text passthrough, PDF and DOCX extraction
// by MIME type. Any other MIME type is treated as plain text.
type MimeExtractor struct{}

// NewMimeExtractor constructs the dispatcher.
func NewMimeExtractor() *MimeExtractor {
	return &MimeExtractor{}
}

// Extract pulls plain text out of data, given mimeType.
func (e *MimeExtractor) Extract(ctx context.Context, mimeType string, data []byte) (string, error) {
	switch normalizeMime(mimeType) {
	case "application/pdf":
		return extractViaTempFile(data, ".pdf", parsePDF)
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return extractViaTempFile(data, ".docx", parseDOCX)
	default:
		return strings.TrimSpace(string(data)), nil
	}
}

func normalizeMime(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	return strings.ToLower(mimeType)
}

// extractViaTempFile writes data to a temp file with the given extension
// (both go-fitz and nguyenthenguyen/docx require a path, not a reader),
// runs parse against it, and removes the file afterward regardless of
// outcome.
func extractViaTempFile(data []byte, ext string, parse func(path string) (string, error)) (string, error) {
	f, err := os.CreateTemp("", "rag-extract-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return parse(path)
}

var _ domain.TextExtractor = (*MimeExtractor)(nil)
