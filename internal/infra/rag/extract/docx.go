package extract

import (
	"fmt"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// parseDOCX extracts text from a DOCX file.
func parseDOCX(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer doc.Close()

	text := strings.TrimSpace(doc.Editable().GetContent())
	if text == "" {
		return "", fmt.Errorf("no text extracted from docx")
	}
	return text, nil
}
