package extract

import (
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// parsePDF extracts text from a PDF file using go-fitz (MuPDF).
func parsePDF(path string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	var b strings.Builder
	numPages := doc.NumPage()
	for i := 0; i < numPages; i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			continue
		}
		b.WriteString(pageText)
		if i < numPages-1 {
			b.WriteString("\n\n")
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("no text extracted from pdf")
	}
	return text, nil
}
