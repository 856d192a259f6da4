package extraction

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// ErrDocumentUnreadable is returned when the input cannot be decoded as a PDF
var ErrDocumentUnreadable = errors.New("document unreadable")

// Document is the linearized text of a decoded PDF
type Document struct {
	Text  string
	Pages int
}

// PDFExtractor decodes PDF documents with MuPDF
type PDFExtractor struct{}

// NewPDFExtractor creates a new PDFExtractor
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// ExtractText returns the text of every page in page order. Pages are joined by
// a line break and the text fragments of a page by a single space.
func (e *PDFExtractor) ExtractText(data []byte) (*Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: opening PDF: %v", ErrDocumentUnreadable, err)
	}
	defer doc.Close()

	pages := make([]string, 0, doc.NumPage())
	for n := 0; n < doc.NumPage(); n++ {
		text, err := doc.Text(n)
		if err != nil {
			return nil, fmt.Errorf("%w: reading page %d: %v", ErrDocumentUnreadable, n+1, err)
		}
		pages = append(pages, joinFragments(text))
	}

	return &Document{
		Text:  strings.Join(pages, "\n"),
		Pages: len(pages),
	}, nil
}

// joinFragments flattens the lines MuPDF reports for a page into one line
func joinFragments(pageText string) string {
	lines := strings.Split(pageText, "\n")
	fragments := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fragments = append(fragments, line)
	}
	return strings.Join(fragments, " ")
}
