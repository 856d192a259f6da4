package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zombor/invoice-importer/internal/extraction"
)

// excerptLength is how much of the extracted text a result keeps
const excerptLength = 1000

// Progress reported at the pipeline stage boundaries
const (
	progressClaimed   = 10
	progressExtracted = 30
	progressPrepared  = 50
	progressParsed    = 90
	progressDone      = 100
)

// ProgressFunc receives the completion percentage of a running pipeline
type ProgressFunc func(percent int)

// TextExtractor turns document bytes into text
type TextExtractor interface {
	ExtractText(data []byte) (*extraction.Document, error)
}

// ParserRegistry selects a line item parser by name
type ParserRegistry interface {
	Get(name string) (extraction.Parser, error)
}

// Pipeline runs text extraction followed by line item parsing
type Pipeline struct {
	extractor TextExtractor
	parsers   ParserRegistry
}

// NewPipeline creates a Pipeline
func NewPipeline(extractor TextExtractor, parsers ParserRegistry) *Pipeline {
	return &Pipeline{
		extractor: extractor,
		parsers:   parsers,
	}
}

// Resolve returns the name of the parser a request for name would use
func (p *Pipeline) Resolve(name string) (string, error) {
	parser, err := p.parsers.Get(name)
	if err != nil {
		return "", err
	}
	return parser.Name(), nil
}

// Run extracts the document text and parses its line items with the named parser.
// An empty parser name selects the default one. progress may be nil.
func (p *Pipeline) Run(ctx context.Context, data []byte, parserName, sourceName string, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(int) {}
	}

	parser, err := p.parsers.Get(parserName)
	if err != nil {
		return nil, err
	}

	doc, err := p.extractor.ExtractText(data)
	if err != nil {
		return nil, fmt.Errorf("extracting text: %w", err)
	}

	slog.Debug("Extracted document text", "source", sourceName, "pages", doc.Pages, "length", len(doc.Text))
	progress(progressExtracted)

	excerpt := leading(extraction.NormalizeText(doc.Text), excerptLength)
	progress(progressPrepared)

	records, err := parser.ParseItems(ctx, doc.Text)
	if err != nil {
		return nil, fmt.Errorf("parsing line items with %s: %w", parser.Name(), err)
	}
	if records == nil {
		records = []extraction.Record{}
	}
	progress(progressParsed)

	return &Result{
		Products:      records,
		SourceName:    sourceName,
		PagesCount:    doc.Pages,
		TextLength:    len([]rune(doc.Text)),
		ExtractedText: excerpt,
	}, nil
}

// leading returns at most n runes from the start of s
func leading(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
