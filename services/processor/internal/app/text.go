package app

import (
	"context"

	"flipbook/internal/util"
	"flipbook/pkg/pdfdoc"
)

// TextExtractor pulls per-page text out of a PDF.
type TextExtractor func(ctx context.Context, data []byte) (map[int]string, error)

// ExtractText fills extracted_text for the pages of a processed document.
// It never changes the document's status.
func (p *Pipeline) ExtractText(ctx context.Context, documentID string) error {
	logger := util.LoggerFromContext(ctx).With("document_id", documentID)

	doc, ok, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("document not found, dropping text extraction")
		return nil
	}
	if doc.TotalPages == 0 {
		logger.Info("document has no pages yet, skipping text extraction", "status", doc.Status)
		return nil
	}
	data, err := p.fetchOriginal(ctx, doc)
	if err != nil {
		return err
	}
	extract := p.extractText
	if extract == nil {
		extract = pdfdoc.ExtractText
	}
	texts, err := extract(ctx, data)
	if err != nil {
		return err
	}
	for n := range texts {
		if n < 1 || n > doc.TotalPages {
			delete(texts, n)
		}
	}
	if err := p.store.SetPageTexts(ctx, doc.ID, texts); err != nil {
		return err
	}
	logger.Info("text extracted", "pages_with_text", len(texts), "total_pages", doc.TotalPages)
	return nil
}
