package app

import (
	"context"
	"fmt"
	"strings"

	"flipbook/internal/util"
	"flipbook/pkg/domain"
	"flipbook/pkg/queue"
	"flipbook/pkg/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	deleteFanOut     = 8
)

// StatusView is the polling payload for an upload in progress.
type StatusView struct {
	ID           string                `json:"id"`
	Status       domain.DocumentStatus `json:"status"`
	Progress     int                   `json:"progress"`
	TotalPages   int                   `json:"total_pages"`
	ErrorMessage *string               `json:"error_message"`
}

// GetStatus reports processing state without loading pages.
func (a *App) GetStatus(ctx context.Context, id string) (StatusView, error) {
	doc, ok, err := a.store.GetDocument(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	if !ok {
		return StatusView{}, documentNotFound(id)
	}
	return StatusView{
		ID:           doc.ID,
		Status:       doc.Status,
		Progress:     doc.ProcessingProgress,
		TotalPages:   doc.TotalPages,
		ErrorMessage: doc.ErrorMessage,
	}, nil
}

// GetPublished returns a published flipbook by slug. Every other state
// reads as not found.
func (a *App) GetPublished(ctx context.Context, slug string) (domain.Document, error) {
	slug = strings.TrimSpace(slug)
	doc, ok, err := a.store.GetDocumentBySlug(ctx, slug)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok || doc.Status != domain.StatusPublished {
		return domain.Document{}, documentNotFound(slug)
	}
	if doc.Pages == nil {
		doc.Pages = []domain.Page{}
	}
	return doc, nil
}

// ListDocuments returns documents newest first and the unpaged total.
func (a *App) ListDocuments(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, int64, error) {
	if filter.Offset < 0 {
		return nil, 0, domain.Invalid("offset must not be negative")
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	docs, total, err := a.store.ListDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	return docs, total, nil
}

// GetDocument loads a document with its pages for admins.
func (a *App) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	doc, ok, err := a.store.GetDocumentWithPages(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, documentNotFound(id)
	}
	return doc, nil
}

// UpdateDocument applies an admin patch.
func (a *App) UpdateDocument(ctx context.Context, id string, update domain.DocumentUpdate) (domain.Document, error) {
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return domain.Document{}, domain.Invalid("title must not be empty")
		}
		update.Title = &title
	}
	if update.Empty() {
		return domain.Document{}, domain.Invalid("no valid fields to update")
	}
	doc, ok, err := a.store.UpdateDocument(ctx, id, update)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, documentNotFound(id)
	}
	return doc, nil
}

// DeleteDocument removes the page images, thumbnail and original, then the
// row and its pages. Blob failures are logged and do not block the delete.
func (a *App) DeleteDocument(ctx context.Context, id string) error {
	logger := util.LoggerFromContext(ctx)
	doc, ok, err := a.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return documentNotFound(id)
	}

	if err := storage.DeletePrefix(ctx, a.objects, doc.ID+"/", deleteFanOut); err != nil {
		logger.Warn("page blob cleanup failed", "document_id", doc.ID, "err", err)
	}
	keys := []string{thumbnailKey(doc.ID)}
	if doc.OriginalKey != "" {
		keys = append(keys, doc.OriginalKey)
	}
	if err := storage.DeleteKeys(ctx, a.objects, keys, deleteFanOut); err != nil {
		logger.Warn("blob cleanup failed", "document_id", doc.ID, "err", err)
	}

	deleted, err := a.store.DeleteDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return documentNotFound(id)
	}
	logger.Info("document deleted", "document_id", doc.ID, "slug", doc.Slug)
	return nil
}

// Reprocess resets the document to processing and enqueues a new run.
func (a *App) Reprocess(ctx context.Context, id string) (queue.JobStatus, error) {
	if _, err := a.GetStatus(ctx, id); err != nil {
		return queue.JobStatus{}, err
	}
	if err := a.store.BeginProcessing(ctx, id); err != nil {
		return queue.JobStatus{}, err
	}
	job, err := a.queue.Enqueue(ctx, id, queue.KindProcess)
	if err != nil {
		if markErr := a.store.MarkError(ctx, id, "failed to enqueue processing: "+err.Error()); markErr != nil {
			util.LoggerFromContext(ctx).Error("mark document error failed", "document_id", id, "err", markErr)
		}
		return queue.JobStatus{}, fmt.Errorf("enqueue processing: %w", err)
	}
	return job, nil
}

// ExtractText enqueues text extraction for a document that already has pages.
func (a *App) ExtractText(ctx context.Context, id string) (queue.JobStatus, error) {
	doc, ok, err := a.store.GetDocument(ctx, id)
	if err != nil {
		return queue.JobStatus{}, err
	}
	if !ok {
		return queue.JobStatus{}, documentNotFound(id)
	}
	if doc.TotalPages == 0 {
		return queue.JobStatus{}, domain.Invalid("document has no pages yet")
	}
	return a.queue.Enqueue(ctx, id, queue.KindExtractText)
}

// GetJob reads a queue job's status.
func (a *App) GetJob(ctx context.Context, jobID string) (queue.JobStatus, error) {
	job, ok, err := a.queue.GetJob(ctx, jobID)
	if err != nil {
		return queue.JobStatus{}, err
	}
	if !ok {
		return queue.JobStatus{}, fmt.Errorf("%w: %w %s", domain.ErrNotFound, ErrJobNotFound, jobID)
	}
	return job, nil
}

func thumbnailKey(documentID string) string {
	return documentID + "/thumbnail.jpg"
}
