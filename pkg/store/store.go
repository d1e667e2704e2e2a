package store

import (
	"context"
	"errors"
	"fmt"

	"flipbook/pkg/domain"
)

// ErrSlugTaken is returned by CreateDocument when the slug unique index rejects the insert.
var ErrSlugTaken = errors.New("slug already taken")

// Store defines persistence operations for flipbook documents and their pages.
type Store interface {
	// documents
	CreateDocument(ctx context.Context, doc domain.Document) error
	SlugExists(ctx context.Context, slug string) (bool, error)
	GetDocument(ctx context.Context, id string) (domain.Document, bool, error)
	GetDocumentWithPages(ctx context.Context, id string) (domain.Document, bool, error)
	GetDocumentBySlug(ctx context.Context, slug string) (domain.Document, bool, error)
	ListDocuments(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, int64, error)
	UpdateDocument(ctx context.Context, id string, update domain.DocumentUpdate) (domain.Document, bool, error)
	DeleteDocument(ctx context.Context, id string) (bool, error)

	// pipeline
	BeginProcessing(ctx context.Context, id string) error
	SetProgress(ctx context.Context, id string, progress int) error
	ReplacePages(ctx context.Context, documentID string, pages []domain.Page) error
	PublishDocument(ctx context.Context, id string, pub domain.Publication) error
	MarkError(ctx context.Context, id string, msg string) error

	// pages
	SetPageTexts(ctx context.Context, documentID string, texts map[int]string) error
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
}

// ErrDuplicatePage is returned when a page set repeats a page number.
var ErrDuplicatePage = errors.New("duplicate page number")
