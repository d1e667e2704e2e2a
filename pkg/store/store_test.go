package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"flipbook/pkg/domain"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	dsn := sqlitePrefix + "file:" + filepath.Join(t.TempDir(), "flipbook.db") + "?_foreign_keys=on"
	s, err := NewGormStore(dsn)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMemoryStore(t *testing.T) Store {
	t.Helper()
	return NewMemoryStore()
}

var storeFactories = map[string]func(*testing.T) Store{
	"gorm-sqlite": newSQLiteStore,
	"memory":      newMemoryStore,
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func testDocument(id, slug string, createdAt time.Time) domain.Document {
	return domain.Document{
		ID:               id,
		Slug:             slug,
		Title:            "Doc " + id,
		OriginalFileURL:  "http://files.local/originals/" + id + ".pdf",
		OriginalKey:      "originals/" + id + ".pdf",
		OriginalFilename: id + ".pdf",
		FileSize:         2048,
		Status:           domain.StatusProcessing,
		SourceInfo:       map[string]string{"declared_pages": "3"},
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}

func mustCreate(t *testing.T, s Store, doc domain.Document) {
	t.Helper()
	if err := s.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("create document %s: %v", doc.ID, err)
	}
}

func TestCreateDocumentRejectsDuplicateSlug(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC()
		mustCreate(t, s, testDocument("doc-1", "notes", now))

		err := s.CreateDocument(ctx, testDocument("doc-2", "notes", now))
		if !errors.Is(err, ErrSlugTaken) {
			t.Fatalf("CreateDocument() error = %v, want ErrSlugTaken", err)
		}
		exists, err := s.SlugExists(ctx, "notes")
		if err != nil || !exists {
			t.Fatalf("SlugExists(notes) = %v, %v, want true, nil", exists, err)
		}
		exists, err = s.SlugExists(ctx, "notes-1")
		if err != nil || exists {
			t.Fatalf("SlugExists(notes-1) = %v, %v, want false, nil", exists, err)
		}

		got, ok, err := s.GetDocument(ctx, "doc-1")
		if err != nil || !ok {
			t.Fatalf("GetDocument() = %v, %v", ok, err)
		}
		if got.SourceInfo["declared_pages"] != "3" {
			t.Fatalf("source info = %v, want declared_pages=3", got.SourceInfo)
		}
		if got.OriginalKey != "originals/doc-1.pdf" {
			t.Fatalf("original key = %q", got.OriginalKey)
		}
	})
}

func TestListDocumentsNewestFirstWithFilterAndPaging(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			mustCreate(t, s, testDocument(fmt.Sprintf("doc-%d", i), fmt.Sprintf("doc-%d", i), base.Add(time.Duration(i)*time.Minute)))
		}
		if err := s.PublishDocument(ctx, "doc-1", domain.Publication{TotalPages: 2}); err != nil {
			t.Fatalf("publish: %v", err)
		}
		if err := s.PublishDocument(ctx, "doc-3", domain.Publication{TotalPages: 2}); err != nil {
			t.Fatalf("publish: %v", err)
		}

		docs, total, err := s.ListDocuments(ctx, domain.DocumentFilter{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 5 || len(docs) != 5 {
			t.Fatalf("list = %d docs, total %d, want 5/5", len(docs), total)
		}
		if docs[0].ID != "doc-4" || docs[4].ID != "doc-0" {
			t.Fatalf("order = %s..%s, want doc-4..doc-0", docs[0].ID, docs[4].ID)
		}

		docs, total, err = s.ListDocuments(ctx, domain.DocumentFilter{Status: domain.StatusPublished})
		if err != nil {
			t.Fatalf("list published: %v", err)
		}
		if total != 2 || len(docs) != 2 || docs[0].ID != "doc-3" || docs[1].ID != "doc-1" {
			t.Fatalf("published list = %+v (total %d)", docs, total)
		}

		docs, total, err = s.ListDocuments(ctx, domain.DocumentFilter{Limit: 2, Offset: 1})
		if err != nil {
			t.Fatalf("list page: %v", err)
		}
		if total != 5 || len(docs) != 2 || docs[0].ID != "doc-3" || docs[1].ID != "doc-2" {
			t.Fatalf("paged list = %+v (total %d)", docs, total)
		}
	})
}

func TestReplacePagesKeepsContiguousOrderedSet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustCreate(t, s, testDocument("doc-1", "doc-1", time.Now().UTC()))

		first := []domain.Page{
			{PageNumber: 2, ImageURL: "u/2", Width: 800, Height: 600},
			{PageNumber: 1, ImageURL: "u/1", Width: 800, Height: 600},
			{PageNumber: 3, ImageURL: "u/3", Width: 800, Height: 600},
		}
		if err := s.ReplacePages(ctx, "doc-1", first); err != nil {
			t.Fatalf("replace pages: %v", err)
		}
		second := []domain.Page{
			{PageNumber: 1, ImageURL: "v/1", Width: 640, Height: 480},
			{PageNumber: 2, ImageURL: "v/2", Width: 640, Height: 480},
		}
		if err := s.ReplacePages(ctx, "doc-1", second); err != nil {
			t.Fatalf("replace pages again: %v", err)
		}

		doc, ok, err := s.GetDocumentWithPages(ctx, "doc-1")
		if err != nil || !ok {
			t.Fatalf("get with pages = %v, %v", ok, err)
		}
		if len(doc.Pages) != 2 {
			t.Fatalf("pages = %d, want 2", len(doc.Pages))
		}
		for i, page := range doc.Pages {
			if page.PageNumber != i+1 {
				t.Fatalf("page[%d].PageNumber = %d, want %d", i, page.PageNumber, i+1)
			}
			if page.ImageURL != fmt.Sprintf("v/%d", i+1) {
				t.Fatalf("page[%d].ImageURL = %q", i, page.ImageURL)
			}
		}

		if err := s.SetPageTexts(ctx, "doc-1", map[int]string{2: "hello"}); err != nil {
			t.Fatalf("set page texts: %v", err)
		}
		doc, _, _ = s.GetDocumentBySlug(ctx, "doc-1")
		if domain.Deref(doc.Pages[1].ExtractedText) != "hello" || doc.Pages[0].ExtractedText != nil {
			t.Fatalf("extracted text not applied: %+v", doc.Pages)
		}
	})
}

func TestProgressIsMonotonicAndPublishFinalizes(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustCreate(t, s, testDocument("doc-1", "doc-1", time.Now().UTC()))

		for _, p := range []int{30, 60, 45, 90} {
			if err := s.SetProgress(ctx, "doc-1", p); err != nil {
				t.Fatalf("set progress %d: %v", p, err)
			}
		}
		doc, _, _ := s.GetDocument(ctx, "doc-1")
		if doc.ProcessingProgress != 90 {
			t.Fatalf("progress = %d, want 90", doc.ProcessingProgress)
		}

		if err := s.MarkError(ctx, "doc-1", "boom"); err != nil {
			t.Fatalf("mark error: %v", err)
		}
		doc, _, _ = s.GetDocument(ctx, "doc-1")
		if doc.Status != domain.StatusError || domain.Deref(doc.ErrorMessage) != "boom" || doc.ProcessingProgress != 90 {
			t.Fatalf("after error = %+v", doc)
		}

		if err := s.BeginProcessing(ctx, "doc-1"); err != nil {
			t.Fatalf("begin processing: %v", err)
		}
		doc, _, _ = s.GetDocument(ctx, "doc-1")
		if doc.Status != domain.StatusProcessing || doc.ProcessingProgress != 0 || doc.ErrorMessage != nil {
			t.Fatalf("after reset = %+v", doc)
		}

		publishedAt := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
		if err := s.PublishDocument(ctx, "doc-1", domain.Publication{TotalPages: 3, ThumbnailURL: "u/thumb", PublishedAt: publishedAt}); err != nil {
			t.Fatalf("publish: %v", err)
		}
		doc, _, _ = s.GetDocument(ctx, "doc-1")
		if doc.Status != domain.StatusPublished || doc.ProcessingProgress != 100 || doc.TotalPages != 3 {
			t.Fatalf("after publish = %+v", doc)
		}
		if domain.Deref(doc.ThumbnailURL) != "u/thumb" {
			t.Fatalf("thumbnail = %v, want u/thumb", doc.ThumbnailURL)
		}
		if doc.PublishedAt == nil || !doc.PublishedAt.Equal(publishedAt) {
			t.Fatalf("published_at = %v, want %v", doc.PublishedAt, publishedAt)
		}

		if err := s.MarkError(ctx, "missing", "boom"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("MarkError(missing) = %v, want ErrNotFound", err)
		}
	})
}

func TestUpdateDocumentAppliesAdminFields(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustCreate(t, s, testDocument("doc-1", "doc-1", time.Now().UTC()))
		if err := s.MarkError(ctx, "doc-1", "render failed"); err != nil {
			t.Fatalf("mark error: %v", err)
		}

		title := "Renamed"
		desc := "About the report"
		status := domain.StatusPublished
		doc, ok, err := s.UpdateDocument(ctx, "doc-1", domain.DocumentUpdate{Title: &title, Description: &desc, Status: &status})
		if err != nil || !ok {
			t.Fatalf("update = %v, %v", ok, err)
		}
		if doc.Title != title || domain.Deref(doc.Description) != desc {
			t.Fatalf("updated fields = %q / %v", doc.Title, doc.Description)
		}
		if doc.Status != domain.StatusPublished || doc.PublishedAt == nil {
			t.Fatalf("status = %s, published_at = %v", doc.Status, doc.PublishedAt)
		}
		if doc.ErrorMessage != nil {
			t.Fatalf("error message should be cleared, got %q", *doc.ErrorMessage)
		}
		if doc.Slug != "doc-1" {
			t.Fatalf("slug changed to %q", doc.Slug)
		}

		_, ok, err = s.UpdateDocument(ctx, "missing", domain.DocumentUpdate{Title: &title})
		if err != nil || ok {
			t.Fatalf("update missing = %v, %v, want false, nil", ok, err)
		}
	})
}

func TestDeleteDocumentCascadesPages(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustCreate(t, s, testDocument("doc-1", "doc-1", time.Now().UTC()))
		if err := s.ReplacePages(ctx, "doc-1", []domain.Page{{PageNumber: 1, ImageURL: "u/1", Width: 1, Height: 1}}); err != nil {
			t.Fatalf("replace pages: %v", err)
		}

		deleted, err := s.DeleteDocument(ctx, "doc-1")
		if err != nil || !deleted {
			t.Fatalf("delete = %v, %v", deleted, err)
		}
		if _, ok, _ := s.GetDocumentWithPages(ctx, "doc-1"); ok {
			t.Fatal("document still present after delete")
		}
		if exists, _ := s.SlugExists(ctx, "doc-1"); exists {
			t.Fatal("slug should be released after delete")
		}
		deleted, err = s.DeleteDocument(ctx, "doc-1")
		if err != nil || deleted {
			t.Fatalf("second delete = %v, %v, want false, nil", deleted, err)
		}
	})
}
