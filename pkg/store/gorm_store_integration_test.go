//go:build integration

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"flipbook/pkg/domain"
)

func newPostgresStore(t *testing.T) *GormStore {
	t.Helper()
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("flipbook_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	s, err := NewGormStore(dsn)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStoreSlugUniqueUnderConcurrency(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		taken   int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := testDocument(string(rune('a'+i))+"-doc", "notes", now)
			err := s.CreateDocument(ctx, doc)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrSlugTaken):
				taken++
			default:
				t.Errorf("create: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if created != 1 || taken != writers-1 {
		t.Fatalf("created = %d, taken = %d, want 1 and %d", created, taken, writers-1)
	}
}

func TestPostgresStoreCascadeAndPages(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	mustCreate(t, s, testDocument("doc-1", "doc-1", time.Now().UTC()))
	pages := []domain.Page{
		{PageNumber: 1, ImageURL: "u/1", Width: 800, Height: 1000},
		{PageNumber: 2, ImageURL: "u/2", Width: 800, Height: 1000},
	}
	if err := s.ReplacePages(ctx, "doc-1", pages); err != nil {
		t.Fatalf("replace pages: %v", err)
	}
	dup := []domain.Page{
		{PageNumber: 1, ImageURL: "u/1", Width: 800, Height: 1000},
		{PageNumber: 1, ImageURL: "u/1b", Width: 800, Height: 1000},
	}
	if err := s.ReplacePages(ctx, "doc-1", dup); err == nil {
		t.Fatal("expected unique (document_id, page_number) violation")
	}
	doc, _, err := s.GetDocumentWithPages(ctx, "doc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("failed replace must roll back, pages = %d", len(doc.Pages))
	}
	if _, err := s.DeleteDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var count int64
	if err := s.db.Model(&PageModel{}).Where("document_id = ?", "doc-1").Count(&count).Error; err != nil {
		t.Fatalf("count pages: %v", err)
	}
	if count != 0 {
		t.Fatalf("pages left after delete = %d", count)
	}
}
