package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"flipbook/pkg/domain"
)

// MemoryStore keeps documents in-process for tests. It honors the same slug
// and page invariants as GormStore.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]domain.Document
	slugs map[string]string // slug -> document ID
	pages map[string][]domain.Page
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[string]domain.Document),
		slugs: make(map[string]string),
		pages: make(map[string][]domain.Page),
	}
}

func (m *MemoryStore) CreateDocument(_ context.Context, doc domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.slugs[doc.Slug]; taken {
		return ErrSlugTaken
	}
	doc.Pages = nil
	m.docs[doc.ID] = doc
	m.slugs[doc.Slug] = doc.ID
	return nil
}

func (m *MemoryStore) SlugExists(_ context.Context, slug string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.slugs[slug]
	return ok, nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	return doc, ok, nil
}

func (m *MemoryStore) GetDocumentWithPages(_ context.Context, id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.withPages(id)
}

func (m *MemoryStore) GetDocumentBySlug(_ context.Context, slug string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.slugs[slug]
	if !ok {
		return domain.Document{}, false, nil
	}
	return m.withPages(id)
}

func (m *MemoryStore) withPages(id string) (domain.Document, bool, error) {
	doc, ok := m.docs[id]
	if !ok {
		return domain.Document{}, false, nil
	}
	if pages := m.pages[id]; len(pages) > 0 {
		doc.Pages = append([]domain.Page(nil), pages...)
	}
	return doc, true, nil
}

func (m *MemoryStore) ListDocuments(_ context.Context, filter domain.DocumentFilter) ([]domain.Document, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]domain.Document, 0, len(m.docs))
	for _, doc := range m.docs {
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		matched = append(matched, doc)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := int64(len(matched))
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []domain.Document{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (m *MemoryStore) UpdateDocument(_ context.Context, id string, update domain.DocumentUpdate) (domain.Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return domain.Document{}, false, nil
	}
	now := time.Now().UTC()
	if update.Title != nil {
		doc.Title = *update.Title
	}
	if update.Description != nil {
		doc.Description = domain.StringPtr(*update.Description)
	}
	if update.ProjectID != nil {
		doc.ProjectID = domain.StringPtr(*update.ProjectID)
	}
	if update.Status != nil {
		doc.Status = *update.Status
		if doc.Status != domain.StatusError {
			doc.ErrorMessage = nil
		}
		if doc.Status == domain.StatusPublished && doc.PublishedAt == nil {
			doc.PublishedAt = &now
		}
	}
	doc.UpdatedAt = now
	m.docs[id] = doc
	out, _, _ := m.withPages(id)
	return out, true, nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return false, nil
	}
	delete(m.docs, id)
	delete(m.slugs, doc.Slug)
	delete(m.pages, id)
	return true, nil
}

func (m *MemoryStore) BeginProcessing(_ context.Context, id string) error {
	return m.mutate(id, func(doc *domain.Document) {
		doc.Status = domain.StatusProcessing
		doc.ProcessingProgress = 0
		doc.ErrorMessage = nil
	})
}

func (m *MemoryStore) SetProgress(_ context.Context, id string, progress int) error {
	progress = clampProgress(progress)
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok || doc.ProcessingProgress >= progress {
		return nil
	}
	doc.ProcessingProgress = progress
	doc.UpdatedAt = time.Now().UTC()
	m.docs[id] = doc
	return nil
}

func (m *MemoryStore) ReplacePages(_ context.Context, documentID string, pages []domain.Page) error {
	out := make([]domain.Page, 0, len(pages))
	seen := make(map[int]bool, len(pages))
	now := time.Now().UTC()
	for _, page := range pages {
		if seen[page.PageNumber] {
			return persistErr("insert pages", ErrDuplicatePage)
		}
		seen[page.PageNumber] = true
		page.DocumentID = documentID
		if page.ID == "" {
			page.ID = uuid.NewString()
		}
		if page.CreatedAt.IsZero() {
			page.CreatedAt = now
		}
		out = append(out, page)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNumber < out[j].PageNumber })
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[documentID]; !ok {
		return notFound("document", documentID)
	}
	m.pages[documentID] = out
	return nil
}

func (m *MemoryStore) PublishDocument(_ context.Context, id string, pub domain.Publication) error {
	publishedAt := pub.PublishedAt.UTC()
	if pub.PublishedAt.IsZero() {
		publishedAt = time.Now().UTC()
	}
	return m.mutate(id, func(doc *domain.Document) {
		doc.Status = domain.StatusPublished
		doc.ProcessingProgress = 100
		doc.TotalPages = pub.TotalPages
		doc.ThumbnailURL = domain.StringPtr(pub.ThumbnailURL)
		doc.PublishedAt = &publishedAt
		doc.ErrorMessage = nil
	})
}

func (m *MemoryStore) MarkError(_ context.Context, id string, msg string) error {
	return m.mutate(id, func(doc *domain.Document) {
		doc.Status = domain.StatusError
		doc.ErrorMessage = &msg
	})
}

func (m *MemoryStore) SetPageTexts(_ context.Context, documentID string, texts map[int]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pages := m.pages[documentID]
	for i := range pages {
		if text, ok := texts[pages[i].PageNumber]; ok {
			pages[i].ExtractedText = domain.StringPtr(text)
		}
	}
	return nil
}

func (m *MemoryStore) mutate(id string, fn func(*domain.Document)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return notFound("document", id)
	}
	fn(&doc)
	doc.UpdatedAt = time.Now().UTC()
	m.docs[id] = doc
	return nil
}
