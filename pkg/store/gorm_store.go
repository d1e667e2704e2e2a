package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"flipbook/pkg/domain"
)

const migrateLockID int64 = 48151623

const sqlitePrefix = "sqlite://"

// GormStore implements Store using GORM over Postgres, or SQLite when the
// DSN starts with "sqlite://".
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database URL required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	cfg := &gorm.Config{Logger: gormLog, TranslateError: true}

	var (
		db  *gorm.DB
		err error
	)
	if strings.HasPrefix(dsn, sqlitePrefix) {
		db, err = gorm.Open(sqlite.Open(strings.TrimPrefix(dsn, sqlitePrefix)), cfg)
	} else {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&DocumentModel{}, &PageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if db.Dialector.Name() == "postgres" {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateDocument inserts a new document. A slug collision yields ErrSlugTaken.
func (s *GormStore) CreateDocument(ctx context.Context, doc domain.Document) error {
	model := documentToModel(doc)
	if err := s.db.WithContext(ctx).Omit("Pages").Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrSlugTaken
		}
		return persistErr("create document", err)
	}
	return nil
}

// SlugExists reports whether any document uses slug.
func (s *GormStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&DocumentModel{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
		return false, persistErr("check slug", err)
	}
	return count > 0, nil
}

// GetDocument returns a document without pages.
func (s *GormStore) GetDocument(ctx context.Context, id string) (domain.Document, bool, error) {
	return s.findDocument(s.db.WithContext(ctx), "id = ?", id)
}

// GetDocumentWithPages returns a document and its pages ordered by page number.
func (s *GormStore) GetDocumentWithPages(ctx context.Context, id string) (domain.Document, bool, error) {
	return s.findDocument(s.db.WithContext(ctx).Preload("Pages", orderedPages), "id = ?", id)
}

// GetDocumentBySlug returns a document and its pages by slug, whatever its status.
func (s *GormStore) GetDocumentBySlug(ctx context.Context, slug string) (domain.Document, bool, error) {
	return s.findDocument(s.db.WithContext(ctx).Preload("Pages", orderedPages), "slug = ?", slug)
}

func (s *GormStore) findDocument(tx *gorm.DB, query string, arg string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := tx.Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, persistErr("get document", err)
	}
	return documentFromModel(model), true, nil
}

func orderedPages(db *gorm.DB) *gorm.DB {
	return db.Order("page_number ASC")
}

// ListDocuments returns documents newest first together with the total
// number of rows matching the filter.
func (s *GormStore) ListDocuments(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, int64, error) {
	base := s.db.WithContext(ctx).Model(&DocumentModel{})
	if filter.Status != "" {
		base = base.Where("status = ?", string(filter.Status))
	}
	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, persistErr("count documents", err)
	}
	query := base.Session(&gorm.Session{}).Order("created_at DESC").Order("id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var models []DocumentModel
	if err := query.Find(&models).Error; err != nil {
		return nil, 0, persistErr("list documents", err)
	}
	docs := make([]domain.Document, 0, len(models))
	for _, m := range models {
		docs = append(docs, documentFromModel(m))
	}
	return docs, total, nil
}

// UpdateDocument applies admin edits and returns the updated document.
func (s *GormStore) UpdateDocument(ctx context.Context, id string, update domain.DocumentUpdate) (domain.Document, bool, error) {
	var out domain.Document
	found := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model DocumentModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		found = true
		now := time.Now().UTC()
		updates := map[string]any{"updated_at": now}
		if update.Title != nil {
			updates["title"] = *update.Title
		}
		if update.Description != nil {
			updates["description"] = nullable(*update.Description)
		}
		if update.ProjectID != nil {
			updates["project_id"] = nullable(*update.ProjectID)
		}
		if update.Status != nil {
			updates["status"] = string(*update.Status)
			if *update.Status != domain.StatusError {
				updates["error_message"] = nil
			}
			if *update.Status == domain.StatusPublished && model.PublishedAt == nil {
				updates["published_at"] = now
			}
		}
		if err := tx.Model(&DocumentModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		var updated DocumentModel
		if err := tx.Preload("Pages", orderedPages).First(&updated, "id = ?", id).Error; err != nil {
			return err
		}
		out = documentFromModel(updated)
		return nil
	})
	if err != nil {
		return domain.Document{}, false, persistErr("update document", err)
	}
	return out, found, nil
}

// DeleteDocument removes a document and its pages.
func (s *GormStore) DeleteDocument(ctx context.Context, id string) (bool, error) {
	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&PageModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&DocumentModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, persistErr("delete document", err)
	}
	return deleted, nil
}

// BeginProcessing resets a document to processing with zero progress.
func (s *GormStore) BeginProcessing(ctx context.Context, id string) error {
	return s.updateDocument(ctx, "begin processing", id, map[string]any{
		"status":              string(domain.StatusProcessing),
		"processing_progress": 0,
		"error_message":       nil,
	})
}

// SetProgress raises processing progress; lower values are ignored.
func (s *GormStore) SetProgress(ctx context.Context, id string, progress int) error {
	progress = clampProgress(progress)
	err := s.db.WithContext(ctx).Model(&DocumentModel{}).
		Where("id = ? AND processing_progress < ?", id, progress).
		Updates(map[string]any{
			"processing_progress": progress,
			"updated_at":          time.Now().UTC(),
		}).Error
	if err != nil {
		return persistErr("set progress", err)
	}
	return nil
}

// ReplacePages swaps the page set of a document in one transaction.
func (s *GormStore) ReplacePages(ctx context.Context, documentID string, pages []domain.Page) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&PageModel{}, "document_id = ?", documentID).Error; err != nil {
			return err
		}
		if len(pages) == 0 {
			return nil
		}
		models := make([]PageModel, 0, len(pages))
		for _, page := range pages {
			model := pageToModel(page)
			model.DocumentID = documentID
			models = append(models, model)
		}
		return tx.CreateInBatches(&models, 200).Error
	})
	if err != nil {
		return persistErr("insert pages", err)
	}
	return nil
}

// PublishDocument performs the finalizing write of a pipeline run.
func (s *GormStore) PublishDocument(ctx context.Context, id string, pub domain.Publication) error {
	publishedAt := pub.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now().UTC()
	}
	return s.updateDocument(ctx, "publish document", id, map[string]any{
		"status":              string(domain.StatusPublished),
		"processing_progress": 100,
		"total_pages":         pub.TotalPages,
		"thumbnail_url":       nullable(pub.ThumbnailURL),
		"published_at":        publishedAt.UTC(),
		"error_message":       nil,
	})
}

// MarkError records a failed run.
func (s *GormStore) MarkError(ctx context.Context, id string, msg string) error {
	return s.updateDocument(ctx, "mark error", id, map[string]any{
		"status":        string(domain.StatusError),
		"error_message": msg,
	})
}

func (s *GormStore) updateDocument(ctx context.Context, op, id string, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&DocumentModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return persistErr(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("document", id)
	}
	return nil
}

// SetPageTexts stores extracted text keyed by page number.
func (s *GormStore) SetPageTexts(ctx context.Context, documentID string, texts map[int]string) error {
	if len(texts) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for pageNumber, text := range texts {
			if err := tx.Model(&PageModel{}).
				Where("document_id = ? AND page_number = ?", documentID, pageNumber).
				Update("extracted_text", nullable(text)).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return persistErr("set page text", err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func documentToModel(d domain.Document) DocumentModel {
	var info []byte
	if len(d.SourceInfo) > 0 {
		info, _ = json.Marshal(d.SourceInfo)
	}
	return DocumentModel{
		ID:                 d.ID,
		Slug:               d.Slug,
		Title:              d.Title,
		Description:        d.Description,
		OriginalFileURL:    d.OriginalFileURL,
		OriginalKey:        d.OriginalKey,
		OriginalFilename:   d.OriginalFilename,
		ThumbnailURL:       d.ThumbnailURL,
		TotalPages:         d.TotalPages,
		FileSize:           d.FileSize,
		ProjectID:          d.ProjectID,
		Status:             string(d.Status),
		ProcessingProgress: d.ProcessingProgress,
		ErrorMessage:       d.ErrorMessage,
		SourceInfo:         info,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
		PublishedAt:        d.PublishedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	var info map[string]string
	if len(m.SourceInfo) > 0 {
		_ = json.Unmarshal(m.SourceInfo, &info)
	}
	doc := domain.Document{
		ID:                 m.ID,
		Slug:               m.Slug,
		Title:              m.Title,
		Description:        m.Description,
		OriginalFileURL:    m.OriginalFileURL,
		OriginalKey:        m.OriginalKey,
		OriginalFilename:   m.OriginalFilename,
		ThumbnailURL:       m.ThumbnailURL,
		TotalPages:         m.TotalPages,
		FileSize:           m.FileSize,
		ProjectID:          m.ProjectID,
		Status:             domain.DocumentStatus(m.Status),
		ProcessingProgress: m.ProcessingProgress,
		ErrorMessage:       m.ErrorMessage,
		SourceInfo:         info,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
		PublishedAt:        m.PublishedAt,
	}
	if len(m.Pages) > 0 {
		doc.Pages = make([]domain.Page, 0, len(m.Pages))
		for _, p := range m.Pages {
			doc.Pages = append(doc.Pages, pageFromModel(p))
		}
	}
	return doc
}

func pageToModel(p domain.Page) PageModel {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return PageModel{
		ID:            id,
		DocumentID:    p.DocumentID,
		PageNumber:    p.PageNumber,
		ImageURL:      p.ImageURL,
		Width:         p.Width,
		Height:        p.Height,
		ExtractedText: p.ExtractedText,
		CreatedAt:     createdAt,
	}
}

func pageFromModel(m PageModel) domain.Page {
	return domain.Page{
		ID:            m.ID,
		DocumentID:    m.DocumentID,
		PageNumber:    m.PageNumber,
		ImageURL:      m.ImageURL,
		Width:         m.Width,
		Height:        m.Height,
		ExtractedText: m.ExtractedText,
		CreatedAt:     m.CreatedAt,
	}
}
