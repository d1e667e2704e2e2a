package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type DocumentModel struct {
	ID                 string  `gorm:"primaryKey"`
	Slug               string  `gorm:"uniqueIndex;not null"`
	Title              string  `gorm:"not null"`
	Description        *string `gorm:"type:text"`
	OriginalFileURL    string  `gorm:"not null"`
	OriginalKey        string
	OriginalFilename   string
	ThumbnailURL       *string
	TotalPages         int     `gorm:"not null;default:0"`
	FileSize           int64   `gorm:"not null;default:0"`
	ProjectID          *string `gorm:"index"`
	Status             string  `gorm:"not null;index"`
	ProcessingProgress int     `gorm:"not null;default:0"`
	ErrorMessage       *string `gorm:"type:text"`
	SourceInfo         datatypes.JSON
	CreatedAt          time.Time `gorm:"not null;index"`
	UpdatedAt          time.Time `gorm:"not null"`
	PublishedAt        *time.Time
	Pages              []PageModel `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
}

func (DocumentModel) TableName() string { return "flipbook_documents" }

type PageModel struct {
	ID            string    `gorm:"primaryKey"`
	DocumentID    string    `gorm:"not null;uniqueIndex:idx_flipbook_pages_document_page"`
	PageNumber    int       `gorm:"not null;uniqueIndex:idx_flipbook_pages_document_page"`
	ImageURL      string    `gorm:"not null"`
	Width         int       `gorm:"not null"`
	Height        int       `gorm:"not null"`
	ExtractedText *string   `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (PageModel) TableName() string { return "flipbook_pages" }
