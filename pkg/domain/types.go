package domain

import "time"

type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusPublished  DocumentStatus = "published"
	StatusDraft      DocumentStatus = "draft"
	StatusError      DocumentStatus = "error"
)

// ParseStatus accepts the four document states, case-insensitively.
func ParseStatus(raw string) (DocumentStatus, bool) {
	switch DocumentStatus(lower(raw)) {
	case StatusProcessing:
		return StatusProcessing, true
	case StatusPublished:
		return StatusPublished, true
	case StatusDraft:
		return StatusDraft, true
	case StatusError:
		return StatusError, true
	default:
		return "", false
	}
}

type Document struct {
	ID                 string            `json:"id"`
	Slug               string            `json:"slug"`
	Title              string            `json:"title"`
	Description        *string           `json:"description"`
	OriginalFileURL    string            `json:"original_file_url"`
	OriginalKey        string            `json:"-"`
	OriginalFilename   string            `json:"original_filename,omitempty"`
	ThumbnailURL       *string           `json:"thumbnail_url"`
	TotalPages         int               `json:"total_pages"`
	FileSize           int64             `json:"file_size"`
	ProjectID          *string           `json:"project_id"`
	Status             DocumentStatus    `json:"status"`
	ProcessingProgress int               `json:"processing_progress"`
	ErrorMessage       *string           `json:"error_message"`
	SourceInfo         map[string]string `json:"source_info,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	PublishedAt        *time.Time        `json:"published_at"`
	Pages              []Page            `json:"pages,omitempty"`
}

type Page struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	PageNumber    int       `json:"page_number"`
	ImageURL      string    `json:"image_url"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	ExtractedText *string   `json:"extracted_text,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// DocumentFilter narrows admin listings.
type DocumentFilter struct {
	Status DocumentStatus
	Limit  int
	Offset int
}

// DocumentUpdate carries admin-editable fields; nil means unchanged.
type DocumentUpdate struct {
	Title       *string
	Description *string
	Status      *DocumentStatus
	ProjectID   *string
}

// Empty reports whether no field is set.
func (u DocumentUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Status == nil && u.ProjectID == nil
}

// Publication is the single finalizing write of a pipeline run.
type Publication struct {
	TotalPages   int
	ThumbnailURL string
	PublishedAt  time.Time
}

// StringPtr returns nil for empty strings.
func StringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// Deref returns the pointed-to string or "".
func Deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
