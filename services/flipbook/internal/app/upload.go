package app

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"flipbook/internal/util"
	"flipbook/pkg/domain"
	"flipbook/pkg/pdfdoc"
	"flipbook/pkg/queue"
)

const (
	pdfContentType     = "application/pdf"
	estimateBytesPerS  = 2 << 20
	minEstimateSeconds = 3
	originalsPrefix    = "originals/"
)

// UploadRequest is a validated multipart upload.
type UploadRequest struct {
	Title       string
	Description string
	ProjectID   string
	Filename    string
	ContentType string
	Data        []byte
}

// UploadResult is returned to the uploader while processing runs.
type UploadResult struct {
	Document         domain.Document
	Job              queue.JobStatus
	EstimatedSeconds int
}

// UploadDocument validates the PDF, stores the original, creates the
// document in processing state and enqueues the processing job.
func (a *App) UploadDocument(ctx context.Context, req UploadRequest) (UploadResult, error) {
	logger := util.LoggerFromContext(ctx)
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return UploadResult{}, domain.Invalid("title is required")
	}
	size := int64(len(req.Data))
	if size == 0 {
		return UploadResult{}, domain.Invalid("file is required")
	}
	if size > a.maxUploadBytes {
		return UploadResult{}, domain.Invalid(fmt.Sprintf("file too large (max %d bytes)", a.maxUploadBytes))
	}
	if !isPDF(req.ContentType, req.Data) {
		return UploadResult{}, domain.Invalid("only PDF files are allowed")
	}
	info, err := pdfdoc.Inspect(req.Data)
	if err != nil {
		return UploadResult{}, err
	}

	key := originalKey(req.Filename)
	if err := a.objects.Put(ctx, key, bytes.NewReader(req.Data), size, pdfContentType); err != nil {
		return UploadResult{}, err
	}

	now := time.Now().UTC()
	doc := domain.Document{
		ID:               uuid.NewString(),
		Title:            title,
		Description:      optional(req.Description),
		OriginalFileURL:  a.objects.PublicURL(key),
		OriginalKey:      key,
		OriginalFilename: filepath.Base(strings.TrimSpace(req.Filename)),
		FileSize:         size,
		ProjectID:        optional(req.ProjectID),
		Status:           domain.StatusProcessing,
		SourceInfo: map[string]string{
			"pdf_version":    info.Version,
			"declared_pages": strconv.Itoa(info.PageCount),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc, err = a.createWithUniqueSlug(ctx, doc)
	if err != nil {
		if delErr := a.objects.Delete(ctx, key); delErr != nil {
			logger.Warn("original cleanup failed", "key", key, "err", delErr)
		}
		return UploadResult{}, err
	}

	job, err := a.queue.Enqueue(ctx, doc.ID, queue.KindProcess)
	if err != nil {
		msg := "failed to enqueue processing: " + err.Error()
		if markErr := a.store.MarkError(ctx, doc.ID, msg); markErr != nil {
			logger.Error("mark document error failed", "document_id", doc.ID, "err", markErr)
		}
		return UploadResult{}, fmt.Errorf("enqueue processing: %w", err)
	}
	logger.Info("document uploaded", "document_id", doc.ID, "slug", doc.Slug, "job_id", job.ID, "bytes", size, "pages", info.PageCount)

	return UploadResult{
		Document:         doc,
		Job:              job,
		EstimatedSeconds: estimateSeconds(size),
	}, nil
}

// isPDF trusts an explicit content type and sniffs the bytes otherwise.
func isPDF(contentType string, data []byte) bool {
	mediaType := ""
	if contentType != "" {
		if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = strings.ToLower(parsed)
		}
	}
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType, _, _ = mime.ParseMediaType(http.DetectContentType(data[:min(len(data), 512)]))
	}
	return mediaType == pdfContentType
}

func estimateSeconds(size int64) int {
	secs := int((size + estimateBytesPerS - 1) / estimateBytesPerS)
	return max(secs, minEstimateSeconds)
}

func originalKey(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	name := sanitizeFilename(base)
	if name == "" {
		name = "document"
	}
	return originalsPrefix + name + "-" + util.RandomSuffix(6) + ".pdf"
}

// sanitizeFilename keeps [a-z0-9.-] and folds every other run into a single
// underscore.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.ToLower(strings.Trim(b.String(), "_"))
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
