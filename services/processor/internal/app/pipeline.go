package app

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"flipbook/internal/util"
	"flipbook/pkg/domain"
	"flipbook/pkg/render"
	"flipbook/pkg/storage"
	"flipbook/pkg/store"
)

// Rasterizer opens PDFs for page rendering.
type Rasterizer interface {
	Open(data []byte) (render.Document, error)
}

// Encoder produces the stored page and thumbnail images.
type Encoder interface {
	EncodePage(img image.Image) ([]byte, error)
	Thumbnail(encoded []byte) ([]byte, error)
}

const (
	progressPagesDone = 90
	progressPersisted = 95
	progressThumbnail = 98
	markErrorTimeout  = 10 * time.Second
)

// Pipeline turns an uploaded PDF into published page images.
type Pipeline struct {
	store       store.Store
	objects     storage.ObjectStore
	rasterizer  Rasterizer
	encoder     Encoder
	httpClient  *http.Client
	extractText TextExtractor // nil means pdfdoc.ExtractText
	now         func() time.Time
}

func NewPipeline(metadata store.Store, objects storage.ObjectStore, rasterizer Rasterizer, encoder Encoder) *Pipeline {
	return &Pipeline{
		store:      metadata,
		objects:    objects,
		rasterizer: rasterizer,
		encoder:    encoder,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		now:        time.Now,
	}
}

func pageKey(documentID string, pageNumber int) string {
	return fmt.Sprintf("%s/page-%04d.jpg", documentID, pageNumber)
}

func thumbnailKey(documentID string) string {
	return documentID + "/thumbnail.jpg"
}

// Run processes one document. Documents that are gone, published or in
// draft are skipped. A failed run leaves the document in error with the
// failure message and returns the error so the queue can retry.
func (p *Pipeline) Run(ctx context.Context, documentID string) error {
	logger := util.LoggerFromContext(ctx).With("document_id", documentID)
	ctx = util.ContextWithLogger(ctx, logger)

	doc, ok, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("document not found, dropping job")
		return nil
	}
	switch doc.Status {
	case domain.StatusPublished, domain.StatusDraft:
		logger.Info("document already finalized, skipping", "status", doc.Status)
		return nil
	case domain.StatusError:
		if err := p.store.BeginProcessing(ctx, doc.ID); err != nil {
			return err
		}
	}

	start := p.now()
	if err := p.process(ctx, doc); err != nil {
		// the job context may already be past its deadline
		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markErrorTimeout)
		defer cancel()
		if markErr := p.store.MarkError(markCtx, doc.ID, err.Error()); markErr != nil {
			logger.Error("mark document error failed", "err", markErr)
		}
		logger.Error("processing failed", "err", err, "duration_ms", p.now().Sub(start).Milliseconds())
		return err
	}
	logger.Info("document published", "duration_ms", p.now().Sub(start).Milliseconds())
	return nil
}

func (p *Pipeline) process(ctx context.Context, doc domain.Document) error {
	logger := util.LoggerFromContext(ctx)
	progress := &progressReporter{store: p.store, documentID: doc.ID, last: doc.ProcessingProgress}
	if doc.Status == domain.StatusError {
		progress.last = 0
	}

	data, err := p.fetchOriginal(ctx, doc)
	if err != nil {
		return err
	}
	pdf, err := p.rasterizer.Open(data)
	if err != nil {
		return err
	}
	defer pdf.Close()

	total := pdf.NumPages()
	if total <= 0 {
		return fmt.Errorf("%w: document has no pages", domain.ErrRasterization)
	}
	logger.Info("processing started", "pages", total, "bytes", len(data))

	pages := make([]domain.Page, 0, total)
	var firstPage []byte
	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("page %d: %w", n, err)
		}
		raster, err := pdf.RenderPage(n)
		if err != nil {
			return err
		}
		encoded, err := p.encoder.EncodePage(raster.Image)
		if err != nil {
			return fmt.Errorf("page %d: %w", n, err)
		}
		key := pageKey(doc.ID, n)
		if err := p.objects.Put(ctx, key, bytes.NewReader(encoded), int64(len(encoded)), render.ContentTypeJPEG); err != nil {
			return err
		}
		if n == 1 {
			firstPage = encoded
		}
		pages = append(pages, domain.Page{
			DocumentID: doc.ID,
			PageNumber: n,
			ImageURL:   p.objects.PublicURL(key),
			Width:      raster.Width,
			Height:     raster.Height,
		})
		if err := progress.report(ctx, n*progressPagesDone/total); err != nil {
			return err
		}
	}

	if err := p.store.ReplacePages(ctx, doc.ID, pages); err != nil {
		return err
	}
	if err := progress.report(ctx, progressPersisted); err != nil {
		return err
	}

	thumbnailURL, err := p.storeThumbnail(ctx, doc.ID, firstPage)
	if err != nil {
		logger.Warn("thumbnail generation failed, publishing without thumbnail", "err", err)
	}
	if err := progress.report(ctx, progressThumbnail); err != nil {
		return err
	}

	return p.store.PublishDocument(ctx, doc.ID, domain.Publication{
		TotalPages:   total,
		ThumbnailURL: thumbnailURL,
		PublishedAt:  p.now().UTC(),
	})
}

func (p *Pipeline) storeThumbnail(ctx context.Context, documentID string, firstPage []byte) (string, error) {
	thumb, err := p.encoder.Thumbnail(firstPage)
	if err != nil {
		return "", err
	}
	key := thumbnailKey(documentID)
	if err := p.objects.Put(ctx, key, bytes.NewReader(thumb), int64(len(thumb)), render.ContentTypeJPEG); err != nil {
		return "", err
	}
	return p.objects.PublicURL(key), nil
}

// fetchOriginal reads the uploaded PDF from object storage, or over HTTP for
// documents that only carry a URL.
func (p *Pipeline) fetchOriginal(ctx context.Context, doc domain.Document) ([]byte, error) {
	if doc.OriginalKey != "" {
		rc, err := p.objects.Get(ctx, doc.OriginalKey)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("%w: read original %s: %w", domain.ErrStorage, doc.OriginalKey, err)
		}
		return data, nil
	}
	if doc.OriginalFileURL == "" {
		return nil, fmt.Errorf("%w: document has no original file", domain.ErrStorage)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.OriginalFileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", domain.ErrStorage, err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch original: %w", domain.ErrStorage, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: fetch original: status %d", domain.ErrStorage, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read original: %w", domain.ErrStorage, err)
	}
	return data, nil
}

// progressReporter writes progress only when it moves forward.
type progressReporter struct {
	store      store.Store
	documentID string
	last       int
}

func (r *progressReporter) report(ctx context.Context, value int) error {
	if value <= r.last {
		return nil
	}
	if err := r.store.SetProgress(ctx, r.documentID, value); err != nil {
		return err
	}
	r.last = value
	return nil
}
