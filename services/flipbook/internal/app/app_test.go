package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"flipbook/internal/pdftest"
	"flipbook/internal/util"
	"flipbook/pkg/domain"
	"flipbook/pkg/queue"
	"flipbook/pkg/storage"
	"flipbook/pkg/store"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queue.JobStatus
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, documentID, kind string) (queue.JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return queue.JobStatus{}, q.err
	}
	job := queue.JobStatus{ID: "job-" + documentID + "-" + kind, DocumentID: documentID, Kind: kind, Status: queue.StatusQueued}
	q.jobs = append(q.jobs, job)
	return job, nil
}

func (q *fakeQueue) GetJob(_ context.Context, jobID string) (queue.JobStatus, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.jobs {
		if job.ID == jobID {
			return job, true, nil
		}
	}
	return queue.JobStatus{}, false, nil
}

type harness struct {
	app     *App
	store   *store.MemoryStore
	objects *storage.FileStore
	queue   *fakeQueue
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	objects, err := storage.NewFileStore(t.TempDir(), "http://cdn.test/uploads")
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	h := &harness{store: store.NewMemoryStore(), objects: objects, queue: &fakeQueue{}}
	h.app, err = New(Config{Store: h.store, Objects: objects, Queue: h.queue, MaxUploadBytes: 1 << 20})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return h
}

func (h *harness) upload(t *testing.T, title string) UploadResult {
	t.Helper()
	res, err := h.app.UploadDocument(context.Background(), UploadRequest{
		Title:       title,
		Filename:    "Q3 Report (final).pdf",
		ContentType: "application/pdf",
		Data:        pdftest.Letter(2),
	})
	if err != nil {
		t.Fatalf("upload %q: %v", title, err)
	}
	return res
}

func (h *harness) keys(t *testing.T) []string {
	t.Helper()
	keys, err := h.objects.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list objects: %v", err)
	}
	return keys
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Q3 Report":          "q3-report",
		"  Hello,  World!! ": "hello-world",
		"Notes":              "notes",
		"Ünïcode Ωmega 2024": "n-code-mega-2024",
		"!!!":                fallbackSlug,
		"":                   fallbackSlug,
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Q3 Report (final)": "q3_report_final",
		"already-clean.v2":  "already-clean.v2",
		"  ":                "",
		"日本語":               "",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEstimateSeconds(t *testing.T) {
	cases := map[int64]int{1: 3, 2 << 20: 3, 7 << 20: 4, 9<<20 + 1: 5}
	for size, want := range cases {
		if got := estimateSeconds(size); got != want {
			t.Fatalf("estimateSeconds(%d) = %d, want %d", size, got, want)
		}
	}
}

func TestUploadCreatesProcessingDocumentAndJob(t *testing.T) {
	h := newHarness(t)
	res := h.upload(t, "Q3 Report")

	doc := res.Document
	if doc.Slug != "q3-report" || doc.Status != domain.StatusProcessing || doc.ProcessingProgress != 0 {
		t.Fatalf("document = %+v", doc)
	}
	if !strings.HasPrefix(doc.OriginalKey, "originals/q3_report_final-") || !strings.HasSuffix(doc.OriginalKey, ".pdf") {
		t.Fatalf("original key = %q", doc.OriginalKey)
	}
	if doc.OriginalFileURL != "http://cdn.test/uploads/"+doc.OriginalKey {
		t.Fatalf("original url = %q", doc.OriginalFileURL)
	}
	if doc.SourceInfo["declared_pages"] != "2" {
		t.Fatalf("source info = %v", doc.SourceInfo)
	}
	if res.EstimatedSeconds != 3 {
		t.Fatalf("estimated seconds = %d, want 3", res.EstimatedSeconds)
	}
	if len(h.queue.jobs) != 1 || h.queue.jobs[0].Kind != queue.KindProcess || h.queue.jobs[0].DocumentID != doc.ID {
		t.Fatalf("jobs = %+v", h.queue.jobs)
	}
	if keys := h.keys(t); len(keys) != 1 || keys[0] != doc.OriginalKey {
		t.Fatalf("stored keys = %v", keys)
	}
}

func TestUploadSuffixesDuplicateSlugs(t *testing.T) {
	h := newHarness(t)
	want := []string{"notes", "notes-1", "notes-2"}
	for _, slug := range want {
		if got := h.upload(t, "Notes").Document.Slug; got != slug {
			t.Fatalf("slug = %q, want %q", got, slug)
		}
	}
}

type racingStore struct {
	*store.MemoryStore
	raced bool
}

// SlugExists reports the base slug as free once even though a concurrent
// upload already holds it.
func (r *racingStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	if !r.raced {
		r.raced = true
		return false, nil
	}
	return r.MemoryStore.SlugExists(ctx, slug)
}

func TestUploadRetriesSlugAfterUniqueConflict(t *testing.T) {
	h := newHarness(t)
	h.upload(t, "Notes")

	rs := &racingStore{MemoryStore: h.store}
	h.app.store = rs
	if got := h.upload(t, "Notes").Document.Slug; got != "notes-1" {
		t.Fatalf("slug = %q, want notes-1", got)
	}
}

func TestUploadValidation(t *testing.T) {
	cases := []struct {
		name string
		req  UploadRequest
		want string
	}{
		{name: "missing title", req: UploadRequest{Title: "  ", ContentType: "application/pdf", Data: pdftest.Letter(1)}, want: "title is required"},
		{name: "empty file", req: UploadRequest{Title: "x", ContentType: "application/pdf"}, want: "file is required"},
		{name: "wrong type", req: UploadRequest{Title: "x", ContentType: "image/png", Data: pdftest.Letter(1)}, want: "only PDF files"},
		{name: "sniffed text", req: UploadRequest{Title: "x", Data: []byte("plain text pretending")}, want: "only PDF files"},
		{name: "too large", req: UploadRequest{Title: "x", ContentType: "application/pdf", Data: make([]byte, 1<<20+1)}, want: "file too large"},
		{name: "corrupt pdf", req: UploadRequest{Title: "x", ContentType: "application/pdf", Data: []byte("%PDF-1.4\ngarbage")}, want: "unreadable PDF"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.app.UploadDocument(context.Background(), tc.req)
			if !errors.Is(err, domain.ErrValidation) || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("UploadDocument() error = %v, want validation containing %q", err, tc.want)
			}
			if keys := h.keys(t); len(keys) != 0 {
				t.Fatalf("stored keys = %v, want none", keys)
			}
			if len(h.queue.jobs) != 0 {
				t.Fatalf("jobs = %+v, want none", h.queue.jobs)
			}
		})
	}
}

func TestUploadSniffsOctetStream(t *testing.T) {
	h := newHarness(t)
	_, err := h.app.UploadDocument(context.Background(), UploadRequest{
		Title:       "Sniffed",
		Filename:    "sniffed.pdf",
		ContentType: "application/octet-stream",
		Data:        pdftest.Letter(1),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
}

func TestUploadEnqueueFailureMarksError(t *testing.T) {
	h := newHarness(t)
	h.queue.err = errors.New("redis down")

	_, err := h.app.UploadDocument(context.Background(), UploadRequest{
		Title: "Broken", Filename: "b.pdf", ContentType: "application/pdf", Data: pdftest.Letter(1),
	})
	if err == nil {
		t.Fatal("expected enqueue error")
	}
	docs, _, _ := h.store.ListDocuments(context.Background(), domain.DocumentFilter{})
	if len(docs) != 1 || docs[0].Status != domain.StatusError {
		t.Fatalf("documents = %+v, want one in error", docs)
	}
	if !strings.Contains(domain.Deref(docs[0].ErrorMessage), "redis down") {
		t.Fatalf("error message = %q", domain.Deref(docs[0].ErrorMessage))
	}
}

func TestGetPublishedHidesOtherStates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.upload(t, "Q3 Report").Document

	if _, err := h.app.GetPublished(ctx, doc.Slug); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetPublished(processing) error = %v, want ErrNotFound", err)
	}
	pages := []domain.Page{
		{PageNumber: 2, ImageURL: "u2", Width: 612, Height: 792},
		{PageNumber: 1, ImageURL: "u1", Width: 612, Height: 792},
	}
	if err := h.store.ReplacePages(ctx, doc.ID, pages); err != nil {
		t.Fatalf("replace pages: %v", err)
	}
	if err := h.store.PublishDocument(ctx, doc.ID, domain.Publication{TotalPages: 2, ThumbnailURL: "thumb"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got, err := h.app.GetPublished(ctx, doc.Slug)
	if err != nil {
		t.Fatalf("get published: %v", err)
	}
	if len(got.Pages) != 2 || got.Pages[0].PageNumber != 1 || got.Pages[1].PageNumber != 2 {
		t.Fatalf("pages = %+v, want ascending", got.Pages)
	}

	draft := domain.StatusDraft
	if _, err := h.app.UpdateDocument(ctx, doc.ID, domain.DocumentUpdate{Status: &draft}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := h.app.GetPublished(ctx, doc.Slug); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetPublished(draft) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateDocumentRejectsEmptyPatch(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, "Notes").Document

	_, err := h.app.UpdateDocument(context.Background(), doc.ID, domain.DocumentUpdate{})
	if !errors.Is(err, domain.ErrValidation) || err.Error() != "no valid fields to update" {
		t.Fatalf("UpdateDocument(empty) error = %v", err)
	}
	title := "Renamed"
	got, err := h.app.UpdateDocument(context.Background(), doc.ID, domain.DocumentUpdate{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Title != "Renamed" || got.Slug != "notes" {
		t.Fatalf("document = %+v, want renamed with stable slug", got)
	}
	if _, err := h.app.UpdateDocument(context.Background(), "missing", domain.DocumentUpdate{Title: &title}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("UpdateDocument(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListDocumentsClampsLimit(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.upload(t, "Notes")
	}
	docs, total, err := h.app.ListDocuments(context.Background(), domain.DocumentFilter{Limit: 1000})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(docs) != 3 {
		t.Fatalf("list = %d docs, total %d", len(docs), total)
	}
	if _, _, err := h.app.ListDocuments(context.Background(), domain.DocumentFilter{Offset: -1}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ListDocuments(offset -1) error = %v, want ErrValidation", err)
	}
}

func TestDeleteDocumentRemovesBlobsAndRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.upload(t, "Q3 Report").Document
	other := h.upload(t, "Notes").Document
	for _, key := range []string{doc.ID + "/page-0001.jpg", doc.ID + "/thumbnail.jpg", other.ID + "/page-0001.jpg"} {
		if err := h.objects.Put(ctx, key, strings.NewReader("img"), 3, "image/jpeg"); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	if err := h.app.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, key := range h.keys(t) {
		if strings.HasPrefix(key, doc.ID) || key == doc.OriginalKey {
			t.Fatalf("blob %s survived delete", key)
		}
	}
	if _, ok, _ := h.store.GetDocument(ctx, doc.ID); ok {
		t.Fatal("document row survived delete")
	}
	if _, ok, _ := h.store.GetDocument(ctx, other.ID); !ok {
		t.Fatal("unrelated document was deleted")
	}
}

func TestDeleteMissingDocumentHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, "Notes").Document
	before := h.keys(t)

	if err := h.app.DeleteDocument(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("DeleteDocument(missing) error = %v, want ErrNotFound", err)
	}
	if after := h.keys(t); len(after) != len(before) {
		t.Fatalf("keys changed: %v -> %v", before, after)
	}
	if _, ok, _ := h.store.GetDocument(context.Background(), doc.ID); !ok {
		t.Fatal("document deleted unexpectedly")
	}
}

type brokenObjects struct {
	*storage.FileStore
}

func (b brokenObjects) Delete(context.Context, string) error {
	return errors.New("bucket unavailable")
}

func (b brokenObjects) List(context.Context, string) ([]string, error) {
	return nil, errors.New("bucket unavailable")
}

func TestDeleteToleratesStorageFailures(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, "Notes").Document
	h.app.objects = brokenObjects{FileStore: h.objects}

	if err := h.app.DeleteDocument(context.Background(), doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := h.store.GetDocument(context.Background(), doc.ID); ok {
		t.Fatal("document row survived delete")
	}
}

func TestReprocessResetsAndEnqueues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.upload(t, "Notes").Document
	if err := h.store.MarkError(ctx, doc.ID, "boom"); err != nil {
		t.Fatalf("mark error: %v", err)
	}

	job, err := h.app.Reprocess(ctx, doc.ID)
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if job.Kind != queue.KindProcess {
		t.Fatalf("job kind = %q", job.Kind)
	}
	status, err := h.app.GetStatus(ctx, doc.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != domain.StatusProcessing || status.Progress != 0 || status.ErrorMessage != nil {
		t.Fatalf("status = %+v, want reset", status)
	}
	if _, err := h.app.Reprocess(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Reprocess(missing) error = %v, want ErrNotFound", err)
	}
}

func TestExtractTextRequiresPages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.upload(t, "Notes").Document

	if _, err := h.app.ExtractText(ctx, doc.ID); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ExtractText(no pages) error = %v, want ErrValidation", err)
	}
	if err := h.store.PublishDocument(ctx, doc.ID, domain.Publication{TotalPages: 2}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	job, err := h.app.ExtractText(ctx, doc.ID)
	if err != nil {
		t.Fatalf("extract text: %v", err)
	}
	got, err := h.app.GetJob(ctx, job.ID)
	if err != nil || got.Kind != queue.KindExtractText {
		t.Fatalf("GetJob() = %+v, %v", got, err)
	}
	_, err = h.app.GetJob(ctx, "nope")
	if !errors.Is(err, domain.ErrNotFound) || !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("GetJob(missing) error = %v, want ErrNotFound and ErrJobNotFound", err)
	}
}

type markErrorFails struct {
	*store.MemoryStore
}

func (markErrorFails) MarkError(context.Context, string, string) error {
	return errors.New("database is read-only")
}

func TestReprocessEnqueueFailureLogsMarkError(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, "Notes").Document
	h.queue.err = errors.New("redis unavailable")
	a, err := New(Config{Store: markErrorFails{MemoryStore: h.store}, Objects: h.objects, Queue: h.queue})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	var logs bytes.Buffer
	ctx := util.ContextWithLogger(context.Background(), slog.New(slog.NewTextHandler(&logs, nil)))

	_, err = a.Reprocess(ctx, doc.ID)
	if err == nil || !strings.Contains(err.Error(), "redis unavailable") {
		t.Fatalf("Reprocess() error = %v, want enqueue failure", err)
	}
	out := logs.String()
	if !strings.Contains(out, "mark document error failed") || !strings.Contains(out, "database is read-only") {
		t.Fatalf("logs = %q, want mark error failure", out)
	}
}
