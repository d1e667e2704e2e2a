package render

import (
	"fmt"
	"image"
	"math"

	"github.com/gen2brain/go-fitz"

	"flipbook/pkg/domain"
)

const (
	DefaultOversample = 2.0
	DefaultMaxWidth   = 1600
	pointsPerInch     = 72.0
)

// Raster is one rendered page. Image carries the oversampled pixels while
// Width and Height are the display dimensions recorded for the page.
type Raster struct {
	Image  image.Image
	Width  int
	Height int
}

// Document is an opened PDF that renders pages by 1-based index.
type Document interface {
	NumPages() int
	RenderPage(pageNumber int) (Raster, error)
	Close() error
}

type RasterOptions struct {
	Oversample float64
	MaxWidth   int
}

// FitzRasterizer renders PDF pages through MuPDF.
type FitzRasterizer struct {
	oversample float64
	maxWidth   int
}

func NewFitzRasterizer(opts RasterOptions) *FitzRasterizer {
	if opts.Oversample <= 0 {
		opts.Oversample = DefaultOversample
	}
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = DefaultMaxWidth
	}
	return &FitzRasterizer{oversample: opts.Oversample, maxWidth: opts.MaxWidth}
}

// Open parses the PDF once; the caller closes the returned Document.
func (r *FitzRasterizer) Open(data []byte) (Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", domain.ErrRasterization)
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %w", domain.ErrRasterization, err)
	}
	return &fitzDocument{doc: doc, oversample: r.oversample, maxWidth: float64(r.maxWidth)}, nil
}

type fitzDocument struct {
	doc        *fitz.Document
	oversample float64
	maxWidth   float64
}

func (d *fitzDocument) NumPages() int {
	return d.doc.NumPage()
}

func (d *fitzDocument) RenderPage(pageNumber int) (Raster, error) {
	if pageNumber < 1 || pageNumber > d.doc.NumPage() {
		return Raster{}, fmt.Errorf("%w: page %d out of range [1, %d]", domain.ErrRasterization, pageNumber, d.doc.NumPage())
	}
	bound, err := d.doc.Bound(pageNumber - 1)
	if err != nil {
		return Raster{}, fmt.Errorf("%w: page %d bounds: %w", domain.ErrRasterization, pageNumber, err)
	}
	if bound.Dx() <= 0 || bound.Dy() <= 0 {
		return Raster{}, fmt.Errorf("%w: page %d has empty bounds", domain.ErrRasterization, pageNumber)
	}
	scale := renderScale(float64(bound.Dx()), d.oversample, d.maxWidth)
	img, err := d.doc.ImageDPI(pageNumber-1, pointsPerInch*scale)
	if err != nil {
		return Raster{}, fmt.Errorf("%w: render page %d: %w", domain.ErrRasterization, pageNumber, err)
	}
	width, height := displaySize(bound, scale, d.oversample)
	return Raster{Image: img, Width: width, Height: height}, nil
}

func (d *fitzDocument) Close() error {
	return d.doc.Close()
}

// renderScale returns the zoom applied to a page of boundWidth points so the
// oversampled raster stays within maxWidth*oversample pixels.
func renderScale(boundWidth, oversample, maxWidth float64) float64 {
	scale := oversample
	if limit := maxWidth * oversample; boundWidth*scale > limit {
		scale = limit / boundWidth
	}
	return scale
}

func displaySize(bound image.Rectangle, scale, oversample float64) (int, int) {
	w := int(math.Round(float64(bound.Dx()) * scale / oversample))
	h := int(math.Round(float64(bound.Dy()) * scale / oversample))
	return max(w, 1), max(h, 1)
}
