package render

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	"golang.org/x/image/draw"

	"flipbook/pkg/domain"
)

const ContentTypeJPEG = "image/jpeg"

// Thumbnail resize policies.
const (
	ThumbnailFit   = "fit"
	ThumbnailCover = "cover"
)

type EncoderOptions struct {
	Quality         int
	MaxWidth        int
	ThumbWidth      int
	ThumbHeight     int
	ThumbQuality    int
	ThumbnailPolicy string
}

// Encoder turns rasters into the JPEG bytes stored for pages and thumbnails.
type Encoder struct {
	quality      int
	maxWidth     int
	thumbWidth   int
	thumbHeight  int
	thumbQuality int
	policy       string
}

func NewEncoder(opts EncoderOptions) *Encoder {
	e := &Encoder{
		quality:      clampQuality(opts.Quality, 85),
		maxWidth:     opts.MaxWidth,
		thumbWidth:   opts.ThumbWidth,
		thumbHeight:  opts.ThumbHeight,
		thumbQuality: clampQuality(opts.ThumbQuality, 80),
		policy:       strings.ToLower(strings.TrimSpace(opts.ThumbnailPolicy)),
	}
	if e.maxWidth <= 0 {
		e.maxWidth = int(DefaultMaxWidth * DefaultOversample)
	}
	if e.thumbWidth <= 0 {
		e.thumbWidth = 300
	}
	if e.thumbHeight <= 0 {
		e.thumbHeight = 400
	}
	if e.policy != ThumbnailCover {
		e.policy = ThumbnailFit
	}
	return e
}

func clampQuality(q, fallback int) int {
	if q <= 0 {
		return fallback
	}
	return min(q, 100)
}

// EncodePage encodes a page raster, downscaling it first when it is wider
// than the configured cap.
func (e *Encoder) EncodePage(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil page image", domain.ErrEncoding)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty page image", domain.ErrEncoding)
	}
	if b.Dx() > e.maxWidth {
		h := max(b.Dy()*e.maxWidth/b.Dx(), 1)
		img = scale(img, b, e.maxWidth, h)
	}
	return encodeJPEG(img, e.quality)
}

// Thumbnail decodes an encoded page image and shrinks it into the thumbnail
// box. Images smaller than the box keep their size.
func (e *Encoder) Thumbnail(encoded []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: decode thumbnail source: %w", domain.ErrEncoding, err)
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty thumbnail source", domain.ErrEncoding)
	}
	var out image.Image
	switch e.policy {
	case ThumbnailCover:
		crop := coverCrop(b, e.thumbWidth, e.thumbHeight)
		w, h := fitBox(crop.Dx(), crop.Dy(), e.thumbWidth, e.thumbHeight)
		out = scale(src, crop, w, h)
	default:
		w, h := fitBox(b.Dx(), b.Dy(), e.thumbWidth, e.thumbHeight)
		out = scale(src, b, w, h)
	}
	return encodeJPEG(out, e.thumbQuality)
}

// fitBox scales (w, h) down to fit inside the box, preserving aspect ratio.
func fitBox(w, h, boxW, boxH int) (int, int) {
	if w <= boxW && h <= boxH {
		return w, h
	}
	if w*boxH > h*boxW {
		return boxW, max(h*boxW/w, 1)
	}
	return max(w*boxH/h, 1), boxH
}

// coverCrop returns the centered region of b with the box's aspect ratio.
func coverCrop(b image.Rectangle, boxW, boxH int) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	if w*boxH > h*boxW {
		cw := max(h*boxW/boxH, 1)
		x0 := b.Min.X + (w-cw)/2
		return image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
	}
	ch := max(w*boxH/boxW, 1)
	y0 := b.Min.Y + (h-ch)/2
	return image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
}

func scale(src image.Image, from image.Rectangle, w, h int) image.Image {
	if from == src.Bounds() && w == from.Dx() && h == from.Dy() {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, from, draw.Src, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: jpeg: %w", domain.ErrEncoding, err)
	}
	return buf.Bytes(), nil
}
