// Package pdfdoc reads PDF structure and text without rendering.
package pdfdoc

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"flipbook/pkg/domain"
)

const pdfMagic = "%PDF-"

// Info is what upload validation learns about a PDF.
type Info struct {
	PageCount int
	Version   string
}

// Inspect parses the PDF with relaxed validation and reports its page count.
// Unreadable or page-less documents are validation errors.
func Inspect(data []byte) (Info, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data[:min(len(data), 1024)], "\x00\t\r\n "), []byte(pdfMagic)) {
		return Info{}, domain.Invalid("file is not a PDF document")
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	count, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return Info{}, &domain.ValidationError{Message: fmt.Sprintf("unreadable PDF: %v", err)}
	}
	if count < 1 {
		return Info{}, domain.Invalid("PDF has no pages")
	}
	return Info{PageCount: count, Version: headerVersion(data)}, nil
}

func headerVersion(data []byte) string {
	idx := bytes.Index(data[:min(len(data), 1024)], []byte(pdfMagic))
	if idx < 0 {
		return ""
	}
	rest := data[idx+len(pdfMagic):]
	end := 0
	for end < len(rest) && end < 4 && (rest[end] == '.' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	return string(rest[:end])
}
