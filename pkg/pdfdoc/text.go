package pdfdoc

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractText returns the normalized text of every page that has any, keyed
// by 1-based page number. pdftotext is preferred when installed since it
// copes better with CJK and complex layouts; otherwise the pure Go reader
// is used.
func ExtractText(ctx context.Context, data []byte) (map[int]string, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty PDF content")
	}
	if texts, err := extractWithPdftotext(ctx, data); err == nil && len(texts) > 0 {
		return texts, nil
	}
	return extractWithGoLib(data)
}

func extractWithPdftotext(ctx context.Context, data []byte) (map[int]string, error) {
	bin, err := exec.LookPath("pdftotext")
	if err != nil {
		return nil, fmt.Errorf("pdftotext not found: %w", err)
	}
	tmp, err := os.CreateTemp("", "flipbook-*.pdf")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	out, err := exec.CommandContext(ctx, bin, "-layout", "-enc", "UTF-8", tmp.Name(), "-").Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext failed: %w", err)
	}
	// pdftotext terminates every page with a form feed.
	texts := make(map[int]string)
	for i, part := range strings.Split(string(out), "\f") {
		if text := normalizeText(part); text != "" {
			texts[i+1] = text
		}
	}
	return texts, nil
}

func extractWithGoLib(data []byte) (map[int]string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	texts := make(map[int]string)
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = normalizeText(text); text != "" {
			texts[i] = text
		}
	}
	return texts, nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}
