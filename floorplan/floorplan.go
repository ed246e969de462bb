// Package floorplan recovers a property's total square footage from its
// floor plan images via OCR.
package floorplan

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"

	"zoopla_fetcher/numeric"
)

// Tolerates OCR noise between the number and the unit ("s@" for "sq", stray dots and commas).
var sqFeetPattern = regexp.MustCompile(`[0-9.,]+[sq|.\s|uare@,]+ft|[0-9.,]+[sq|.\s|uare@,]+feet`)

type Extractor struct {
	client  *http.Client
	ocr     OCR
	tempDir string
}

func NewExtractor(client *http.Client, ocr OCR) *Extractor {
	return &Extractor{client: client, ocr: ocr}
}

// SetTempDir overrides where downloaded images are staged for OCR.
func (e *Extractor) SetTempDir(dir string) {
	e.tempDir = dir
}

// SqFootage returns the largest square footage found on the image at
// imageURL. Any download or OCR failure is logged and reported as not found.
func (e *Extractor) SqFootage(ctx context.Context, imageURL string) (float64, bool) {
	text, err := e.TextFromImage(ctx, imageURL)
	if err != nil {
		log.Printf("[warn] floorplan: %s: %v", imageURL, err)
		return 0, false
	}
	return SqFootageFromText(text)
}

// TextFromImage downloads the image to a temp file, runs OCR over it and
// returns the lowercased text. The temp file is always removed.
func (e *Extractor) TextFromImage(ctx context.Context, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status: %d", resp.StatusCode)
	}

	ext := guessExtension(imageURL, resp.Header.Get("Content-Type"))
	tmp, err := os.CreateTemp(e.tempDir, "floorplan-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}
	log.Printf("[info] floorplan: downloaded %s (%s)", imageURL, humanize.Bytes(uint64(n)))

	text, err := e.ocr.Text(ctx, tmp.Name())
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return strings.ToLower(text), nil
}

// SqFootageFromText returns the maximum number found in any square-feet
// phrase of the OCR text.
func SqFootageFromText(text string) (float64, bool) {
	var best float64
	found := false
	for _, match := range sqFeetPattern.FindAllString(text, -1) {
		for _, n := range numeric.NumbersFromString(match) {
			if !found || n > best {
				best = n
				found = true
			}
		}
	}
	return best, found
}

// guessExtension takes the extension from the URL path, falling back to the
// response content type.
func guessExtension(rawURL, contentType string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	if ext := strings.ToLower(path.Ext(p)); ext != "" {
		return ext
	}

	switch contentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
