package floorplan

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// OCR turns an image on disk into text.
type OCR interface {
	Text(ctx context.Context, imagePath string) (string, error)
}

// TesseractOCR shells out to the tesseract CLI.
type TesseractOCR struct {
	Path string
	Lang string
}

func NewTesseractOCR(path string) *TesseractOCR {
	if path == "" {
		path = "tesseract"
	}
	return &TesseractOCR{Path: path, Lang: "eng"}
}

func (t *TesseractOCR) Text(ctx context.Context, imagePath string) (string, error) {
	args := []string{imagePath, "stdout"}
	if t.Lang != "" {
		args = append(args, "-l", t.Lang)
	}

	cmd := exec.CommandContext(ctx, t.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("tesseract %s: %w: %s", imagePath, err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}
