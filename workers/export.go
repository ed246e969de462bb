package workers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"zoopla_fetcher/logging"
	"zoopla_fetcher/models"
	"zoopla_fetcher/storage"
)

// S3Uploader stores an export under key in object storage.
type S3Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
}

// ExportWorker writes each finished run to a CSV file and optionally uploads
// it to object storage under exports/<query>/<run id>.csv.
type ExportWorker struct {
	dir      string
	uploader S3Uploader
}

func NewExportWorker(dir string, uploader S3Uploader) *ExportWorker {
	if uploader == nil {
		uploader = NewNoOpUploader()
	}
	return &ExportWorker{dir: dir, uploader: uploader}
}

func (w *ExportWorker) Name() string {
	return "export"
}

func (w *ExportWorker) Publish(ctx context.Context, result *models.RunResult) error {
	path, err := storage.ExportRun(w.dir, result)
	if err != nil {
		return err
	}
	logging.Infof("export", "run %s written to %s", result.Run.ID, path)

	key := ObjectKey(result.Run)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := w.uploader.Upload(ctx, key, f, "text/csv"); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func ObjectKey(run *models.QueryRun) string {
	name := run.QueryName
	if name == "" {
		name = "adhoc"
	}
	return filepath.ToSlash(filepath.Join("exports", name, run.ID.String()+".csv"))
}

// NoOpUploader discards exports when no bucket is configured.
type NoOpUploader struct{}

func (u *NoOpUploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	_, err := io.Copy(io.Discard, data)
	return err
}

func NewNoOpUploader() *NoOpUploader {
	return &NoOpUploader{}
}
