package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
)

// FileBackend stores blobs on the local file system, one subdirectory per
// content type.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file backend rooted at baseDir, creating the
// per-type subdirectories as needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	for _, ct := range []interfaces.ContentType{interfaces.SealedChunkType, interfaces.RecordType} {
		if err := os.MkdirAll(filepath.Join(baseDir, ct.String()), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", ct, err)
		}
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

func (b *FileBackend) path(id interfaces.ContentID, contentType interfaces.ContentType) string {
	return filepath.Join(b.baseDir, contentType.String(), id.String())
}

// Fetch retrieves a blob by content ID and type. Returns ErrContentNotFound
// if no such file exists.
func (b *FileBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	data, err := os.ReadFile(b.path(id, contentType))
	if os.IsNotExist(err) {
		return nil, interfaces.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}

	b.log.Debug("Fetched content from file", slog.String("contentID", id.String()), slog.Int("size", len(data)))
	return data, nil
}

// Store saves a blob and returns its content ID.
func (b *FileBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)

	if err := os.WriteFile(b.path(id, contentType), data, 0644); err != nil {
		return interfaces.ContentID{}, fmt.Errorf("failed to write blob: %w", err)
	}

	b.log.Debug("Stored content in file", slog.String("contentID", id.String()), slog.Int("size", len(data)))
	return id, nil
}

// Available checks that the base directory is accessible.
func (b *FileBackend) Available(ctx context.Context) bool {
	info, err := os.Stat(b.baseDir)
	return err == nil && info.IsDir()
}

// Name returns an identifier for logging.
func (b *FileBackend) Name() string {
	return "file"
}

// LocationURI returns the URI identifying this backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}
