package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
)

// IPFSBackend stores blobs in an IPFS node's mutable file system, addressed
// by their SHA-256 content ID rather than the IPFS CID so all backends agree
// on identifiers.
type IPFSBackend struct {
	shell       *shell.Shell
	rootDir     string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates an IPFS backend connected to the node's API at
// host:port. Blobs live in the node's MFS under rootDir.
func NewIPFSBackend(host, port, rootDir string, log *slog.Logger) (*IPFSBackend, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)
	rootDir = "/" + strings.Trim(rootDir, "/")

	return &IPFSBackend{
		shell:       shell.NewShell(apiURL),
		rootDir:     rootDir,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s", apiURL, rootDir),
	}, nil
}

func (b *IPFSBackend) mfsPath(id interfaces.ContentID, contentType interfaces.ContentType) string {
	return path.Join(b.rootDir, contentType.String(), id.String())
}

// Fetch retrieves a blob by content ID and type. Returns
// ErrBackendUnavailable if the node is not reachable.
func (b *IPFSBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	if !b.shell.IsUp() {
		return nil, interfaces.ErrBackendUnavailable
	}

	reader, err := b.shell.FilesRead(ctx, b.mfsPath(id, contentType))
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "no link named") {
			return nil, interfaces.ErrContentNotFound
		}
		return nil, fmt.Errorf("failed to read from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read IPFS content: %w", err)
	}

	b.log.Debug("Fetched content from IPFS", slog.String("contentID", id.String()), slog.Int("size", len(data)))
	return data, nil
}

// Store saves a blob and returns its content ID.
func (b *IPFSBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)

	if !b.shell.IsUp() {
		return interfaces.ContentID{}, interfaces.ErrBackendUnavailable
	}

	err := b.shell.FilesWrite(ctx, b.mfsPath(id, contentType), bytes.NewReader(data),
		shell.FilesWrite.Create(true), shell.FilesWrite.Parents(true), shell.FilesWrite.Truncate(true))
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("failed to write to IPFS: %w", err)
	}

	b.log.Debug("Stored content in IPFS", slog.String("contentID", id.String()), slog.Int("size", len(data)))
	return id, nil
}

// Available checks that the IPFS node is reachable.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns an identifier for logging.
func (b *IPFSBackend) Name() string {
	return "ipfs"
}

// LocationURI returns the URI identifying this backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}
