package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
)

// Factory creates storage backends from URI strings and aggregates them into
// multi-backend configurations for redundant storage.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a backend factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// StorageBackendFor creates a storage backend from a location URI of the form
// [scheme]://[auth@]host[:port][/path][?params].
//
// Supported schemes:
//   - file:// - local file system
//   - memory:// - in-process, non-persistent
//   - s3:// - Amazon S3 or compatible object storage
//   - ipfs:// - IPFS node (mutable file system)
//   - vault:// - HashiCorp Vault KV v2
func (f *Factory) StorageBackendFor(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	u, err := url.Parse(string(location))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return NewFileBackend(u.Path, f.log)
	case "memory":
		return NewMemoryBackend(), nil
	case "s3":
		return f.createS3Backend(u)
	case "ipfs":
		return f.createIPFSBackend(u)
	case "vault":
		return f.createVaultBackend(u)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// CreateMultiBackend creates a multi-storage backend from a list of location
// URIs, skipping locations that fail to construct. It fails only if no
// backend could be created.
func (f *Factory) CreateMultiBackend(locations []interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	backends := make([]interfaces.StorageBackend, 0, len(locations))

	for _, location := range locations {
		backend, err := f.StorageBackendFor(location)
		if err != nil {
			f.log.Warn("Failed to create storage backend", "err", err, slog.String("locationURI", string(location)))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends created")
	}

	return NewMultiStorageBackend(backends, f.log), nil
}

// createS3Backend creates an S3 backend.
// URI format: s3://[access:secret@]bucket/prefix/?region=us-west-2&endpoint=...
func (f *Factory) createS3Backend(u *url.URL) (interfaces.StorageBackend, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("%w: missing S3 bucket", interfaces.ErrInvalidLocationURI)
	}

	region := u.Query().Get("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	return NewS3Backend(bucket, strings.Trim(u.Path, "/"), region, u.Query().Get("endpoint"), accessKey, secretKey, f.log)
}

// createIPFSBackend creates an IPFS backend.
// URI format: ipfs://host:port/rootdir
func (f *Factory) createIPFSBackend(u *url.URL) (interfaces.StorageBackend, error) {
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: missing IPFS host", interfaces.ErrInvalidLocationURI)
	}

	port := u.Port()
	if port == "" {
		port = "5001"
	}

	rootDir := u.Path
	if rootDir == "" || rootDir == "/" {
		rootDir = "/recovery"
	}

	return NewIPFSBackend(host, port, rootDir, f.log)
}

// createVaultBackend creates a Vault backend.
// URI format: vault://host:port/mount/datapath?token=...&scheme=https
func (f *Factory) createVaultBackend(u *url.URL) (interfaces.StorageBackend, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing Vault host", interfaces.ErrInvalidLocationURI)
	}

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: vault URI path must be /mount/datapath", interfaces.ErrInvalidLocationURI)
	}

	scheme := u.Query().Get("scheme")
	if scheme == "" {
		scheme = "https"
	}

	address := fmt.Sprintf("%s://%s", scheme, u.Host)
	return NewVaultBackend(address, parts[0], parts[1], u.Query().Get("token"), f.log)
}
