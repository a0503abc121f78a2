package interfaces

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ContentID is a 32-byte SHA-256 hash uniquely identifying a stored blob.
type ContentID [32]byte

// NewContentIDFromBytes creates a content ID from a raw 32-byte slice.
func NewContentIDFromBytes(source []byte) (ContentID, error) {
	if len(source) != 32 {
		return ContentID{}, errors.New("invalid content ID length: must be 32 bytes")
	}

	var id ContentID
	copy(id[:], source)
	return id, nil
}

// NewContentIDFromHex creates a content ID from a hex string, with or without
// the 0x prefix.
func NewContentIDFromHex(source string) (ContentID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return ContentID{}, errors.New("invalid content ID length: hex string must be 64 characters")
	}

	idBytes, err := hex.DecodeString(clean)
	if err != nil {
		return ContentID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewContentIDFromBytes(idBytes)
}

// ComputeID calculates the content ID of a blob.
func ComputeID(data []byte) ContentID {
	return ContentID(sha256.Sum256(data))
}

// String returns the hex representation.
func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 32-byte hash.
func (id ContentID) Bytes() []byte {
	return id[:]
}

// ContentType indicates the storage namespace a blob belongs to.
type ContentType int

const (
	// SealedChunkType for ciphertext chunks sealed by the confidential backend.
	SealedChunkType ContentType = iota
	// RecordType for bookkeeping records (grant receipts, version metadata).
	RecordType
)

// String returns the namespace name.
func (ct ContentType) String() string {
	switch ct {
	case SealedChunkType:
		return "sealed"
	case RecordType:
		return "records"
	default:
		return "unknown"
	}
}

// StorageBackendLocation is a URI identifying a storage backend, of the form
// [scheme]://[auth@]host[:port][/path][?params].
type StorageBackendLocation string

var (
	// ErrContentNotFound is returned when requested content cannot be found in
	// the storage backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a storage backend is not
	// accessible, whether due to network issues, authentication failures, or
	// service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is
	// malformed or names an unsupported scheme.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// StorageBackend provides content-addressed blob storage for sealed chunks and
// bookkeeping records.
type StorageBackend interface {
	// Fetch retrieves a blob by content ID and type.
	Fetch(ctx context.Context, id ContentID, contentType ContentType) ([]byte, error)

	// Store saves a blob and returns its content ID.
	Store(ctx context.Context, data []byte, contentType ContentType) (ContentID, error)

	// Available checks whether the backend is accessible.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging.
	Name() string

	// LocationURI returns the URI identifying this backend.
	LocationURI() string
}

// StorageBackendFactory creates storage backends from location URIs.
type StorageBackendFactory interface {
	// StorageBackendFor creates a backend from a URI.
	// Supports file://, s3://, ipfs:// and vault://.
	StorageBackendFor(location StorageBackendLocation) (StorageBackend, error)

	// CreateMultiBackend creates an aggregated backend that replicates stores
	// across all locations and serves fetches from the first that has the
	// content.
	CreateMultiBackend(locations []StorageBackendLocation) (StorageBackend, error)
}
