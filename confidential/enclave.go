// Package confidential provides implementations of the confidential-compute
// collaborator that the recovery core delegates to.
//
// SimpleEnclave is a deterministic, master-key based backend suitable for
// development and testing. It validates certification proofs, seals chunk
// payloads under derived keys, persists the sealed blobs through a pluggable
// storage backend, and tracks per-handle access grants.
package confidential

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"

	"github.com/ruteri/tee-secret-recovery-backend/cryptoutils"
	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
)

var (
	// ErrUnknownHandle is returned for handles this enclave never ingested.
	ErrUnknownHandle = errors.New("unknown ciphertext handle")

	// ErrAccessDenied is returned when an identity without a grant attempts to
	// reveal a value.
	ErrAccessDenied = errors.New("identity holds no grant for this handle")
)

// SimpleEnclave implements interfaces.ConfidentialStore with locally derived
// sealing keys. The master key must be at least 32 bytes.
type SimpleEnclave struct {
	masterKey []byte
	storage   interfaces.StorageBackend
	log       *slog.Logger

	mu     sync.RWMutex
	sealed map[interfaces.CiphertextHandle]interfaces.ContentID
	acl    map[interfaces.CiphertextHandle]map[interfaces.Identity]bool
}

// NewSimpleEnclave creates an enclave sealing with keys derived from the
// master key and persisting sealed blobs to the storage backend.
func NewSimpleEnclave(masterKey []byte, storage interfaces.StorageBackend, log *slog.Logger) (*SimpleEnclave, error) {
	if len(masterKey) < 32 {
		return nil, errors.New("master key must be at least 32 bytes")
	}
	if storage == nil {
		return nil, errors.New("storage backend is required")
	}

	return &SimpleEnclave{
		masterKey: masterKey,
		storage:   storage,
		log:       log,
		sealed:    make(map[interfaces.CiphertextHandle]interfaces.ContentID),
		acl:       make(map[interfaces.CiphertextHandle]map[interfaces.Identity]bool),
	}, nil
}

// HandleFor computes the handle under which a ciphertext payload is
// materialized. Handles are content-derived, so re-ingesting the same payload
// yields the same handle.
func HandleFor(ciphertext []byte) interfaces.CiphertextHandle {
	digest := crypto.Keccak256(append([]byte("chunk-handle:"), ciphertext...))
	var handle interfaces.CiphertextHandle
	copy(handle[:], digest)
	return handle
}

// Ingest validates the certification proof, seals the payload, persists the
// sealed blob and returns the content-derived handle.
func (e *SimpleEnclave) Ingest(ctx context.Context, input interfaces.CertifiedInput) (interfaces.CiphertextHandle, error) {
	if err := cryptoutils.VerifyCertifiedInput(input); err != nil {
		return interfaces.CiphertextHandle{}, err
	}

	handle := HandleFor(input.Ciphertext)

	sealed, err := e.seal(handle, input.Ciphertext)
	if err != nil {
		return interfaces.CiphertextHandle{}, fmt.Errorf("failed to seal chunk: %w", err)
	}

	contentID, err := e.storage.Store(ctx, sealed, interfaces.SealedChunkType)
	if err != nil {
		return interfaces.CiphertextHandle{}, fmt.Errorf("failed to persist sealed chunk: %w", err)
	}

	e.mu.Lock()
	e.sealed[handle] = contentID
	if e.acl[handle] == nil {
		e.acl[handle] = make(map[interfaces.Identity]bool)
	}
	e.mu.Unlock()

	e.log.Debug("Chunk ingested", "handle", handle.String(), "contentID", contentID.String())
	return handle, nil
}

// Grant gives the identity standing read access to the value behind the
// handle. Granting the same identity twice is harmless.
func (e *SimpleEnclave) Grant(ctx context.Context, handle interfaces.CiphertextHandle, to interfaces.Identity) error {
	if to.IsZero() {
		return interfaces.ErrZeroIdentity
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, known := e.sealed[handle]; !known {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	e.acl[handle][to] = true
	return nil
}

// Reveal returns the cleartext chunk payload for an identity holding a grant.
func (e *SimpleEnclave) Reveal(ctx context.Context, handle interfaces.CiphertextHandle, as interfaces.Identity) ([]byte, error) {
	e.mu.RLock()
	contentID, known := e.sealed[handle]
	allowed := known && e.acl[handle][as]
	e.mu.RUnlock()

	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s", ErrAccessDenied, as)
	}

	sealed, err := e.storage.Fetch(ctx, contentID, interfaces.SealedChunkType)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sealed chunk: %w", err)
	}

	return e.open(handle, sealed)
}

// HasAccess reports whether the identity holds a grant for the handle.
func (e *SimpleEnclave) HasAccess(handle interfaces.CiphertextHandle, id interfaces.Identity) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.acl[handle][id]
}

// sealingKey derives the per-handle AES-256 key from the master key.
func (e *SimpleEnclave) sealingKey(handle interfaces.CiphertextHandle) ([]byte, error) {
	kdf := hkdf.New(sha256.New, e.masterKey, handle[:], []byte("chunk-sealing-v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (e *SimpleEnclave) seal(handle interfaces.CiphertextHandle, payload []byte) ([]byte, error) {
	key, err := e.sealingKey(handle)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return append(nonce, aead.Seal(nil, nonce, payload, handle[:])...), nil
}

func (e *SimpleEnclave) open(handle interfaces.CiphertextHandle, sealed []byte) ([]byte, error) {
	key, err := e.sealingKey(handle)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("sealed blob too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]

	payload, err := aead.Open(nil, nonce, ciphertext, handle[:])
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed chunk: %w", err)
	}

	// Handles are content-derived; a mismatch means the stored blob was
	// tampered with or mixed up by the storage layer.
	if subtle.ConstantTimeCompare(HandleFor(payload).Bytes(), handle.Bytes()) != 1 {
		return nil, errors.New("sealed chunk does not match its handle")
	}
	return payload, nil
}
