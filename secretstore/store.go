// Package secretstore holds the versioned, opaque secret record.
//
// The secret is four fixed-size ciphertext chunks ingested through the
// confidential-compute backend. The store never sees cleartext: it keeps the
// backend's handles and a monotonically increasing version, and delegates all
// access-grant side effects back to the backend.
package secretstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
)

// Store owns the secret record. It is not safe for concurrent use; the access
// controller serializes all operations.
type Store struct {
	backend interfaces.ConfidentialStore

	// self is the service principal granted standing access to every freshly
	// ingested chunk, so that later grants to other identities are possible.
	self interfaces.Identity

	chunks  [interfaces.NumChunks]interfaces.CiphertextHandle
	version uint64

	log *slog.Logger
}

// New creates an empty store (version 0, "never stored") backed by the given
// confidential-compute backend. The self identity receives standing access to
// each ingested chunk.
func New(backend interfaces.ConfidentialStore, self interfaces.Identity, log *slog.Logger) *Store {
	return &Store{
		backend: backend,
		self:    self,
		log:     log,
	}
}

// Ingest validates and materializes four certified ciphertext chunks through
// the backend, grants the store's own principal standing access to each, and
// commits them as the new secret under version+1. Exactly one proof per chunk
// is required. On any failure the record is left unchanged.
//
// Both "store" and "rotate" are this same ingestion; rotation semantics
// (clearing the pending recovery request) belong to the access controller.
func (s *Store) Ingest(ctx context.Context, chunks [interfaces.NumChunks][]byte, proofs [][]byte) (uint64, error) {
	if len(proofs) != interfaces.NumChunks {
		return 0, fmt.Errorf("%w: got %d proofs, need %d", interfaces.ErrInvalidProofCount, len(proofs), interfaces.NumChunks)
	}

	// Materialize all chunks before touching the record so a late failure
	// cannot leave a half-updated secret.
	var fresh [interfaces.NumChunks]interfaces.CiphertextHandle
	for i := range chunks {
		handle, err := s.backend.Ingest(ctx, interfaces.CertifiedInput{
			Ciphertext: chunks[i],
			Proof:      proofs[i],
		})
		if err != nil {
			return 0, fmt.Errorf("%w: chunk %d: %v", interfaces.ErrInvalidCertifiedInput, i, err)
		}
		if err := s.backend.Grant(ctx, handle, s.self); err != nil {
			return 0, fmt.Errorf("self-grant for chunk %d: %w", i, err)
		}
		fresh[i] = handle
	}

	s.chunks = fresh
	s.version++

	s.log.Info("Secret ingested", "version", s.version)
	return s.version, nil
}

// GrantAccess gives the identity standing read access to all four current
// chunks through the backend. No local state changes.
func (s *Store) GrantAccess(ctx context.Context, to interfaces.Identity) error {
	if to.IsZero() {
		return interfaces.ErrZeroIdentity
	}

	for i, handle := range s.chunks {
		if err := s.backend.Grant(ctx, handle, to); err != nil {
			return fmt.Errorf("grant for chunk %d: %w", i, err)
		}
	}

	s.log.Info("Access granted", "identity", to.String(), "version", s.version)
	return nil
}

// Current returns the four opaque chunk handles. All-zero handles until the
// first ingest.
func (s *Store) Current() [interfaces.NumChunks]interfaces.CiphertextHandle {
	return s.chunks
}

// Version returns the current secret version. 0 means never stored.
func (s *Store) Version() uint64 {
	return s.version
}
