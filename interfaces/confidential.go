package interfaces

import "context"

// ConfidentialStore is the external confidential-compute collaborator. It
// ingests certified ciphertext and manages standing read access to the
// resulting confidential values. The core never sees cleartext; it only moves
// handles between the backend and its own bookkeeping.
//
// Implementations must not call back into the recovery system from within
// these methods: every triggering operation runs to completion before the
// backend can observe its effects.
type ConfidentialStore interface {
	// Ingest validates a certified ciphertext chunk and materializes it as a
	// confidential value, returning its handle. Fails if the certification
	// proof does not match the ciphertext.
	Ingest(ctx context.Context, input CertifiedInput) (CiphertextHandle, error)

	// Grant gives the identity standing read access to the value behind the
	// handle. Side effect only; granting twice is harmless.
	Grant(ctx context.Context, handle CiphertextHandle, to Identity) error

	// Reveal returns the cleartext behind the handle for an identity that
	// holds a grant. The recovery core never calls Reveal; it exists so that
	// grantees (and tests) can exercise the access they were given.
	Reveal(ctx context.Context, handle CiphertextHandle, as Identity) ([]byte, error)
}

// OwnerAuth is the injected ownership capability. Ownership management itself
// (transfer, renunciation) lives outside the recovery core.
type OwnerAuth interface {
	// IsOwner reports whether the identity is the current owner.
	IsOwner(Identity) bool
}

// FixedOwner is the trivial OwnerAuth: a single immutable owner identity.
type FixedOwner struct {
	Identity Identity
}

// IsOwner reports whether id is the fixed owner.
func (o FixedOwner) IsOwner(id Identity) bool {
	return !o.Identity.IsZero() && o.Identity == id
}
