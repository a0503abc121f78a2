// Package interfaces defines the shared types and contracts for the secret
// recovery system. It provides the vocabulary used between components without
// implementation details.
package interfaces

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Identity represents an authenticated principal: the owner, a guardian, or a
// recovery grantee. Identities are Ethereum-style 20-byte addresses.
type Identity [20]byte

// NewIdentityFromBytes creates an identity from a raw 20-byte slice.
func NewIdentityFromBytes(raw []byte) (Identity, error) {
	if len(raw) != 20 {
		return Identity{}, errors.New("invalid identity length: must be 20 bytes")
	}

	var id Identity
	copy(id[:], raw)
	return id, nil
}

// NewIdentityFromHex creates an identity from a hex string, with or without
// the 0x prefix.
func NewIdentityFromHex(raw string) (Identity, error) {
	clean := strings.TrimPrefix(raw, "0x")
	if len(clean) != 40 {
		return Identity{}, errors.New("invalid identity length: hex string must be 40 characters")
	}

	idBytes, err := hex.DecodeString(clean)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewIdentityFromBytes(idBytes)
}

// String returns the hex string representation of the identity.
func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 20-byte identity.
func (id Identity) Bytes() []byte {
	return id[:]
}

// IsZero reports whether the identity is the all-zero (null) identity.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

// Equal compares two identities for equality.
func (id Identity) Equal(other Identity) bool {
	return id == other
}

// MarshalText encodes the identity as hex for JSON and log output.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes an identity from hex.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := NewIdentityFromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// CiphertextHandle is an opaque 32-byte reference to a confidential value held
// by the confidential-compute backend. The core never inspects the referenced
// cleartext; handles are only stored, compared and passed back to the backend.
type CiphertextHandle [32]byte

// NewCiphertextHandleFromBytes creates a handle from a raw 32-byte slice.
func NewCiphertextHandleFromBytes(raw []byte) (CiphertextHandle, error) {
	if len(raw) != 32 {
		return CiphertextHandle{}, errors.New("invalid handle length: must be 32 bytes")
	}

	var h CiphertextHandle
	copy(h[:], raw)
	return h, nil
}

// NewCiphertextHandleFromHex creates a handle from a hex string, with or
// without the 0x prefix.
func NewCiphertextHandleFromHex(raw string) (CiphertextHandle, error) {
	clean := strings.TrimPrefix(raw, "0x")
	if len(clean) != 64 {
		return CiphertextHandle{}, errors.New("invalid handle length: hex string must be 64 characters")
	}

	handleBytes, err := hex.DecodeString(clean)
	if err != nil {
		return CiphertextHandle{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewCiphertextHandleFromBytes(handleBytes)
}

// String returns the hex representation of the handle.
func (h CiphertextHandle) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns the raw 32-byte handle.
func (h CiphertextHandle) Bytes() []byte {
	return h[:]
}

// IsZero reports whether the handle is unset.
func (h CiphertextHandle) IsZero() bool {
	return h == CiphertextHandle{}
}

// Equal compares two handles.
func (h CiphertextHandle) Equal(other CiphertextHandle) bool {
	return bytes.Equal(h[:], other[:])
}

// MarshalText encodes the handle as hex for JSON and log output.
func (h CiphertextHandle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a handle from hex.
func (h *CiphertextHandle) UnmarshalText(text []byte) error {
	parsed, err := NewCiphertextHandleFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// NumChunks is the fixed number of ciphertext chunks composing one secret.
// Each chunk semantically carries 64 bits of the 256-bit secret, in big-endian
// chunk order.
const NumChunks = 4

// CertifiedInput is a ciphertext chunk together with the certification proof
// binding it. The confidential-compute backend validates the proof before
// materializing the chunk; the core treats both fields as opaque.
type CertifiedInput struct {
	Ciphertext []byte
	Proof      []byte
}
