// Package cryptoutils provides the cryptographic helpers shared between the
// recovery service, the confidential backend and the admin tooling:
// certification proofs binding ciphertext chunks, and secp256k1 request
// signatures carrying the caller's identity.
package cryptoutils

import (
	"crypto/subtle"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
)

// ErrCertificationMismatch is returned when a certification proof does not
// bind the ciphertext it accompanies.
var ErrCertificationMismatch = errors.New("certification proof does not match ciphertext")

// CertificationProof computes the proof binding a ciphertext chunk: the
// keccak256 digest over a domain-separated encoding of the payload.
func CertificationProof(ciphertext []byte) []byte {
	return crypto.Keccak256(append([]byte("certified-chunk:"), ciphertext...))
}

// CertifyChunk packages a ciphertext chunk with its certification proof.
func CertifyChunk(ciphertext []byte) interfaces.CertifiedInput {
	return interfaces.CertifiedInput{
		Ciphertext: ciphertext,
		Proof:      CertificationProof(ciphertext),
	}
}

// VerifyCertifiedInput checks that the proof binds the ciphertext.
func VerifyCertifiedInput(input interfaces.CertifiedInput) error {
	if len(input.Ciphertext) == 0 {
		return errors.New("empty ciphertext")
	}
	expected := CertificationProof(input.Ciphertext)
	if subtle.ConstantTimeCompare(expected, input.Proof) != 1 {
		return ErrCertificationMismatch
	}
	return nil
}
