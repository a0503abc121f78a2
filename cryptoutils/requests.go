package cryptoutils

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
)

// SignRequest signs the request body with the caller's secp256k1 key,
// producing a 65-byte recoverable signature over the keccak256 body digest.
func SignRequest(key *ecdsa.PrivateKey, body []byte) ([]byte, error) {
	sig, err := crypto.Sign(crypto.Keccak256(body), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	return sig, nil
}

// RecoverSigner recovers the caller identity from a request body and its
// recoverable signature.
func RecoverSigner(body []byte, sig []byte) (interfaces.Identity, error) {
	if len(sig) != 65 {
		return interfaces.Identity{}, fmt.Errorf("invalid signature length %d", len(sig))
	}

	pubkey, err := crypto.SigToPub(crypto.Keccak256(body), sig)
	if err != nil {
		return interfaces.Identity{}, fmt.Errorf("failed to recover signer: %w", err)
	}

	return interfaces.Identity(crypto.PubkeyToAddress(*pubkey)), nil
}

// IdentityForKey returns the identity controlled by a secp256k1 private key.
func IdentityForKey(key *ecdsa.PrivateKey) interfaces.Identity {
	return interfaces.Identity(crypto.PubkeyToAddress(key.PublicKey))
}
