// Package api defines the HTTP API surface shared between the recovery
// server and its clients: request/response payloads and server configuration.
package api

import "time"

// SignatureHeader carries the hex-encoded 65-byte secp256k1 signature over
// the request body. The recovered address is the caller's identity.
const SignatureHeader = "X-Recovery-Signature"

// IngestRequest carries four hex-encoded ciphertext chunks and their
// certification proofs, used by both store and rotate.
type IngestRequest struct {
	Chunks [4]string `json:"chunks"`
	Proofs []string  `json:"proofs"`
}

// IngestResponse reports the new secret version.
type IngestResponse struct {
	Version uint64 `json:"version"`
}

// GrantRequest names the identity to receive standing read access.
type GrantRequest struct {
	Identity string `json:"identity"`
}

// ProposeRequest names the identity a guardian proposes for recovery access.
type ProposeRequest struct {
	Identity string `json:"identity"`
}

// ProposeResponse reports the id of the freshly created request.
type ProposeResponse struct {
	RequestID uint64 `json:"request_id"`
}

// ApproveRequest names the recovery request a guardian approves.
type ApproveRequest struct {
	RequestID uint64 `json:"request_id"`
}

// ApproveResponse reports the approval count after this approval and whether
// it executed the request.
type ApproveResponse struct {
	ApprovalCount int  `json:"approval_count"`
	Executed      bool `json:"executed"`
}

// StatusResponse is a snapshot of the current recovery request and secret
// version. RequestID 0 means no request exists.
type StatusResponse struct {
	RequestID        uint64    `json:"request_id"`
	ProposedIdentity string    `json:"proposed_identity,omitempty"`
	ApprovalCount    int       `json:"approval_count"`
	Executed         bool      `json:"executed"`
	CreatedAt        time.Time `json:"created_at,omitzero"`
	Version          uint64    `json:"version"`
}

// SecretResponse carries the current version and the four opaque chunk
// handles, hex-encoded.
type SecretResponse struct {
	Version uint64    `json:"version"`
	Chunks  [4]string `json:"chunks"`
}

// GuardianResponse reports guardian membership and current approval state.
type GuardianResponse struct {
	Identity   string `json:"identity"`
	IsGuardian bool   `json:"is_guardian"`
	Approved   bool   `json:"approved"`
}
