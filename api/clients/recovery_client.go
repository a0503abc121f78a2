// Package clients provides typed HTTP clients for the recovery service API.
package clients

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ruteri/tee-secret-recovery-backend/api"
	"github.com/ruteri/tee-secret-recovery-backend/cryptoutils"
	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
)

// RecoveryClient talks to the recovery service API, signing mutating
// requests with the caller's secp256k1 key.
type RecoveryClient struct {
	baseURL    string
	privateKey *ecdsa.PrivateKey
	httpClient *http.Client
}

// NewRecoveryClient creates a client for the recovery API.
//
// Parameters:
//   - baseURL: the base URL of the service (e.g. "http://localhost:8080")
//   - privateKey: the caller's key; may be nil for a view-only client
//   - timeout: request timeout (optional, default 30 seconds)
func NewRecoveryClient(baseURL string, privateKey *ecdsa.PrivateKey, timeout ...time.Duration) *RecoveryClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &RecoveryClient{
		baseURL:    baseURL,
		privateKey: privateKey,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// Identity returns the identity the client signs requests as.
func (c *RecoveryClient) Identity() (interfaces.Identity, error) {
	if c.privateKey == nil {
		return interfaces.Identity{}, fmt.Errorf("client has no signing key")
	}
	return cryptoutils.IdentityForKey(c.privateKey), nil
}

// postSigned marshals the payload, signs it, and decodes the JSON response
// into out (when non-nil).
func (c *RecoveryClient) postSigned(ctx context.Context, path string, payload any, out any) error {
	if c.privateKey == nil {
		return fmt.Errorf("client has no signing key")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("could not encode request: %w", err)
	}

	sig, err := cryptoutils.SignRequest(c.privateKey, body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.SignatureHeader, hex.EncodeToString(sig))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request to %s failed with code %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *RecoveryClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request to %s failed with code %d: %s", path, resp.StatusCode, string(respBody))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func ingestRequest(chunks [interfaces.NumChunks][]byte, proofs [][]byte) api.IngestRequest {
	var req api.IngestRequest
	for i, chunk := range chunks {
		req.Chunks[i] = hex.EncodeToString(chunk)
	}
	req.Proofs = make([]string, 0, len(proofs))
	for _, proof := range proofs {
		req.Proofs = append(req.Proofs, hex.EncodeToString(proof))
	}
	return req
}

// StoreSecret stores a new secret version. Owner only.
func (c *RecoveryClient) StoreSecret(ctx context.Context, chunks [interfaces.NumChunks][]byte, proofs [][]byte) (uint64, error) {
	var resp api.IngestResponse
	if err := c.postSigned(ctx, "/api/owner/secret/store", ingestRequest(chunks, proofs), &resp); err != nil {
		return 0, err
	}
	return resp.Version, nil
}

// RotateSecret stores a new secret version and clears any recovery request.
// Owner only.
func (c *RecoveryClient) RotateSecret(ctx context.Context, chunks [interfaces.NumChunks][]byte, proofs [][]byte) (uint64, error) {
	var resp api.IngestResponse
	if err := c.postSigned(ctx, "/api/owner/secret/rotate", ingestRequest(chunks, proofs), &resp); err != nil {
		return 0, err
	}
	return resp.Version, nil
}

// GrantDecryptionRights grants standing read access to an identity. Owner
// only.
func (c *RecoveryClient) GrantDecryptionRights(ctx context.Context, to interfaces.Identity) error {
	return c.postSigned(ctx, "/api/owner/grant", api.GrantRequest{Identity: to.String()}, nil)
}

// ProposeRecovery creates a fresh recovery request naming the identity.
// Guardian only.
func (c *RecoveryClient) ProposeRecovery(ctx context.Context, proposed interfaces.Identity) (uint64, error) {
	var resp api.ProposeResponse
	if err := c.postSigned(ctx, "/api/guardian/propose", api.ProposeRequest{Identity: proposed.String()}, &resp); err != nil {
		return 0, err
	}
	return resp.RequestID, nil
}

// ApproveRecovery records an approval of the request. Guardian only.
func (c *RecoveryClient) ApproveRecovery(ctx context.Context, requestID uint64) (api.ApproveResponse, error) {
	var resp api.ApproveResponse
	if err := c.postSigned(ctx, "/api/guardian/approve", api.ApproveRequest{RequestID: requestID}, &resp); err != nil {
		return api.ApproveResponse{}, err
	}
	return resp, nil
}

// Status returns the current recovery request snapshot and secret version.
func (c *RecoveryClient) Status(ctx context.Context) (api.StatusResponse, error) {
	var resp api.StatusResponse
	err := c.get(ctx, "/api/public/status", &resp)
	return resp, err
}

// GetSecret returns the current version and opaque chunk handles.
func (c *RecoveryClient) GetSecret(ctx context.Context) (api.SecretResponse, error) {
	var resp api.SecretResponse
	err := c.get(ctx, "/api/public/secret", &resp)
	return resp, err
}

// Guardian reports guardian membership and approval state for an identity.
func (c *RecoveryClient) Guardian(ctx context.Context, id interfaces.Identity) (api.GuardianResponse, error) {
	var resp api.GuardianResponse
	err := c.get(ctx, "/api/public/guardian/"+id.String(), &resp)
	return resp, err
}
