package httpserver

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/tee-secret-recovery-backend/accesscontrol"
	"github.com/ruteri/tee-secret-recovery-backend/api"
	"github.com/ruteri/tee-secret-recovery-backend/confidential"
	"github.com/ruteri/tee-secret-recovery-backend/cryptoutils"
	"github.com/ruteri/tee-secret-recovery-backend/guardians"
	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
	"github.com/ruteri/tee-secret-recovery-backend/recovery"
	"github.com/ruteri/tee-secret-recovery-backend/secretstore"
	"github.com/ruteri/tee-secret-recovery-backend/storage"
)

// testEnv wires a full stack behind the router: real enclave over memory
// storage, real registry, machine, store and controller.
type testEnv struct {
	mux          *chi.Mux
	enclave      *confidential.SimpleEnclave
	ownerKey     *ecdsa.PrivateKey
	guardianKeys []*ecdsa.PrivateKey
}

func newTestEnv(t *testing.T, numGuardians, threshold int) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ownerKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	guardianKeys := make([]*ecdsa.PrivateKey, 0, numGuardians)
	guardianList := make([]interfaces.Identity, 0, numGuardians)
	for i := 0; i < numGuardians; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		guardianKeys = append(guardianKeys, key)
		guardianList = append(guardianList, cryptoutils.IdentityForKey(key))
	}

	registry, err := guardians.NewRegistry(guardianList, threshold)
	require.NoError(t, err)

	masterKey := make([]byte, 32)
	_, err = rand.Read(masterKey)
	require.NoError(t, err)
	enclave, err := confidential.NewSimpleEnclave(masterKey, storage.NewMemoryBackend(), logger)
	require.NoError(t, err)

	self := interfaces.Identity{19: 0xee}
	controller := accesscontrol.NewController(
		interfaces.FixedOwner{Identity: cryptoutils.IdentityForKey(ownerKey)},
		registry,
		recovery.NewMachine(registry),
		secretstore.New(enclave, self, logger),
		nil,
		logger,
	)

	mux := chi.NewRouter()
	NewHandler(controller, logger).RegisterRoutes(mux)

	return &testEnv{
		mux:          mux,
		enclave:      enclave,
		ownerKey:     ownerKey,
		guardianKeys: guardianKeys,
	}
}

// postSigned sends a signed POST and returns the response.
func (env *testEnv) postSigned(t *testing.T, key *ecdsa.PrivateKey, path string, payload any) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	sig, err := cryptoutils.SignRequest(key, body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set(api.SignatureHeader, hex.EncodeToString(sig))

	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)
	return w.Result()
}

func (env *testEnv) get(t *testing.T, path string, out any) {
	t.Helper()

	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	resp := w.Result()
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func decodeResponse[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func testIngestRequest(tag byte) api.IngestRequest {
	var req api.IngestRequest
	req.Proofs = make([]string, 0, interfaces.NumChunks)
	for i := 0; i < interfaces.NumChunks; i++ {
		certified := cryptoutils.CertifyChunk([]byte{tag, byte(i)})
		req.Chunks[i] = hex.EncodeToString(certified.Ciphertext)
		req.Proofs = append(req.Proofs, hex.EncodeToString(certified.Proof))
	}
	return req
}

func (env *testEnv) storeSecret(t *testing.T, tag byte) {
	t.Helper()
	resp := env.postSigned(t, env.ownerKey, "/api/owner/secret/store", testIngestRequest(tag))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleStoreSecret(t *testing.T) {
	env := newTestEnv(t, 3, 2)

	t.Run("owner stores", func(t *testing.T) {
		resp := env.postSigned(t, env.ownerKey, "/api/owner/secret/store", testIngestRequest(0x01))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		result := decodeResponse[api.IngestResponse](t, resp)
		assert.Equal(t, uint64(1), result.Version)
	})

	t.Run("non-owner is rejected", func(t *testing.T) {
		resp := env.postSigned(t, env.guardianKeys[0], "/api/owner/secret/store", testIngestRequest(0x02))
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("missing signature", func(t *testing.T) {
		body, err := json.Marshal(testIngestRequest(0x03))
		require.NoError(t, err)

		w := httptest.NewRecorder()
		env.mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/owner/secret/store", bytes.NewReader(body)))
		assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
	})

	t.Run("bad proof", func(t *testing.T) {
		req := testIngestRequest(0x04)
		req.Proofs[2] = hex.EncodeToString(make([]byte, 32))

		resp := env.postSigned(t, env.ownerKey, "/api/owner/secret/store", req)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("wrong proof count", func(t *testing.T) {
		req := testIngestRequest(0x05)
		req.Proofs = req.Proofs[:2]

		resp := env.postSigned(t, env.ownerKey, "/api/owner/secret/store", req)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

// The full recovery round over HTTP: store, propose, approve twice, and the
// grantee can reveal every chunk through the enclave afterwards.
func TestRecoveryRoundOverHTTP(t *testing.T) {
	env := newTestEnv(t, 3, 2)
	env.storeSecret(t, 0x01)

	granteeKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	grantee := cryptoutils.IdentityForKey(granteeKey)

	resp := env.postSigned(t, env.guardianKeys[0], "/api/guardian/propose", api.ProposeRequest{Identity: grantee.String()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	proposal := decodeResponse[api.ProposeResponse](t, resp)
	require.Equal(t, uint64(1), proposal.RequestID)

	resp = env.postSigned(t, env.guardianKeys[0], "/api/guardian/approve", api.ApproveRequest{RequestID: proposal.RequestID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decodeResponse[api.ApproveResponse](t, resp)
	assert.Equal(t, api.ApproveResponse{ApprovalCount: 1}, first)

	resp = env.postSigned(t, env.guardianKeys[1], "/api/guardian/approve", api.ApproveRequest{RequestID: proposal.RequestID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decodeResponse[api.ApproveResponse](t, resp)
	assert.Equal(t, api.ApproveResponse{ApprovalCount: 2, Executed: true}, second)

	var secret api.SecretResponse
	env.get(t, "/api/public/secret", &secret)
	require.Equal(t, uint64(1), secret.Version)

	for i, handleHex := range secret.Chunks {
		handle, err := interfaces.NewCiphertextHandleFromHex(handleHex)
		require.NoError(t, err)

		payload, err := env.enclave.Reveal(t.Context(), handle, grantee)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, byte(i)}, payload)
	}
}

func TestHandleApprove_Conflicts(t *testing.T) {
	env := newTestEnv(t, 3, 3)
	env.storeSecret(t, 0x01)
	grantee := interfaces.Identity{19: 0x77}

	resp := env.postSigned(t, env.guardianKeys[0], "/api/guardian/propose", api.ProposeRequest{Identity: grantee.String()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	proposal := decodeResponse[api.ProposeResponse](t, resp)

	t.Run("stale id", func(t *testing.T) {
		resp := env.postSigned(t, env.guardianKeys[0], "/api/guardian/approve", api.ApproveRequest{RequestID: proposal.RequestID + 5})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("double approval", func(t *testing.T) {
		resp := env.postSigned(t, env.guardianKeys[0], "/api/guardian/approve", api.ApproveRequest{RequestID: proposal.RequestID})
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = env.postSigned(t, env.guardianKeys[0], "/api/guardian/approve", api.ApproveRequest{RequestID: proposal.RequestID})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("duplicate proposal", func(t *testing.T) {
		resp := env.postSigned(t, env.guardianKeys[1], "/api/guardian/propose", api.ProposeRequest{Identity: grantee.String()})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("non-guardian caller", func(t *testing.T) {
		resp := env.postSigned(t, env.ownerKey, "/api/guardian/approve", api.ApproveRequest{RequestID: proposal.RequestID})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("no active request after rotation", func(t *testing.T) {
		resp := env.postSigned(t, env.ownerKey, "/api/owner/secret/rotate", testIngestRequest(0x02))
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = env.postSigned(t, env.guardianKeys[1], "/api/guardian/approve", api.ApproveRequest{RequestID: proposal.RequestID})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHandleGrant(t *testing.T) {
	env := newTestEnv(t, 3, 2)
	env.storeSecret(t, 0x01)
	grantee := interfaces.Identity{19: 0x77}

	t.Run("owner grants directly", func(t *testing.T) {
		resp := env.postSigned(t, env.ownerKey, "/api/owner/grant", api.GrantRequest{Identity: grantee.String()})
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var secret api.SecretResponse
		env.get(t, "/api/public/secret", &secret)
		handle, err := interfaces.NewCiphertextHandleFromHex(secret.Chunks[0])
		require.NoError(t, err)
		assert.True(t, env.enclave.HasAccess(handle, grantee))
	})

	t.Run("zero identity is rejected", func(t *testing.T) {
		resp := env.postSigned(t, env.ownerKey, "/api/owner/grant", api.GrantRequest{Identity: interfaces.Identity{}.String()})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("guardian cannot grant", func(t *testing.T) {
		resp := env.postSigned(t, env.guardianKeys[0], "/api/owner/grant", api.GrantRequest{Identity: grantee.String()})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestHandleStatusAndGuardian(t *testing.T) {
	env := newTestEnv(t, 3, 2)

	var status api.StatusResponse
	env.get(t, "/api/public/status", &status)
	assert.Zero(t, status.RequestID)
	assert.Empty(t, status.ProposedIdentity)

	env.storeSecret(t, 0x01)
	grantee := interfaces.Identity{19: 0x77}
	resp := env.postSigned(t, env.guardianKeys[0], "/api/guardian/propose", api.ProposeRequest{Identity: grantee.String()})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.postSigned(t, env.guardianKeys[0], "/api/guardian/approve", api.ApproveRequest{RequestID: 1})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env.get(t, "/api/public/status", &status)
	assert.Equal(t, uint64(1), status.RequestID)
	assert.Equal(t, grantee.String(), status.ProposedIdentity)
	assert.Equal(t, 1, status.ApprovalCount)
	assert.False(t, status.Executed)
	assert.Equal(t, uint64(1), status.Version)

	approver := cryptoutils.IdentityForKey(env.guardianKeys[0])
	var guardian api.GuardianResponse
	env.get(t, "/api/public/guardian/"+approver.String(), &guardian)
	assert.True(t, guardian.IsGuardian)
	assert.True(t, guardian.Approved)

	env.get(t, "/api/public/guardian/"+grantee.String(), &guardian)
	assert.False(t, guardian.IsGuardian)
	assert.False(t, guardian.Approved)

	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/public/guardian/nothex", nil))
	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}
