// Package httpserver exposes the recovery service operations over HTTP.
//
// Mutating operations are authenticated by a secp256k1 signature over the
// request body carried in the X-Recovery-Signature header; the recovered
// address is the caller's identity, which the access controller authorizes as
// owner or guardian. View operations are public.
package httpserver

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ruteri/tee-secret-recovery-backend/accesscontrol"
	"github.com/ruteri/tee-secret-recovery-backend/api"
	"github.com/ruteri/tee-secret-recovery-backend/cryptoutils"
	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Handler processes HTTP requests for the recovery service, delegating all
// authorization and state transitions to the access controller.
type Handler struct {
	controller *accesscontrol.Controller
	log        *slog.Logger
}

// NewHandler creates a new HTTP request handler.
func NewHandler(controller *accesscontrol.Controller, log *slog.Logger) *Handler {
	return &Handler{
		controller: controller,
		log:        log,
	}
}

// RegisterRoutes attaches the API routes to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/owner/secret/store", h.HandleStoreSecret)
	r.Post("/api/owner/secret/rotate", h.HandleRotateSecret)
	r.Post("/api/owner/grant", h.HandleGrant)
	r.Post("/api/guardian/propose", h.HandlePropose)
	r.Post("/api/guardian/approve", h.HandleApprove)
	r.Get("/api/public/secret", h.HandleGetSecret)
	r.Get("/api/public/status", h.HandleStatus)
	r.Get("/api/public/guardian/{identity}", h.HandleGuardian)
}

// statusForError maps the service error taxonomy to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrNotOwner), errors.Is(err, interfaces.ErrNotAGuardian):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrNoActiveRequest):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrDuplicateProposal),
		errors.Is(err, interfaces.ErrStaleOrUnknownRequest),
		errors.Is(err, interfaces.ErrAlreadyExecuted),
		errors.Is(err, interfaces.ErrAlreadyApproved):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrZeroIdentity),
		errors.Is(err, interfaces.ErrInvalidProofCount),
		errors.Is(err, interfaces.ErrInvalidCertifiedInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// authenticatedBody reads the request body and recovers the caller identity
// from the signature header.
func (h *Handler) authenticatedBody(w http.ResponseWriter, r *http.Request) ([]byte, interfaces.Identity, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, fmt.Errorf("could not read request body: %w", err).Error(), http.StatusBadRequest)
		return nil, interfaces.Identity{}, false
	}

	sigHex := r.Header.Get(api.SignatureHeader)
	if sigHex == "" {
		http.Error(w, "missing request signature", http.StatusUnauthorized)
		return nil, interfaces.Identity{}, false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		http.Error(w, fmt.Errorf("invalid signature encoding: %w", err).Error(), http.StatusUnauthorized)
		return nil, interfaces.Identity{}, false
	}

	caller, err := cryptoutils.RecoverSigner(body, sig)
	if err != nil {
		http.Error(w, fmt.Errorf("invalid request signature: %w", err).Error(), http.StatusUnauthorized)
		return nil, interfaces.Identity{}, false
	}

	return body, caller, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

// decodeIngest parses the chunk/proof payload of store and rotate requests.
func decodeIngest(body []byte) ([interfaces.NumChunks][]byte, [][]byte, error) {
	var chunks [interfaces.NumChunks][]byte

	var req api.IngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return chunks, nil, fmt.Errorf("could not decode request: %w", err)
	}

	for i, chunkHex := range req.Chunks {
		chunk, err := hex.DecodeString(chunkHex)
		if err != nil {
			return chunks, nil, fmt.Errorf("invalid chunk %d encoding: %w", i, err)
		}
		chunks[i] = chunk
	}

	proofs := make([][]byte, 0, len(req.Proofs))
	for i, proofHex := range req.Proofs {
		proof, err := hex.DecodeString(proofHex)
		if err != nil {
			return chunks, nil, fmt.Errorf("invalid proof %d encoding: %w", i, err)
		}
		proofs = append(proofs, proof)
	}

	return chunks, proofs, nil
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request, rotate bool) {
	body, caller, ok := h.authenticatedBody(w, r)
	if !ok {
		return
	}

	chunks, proofs, err := decodeIngest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var version uint64
	if rotate {
		version, err = h.controller.RotateSecret(r.Context(), caller, chunks, proofs)
	} else {
		version, err = h.controller.StoreSecret(r.Context(), caller, chunks, proofs)
	}
	if err != nil {
		h.log.Info("Ingest rejected", "caller", caller.String(), "rotate", rotate, "err", err)
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	writeJSON(w, api.IngestResponse{Version: version})
}

// HandleStoreSecret stores a new secret version. Owner only.
func (h *Handler) HandleStoreSecret(w http.ResponseWriter, r *http.Request) {
	h.handleIngest(w, r, false)
}

// HandleRotateSecret stores a new secret version and clears any recovery
// request. Owner only.
func (h *Handler) HandleRotateSecret(w http.ResponseWriter, r *http.Request) {
	h.handleIngest(w, r, true)
}

// HandleGrant grants standing read access to an identity, bypassing the
// guardian flow. Owner only.
func (h *Handler) HandleGrant(w http.ResponseWriter, r *http.Request) {
	body, caller, ok := h.authenticatedBody(w, r)
	if !ok {
		return
	}

	var req api.GrantRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, fmt.Errorf("could not decode request: %w", err).Error(), http.StatusBadRequest)
		return
	}

	grantee, err := interfaces.NewIdentityFromHex(req.Identity)
	if err != nil {
		http.Error(w, fmt.Errorf("invalid identity: %w", err).Error(), http.StatusBadRequest)
		return
	}

	if err := h.controller.GrantDecryptionRights(r.Context(), caller, grantee); err != nil {
		h.log.Info("Grant rejected", "caller", caller.String(), "err", err)
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// HandlePropose creates a fresh recovery request. Guardian only.
func (h *Handler) HandlePropose(w http.ResponseWriter, r *http.Request) {
	body, caller, ok := h.authenticatedBody(w, r)
	if !ok {
		return
	}

	var req api.ProposeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, fmt.Errorf("could not decode request: %w", err).Error(), http.StatusBadRequest)
		return
	}

	proposed, err := interfaces.NewIdentityFromHex(req.Identity)
	if err != nil {
		http.Error(w, fmt.Errorf("invalid identity: %w", err).Error(), http.StatusBadRequest)
		return
	}

	id, err := h.controller.ProposeRecovery(r.Context(), caller, proposed)
	if err != nil {
		h.log.Info("Proposal rejected", "caller", caller.String(), "err", err)
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	writeJSON(w, api.ProposeResponse{RequestID: id})
}

// HandleApprove records a guardian approval; on the threshold-crossing
// approval, the proposed identity is granted access before the response is
// written.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	body, caller, ok := h.authenticatedBody(w, r)
	if !ok {
		return
	}

	var req api.ApproveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, fmt.Errorf("could not decode request: %w", err).Error(), http.StatusBadRequest)
		return
	}

	res, err := h.controller.ApproveRecovery(r.Context(), caller, req.RequestID)
	if err != nil {
		h.log.Info("Approval rejected", "caller", caller.String(), "request", req.RequestID, "err", err)
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	writeJSON(w, api.ApproveResponse{ApprovalCount: res.ApprovalCount, Executed: res.JustExecuted})
}

// HandleGetSecret returns the current version and opaque chunk handles.
func (h *Handler) HandleGetSecret(w http.ResponseWriter, r *http.Request) {
	var resp api.SecretResponse
	resp.Version = h.controller.Version()
	for i, handle := range h.controller.GetSecret() {
		resp.Chunks[i] = handle.String()
	}
	writeJSON(w, resp)
}

// HandleStatus returns a snapshot of the current recovery request.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := h.controller.Status()

	resp := api.StatusResponse{
		RequestID:     status.ID,
		ApprovalCount: status.ApprovalCount,
		Executed:      status.Executed,
		Version:       h.controller.Version(),
	}
	if status.ID != 0 {
		resp.ProposedIdentity = status.ProposedIdentity.String()
		resp.CreatedAt = status.CreatedAt
	}
	writeJSON(w, resp)
}

// HandleGuardian reports guardian membership and current-request approval
// state for an identity.
func (h *Handler) HandleGuardian(w http.ResponseWriter, r *http.Request) {
	identity, err := interfaces.NewIdentityFromHex(chi.URLParam(r, "identity"))
	if err != nil {
		http.Error(w, fmt.Errorf("invalid identity: %w", err).Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, api.GuardianResponse{
		Identity:   identity.String(),
		IsGuardian: h.controller.IsGuardian(identity),
		Approved:   h.controller.HasApproved(identity),
	})
}
