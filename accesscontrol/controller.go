// Package accesscontrol orchestrates the guardian registry, the recovery
// request machine and the secret store into the externally invoked operation
// surface.
//
// Every operation runs under a single mutex, giving the run-to-completion
// execution model the components assume: operations are totally ordered,
// never interleave, and either commit fully or fail with no state change.
package accesscontrol

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/tee-secret-recovery-backend/audit"
	"github.com/ruteri/tee-secret-recovery-backend/guardians"
	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
	"github.com/ruteri/tee-secret-recovery-backend/metrics"
	"github.com/ruteri/tee-secret-recovery-backend/recovery"
	"github.com/ruteri/tee-secret-recovery-backend/secretstore"
)

// Controller exposes the owner- and guardian-facing operations. Safe for
// concurrent use.
type Controller struct {
	mu sync.Mutex

	owner    interfaces.OwnerAuth
	registry *guardians.Registry
	machine  *recovery.Machine
	secrets  *secretstore.Store
	events   audit.Sink
	log      *slog.Logger
}

// NewController wires the components together. A nil events sink disables
// audit recording.
func NewController(owner interfaces.OwnerAuth, registry *guardians.Registry, machine *recovery.Machine, secrets *secretstore.Store, events audit.Sink, log *slog.Logger) *Controller {
	if events == nil {
		events = audit.NopSink{}
	}
	return &Controller{
		owner:    owner,
		registry: registry,
		machine:  machine,
		secrets:  secrets,
		events:   events,
		log:      log,
	}
}

// record emits an audit event; audit failures never fail the operation.
func (c *Controller) record(ctx context.Context, e audit.Event) {
	e.At = time.Now()
	if err := c.events.Record(ctx, e); err != nil {
		c.log.Warn("Failed to record audit event", "type", string(e.Type), "err", err)
	}
}

// StoreSecret ingests a new secret version. Owner only. The recovery request
// machine is left untouched.
func (c *Controller) StoreSecret(ctx context.Context, caller interfaces.Identity, chunks [interfaces.NumChunks][]byte, proofs [][]byte) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.owner.IsOwner(caller) {
		return 0, interfaces.ErrNotOwner
	}

	version, err := c.secrets.Ingest(ctx, chunks, proofs)
	if err != nil {
		return 0, err
	}

	metrics.IngestsTotal.Inc()
	c.record(ctx, audit.Event{Type: audit.EventSecretStored, Caller: caller, Version: version})
	return version, nil
}

// RotateSecret ingests a new secret version and unconditionally clears the
// recovery request machine, Pending or Executed alike. A rotated secret is
// never reachable through a pre-rotation request: recovery starts from
// scratch. Owner only.
func (c *Controller) RotateSecret(ctx context.Context, caller interfaces.Identity, chunks [interfaces.NumChunks][]byte, proofs [][]byte) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.owner.IsOwner(caller) {
		return 0, interfaces.ErrNotOwner
	}

	version, err := c.secrets.Ingest(ctx, chunks, proofs)
	if err != nil {
		return 0, err
	}

	cleared := c.machine.Status()
	c.machine.Reset()

	metrics.IngestsTotal.Inc()
	c.record(ctx, audit.Event{Type: audit.EventSecretRotated, Caller: caller, Version: version})
	if cleared.ID != 0 {
		c.record(ctx, audit.Event{Type: audit.EventRequestReset, Caller: caller, RequestID: cleared.ID})
	}
	return version, nil
}

// GrantDecryptionRights gives the identity standing read access to the
// current chunks, bypassing the guardian flow. Owner-only administrative
// override, and the escape hatch for re-granting after a rotation without a
// fresh proposal round.
func (c *Controller) GrantDecryptionRights(ctx context.Context, caller interfaces.Identity, to interfaces.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.owner.IsOwner(caller) {
		return interfaces.ErrNotOwner
	}

	if err := c.secrets.GrantAccess(ctx, to); err != nil {
		return err
	}

	metrics.GrantsTotal.Inc()
	c.record(ctx, audit.Event{Type: audit.EventAccessGranted, Caller: caller, Subject: to, Version: c.secrets.Version()})
	return nil
}

// ProposeRecovery creates a fresh Pending request naming the identity to be
// granted access once the guardian threshold agrees. Guardian only. A prior
// Pending request for a different identity is implicitly cancelled.
func (c *Controller) ProposeRecovery(ctx context.Context, caller interfaces.Identity, proposed interfaces.Identity) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, cancelled, err := c.machine.Propose(caller, proposed)
	if err != nil {
		return 0, err
	}

	metrics.ProposalsTotal.Inc()
	if cancelled != 0 {
		c.record(ctx, audit.Event{Type: audit.EventRequestReset, Caller: caller, RequestID: cancelled})
	}
	c.record(ctx, audit.Event{Type: audit.EventRequestProposed, Caller: caller, Subject: proposed, RequestID: id})
	return id, nil
}

// ApproveRecovery records the guardian's approval of the request identified
// by id. On the approval that reaches the threshold, the proposed identity is
// granted read access to all current chunks before the call returns; the
// Executed transition and the grant commit as one unit, or the whole approval
// fails with no state change.
func (c *Controller) ApproveRecovery(ctx context.Context, caller interfaces.Identity, id uint64) (recovery.ApprovalResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var granted interfaces.Identity
	res, err := c.machine.Approve(caller, id, func(proposed interfaces.Identity) error {
		if err := c.secrets.GrantAccess(ctx, proposed); err != nil {
			return err
		}
		granted = proposed
		return nil
	})
	if err != nil {
		return recovery.ApprovalResult{}, err
	}

	metrics.ApprovalsTotal.Inc()
	c.record(ctx, audit.Event{Type: audit.EventApprovalRecorded, Caller: caller, RequestID: id, Count: res.ApprovalCount})
	if res.JustExecuted {
		metrics.ExecutionsTotal.Inc()
		metrics.GrantsTotal.Inc()
		c.record(ctx, audit.Event{Type: audit.EventAccessGranted, Caller: caller, Subject: granted, RequestID: id, Version: c.secrets.Version()})
	}
	return res, nil
}

// GetSecret returns the current opaque chunk handles.
func (c *Controller) GetSecret() [interfaces.NumChunks]interfaces.CiphertextHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secrets.Current()
}

// Version returns the current secret version; 0 means never stored.
func (c *Controller) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secrets.Version()
}

// IsGuardian reports whether the identity is a registered guardian.
func (c *Controller) IsGuardian(id interfaces.Identity) bool {
	return c.registry.IsGuardian(id)
}

// HasApproved reports whether the guardian approved the current request.
func (c *Controller) HasApproved(guardian interfaces.Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.HasApproved(guardian)
}

// Status returns a snapshot of the current recovery request.
func (c *Controller) Status() recovery.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Status()
}
