// Package recovery implements the single-active-request guardian approval
// state machine.
//
// At most one recovery request exists at a time. Its lifecycle is
//
//	Empty -> Pending -> Executed
//
// where a new proposal replaces the current request (from Pending or
// Executed) with a fresh Pending one under a new id, and an external reset
// (secret rotation) returns the machine to Empty from any state.
//
// A Pending request has no expiry: it remains approvable until superseded by
// a new proposal or cleared by a rotation.
package recovery

import (
	"fmt"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/ruteri/tee-secret-recovery-backend/guardians"
	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
)

// request is the single current-request slot. A nil request means Empty;
// illegal shapes such as executed=true with id=0 are unrepresentable.
type request struct {
	id        uint64
	proposed  interfaces.Identity
	approvals *bitset.BitSet
	count     int
	executed  bool
	createdBy interfaces.Identity
	createdAt time.Time
}

// Status is a point-in-time snapshot of the machine. ID 0 means no request
// exists.
type Status struct {
	ID               uint64              `json:"id"`
	ProposedIdentity interfaces.Identity `json:"proposed_identity"`
	ApprovalCount    int                 `json:"approval_count"`
	Executed         bool                `json:"executed"`
	CreatedBy        interfaces.Identity `json:"created_by"`
	CreatedAt        time.Time           `json:"created_at"`
}

// ApprovalResult reports the outcome of a successful approval.
type ApprovalResult struct {
	// ApprovalCount is the number of distinct approvals after this one.
	ApprovalCount int

	// JustExecuted is true exactly on the approval that brought the count from
	// threshold-1 to threshold. The caller must react to it by issuing the
	// access grant; the machine signals it at most once per request id.
	JustExecuted bool
}

// Machine tracks the current recovery request against a fixed guardian
// registry. It is not safe for concurrent use; the access controller
// serializes all operations.
type Machine struct {
	registry *guardians.Registry
	lastID   uint64
	current  *request

	now func() time.Time
}

// NewMachine creates an empty machine bound to the guardian registry.
func NewMachine(registry *guardians.Registry) *Machine {
	return &Machine{
		registry: registry,
		now:      time.Now,
	}
}

// Propose replaces the current request (if any) with a fresh Pending request
// for the given identity and returns its id. Re-proposing the identity named
// by a still-Pending request fails with ErrDuplicateProposal; once that
// request is Executed, proposing the same identity again is allowed.
//
// The second return value reports the id of a Pending request that was
// implicitly cancelled by this proposal, or 0 if none was.
func (m *Machine) Propose(by interfaces.Identity, proposed interfaces.Identity) (uint64, uint64, error) {
	if !m.registry.IsGuardian(by) {
		return 0, 0, fmt.Errorf("%w: %s", interfaces.ErrNotAGuardian, by)
	}
	if proposed.IsZero() {
		return 0, 0, interfaces.ErrZeroIdentity
	}

	var cancelled uint64
	if m.current != nil && !m.current.executed {
		if m.current.proposed == proposed {
			return 0, 0, fmt.Errorf("%w: request %d already proposes %s", interfaces.ErrDuplicateProposal, m.current.id, proposed)
		}
		cancelled = m.current.id
	}

	m.lastID++
	m.current = &request{
		id:        m.lastID,
		proposed:  proposed,
		approvals: bitset.New(uint(m.registry.Len())),
		createdBy: by,
		createdAt: m.now(),
	}

	return m.current.id, cancelled, nil
}

// Approve records the guardian's one-shot approval of the request identified
// by id.
//
// When the approval brings the count to the threshold, the machine invokes
// onExecuted with the proposed identity and commits the approval together
// with the Executed transition only if onExecuted returns nil. This makes the
// threshold transition and the caller's access grant a single atomic unit: no
// state is observable where one happened without the other.
func (m *Machine) Approve(by interfaces.Identity, id uint64, onExecuted func(interfaces.Identity) error) (ApprovalResult, error) {
	guardianIdx, isGuardian := m.registry.IndexOf(by)
	if !isGuardian {
		return ApprovalResult{}, fmt.Errorf("%w: %s", interfaces.ErrNotAGuardian, by)
	}
	if m.current == nil {
		return ApprovalResult{}, interfaces.ErrNoActiveRequest
	}
	if m.current.id != id {
		return ApprovalResult{}, fmt.Errorf("%w: request %d, current is %d", interfaces.ErrStaleOrUnknownRequest, id, m.current.id)
	}
	if m.current.executed {
		return ApprovalResult{}, fmt.Errorf("%w: request %d", interfaces.ErrAlreadyExecuted, id)
	}
	if m.current.approvals.Test(uint(guardianIdx)) {
		return ApprovalResult{}, fmt.Errorf("%w: %s on request %d", interfaces.ErrAlreadyApproved, by, id)
	}

	newCount := m.current.count + 1
	crossed := newCount == m.registry.Threshold()
	if crossed && onExecuted != nil {
		if err := onExecuted(m.current.proposed); err != nil {
			return ApprovalResult{}, err
		}
	}

	m.current.approvals.Set(uint(guardianIdx))
	m.current.count = newCount
	if crossed {
		m.current.executed = true
	}

	return ApprovalResult{ApprovalCount: newCount, JustExecuted: crossed}, nil
}

// Reset unconditionally returns the machine to Empty, discarding the current
// request regardless of its state. Idempotent.
func (m *Machine) Reset() {
	m.current = nil
}

// HasApproved reports whether the guardian has approved the current request.
// Always false when no request exists.
func (m *Machine) HasApproved(guardian interfaces.Identity) bool {
	if m.current == nil {
		return false
	}
	idx, isGuardian := m.registry.IndexOf(guardian)
	if !isGuardian {
		return false
	}
	return m.current.approvals.Test(uint(idx))
}

// Status returns a snapshot of the current request. The zero Status (ID 0)
// means the machine is Empty.
func (m *Machine) Status() Status {
	if m.current == nil {
		return Status{}
	}
	return Status{
		ID:               m.current.id,
		ProposedIdentity: m.current.proposed,
		ApprovalCount:    m.current.count,
		Executed:         m.current.executed,
		CreatedBy:        m.current.createdBy,
		CreatedAt:        m.current.createdAt,
	}
}
