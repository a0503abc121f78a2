// Package guardians indexes the fixed guardian set configured at deployment.
//
// The set is validated and indexed once at construction and never changes
// afterwards. Each guardian maps to a 1-based index used by the recovery
// request approval bitmap; index 0 means "not a guardian".
package guardians

import (
	"fmt"

	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
)

// MaxGuardians is the maximum supported guardian set size.
const MaxGuardians = 256

// Registry holds the immutable guardian set and its approval threshold.
// It has no failure modes after construction.
type Registry struct {
	guardians []interfaces.Identity
	indexes   map[interfaces.Identity]int // 1-based
	threshold int
}

// NewRegistry validates the guardian list and builds the identity index.
// The list must be non-empty, contain no zero or duplicate identities, and
// hold at most MaxGuardians entries. The threshold must be in 1..len(guardians).
func NewRegistry(guardianList []interfaces.Identity, threshold int) (*Registry, error) {
	if len(guardianList) == 0 {
		return nil, fmt.Errorf("%w: empty guardian list", interfaces.ErrInvalidGuardianSet)
	}
	if len(guardianList) > MaxGuardians {
		return nil, fmt.Errorf("%w: %d guardians, maximum is %d", interfaces.ErrTooManyGuardians, len(guardianList), MaxGuardians)
	}
	if threshold < 1 || threshold > len(guardianList) {
		return nil, fmt.Errorf("%w: threshold %d for %d guardians", interfaces.ErrInvalidThreshold, threshold, len(guardianList))
	}

	indexes := make(map[interfaces.Identity]int, len(guardianList))
	for i, guardian := range guardianList {
		if guardian.IsZero() {
			return nil, fmt.Errorf("%w: zero identity at position %d", interfaces.ErrInvalidGuardianSet, i)
		}
		if _, exists := indexes[guardian]; exists {
			return nil, fmt.Errorf("%w: duplicate identity %s", interfaces.ErrInvalidGuardianSet, guardian)
		}
		indexes[guardian] = i + 1
	}

	return &Registry{
		guardians: append([]interfaces.Identity(nil), guardianList...),
		indexes:   indexes,
		threshold: threshold,
	}, nil
}

// IsGuardian reports whether the identity is a registered guardian.
func (r *Registry) IsGuardian(id interfaces.Identity) bool {
	return r.indexes[id] != 0
}

// IndexOf returns the guardian's 0-based index for bitmap operations.
// The second return value is false if the identity is not a guardian.
func (r *Registry) IndexOf(id interfaces.Identity) (int, bool) {
	idx := r.indexes[id]
	if idx == 0 {
		return 0, false
	}
	return idx - 1, true
}

// Guardians returns a copy of the guardian list in registration order.
func (r *Registry) Guardians() []interfaces.Identity {
	return append([]interfaces.Identity(nil), r.guardians...)
}

// Threshold returns the number of distinct approvals required to execute a
// recovery request.
func (r *Registry) Threshold() int {
	return r.threshold
}

// Len returns the guardian count.
func (r *Registry) Len() int {
	return len(r.guardians)
}
