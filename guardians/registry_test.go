package guardians

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
)

func testIdentity(b byte) interfaces.Identity {
	var id interfaces.Identity
	id[19] = b
	return id
}

func testIdentities(n int) []interfaces.Identity {
	ids := make([]interfaces.Identity, 0, n)
	for i := 0; i < n; i++ {
		var id interfaces.Identity
		id[18] = byte((i + 1) >> 8)
		id[19] = byte(i + 1)
		ids = append(ids, id)
	}
	return ids
}

func TestNewRegistry_Validation(t *testing.T) {
	tests := []struct {
		name        string
		guardians   []interfaces.Identity
		threshold   int
		expectedErr error
	}{
		{
			name:        "empty guardian list",
			guardians:   nil,
			threshold:   1,
			expectedErr: interfaces.ErrInvalidGuardianSet,
		},
		{
			name:        "too many guardians",
			guardians:   testIdentities(MaxGuardians + 1),
			threshold:   1,
			expectedErr: interfaces.ErrTooManyGuardians,
		},
		{
			name:        "zero threshold",
			guardians:   testIdentities(3),
			threshold:   0,
			expectedErr: interfaces.ErrInvalidThreshold,
		},
		{
			name:        "threshold above guardian count",
			guardians:   testIdentities(3),
			threshold:   4,
			expectedErr: interfaces.ErrInvalidThreshold,
		},
		{
			name:        "zero identity in set",
			guardians:   []interfaces.Identity{testIdentity(1), {}, testIdentity(2)},
			threshold:   1,
			expectedErr: interfaces.ErrInvalidGuardianSet,
		},
		{
			name:        "duplicate identity in set",
			guardians:   []interfaces.Identity{testIdentity(1), testIdentity(2), testIdentity(1)},
			threshold:   1,
			expectedErr: interfaces.ErrInvalidGuardianSet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, err := NewRegistry(tt.guardians, tt.threshold)
			assert.Nil(t, registry)
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestNewRegistry_Boundaries(t *testing.T) {
	// Single guardian with threshold 1 is the minimal valid configuration.
	single, err := NewRegistry(testIdentities(1), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, single.Len())
	assert.Equal(t, 1, single.Threshold())

	// The full 256-guardian set with a unanimous threshold is allowed.
	full, err := NewRegistry(testIdentities(MaxGuardians), MaxGuardians)
	require.NoError(t, err)
	assert.Equal(t, MaxGuardians, full.Len())
	assert.Equal(t, MaxGuardians, full.Threshold())
}

func TestRegistry_Membership(t *testing.T) {
	guardians := testIdentities(5)
	registry, err := NewRegistry(guardians, 3)
	require.NoError(t, err)

	for i, guardian := range guardians {
		t.Run(fmt.Sprintf("guardian %d", i), func(t *testing.T) {
			assert.True(t, registry.IsGuardian(guardian))

			idx, ok := registry.IndexOf(guardian)
			require.True(t, ok)
			assert.Equal(t, i, idx)
		})
	}

	outsider := testIdentity(0xff)
	assert.False(t, registry.IsGuardian(outsider))
	_, ok := registry.IndexOf(outsider)
	assert.False(t, ok)

	// The zero identity can never be a guardian.
	assert.False(t, registry.IsGuardian(interfaces.Identity{}))
}

func TestRegistry_GuardiansReturnsCopy(t *testing.T) {
	guardians := testIdentities(3)
	registry, err := NewRegistry(guardians, 2)
	require.NoError(t, err)

	got := registry.Guardians()
	require.Equal(t, guardians, got)

	// Mutating the returned slice must not affect the registry.
	got[0] = testIdentity(0xaa)
	assert.True(t, registry.IsGuardian(guardians[0]))
	assert.False(t, registry.IsGuardian(testIdentity(0xaa)))
}
