package accesscontrol

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/tee-secret-recovery-backend/audit"
	"github.com/ruteri/tee-secret-recovery-backend/confidential"
	"github.com/ruteri/tee-secret-recovery-backend/guardians"
	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
	"github.com/ruteri/tee-secret-recovery-backend/recovery"
	"github.com/ruteri/tee-secret-recovery-backend/secretstore"
)

var (
	testOwner = interfaces.Identity{19: 0x01}
	testSelf  = interfaces.Identity{19: 0xee}
)

// recordingSink captures audit events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(ctx context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) typesSeen() []audit.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]audit.EventType, 0, len(s.events))
	for _, e := range s.events {
		types = append(types, e.Type)
	}
	return types
}

type testEnv struct {
	controller *Controller
	backend    *confidential.MockConfidentialStore
	sink       *recordingSink
	guardians  []interfaces.Identity
}

func newTestEnv(t *testing.T, numGuardians, threshold int) *testEnv {
	t.Helper()

	guardianList := make([]interfaces.Identity, 0, numGuardians)
	for i := 1; i <= numGuardians; i++ {
		guardianList = append(guardianList, interfaces.Identity{18: 0x10, 19: byte(i)})
	}
	registry, err := guardians.NewRegistry(guardianList, threshold)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := new(confidential.MockConfidentialStore)
	sink := &recordingSink{}

	controller := NewController(
		interfaces.FixedOwner{Identity: testOwner},
		registry,
		recovery.NewMachine(registry),
		secretstore.New(backend, testSelf, logger),
		sink,
		logger,
	)

	return &testEnv{
		controller: controller,
		backend:    backend,
		sink:       sink,
		guardians:  guardianList,
	}
}

func testChunks(tag byte) ([interfaces.NumChunks][]byte, [][]byte) {
	var chunks [interfaces.NumChunks][]byte
	proofs := make([][]byte, 0, interfaces.NumChunks)
	for i := range chunks {
		chunks[i] = []byte{tag, byte(i)}
		proofs = append(proofs, []byte{0xf0, tag, byte(i)})
	}
	return chunks, proofs
}

// expectIngest arms the backend mock for one full ingest, including the
// self-grants issued per chunk.
func (env *testEnv) expectIngest(chunks [interfaces.NumChunks][]byte, proofs [][]byte, tag byte) [interfaces.NumChunks]interfaces.CiphertextHandle {
	var handles [interfaces.NumChunks]interfaces.CiphertextHandle
	for i := range chunks {
		handles[i][0] = tag
		handles[i][31] = byte(i)
		env.backend.On("Ingest", mock.Anything, interfaces.CertifiedInput{Ciphertext: chunks[i], Proof: proofs[i]}).Return(handles[i], nil)
		env.backend.On("Grant", mock.Anything, handles[i], testSelf).Return(nil)
	}
	return handles
}

func (env *testEnv) storeSecret(t *testing.T, tag byte) [interfaces.NumChunks]interfaces.CiphertextHandle {
	t.Helper()
	chunks, proofs := testChunks(tag)
	handles := env.expectIngest(chunks, proofs, tag)
	_, err := env.controller.StoreSecret(context.Background(), testOwner, chunks, proofs)
	require.NoError(t, err)
	return handles
}

func TestController_StoreSecret(t *testing.T) {
	env := newTestEnv(t, 3, 2)
	chunks, proofs := testChunks(0x01)

	t.Run("owner only", func(t *testing.T) {
		_, err := env.controller.StoreSecret(context.Background(), env.guardians[0], chunks, proofs)
		assert.ErrorIs(t, err, interfaces.ErrNotOwner)
		assert.Zero(t, env.controller.Version())
	})

	t.Run("owner stores", func(t *testing.T) {
		handles := env.expectIngest(chunks, proofs, 0x01)

		version, err := env.controller.StoreSecret(context.Background(), testOwner, chunks, proofs)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), version)
		assert.Equal(t, handles, env.controller.GetSecret())
		assert.Equal(t, []audit.EventType{audit.EventSecretStored}, env.sink.typesSeen())
	})
}

// storeSecret must not disturb a pending recovery request; only rotateSecret
// clears it.
func TestController_StoreKeepsRequest(t *testing.T) {
	env := newTestEnv(t, 3, 2)
	env.storeSecret(t, 0x01)

	id, err := env.controller.ProposeRecovery(context.Background(), env.guardians[0], interfaces.Identity{19: 0x77})
	require.NoError(t, err)

	env.storeSecret(t, 0x02)
	assert.Equal(t, id, env.controller.Status().ID)
}

func TestController_RotateSecretResetsRequest(t *testing.T) {
	env := newTestEnv(t, 3, 2)
	env.storeSecret(t, 0x01)

	id, err := env.controller.ProposeRecovery(context.Background(), env.guardians[0], interfaces.Identity{19: 0x77})
	require.NoError(t, err)
	_, err = env.controller.ApproveRecovery(context.Background(), env.guardians[0], id)
	require.NoError(t, err)

	chunks, proofs := testChunks(0x02)
	env.expectIngest(chunks, proofs, 0x02)
	version, err := env.controller.RotateSecret(context.Background(), testOwner, chunks, proofs)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)

	// The machine is Empty again: the old id is gone and approvals with it.
	assert.Zero(t, env.controller.Status().ID)
	assert.False(t, env.controller.HasApproved(env.guardians[0]))
	_, err = env.controller.ApproveRecovery(context.Background(), env.guardians[1], id)
	assert.ErrorIs(t, err, interfaces.ErrNoActiveRequest)

	assert.Contains(t, env.sink.typesSeen(), audit.EventSecretRotated)
	assert.Contains(t, env.sink.typesSeen(), audit.EventRequestReset)
}

func TestController_GrantDecryptionRights(t *testing.T) {
	env := newTestEnv(t, 3, 2)
	handles := env.storeSecret(t, 0x01)
	grantee := interfaces.Identity{19: 0x77}

	t.Run("owner only", func(t *testing.T) {
		err := env.controller.GrantDecryptionRights(context.Background(), env.guardians[0], grantee)
		assert.ErrorIs(t, err, interfaces.ErrNotOwner)
	})

	t.Run("owner grants directly", func(t *testing.T) {
		for _, handle := range handles {
			env.backend.On("Grant", mock.Anything, handle, grantee).Return(nil).Once()
		}

		require.NoError(t, env.controller.GrantDecryptionRights(context.Background(), testOwner, grantee))
		env.backend.AssertExpectations(t)
		assert.Contains(t, env.sink.typesSeen(), audit.EventAccessGranted)
	})
}

// The full recovery round: propose, approve below threshold, then the
// threshold-crossing approval grants access to the proposed identity.
func TestController_RecoveryRound(t *testing.T) {
	env := newTestEnv(t, 3, 2)
	handles := env.storeSecret(t, 0x01)
	grantee := interfaces.Identity{19: 0x77}

	t.Run("non-guardian cannot propose", func(t *testing.T) {
		_, err := env.controller.ProposeRecovery(context.Background(), testOwner, grantee)
		assert.ErrorIs(t, err, interfaces.ErrNotAGuardian)
	})

	id, err := env.controller.ProposeRecovery(context.Background(), env.guardians[0], grantee)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	res, err := env.controller.ApproveRecovery(context.Background(), env.guardians[0], id)
	require.NoError(t, err)
	assert.Equal(t, recovery.ApprovalResult{ApprovalCount: 1}, res)
	env.backend.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything, grantee)

	for _, handle := range handles {
		env.backend.On("Grant", mock.Anything, handle, grantee).Return(nil).Once()
	}

	res, err = env.controller.ApproveRecovery(context.Background(), env.guardians[1], id)
	require.NoError(t, err)
	assert.Equal(t, recovery.ApprovalResult{ApprovalCount: 2, JustExecuted: true}, res)
	env.backend.AssertExpectations(t)

	status := env.controller.Status()
	assert.True(t, status.Executed)
	assert.Equal(t, grantee, status.ProposedIdentity)

	types := env.sink.typesSeen()
	assert.Contains(t, types, audit.EventRequestProposed)
	assert.Contains(t, types, audit.EventApprovalRecorded)
	assert.Contains(t, types, audit.EventAccessGranted)
}

// When the backend rejects the grant on the threshold-crossing approval,
// neither the approval nor the Executed transition may be observable.
func TestController_GrantFailureLeavesRequestPending(t *testing.T) {
	env := newTestEnv(t, 3, 2)
	handles := env.storeSecret(t, 0x01)
	grantee := interfaces.Identity{19: 0x77}

	id, err := env.controller.ProposeRecovery(context.Background(), env.guardians[0], grantee)
	require.NoError(t, err)
	_, err = env.controller.ApproveRecovery(context.Background(), env.guardians[0], id)
	require.NoError(t, err)

	grantErr := errors.New("backend unavailable")
	env.backend.On("Grant", mock.Anything, handles[0], grantee).Return(grantErr).Once()

	_, err = env.controller.ApproveRecovery(context.Background(), env.guardians[1], id)
	assert.ErrorIs(t, err, grantErr)

	status := env.controller.Status()
	assert.False(t, status.Executed)
	assert.Equal(t, 1, status.ApprovalCount)
	assert.False(t, env.controller.HasApproved(env.guardians[1]))

	// Retry succeeds once the backend recovers.
	for _, handle := range handles {
		env.backend.On("Grant", mock.Anything, handle, grantee).Return(nil).Once()
	}
	res, err := env.controller.ApproveRecovery(context.Background(), env.guardians[1], id)
	require.NoError(t, err)
	assert.True(t, res.JustExecuted)
}

func TestController_Views(t *testing.T) {
	env := newTestEnv(t, 3, 2)

	assert.True(t, env.controller.IsGuardian(env.guardians[0]))
	assert.False(t, env.controller.IsGuardian(testOwner))
	assert.False(t, env.controller.HasApproved(env.guardians[0]))
	assert.Zero(t, env.controller.Version())
	assert.Equal(t, recovery.Status{}, env.controller.Status())
}
