package confidential

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
)

// MockConfidentialStore mocks the interfaces.ConfidentialStore interface.
type MockConfidentialStore struct {
	mock.Mock
}

// Ingest mocks the Ingest method.
func (m *MockConfidentialStore) Ingest(ctx context.Context, input interfaces.CertifiedInput) (interfaces.CiphertextHandle, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(interfaces.CiphertextHandle), args.Error(1)
}

// Grant mocks the Grant method.
func (m *MockConfidentialStore) Grant(ctx context.Context, handle interfaces.CiphertextHandle, to interfaces.Identity) error {
	args := m.Called(ctx, handle, to)
	return args.Error(0)
}

// Reveal mocks the Reveal method.
func (m *MockConfidentialStore) Reveal(ctx context.Context, handle interfaces.CiphertextHandle, as interfaces.Identity) ([]byte, error) {
	args := m.Called(ctx, handle, as)
	return args.Get(0).([]byte), args.Error(1)
}
