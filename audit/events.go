// Package audit records the observable events of the recovery system.
//
// Events are informational: they support audit trails and UIs but carry no
// correctness weight. Sinks must therefore be cheap and must not fail the
// triggering operation; recording errors are logged and swallowed by callers.
package audit

import (
	"context"
	"time"

	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
)

// EventType identifies an observable event.
type EventType string

const (
	// EventSecretStored is emitted after a successful storeSecret ingest.
	EventSecretStored EventType = "secret_stored"
	// EventSecretRotated is emitted after a successful rotateSecret ingest.
	EventSecretRotated EventType = "secret_rotated"
	// EventRequestProposed is emitted when a new recovery request is created.
	EventRequestProposed EventType = "request_proposed"
	// EventRequestReset is emitted when a request is cleared, whether by
	// rotation or implicitly by a superseding proposal.
	EventRequestReset EventType = "request_reset"
	// EventApprovalRecorded is emitted on every successful approval.
	EventApprovalRecorded EventType = "approval_recorded"
	// EventAccessGranted is emitted when an identity gains read access.
	EventAccessGranted EventType = "access_granted"
)

// Event is a single audit record.
type Event struct {
	Type      EventType           `json:"type"`
	Caller    interfaces.Identity `json:"caller,omitempty"`
	Subject   interfaces.Identity `json:"subject,omitempty"`
	RequestID uint64              `json:"request_id,omitempty"`
	Version   uint64              `json:"version,omitempty"`
	Count     int                 `json:"count,omitempty"`
	At        time.Time           `json:"at"`
}

// Sink records events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// NopSink discards all events.
type NopSink struct{}

// Record discards the event.
func (NopSink) Record(context.Context, Event) error { return nil }
