package interfaces

import "errors"

// Configuration errors, surfaced at construction time only.
var (
	// ErrInvalidGuardianSet is returned when the guardian list is empty or
	// contains a zero or duplicate identity.
	ErrInvalidGuardianSet = errors.New("invalid guardian set")

	// ErrTooManyGuardians is returned when the guardian list exceeds the
	// maximum supported size of 256.
	ErrTooManyGuardians = errors.New("too many guardians")

	// ErrInvalidThreshold is returned when the threshold is zero or exceeds
	// the guardian count.
	ErrInvalidThreshold = errors.New("invalid threshold")
)

// Authorization errors.
var (
	// ErrNotOwner is returned when a caller invokes an owner-only operation
	// without being the registered owner.
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrNotAGuardian is returned when a caller invokes a guardian-only
	// operation without being a registered guardian.
	ErrNotAGuardian = errors.New("caller is not a guardian")
)

// Input validation errors.
var (
	// ErrZeroIdentity is returned when an operation names the all-zero identity.
	ErrZeroIdentity = errors.New("zero identity")

	// ErrInvalidProofCount is returned when an ingest does not carry exactly
	// one certification proof per chunk.
	ErrInvalidProofCount = errors.New("invalid proof count")

	// ErrInvalidCertifiedInput is returned when the confidential-compute
	// backend rejects a certified ciphertext chunk.
	ErrInvalidCertifiedInput = errors.New("invalid certified input")

	// ErrDuplicateProposal is returned when a proposal names the same identity
	// as the current pending (unexecuted) request.
	ErrDuplicateProposal = errors.New("duplicate proposal")
)

// State-consistency errors. All guard against acting on a request that has
// moved on: superseded, finished, or already voted by this caller.
var (
	// ErrNoActiveRequest is returned when an approval arrives while no
	// recovery request exists.
	ErrNoActiveRequest = errors.New("no active recovery request")

	// ErrStaleOrUnknownRequest is returned when an approval names a request id
	// other than the current one.
	ErrStaleOrUnknownRequest = errors.New("stale or unknown recovery request")

	// ErrAlreadyExecuted is returned when an approval arrives after the
	// current request has reached its threshold.
	ErrAlreadyExecuted = errors.New("request already executed")

	// ErrAlreadyApproved is returned when a guardian approves the same request
	// twice.
	ErrAlreadyApproved = errors.New("guardian already approved")
)
