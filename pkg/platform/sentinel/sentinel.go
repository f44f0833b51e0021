package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors with codes.
//
// These represent factual states about stored records, not business rulings:
// - ErrNotFound: record does not exist in the store
// - ErrConflict: unique constraint or version conflict on write
// - ErrAlreadyProcessed: idempotency key was already consumed
// - ErrInvalidState: record is in the wrong state for the requested mutation
// - ErrUnavailable: backing service temporarily unreachable
//
// Business rejections (limit exceeded, illegal transition) belong to
// pkg/domain-errors, never here.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrInvalidState     = errors.New("invalid state")
	ErrUnavailable      = errors.New("unavailable")
)
