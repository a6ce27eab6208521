package service

import (
	"errors"
	"fmt"

	"pactbot/internal/settlement"
	"pactbot/internal/storage"
)

// Validation errors: caller mistakes, surfaced verbatim.
var (
	ErrInvalidJoin          = errors.New("invalid join")
	ErrDuplicateProof       = errors.New("proof already submitted")
	ErrDeadlineExceeded     = errors.New("proof deadline exceeded")
	ErrChallengeNotEligible = errors.New("challenge not eligible for proofs yet")
	ErrDuplicateVote        = errors.New("voter already voted on this proof")
	ErrSelfVote             = errors.New("cannot vote on own proof")
	ErrForbidden            = errors.New("forbidden")
	ErrWrongMode            = errors.New("operation does not match the challenge validation mode")
	ErrInvalidDecision      = errors.New("invalid decision")
	ErrInvalidChallenge     = errors.New("invalid challenge")
	ErrInvalidProof         = errors.New("invalid proof")
	ErrInvalidAmount        = storage.ErrInvalidAmount
	ErrNotFound             = storage.ErrNotFound
)

// Resource errors.
var ErrInsufficientFunds = storage.ErrInsufficientFunds

// State errors: a duplicate call or a race. They are returned alongside
// the existing state so retries are safe.
var (
	ErrAlreadyResolved       = errors.New("proof already resolved")
	ErrAlreadyDecided        = fmt.Errorf("organizer already decided: %w", ErrAlreadyResolved)
	ErrAlreadyDistributed    = errors.New("challenge already distributed")
	ErrChallengeNotFinalized = settlement.ErrNotFinalized
	ErrChallengeNotEnded     = errors.New("challenge has not ended")
	ErrParticipationClosed   = errors.New("participation is no longer active")
)

// Invariant violations halt the operation.
var ErrInvariantViolation = settlement.ErrInvariantViolation
