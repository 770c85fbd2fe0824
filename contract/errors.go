package contract

import "errors"

// Error taxonomy. Every public operation performs its checks eagerly and
// aborts before any state mutation, wrapping one of these sentinels so that
// callers and tests can classify failures with errors.Is.
var (
	// Authorization
	ErrUnauthorized = errors.New("unauthorized")

	// Not found
	ErrNotFound = errors.New("not found")

	// State violations
	ErrAlreadyExists       = errors.New("already exists")
	ErrDuplicateSkill      = errors.New("duplicate skill")
	ErrDuplicateMilestone  = errors.New("duplicate milestone")
	ErrAlreadyJoined       = errors.New("already joined")
	ErrAlreadyVerified     = errors.New("already verified")
	ErrAlreadyCompleted    = errors.New("already completed")
	ErrAlreadyUnlocked     = errors.New("already unlocked")
	ErrChallengeNotActive  = errors.New("challenge not active")
	ErrPrerequisitesNotMet = errors.New("prerequisites not met")
	ErrInvalidEndorsement  = errors.New("invalid endorsement")

	// Resource
	ErrInsufficientPayment = errors.New("insufficient payment")
)

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
