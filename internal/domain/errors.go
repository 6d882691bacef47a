package domain

import "errors"

// Domain errors
var (
	ErrNotAuthenticated    = errors.New("caller is not authenticated")
	ErrInvalidClip         = errors.New("clip not found")
	ErrInvalidInviteCode   = errors.New("invite code does not match any team")
	ErrDuplicateVote       = errors.New("vote already recorded for this clip")
	ErrVoteNotFound        = errors.New("vote not found")
	ErrAlreadyMember       = errors.New("user already belongs to a team")
	ErrConcurrentConflict  = errors.New("concurrent update conflict, retry the request")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrTerritoryNotFound   = errors.New("territory not found")
	ErrTeamNotFound        = errors.New("team not found")
	ErrInviteCodeExhausted = errors.New("could not generate a unique invite code")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInternalError       = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrInvalidClip) ||
		errors.Is(err, ErrVoteNotFound) ||
		errors.Is(err, ErrTerritoryNotFound) ||
		errors.Is(err, ErrTeamNotFound) ||
		errors.Is(err, ErrInvalidInviteCode)
}

// IsRetryable reports whether the whole operation may be retried by the caller
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentConflict)
}
