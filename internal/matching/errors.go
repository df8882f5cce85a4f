package matching

import (
	"errors"
	"fmt"

	"github.com/peermatch/matcher/internal/profile"
)

var (
	// ErrProfileNotFound means the requester has no profile. Callers usually
	// surface it as "please complete your profile".
	ErrProfileNotFound = fmt.Errorf("matching: requester %w", profile.ErrNotFound)

	// ErrAlreadyQueued is returned by Admit when the user already has a
	// waiting entry.
	ErrAlreadyQueued = errors.New("matching: user already has a waiting entry")

	// ErrClaimConflict means every qualifying candidate was claimed by a
	// concurrent match attempt.
	ErrClaimConflict = errors.New("matching: all qualifying candidates were claimed concurrently")

	// ErrRateLimited is returned by Enqueue when the user exceeded the
	// request rate.
	ErrRateLimited = errors.New("matching: too many match requests")

	// ErrEntryNotFound is returned by stores for unknown user ids.
	ErrEntryNotFound = errors.New("matching: queue entry not found")
)

// InputError describes a malformed matching request.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("matching: invalid %s: %s", e.Field, e.Reason)
}

// IsInputError reports whether err is (or wraps) an *InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}
