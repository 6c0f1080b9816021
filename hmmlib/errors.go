package hmmlib

// Error is a sentinel error kind.  Concrete errors returned by this
// package wrap one of the values below, so callers can classify them
// with errors.Is.
type Error string

func (err Error) Error() string { return string(err) }

const (
	// ErrValidation marks inputs that are malformed: mismatched
	// dimensions, non-probability vectors, empty sequences.
	ErrValidation = Error("hmmlib: invalid input")

	// ErrNumerical marks a numerical breakdown during the recursions,
	// such as a zero or non-finite scaling factor.
	ErrNumerical = Error("hmmlib: numerical instability")

	// ErrCancelled is reported when the caller's context ends a run.
	ErrCancelled = Error("hmmlib: cancelled")

	// ErrInternal wraps a panic recovered at the Run boundary.
	ErrInternal = Error("hmmlib: internal error")
)
