package storage

import "errors"

// ErrInfeasibleRegulation is returned when a regulation signal cannot be
// absorbed because no regulable flexibility remains in the horizon.
var ErrInfeasibleRegulation = errors.New("regulation exceeds available flexibility")

// ErrParse is returned when a boot record does not match the state grammar.
var ErrParse = errors.New("malformed boot record")

const (
	// epsilon is the tolerance for floating-point equality.
	epsilon = 1e-6
	// zeroTolerance is the threshold below which physical quantities are
	// treated as zero.
	zeroTolerance = 1e-3
)
