package coordinator

import "errors"

// ErrSerialization wraps a failed checkpoint write. The previous artifact is
// left untouched.
var ErrSerialization = errors.New("checkpoint serialization failed")

// ErrBarrierTimeout is reported when workers did not reach a safe point
// before the break deadline.
var ErrBarrierTimeout = errors.New("workers did not reach a safe point before the deadline")

// ErrInvalidParties is returned for a non-positive worker count.
var ErrInvalidParties = errors.New("coordinator: parties must be positive")
