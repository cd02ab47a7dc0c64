// Package safeconv provides integer conversions that panic on overflow.
package safeconv

import "math"

// MaxInt is the maximum value for int type (platform-dependent).
const MaxInt = int(^uint(0) >> 1)

// MustUint64ToInt64 converts v, panicking when it exceeds math.MaxInt64.
// Use only when overflow is logically impossible.
func MustUint64ToInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		panic("safeconv: uint64 to int64 overflow")
	}

	return int64(v)
}

// MustUint64ToInt converts v, panicking when it does not fit in int.
func MustUint64ToInt(v uint64) int {
	if v > uint64(MaxInt) {
		panic("safeconv: uint64 to int overflow")
	}

	return int(v)
}

// MustIntToUint64 converts v, panicking when it is negative.
// Use only when negative values are logically impossible.
func MustIntToUint64(v int) uint64 {
	if v < 0 {
		panic("safeconv: negative int to uint64 conversion")
	}

	return uint64(v)
}

// MustInt64ToInt converts v, panicking when it does not fit in int.
func MustInt64ToInt(v int64) int {
	if v > int64(MaxInt) || v < -int64(MaxInt)-1 {
		panic("safeconv: int64 to int overflow")
	}

	return int(v)
}
