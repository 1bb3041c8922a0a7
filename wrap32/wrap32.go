// Package wrap32 implements the 32-bit<->64-bit sequence number arithmetic
// used to map a wire-level wrapped sequence number onto an absolute stream
// byte index.
package wrap32

const span = uint64(1) << 32

// Wrap32 is a 32-bit wire sequence number, implicitly relative to some
// zero point chosen when a connection's ISN is established.
type Wrap32 uint32

// Wrap returns the Wrap32 value that absolute byte index n takes on the
// wire, relative to zero.
func Wrap(n uint64, zero Wrap32) Wrap32 {
	return zero + Wrap32(uint32(n))
}

// Unwrap returns the 64-bit absolute value that wraps to w under zero and
// is closest to checkpoint, breaking ties toward the smaller candidate.
func Unwrap(w Wrap32, zero Wrap32, checkpoint uint64) uint64 {
	offset := uint64(uint32(w - zero))
	base := checkpoint &^ (span - 1) // checkpoint with its low 32 bits cleared
	candidate := base + offset

	best := candidate
	bestDist := absDiff(candidate, checkpoint)

	if candidate >= span {
		consider(&best, &bestDist, candidate-span, checkpoint)
	}
	consider(&best, &bestDist, candidate+span, checkpoint)

	return best
}

func consider(best *uint64, bestDist *uint64, candidate, checkpoint uint64) {
	d := absDiff(candidate, checkpoint)
	if d < *bestDist || (d == *bestDist && candidate < *best) {
		*best, *bestDist = candidate, d
	}
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// Add returns w advanced by n (mod 2^32).
func (w Wrap32) Add(n uint64) Wrap32 {
	return w + Wrap32(uint32(n))
}
