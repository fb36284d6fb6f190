package game

import (
	"encoding/binary"
	"fmt"
)

// DrawInRange maps verified randomness to an integer in [lo, hi].
// The first 8 bytes are read big-endian and reduced modulo the span;
// for spans this small the modulo bias is below 2^-59.
func DrawInRange(randomness [32]byte, lo, hi uint8) uint8 {
	if hi <= lo {
		return lo
	}
	span := uint64(hi-lo) + 1
	n := binary.BigEndian.Uint64(randomness[:8])
	return lo + uint8(n%span)
}

// Resolve decides whether the tooth being checked bites.
//
// teethRemaining counts the unresolved teeth including the current one.
// One integer is drawn from [1, teethRemaining]; the tooth bites iff it is 1,
// so the last remaining tooth always bites.
func Resolve(randomness [32]byte, teethRemaining uint8) (Outcome, uint8, error) {
	if teethRemaining == 0 {
		return "", 0, fmt.Errorf("%w: resolving with zero teeth remaining", ErrInvariant)
	}
	draw := DrawInRange(randomness, 1, teethRemaining)
	if draw == 1 {
		return OutcomeBite, draw, nil
	}
	return OutcomeSafe, draw, nil
}
