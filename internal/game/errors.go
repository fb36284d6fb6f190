package game

import "errors"

// Precondition failures. None of them mutate state.
var (
	ErrGameAlreadyOver     = errors.New("game is already over")
	ErrInvalidToothIndex   = errors.New("invalid tooth index")
	ErrToothAlreadyPressed = errors.New("tooth has already been pressed")
	ErrGameNotOver         = errors.New("game is not over yet")
	ErrResolutionPending   = errors.New("a tooth is already awaiting resolution")
	ErrStaleCallback       = errors.New("callback does not match the pending request")
	ErrInvalidTeeth        = errors.New("total teeth out of range")
)

// ErrInvariant marks an internal-consistency breach. It is fatal for the
// request that hit it and is never retried.
var ErrInvariant = errors.New("game state invariant violated")
