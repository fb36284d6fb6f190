// internal/game/types.go
//
// Core type definitions for the Croc Dentist game engine.
// Defines:
//   - Bitmap: set of teeth already pressed and resolved.
//   - Phase: whether a tooth press is waiting on the randomness oracle.
//   - Outcome: result of resolving one tooth (bite/safe).
//   - State: the persisted record of one game instance.

package game

import (
	"math/bits"
	"time"
)

const (
	// DefaultTotalTeeth is the table size used when none is configured.
	DefaultTotalTeeth uint8 = 10
	// MaxTotalTeeth is bounded by the width of Bitmap.
	MaxTotalTeeth uint8 = 16
)

// Bitmap records pressed teeth; bit i set means tooth i has been resolved.
type Bitmap uint16

// Has reports whether tooth i is set.
func (b Bitmap) Has(i uint8) bool {
	if i >= MaxTotalTeeth {
		return false
	}
	return b&(1<<i) != 0
}

// With returns b with tooth i set.
func (b Bitmap) With(i uint8) Bitmap { return b | 1<<i }

// Count is the population count of the bitmap.
func (b Bitmap) Count() uint8 { return uint8(bits.OnesCount16(uint16(b))) }

// Teeth lists the set tooth indexes in ascending order.
func (b Bitmap) Teeth() []uint8 {
	out := []uint8{}
	for i := uint8(0); i < MaxTotalTeeth; i++ {
		if b.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

// Phase is the suspension tag of the request/callback protocol.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseAwaiting Phase = "awaiting_resolution"
)

// Outcome is the result of resolving a single tooth.
type Outcome string

const (
	OutcomeBite Outcome = "bite"
	OutcomeSafe Outcome = "safe"
)

// State holds the progress of one game instance.
//
// CurrentTooth, RequestID and RequestedAt are only meaningful while
// Phase == PhaseAwaiting.
type State struct {
	GameIndex         uint32    `json:"gameIndex"`
	TotalTeeth        uint8     `json:"totalTeeth"`
	PressedTeeth      Bitmap    `json:"pressedTeeth"`
	TeethPressedCount uint8     `json:"teethPressedCount"`
	CurrentTooth      uint8     `json:"currentTooth"`
	GameOver          bool      `json:"gameOver"`
	Phase             Phase     `json:"phase"`
	RequestID         string    `json:"requestId,omitempty"`
	RequestedAt       time.Time `json:"requestedAt,omitempty"`
	LastOutcome       Outcome   `json:"lastOutcome,omitempty"`
	LastDraw          uint8     `json:"lastDraw,omitempty"`
}

// Resolution describes what a callback did to the game.
type Resolution struct {
	Tooth          uint8   `json:"tooth"`
	TeethRemaining uint8   `json:"teethRemaining"`
	Draw           uint8   `json:"draw"`
	Outcome        Outcome `json:"outcome"`
	GameOver       bool    `json:"gameOver"`
}
