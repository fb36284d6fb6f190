// internal/game/engine.go
//
// State machine for a single Croc Dentist game.
// Responsibilities:
//   - Create games with a fixed number of teeth.
//   - Validate and record a tooth press (Idle → AwaitingResolution).
//   - Consume an oracle value for the pending press (AwaitingResolution → Idle).
//   - Reset a finished game for another round.
//
// Every method checks all preconditions before touching the receiver, so a
// returned error always leaves the state unchanged.
package game

import (
	"fmt"
	"time"
)

// New constructs a fresh game for index with totalTeeth teeth.
func New(index uint32, totalTeeth uint8) (*State, error) {
	if totalTeeth == 0 || totalTeeth > MaxTotalTeeth {
		return nil, fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidTeeth, totalTeeth, MaxTotalTeeth)
	}
	return &State{
		GameIndex:  index,
		TotalTeeth: totalTeeth,
		Phase:      PhaseIdle,
	}, nil
}

// TeethRemaining is the number of teeth not yet resolved.
func (s *State) TeethRemaining() uint8 {
	if s.TeethPressedCount >= s.TotalTeeth {
		return 0
	}
	return s.TotalTeeth - s.TeethPressedCount
}

// Awaiting reports whether a press is waiting on the oracle.
func (s *State) Awaiting() bool { return s.Phase == PhaseAwaiting }

// expired reports whether the pending request is older than timeout.
// A zero timeout never expires.
func (s *State) expired(now time.Time, timeout time.Duration) bool {
	return timeout > 0 && !s.RequestedAt.IsZero() && now.Sub(s.RequestedAt) >= timeout
}

// BeginPress records the intent to press tooth under requestID.
//
// pendingTimeout lets a new press supersede a request the oracle never
// answered; zero keeps the game locked until the callback arrives.
func (s *State) BeginPress(tooth uint8, requestID string, now time.Time, pendingTimeout time.Duration) error {
	if s.GameOver {
		return ErrGameAlreadyOver
	}
	if tooth >= s.TotalTeeth {
		return fmt.Errorf("%w: %d (game has %d teeth)", ErrInvalidToothIndex, tooth, s.TotalTeeth)
	}
	if s.PressedTeeth.Has(tooth) {
		return fmt.Errorf("%w: %d", ErrToothAlreadyPressed, tooth)
	}
	if s.Awaiting() && !s.expired(now, pendingTimeout) {
		return fmt.Errorf("%w: tooth %d", ErrResolutionPending, s.CurrentTooth)
	}

	s.CurrentTooth = tooth
	s.Phase = PhaseAwaiting
	s.RequestID = requestID
	s.RequestedAt = now.UTC()
	return nil
}

// AbortPress returns to Idle when the request for requestID could not be
// handed to the oracle. Any other request id is left alone.
func (s *State) AbortPress(requestID string) {
	if !s.Awaiting() || s.RequestID != requestID {
		return
	}
	s.Phase = PhaseIdle
	s.RequestID = ""
	s.RequestedAt = time.Time{}
}

// ApplyRandomness resolves the pending press with a verified random value.
//
// The tooth is marked pressed whatever the outcome. The game ends on a bite
// or once every tooth has been resolved.
func (s *State) ApplyRandomness(requestID string, randomness [32]byte) (Resolution, error) {
	if !s.Awaiting() {
		return Resolution{}, fmt.Errorf("%w: no request pending", ErrStaleCallback)
	}
	if requestID != s.RequestID {
		return Resolution{}, fmt.Errorf("%w: got %q, pending %q", ErrStaleCallback, requestID, s.RequestID)
	}
	tooth := s.CurrentTooth
	if tooth >= s.TotalTeeth || s.PressedTeeth.Has(tooth) {
		return Resolution{}, fmt.Errorf("%w: pending tooth %d is not pressable", ErrInvariant, tooth)
	}

	remaining := s.TeethRemaining()
	outcome, draw, err := Resolve(randomness, remaining)
	if err != nil {
		return Resolution{}, err
	}

	s.PressedTeeth = s.PressedTeeth.With(tooth)
	s.TeethPressedCount++
	s.LastOutcome = outcome
	s.LastDraw = draw
	s.Phase = PhaseIdle
	s.RequestID = ""
	s.RequestedAt = time.Time{}
	if outcome == OutcomeBite || s.TeethPressedCount >= s.TotalTeeth {
		s.GameOver = true
	}

	return Resolution{
		Tooth:          tooth,
		TeethRemaining: remaining,
		Draw:           draw,
		Outcome:        outcome,
		GameOver:       s.GameOver,
	}, nil
}

// Reset starts a new round on a finished game. GameIndex and TotalTeeth
// are kept.
func (s *State) Reset() error {
	if !s.GameOver {
		return ErrGameNotOver
	}
	s.PressedTeeth = 0
	s.TeethPressedCount = 0
	s.CurrentTooth = 0
	s.GameOver = false
	s.Phase = PhaseIdle
	s.RequestID = ""
	s.RequestedAt = time.Time{}
	s.LastOutcome = ""
	s.LastDraw = 0
	return nil
}

// Validate checks the structural invariants of a loaded state.
func (s *State) Validate() error {
	if s.TotalTeeth == 0 || s.TotalTeeth > MaxTotalTeeth {
		return fmt.Errorf("%w: total teeth %d", ErrInvariant, s.TotalTeeth)
	}
	if s.PressedTeeth.Count() != s.TeethPressedCount {
		return fmt.Errorf("%w: count %d != popcount %d", ErrInvariant, s.TeethPressedCount, s.PressedTeeth.Count())
	}
	if s.TeethPressedCount > s.TotalTeeth {
		return fmt.Errorf("%w: %d teeth pressed of %d", ErrInvariant, s.TeethPressedCount, s.TotalTeeth)
	}
	if s.TotalTeeth < MaxTotalTeeth && s.PressedTeeth>>s.TotalTeeth != 0 {
		return fmt.Errorf("%w: bits set beyond tooth %d", ErrInvariant, s.TotalTeeth-1)
	}
	if s.Phase != PhaseIdle && s.Phase != PhaseAwaiting {
		return fmt.Errorf("%w: unknown phase %q", ErrInvariant, s.Phase)
	}
	return nil
}
