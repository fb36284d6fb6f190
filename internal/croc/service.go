// internal/croc/service.go
//
// Game service: the player and oracle entry points.
//
//   Initialize ─▶ PressTooth ─▶ (oracle) ─▶ CallbackCheckTooth ─▶ … ─▶ NewGame
//
// PressTooth only records intent and asks the oracle for randomness; the
// tooth is resolved when the oracle calls back through CallbackCheckTooth.
// Delegate/Undelegate move ownership of a record between the base layer and
// the ephemeral environment without changing its state.

package croc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/crocdentist/internal/auth"
	"github.com/robalobadob/crocdentist/internal/delegation"
	"github.com/robalobadob/crocdentist/internal/game"
	"github.com/robalobadob/crocdentist/internal/oracle"
	"github.com/robalobadob/crocdentist/internal/store"
)

// Requester asks an oracle for randomness.
type Requester interface {
	RequestRandomness(ctx context.Context, req oracle.Request) error
}

// FulfillmentVerifier authenticates oracle callbacks.
type FulfillmentVerifier interface {
	OracleFulfillment(token string) (oracle.Fulfillment, error)
}

// Options tunes a Service.
type Options struct {
	Namespace      string
	TotalTeeth     uint8
	PendingTimeout time.Duration
}

// Service implements the game lifecycle over a delegation router.
type Service struct {
	router   *delegation.Router
	oracle   Requester
	verifier FulfillmentVerifier
	opts     Options
	now      func() time.Time
	newID    func() string
}

// New builds a Service.
func New(router *delegation.Router, o Requester, v FulfillmentVerifier, opts Options) *Service {
	if opts.Namespace == "" {
		opts.Namespace = store.DefaultNamespace
	}
	if opts.TotalTeeth == 0 {
		opts.TotalTeeth = game.DefaultTotalTeeth
	}
	return &Service{
		router:   router,
		oracle:   o,
		verifier: v,
		opts:     opts,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Key returns the record key for gameIndex.
func (s *Service) Key(gameIndex uint32) store.Key {
	return store.Key{Namespace: s.opts.Namespace, Index: gameIndex}
}

func requireCaller(caller string) error {
	if caller == "" {
		return auth.ErrUnauthenticated
	}
	return nil
}

// Initialize creates the game at gameIndex owned by caller. An existing
// record is returned untouched; created reports which case applied.
func (s *Service) Initialize(ctx context.Context, caller string, gameIndex uint32) (rec *store.Record, created bool, err error) {
	if err := requireCaller(caller); err != nil {
		return nil, false, err
	}
	st, err := game.New(gameIndex, s.opts.TotalTeeth)
	if err != nil {
		return nil, false, err
	}
	key := s.Key(gameIndex)
	rec, created, err = s.router.Create(ctx, &store.Record{
		Key:     key,
		Address: key.Address(),
		Owner:   caller,
		State:   *st,
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		log.Info().Str("game", key.String()).Str("owner", caller).Uint8("teeth", st.TotalTeeth).Msg("game initialized")
	}
	return rec, created, nil
}

// ExpandSeed widens the single client seed byte to the 32-byte caller seed.
func ExpandSeed(b byte) [32]byte {
	var seed [32]byte
	for i := range seed {
		seed[i] = b
	}
	return seed
}

// PressTooth records the intent to press tooth and requests randomness for
// it. The returned record is awaiting resolution.
func (s *Service) PressTooth(ctx context.Context, caller string, gameIndex uint32, tooth uint8, clientSeed byte) (*store.Record, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	key := s.Key(gameIndex)
	requestID := s.newID()
	rec, err := s.router.Update(ctx, key, func(r *store.Record) error {
		return r.State.BeginPress(tooth, requestID, s.now(), s.opts.PendingTimeout)
	})
	if err != nil {
		return nil, err
	}

	req := oracle.Request{
		ID:         requestID,
		CallerSeed: ExpandSeed(clientSeed),
		Callback:   oracle.CallbackCheckTooth,
		Game:       rec.Address,
		Payer:      caller,
	}
	if err := s.oracle.RequestRandomness(ctx, req); err != nil {
		if _, rerr := s.router.Update(ctx, key, func(r *store.Record) error {
			r.State.AbortPress(requestID)
			return nil
		}); rerr != nil {
			log.Error().Err(rerr).Str("game", key.String()).Str("request", requestID).Msg("roll back press")
		}
		return nil, fmt.Errorf("request randomness: %w", err)
	}

	log.Info().
		Str("game", key.String()).
		Str("env", delegation.EnvOf(rec)).
		Uint8("tooth", tooth).
		Str("request", requestID).
		Msg("tooth pressed, awaiting oracle")
	return rec, nil
}

// CallbackCheckTooth applies an oracle fulfillment to the game it names.
// The token is verified before any record is read.
func (s *Service) CallbackCheckTooth(ctx context.Context, token string) (*store.Record, game.Resolution, error) {
	f, err := s.verifier.OracleFulfillment(token)
	if err != nil {
		log.Warn().Err(err).Msg("rejected oracle callback")
		return nil, game.Resolution{}, err
	}
	if f.Callback != oracle.CallbackCheckTooth {
		return nil, game.Resolution{}, fmt.Errorf("%w: callback %q", auth.ErrUnauthorizedCallback, f.Callback)
	}
	key, err := s.router.KeyForAddress(ctx, f.Game)
	if err != nil {
		return nil, game.Resolution{}, err
	}

	var res game.Resolution
	rec, err := s.router.Update(ctx, key, func(r *store.Record) error {
		var aerr error
		res, aerr = r.State.ApplyRandomness(f.RequestID, f.Randomness)
		return aerr
	})
	if err != nil {
		ev := log.Warn()
		if errors.Is(err, game.ErrInvariant) {
			ev = log.Error()
		}
		ev.Err(err).Str("game", key.String()).Str("request", f.RequestID).Msg("oracle callback not applied")
		return nil, game.Resolution{}, err
	}

	log.Info().
		Str("game", key.String()).
		Str("env", delegation.EnvOf(rec)).
		Uint8("tooth", res.Tooth).
		Uint8("remaining", res.TeethRemaining).
		Uint8("draw", res.Draw).
		Str("outcome", string(res.Outcome)).
		Bool("gameOver", res.GameOver).
		Msg("tooth resolved")
	return rec, res, nil
}

// Deliver lets the Service receive fulfillments from an in-process oracle.
func (s *Service) Deliver(ctx context.Context, token string) error {
	_, _, err := s.CallbackCheckTooth(ctx, token)
	return err
}

// Delegate hands the game to the ephemeral environment.
func (s *Service) Delegate(ctx context.Context, caller string, gameIndex uint32, validator string) (*store.Record, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	return s.router.Delegate(ctx, s.Key(gameIndex), caller, validator)
}

// Undelegate commits the game back to the base layer.
func (s *Service) Undelegate(ctx context.Context, caller string, gameIndex uint32) (*store.Record, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	return s.router.Undelegate(ctx, s.Key(gameIndex), caller)
}

// NewGame resets a finished game for another round.
func (s *Service) NewGame(ctx context.Context, caller string, gameIndex uint32) (*store.Record, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	key := s.Key(gameIndex)
	rec, err := s.router.Update(ctx, key, func(r *store.Record) error {
		return r.State.Reset()
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("game", key.String()).Str("env", delegation.EnvOf(rec)).Msg("new game")
	return rec, nil
}

// Snapshot is what Inspect reports about one game.
type Snapshot struct {
	Address       string        `json:"address"`
	Environment   string        `json:"environment"`
	Base          *store.Record `json:"base,omitempty"`
	Ephemeral     *store.Record `json:"ephemeral,omitempty"`
	Authoritative *store.Record `json:"-"`
}

// Inspect returns both copies of the game at gameIndex.
func (s *Service) Inspect(ctx context.Context, gameIndex uint32) (*Snapshot, error) {
	key := s.Key(gameIndex)
	base, eph, err := s.router.Snapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Address: key.Address(), Base: base, Ephemeral: eph, Environment: delegation.EnvBase, Authoritative: base}
	if base != nil && base.Delegated {
		snap.Environment = delegation.EnvEphemeral
		snap.Authoritative = eph
	}
	return snap, nil
}
