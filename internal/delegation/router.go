// internal/delegation/router.go
//
// Ownership routing between the two execution environments.
//
// Every game is created on the base layer. Delegating copies the record into
// the ephemeral environment and marks the base copy as delegated; from then on
// the ephemeral copy is authoritative and the base copy is read-only.
// Undelegating commits the ephemeral copy back and removes it.
//
// All operations on one key run under that key's lock stripe, so no gameplay
// update can interleave with a migration of the same record.

package delegation

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/robalobadob/crocdentist/internal/store"
)

// Environment names.
const (
	EnvBase      = "base"
	EnvEphemeral = "ephemeral"
)

var (
	ErrAlreadyDelegated = errors.New("game is already delegated")
	ErrNotDelegated     = errors.New("game is not delegated")
	ErrNotOwner         = errors.New("caller does not own this game")
)

// Router resolves which environment owns a record and applies updates there.
type Router struct {
	base      store.Store
	ephemeral store.Store

	locks [lockStripes]sync.Mutex
}

// lockStripes bounds the lock table. Keys that hash to the same stripe
// share a mutex.
const lockStripes = 256

// New returns a Router over the base-layer and ephemeral stores.
func New(base, ephemeral store.Store) *Router {
	return &Router{base: base, ephemeral: ephemeral}
}

// stripe returns the index of the mutex guarding key.
func stripe(key store.Key) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.Namespace))
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], key.Index)
	_, _ = h.Write(idx[:])
	return int(h.Sum32() % lockStripes)
}

// lock acquires the mutex guarding key and returns its release func.
func (r *Router) lock(key store.Key) func() {
	l := &r.locks[stripe(key)]
	l.Lock()
	return l.Unlock
}

// Create inserts rec on the base layer unless it already exists.
func (r *Router) Create(ctx context.Context, rec *store.Record) (*store.Record, bool, error) {
	defer r.lock(rec.Key)()
	created, err := r.base.Create(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	cur, err := r.authoritative(ctx, rec.Key)
	if err != nil {
		return nil, false, err
	}
	return cur, created, nil
}

// Authoritative loads the copy that currently owns key.
func (r *Router) Authoritative(ctx context.Context, key store.Key) (*store.Record, error) {
	defer r.lock(key)()
	return r.authoritative(ctx, key)
}

func (r *Router) authoritative(ctx context.Context, key store.Key) (*store.Record, error) {
	rec, err := r.base.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !rec.Delegated {
		return rec, nil
	}
	eph, err := r.ephemeral.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("game %s delegated but missing from %s", key, EnvEphemeral)
	}
	return eph, err
}

// EnvOf names the environment a record copy lives in.
func EnvOf(rec *store.Record) string {
	if rec.Delegated {
		return EnvEphemeral
	}
	return EnvBase
}

// Update applies fn to the authoritative copy of key. A copy whose state
// fails game.State.Validate is never handed to fn.
func (r *Router) Update(ctx context.Context, key store.Key, fn func(*store.Record) error) (*store.Record, error) {
	defer r.lock(key)()
	rec, err := r.base.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	checked := func(rec *store.Record) error {
		if err := rec.State.Validate(); err != nil {
			return fmt.Errorf("load %s: %w", key, err)
		}
		return fn(rec)
	}
	if rec.Delegated {
		return r.ephemeral.Update(ctx, key, checked)
	}
	return r.base.Update(ctx, key, checked)
}

// KeyForAddress finds the key of the record with the given address.
// Every record has a base-layer copy, so the base store is authoritative
// for address lookups.
func (r *Router) KeyForAddress(ctx context.Context, addr string) (store.Key, error) {
	rec, err := r.base.GetByAddress(ctx, addr)
	if err != nil {
		return store.Key{}, err
	}
	return rec.Key, nil
}

// Snapshot returns both copies of key. Either may be nil when absent.
func (r *Router) Snapshot(ctx context.Context, key store.Key) (base, ephemeral *store.Record, err error) {
	defer r.lock(key)()
	base, err = r.base.Get(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}
	ephemeral, err = r.ephemeral.Get(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}
	if base == nil && ephemeral == nil {
		return nil, nil, store.ErrNotFound
	}
	return base, ephemeral, nil
}

// Delegate moves ownership of key to the ephemeral environment. validator
// optionally pins the executor that should host the record.
func (r *Router) Delegate(ctx context.Context, key store.Key, owner, validator string) (*store.Record, error) {
	defer r.lock(key)()
	rec, err := r.base.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.Owner != owner {
		return nil, ErrNotOwner
	}
	if rec.Delegated {
		return nil, ErrAlreadyDelegated
	}

	cp := rec.Clone()
	cp.Delegated = true
	cp.Validator = validator
	if err := r.ephemeral.Put(ctx, cp); err != nil {
		return nil, fmt.Errorf("copy %s to %s: %w", key, EnvEphemeral, err)
	}
	if _, err := r.base.Update(ctx, key, func(b *store.Record) error {
		b.Delegated = true
		b.Validator = validator
		return nil
	}); err != nil {
		if derr := r.ephemeral.Delete(ctx, key); derr != nil {
			log.Error().Err(derr).Str("game", key.String()).Msg("roll back ephemeral copy")
		}
		return nil, fmt.Errorf("mark %s delegated: %w", key, err)
	}

	log.Info().Str("game", key.String()).Str("validator", validator).Msg("delegated")
	return r.ephemeral.Get(ctx, key)
}

// Undelegate commits the ephemeral copy of key back to the base layer and
// returns ownership to it.
func (r *Router) Undelegate(ctx context.Context, key store.Key, owner string) (*store.Record, error) {
	defer r.lock(key)()
	rec, err := r.base.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.Owner != owner {
		return nil, ErrNotOwner
	}
	if !rec.Delegated {
		return nil, ErrNotDelegated
	}
	eph, err := r.ephemeral.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %s from %s: %w", key, EnvEphemeral, err)
	}

	committed, err := r.base.Update(ctx, key, func(b *store.Record) error {
		b.State = eph.State
		b.Delegated = false
		b.Validator = ""
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("commit %s to %s: %w", key, EnvBase, err)
	}
	if err := r.ephemeral.Delete(ctx, key); err != nil {
		// The base copy is authoritative again; a leftover ephemeral row is
		// overwritten by the next delegation.
		log.Warn().Err(err).Str("game", key.String()).Msg("delete ephemeral copy")
	}

	log.Info().Str("game", key.String()).Msg("undelegated")
	return committed, nil
}
