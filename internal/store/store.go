// internal/store/store.go
//
// Persistence contract for game records.
// A Store holds the copies of game records that live in one execution
// environment (the base layer or the ephemeral executor). Records are keyed
// by (namespace, game index) and can also be found by their derived address,
// which is what the randomness oracle carries back in its callbacks.
//
// Implementations:
//   - memory.go: map-backed, for tests and single-process deployments.
//   - sqlite.go: SQLite-backed, one table shared by both environments.

package store

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/robalobadob/crocdentist/internal/game"
)

// DefaultNamespace is the address seed used when none is configured.
const DefaultNamespace = "croc_dent_game"

// ErrNotFound is returned when no record exists for a key or address.
var ErrNotFound = errors.New("record not found")

// Key identifies a game record.
type Key struct {
	Namespace string
	Index     uint32
}

func (k Key) String() string { return fmt.Sprintf("%s/%d", k.Namespace, k.Index) }

// Address derives the stable record address: sha256(namespace || le32(index)).
func (k Key) Address() string {
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], k.Index)
	h := sha256.New()
	h.Write([]byte(k.Namespace))
	h.Write(idx[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Record is a game state plus the control-plane metadata around it.
type Record struct {
	Key       Key        `json:"-"`
	Address   string     `json:"address"`
	Owner     string     `json:"owner"`
	Delegated bool       `json:"delegated"`
	Validator string     `json:"validator,omitempty"`
	State     game.State `json:"state"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Clone returns an independent copy of r.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// Store persists records for one execution environment.
type Store interface {
	// Create inserts rec unless a record with the same key exists.
	// It reports whether a new record was written.
	Create(ctx context.Context, rec *Record) (bool, error)

	// Get loads the record for key or returns ErrNotFound.
	Get(ctx context.Context, key Key) (*Record, error)

	// GetByAddress loads the record whose derived address is addr.
	GetByAddress(ctx context.Context, addr string) (*Record, error)

	// Update applies fn to the stored record atomically. If fn returns an
	// error nothing is written and the error is returned unchanged.
	Update(ctx context.Context, key Key, fn func(*Record) error) (*Record, error)

	// Put writes rec, replacing any existing record with the same key.
	Put(ctx context.Context, rec *Record) error

	// Delete removes the record for key. Missing records are not an error.
	Delete(ctx context.Context, key Key) error
}
