// Package oracle implements the randomness oracle collaborator: requests
// carrying a caller seed and a routing address go in, signed fulfillment
// tokens carrying a 32-byte random value come out.
package oracle

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIdentity is the subject oracle tokens are signed as.
const DefaultIdentity = "vrf-program-identity"

// CallbackCheckTooth is the callback route for tooth resolutions.
const CallbackCheckTooth = "check_tooth"

// ErrInvalidToken is returned for tokens that fail signature or claim checks.
var ErrInvalidToken = errors.New("invalid fulfillment token")

// Request asks the oracle for one random value.
type Request struct {
	ID         string
	CallerSeed [32]byte
	Callback   string
	Game       string // address of the record the callback must reach
	Payer      string // player the request is made for
}

// Fulfillment is the oracle's answer to a Request.
type Fulfillment struct {
	RequestID  string
	Callback   string
	Game       string
	Seed       [32]byte
	Randomness [32]byte
	Identity   string // who signed it; filled in by Parse
}

type fulfillmentClaims struct {
	jwt.RegisteredClaims
	Callback   string `json:"cb"`
	Game       string `json:"game"`
	Seed       string `json:"seed"`
	Randomness string `json:"rnd"`
}

// Derive computes the random value for a request:
// HMAC-SHA256(key, seed || game || requestID). Anyone holding key can
// recompute it from a fulfillment.
func Derive(key []byte, seed [32]byte, game, requestID string) [32]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(seed[:])
	mac.Write([]byte(game))
	mac.Write([]byte(requestID))
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// Signer issues fulfillment tokens under one oracle identity.
type Signer struct {
	key      []byte
	identity string
	ttl      time.Duration
	now      func() time.Time
}

// NewSigner returns a Signer for identity using the HS256 key.
func NewSigner(key []byte, identity string) *Signer {
	return &Signer{key: key, identity: identity, ttl: 5 * time.Minute, now: time.Now}
}

// Sign encodes f as a signed token.
func (s *Signer) Sign(f Fulfillment) (string, error) {
	now := s.now()
	claims := fulfillmentClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        f.RequestID,
			Issuer:    s.identity,
			Subject:   s.identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Callback:   f.Callback,
		Game:       f.Game,
		Seed:       hex.EncodeToString(f.Seed[:]),
		Randomness: hex.EncodeToString(f.Randomness[:]),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Parse checks the signature and expiry of token and decodes it.
// It does not decide whether the signing identity is trusted.
func Parse(key []byte, token string) (Fulfillment, error) {
	var claims fulfillmentClaims
	t, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !t.Valid {
		return Fulfillment{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	f := Fulfillment{
		RequestID: claims.ID,
		Callback:  claims.Callback,
		Game:      claims.Game,
		Identity:  claims.Subject,
	}
	if err := decode32(claims.Seed, &f.Seed); err != nil {
		return Fulfillment{}, fmt.Errorf("%w: seed: %v", ErrInvalidToken, err)
	}
	if err := decode32(claims.Randomness, &f.Randomness); err != nil {
		return Fulfillment{}, fmt.Errorf("%w: randomness: %v", ErrInvalidToken, err)
	}
	if f.RequestID == "" || f.Game == "" {
		return Fulfillment{}, fmt.Errorf("%w: missing request or game", ErrInvalidToken)
	}
	return f, nil
}

func decode32(s string, dst *[32]byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("want %d bytes, got %d", len(dst), len(b))
	}
	copy(dst[:], b)
	return nil
}
