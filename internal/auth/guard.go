// internal/auth/guard.go
//
// Authorization Guard for every entry point.
//   - Players present an HS256 session token (bearer header or cookie).
//   - The randomness oracle presents a signed fulfillment token; only
//     identities on the allow-list are accepted.
//
// The guard runs before any game record is read or written.

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/robalobadob/crocdentist/internal/oracle"
)

var (
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrUnauthorizedCallback = errors.New("callback caller is not a trusted oracle")
)

// Player is the authenticated caller of a player-facing entry point.
type Player struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Guard validates callers.
type Guard struct {
	secret    []byte
	ttl       time.Duration
	users     *Users
	oracleKey []byte
	trusted   map[string]struct{}
	now       func() time.Time
}

// GuardConfig configures a Guard.
type GuardConfig struct {
	SessionSecret    []byte
	SessionTTL       time.Duration
	OracleKey        []byte
	OracleIdentities []string
}

// NewGuard builds a Guard. users may be nil, in which case tokens are
// trusted without checking that the account still exists.
func NewGuard(cfg GuardConfig, users *Users) *Guard {
	trusted := make(map[string]struct{}, len(cfg.OracleIdentities))
	for _, id := range cfg.OracleIdentities {
		if id != "" {
			trusted[id] = struct{}{}
		}
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	return &Guard{
		secret:    cfg.SessionSecret,
		ttl:       ttl,
		users:     users,
		oracleKey: cfg.OracleKey,
		trusted:   trusted,
		now:       time.Now,
	}
}

// IssueSession signs a session token for p.
func (g *Guard) IssueSession(p Player) (string, time.Time, error) {
	now := g.now()
	exp := now.Add(g.ttl)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":       p.ID,
		"username": p.Username,
		"exp":      exp.Unix(),
		"iat":      now.Unix(),
	})
	ss, err := t.SignedString(g.secret)
	return ss, exp, err
}

// Player validates a session token and returns its player.
func (g *Guard) Player(ctx context.Context, token string) (*Player, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	claims := jwt.MapClaims{}
	t, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !t.Valid {
		return nil, ErrUnauthenticated
	}
	id, _ := claims["id"].(string)
	username, _ := claims["username"].(string)
	if id == "" || username == "" {
		return nil, ErrUnauthenticated
	}
	if g.users != nil {
		if _, err := g.users.FindByID(ctx, id); err != nil {
			return nil, ErrUnauthenticated
		}
	}
	return &Player{ID: id, Username: username}, nil
}

// OracleFulfillment verifies that token was signed by a trusted oracle and
// returns the fulfillment it carries.
func (g *Guard) OracleFulfillment(token string) (oracle.Fulfillment, error) {
	if token == "" {
		return oracle.Fulfillment{}, ErrUnauthorizedCallback
	}
	f, err := oracle.Parse(g.oracleKey, token)
	if err != nil {
		return oracle.Fulfillment{}, fmt.Errorf("%w: %v", ErrUnauthorizedCallback, err)
	}
	if _, ok := g.trusted[f.Identity]; !ok {
		return oracle.Fulfillment{}, fmt.Errorf("%w: identity %q", ErrUnauthorizedCallback, f.Identity)
	}
	return f, nil
}

type ctxPlayerKey struct{}

// WithPlayer stores p in ctx.
func WithPlayer(ctx context.Context, p *Player) context.Context {
	return context.WithValue(ctx, ctxPlayerKey{}, p)
}

// PlayerFrom returns the player stored by WithPlayer, or nil.
func PlayerFrom(ctx context.Context) *Player {
	p, _ := ctx.Value(ctxPlayerKey{}).(*Player)
	return p
}
