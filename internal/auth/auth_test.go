package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/crocdentist/internal/oracle"
	"github.com/robalobadob/crocdentist/internal/store"
)

var oracleKey = []byte("oracle-key")

func newUsers(t *testing.T) *Users {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(db))
	return NewUsers(db)
}

func newGuard(users *Users) *Guard {
	return NewGuard(GuardConfig{
		SessionSecret:    []byte("session-secret"),
		OracleKey:        oracleKey,
		OracleIdentities: []string{oracle.DefaultIdentity},
	}, users)
}

func TestSignupAndLogin(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	u, err := users.Create(ctx, "  dentist_1 ", "correct horse")
	require.NoError(t, err)
	require.Equal(t, "dentist_1", u.Username)
	require.NotEqual(t, "correct horse", u.PasswordHash)

	_, err = users.Create(ctx, "DENTIST_1", "another password")
	require.ErrorIs(t, err, ErrUsernameTaken)

	got, err := users.Authenticate(ctx, "dentist_1", "correct horse")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	_, err = users.Authenticate(ctx, "dentist_1", "wrong password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = users.Authenticate(ctx, "nobody", "correct horse")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignupValidation(t *testing.T) {
	users := newUsers(t)
	testCases := []struct {
		name, username, password string
	}{
		{"short username", "ab", "password123"},
		{"bad characters", "croc-dentist", "password123"},
		{"short password", "croc", "short"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := users.Create(context.Background(), tc.username, tc.password)
			require.Error(t, err)
		})
	}
}

func TestSessionTokens(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)
	g := newGuard(users)

	u, err := users.Create(ctx, "player_one", "password123")
	require.NoError(t, err)

	tok, exp, err := g.IssueSession(Player{ID: u.ID, Username: u.Username})
	require.NoError(t, err)
	require.True(t, exp.After(time.Now()))

	p, err := g.Player(ctx, tok)
	require.NoError(t, err)
	require.Equal(t, u.ID, p.ID)

	_, err = g.Player(ctx, "")
	require.ErrorIs(t, err, ErrUnauthenticated)
	_, err = g.Player(ctx, tok+"x")
	require.ErrorIs(t, err, ErrUnauthenticated)

	ghost, _, err := g.IssueSession(Player{ID: "deleted", Username: "ghost"})
	require.NoError(t, err)
	_, err = g.Player(ctx, ghost)
	require.ErrorIs(t, err, ErrUnauthenticated)

	other := NewGuard(GuardConfig{SessionSecret: []byte("different")}, nil)
	_, err = other.Player(ctx, tok)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestOracleFulfillment(t *testing.T) {
	g := newGuard(nil)
	f := oracle.Fulfillment{RequestID: "req", Game: "addr", Callback: oracle.CallbackCheckTooth}

	trusted, err := oracle.NewSigner(oracleKey, oracle.DefaultIdentity).Sign(f)
	require.NoError(t, err)
	got, err := g.OracleFulfillment(trusted)
	require.NoError(t, err)
	require.Equal(t, "req", got.RequestID)

	testCases := []struct {
		name  string
		token func() string
	}{
		{"missing", func() string { return "" }},
		{"unknown identity", func() string {
			tok, _ := oracle.NewSigner(oracleKey, "impostor").Sign(f)
			return tok
		}},
		{"wrong key", func() string {
			tok, _ := oracle.NewSigner([]byte("guess"), oracle.DefaultIdentity).Sign(f)
			return tok
		}},
		{"player session", func() string {
			tok, _, _ := g.IssueSession(Player{ID: "p", Username: "player"})
			return tok
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.OracleFulfillment(tc.token())
			require.ErrorIs(t, err, ErrUnauthorizedCallback)
		})
	}
}

func TestPlayerContext(t *testing.T) {
	ctx := context.Background()
	require.Nil(t, PlayerFrom(ctx))
	p := &Player{ID: "1", Username: "x"}
	require.Equal(t, p, PlayerFrom(WithPlayer(ctx, p)))
}
