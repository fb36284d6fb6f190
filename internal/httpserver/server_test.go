package httpserver

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/crocdentist/internal/auth"
	"github.com/robalobadob/crocdentist/internal/croc"
	"github.com/robalobadob/crocdentist/internal/delegation"
	"github.com/robalobadob/crocdentist/internal/game"
	"github.com/robalobadob/crocdentist/internal/oracle"
	"github.com/robalobadob/crocdentist/internal/store"
)

var oracleKey = []byte("http-test-oracle")

type captureOracle struct {
	mu   sync.Mutex
	reqs []oracle.Request
}

func (c *captureOracle) RequestRandomness(_ context.Context, req oracle.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	return nil
}

func (c *captureOracle) last() oracle.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reqs[len(c.reqs)-1]
}

type testServer struct {
	h      http.Handler
	oracle *captureOracle
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := sql.Open("sqlite3", store.DSN(filepath.Join(t.TempDir(), "http.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(db))

	router := delegation.New(
		store.NewSQLiteStore(db, delegation.EnvBase),
		store.NewSQLiteStore(db, delegation.EnvEphemeral),
	)
	users := auth.NewUsers(db)
	guard := auth.NewGuard(auth.GuardConfig{
		SessionSecret:    []byte("http-test-session"),
		OracleKey:        oracleKey,
		OracleIdentities: []string{oracle.DefaultIdentity},
	}, users)
	co := &captureOracle{}
	svc := croc.New(router, co, guard, croc.Options{})
	return &testServer{h: New(svc, users, guard, Options{}).Handler(), oracle: co}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func (ts *testServer) signup(t *testing.T, username string) string {
	t.Helper()
	rec, out := ts.do(t, http.MethodPost, "/auth/signup", "", credentialsReq{Username: username, Password: "password123"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return out["token"].(string)
}

func (ts *testServer) fulfill(t *testing.T, draw uint8) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := ts.oracle.last()
	var rnd [32]byte
	rnd[7] = draw - 1
	tok, err := oracle.NewSigner(oracleKey, oracle.DefaultIdentity).Sign(oracle.Fulfillment{
		RequestID: req.ID, Callback: req.Callback, Game: req.Game, Seed: req.CallerSeed, Randomness: rnd,
	})
	require.NoError(t, err)
	return ts.do(t, http.MethodPost, "/oracle/callback/check-tooth", tok, nil)
}

func tooth(n uint8) *uint8 { return &n }

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec, out := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, out["ok"])
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.signup(t, "croc_fan")

	rec, out := ts.do(t, http.MethodGet, "/auth/me", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "croc_fan", out["username"])

	rec, out = ts.do(t, http.MethodPost, "/auth/signup", "", credentialsReq{Username: "croc_fan", Password: "password123"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "username_taken", out["error"])

	rec, _ = ts.do(t, http.MethodPost, "/auth/login", "", credentialsReq{Username: "croc_fan", Password: "password123"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Result().Cookies())

	rec, out = ts.do(t, http.MethodPost, "/auth/login", "", credentialsReq{Username: "croc_fan", Password: "nope-nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_credentials", out["error"])

	rec, _ = ts.do(t, http.MethodGet, "/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCookieAuth(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.signup(t, "cookie_user")
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "croc_token", Value: tok})
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGameRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.signup(t, "dentist")

	rec, out := ts.do(t, http.MethodPost, "/games/1", tok, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, delegation.EnvBase, out["environment"])
	require.EqualValues(t, 10, out["teethRemaining"])

	rec, _ = ts.do(t, http.MethodPost, "/games/1", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, out = ts.do(t, http.MethodPost, "/games/1/press", tok, pressReq{Tooth: tooth(4), ClientSeed: 9})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	state := out["state"].(map[string]any)
	require.Equal(t, string(game.PhaseAwaiting), state["phase"])

	rec, out = ts.do(t, http.MethodPost, "/games/1/press", tok, pressReq{Tooth: tooth(5)})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "resolution_pending", out["error"])

	rec, out = ts.fulfill(t, 2)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := out["resolution"].(map[string]any)
	require.Equal(t, string(game.OutcomeSafe), res["outcome"])
	require.Equal(t, []any{float64(4)}, out["game"].(map[string]any)["pressed"])

	rec, out = ts.do(t, http.MethodPost, "/games/1/press", tok, pressReq{Tooth: tooth(4)})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "tooth_already_pressed", out["error"])

	rec, out = ts.do(t, http.MethodPost, "/games/1/press", tok, pressReq{Tooth: tooth(10)})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_tooth_index", out["error"])

	rec, out = ts.do(t, http.MethodPost, "/games/1/new", tok, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "game_not_over", out["error"])

	rec, _ = ts.do(t, http.MethodPost, "/games/1/press", tok, pressReq{Tooth: tooth(0)})
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec, out = ts.fulfill(t, 1)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, out["resolution"].(map[string]any)["gameOver"])

	rec, out = ts.do(t, http.MethodPost, "/games/1/press", tok, pressReq{Tooth: tooth(1)})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "game_already_over", out["error"])

	rec, out = ts.do(t, http.MethodPost, "/games/1/new", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 10, out["teethRemaining"])
}

func TestCallbackRejectsUntrustedCallers(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.signup(t, "dentist")
	rec, _ := ts.do(t, http.MethodPost, "/games/2", tok, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = ts.do(t, http.MethodPost, "/games/2/press", tok, pressReq{Tooth: tooth(1)})
	require.Equal(t, http.StatusAccepted, rec.Code)

	// A player session is not an oracle token.
	rec, out := ts.do(t, http.MethodPost, "/oracle/callback/check-tooth", tok, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "unauthorized_callback", out["error"])

	rec, _ = ts.do(t, http.MethodPost, "/oracle/callback/check-tooth", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	_, out = ts.do(t, http.MethodGet, "/games/2", "", nil)
	g := out["game"].(map[string]any)
	require.Equal(t, string(game.PhaseAwaiting), g["state"].(map[string]any)["phase"])

	rec, _ = ts.fulfill(t, 2)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, out = ts.fulfill(t, 2)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "stale_callback", out["error"])
}

func TestDelegationRoutes(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.signup(t, "owner_one")
	other := ts.signup(t, "other_one")
	rec, _ := ts.do(t, http.MethodPost, "/games/3", owner, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, out := ts.do(t, http.MethodPost, "/games/3/delegate", other, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "not_owner", out["error"])

	rec, out = ts.do(t, http.MethodPost, "/games/3/delegate", owner, delegateReq{Validator: "v1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, delegation.EnvEphemeral, out["environment"])
	require.Equal(t, "v1", out["validator"])

	rec, out = ts.do(t, http.MethodPost, "/games/3/delegate", owner, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "already_delegated", out["error"])

	rec, _ = ts.do(t, http.MethodPost, "/games/3/press", other, pressReq{Tooth: tooth(2)})
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec, _ = ts.fulfill(t, 2)
	require.Equal(t, http.StatusOK, rec.Code)

	_, out = ts.do(t, http.MethodGet, "/games/3", "", nil)
	require.Equal(t, delegation.EnvEphemeral, out["environment"])
	require.NotNil(t, out["base"])
	require.NotNil(t, out["ephemeral"])

	rec, out = ts.do(t, http.MethodPost, "/games/3/undelegate", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, delegation.EnvBase, out["environment"])
	require.EqualValues(t, 9, out["teethRemaining"])

	rec, out = ts.do(t, http.MethodPost, "/games/3/undelegate", owner, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "not_delegated", out["error"])
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.signup(t, "dentist")

	testCases := []struct {
		name, method, path, token string
		body                      any
		status                    int
		code                      string
	}{
		{"no auth", http.MethodPost, "/games/1", "", nil, http.StatusUnauthorized, "unauthorized"},
		{"bad index", http.MethodPost, "/games/abc", tok, nil, http.StatusBadRequest, "invalid_game_index"},
		{"missing game", http.MethodGet, "/games/99", "", nil, http.StatusNotFound, "game_not_found"},
		{"press missing game", http.MethodPost, "/games/99/press", tok, pressReq{Tooth: tooth(0)}, http.StatusNotFound, "game_not_found"},
		{"press without tooth", http.MethodPost, "/games/1/press", tok, map[string]int{"clientSeed": 1}, http.StatusBadRequest, "invalid_json"},
		{"unknown route", http.MethodGet, "/nope", "", nil, http.StatusNotFound, "not_found"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec, out := ts.do(t, tc.method, tc.path, tc.token, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Equal(t, tc.code, out["error"])
		})
	}
}
