// internal/httpserver/server.go
//
// HTTP server wiring for the Croc Dentist backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs).
//   - Public endpoints: "/", "/health", GET /games/{index}.
//   - Player endpoints (require auth): /auth/me, game create/press/reset,
//     delegation.
//   - Oracle endpoint: POST /oracle/callback/check-tooth (oracle token only).
//   - Error → status mapping with {"error":"<code>"} bodies.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - Player tokens are accepted from the Authorization header or the auth
//     cookie; oracle tokens only from the Authorization header.

package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/crocdentist/internal/auth"
	"github.com/robalobadob/crocdentist/internal/croc"
	"github.com/robalobadob/crocdentist/internal/delegation"
	"github.com/robalobadob/crocdentist/internal/game"
	"github.com/robalobadob/crocdentist/internal/store"
)

// Options carries the request-facing settings.
type Options struct {
	ClientOrigin string
	CookieName   string
	Production   bool
}

// Server bundles the router and the services behind it.
type Server struct {
	r     *chi.Mux
	svc   *croc.Service
	users *auth.Users
	guard *auth.Guard
	opts  Options
}

// New constructs a Server, installs middleware, and registers routes.
func New(svc *croc.Service, users *auth.Users, guard *auth.Guard, opts Options) *Server {
	if opts.CookieName == "" {
		opts.CookieName = "croc_token"
	}
	if opts.ClientOrigin == "" {
		opts.ClientOrigin = "http://localhost:5173"
	}
	s := &Server{r: chi.NewRouter(), svc: svc, users: users, guard: guard, opts: opts}

	// --- middleware ---
	s.r.Use(chimw.RequestID)                 // add X-Request-ID
	s.r.Use(chimw.RealIP)                    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(chimw.Recoverer)                 // recover from panics
	s.r.Use(chimw.Timeout(10 * time.Second)) // bound handler time
	s.r.Use(jsonContentType)                 // default JSON responses
	s.r.Use(s.cors)                          // credentials-friendly CORS

	// --- diagnostics ---
	s.r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"service":"crocdentist","endpoints":["/health","/games/{index}","/auth/*","/oracle/callback/check-tooth"]}`))
	})
	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	s.mountAuthRoutes()
	s.mountGameRoutes()
	s.r.Post("/oracle/callback/check-tooth", s.handleCheckTooth)

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "path": r.URL.Path})
	})

	return s
}

// Handler exposes the router, for http.Server and tests.
func (s *Server) Handler() http.Handler { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// cors enables credentialed CORS for the configured client origin.
func (s *Server) cors(next http.Handler) http.Handler {
	origin := s.opts.ClientOrigin
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth enforces a valid session token and injects the player into
// the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.guard.Player(r.Context(), s.bearerOrCookie(r))
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPlayer(r.Context(), p)))
	})
}

// bearer extracts a token from the Authorization header.
func bearer(r *http.Request) string {
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	return ""
}

// bearerOrCookie extracts a bearer token from Authorization header or auth cookie.
func (s *Server) bearerOrCookie(r *http.Request) string {
	if tok := bearer(r); tok != "" {
		return tok
	}
	if c, err := r.Cookie(s.opts.CookieName); err == nil {
		return c.Value
	}
	return ""
}

// ------------------------------- errors ------------------------------------

// errorCode maps a domain error to its HTTP status and wire code.
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, auth.ErrUnauthorizedCallback):
		return http.StatusForbidden, "unauthorized_callback"
	case errors.Is(err, delegation.ErrNotOwner):
		return http.StatusForbidden, "not_owner"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "game_not_found"
	case errors.Is(err, auth.ErrUsernameTaken):
		return http.StatusConflict, "username_taken"
	case errors.Is(err, game.ErrGameAlreadyOver):
		return http.StatusConflict, "game_already_over"
	case errors.Is(err, game.ErrToothAlreadyPressed):
		return http.StatusConflict, "tooth_already_pressed"
	case errors.Is(err, game.ErrGameNotOver):
		return http.StatusConflict, "game_not_over"
	case errors.Is(err, game.ErrResolutionPending):
		return http.StatusConflict, "resolution_pending"
	case errors.Is(err, game.ErrStaleCallback):
		return http.StatusConflict, "stale_callback"
	case errors.Is(err, delegation.ErrAlreadyDelegated):
		return http.StatusConflict, "already_delegated"
	case errors.Is(err, delegation.ErrNotDelegated):
		return http.StatusConflict, "not_delegated"
	case errors.Is(err, game.ErrInvalidToothIndex):
		return http.StatusBadRequest, "invalid_tooth_index"
	case errors.Is(err, game.ErrInvalidTeeth):
		return http.StatusBadRequest, "invalid_teeth"
	case errors.Is(err, game.ErrInvariant):
		return http.StatusInternalServerError, "invariant_violation"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError writes err as {"error": code}. Unexpected errors are logged.
func writeError(w http.ResponseWriter, err error) {
	status, code := errorCode(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", code).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
