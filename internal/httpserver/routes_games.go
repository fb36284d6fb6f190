// internal/httpserver/routes_games.go
//
// Game endpoints under /games/{index}:
//   - POST /games/{index}            → initialize (owner = caller)
//   - GET  /games/{index}            → inspect both environment copies
//   - POST /games/{index}/press      → press a tooth, returns 202 while the
//                                      oracle resolves it
//   - POST /games/{index}/delegate   → move to the ephemeral environment
//   - POST /games/{index}/undelegate → commit back to the base layer
//   - POST /games/{index}/new        → reset a finished game
//
// Plus the oracle callback, POST /oracle/callback/check-tooth.

package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/robalobadob/crocdentist/internal/auth"
	"github.com/robalobadob/crocdentist/internal/croc"
	"github.com/robalobadob/crocdentist/internal/delegation"
	"github.com/robalobadob/crocdentist/internal/game"
	"github.com/robalobadob/crocdentist/internal/store"
)

type pressReq struct {
	Tooth      *uint8 `json:"tooth"`
	ClientSeed uint8  `json:"clientSeed"`
}

type delegateReq struct {
	Validator string `json:"validator"`
}

// gameRes is the public view of one game record.
type gameRes struct {
	Address     string     `json:"address"`
	Environment string     `json:"environment"`
	Owner       string     `json:"owner"`
	Validator   string     `json:"validator,omitempty"`
	Remaining   uint8      `json:"teethRemaining"`
	Pressed     []int      `json:"pressed"`
	State       game.State `json:"state"`
}

type callbackRes struct {
	Game       gameRes         `json:"game"`
	Resolution game.Resolution `json:"resolution"`
}

func toGameRes(rec *store.Record) gameRes {
	pressed := []int{}
	for _, t := range rec.State.PressedTeeth.Teeth() {
		pressed = append(pressed, int(t))
	}
	return gameRes{
		Address:     rec.Address,
		Environment: delegation.EnvOf(rec),
		Owner:       rec.Owner,
		Validator:   rec.Validator,
		Remaining:   rec.State.TeethRemaining(),
		Pressed:     pressed,
		State:       rec.State,
	}
}

func (s *Server) mountGameRoutes() {
	s.r.Route("/games/{index}", func(r chi.Router) {
		r.Get("/", s.handleInspect)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/", s.handleInitialize)
			r.Post("/press", s.handlePress)
			r.Post("/delegate", s.handleDelegate)
			r.Post("/undelegate", s.handleUndelegate)
			r.Post("/new", s.handleNewGame)
		})
	})
}

// gameIndex parses the {index} URL parameter.
func gameIndex(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_game_index"})
		return 0, false
	}
	return uint32(n), true
}

// decodeOptional decodes a JSON body into v; an empty body is allowed.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return false
	}
	return true
}

func callerID(r *http.Request) string {
	if p := auth.PlayerFrom(r.Context()); p != nil {
		return p.ID
	}
	return ""
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	idx, ok := gameIndex(w, r)
	if !ok {
		return
	}
	rec, created, err := s.svc.Initialize(r.Context(), callerID(r), idx)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toGameRes(rec))
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	idx, ok := gameIndex(w, r)
	if !ok {
		return
	}
	snap, err := s.svc.Inspect(r.Context(), idx)
	if err != nil {
		writeError(w, err)
		return
	}
	out := struct {
		*croc.Snapshot
		Game *gameRes `json:"game,omitempty"`
	}{Snapshot: snap}
	if snap.Authoritative != nil {
		g := toGameRes(snap.Authoritative)
		out.Game = &g
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePress(w http.ResponseWriter, r *http.Request) {
	idx, ok := gameIndex(w, r)
	if !ok {
		return
	}
	var body pressReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Tooth == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return
	}
	rec, err := s.svc.PressTooth(r.Context(), callerID(r), idx, *body.Tooth, body.ClientSeed)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toGameRes(rec))
}

func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	idx, ok := gameIndex(w, r)
	if !ok {
		return
	}
	var body delegateReq
	if !decodeOptional(w, r, &body) {
		return
	}
	rec, err := s.svc.Delegate(r.Context(), callerID(r), idx, body.Validator)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGameRes(rec))
}

func (s *Server) handleUndelegate(w http.ResponseWriter, r *http.Request) {
	idx, ok := gameIndex(w, r)
	if !ok {
		return
	}
	rec, err := s.svc.Undelegate(r.Context(), callerID(r), idx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGameRes(rec))
}

func (s *Server) handleNewGame(w http.ResponseWriter, r *http.Request) {
	idx, ok := gameIndex(w, r)
	if !ok {
		return
	}
	rec, err := s.svc.NewGame(r.Context(), callerID(r), idx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGameRes(rec))
}

// handleCheckTooth accepts a fulfillment from an external oracle.
func (s *Server) handleCheckTooth(w http.ResponseWriter, r *http.Request) {
	rec, res, err := s.svc.CallbackCheckTooth(r.Context(), bearer(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, callbackRes{Game: toGameRes(rec), Resolution: res})
}
