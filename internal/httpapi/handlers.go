package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-matchmaker/internal/hub"
	"github.com/DoyleJ11/lobby-matchmaker/pkg/types"
)

const maxCodeAttempts = 16

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func CreateLobby(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for attempt := 0; attempt < maxCodeAttempts; attempt++ {
			code, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			// Create refuses taken codes inside the hub loop, so a nil here
			// is a collision or a failed store.
			if h.Create(r.Context(), code) == nil {
				log.Debug("lobby code unavailable, regenerating", zap.String("code", code))
				continue
			}

			writeJSON(w, http.StatusCreated, struct {
				Code string `json:"code"`
			}{Code: code})
			return
		}
		http.Error(w, "failed to create lobby", http.StatusInternalServerError)
	}
}

func ListLobbies(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Codes []string `json:"codes"`
		}{Codes: h.List(r.Context())})
	}
}

func GetLobby(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		lb := h.Lookup(r.Context(), code)
		if lb == nil {
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}

		view, err := lb.View(r.Context())
		if err != nil {
			http.Error(w, "lobby unavailable", http.StatusServiceUnavailable)
			return
		}

		snap := types.LobbySnapshot{
			Code:          view.Code,
			Version:       view.Version,
			Sessions:      view.NumSessions,
			Users:         view.State.Users,
			MatchingUsers: view.State.MatchingUsers,
			OpenGames:     view.State.OpenGames,
			ActiveGames:   make([][2]string, 0, len(view.State.ActiveGames)),
		}
		for _, m := range view.State.ActiveGames {
			snap.ActiveGames = append(snap.ActiveGames, [2]string{m.Owner, m.Guest})
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
