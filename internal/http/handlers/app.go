package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Herbiiiii/Nano-banana/internal/domain"
	"github.com/Herbiiiii/Nano-banana/internal/jobs"
	"github.com/Herbiiiii/Nano-banana/internal/middleware"
)

type App struct {
	Repo          domain.GenerationRepository
	Store         domain.ObjectStore
	Orchestrator  *jobs.Orchestrator
	Sweeper       *jobs.Sweeper
	AdminToken    string
	RetentionDays int
	Logger        zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"error": code, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
