package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/forest/internal/config"
	"github.com/MrSnakeDoc/forest/internal/httpserver/deps"
	"github.com/MrSnakeDoc/forest/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/forest/internal/httpserver/mw"
)

func init() { Register(config.RoleAir, registerAir) }

func registerAir(r chi.Router, d deps.Deps) {
	r.With(mw.Token(d.Secret, d.Logger), middleware.Timeout(d.RequestTimeout)).Post("/api/air/hosts", handlers.AirAllowHost(d))
}
