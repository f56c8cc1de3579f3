package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/forest/internal/httpserver/deps"
	"github.com/MrSnakeDoc/forest/internal/logger"
)

type (
	Registrar  func(r chi.Router, d deps.Deps)
	Middleware = func(http.Handler) http.Handler
)

type entry struct {
	role string
	reg  Registrar
	mws  []Middleware
}

var registry []entry

// Register a route group for role, with optional per-group middlewares.
// An empty role mounts the group on every node.
func Register(role string, reg Registrar, mws ...Middleware) {
	registry = append(registry, entry{role: role, reg: reg, mws: mws})
}

// RegisterAll mounts the groups of the roles the node serves. Called once
// from server.New().
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, e := range registry {
		if e.role != "" && !d.Serves(e.role) {
			d.Logger.Debug("skipping routes of unserved role", logger.String("role", e.role))
			continue
		}
		if len(e.mws) == 0 {
			e.reg(r, d)
			continue
		}
		e.reg(r.With(e.mws...), d)
	}
}
