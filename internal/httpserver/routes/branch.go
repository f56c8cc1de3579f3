package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/forest/internal/config"
	"github.com/MrSnakeDoc/forest/internal/httpserver/deps"
	"github.com/MrSnakeDoc/forest/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/forest/internal/httpserver/mw"
)

func init() { Register(config.RoleBranch, registerBranch) }

func registerBranch(r chi.Router, d deps.Deps) {
	r.Route("/api/branch", func(r chi.Router) {
		r.Use(mw.Token(d.Secret, d.Logger), middleware.Timeout(d.RequestTimeout))

		r.Get("/leaf", handlers.BranchLeaves(d))
		r.Post("/leaf", handlers.BranchCreateLeaf(d))
		r.Get("/leaf/{id}", handlers.BranchLeafStats(d))
		r.Delete("/leaf/{id}", handlers.BranchDeleteLeaf(d))
		r.Post("/leaf/{id}/rpc", handlers.BranchLeafRPC(d))

		r.Post("/species", handlers.BranchSaveSpecies(d))
		r.Get("/species/{id}", handlers.BranchSpecies(d))
		r.Patch("/species/{id}", handlers.BranchSaveSpecies(d))

		r.Get("/loggers", handlers.BranchLoggers(d))
		r.Post("/loggers", handlers.BranchAddLogger(d))
		r.Delete("/loggers/{id}", handlers.BranchDeleteLogger(d))
	})
}
