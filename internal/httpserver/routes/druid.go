package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/forest/internal/config"
	"github.com/MrSnakeDoc/forest/internal/httpserver/deps"
	"github.com/MrSnakeDoc/forest/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/forest/internal/httpserver/mw"
)

func init() { Register(config.RoleDruid, registerDruid) }

func registerDruid(r chi.Router, d deps.Deps) {
	r.Route("/api/druid", func(r chi.Router) {
		// Long lived, authenticates on its own.
		r.Get("/logs/{name}", handlers.DruidLogStream(d))

		r.Group(func(r chi.Router) {
			r.Use(mw.Token(d.Secret, d.Logger), middleware.Timeout(d.RequestTimeout))

			r.Get("/leaf", handlers.DruidLeaves(d))
			r.Post("/leaf", handlers.DruidCreateLeaf(d))
			r.Get("/leaf/{name}", handlers.DruidLeaf(d))
			r.Patch("/leaf/{name}", handlers.DruidUpdateLeaf(d))
			r.Get("/leaf/{name}/status", handlers.DruidLeafStatus(d))

			r.Get("/species", handlers.DruidSpeciesList(d))
			r.Post("/species", handlers.DruidCreateSpecies(d))
			r.Get("/species/{id}", handlers.DruidSpecies(d))
			r.Patch("/species/{id}", handlers.DruidRebuildSpecies(d))

			r.Get("/branch", handlers.DruidBranches(d))
			r.Put("/branch/{name}", handlers.DruidRestoreBranch(d))
			r.Post("/reconcile", handlers.DruidReconcile(d))

			r.Get("/traceback/{id}", handlers.DruidTraceback(d))
			r.Post("/logs", handlers.DruidIngest(d))
		})
	})
}
