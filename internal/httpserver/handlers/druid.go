package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/forest/internal/domain"
	"github.com/MrSnakeDoc/forest/internal/druid"
	"github.com/MrSnakeDoc/forest/internal/httpserver/deps"
)

// DruidLeaves lists leaves as {_id, name}, optionally only the owner of
// ?address=.
func DruidLeaves(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		leaves, err := d.Druid.Leaves(r.Context(), r.URL.Query().Get("address"))
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		out := make([]domain.Summary, 0, len(leaves))
		for _, l := range leaves {
			out = append(out, domain.Summary{ID: l.ID, Name: l.Name})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type createLeafResponse struct {
	Result  string `json:"result"`
	Message string `json:"message"`
	ID      string `json:"_id"`
	Branch  string `json:"branch"`
}

// DruidCreateLeaf runs the leaf creation protocol.
func DruidCreateLeaf(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req druid.CreateLeafRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		leaf, err := d.Druid.CreateLeaf(r.Context(), req)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, createLeafResponse{
			Result:  resultSuccess,
			Message: "OK",
			ID:      leaf.ID,
			Branch:  leaf.Branch,
		})
	}
}

// DruidLeaf returns the persisted record of a leaf.
func DruidLeaf(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		leaf, err := d.Druid.Leaf(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, leaf)
	}
}

// DruidUpdateLeaf changes the active flag or the addresses of a leaf.
// Changes are pushed to the cluster unless ?apply=false.
func DruidUpdateLeaf(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch druid.LeafPatch
		if err := decodeBody(w, r, &patch); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		apply := !strings.EqualFold(r.URL.Query().Get("apply"), "false")

		if _, err := d.Druid.UpdateLeaf(r.Context(), chi.URLParam(r, "name"), patch, apply); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		ok(w)
	}
}

// DruidLeafStatus relays the supervisor statistics of a leaf from the
// branch running it.
func DruidLeafStatus(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := d.Druid.LeafStatus(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

// DruidSpeciesList lists species as {_id, name}.
func DruidSpeciesList(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := d.Druid.ListSpecies(r.Context())
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// DruidCreateSpecies declares a species.
func DruidCreateSpecies(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sp domain.Species
		if err := decodeBody(w, r, &sp); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		created, err := d.Druid.CreateSpecies(r.Context(), sp)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// DruidSpecies returns a species.
func DruidSpecies(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp, err := d.Druid.Species(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, druid.ErrUnknownSpecies) {
			writeResult(w, http.StatusNotFound, resultFailure, err.Error())
			return
		}
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, sp)
	}
}

// DruidRebuildSpecies bumps the species version and pushes it to every
// branch.
func DruidRebuildSpecies(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp, err := d.Druid.RebuildSpecies(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, druid.ErrUnknownSpecies) {
			writeResult(w, http.StatusNotFound, resultFailure, err.Error())
			return
		}
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, sp)
	}
}

// DruidBranches lists the configured branch names.
func DruidBranches(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Druid.Branches())
	}
}

// DruidRestoreBranch starts again every active leaf placed on a branch.
func DruidRestoreBranch(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Druid.RestoreBranch(r.Context(), chi.URLParam(r, "name")); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, envelope{Result: resultSuccess})
	}
}

// DruidTraceback returns a stored traceback record.
func DruidTraceback(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := d.Druid.Traceback(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ev)
	}
}

// DruidIngest persists an event and hands it to live subscribers.
func DruidIngest(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev domain.Event
		if err := decodeBody(w, r, &ev); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		if ev == nil {
			writeError(w, d.Logger, druid.ErrInvalidRequest)
			return
		}
		d.Druid.PropagateEvent(r.Context(), ev)
		writeJSON(w, http.StatusOK, envelope{Result: resultSuccess})
	}
}
