package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/forest/internal/branch"
	"github.com/MrSnakeDoc/forest/internal/domain"
	"github.com/MrSnakeDoc/forest/internal/druid"
	"github.com/MrSnakeDoc/forest/internal/httpserver/deps"
	"github.com/MrSnakeDoc/forest/internal/logger"
)

// BranchLeaves lists the ids of the leaves registered on this branch.
func BranchLeaves(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Branch.LeafIDs())
	}
}

// BranchCreateLeaf creates, registers and starts a leaf from its full
// description. A leaf waiting for its species is reported as queued.
func BranchCreateLeaf(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg domain.LeafConfig
		if err := decodeBody(w, r, &cfg); err != nil {
			writeError(w, d.Logger, err)
			return
		}

		l, err := d.Branch.CreateLeaf(cfg)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		started, err := d.Branch.AddLeaf(l, true)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}

		result := "queued"
		if started {
			result = "started"
		}
		writeJSON(w, http.StatusOK, envelope{Result: result})
	}
}

// BranchLeafStats returns the supervisor statistics of a leaf.
func BranchLeafStats(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := d.Emperor.VassalStats(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			d.Logger.Warn("emperor stats unavailable", logger.Error(err))
			writeResult(w, http.StatusServiceUnavailable, resultError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// BranchDeleteLeaf stops and removes a leaf. Unknown ids are not an error.
func BranchDeleteLeaf(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		existed, err := d.Branch.DelLeaf(id)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		if !existed {
			d.Logger.Debug("delete of unknown leaf", logger.String("leaf", id))
		}
		ok(w)
	}
}

// BranchLeafRPC forwards a call to the running instance. The body is the
// argument list, function name first.
func BranchLeafRPC(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var args []string
		if err := decodeBody(w, r, &args); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		if len(args) == 0 {
			writeError(w, d.Logger, fmt.Errorf("%w: function name is required", druid.ErrInvalidRequest))
			return
		}
		writeJSON(w, http.StatusOK, d.Emperor.CallRPC(r.Context(), chi.URLParam(r, "id"), args...))
	}
}

// BranchSaveSpecies declares or updates a species and runs its build
// pipeline in the background. Used by POST and PATCH.
func BranchSaveSpecies(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var spec domain.Species
		if err := decodeBody(w, r, &spec); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		if id := chi.URLParam(r, "id"); id != "" {
			if spec.ID == "" {
				spec.ID = id
			}
			if spec.ID != id {
				writeError(w, d.Logger, fmt.Errorf("%w: body id %s does not match %s", druid.ErrInvalidRequest, spec.ID, id))
				return
			}
		}

		if !domain.IsID(spec.ID) || spec.URL == "" {
			writeError(w, d.Logger, fmt.Errorf("%w: species needs an id and a url", druid.ErrInvalidRequest))
			return
		}

		if _, err := d.Branch.CreateSpecies(spec, true); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		ok(w)
	}
}

// BranchSpecies returns the description of a known species.
func BranchSpecies(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp, found := d.Branch.Species(chi.URLParam(r, "id"))
		if !found {
			writeJSON(w, http.StatusNotFound, struct{}{})
			return
		}
		writeJSON(w, http.StatusOK, sp.Species)
	}
}

type loggerSummary struct {
	Identifier string `json:"identifier"`
	Type       string `json:"type"`
	Failures   int    `json:"failures"`
}

// BranchLoggers lists the log sinks in delivery order.
func BranchLoggers(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos := d.Branch.Loggers().List()
		out := make([]loggerSummary, 0, len(infos))
		for _, info := range infos {
			out = append(out, loggerSummary{
				Identifier: info.Identifier,
				Type:       info.Type,
				Failures:   info.Failures,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// BranchAddLogger registers a log sink.
func BranchAddLogger(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg branch.LoggerConfig
		if err := decodeBody(w, r, &cfg); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		if err := d.Branch.Loggers().Add(cfg); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, envelope{Result: resultSuccess})
	}
}

// BranchDeleteLogger removes a log sink.
func BranchDeleteLogger(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Branch.Loggers().Delete(chi.URLParam(r, "id")); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, envelope{Result: resultSuccess})
	}
}
