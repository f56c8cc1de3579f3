package handlers

import (
	"errors"
	"net/http"

	"github.com/MrSnakeDoc/forest/internal/air"
	"github.com/MrSnakeDoc/forest/internal/httpserver/deps"
	"github.com/MrSnakeDoc/forest/internal/logger"
)

type hostRequest struct {
	Host string `json:"host"`
}

// AirAllowHost lets a hostname through the reverse proxy.
func AirAllowHost(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req hostRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, d.Logger, err)
			return
		}

		created, err := d.Air.AllowHost(req.Host)
		if errors.Is(err, air.ErrInvalidHost) {
			writeResult(w, http.StatusBadRequest, resultFailure, err.Error())
			return
		}
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		if created {
			d.Logger.Info("host allowed", logger.Component("Air"), logger.String("host", req.Host))
		}
		ok(w)
	}
}
