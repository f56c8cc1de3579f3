package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/forest/internal/httpserver/deps"
	"github.com/MrSnakeDoc/forest/internal/logger"
)

// DruidReconcile asks the reconciler for an immediate restore of every
// branch.
func DruidReconcile(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.ReconcileTrigger == nil {
			writeResult(w, http.StatusConflict, resultFailure, "reconciler disabled")
			return
		}

		select {
		case d.ReconcileTrigger <- struct{}{}:
			d.Logger.Info("manual reconcile triggered via endpoint",
				logger.String("remote_ip", r.RemoteAddr))
			writeResult(w, http.StatusAccepted, resultSuccess, "Reconcile triggered")
		default:
			d.Logger.Warn("reconcile already pending",
				logger.String("remote_ip", r.RemoteAddr))
			writeResult(w, http.StatusTooManyRequests, resultFailure, "Reconcile already pending, please wait")
		}
	}
}
