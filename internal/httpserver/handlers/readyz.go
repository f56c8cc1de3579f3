package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/forest/internal/httpserver/deps"
)

const readyzProbeTimeout = 2 * time.Second

type componentStatus struct {
	OK     bool   `json:"ok"`
	Leaves *int   `json:"leaves,omitempty"`
	Peers  *int   `json:"peers,omitempty"`
	Error  string `json:"error,omitempty"`
}

type readyzResponse struct {
	Ready      bool                       `json:"ready"`
	Roles      []string                   `json:"roles"`
	Components map[string]componentStatus `json:"components"`
}

// Readyz reports the roles served by the node and whether the services
// they depend on answer. Any failing component makes the node not ready.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyzProbeTimeout)
		defer cancel()

		components := make(map[string]componentStatus, 4)
		if d.RedisClient != nil {
			components["redis"] = checkRedis(ctx, d)
		}
		if d.Emperor != nil {
			components["emperor"] = checkEmperor(ctx, d)
		}
		if d.Branch != nil {
			n := d.Branch.Count()
			components["branch"] = componentStatus{OK: true, Leaves: &n}
		}
		if d.Druid != nil {
			n := len(d.Druid.Branches())
			components["druid"] = componentStatus{OK: n > 0, Peers: &n}
		}

		ready := true
		for _, c := range components {
			ready = ready && c.OK
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, readyzResponse{
			Ready:      ready,
			Roles:      d.Roles,
			Components: components,
		})
	}
}

func checkRedis(ctx context.Context, d deps.Deps) componentStatus {
	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		return componentStatus{OK: false, Error: err.Error()}
	}
	return componentStatus{OK: true}
}

func checkEmperor(ctx context.Context, d deps.Deps) componentStatus {
	if _, err := d.Emperor.Stats(ctx); err != nil {
		return componentStatus{OK: false, Error: err.Error()}
	}
	return componentStatus{OK: true}
}
