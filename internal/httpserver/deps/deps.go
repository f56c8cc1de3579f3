package deps

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/forest/internal/air"
	"github.com/MrSnakeDoc/forest/internal/branch"
	"github.com/MrSnakeDoc/forest/internal/config"
	"github.com/MrSnakeDoc/forest/internal/druid"
	"github.com/MrSnakeDoc/forest/internal/emperor"
	"github.com/MrSnakeDoc/forest/internal/logger"
)

type Deps struct {
	Logger         logger.Logger
	StartTime      time.Time
	Version        string
	Commit         string
	BuildDate      string
	GoVersion      string
	TimeNow        func() time.Time // for testing, defaults to time.Now
	Name           string           // node name
	Roles          []string         // roles served by this node
	Secret         string           // shared control plane secret
	AllowedCIDRS   []string         // IPs allowed to access healthz/readyz endpoints
	TrustProxy     bool             // true if running behind a trusted reverse proxy
	RequestTimeout time.Duration    // per request timeout, streaming routes excluded
	RedisClient    *redis.Client    // nil when no component needs Redis

	// Role components. A nil component means the node does not serve the
	// role and its routes are not registered.
	Emperor *emperor.Emperor
	Branch  *branch.Branch
	Air     *air.Air
	Druid   *druid.Druid

	ReconcileTrigger chan struct{} // manual cluster restore (nil when the reconciler is disabled)
}

// Serves reports whether the component behind role is wired.
func (d Deps) Serves(role string) bool {
	switch role {
	case config.RoleBranch:
		return d.Branch != nil
	case config.RoleAir:
		return d.Air != nil
	case config.RoleDruid:
		return d.Druid != nil
	}
	return false
}
