package mw

import (
	"net/http"

	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/utils"
)

// AllowOnlyCIDRS restricts a route group to the given addresses and
// prefixes. An empty list does not filter.
func AllowOnlyCIDRS(allowed []string, trustProxy bool, log logger.Logger) func(http.Handler) http.Handler {
	m, rejected := utils.NewIPMatcher(allowed)
	if len(rejected) > 0 {
		log.Warn("ignoring invalid CIDR entries", logger.Strings("entries", rejected))
	}
	if m.IsEmpty() {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ClientIP(r, trustProxy)
			if !m.Allow(ip) {
				log.Debug("request outside allowed CIDRs",
					logger.String("ip", ip),
					logger.String("path", r.URL.Path))
				deny(w, http.StatusForbidden, http.StatusText(http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
