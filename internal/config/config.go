package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Druid state backends.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Node roles.
const (
	RoleBranch = "branch"
	RoleDruid  = "druid"
	RoleAir    = "air"
)

// Log transports between uWSGI and the node.
const (
	TransportUDP   = "udp"
	TransportRedis = "redis"
)

type Config struct {
	Name   string   // node name, stamped on log records and used as branch name
	Root   string   // forest root directory (species, vassals, keys)
	Secret string   // shared control plane secret checked on every call
	Roles  []string // branch | druid | air

	Host            string        // address leaves and the subscription server bind to
	ListenPort      string        // ex: ":1234"
	ShutdownTimeout time.Duration // ex: 10s
	RequestTimeout  time.Duration // per request timeout, streaming routes excluded

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	TopologyFile string // YAML with peers and logger sinks (optional)
	Store        string // druid state: "redis" | "memory" (lost on restart)

	// Emperor
	EmperorDir       string // vassal directory (default: <root>/vassals)
	EmperorSpawn     bool   // false => the supervisor is managed elsewhere
	EmperorStatsAddr string // ex: "127.0.0.1:1777"

	// Log pipeline
	LogTransport     string // "udp" | "redis"
	BranchLogAddr    string // UDP address leaves log to
	EmperorLogAddr   string // UDP address the emperor logs to
	LogChannelPrefix string // redis channels are <prefix>:branch and <prefix>:emperor
	LogTTL           time.Duration

	// Schedulers
	StatusInterval    time.Duration // supervisor statistics scan (0 = disabled)
	ReconcileInterval time.Duration // druid branch restore (0 = disabled)

	// Peers
	PeerConnectTimeout time.Duration
	PeerRequestTimeout time.Duration

	// Air
	AirPort           int // public fastrouter port
	AirFastrouterPort int // subscription server port

	// Redis
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	AllowedCIDRS []string // optional, restrict health endpoints to specific IPs
	TrustProxy   bool     // true => trust X-Forwarded-For headers

	RateLimitBurst  int // per client burst on /api (0 = disabled)
	RateLimitPerMin int // per client refill rate
}

func Load() *Config {
	root := requireEnv("FOREST_ROOT")

	cfg := &Config{
		// Node identity
		Name:   requireEnv("FOREST_NAME"),
		Root:   root,
		Secret: requireEnv("FOREST_SECRET"),
		Roles:  parseRoles(requireEnvSlice("FOREST_ROLES")),

		// Server settings
		Host:            getenv("FOREST_HOST", "127.0.0.1"),
		ListenPort:      getenv("FOREST_LISTEN_PORT", ":1234"),
		ShutdownTimeout: mustDuration("FOREST_SHUTDOWN_TIMEOUT", 10*time.Second),
		RequestTimeout:  mustDuration("FOREST_REQUEST_TIMEOUT", 5*time.Minute),

		// Logging
		LogLevel:  getenv("FOREST_LOG_LEVEL", "info"),
		PrettyLog: mustBool("FOREST_PRETTY_LOG", true),

		TopologyFile: getenv("FOREST_TOPOLOGY_FILE", ""),
		Store:        getenv("FOREST_STORE", StoreRedis),

		// Emperor
		EmperorDir:       getenv("FOREST_EMPEROR_DIR", filepath.Join(root, "vassals")),
		EmperorSpawn:     mustBool("FOREST_EMPEROR_SPAWN", true),
		EmperorStatsAddr: getenv("FOREST_EMPEROR_STATS_ADDR", "127.0.0.1:1777"),

		// Log pipeline
		LogTransport:     getenv("FOREST_LOG_TRANSPORT", TransportUDP),
		BranchLogAddr:    getenv("FOREST_BRANCH_LOG_ADDR", "127.0.0.1:5122"),
		EmperorLogAddr:   getenv("FOREST_EMPEROR_LOG_ADDR", "127.0.0.1:5123"),
		LogChannelPrefix: getenv("FOREST_LOG_CHANNEL_PREFIX", "forest"),
		LogTTL:           mustDuration("FOREST_LOG_TTL", 7*24*time.Hour),

		// Schedulers
		StatusInterval:    mustDuration("FOREST_STATUS_INTERVAL", 15*time.Second),
		ReconcileInterval: mustDuration("FOREST_RECONCILE_INTERVAL", 0),

		// Peers
		PeerConnectTimeout: mustDuration("FOREST_PEER_CONNECT_TIMEOUT", 5*time.Second),
		PeerRequestTimeout: mustDuration("FOREST_PEER_REQUEST_TIMEOUT", 2*time.Minute),

		// Air
		AirPort:           getenvInt("FOREST_AIR_PORT", 3000),
		AirFastrouterPort: getenvInt("FOREST_AIR_FASTROUTER_PORT", 3333),

		// Redis settings
		RedisAddr:             getenv("FOREST_REDIS_ADDR", ""),
		RedisUser:             getenv("FOREST_REDIS_USERNAME", ""),
		RedisPasswordRequired: mustBool("FOREST_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("FOREST_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("FOREST_REDIS_DB", 0),
		RedisDT:               mustDuration("FOREST_REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("FOREST_REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("FOREST_REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("FOREST_REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("FOREST_REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("FOREST_REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("FOREST_REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("FOREST_REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("FOREST_REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedCIDRS: parseAllowedIPs(getenv("FOREST_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("FOREST_TRUST_PROXY", false),

		RateLimitBurst:  getenvInt("FOREST_RATE_LIMIT_BURST", 0),
		RateLimitPerMin: getenvInt("FOREST_RATE_LIMIT_PER_MIN", 600),
	}

	switch cfg.LogTransport {
	case TransportUDP, TransportRedis:
	default:
		panic(fmt.Sprintf("❌ FATAL: FOREST_LOG_TRANSPORT must be %q or %q, got %q", TransportUDP, TransportRedis, cfg.LogTransport))
	}

	switch cfg.Store {
	case StoreRedis, StoreMemory:
	default:
		panic(fmt.Sprintf("❌ FATAL: FOREST_STORE must be %q or %q, got %q", StoreRedis, StoreMemory, cfg.Store))
	}

	if cfg.NeedsRedis() && cfg.RedisAddr == "" {
		panic("❌ FATAL: FOREST_REDIS_ADDR is required for the redis druid store and the redis log transport")
	}

	// Validate Redis password configuration
	if cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
		panic("❌ FATAL: FOREST_REDIS_PASSWORD is required when FOREST_REDIS_PASSWORD_REQUIRED=true")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}

	return cfg
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	cp := *c
	cp.Secret = "***REDACTED***"
	cp.RedisPassword = "***REDACTED***"
	if c.RedisUser != "" {
		cp.RedisUser = "***REDACTED***"
	}
	return cp
}

// HasRole reports whether the node serves role.
func (c *Config) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// NeedsRedis reports whether any configured component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return (c.HasRole(RoleDruid) && c.Store != StoreMemory) || c.LogTransport == TransportRedis
}

// KeyDir holds the subscription signing keys.
func (c *Config) KeyDir() string { return filepath.Join(c.Root, "keys") }

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func requireEnvInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("❌ FATAL: Invalid integer value for %s: %s", key, v))
	}
	return i
}

func requireEnvSlice(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return splitAndTrim(v)
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

// parseRoles lowercases and dedups roles, panicking on unknown ones.
func parseRoles(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.ToLower(r)
		switch r {
		case RoleBranch, RoleDruid, RoleAir:
		default:
			panic(fmt.Sprintf("❌ FATAL: Unknown role %q in FOREST_ROLES", r))
		}
		if !seen[r] {
			seen[r] = true
			roles = append(roles, r)
		}
	}
	return roles
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
