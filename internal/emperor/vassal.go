package emperor

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/MrSnakeDoc/forest/internal/logger"
)

// Status is the supervisor-reported state of a vassal.
type Status string

const (
	StatusStopped Status = "Stopped"
	StatusStarted Status = "Started"
	StatusRunning Status = "Running"
	StatusFailed  Status = "Failed"
	StatusQueued  Status = "Queued"
	StatusPaused  Status = "Paused"
)

// Vassal is a unit of execution owned by the external supervisor. The set of
// implementations is closed: leaves and the reverse proxy front end.
type Vassal interface {
	ID() string
	// Kind names the variant; it is embedded in config snapshots.
	Kind() string
	Status() Status
	SetStatus(Status)
	// Config renders the supervisor configuration file content.
	Config() (string, error)
}

// Base carries the state every vassal variant shares. Status may be updated
// from the supervisor event stream while request handlers read it, hence
// the lock.
type Base struct {
	id   string
	kind string
	log  logger.Logger

	mu     sync.RWMutex
	status Status

	// Mules are background worker scripts, one "mule=" line each.
	Mules []string
	// Cron entries are full "min hour day month weekday command" specs.
	Cron []string
	// Triggers map a lifecycle phase to a hook action, e.g.
	// "as-user-atexit" -> "exec:./cleanup.sh".
	Triggers map[string]string
}

// NewBase returns a stopped vassal base.
func NewBase(kind, id string, log logger.Logger) *Base {
	if log == nil {
		log = logger.Nop()
	}
	return &Base{id: id, kind: kind, log: log, status: StatusStopped}
}

func (b *Base) ID() string   { return b.id }
func (b *Base) Kind() string { return b.kind }

func (b *Base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

func (b *Base) SetStatus(s Status) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
	b.log.Info(fmt.Sprintf("%s entered '%s' state", b.id, s), logger.Component(b.kind))
}

// ExtrasConfig renders mules, cron jobs and lifecycle hooks.
func (b *Base) ExtrasConfig() string {
	var sb strings.Builder
	for _, m := range b.Mules {
		fmt.Fprintf(&sb, "mule=%s\n", m)
	}
	for _, c := range b.Cron {
		fmt.Fprintf(&sb, "cron=%s\n", c)
	}
	phases := make([]string, 0, len(b.Triggers))
	for phase := range b.Triggers {
		phases = append(phases, phase)
	}
	sort.Strings(phases)
	for _, phase := range phases {
		fmt.Fprintf(&sb, "hook-%s=%s\n", phase, b.Triggers[phase])
	}
	return sb.String()
}
