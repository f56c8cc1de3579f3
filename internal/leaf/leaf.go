// Package leaf implements the application instance vassal.
package leaf

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/MrSnakeDoc/forest/internal/domain"
	"github.com/MrSnakeDoc/forest/internal/emperor"
	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/species"
)

// Kind is the vassal variant name, also used as the snapshot class.
const Kind = "Leaf"

const defaultWorkers = 2

// Supervisor is the part of the emperor a leaf needs.
type Supervisor interface {
	StartVassal(v emperor.Vassal) (bool, error)
	StopVassal(v emperor.Vassal) error
}

// Options are host level settings shared by every leaf of a branch.
type Options struct {
	Host string // address the instance socket binds to
	// LogTarget is the uWSGI logger spec leaves ship their output through.
	LogTarget string
	// Keyfile signs fastrouter subscriptions.
	Keyfile string
}

type Leaf struct {
	*emperor.Base

	cfg  domain.LeafConfig
	opts Options
	sup  Supervisor

	mu      sync.RWMutex
	species *species.Species

	startMu sync.Mutex
}

// New binds cfg to its species. The leaf starts stopped.
func New(cfg domain.LeafConfig, sp *species.Species, sup Supervisor, opts Options, log logger.Logger) *Leaf {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	base := emperor.NewBase(Kind, cfg.ID, log)
	base.Mules = cfg.Mules
	base.Cron = cfg.Cron
	base.Triggers = cfg.Triggers

	return &Leaf{
		Base:    base,
		cfg:     cfg,
		opts:    opts,
		sup:     sup,
		species: sp,
	}
}

func (l *Leaf) Name() string            { return l.cfg.Name }
func (l *Leaf) Spec() domain.LeafConfig { return l.cfg }

func (l *Leaf) Species() *species.Species {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.species
}

// SetSpecies rebinds the leaf, used when its species is redeclared.
func (l *Leaf) SetSpecies(sp *species.Species) {
	l.mu.Lock()
	l.species = sp
	l.mu.Unlock()
}

// Start hands the leaf to the supervisor when its species is ready.
// Otherwise the leaf is queued and false is returned; the species ready
// callback is expected to start it later. Readiness is checked again
// after queuing, so a species that finished building in between is not
// missed.
func (l *Leaf) Start() (bool, error) {
	l.startMu.Lock()
	defer l.startMu.Unlock()

	if !l.Species().Ready() {
		l.SetStatus(emperor.StatusQueued)
		if !l.Species().Ready() {
			return false, nil
		}
	}
	l.SetStatus(emperor.StatusStarted)
	if _, err := l.sup.StartVassal(l); err != nil {
		l.SetStatus(emperor.StatusFailed)
		return false, err
	}
	return true, nil
}

// Stop tears the instance down.
func (l *Leaf) Stop() error {
	l.SetStatus(emperor.StatusStopped)
	return l.sup.StopVassal(l)
}

// Pause stops the running instance but keeps the leaf and its desired
// configuration.
func (l *Leaf) Pause() error {
	l.SetStatus(emperor.StatusPaused)
	return l.sup.StopVassal(l)
}

// Snapshot is the self description embedded in the vassal config.
type Snapshot struct {
	Cls string `json:"cls"`
	domain.LeafConfig
}

func (l *Leaf) Snapshot() Snapshot {
	return Snapshot{Cls: Kind, LeafConfig: l.cfg}
}

// requestLogFormat lists the request fields the log pipeline parses back.
func (l *Leaf) requestLogFormat() map[string]string {
	return map[string]string{
		"uri":           "%(uri)",
		"addr":          "%(addr)",
		"host":          "%(host)",
		"time":          "%(epoch)",
		"proto":         "%(proto)",
		"msecs":         "%(msecs)",
		"method":        "%(method)",
		"status":        "%(status)",
		"warning":       "%(warning)",
		"request_size":  "%(cl)",
		"response_size": "%(size)",
		"traceback":     "%(traceback)",
		"log_source":    l.ID(),
	}
}

// Config renders the uWSGI vassal file. A paused leaf renders a placeholder.
func (l *Leaf) Config() (string, error) {
	if l.Status() == emperor.StatusPaused {
		return "[uwsgi]\n", nil
	}

	sp := l.Species()
	if sp == nil {
		return "", fmt.Errorf("leaf %s has no species", l.ID())
	}

	snapshot, err := json.Marshal(l.Snapshot())
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	logFormat, err := json.Marshal(l.requestLogFormat())
	if err != nil {
		return "", err
	}
	batteries, err := json.Marshal(l.cfg.Batteries)
	if err != nil {
		return "", fmt.Errorf("encode batteries: %w", err)
	}
	settings, err := json.Marshal(l.cfg.Settings)
	if err != nil {
		return "", fmt.Errorf("encode settings: %w", err)
	}

	var sb strings.Builder
	w := func(format string, args ...any) { fmt.Fprintf(&sb, format+"\n", args...) }

	w("[forest]")
	w("data=%s", snapshot)
	w("")
	w("[uwsgi]")
	w("master=1")
	w("need-app=")
	w("buffer-size=65535")
	w("heartbeat=10")
	w("socket=%s:0", l.opts.Host)
	w("")
	w("logger=%s", l.opts.LogTarget)
	w("req-logger=%s", l.opts.LogTarget)
	w("logformat=%s", logFormat)
	w("log-encoder=prefix [Leaf %s]", l.ID())
	w("")
	w("plugin=%s", sp.Python())
	w("module=wsgi:application")
	w("processes=%d", l.cfg.Workers)
	w("static-map=/static=%s/static", sp.SrcPath())
	w("offload-threads=4")
	if l.cfg.Threads {
		w("enable-threads=")
	}
	w("")
	w("chdir=%s", sp.SrcPath())
	w("env=BATTERIES=%s", batteries)
	w("env=APPLICATION_SETTINGS=%s", settings)
	w("env=VIRTUAL_ENV=%s", sp.Environment())
	w("")
	w("virtualenv=%s", sp.Environment())
	w("if-env=PATH")
	w("env=PATH=%s/bin:%%(_)", sp.Environment())
	w("endif=")
	w("")
	sb.WriteString(l.ExtrasConfig())

	for _, router := range l.cfg.Fastrouters {
		for _, addr := range l.cfg.Address {
			w("subscribe-to=%s:%s,5,SHA1:%s", router, addr, l.opts.Keyfile)
		}
	}
	return sb.String(), nil
}
