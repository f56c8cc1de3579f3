// Package emperor drives an external uWSGI emperor. It never touches the
// processes it supervises: vassals are started and stopped by writing and
// removing config files, and their status comes back asynchronously on the
// emperor log stream.
package emperor

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/forest/internal/domain"
	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/logparse"
)

const (
	component = "Emperor"
	configExt = ".ini"
)

// Options configures the supervisor wrapper. Zero values get defaults
// derived from Root.
type Options struct {
	Root       string // forest root directory
	VassalDir  string // default: <Root>/vassals
	Binary     string // default: <Root>/bin/uwsgi
	PluginsDir string // default: <Root>/bin
	Pidfile    string // default: <Root>/emperor.pid

	StatsAddr string // emperor stats server, default 127.0.0.1:1777
	// LogTarget is the --logger value the emperor reports lifecycle
	// events through, e.g. "socket:127.0.0.1:5123".
	LogTarget string

	Heartbeat int // --emperor-required-heartbeat, default 40
	Throttle  int // --emperor-throttle in ms, default 10000

	DialTimeout time.Duration // stats and RPC connections, default 5s
	Resolver    AddrResolver  // default: ProcResolver
}

func (o *Options) setDefaults() {
	if o.VassalDir == "" {
		o.VassalDir = filepath.Join(o.Root, "vassals")
	}
	if o.Binary == "" {
		o.Binary = filepath.Join(o.Root, "bin", "uwsgi")
	}
	if o.PluginsDir == "" {
		o.PluginsDir = filepath.Join(o.Root, "bin")
	}
	if o.Pidfile == "" {
		o.Pidfile = filepath.Join(o.Root, "emperor.pid")
	}
	if o.StatsAddr == "" {
		o.StatsAddr = "127.0.0.1:1777"
	}
	if o.Heartbeat == 0 {
		o.Heartbeat = 40
	}
	if o.Throttle == 0 {
		o.Throttle = 10000
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.Resolver == nil {
		o.Resolver = ProcResolver{Root: "/proc"}
	}
}

// Emperor owns the vassal config directory and the live vassal registry.
type Emperor struct {
	opts Options
	log  logger.Logger

	mu      sync.RWMutex
	vassals map[string]Vassal
}

// New prepares the vassal directory. It does not launch the supervisor,
// see Launch.
func New(opts Options, log logger.Logger) (*Emperor, error) {
	opts.setDefaults()
	if log == nil {
		log = logger.Nop()
	}

	if _, err := os.Stat(opts.VassalDir); errors.Is(err, fs.ErrNotExist) {
		log.Info("vassal directory does not exist, creating one",
			logger.Component(component), logger.String("dir", opts.VassalDir))
	}
	if err := os.MkdirAll(opts.VassalDir, 0o755); err != nil {
		return nil, fmt.Errorf("create vassal dir: %w", err)
	}

	return &Emperor{
		opts:    opts,
		log:     log,
		vassals: make(map[string]Vassal),
	}, nil
}

// VassalDir is the directory the supervisor watches.
func (e *Emperor) VassalDir() string { return e.opts.VassalDir }

// ConfigPath returns the canonical config file path for a vassal id.
func (e *Emperor) ConfigPath(id string) string {
	return filepath.Join(e.opts.VassalDir, id+configExt)
}

// StartVassal registers v and writes its config. When the file on disk is
// already byte-identical nothing is written, so the supervisor does not
// restart the instance. The returned bool reports whether a write happened.
func (e *Emperor) StartVassal(v Vassal) (bool, error) {
	cfg, err := v.Config()
	if err != nil {
		return false, fmt.Errorf("render config for %s: %w", v.ID(), err)
	}

	e.register(v)

	path := e.ConfigPath(v.ID())
	current, err := os.ReadFile(path)
	switch {
	case err == nil && bytes.Equal(current, []byte(cfg)):
		return false, nil
	case err == nil:
		e.log.Info("vassal has stale configuration, will restart",
			logger.Component(component), logger.String("vassal", v.ID()))
	case !errors.Is(err, fs.ErrNotExist):
		return false, fmt.Errorf("read config of %s: %w", v.ID(), err)
	}

	if err := writeAtomic(path, []byte(cfg)); err != nil {
		return false, fmt.Errorf("write config of %s: %w", v.ID(), err)
	}
	return true, nil
}

// StopVassal forgets v and removes its config; the supervisor tears the
// instance down.
func (e *Emperor) StopVassal(v Vassal) error {
	e.mu.Lock()
	if cur, ok := e.vassals[v.ID()]; ok && cur == v {
		delete(e.vassals, v.ID())
	}
	e.mu.Unlock()

	if err := os.Remove(e.ConfigPath(v.ID())); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove config of %s: %w", v.ID(), err)
	}
	return nil
}

// SoftRestartVassal touches the config so the supervisor reloads the
// instance without a config change.
func (e *Emperor) SoftRestartVassal(v Vassal) error {
	path := e.ConfigPath(v.ID())
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("touch config of %s: %w", v.ID(), err)
	}
	return nil
}

// Adopt registers a vassal whose config already exists on disk, so that
// supervisor events are attributed to it.
func (e *Emperor) Adopt(v Vassal) {
	e.register(v)
}

// Vassal returns the registered vassal with the given id.
func (e *Emperor) Vassal(id string) (Vassal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.vassals[id]
	return v, ok
}

// VassalIDs lists the ids of every config file in the vassal directory.
func (e *Emperor) VassalIDs() ([]string, error) {
	entries, err := os.ReadDir(e.opts.VassalDir)
	if err != nil {
		return nil, fmt.Errorf("read vassal dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, configExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, configExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func (e *Emperor) register(v Vassal) {
	e.mu.Lock()
	e.vassals[v.ID()] = v
	e.mu.Unlock()
}

// HandleLines applies a batch of emperor log lines to the registry. It is
// the handler for the emperor log stream.
func (e *Emperor) HandleLines(lines []string) {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ev := logparse.Emperor(line)
		switch ev.LogType() {
		case domain.LogTypeVassalReady:
			if v, ok := e.Vassal(ev.String("vassal")); ok {
				v.SetStatus(StatusRunning)
			}
		case domain.LogTypeVassalRemoved:
			v, ok := e.Vassal(ev.String("vassal"))
			if !ok {
				continue
			}
			// A removal we did not ask for means the instance keeps dying.
			switch v.Status() {
			case StatusStarted, StatusFailed:
				v.SetStatus(StatusFailed)
			default:
				v.SetStatus(StatusStopped)
			}
		default:
			e.log.Debug("emperor", logger.String("line", line))
		}
	}
}

func writeAtomic(path string, data []byte) error {
	dir, name := filepath.Split(path)
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
