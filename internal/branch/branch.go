// Package branch is the per-host registry of leaves and species, and the
// sink of the leaf log pipeline.
package branch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/forest/internal/domain"
	"github.com/MrSnakeDoc/forest/internal/emperor"
	"github.com/MrSnakeDoc/forest/internal/leaf"
	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/species"
)

const component = "Branch"

var (
	ErrSpeciesNotDefined = errors.New("species not defined")
	ErrInvalidLeaf       = errors.New("invalid leaf description")
)

// Options configures a branch.
type Options struct {
	Name string // host name stamped on every log record
	Root string // forest root; species live in <Root>/species

	Host      string // leaf socket bind address
	LogTarget string // uWSGI logger spec leaves log through
	Keyfile   string // default: <Root>/keys/private.pem

	Loggers []LoggerConfig
}

// Branch owns the leaves and species of one host.
type Branch struct {
	opts    Options
	emperor *emperor.Emperor
	builder *species.Builder
	log     logger.Logger
	now     func() time.Time

	// buildCtx outlives requests: a started build is never cancelled.
	buildCtx context.Context

	mu      sync.RWMutex
	leaves  map[string]*leaf.Leaf       // ID -> Leaf
	species map[string]*species.Species // ID -> Species

	loggers *Loggers
}

// New creates a branch. Configured logger sinks that fail to build are
// logged and skipped. rdb may be nil when no RedisLogger is used.
func New(opts Options, emp *emperor.Emperor, builder *species.Builder, rdb *goredis.Client, log logger.Logger) *Branch {
	if opts.Keyfile == "" {
		opts.Keyfile = filepath.Join(opts.Root, "keys", "private.pem")
	}
	if log == nil {
		log = logger.Nop()
	}

	b := &Branch{
		opts:     opts,
		emperor:  emp,
		builder:  builder,
		log:      log,
		now:      time.Now,
		buildCtx: context.Background(),
		leaves:   make(map[string]*leaf.Leaf),
		species:  make(map[string]*species.Species),
		loggers:  NewLoggers(rdb, log),
	}

	for _, cfg := range opts.Loggers {
		if err := b.loggers.Add(cfg); err != nil {
			log.Warn(fmt.Sprintf("Error adding '%s': %v", cfg.Identifier, err), logger.Component(component))
		}
	}
	return b
}

// Name is the host name of this branch.
func (b *Branch) Name() string { return b.opts.Name }

// Loggers exposes the sink chain.
func (b *Branch) Loggers() *Loggers { return b.loggers }

func (b *Branch) speciesDir() string { return filepath.Join(b.opts.Root, "species") }

// Restore rebuilds the registry from disk: species metadata first, then
// leaf snapshots embedded in vassal configs.
func (b *Branch) Restore() {
	b.restoreSpecies()
	b.restoreLeaves()
}

func (b *Branch) restoreSpecies() {
	entries, err := os.ReadDir(b.speciesDir())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.log.Warn("cannot read species dir", logger.Component(component), logger.Error(err))
		}
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		spec, err := species.LoadMetadata(filepath.Join(b.speciesDir(), entry.Name()))
		if err != nil {
			b.log.Debug("skipping species dir", logger.String("dir", entry.Name()), logger.Error(err))
			continue
		}
		if _, err := b.CreateSpecies(spec, false); err != nil {
			b.log.Warn("cannot restore species", logger.Component(component),
				logger.String("species", spec.ID), logger.Error(err))
		}
	}
}

func (b *Branch) restoreLeaves() {
	ids, err := b.emperor.VassalIDs()
	if err != nil {
		b.log.Warn("cannot list vassals", logger.Component(component), logger.Error(err))
		return
	}
	for _, id := range ids {
		snap, err := leaf.ReadSnapshot(b.emperor.ConfigPath(id))
		if err != nil || snap.Cls != leaf.Kind {
			continue
		}
		l, err := b.CreateLeaf(snap.LeafConfig)
		if err != nil {
			b.log.Warn(fmt.Sprintf("Cannot restore leaf %s", id), logger.Component(component), logger.Error(err))
			continue
		}
		b.log.Info(fmt.Sprintf("Restoring leaf %s", l.ID()), logger.Component(component))
		if _, err := b.AddLeaf(l, false); err != nil {
			continue
		}
		b.emperor.Adopt(l)
	}
}

// CreateSpecies declares a species. With initialize set, leaves bound to a
// not yet built version are paused and the build runs in the background;
// they restart from the ready callback.
func (b *Branch) CreateSpecies(spec domain.Species, initialize bool) (*species.Species, error) {
	sp, err := species.New(b.speciesDir(), spec, b.builder, b.speciesReady)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	_, existed := b.species[sp.ID]
	b.species[sp.ID] = sp
	b.mu.Unlock()

	switch {
	case existed:
		b.log.Info(fmt.Sprintf("Updating species %s", sp.ID), logger.Component(component))
	case initialize:
		b.log.Info(fmt.Sprintf("Creating species %s", sp.ID), logger.Component(component))
	default:
		b.log.Info(fmt.Sprintf("Restoring species %s", sp.ID), logger.Component(component))
	}

	bound := b.leavesOf(sp.ID)
	for _, l := range bound {
		l.SetSpecies(sp)
	}

	if !initialize || sp.Ready() {
		return sp, nil
	}

	for _, l := range bound {
		if err := l.Pause(); err != nil {
			b.log.Warn("cannot pause leaf", logger.Component(component),
				logger.String("leaf", l.ID()), logger.Error(err))
		}
	}
	go func() {
		if err := sp.Initialize(b.buildCtx); err != nil {
			b.log.Error(fmt.Sprintf("Species %s failed to build", sp.Name),
				logger.Component(component), logger.Error(err))
		}
	}()
	return sp, nil
}

// speciesReady restarts every leaf bound to a freshly built species.
func (b *Branch) speciesReady(sp *species.Species) {
	b.mu.RLock()
	current := b.species[sp.ID]
	b.mu.RUnlock()
	if current != sp {
		return
	}

	for _, l := range b.leavesOf(sp.ID) {
		l.SetSpecies(sp)
		if _, err := l.Start(); err != nil {
			b.log.Error("cannot start leaf", logger.Component(component),
				logger.String("leaf", l.ID()), logger.Error(err))
		}
	}
}

// Species returns a declared species.
func (b *Branch) Species(id string) (*species.Species, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sp, ok := b.species[id]
	return sp, ok
}

// CreateLeaf builds a leaf bound to its declared species.
func (b *Branch) CreateLeaf(cfg domain.LeafConfig) (*leaf.Leaf, error) {
	if !domain.IsID(cfg.ID) {
		return nil, fmt.Errorf("%w: bad id %q", ErrInvalidLeaf, cfg.ID)
	}
	sp, ok := b.Species(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSpeciesNotDefined, cfg.Type)
	}
	return leaf.New(cfg, sp, b.emperor, leaf.Options{
		Host:      b.opts.Host,
		LogTarget: b.opts.LogTarget,
		Keyfile:   b.opts.Keyfile,
	}, b.log), nil
}

// AddLeaf registers l, stopping any leaf with the same id first. When
// start is set the leaf is started; the bool reports whether it runs or
// was queued behind its species.
func (b *Branch) AddLeaf(l *leaf.Leaf, start bool) (bool, error) {
	b.mu.Lock()
	old := b.leaves[l.ID()]
	b.leaves[l.ID()] = l
	b.mu.Unlock()

	if old != nil && old != l {
		if err := old.Stop(); err != nil {
			return false, fmt.Errorf("stop previous leaf %s: %w", l.ID(), err)
		}
	}
	if !start {
		return false, nil
	}
	return l.Start()
}

// DelLeaf stops and forgets a leaf. It reports whether the leaf existed.
func (b *Branch) DelLeaf(id string) (bool, error) {
	b.mu.Lock()
	l, ok := b.leaves[id]
	delete(b.leaves, id)
	b.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, l.Stop()
}

// Leaf returns a registered leaf.
func (b *Branch) Leaf(id string) (*leaf.Leaf, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.leaves[id]
	return l, ok
}

// LeafIDs lists registered leaf ids in sorted order.
func (b *Branch) LeafIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.leaves))
	for id := range b.leaves {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered leaves.
func (b *Branch) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.leaves)
}

func (b *Branch) leavesOf(speciesID string) []*leaf.Leaf {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*leaf.Leaf
	for _, l := range b.leaves {
		if sp := l.Species(); sp != nil && sp.ID == speciesID {
			out = append(out, l)
		}
	}
	return out
}
