// Package species implements the build pipeline that turns a source
// repository into a runnable environment: checkout, virtualenv,
// dependencies. Readiness is persisted next to the build so a restart never
// trusts a half finished one.
package species

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrSnakeDoc/forest/internal/domain"
	"github.com/MrSnakeDoc/forest/internal/logger"
)

const (
	component    = "Species"
	metadataFile = "metadata.json"
)

// ReadyFunc is called after a successful build.
type ReadyFunc func(*Species)

// Builder runs build pipelines. Builds of one species id never overlap and
// concurrent requests for the same version share a single run.
type Builder struct {
	runner Runner
	log    logger.Logger

	group singleflight.Group

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewBuilder(runner Runner, log logger.Logger) *Builder {
	if runner == nil {
		runner = ExecRunner{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{runner: runner, log: log, locks: make(map[string]*sync.Mutex)}
}

func (b *Builder) lock(id string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[id]
	if !ok {
		l = &sync.Mutex{}
		b.locks[id] = l
	}
	return l
}

// Species is one declared version of a source bundle on this host.
type Species struct {
	domain.Species

	path    string
	builder *Builder
	onReady ReadyFunc

	mu    sync.RWMutex
	ready bool
}

type metadata struct {
	domain.Species
	// Applied is the Modified value of the last fully successful build.
	Applied *time.Time `json:"applied,omitempty"`
}

// New prepares the species directory under root and derives readiness from
// the persisted marker.
func New(root string, spec domain.Species, b *Builder, onReady ReadyFunc) (*Species, error) {
	if spec.ID == "" || filepath.Base(spec.ID) != spec.ID {
		return nil, fmt.Errorf("invalid species id %q", spec.ID)
	}
	spec.Normalize()

	s := &Species{
		Species: spec,
		path:    filepath.Join(root, spec.ID),
		builder: b,
		onReady: onReady,
	}
	if err := os.MkdirAll(s.path, 0o755); err != nil {
		return nil, fmt.Errorf("create species dir: %w", err)
	}

	applied := s.applied()
	s.ready = applied != nil && applied.Equal(spec.Modified)

	if err := s.saveMetadata(applied); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadMetadata reads the declared species stored in dir.
func LoadMetadata(dir string) (domain.Species, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return domain.Species{}, err
	}
	var m metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return domain.Species{}, fmt.Errorf("decode %s: %w", metadataFile, err)
	}
	return m.Species, nil
}

func (s *Species) Path() string        { return s.path }
func (s *Species) SrcPath() string     { return filepath.Join(s.path, "src") }
func (s *Species) Environment() string { return filepath.Join(s.path, "env") }

// Python is the uWSGI plugin name for the interpreter.
func (s *Species) Python() string { return s.Interpreter }

func (s *Species) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Initialize builds the species unless it is already ready. A failing step
// aborts the pipeline and leaves the species not ready; nothing is retried.
func (s *Species) Initialize(ctx context.Context) error {
	if s.Ready() {
		return nil
	}

	key := s.ID + "@" + s.Modified.UTC().Format(time.RFC3339Nano)
	_, err, shared := s.builder.group.Do(key, func() (any, error) {
		l := s.builder.lock(s.ID)
		l.Lock()
		defer l.Unlock()

		if s.Ready() {
			return nil, nil
		}
		if err := s.build(ctx); err != nil {
			return nil, err
		}
		s.markReady()
		return nil, nil
	})
	if err != nil {
		return err
	}

	// Another object of the same version ran the build.
	if shared && !s.Ready() {
		if applied := s.applied(); applied != nil && applied.Equal(s.Modified) {
			s.markReady()
		}
	}
	return nil
}

func (s *Species) build(ctx context.Context) error {
	log := s.builder.log
	run := func(step string, c Command) error {
		if out, err := s.builder.runner.Run(ctx, c); err != nil {
			log.Error("species build step failed",
				logger.Component(component),
				logger.String("species", s.Name),
				logger.String("step", step),
				logger.String("output", string(out)),
				logger.Error(err))
			return fmt.Errorf("%s: %w", step, err)
		}
		return nil
	}

	if err := os.RemoveAll(s.SrcPath()); err != nil {
		return fmt.Errorf("clean sources: %w", err)
	}
	log.Info(fmt.Sprintf("Initializing sources for %s", s.Name), logger.Component(component))
	if err := run("checkout", Command{
		Dir:  s.path,
		Name: "git",
		Args: []string{"clone", "--depth", "1", "--branch", s.Branch, s.URL, s.SrcPath()},
	}); err != nil {
		return err
	}

	if err := os.RemoveAll(s.Environment()); err != nil {
		return fmt.Errorf("clean environment: %w", err)
	}
	log.Info(fmt.Sprintf("Creating virtualenv for species %s", s.Name), logger.Component(component))
	if err := run("environment", Command{
		Dir:  s.path,
		Name: "virtualenv",
		Args: []string{"--python=" + s.Interpreter, s.Environment()},
	}); err != nil {
		return err
	}

	log.Info(fmt.Sprintf("Installing virtualenv requirements for %s", s.Name), logger.Component(component))
	if err := run("dependencies", Command{
		Dir: s.path,
		Env: []string{
			"VIRTUAL_ENV=" + s.Environment(),
			"PATH=" + filepath.Join(s.Environment(), "bin") + string(os.PathListSeparator) + os.Getenv("PATH"),
		},
		Name: filepath.Join(s.Environment(), "bin", "pip"),
		Args: []string{"install", "-r", filepath.Join(s.SrcPath(), "requirements.txt"), "--upgrade"},
	}); err != nil {
		return err
	}

	modified := s.Modified
	if err := s.saveMetadata(&modified); err != nil {
		return err
	}
	log.Info(fmt.Sprintf("Done initializing %s", s.Name), logger.Component(component))
	return nil
}

func (s *Species) markReady() {
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	if s.onReady != nil {
		s.onReady(s)
	}
}

func (s *Species) applied() *time.Time {
	raw, err := os.ReadFile(filepath.Join(s.path, metadataFile))
	if err != nil {
		return nil
	}
	var m metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m.Applied
}

func (s *Species) saveMetadata(applied *time.Time) error {
	raw, err := json.MarshalIndent(metadata{Species: s.Species, Applied: applied}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	path := filepath.Join(s.path, metadataFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// IsNotExist reports whether err means a species has no metadata yet.
func IsNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }
