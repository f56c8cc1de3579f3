package branch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrSnakeDoc/forest/internal/domain"
	"github.com/MrSnakeDoc/forest/internal/emperor"
	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/species"
)

const (
	leafID    = "65a0f1e2d3c4b5a697887766"
	speciesID = "5f1d2c3b4a5968778695a4b3"
)

type gateRunner struct{ gate chan struct{} }

func (r gateRunner) Run(context.Context, species.Command) ([]byte, error) {
	if r.gate != nil {
		<-r.gate
	}
	return nil, nil
}

type fixture struct {
	root    string
	emperor *emperor.Emperor
	branch  *Branch
	runner  gateRunner
}

func newFixture(t *testing.T, root string, runner gateRunner) *fixture {
	t.Helper()
	emp, err := emperor.New(emperor.Options{Root: root}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	b := New(Options{
		Name:      "branch1",
		Root:      root,
		Host:      "127.0.0.1",
		LogTarget: "socket:127.0.0.1:5122",
	}, emp, species.NewBuilder(runner, logger.Nop()), nil, logger.Nop())
	return &fixture{root: root, emperor: emp, branch: b, runner: runner}
}

func speciesAt(modified time.Time) domain.Species {
	return domain.Species{
		ID:       speciesID,
		Name:     "blog",
		URL:      "https://git.example.com/blog.git",
		Modified: modified,
	}
}

var v1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// readySpecies declares and synchronously builds the species.
func (f *fixture) readySpecies(t *testing.T, modified time.Time) *species.Species {
	t.Helper()
	sp, err := f.branch.CreateSpecies(speciesAt(modified), false)
	if err != nil {
		t.Fatal(err)
	}
	if err := sp.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return sp
}

func leafConfig(name string) domain.LeafConfig {
	return domain.LeafConfig{
		ID:          leafID,
		Name:        name,
		Type:        speciesID,
		Address:     []string{name + ".example.com"},
		Fastrouters: []string{"10.0.0.1:3333"},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCreateLeaf_UnknownSpecies(t *testing.T) {
	f := newFixture(t, t.TempDir(), gateRunner{})

	_, err := f.branch.CreateLeaf(leafConfig("app1"))
	if !errors.Is(err, ErrSpeciesNotDefined) {
		t.Fatalf("CreateLeaf() error = %v, want ErrSpeciesNotDefined", err)
	}

	cfg := leafConfig("app1")
	cfg.ID = "../escape"
	f.readySpecies(t, v1)
	if _, err := f.branch.CreateLeaf(cfg); !errors.Is(err, ErrInvalidLeaf) {
		t.Fatalf("CreateLeaf(bad id) error = %v, want ErrInvalidLeaf", err)
	}
}

func TestAddLeaf_UpsertStopsPrevious(t *testing.T) {
	f := newFixture(t, t.TempDir(), gateRunner{})
	f.readySpecies(t, v1)

	first, err := f.branch.CreateLeaf(leafConfig("app1"))
	if err != nil {
		t.Fatal(err)
	}
	if started, err := f.branch.AddLeaf(first, true); !started || err != nil {
		t.Fatalf("AddLeaf(first) = %v, %v", started, err)
	}

	second, err := f.branch.CreateLeaf(leafConfig("app2"))
	if err != nil {
		t.Fatal(err)
	}
	if started, err := f.branch.AddLeaf(second, true); !started || err != nil {
		t.Fatalf("AddLeaf(second) = %v, %v", started, err)
	}

	if first.Status() != emperor.StatusStopped {
		t.Errorf("first status = %s, want Stopped", first.Status())
	}
	if second.Status() != emperor.StatusStarted {
		t.Errorf("second status = %s, want Started", second.Status())
	}
	if got, _ := f.branch.Leaf(leafID); got != second {
		t.Error("registry does not hold the second leaf")
	}
	if v, _ := f.emperor.Vassal(leafID); v != second {
		t.Error("emperor does not supervise the second leaf")
	}
	raw, err := os.ReadFile(f.emperor.ConfigPath(leafID))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "app2.example.com") {
		t.Error("config on disk is not the second leaf's")
	}
	if f.branch.Count() != 1 {
		t.Errorf("Count() = %d, want 1", f.branch.Count())
	}
}

func TestDelLeaf(t *testing.T) {
	f := newFixture(t, t.TempDir(), gateRunner{})
	f.readySpecies(t, v1)
	l, _ := f.branch.CreateLeaf(leafConfig("app1"))
	if _, err := f.branch.AddLeaf(l, true); err != nil {
		t.Fatal(err)
	}

	found, err := f.branch.DelLeaf(leafID)
	if !found || err != nil {
		t.Fatalf("DelLeaf() = %v, %v", found, err)
	}
	if _, err := os.Stat(f.emperor.ConfigPath(leafID)); !errors.Is(err, os.ErrNotExist) {
		t.Error("config survived DelLeaf")
	}
	if found, _ := f.branch.DelLeaf(leafID); found {
		t.Error("second DelLeaf() reported the leaf as found")
	}
}

func TestCreateSpecies_RebuildPausesAndRestarts(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, t.TempDir(), gateRunner{gate: gate})

	// Let the first build through.
	go func() {
		for i := 0; i < 3; i++ {
			gate <- struct{}{}
		}
	}()
	f.readySpecies(t, v1)

	l, _ := f.branch.CreateLeaf(leafConfig("app1"))
	if started, err := f.branch.AddLeaf(l, true); !started || err != nil {
		t.Fatalf("AddLeaf() = %v, %v", started, err)
	}

	v2 := v1.Add(time.Hour)
	sp, err := f.branch.CreateSpecies(speciesAt(v2), true)
	if err != nil {
		t.Fatal(err)
	}
	if l.Status() != emperor.StatusPaused {
		t.Fatalf("status during rebuild = %s, want Paused", l.Status())
	}
	if l.Species() != sp {
		t.Error("leaf not rebound to the new species")
	}
	if _, err := os.Stat(f.emperor.ConfigPath(leafID)); !errors.Is(err, os.ErrNotExist) {
		t.Error("paused leaf still has a config")
	}

	close(gate)
	waitFor(t, "leaf restart", func() bool { return l.Status() == emperor.StatusStarted })
	if _, err := os.Stat(f.emperor.ConfigPath(leafID)); err != nil {
		t.Errorf("restarted leaf config missing: %v", err)
	}
}

func TestCreateSpecies_SameVersionKeepsLeavesRunning(t *testing.T) {
	f := newFixture(t, t.TempDir(), gateRunner{})
	f.readySpecies(t, v1)
	l, _ := f.branch.CreateLeaf(leafConfig("app1"))
	if _, err := f.branch.AddLeaf(l, true); err != nil {
		t.Fatal(err)
	}

	if _, err := f.branch.CreateSpecies(speciesAt(v1), true); err != nil {
		t.Fatal(err)
	}
	if l.Status() != emperor.StatusStarted {
		t.Errorf("status = %s, want Started", l.Status())
	}
}

func TestRestore(t *testing.T) {
	root := t.TempDir()
	f := newFixture(t, root, gateRunner{})
	f.readySpecies(t, v1)
	l, _ := f.branch.CreateLeaf(leafConfig("app1"))
	if _, err := f.branch.AddLeaf(l, true); err != nil {
		t.Fatal(err)
	}

	// A foreign vassal and an orphan leaf are skipped.
	if err := os.WriteFile(filepath.Join(f.emperor.VassalDir(), "air.ini"), []byte("[uwsgi]\nfastrouter=:3000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	orphan := strings.Replace(mustRead(t, f.emperor.ConfigPath(leafID)), speciesID, "000000000000000000000000", -1)
	orphan = strings.Replace(orphan, leafID, "111111111111111111111111", -1)
	if err := os.WriteFile(f.emperor.ConfigPath("111111111111111111111111"), []byte(orphan), 0o644); err != nil {
		t.Fatal(err)
	}

	restarted := newFixture(t, root, gateRunner{})
	restarted.branch.Restore()

	sp, ok := restarted.branch.Species(speciesID)
	if !ok || !sp.Ready() {
		t.Fatalf("species restored = %v, ready = %v", ok, ok && sp.Ready())
	}
	got, ok := restarted.branch.Leaf(leafID)
	if !ok {
		t.Fatal("leaf not restored")
	}
	if got.Name() != "app1" || got.Species() != sp {
		t.Errorf("restored leaf = %s bound to %p", got.Name(), got.Species())
	}
	if _, ok := restarted.emperor.Vassal(leafID); !ok {
		t.Error("restored leaf not adopted by the emperor")
	}
	if ids := restarted.branch.LeafIDs(); len(ids) != 1 {
		t.Errorf("LeafIDs() = %v, want only %s", ids, leafID)
	}
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}
