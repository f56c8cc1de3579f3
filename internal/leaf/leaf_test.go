package leaf

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/forest/internal/domain"
	"github.com/MrSnakeDoc/forest/internal/emperor"
	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/species"
)

const leafID = "65a0f1e2d3c4b5a697887766"

type okRunner struct{}

func (okRunner) Run(context.Context, species.Command) ([]byte, error) { return nil, nil }

func newEmperor(t *testing.T) *emperor.Emperor {
	t.Helper()
	e, err := emperor.New(emperor.Options{Root: t.TempDir()}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func newSpecies(t *testing.T, onReady species.ReadyFunc) *species.Species {
	t.Helper()
	sp, err := species.New(t.TempDir(), domain.Species{
		ID:       "5f1d2c3b4a5968778695a4b3",
		Name:     "blog",
		URL:      "https://git.example.com/blog.git",
		Modified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}, species.NewBuilder(okRunner{}, nil), onReady)
	if err != nil {
		t.Fatal(err)
	}
	return sp
}

func testConfig() domain.LeafConfig {
	return domain.LeafConfig{
		ID:          leafID,
		Name:        "app1",
		Type:        "5f1d2c3b4a5968778695a4b3",
		Address:     []string{"app1.example.com", "www.app1.example.com"},
		Settings:    map[string]any{"debug": true},
		Batteries:   map[string]any{"mysql": map[string]any{"user": "app1", "password": "s3cret"}},
		Fastrouters: []string{"10.0.0.1:3333", "10.0.0.2:3333"},
		Mules:       []string{"worker.py"},
	}
}

var testOptions = Options{
	Host:      "127.0.0.1",
	LogTarget: "socket:127.0.0.1:5122",
	Keyfile:   "/srv/forest/keys/private.pem",
}

func TestStart_QueuedUntilSpeciesReady(t *testing.T) {
	emp := newEmperor(t)
	var l *Leaf
	sp := newSpecies(t, func(*species.Species) {
		if _, err := l.Start(); err != nil {
			t.Errorf("Start() from ready callback: %v", err)
		}
	})
	l = New(testConfig(), sp, emp, testOptions, logger.Nop())

	started, err := l.Start()
	if err != nil || started {
		t.Fatalf("Start() = %v, %v; want false, nil", started, err)
	}
	if l.Status() != emperor.StatusQueued {
		t.Fatalf("status = %s, want Queued", l.Status())
	}
	if _, err := os.Stat(emp.ConfigPath(leafID)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("queued leaf has a vassal config")
	}

	if err := sp.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	if l.Status() != emperor.StatusStarted {
		t.Errorf("status = %s, want Started", l.Status())
	}
	if _, err := os.Stat(emp.ConfigPath(leafID)); err != nil {
		t.Errorf("vassal config missing: %v", err)
	}
	if _, ok := emp.Vassal(leafID); !ok {
		t.Error("leaf not registered with the emperor")
	}
}

// A Start racing the species build must never leave the leaf queued
// behind a ready species.
func TestStart_RacingSpeciesReady(t *testing.T) {
	for i := range 50 {
		emp := newEmperor(t)
		var l *Leaf
		sp := newSpecies(t, func(*species.Species) {
			if _, err := l.Start(); err != nil {
				t.Errorf("Start() from ready callback: %v", err)
			}
		})
		l = New(testConfig(), sp, emp, testOptions, logger.Nop())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := l.Start(); err != nil {
				t.Errorf("Start(): %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := sp.Initialize(context.Background()); err != nil {
				t.Errorf("Initialize(): %v", err)
			}
		}()
		wg.Wait()

		if l.Status() != emperor.StatusStarted {
			t.Fatalf("run %d: status = %s, want Started", i, l.Status())
		}
		if _, ok := emp.Vassal(leafID); !ok {
			t.Fatalf("run %d: leaf not registered with the emperor", i)
		}
	}
}

func TestConfig(t *testing.T) {
	sp := newSpecies(t, nil)
	l := New(testConfig(), sp, newEmperor(t), testOptions, logger.Nop())

	cfg, err := l.Config()
	if err != nil {
		t.Fatal(err)
	}

	wants := []string{
		"socket=127.0.0.1:0\n",
		"logger=socket:127.0.0.1:5122\n",
		"req-logger=socket:127.0.0.1:5122\n",
		"log-encoder=prefix [Leaf " + leafID + "]\n",
		`"log_source":"` + leafID + `"`,
		`"request_size":"%(cl)"`,
		"plugin=python3\n",
		"processes=2\n",
		"chdir=" + filepath.Join(sp.Path(), "src") + "\n",
		`env=BATTERIES={"mysql":{"password":"s3cret","user":"app1"}}` + "\n",
		`env=APPLICATION_SETTINGS={"debug":true}` + "\n",
		"env=PATH=" + filepath.Join(sp.Path(), "env") + "/bin:%(_)\n",
		"mule=worker.py\n",
		"subscribe-to=10.0.0.1:3333:app1.example.com,5,SHA1:/srv/forest/keys/private.pem\n",
		"subscribe-to=10.0.0.2:3333:www.app1.example.com,5,SHA1:/srv/forest/keys/private.pem\n",
	}
	for _, want := range wants {
		if !strings.Contains(cfg, want) {
			t.Errorf("config missing %q", want)
		}
	}
	if n := strings.Count(cfg, "subscribe-to="); n != 4 {
		t.Errorf("subscriptions = %d, want 4", n)
	}
	if strings.Contains(cfg, "enable-threads") {
		t.Error("threads enabled without being asked")
	}

	again, _ := l.Config()
	if again != cfg {
		t.Error("config rendering is not deterministic")
	}
}

func TestConfig_SnapshotRoundTrip(t *testing.T) {
	l := New(testConfig(), newSpecies(t, nil), newEmperor(t), testOptions, logger.Nop())
	cfg, err := l.Config()
	if err != nil {
		t.Fatal(err)
	}

	snap, err := ParseSnapshot([]byte(cfg))
	if err != nil {
		t.Fatalf("ParseSnapshot() error = %v", err)
	}
	if snap.Cls != Kind || snap.ID != leafID || snap.Type != testConfig().Type {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.Address) != 2 || len(snap.Fastrouters) != 2 || snap.Workers != 2 {
		t.Errorf("snapshot lost fields: %+v", snap)
	}
}

func TestParseSnapshot_Missing(t *testing.T) {
	tests := []string{
		"[uwsgi]\nfastrouter=127.0.0.1:3000\n",
		"[uwsgi]\ndata={}\n",
		"",
	}
	for _, raw := range tests {
		if _, err := ParseSnapshot([]byte(raw)); !errors.Is(err, ErrNoSnapshot) {
			t.Errorf("ParseSnapshot(%q) error = %v, want ErrNoSnapshot", raw, err)
		}
	}
}

func TestPause(t *testing.T) {
	emp := newEmperor(t)
	sp := newSpecies(t, nil)
	if err := sp.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	l := New(testConfig(), sp, emp, testOptions, logger.Nop())

	if started, err := l.Start(); !started || err != nil {
		t.Fatalf("Start() = %v, %v", started, err)
	}
	if err := l.Pause(); err != nil {
		t.Fatal(err)
	}

	if l.Status() != emperor.StatusPaused {
		t.Errorf("status = %s, want Paused", l.Status())
	}
	if _, err := os.Stat(emp.ConfigPath(leafID)); !errors.Is(err, os.ErrNotExist) {
		t.Error("paused leaf still has a vassal config")
	}
	if cfg, _ := l.Config(); cfg != "[uwsgi]\n" {
		t.Errorf("paused config = %q", cfg)
	}
	if l.Spec().Name != "app1" {
		t.Error("paused leaf lost its description")
	}
}
