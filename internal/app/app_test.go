package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrSnakeDoc/forest/internal/config"
	"github.com/MrSnakeDoc/forest/internal/domain"
)

func testConfig(t *testing.T, roles ...string) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Name:              "node-1",
		Root:              root,
		Secret:            "s3cr3t",
		Roles:             roles,
		Host:              "127.0.0.1",
		ListenPort:        "127.0.0.1:0",
		ShutdownTimeout:   time.Second,
		RequestTimeout:    time.Second,
		LogLevel:          "error",
		EmperorDir:        filepath.Join(root, "vassals"),
		LogTransport:      config.TransportUDP,
		BranchLogAddr:     "127.0.0.1:0",
		EmperorLogAddr:    "127.0.0.1:0",
		LogChannelPrefix:  "forest",
		StatusInterval:    time.Minute,
		AirPort:           3000,
		AirFastrouterPort: 3333,
	}
}

func TestNewBranchAndAir(t *testing.T) {
	cfg := testConfig(t, config.RoleBranch, config.RoleAir)

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.closeStreams)

	if a.emperor == nil || a.branch == nil || a.air == nil {
		t.Fatalf("components not wired: emperor=%v branch=%v air=%v", a.emperor != nil, a.branch != nil, a.air != nil)
	}
	if a.druid != nil || a.reconciler != nil {
		t.Fatal("druid wired without the druid role")
	}
	if a.poller == nil {
		t.Fatal("status poller not wired")
	}
	if a.redisClient != nil {
		t.Fatal("redis connected although no component needs it")
	}

	if len(a.streams) != 2 {
		t.Fatalf("streams = %d, want 2", len(a.streams))
	}
	seen := map[string]bool{}
	for _, s := range a.streams {
		seen[s.name] = true
		if !strings.HasPrefix(s.source.Target(), "socket:127.0.0.1:") {
			t.Errorf("%s target = %q", s.name, s.source.Target())
		}
	}
	if !seen["emperor"] || !seen["branch"] {
		t.Errorf("streams = %v", seen)
	}

	if _, err := os.Stat(cfg.EmperorDir); err != nil {
		t.Errorf("vassal dir not created: %v", err)
	}
}

func TestNewAirOnly(t *testing.T) {
	cfg := testConfig(t, config.RoleAir)
	cfg.StatusInterval = 0

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.closeStreams)

	if a.branch != nil {
		t.Error("branch wired without the branch role")
	}
	if a.air == nil || a.emperor == nil {
		t.Fatal("air role needs the emperor and the fastrouter")
	}
	if a.poller != nil {
		t.Error("status poller wired with a zero interval")
	}
	if len(a.streams) != 1 || a.streams[0].name != "emperor" {
		t.Errorf("streams = %+v", a.streams)
	}
}

func TestNewDruidMemoryStore(t *testing.T) {
	cfg := testConfig(t, config.RoleDruid)
	cfg.Store = config.StoreMemory
	cfg.ReconcileInterval = time.Minute

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.closeStreams)

	if a.redisClient != nil {
		t.Fatal("redis connected for a memory backed druid")
	}
	if a.druid == nil || a.reconciler == nil {
		t.Fatal("druid or reconciler not wired")
	}
	if a.emperor != nil || len(a.streams) != 0 {
		t.Error("emperor wired without the branch or air role")
	}

	ctx := context.Background()
	if _, err := a.druid.CreateSpecies(ctx, domain.Species{Name: "blog", URL: "https://git.example.com/blog.git"}); err != nil {
		t.Fatalf("CreateSpecies: %v", err)
	}
	list, err := a.druid.ListSpecies(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("ListSpecies() = %v, %v", list, err)
	}
}

func TestNewTopologyError(t *testing.T) {
	cfg := testConfig(t, config.RoleBranch)
	cfg.TopologyFile = filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := New(cfg); err == nil {
		t.Fatal("expected an error for a missing topology file")
	}
}

func TestNewBindError(t *testing.T) {
	cfg := testConfig(t, config.RoleBranch)

	first, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(first.closeStreams)

	var emperorAddr string
	for _, s := range first.streams {
		if s.name == "emperor" {
			emperorAddr = strings.TrimPrefix(s.source.Target(), "socket:")
		}
	}

	second := testConfig(t, config.RoleBranch)
	second.EmperorLogAddr = emperorAddr
	if _, err := New(second); err == nil {
		t.Fatal("expected an error when the emperor log address is taken")
	}
}
