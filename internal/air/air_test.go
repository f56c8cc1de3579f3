package air

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrSnakeDoc/forest/internal/emperor"
	"github.com/MrSnakeDoc/forest/internal/logger"
)

func newAir(t *testing.T) (*Air, *emperor.Emperor, string) {
	t.Helper()
	root := t.TempDir()
	emp, err := emperor.New(emperor.Options{Root: root}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	keys := filepath.Join(root, "keys")
	a := New(Options{Host: "10.0.0.5", Fastrouter: 3333, KeyDir: keys}, emp, logger.Nop())
	return a, emp, keys
}

func TestStart(t *testing.T) {
	a, emp, keys := newAir(t)
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(emp.ConfigPath("fastrouter"))
	if err != nil {
		t.Fatal(err)
	}
	want := "[uwsgi]\n" +
		"fastrouter=127.0.0.1:3000\n" +
		"fastrouter-subscription-server=10.0.0.5:3333\n" +
		"subscriptions-sign-check=SHA1:" + keys + "\n"
	if string(raw) != want {
		t.Errorf("config =\n%s\nwant\n%s", raw, want)
	}
	if a.Router().Status() != emperor.StatusStarted {
		t.Errorf("status = %s", a.Router().Status())
	}

	if err := a.Stop(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(emp.ConfigPath("fastrouter")); !errors.Is(err, os.ErrNotExist) {
		t.Error("config survived Stop")
	}
}

func TestAllowHost(t *testing.T) {
	a, _, keys := newAir(t)
	if err := os.MkdirAll(keys, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(keys, "default.pem"), []byte("PUBLIC KEY"), 0o644); err != nil {
		t.Fatal(err)
	}

	created, err := a.AllowHost("app1.example.com")
	if err != nil || !created {
		t.Fatalf("AllowHost() = %v, %v", created, err)
	}
	raw, _ := os.ReadFile(filepath.Join(keys, "app1.example.com.pem"))
	if string(raw) != "PUBLIC KEY" {
		t.Errorf("key = %q", raw)
	}

	if created, err := a.AllowHost("app1.example.com"); err != nil || created {
		t.Errorf("second AllowHost() = %v, %v; want false, nil", created, err)
	}

	for _, bad := range []string{"", "../etc/passwd", "a/b", ".hidden"} {
		if _, err := a.AllowHost(bad); !errors.Is(err, ErrInvalidHost) {
			t.Errorf("AllowHost(%q) error = %v, want ErrInvalidHost", bad, err)
		}
	}
}

func TestAllowHost_MissingDefaultKey(t *testing.T) {
	a, _, keys := newAir(t)
	_ = os.MkdirAll(keys, 0o755)

	_, err := a.AllowHost("app1.example.com")
	if err == nil || !strings.Contains(err.Error(), "default key") {
		t.Fatalf("AllowHost() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(keys, "app1.example.com.pem")); !errors.Is(err, os.ErrNotExist) {
		t.Error("partial key left behind")
	}
}
