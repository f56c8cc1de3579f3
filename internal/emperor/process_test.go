//go:build unix

package emperor

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// deadPID is above every platform's pid limit, so signal 0 reports ESRCH.
const deadPID = 99999999

// fakeUWSGI writes a shell script standing in for the supervisor binary.
// Every invocation appends its arguments to the returned log file.
func fakeUWSGI(t *testing.T, exitCode int) (binary, calls string) {
	t.Helper()
	dir := t.TempDir()
	binary = filepath.Join(dir, "uwsgi")
	calls = filepath.Join(dir, "calls.log")
	script := "#!/bin/sh\necho \"$@\" >> " + calls + "\necho fake output\nexit " + strconv.Itoa(exitCode) + "\n"
	if err := os.WriteFile(binary, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return binary, calls
}

func readCalls(t *testing.T, path string) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(raw)), "\n")
}

func TestLaunch(t *testing.T) {
	tests := []struct {
		name        string
		pidfile     string // content written before Launch, "" for none
		wantSpawn   bool
		wantPidfile bool
	}{
		{name: "no pidfile", wantSpawn: true},
		{name: "stale pidfile", pidfile: strconv.Itoa(deadPID), wantSpawn: true},
		{name: "garbage pidfile", pidfile: "not a pid", wantSpawn: true},
		{name: "live pidfile", pidfile: strconv.Itoa(os.Getpid()), wantSpawn: false, wantPidfile: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			binary, calls := fakeUWSGI(t, 0)
			e := newTestEmperor(t, Options{Binary: binary, LogTarget: "socket:127.0.0.1:5123"})
			if tt.pidfile != "" {
				if err := os.WriteFile(e.opts.Pidfile, []byte(tt.pidfile+"\n"), 0o644); err != nil {
					t.Fatal(err)
				}
			}

			if err := e.Launch(context.Background()); err != nil {
				t.Fatalf("Launch() error = %v", err)
			}

			got := readCalls(t, calls)
			if spawned := len(got) == 1; spawned != tt.wantSpawn {
				t.Fatalf("spawned = %v, want %v (calls %q)", spawned, tt.wantSpawn, got)
			}
			if tt.wantSpawn {
				args := got[0]
				for _, want := range []string{
					"--emperor " + e.VassalDir(),
					"--pidfile " + e.opts.Pidfile,
					"--logger socket:127.0.0.1:5123",
					"--emperor-stats 127.0.0.1:1777",
				} {
					if !strings.Contains(args, want) {
						t.Errorf("launch args %q lack %q", args, want)
					}
				}
			}

			_, err := os.Stat(e.opts.Pidfile)
			if exists := err == nil; exists != tt.wantPidfile {
				t.Errorf("pidfile exists = %v, want %v", exists, tt.wantPidfile)
			}
		})
	}
}

func TestLaunch_Failure(t *testing.T) {
	binary, _ := fakeUWSGI(t, 1)
	e := newTestEmperor(t, Options{Binary: binary})

	err := e.Launch(context.Background())
	if err == nil {
		t.Fatal("expected an error from a failing supervisor")
	}
	if !strings.Contains(err.Error(), "fake output") {
		t.Errorf("error %q lacks the command output", err)
	}
}

func TestShutdown_ClearsPidfileAndConfigs(t *testing.T) {
	binary, calls := fakeUWSGI(t, 0)
	e := newTestEmperor(t, Options{Binary: binary})

	for _, id := range []string{"a", "b"} {
		if _, err := e.StartVassal(newTestVassal(id, "[uwsgi]\n")); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(e.opts.Pidfile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	got := readCalls(t, calls)
	if len(got) != 1 || got[0] != "--stop "+e.opts.Pidfile {
		t.Errorf("calls = %q, want a single --stop", got)
	}
	if _, err := os.Stat(e.opts.Pidfile); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("pidfile still present: %v", err)
	}
	ids, err := e.VassalIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("vassal configs left behind: %v", ids)
	}
}

func TestShutdown_StopFailureKeepsState(t *testing.T) {
	binary, _ := fakeUWSGI(t, 1)
	e := newTestEmperor(t, Options{Binary: binary})
	if _, err := e.StartVassal(newTestVassal("a", "[uwsgi]\n")); err != nil {
		t.Fatal(err)
	}

	if err := e.Shutdown(context.Background()); err == nil {
		t.Fatal("expected an error when the stop command fails")
	}
	if ids, _ := e.VassalIDs(); len(ids) != 1 {
		t.Errorf("configs = %v, want them kept after a failed stop", ids)
	}
}
