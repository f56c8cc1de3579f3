package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTopology(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to create test YAML file: %v", err)
	}
	return path
}

func TestLoadTopology(t *testing.T) {
	t.Setenv("TEST_FOREST_SECRET", "s3cret")

	path := writeTopology(t, `---
branch:
  - name: branch1
    host: 10.0.0.2
    port: 1234
    secret: "${TEST_FOREST_SECRET}"
air:
  - name: air1
    host: 10.0.0.3
    port: 1234
    fastrouter: 3333
    secret: "${TEST_FOREST_SECRET}"
roots:
  - name: roots1
    host: 10.0.0.4
    port: 1234
loggers:
  - identifier: druid
    type: POSTLogger
    address: http://10.0.0.1:1234/api/druid/logs
    max_failures: 3
    filters:
      log_type: leaf
`)

	topo, err := LoadTopology(path)
	if err != nil {
		t.Fatalf("LoadTopology() error = %v", err)
	}

	if len(topo.Branch) != 1 || topo.Branch[0].Secret != "s3cret" {
		t.Errorf("branch = %+v", topo.Branch)
	}
	if topo.Air[0].FastrouterAddr() != "10.0.0.3:3333" {
		t.Errorf("FastrouterAddr() = %v", topo.Air[0].FastrouterAddr())
	}
	if len(topo.Loggers) != 1 || topo.Loggers[0].MaxFailures != 3 || topo.Loggers[0].Filters["log_type"] != "leaf" {
		t.Errorf("loggers = %+v", topo.Loggers)
	}

	d := topo.Druid()
	if len(d.Branches) != 1 || len(d.Air) != 1 || len(d.Roots) != 1 {
		t.Errorf("Druid() = %+v", d)
	}
}

func TestLoadTopologyEmptyPath(t *testing.T) {
	topo, err := LoadTopology("")
	if err != nil {
		t.Fatalf("LoadTopology() error = %v", err)
	}
	if len(topo.Branch)+len(topo.Air)+len(topo.Roots) != 0 {
		t.Errorf("LoadTopology(\"\") = %+v", topo)
	}
}

func TestLoadTopologyInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "branch:\n  - host: a\n    port: 1\n",
			wantErr: "name is required",
		},
		{
			name:    "missing port",
			content: "roots:\n  - name: r\n    host: a\n",
			wantErr: "host and port are required",
		},
		{
			name:    "duplicate name",
			content: "branch:\n  - {name: b, host: a, port: 1}\n  - {name: b, host: c, port: 1}\n",
			wantErr: "duplicate name",
		},
		{
			name:    "air without fastrouter",
			content: "air:\n  - {name: a, host: a, port: 1}\n",
			wantErr: "fastrouter port is required",
		},
		{
			name:    "broken yaml",
			content: "branch: [",
			wantErr: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTopology(writeTopology(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadTopology() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTopologyMissingFile(t *testing.T) {
	if _, err := LoadTopology(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadTopology() should fail on a missing file")
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("TEST_EXPAND", "value")

	tests := []struct {
		in   string
		want string
	}{
		{in: "a: ${TEST_EXPAND}", want: "a: value"},
		{in: "a: ${TEST_EXPAND_UNSET_XYZ}", want: "a: "},
		{in: "a: $TEST_EXPAND", want: "a: $TEST_EXPAND"},
		{in: "a: p$ss", want: "a: p$ss"},
	}

	for _, tt := range tests {
		if got := string(expandVariables([]byte(tt.in))); got != tt.want {
			t.Errorf("expandVariables(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
