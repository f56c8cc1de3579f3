package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/forest/internal/branch"
	"github.com/MrSnakeDoc/forest/internal/druid"
	"github.com/MrSnakeDoc/forest/internal/peer"
)

// Topology is the cluster layout file.
//
//	branch:
//	  - {name: branch1, host: 10.0.0.2, port: 1234, secret: "${FOREST_SECRET}"}
//	air:
//	  - {name: air1, host: 10.0.0.3, port: 1234, fastrouter: 3333, secret: "${FOREST_SECRET}"}
//	roots:
//	  - {name: roots1, host: 10.0.0.4, port: 1234, secret: "${FOREST_SECRET}"}
//	loggers:
//	  - {identifier: druid, type: POSTLogger, address: "http://10.0.0.1:1234/api/druid/logs"}
type Topology struct {
	Branch  []peer.Endpoint       `yaml:"branch"`
	Air     []peer.Endpoint       `yaml:"air"`
	Roots   []peer.Endpoint       `yaml:"roots"`
	Loggers []branch.LoggerConfig `yaml:"loggers"`
}

// Druid returns the peers a broker drives.
func (t *Topology) Druid() druid.Topology {
	return druid.Topology{Branches: t.Branch, Air: t.Air, Roots: t.Roots}
}

// Validate checks peer entries for the fields every call needs.
func (t *Topology) Validate() error {
	groups := map[string][]peer.Endpoint{"branch": t.Branch, "air": t.Air, "roots": t.Roots}
	for group, eps := range groups {
		names := make(map[string]bool, len(eps))
		for i, ep := range eps {
			switch {
			case ep.Name == "":
				return fmt.Errorf("%s[%d]: name is required", group, i)
			case ep.Host == "" || ep.Port == 0:
				return fmt.Errorf("%s %s: host and port are required", group, ep.Name)
			case names[ep.Name]:
				return fmt.Errorf("%s %s: duplicate name", group, ep.Name)
			case group == "air" && ep.Fastrouter == 0:
				return fmt.Errorf("air %s: fastrouter port is required", ep.Name)
			}
			names[ep.Name] = true
		}
	}
	return nil
}

// LoadTopology reads and parses a topology file. An empty path yields an
// empty topology.
func LoadTopology(path string) (*Topology, error) {
	topo := &Topology{}
	if path == "" {
		return topo, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}

	// Secrets are referenced as ${VAR} and never written to disk
	data = expandVariables(data)

	if err := yaml.Unmarshal(data, topo); err != nil {
		return nil, fmt.Errorf("failed to parse topology yaml: %w", err)
	}
	if err := topo.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}
	return topo, nil
}

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandVariables replaces ${VAR} with the environment value of VAR.
// Example: secret: "${FOREST_SECRET}" -> secret: "s3cret"
func expandVariables(data []byte) []byte {
	return variablePattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := variablePattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}
