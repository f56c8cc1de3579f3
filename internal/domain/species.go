package domain

import "time"

const (
	DefaultSourceBranch = "master"
	DefaultInterpreter  = "python3"
)

// Species describes the source and dependency bundle a Leaf runs from.
type Species struct {
	ID   string `json:"_id"`
	Name string `json:"name"`

	// URL is a git remote, Branch the ref cloned from it.
	URL    string `json:"url"`
	Branch string `json:"branch,omitempty"`

	// Modified is the logical version marker. Any change forces a rebuild.
	Modified time.Time `json:"modified"`

	Interpreter string `json:"interpreter,omitempty"`

	// Requires lists the database engines Roots must provision.
	Requires []string `json:"requires,omitempty"`

	Mules    []string          `json:"uwsgi_mules,omitempty"`
	Cron     []string          `json:"uwsgi_cron,omitempty"`
	Triggers map[string]string `json:"triggers,omitempty"`
}

// Normalize fills defaults. Unknown interpreters fall back to the default one.
func (s *Species) Normalize() {
	if s.Branch == "" {
		s.Branch = DefaultSourceBranch
	}
	switch s.Interpreter {
	case "python2", "python3":
	default:
		s.Interpreter = DefaultInterpreter
	}
}

// Summary is the short form used by species listings.
type Summary struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}
