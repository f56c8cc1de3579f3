package domain

// Leaf is the cluster-wide record of one application instance as Druid
// persists it.
//
// A Leaf is uniquely identified by its ID. Name and every entry of Address
// are unique across the cluster as well.
type Leaf struct {
	// ─────────────────────────────
	// Identity (immutable)
	// ─────────────────────────────

	// ID is a 24 hex character identifier, see NewID.
	ID string `json:"_id"`

	// Name is the operator facing handle.
	Name string `json:"name"`

	Description string `json:"desc,omitempty"`

	// ─────────────────────────────
	// Placement
	// ─────────────────────────────

	// Type is the ID of the Species the Leaf is built from.
	Type string `json:"type"`

	// Branch is the name of the host the Leaf was placed on.
	Branch string `json:"branch"`

	// ─────────────────────────────
	// Mutable state
	// ─────────────────────────────

	Active  bool     `json:"active"`
	Address []string `json:"address"`

	// Settings is an opaque bag handed to the application as-is.
	Settings map[string]any `json:"settings,omitempty"`

	// Batteries holds database credentials keyed by engine type.
	Batteries map[string]any `json:"batteries,omitempty"`
}

// LeafConfig is the full description a Branch needs to materialize a Leaf.
// It is what travels on POST /api/branch/leaf and what gets embedded in the
// vassal configuration snapshot.
type LeafConfig struct {
	ID        string         `json:"_id"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Address   []string       `json:"address"`
	Settings  map[string]any `json:"settings,omitempty"`
	Batteries map[string]any `json:"batteries,omitempty"`

	// Fastrouters are "host:port" subscription servers of every Air node.
	Fastrouters []string `json:"fastrouters,omitempty"`

	Workers int  `json:"workers,omitempty"`
	Threads bool `json:"threads,omitempty"`

	Mules    []string          `json:"uwsgi_mules,omitempty"`
	Cron     []string          `json:"uwsgi_cron,omitempty"`
	Triggers map[string]string `json:"uwsgi_triggers,omitempty"`
}

// Config expands a persisted Leaf into the description sent to a Branch.
func (l *Leaf) Config(sp *Species, fastrouters []string) LeafConfig {
	cfg := LeafConfig{
		ID:          l.ID,
		Name:        l.Name,
		Type:        l.Type,
		Address:     append([]string(nil), l.Address...),
		Settings:    l.Settings,
		Batteries:   l.Batteries,
		Fastrouters: fastrouters,
	}
	if sp != nil {
		cfg.Mules = sp.Mules
		cfg.Cron = sp.Cron
		cfg.Triggers = sp.Triggers
	}
	return cfg
}

// HasAddress reports whether addr is one of the Leaf's addresses.
func (l *Leaf) HasAddress(addr string) bool {
	for _, a := range l.Address {
		if a == addr {
			return true
		}
	}
	return false
}
