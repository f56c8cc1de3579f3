// Package store holds the persistence contract of the broker and an in
// memory implementation used by single node setups and tests.
package store

import (
	"errors"
	"sort"

	"github.com/MrSnakeDoc/forest/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate key")
)

// LeafFilter narrows leaf listings. Zero fields match everything.
type LeafFilter struct {
	Address    string
	Branch     string
	ActiveOnly bool
}

// Match reports whether l passes the filter.
func (f LeafFilter) Match(l *domain.Leaf) bool {
	if f.Address != "" && !l.HasAddress(f.Address) {
		return false
	}
	if f.Branch != "" && l.Branch != f.Branch {
		return false
	}
	if f.ActiveOnly && !l.Active {
		return false
	}
	return true
}

// SortLeaves orders leaves by name.
func SortLeaves(leaves []*domain.Leaf) {
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Name < leaves[j].Name })
}

// SortSpecies orders species by name.
func SortSpecies(species []*domain.Species) {
	sort.Slice(species, func(i, j int) bool { return species[i].Name < species[j].Name })
}
