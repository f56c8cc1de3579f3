package store

import (
	"context"
	"errors"
	"testing"

	"github.com/MrSnakeDoc/forest/internal/domain"
)

func TestMemory_Leaves(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	a := &domain.Leaf{ID: domain.NewID(), Name: "b-app", Branch: "br1", Active: true, Address: []string{"b.example.com"}}
	b := &domain.Leaf{ID: domain.NewID(), Name: "a-app", Branch: "br2", Address: []string{"a.example.com", "www.a.example.com"}}
	for _, l := range []*domain.Leaf{a, b} {
		if err := m.SaveLeaf(ctx, l); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter LeafFilter
		want   []string
	}{
		{"all sorted by name", LeafFilter{}, []string{"a-app", "b-app"}},
		{"by address", LeafFilter{Address: "www.a.example.com"}, []string{"a-app"}},
		{"by branch", LeafFilter{Branch: "br1"}, []string{"b-app"}},
		{"active only", LeafFilter{ActiveOnly: true}, []string{"b-app"}},
		{"no match", LeafFilter{Address: "c.example.com"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Leaves(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Leaves() = %d leaves, want %d", len(got), len(tt.want))
			}
			for i, l := range got {
				if l.Name != tt.want[i] {
					t.Errorf("Leaves()[%d] = %s, want %s", i, l.Name, tt.want[i])
				}
			}
		})
	}

	if l, err := m.FindLeaf(ctx, "new", []string{"x.example.com", "b.example.com"}); err != nil || l.ID != a.ID {
		t.Errorf("FindLeaf(address clash) = %v, %v", l, err)
	}
	if _, err := m.FindLeaf(ctx, "new", []string{"x.example.com"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindLeaf(free) error = %v, want ErrNotFound", err)
	}
	if _, err := m.LeafByName(ctx, "zzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LeafByName(missing) error = %v", err)
	}

	// Returned records are copies.
	got, _ := m.LeafByName(ctx, "a-app")
	got.Address[0] = "mutated"
	again, _ := m.LeafByName(ctx, "a-app")
	if again.Address[0] != "a.example.com" {
		t.Error("store shares state with callers")
	}
}

func TestMemory_Logs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	leaf := domain.NewID()

	for _, raw := range []string{"one", "two", "three"} {
		if _, err := m.InsertLog(ctx, domain.Event{"log_source": leaf, "raw": raw}); err != nil {
			t.Fatal(err)
		}
	}
	recent, err := m.RecentLogs(ctx, leaf, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0]["raw"] != "two" || recent[1]["raw"] != "three" {
		t.Errorf("RecentLogs() = %v, want [two three]", recent)
	}

	ev := domain.Event{"_id": "fixed", "log_source": leaf, "log_type": domain.LogTypeTraceback, "traceback_id": "tb1"}
	if _, err := m.InsertLog(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if _, err := m.InsertLog(ctx, ev); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second InsertLog() error = %v, want ErrDuplicate", err)
	}

	tb, err := m.Traceback(ctx, "tb1")
	if err != nil || tb["_id"] != "fixed" {
		t.Errorf("Traceback() = %v, %v", tb, err)
	}
	if _, err := m.Traceback(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Traceback(missing) error = %v", err)
	}
}

func TestMemory_Species(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	sp := &domain.Species{ID: domain.NewID(), Name: "blog", URL: "https://git.example.com/blog.git"}
	if err := m.SaveSpecies(ctx, sp); err != nil {
		t.Fatal(err)
	}

	if got, err := m.SpeciesByName(ctx, "blog"); err != nil || got.ID != sp.ID {
		t.Errorf("SpeciesByName() = %v, %v", got, err)
	}
	if _, err := m.Species(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Species(missing) error = %v", err)
	}
	all, _ := m.ListSpecies(ctx)
	if len(all) != 1 {
		t.Errorf("ListSpecies() = %d, want 1", len(all))
	}
}
