package druid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/forest/internal/domain"
	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/store"
)

// ListSpecies returns the short form of every species.
func (d *Druid) ListSpecies(ctx context.Context) ([]domain.Summary, error) {
	all, err := d.store.ListSpecies(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Summary, 0, len(all))
	for _, sp := range all {
		out = append(out, domain.Summary{ID: sp.ID, Name: sp.Name})
	}
	return out, nil
}

// Species returns a species by ID.
func (d *Druid) Species(ctx context.Context, id string) (*domain.Species, error) {
	sp, err := d.store.Species(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSpecies, id)
	}
	return sp, err
}

// CreateSpecies declares a new species. Branches receive it lazily, the
// first time a leaf of it is started there.
func (d *Druid) CreateSpecies(ctx context.Context, sp domain.Species) (*domain.Species, error) {
	if strings.TrimSpace(sp.Name) == "" || strings.TrimSpace(sp.URL) == "" {
		return nil, fmt.Errorf("%w: name and url are required", ErrInvalidRequest)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.store.SpeciesByName(ctx, sp.Name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSpecies, sp.Name)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	switch {
	case sp.ID == "":
		sp.ID = domain.NewID()
	case !domain.IsID(sp.ID):
		return nil, fmt.Errorf("%w: bad id %q", ErrInvalidRequest, sp.ID)
	}
	sp.Modified = d.now().UTC()
	sp.Normalize()

	if err := d.store.SaveSpecies(ctx, &sp); err != nil {
		return nil, fmt.Errorf("save species: %w", err)
	}
	d.log.Info(fmt.Sprintf("Species %s declared", sp.Name), logger.Component(component), logger.String("species", sp.ID))
	return &sp, nil
}

// RebuildSpecies bumps the version marker of a species and pushes it to
// every branch, which rebuilds it and restarts the leaves bound to it.
func (d *Druid) RebuildSpecies(ctx context.Context, id string) (*domain.Species, error) {
	sp, err := d.Species(ctx, id)
	if err != nil {
		return nil, err
	}
	sp.Modified = d.now().UTC()
	if err := d.store.SaveSpecies(ctx, sp); err != nil {
		return nil, fmt.Errorf("save species: %w", err)
	}

	errs := make([]error, len(d.topo.Branches))
	var g errgroup.Group
	for i, branch := range d.topo.Branches {
		g.Go(func() error {
			_, errs[i] = d.call(ctx, StepSpecies, branch, http.MethodPatch, "branch/species/"+sp.ID, sp)
			return nil
		})
	}
	_ = g.Wait()
	return sp, multierr.Combine(errs...)
}
