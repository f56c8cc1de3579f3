package druid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/forest/internal/domain"
	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/peer"
	"github.com/MrSnakeDoc/forest/internal/store"
)

// CreateLeafRequest is an operator request for a new leaf.
type CreateLeafRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        string         `json:"type"` // species ID or name
	Address     string         `json:"address"`
	Start       *bool          `json:"start,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`

	// Branch forces the placement. Empty picks a random branch.
	Branch string `json:"branch,omitempty"`
}

func (r CreateLeafRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(r.Type) == "" {
		missing = append(missing, "type")
	}
	if strings.TrimSpace(r.Address) == "" {
		missing = append(missing, "address")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// LeafPatch carries the mutable leaf fields. Nil fields are left alone.
type LeafPatch struct {
	Active  *bool    `json:"active,omitempty"`
	Address []string `json:"address,omitempty"`
}

// Leaves lists persisted leaves, optionally only the one owning address.
func (d *Druid) Leaves(ctx context.Context, address string) ([]*domain.Leaf, error) {
	return d.store.Leaves(ctx, store.LeafFilter{Address: address})
}

// Leaf returns a persisted leaf by name.
func (d *Druid) Leaf(ctx context.Context, name string) (*domain.Leaf, error) {
	l, err := d.store.LeafByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLeaf, name)
	}
	return l, err
}

// CreateLeaf runs the creation protocol: uniqueness check, species
// resolution, placement, persistence, database provisioning, host
// registration on every Air node and finally species preparation and
// start on the chosen branch.
func (d *Druid) CreateLeaf(ctx context.Context, req CreateLeafRequest) (*domain.Leaf, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, err := d.store.FindLeaf(ctx, req.Name, []string{req.Address})
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: name or address used by leaf %s", ErrDuplicateLeaf, existing.Name)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	sp, err := d.resolveSpecies(ctx, req.Type)
	if err != nil {
		return nil, err
	}

	branch, err := d.place(req.Branch)
	if err != nil {
		return nil, err
	}

	leaf := &domain.Leaf{
		ID:          domain.NewID(),
		Name:        req.Name,
		Description: req.Description,
		Type:        sp.ID,
		Branch:      branch.Name,
		Active:      req.Start == nil || *req.Start,
		Address:     []string{req.Address},
		Settings:    req.Settings,
	}
	if err := d.store.SaveLeaf(ctx, leaf); err != nil {
		return nil, fmt.Errorf("save leaf: %w", err)
	}
	d.log.Info(fmt.Sprintf("Leaf %s placed on %s", leaf.Name, branch.Name),
		logger.Component(component), logger.String("leaf", leaf.ID))

	if len(sp.Requires) > 0 {
		batteries, err := d.provision(ctx, leaf, sp)
		if err != nil {
			return leaf, err
		}
		leaf.Batteries = batteries
		if err := d.store.SaveLeaf(ctx, leaf); err != nil {
			return leaf, fmt.Errorf("save batteries: %w", err)
		}
	}

	if err := d.allowHosts(ctx, leaf.Address); err != nil {
		return leaf, err
	}

	if leaf.Active {
		if err := d.startOn(ctx, branch, leaf, sp); err != nil {
			return leaf, err
		}
	}
	return leaf, nil
}

// UpdateLeaf applies a patch. With apply set the change is pushed to the
// cluster: an active leaf is (re)started and its addresses registered, an
// inactive one is stopped on its branch.
func (d *Druid) UpdateLeaf(ctx context.Context, name string, patch LeafPatch, apply bool) (*domain.Leaf, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	leaf, err := d.Leaf(ctx, name)
	if err != nil {
		return nil, err
	}

	changed := false
	if patch.Active != nil {
		changed = changed || leaf.Active != *patch.Active
		leaf.Active = *patch.Active
	}
	if patch.Address != nil {
		for _, addr := range patch.Address {
			other, err := d.store.FindLeaf(ctx, "", []string{addr})
			if err == nil && other.ID != leaf.ID {
				return nil, fmt.Errorf("%w: %s is taken by %s", ErrDuplicateLeaf, addr, other.Name)
			}
		}
		changed = changed || !slices.Equal(leaf.Address, patch.Address)
		leaf.Address = patch.Address
	}
	if err := d.store.SaveLeaf(ctx, leaf); err != nil {
		return nil, fmt.Errorf("save leaf: %w", err)
	}

	if !apply {
		return leaf, nil
	}

	branch, err := d.branch(leaf.Branch)
	if err != nil {
		return leaf, err
	}

	if !leaf.Active {
		_, err := d.call(ctx, StepBranch, branch, http.MethodDelete, "branch/leaf/"+leaf.ID, nil)
		return leaf, err
	}

	// An unchanged leaf the branch already runs keeps its instance.
	if !changed {
		known, err := d.branchLeaves(ctx, branch)
		if err != nil {
			return leaf, err
		}
		if known[leaf.ID] {
			return leaf, d.allowHosts(ctx, leaf.Address)
		}
	}

	sp, err := d.store.Species(ctx, leaf.Type)
	if err != nil {
		return leaf, fmt.Errorf("%w: %s", ErrUnknownSpecies, leaf.Type)
	}
	if err := d.startOn(ctx, branch, leaf, sp); err != nil {
		return leaf, err
	}
	return leaf, d.allowHosts(ctx, leaf.Address)
}

// branchLeaves lists the leaf ids a branch has registered.
func (d *Druid) branchLeaves(ctx context.Context, branch peer.Endpoint) (map[string]bool, error) {
	resp, err := d.call(ctx, StepBranch, branch, http.MethodGet, "branch/leaf", nil)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := resp.Decode(&ids); err != nil {
		return nil, &StepError{Step: StepBranch, Peer: branch.Name, Err: err}
	}
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return known, nil
}

// LeafStatus proxies the supervisor statistics of a leaf from its branch.
func (d *Druid) LeafStatus(ctx context.Context, name string) ([]byte, error) {
	leaf, err := d.Leaf(ctx, name)
	if err != nil {
		return nil, err
	}
	branch, err := d.branch(leaf.Branch)
	if err != nil {
		return nil, err
	}
	resp, err := d.call(ctx, StepBranch, branch, http.MethodGet, "branch/leaf/"+leaf.ID, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (d *Druid) resolveSpecies(ctx context.Context, ref string) (*domain.Species, error) {
	if domain.IsID(ref) {
		sp, err := d.store.Species(ctx, ref)
		if err == nil {
			return sp, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	sp, err := d.store.SpeciesByName(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSpecies, ref)
	}
	return sp, err
}

func (d *Druid) place(name string) (peer.Endpoint, error) {
	if name != "" {
		return d.branch(name)
	}
	if len(d.topo.Branches) == 0 {
		return peer.Endpoint{}, fmt.Errorf("%w: no branch configured", ErrUnknownBranch)
	}
	return d.topo.Branches[d.pick(len(d.topo.Branches))], nil
}

// provision asks the first Roots node for the databases the species needs.
func (d *Druid) provision(ctx context.Context, leaf *domain.Leaf, sp *domain.Species) (map[string]any, error) {
	if len(d.topo.Roots) == 0 {
		return nil, &StepError{Step: StepRoots, Err: errors.New("no roots node configured")}
	}
	roots := d.topo.Roots[0]
	resp, err := d.call(ctx, StepRoots, roots, http.MethodPost, "roots/db", map[string]any{
		"name":    leaf.ID,
		"db_type": sp.Requires,
	})
	if err != nil {
		return nil, err
	}
	var batteries map[string]any
	if err := resp.Decode(&batteries); err != nil {
		return nil, &StepError{Step: StepRoots, Peer: roots.Name, Code: resp.Code, Response: string(resp.Body), Err: err}
	}
	return batteries, nil
}

// allowHosts registers every address with every Air node concurrently.
func (d *Druid) allowHosts(ctx context.Context, addresses []string) error {
	type call struct {
		air  peer.Endpoint
		host string
	}
	var calls []call
	for _, air := range d.topo.Air {
		for _, host := range addresses {
			calls = append(calls, call{air, host})
		}
	}

	errs := make([]error, len(calls))
	var g errgroup.Group
	for i, c := range calls {
		g.Go(func() error {
			_, errs[i] = d.call(ctx, StepAir, c.air, http.MethodPost, "air/hosts", map[string]string{"host": c.host})
			return nil
		})
	}
	_ = g.Wait()
	return multierr.Combine(errs...)
}

// startOn makes sure branch knows the species, then starts the leaf there
// with its full configuration.
func (d *Druid) startOn(ctx context.Context, branch peer.Endpoint, leaf *domain.Leaf, sp *domain.Species) error {
	if err := d.prepareSpecies(ctx, branch, sp); err != nil {
		return err
	}
	_, err := d.call(ctx, StepBranch, branch, http.MethodPost, "branch/leaf", leaf.Config(sp, d.fastrouters()))
	return err
}

// prepareSpecies pushes sp to branch unless the branch already has it.
func (d *Druid) prepareSpecies(ctx context.Context, branch peer.Endpoint, sp *domain.Species) error {
	resp, err := d.peers.Do(ctx, branch, http.MethodGet, "branch/species/"+sp.ID, nil)
	if err != nil {
		return &StepError{Step: StepSpecies, Peer: branch.Name, Err: err}
	}
	switch {
	case resp.OK():
		return nil
	case resp.Code == http.StatusNotFound:
		_, err := d.call(ctx, StepSpecies, branch, http.MethodPost, "branch/species", sp)
		return err
	default:
		return &StepError{Step: StepSpecies, Peer: branch.Name, Code: resp.Code, Response: string(resp.Body)}
	}
}
