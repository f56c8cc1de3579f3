package druid

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/store"
)

// RestoreBranch replays the persisted state of a branch: every species
// used by its missing active leaves is prepared once, then those leaves
// are started. Leaves the branch already runs are left alone. Failures of
// one leaf do not stop the others.
func (d *Druid) RestoreBranch(ctx context.Context, name string) error {
	branch, err := d.branch(name)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	leaves, err := d.store.Leaves(ctx, store.LeafFilter{Branch: name, ActiveOnly: true})
	if err != nil {
		return err
	}

	known, err := d.branchLeaves(ctx, branch)
	if err != nil {
		return err
	}

	var errs error
	restored := 0
	prepared := make(map[string]bool)
	for _, leaf := range leaves {
		if known[leaf.ID] {
			continue
		}
		sp, err := d.store.Species(ctx, leaf.Type)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("leaf %s: %w", leaf.Name, err))
			continue
		}
		if !prepared[sp.ID] {
			if err := d.prepareSpecies(ctx, branch, sp); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			prepared[sp.ID] = true
		}
		if _, err := d.call(ctx, StepBranch, branch, http.MethodPost, "branch/leaf", leaf.Config(sp, d.fastrouters())); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		restored++
	}

	if errs != nil {
		d.log.Warn(fmt.Sprintf("Branch %s restored with errors", name), logger.Component(component), logger.Error(errs))
	} else {
		d.log.Info(fmt.Sprintf("Branch %s restored", name), logger.Component(component), logger.Int("leaves", len(leaves)), logger.Int("restarted", restored))
	}
	return errs
}

// RestoreAll restores every configured branch.
func (d *Druid) RestoreAll(ctx context.Context) error {
	var errs error
	for _, name := range d.Branches() {
		errs = multierr.Append(errs, d.RestoreBranch(ctx, name))
	}
	return errs
}
