package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/forest/internal/domain"
	"github.com/MrSnakeDoc/forest/internal/store"
)

// SaveSpecies stores a species and its name index
func (s *Store) SaveSpecies(ctx context.Context, sp *domain.Species) error {
	data, err := json.Marshal(sp)
	if err != nil {
		return fmt.Errorf("failed to marshal species: %w", err)
	}

	prev, err := s.Species(ctx, sp.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != nil && prev.Name != sp.Name {
			pipe.Del(ctx, SpeciesNameKey(prev.Name))
		}
		pipe.Set(ctx, SpeciesKey(sp.ID), data, 0)
		pipe.SAdd(ctx, KeyAllSpecies, sp.ID)
		pipe.Set(ctx, SpeciesNameKey(sp.Name), sp.ID, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save species: %w", err)
	}
	return nil
}

// Species retrieves a species by ID
func (s *Store) Species(ctx context.Context, id string) (*domain.Species, error) {
	var sp domain.Species
	if err := s.getJSON(ctx, SpeciesKey(id), &sp); err != nil {
		return nil, err
	}
	return &sp, nil
}

// SpeciesByName retrieves a species through the name index
func (s *Store) SpeciesByName(ctx context.Context, name string) (*domain.Species, error) {
	id, err := s.lookup(ctx, SpeciesNameKey(name))
	if err != nil {
		return nil, err
	}
	return s.Species(ctx, id)
}

// ListSpecies retrieves all species
func (s *Store) ListSpecies(ctx context.Context) ([]*domain.Species, error) {
	ids, err := s.client.SMembers(ctx, KeyAllSpecies).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get species IDs: %w", err)
	}

	out := make([]*domain.Species, 0, len(ids))
	for _, id := range ids {
		sp, err := s.Species(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, sp)
	}
	store.SortSpecies(out)
	return out, nil
}
