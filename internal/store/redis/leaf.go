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

// SaveLeaf stores a leaf and refreshes its name and address indexes
func (s *Store) SaveLeaf(ctx context.Context, leaf *domain.Leaf) error {
	data, err := json.Marshal(leaf)
	if err != nil {
		return fmt.Errorf("failed to marshal leaf: %w", err)
	}

	prev, err := s.Leaf(ctx, leaf.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != nil {
			if prev.Name != leaf.Name {
				pipe.Del(ctx, LeafNameKey(prev.Name))
			}
			for _, addr := range prev.Address {
				if !leaf.HasAddress(addr) {
					pipe.Del(ctx, AddressKey(addr))
				}
			}
		}
		pipe.Set(ctx, LeafKey(leaf.ID), data, 0)
		pipe.SAdd(ctx, KeyAllLeaves, leaf.ID)
		pipe.Set(ctx, LeafNameKey(leaf.Name), leaf.ID, 0)
		for _, addr := range leaf.Address {
			pipe.Set(ctx, AddressKey(addr), leaf.ID, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save leaf: %w", err)
	}
	return nil
}

// Leaf retrieves a leaf by ID
func (s *Store) Leaf(ctx context.Context, id string) (*domain.Leaf, error) {
	var leaf domain.Leaf
	if err := s.getJSON(ctx, LeafKey(id), &leaf); err != nil {
		return nil, err
	}
	return &leaf, nil
}

// LeafByName retrieves a leaf through the name index
func (s *Store) LeafByName(ctx context.Context, name string) (*domain.Leaf, error) {
	id, err := s.lookup(ctx, LeafNameKey(name))
	if err != nil {
		return nil, err
	}
	return s.Leaf(ctx, id)
}

// FindLeaf returns the leaf owning name or any of addresses
func (s *Store) FindLeaf(ctx context.Context, name string, addresses []string) (*domain.Leaf, error) {
	keys := make([]string, 0, len(addresses)+1)
	keys = append(keys, LeafNameKey(name))
	for _, addr := range addresses {
		keys = append(keys, AddressKey(addr))
	}

	ids, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to look up leaf: %w", err)
	}
	for _, v := range ids {
		if id, ok := v.(string); ok && id != "" {
			return s.Leaf(ctx, id)
		}
	}
	return nil, store.ErrNotFound
}

// Leaves retrieves every leaf matching f
func (s *Store) Leaves(ctx context.Context, f store.LeafFilter) ([]*domain.Leaf, error) {
	var ids []string
	if f.Address != "" {
		id, err := s.lookup(ctx, AddressKey(f.Address))
		if errors.Is(err, store.ErrNotFound) {
			return []*domain.Leaf{}, nil
		}
		if err != nil {
			return nil, err
		}
		ids = []string{id}
	} else {
		all, err := s.client.SMembers(ctx, KeyAllLeaves).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get leaf IDs: %w", err)
		}
		ids = all
	}

	leaves := make([]*domain.Leaf, 0, len(ids))
	for _, id := range ids {
		leaf, err := s.Leaf(ctx, id)
		if err != nil {
			// Skip leaves that couldn't be retrieved
			continue
		}
		if f.Match(leaf) {
			leaves = append(leaves, leaf)
		}
	}
	store.SortLeaves(leaves)
	return leaves, nil
}
