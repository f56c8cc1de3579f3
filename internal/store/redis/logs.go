package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/forest/internal/domain"
	"github.com/MrSnakeDoc/forest/internal/store"
)

// InsertLog stores ev under its "_id", generating one when absent. An ID
// that already exists yields store.ErrDuplicate.
func (s *Store) InsertLog(ctx context.Context, ev domain.Event) (string, error) {
	id := ev.String("_id")
	if id == "" {
		id = uuid.NewString()
	}
	rec := ev.Clone()
	rec["_id"] = id

	data, err := json.Marshal(rec)
	if err != nil {
		return id, fmt.Errorf("failed to marshal log: %w", err)
	}

	created, err := s.client.SetNX(ctx, LogKey(id), data, s.logTTL).Result()
	if err != nil {
		return id, fmt.Errorf("failed to save log: %w", err)
	}
	if !created {
		return id, fmt.Errorf("log %s: %w", id, store.ErrDuplicate)
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if src := ev.LogSource(); src != "" {
			pipe.LPush(ctx, LeafLogsKey(src), id)
			pipe.LTrim(ctx, LeafLogsKey(src), 0, s.maxLogs-1)
			pipe.Expire(ctx, LeafLogsKey(src), s.logTTL)
		}
		if tb := ev.String("traceback_id"); tb != "" && ev.LogType() == domain.LogTypeTraceback {
			pipe.Set(ctx, TracebackKey(tb), id, s.logTTL)
		}
		return nil
	})
	if err != nil {
		return id, fmt.Errorf("failed to index log: %w", err)
	}
	return id, nil
}

// RecentLogs returns up to n records of a leaf, oldest first
func (s *Store) RecentLogs(ctx context.Context, leafID string, n int) ([]domain.Event, error) {
	if n <= 0 {
		return []domain.Event{}, nil
	}
	ids, err := s.client.LRange(ctx, LeafLogsKey(leafID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get log IDs: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Event{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[len(ids)-1-i] = LogKey(id)
	}
	raws, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}

	out := make([]domain.Event, 0, len(raws))
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			// expired
			continue
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(str), &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Traceback retrieves the traceback record with the given traceback ID
func (s *Store) Traceback(ctx context.Context, id string) (domain.Event, error) {
	logID, err := s.lookup(ctx, TracebackKey(id))
	if err != nil {
		return nil, err
	}
	var ev domain.Event
	if err := s.getJSON(ctx, LogKey(logID), &ev); err != nil {
		return nil, err
	}
	return ev, nil
}
