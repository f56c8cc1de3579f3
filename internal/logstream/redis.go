package logstream

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/forest/internal/utils"
)

// RedisSource receives lines the uWSGI redislog plugin publishes on a
// channel.
type RedisSource struct {
	client  *redis.Client
	channel string
}

func NewRedisSource(client *redis.Client, channel string) *RedisSource {
	return &RedisSource{client: client, channel: channel}
}

func (s *RedisSource) Target() string {
	return fmt.Sprintf("redislog:%s,publish %s", s.client.Options().Addr, s.channel)
}

func (s *RedisSource) Run(ctx context.Context, h Handler) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer utils.Close(sub)

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h(splitLines(msg.Payload))
		}
	}
}
