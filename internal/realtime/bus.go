package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultBusChannel is the redis pub/sub channel shared by all replicas
const DefaultBusChannel = "catalog-import:events"

// Bus carries envelopes between service replicas
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	StartForwarder(ctx context.Context, onMsg func(env Envelope)) error
	Close() error
}

type redisBus struct {
	rdb     *redis.Client
	channel string
	logger  *logrus.Entry
}

// NewRedisBus creates a Bus on an existing redis client
func NewRedisBus(rdb *redis.Client, channel string, logger *logrus.Logger) (Bus, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if channel == "" {
		channel = DefaultBusChannel
	}
	return &redisBus{
		rdb:     rdb,
		channel: channel,
		logger:  logger.WithField("component", "redis-event-bus"),
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(env Envelope)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					b.logger.WithError(err).Warn("Bad event payload on redis bus")
					continue
				}
				onMsg(env)
			}
		}
	}()

	return nil
}

// Close is a no-op; the redis client is owned by main
func (b *redisBus) Close() error {
	return nil
}
