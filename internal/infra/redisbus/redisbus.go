// Package redisbus publishes change notifications over Redis pub/sub so the
// surrounding application's notification layer can fan them out.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/credo-app/credo/internal/domain"
)

// Publisher sends events as JSON to a Redis channel.
type Publisher struct {
	client  redis.UniversalClient
	channel string
}

// New connects to addr and verifies the connection.
func New(ctx context.Context, addr, password string, db int, channel string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewWithClient(client, channel), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, channel string) *Publisher {
	if channel == "" {
		channel = "credo.events"
	}
	return &Publisher{client: client, channel: channel}
}

// Channel returns the channel events are published to.
func (p *Publisher) Channel() string { return p.channel }

// Publish marshals e and publishes it. The per-user channel suffix lets
// subscribers filter with PSUBSCRIBE credo.events.*.
func (p *Publisher) Publish(ctx context.Context, e domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel+"."+e.UserID, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", e.ID, err)
	}
	return nil
}

// Ping checks connectivity.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
