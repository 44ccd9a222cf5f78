package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSinkConfig configures the optional cross-process event fan-out.
// When multiple rtusimd instances share a roster, Redis lets every
// operator GUI see every instance's events without fanning WebSocket
// connections out across processes.
type RedisSinkConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisSink publishes every Event to a Redis pub/sub channel. It never
// blocks the hub's loop on a slow or down Redis: publish errors are
// swallowed and logged by the caller-supplied logger, matching the
// best-effort nature of every optional sink in §2.1.
type RedisSink struct {
	client  *redis.Client
	channel string
	log     Logger
}

// Logger is the minimal logging surface RedisSink needs. *Hub satisfies it.
type Logger interface {
	Warnf(format string, args ...interface{})
}

// NewRedisSink dials addr and returns a Sink, or an error if the initial
// ping fails.
func NewRedisSink(cfg RedisSinkConfig, log Logger) (*RedisSink, error) {
	channel := cfg.Channel
	if channel == "" {
		channel = "rtusim:events"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis sink: ping %s: %w", cfg.Addr, err)
	}

	return &RedisSink{client: client, channel: channel, log: log}, nil
}

// Publish implements Sink.
func (s *RedisSink) Publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Warnf("redis sink: marshal event: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.log.Warnf("redis sink: publish: %v", err)
	}
}

// Close releases the underlying connection pool.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
