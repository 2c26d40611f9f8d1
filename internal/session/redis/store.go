// Package redis provides a session.Store backed by Redis, for deployments
// where several server replicas share sessions.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/rueidis"
)

type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
	// KeyPrefix is prepended to every session key.
	KeyPrefix string
	// TTL expires idle sessions; zero keeps keys forever.
	TTL         time.Duration
	DialTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:        "localhost:6379",
		KeyPrefix:   "fintrack:session:",
		TTL:         30 * 24 * time.Hour,
		DialTimeout: 5 * time.Second,
	}
}

type Store struct {
	client rueidis.Client
	prefix string
	ttl    time.Duration
}

// New connects and pings the server.
func New(cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: no address configured")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:   []string{cfg.Addr},
		Username:      cfg.Username,
		Password:      cfg.Password,
		SelectDB:      cfg.DB,
		MaxFlushDelay: 100 * time.Microsecond,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &Store{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL}, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Do(ctx, s.client.B().Get().Key(s.prefix+key).Build()).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	var cmd rueidis.Completed
	if s.ttl > 0 {
		cmd = s.client.B().Set().Key(s.prefix + key).Value(value).Ex(s.ttl).Build()
	} else {
		cmd = s.client.B().Set().Key(s.prefix + key).Value(value).Build()
	}
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.prefix+key).Build()).Error(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Ping backs the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

func (s *Store) Close() error {
	s.client.Close()
	return nil
}
