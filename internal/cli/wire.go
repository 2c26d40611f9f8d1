package cli

import (
	"context"
	"fmt"

	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/config"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
	"fintrack/internal/records"
	"fintrack/internal/remote"
	"fintrack/internal/services"
	"fintrack/internal/session"
	sessionredis "fintrack/internal/session/redis"
	"fintrack/internal/storage"
)

// SessionStore is a session.Store that can be pinged and closed.
type SessionStore interface {
	session.Store
	Ping(ctx context.Context) error
}

// OpenSessionStore picks the backend named by SESSION_BACKEND. The SQLite
// repository is reused for the sqlite backend; the returned close func
// releases only what this call opened.
func OpenSessionStore(cfg *config.Config, repo *storage.SQLiteRepository) (SessionStore, func() error, error) {
	switch cfg.SessionBackend {
	case "", "sqlite":
		return repo, func() error { return nil }, nil
	case "redis":
		rc := sessionredis.DefaultConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		rc.TTL = cfg.SessionTTL
		store, err := sessionredis.New(rc)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "memory":
		return memoryStore{session.NewMemoryStore()}, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}

type memoryStore struct{ *session.MemoryStore }

func (memoryStore) Ping(context.Context) error { return nil }

// NewRemoteClient builds the data service client from config.
func NewRemoteClient(cfg *config.Config, m metrics.Collector, logger *log.Logger) (*remote.Client, error) {
	return remote.New(remote.Config{
		BaseURL:                cfg.APIURL,
		Timeout:                cfg.RequestTimeout,
		MaxConsecutiveFailures: uint32(cfg.BreakerMaxFailures),
		OpenTimeout:            cfg.BreakerOpenTimeout,
		Metrics:                m,
		Logger:                 logger,
	})
}

// NewTransactionService wires the service with the configured normalizer
// and cache. outbox and notifier may be nil.
func NewTransactionService(cfg *config.Config, source services.RecordSource, outbox services.Outbox,
	notifier services.Notifier, m metrics.Collector, logger *log.Logger) *services.TransactionService {
	return services.NewTransactionService(source, services.TransactionConfig{
		Normalizer: records.Normalizer{Location: cfg.Location(), Policy: cfg.Policy()},
		Cache:      cache.NewLRUCache[services.Snapshot](cfg.CacheSize, cfg.CacheTTL),
		Outbox:     outbox,
		Notifier:   notifier,
		Metrics:    m,
		Logger:     logger,
	})
}

// DialAMQP connects to the broker when AMQP_URL is set. A nil client with
// a nil error means messaging is disabled.
func DialAMQP(cfg *config.Config, logger *log.Logger) (*amqp.Client, error) {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled, no AMQP_URL provided")
		return nil, nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to AMQP broker %s: %w", redact(cfg.AMQPURL), err)
	}
	logger.Info("AMQP connected", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client, nil
}
