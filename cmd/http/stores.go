package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/hilthontt/visper-relay/internal/infrastructure/configs"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/messaging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/presence"
	"github.com/hilthontt/visper-relay/internal/infrastructure/repository"
	"github.com/hilthontt/visper-relay/internal/persistence/cache"
	"github.com/hilthontt/visper-relay/internal/persistence/db"
	persistence "github.com/hilthontt/visper-relay/internal/persistence/repository"
	"github.com/hilthontt/visper-relay/internal/presentation/handler/health"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type stores struct {
	messages      domain.MessageRepository
	users         domain.UserRepository
	files         domain.FileRepository
	audit         domain.RoomAuditRepository
	notifications domain.NotificationStore

	mongo *mongo.Client
	redis *redis.Client
}

type indexer interface {
	EnsureIndexes(ctx context.Context) error
}

// newStores picks MongoDB and Redis when enabled and falls back to the
// in-memory stores otherwise.
func newStores(ctx context.Context, cfg *configs.Config, logger logging.Logger) (*stores, error) {
	s := &stores{
		messages:      repository.NewMessageRepository(cfg.MessageStore.Capacity),
		users:         repository.NewUserStore(),
		files:         repository.NewFileStore(),
		audit:         repository.NewRoomAuditRepository(int(cfg.MessageStore.Capacity)),
		notifications: repository.NewNotificationStore(),
	}

	if cfg.Mongo.Enabled {
		client, err := db.NewMongoClient(ctx, db.NewMongoConfig(cfg.Mongo), logger)
		if err != nil {
			return nil, err
		}
		s.mongo = client
		database := client.Database(db.NewMongoConfig(cfg.Mongo).Database)

		s.messages = persistence.NewMessageRepository(database)
		s.users = persistence.NewUserRepository(database)
		s.files = persistence.NewFileRepository(database)
		s.audit = persistence.NewRoomAuditLogRepository(database)

		for _, repo := range []any{s.messages, s.audit} {
			if ix, ok := repo.(indexer); ok {
				if err := ix.EnsureIndexes(ctx); err != nil {
					s.Close()
					return nil, fmt.Errorf("ensure indexes: %w", err)
				}
			}
		}
	}

	if cfg.Redis.Enabled || cfg.Presence.Adapter == "redis" {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.redis = client
		logger.Info(logging.Redis, logging.Startup, "connected to Redis", map[logging.ExtraKey]any{
			logging.HostIp: cfg.Redis.Addr,
		})
	}
	if cfg.Redis.Enabled {
		s.notifications = cache.NewNotificationStore(s.redis, cfg.Redis.KeyPrefix)
	}

	return s, nil
}

func (s *stores) checks() map[string]health.Check {
	checks := make(map[string]health.Check)
	if s.mongo != nil {
		checks["mongo"] = func(ctx context.Context) error {
			return s.mongo.Ping(ctx, readpref.Primary())
		}
	}
	if s.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}
	}
	return checks
}

func (s *stores) Close() error {
	var errs []error
	if s.mongo != nil {
		errs = append(errs, s.mongo.Disconnect(context.Background()))
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	return errors.Join(errs...)
}

func newPresenceAdapter(cfg *configs.Config, instanceID string, broker messaging.Broker, rdb *redis.Client, logger logging.Logger) (presence.Adapter, error) {
	switch cfg.Presence.Adapter {
	case "amqp", "":
		return presence.NewAMQPAdapter(broker, cfg.Presence.Channel, instanceID, logger), nil
	case "redis":
		return presence.NewRedisAdapter(rdb, cfg.Presence.Channel, logger), nil
	case "nats":
		conn, err := presence.ConnectNATS(cfg.NATS, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		return presence.NewNATSAdapter(conn, cfg.Presence.Channel, logger), nil
	case "memory":
		return presence.NewMemoryAdapter(presence.NewHub()), nil
	default:
		return nil, fmt.Errorf("unknown presence adapter %q", cfg.Presence.Adapter)
	}
}
