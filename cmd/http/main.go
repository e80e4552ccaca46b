package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/hilthontt/visper-relay/internal/application/chat"
	"github.com/hilthontt/visper-relay/internal/infrastructure/assistant"
	"github.com/hilthontt/visper-relay/internal/infrastructure/configs"
	"github.com/hilthontt/visper-relay/internal/infrastructure/eventbus"
	"github.com/hilthontt/visper-relay/internal/infrastructure/events"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/messaging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/metrics"
	"github.com/hilthontt/visper-relay/internal/infrastructure/presence"
	"github.com/hilthontt/visper-relay/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/visper-relay/internal/infrastructure/sequencer"
	"github.com/hilthontt/visper-relay/internal/infrastructure/tracing"
	"github.com/hilthontt/visper-relay/internal/infrastructure/ws"
	"github.com/hilthontt/visper-relay/internal/presentation/api"
	"github.com/hilthontt/visper-relay/internal/presentation/handler/health"
	"github.com/hilthontt/visper-relay/internal/presentation/handler/rooms"
	"github.com/hilthontt/visper-relay/internal/presentation/handler/socket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const serviceName = "visper-relay"

func main() {
	cfg, err := configs.Load(configs.DetermineConfigPath())
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		FilePath: cfg.Logger.FilePath,
		Encoding: cfg.Logger.Encoding,
		Level:    cfg.Logger.Level,
		Logger:   cfg.Logger.Logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal(logging.General, logging.Shutdown, "relay stopped with error", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}

func run(ctx context.Context, cfg *configs.Config, logger logging.Logger) error {
	instanceID := instanceName()
	logger.Info(logging.General, logging.Startup, "starting relay", map[logging.ExtraKey]any{
		logging.AppName: serviceName,
		logging.HostIp:  instanceID,
	})

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitTracer(tracing.NewConfig(serviceName, cfg.Tracing))
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer shutdown(context.WithoutCancel(ctx))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	broker, brokerCheck, err := newBroker(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer broker.Close()

	bus := eventbus.New(broker, eventbus.NewConfig(cfg, instanceID), logger, m)
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	if cfg.Broker.Driver == "memory" {
		if err := serveDevAuth(ctx, broker, cfg, logger); err != nil {
			return err
		}
	}

	stores, err := newStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	adapter, err := newPresenceAdapter(cfg, instanceID, broker, stores.redis, logger)
	if err != nil {
		return err
	}
	router := presence.NewRouter(instanceID, adapter, bus, logger, m)
	if err := router.Start(ctx); err != nil {
		return fmt.Errorf("start presence router: %w", err)
	}
	defer router.Close()

	notifications := chat.NewNotificationService(
		stores.notifications,
		events.NewNotificationPublisher(broker, cfg.Broker.NotificationExchange, bus),
		cfg.Notification.TTL,
		logger,
	)
	processor := chat.NewMessageProcessor(
		stores.messages,
		stores.users,
		stores.files,
		events.NewMessagePublisher(bus),
		notifications,
		logger,
	)
	seq := sequencer.New(processor,
		sequencer.WithShards(cfg.Sequencer.Shards),
		sequencer.WithLogger(logger),
		sequencer.WithMetrics(m),
		sequencer.WithHaltHandler(func(h *sequencer.RoomProcessingHalt) {
			_ = router.EmitToRoom(context.Background(), h.RoomID, ws.ErrorEvent, ws.ErrorPayload{
				Type:    ws.MessageError,
				Message: "room processing paused",
			})
		}),
	)
	defer seq.Close()

	service := chat.NewService(seq, stores.messages, cfg.Socket.HistoryBatch)

	// Consumers outlive startup, so they listen on ctx rather than a group
	// context that is cancelled once Wait returns.
	var consumers errgroup.Group
	consumers.Go(func() error {
		if err := events.NewMessageConsumer(bus, router, logger).Listen(ctx); err != nil {
			return fmt.Errorf("listen for chat events: %w", err)
		}
		return nil
	})
	consumers.Go(func() error {
		if err := events.NewNotificationConsumer(broker, cfg.Broker.NotificationQueue, router, logger).Listen(ctx); err != nil {
			return fmt.Errorf("listen for notifications: %w", err)
		}
		return nil
	})
	consumers.Go(func() error {
		if err := events.NewAuditConsumer(broker, cfg.Broker.MessageQueue, stores.audit, logger).Listen(ctx); err != nil {
			return fmt.Errorf("listen for audit events: %w", err)
		}
		return nil
	})
	if err := consumers.Wait(); err != nil {
		return err
	}

	var ai assistant.Assistant = assistant.Disabled{}
	if cfg.Assistant.Enabled {
		ai = assistant.NewOpenAI(cfg.Assistant)
	}
	responder := chat.NewAssistantResponder(ai, router, service, logger)

	socketHandler := socket.NewHandler(
		router,
		service,
		responder,
		stores.users,
		ws.NewOptions(cfg.Socket, presence.NewReconnectPolicy(cfg.Presence)),
		cfg.HTTP.AllowedOrigins,
		logger,
	)

	checks := stores.checks()
	checks["broker"] = brokerCheck
	checks["sequencer"] = func(context.Context) error {
		if halted := seq.Halted(); len(halted) > 0 {
			return fmt.Errorf("%d rooms halted", len(halted))
		}
		return nil
	}

	var limiter ratelimiter.Limiter = ratelimiter.Unlimited{}
	if cfg.RateLimiter.Enabled {
		fw := ratelimiter.NewFixedWindowRateLimiter(cfg.RateLimiter.RequestsPerTimeFrame, cfg.RateLimiter.TimeFrame)
		defer fw.Close()
		limiter = fw
	}

	app := api.NewApplication(
		*cfg,
		socketHandler,
		health.NewHandler(checks),
		rooms.NewHandler(seq, logger),
		m.Handler(),
		logger,
		limiter,
	)
	if err := app.Run(ctx, app.Mount()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newBroker connects the configured transport and returns a health check
// for it.
func newBroker(ctx context.Context, cfg *configs.Config, logger logging.Logger, m *metrics.Metrics) (messaging.Broker, health.Check, error) {
	switch cfg.Broker.Driver {
	case "memory":
		b := messaging.NewMemoryBroker(logger)
		if err := messaging.DeclareTopology(ctx, b, messaging.DefaultTopology(cfg.Broker)); err != nil {
			return nil, nil, fmt.Errorf("declare topology: %w", err)
		}
		return b, func(context.Context) error { return nil }, nil
	case "amqp", "":
		b := messaging.NewRabbitMQ(cfg.Broker, logger, m)
		if err := b.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		return b, func(context.Context) error {
			if !b.Ready() {
				return errors.New("rabbitmq reconnecting")
			}
			return nil
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown broker driver %q", cfg.Broker.Driver)
	}
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "relay"
	}
	return host + "-" + uuid.NewString()[:8]
}
