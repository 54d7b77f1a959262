package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"roomcast/config"
	"roomcast/internal/commands"
	"roomcast/internal/encryption"
	"roomcast/internal/events"
	"roomcast/internal/redis"
	"roomcast/internal/repository"
	"roomcast/internal/server"
	"roomcast/internal/services"
	"roomcast/internal/telemetry"
	"roomcast/internal/websocket"
	"roomcast/pkg/database"
	"roomcast/pkg/logger"

	"go.opentelemetry.io/otel"
)

const serviceName = "roomcast"

func main() {
	cfg := config.LoadConfig()

	mode := logger.DevelopmentMode
	if cfg.AppMode == server.ReleaseMode {
		mode = logger.ProductionMode
	}
	l := logger.New(mode)
	defer func() { _ = l.Sync() }()

	ctx := context.Background()

	shutdownTelemetry, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()
	metrics, err := telemetry.NewMetrics(otel.Meter(serviceName))
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = database.Close(db) }()
	if err := repository.InitSchema(db); err != nil {
		log.Fatalf("Failed to apply GORM migrations: %v", err)
	}

	codec, err := encryption.NewCodec(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("ENCRYPTION_KEY: %v", err)
	}
	store := services.NewChatStore(
		repository.NewRoomRepository(db),
		repository.NewMessageRepository(db),
		codec,
		l,
		services.ChatStoreConfig{
			MaxBodyLength:       cfg.MaxBodyLength,
			HistoryDefaultLimit: cfg.HistoryDefaultLimit,
			HistoryMaxLimit:     cfg.HistoryMaxLimit,
		},
	)

	broker, limiter, err := openBroker(ctx, cfg, l)
	if err != nil {
		log.Fatalf("Failed to open broker: %v", err)
	}
	defer func() { _ = broker.Close() }()

	registry := websocket.NewRegistry()
	bus := websocket.NewBus(registry, broker, websocket.BusConfig{
		Channel:      cfg.BrokerChannel,
		InstanceID:   cfg.InstanceID,
		RetryBackoff: time.Duration(cfg.BrokerRetryBackoff) * time.Millisecond,
	}, l, metrics)
	bus.Start(ctx)

	protocol := commands.NewProtocol(store, registry, bus, limiter, commands.Config{
		MaxBodyLength: cfg.MaxBodyLength,
		ReadReceipts:  cfg.ReadReceipts,
	}, l, metrics)

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Dependencies{
		DB:        db,
		Broker:    broker,
		Registry:  registry,
		Bus:       bus,
		WebSocket: websocket.NewHandler(registry, protocol, l, metrics),
		Auth:      services.NewAuthService(cfg.JWTSecret),
	})

	l.Infof("Instance %s using %s broker on channel %s", cfg.InstanceID, cfg.BrokerKind, cfg.BrokerChannel)
	if err := srv.Start(); err != nil {
		l.Errorf("Server exited: %v", err)
	}
}

// openBroker builds the broker selected by BROKER_KIND. The send rate limiter
// needs redis; without one, send_message is not rate limited.
func openBroker(ctx context.Context, cfg *config.Config, l *logger.Logger) (events.Broker, commands.MessageLimiter, error) {
	redisCfg := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	rateLimit := redis.RateLimitConfig{MessageLimit: cfg.MessageRateLimit, MessageWindow: time.Minute}

	switch cfg.BrokerKind {
	case config.BrokerRedis:
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return nil, nil, err
		}
		return events.NewRedisBroker(client), redis.NewRateLimiter(client, rateLimit), nil

	case config.BrokerNats, config.BrokerMemory:
		var broker events.Broker
		if cfg.BrokerKind == config.BrokerNats {
			nb, err := events.ConnectNats(cfg.NatsURL, serviceName+"-"+cfg.InstanceID)
			if err != nil {
				return nil, nil, err
			}
			broker = nb
		} else {
			l.Warnf("In-memory broker: messages reach only connections on this instance")
			broker = events.NewMemoryBroker()
		}

		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			l.Warnf("Redis unavailable, send_message is not rate limited: %v", err)
			return broker, nil, nil
		}
		return broker, redis.NewRateLimiter(client, rateLimit), nil

	default:
		return nil, nil, fmt.Errorf("unknown BROKER_KIND %q", cfg.BrokerKind)
	}
}
