package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"boxoffice/internal/lock"
	"boxoffice/internal/pkg/bootstrap"
	"boxoffice/internal/pkg/clock"
	"boxoffice/internal/pkg/config"
	"boxoffice/internal/pkg/database"
	"boxoffice/internal/pkg/httpclient"
	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/pkg/mq"
	"boxoffice/internal/pkg/redis"
	bookingapp "boxoffice/internal/service/booking/application"
	bookinginfra "boxoffice/internal/service/booking/infrastructure"
	"boxoffice/internal/service/booking/infrastructure/adapter"
	bookingiface "boxoffice/internal/service/booking/interfaces"
	"boxoffice/internal/service/booking/port"
	resapp "boxoffice/internal/service/reservation/application"
	resinfra "boxoffice/internal/service/reservation/infrastructure"
	resiface "boxoffice/internal/service/reservation/interfaces"
	resport "boxoffice/internal/service/reservation/port"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	pretty := flag.Bool("pretty", false, "human-readable log output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("failed to load config:", err)
		return
	}
	logger.Init(cfg.Service.Name, cfg.Service.LogLevel, *pretty)

	db, err := database.Open(cfg.Infra.MySQL.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mysql")
	}
	if err := resinfra.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("reservation schema migration failed")
	}
	if err := bookinginfra.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("booking schema migration failed")
	}

	tracer := otel.Tracer(cfg.Service.Name)

	// Each redis address is one independently failing lock backend;
	// quorum needs a strict majority of them.
	backends := make([]lock.Backend, 0, len(cfg.Infra.Redis.LockAddrs)+1)
	for i, addr := range cfg.Infra.Redis.LockAddrs {
		client := redis.NewClient(addr, cfg.Infra.Redis.Password)
		if err := client.Ping(context.Background()); err != nil {
			log.Fatal().Err(err).Str("addr", addr).Msg("lock backend unreachable")
		}
		backend, err := lock.NewRedisBackend(fmt.Sprintf("redis-%d", i), client)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build redis lock backend")
		}
		backends = append(backends, backend)
	}
	var cleanup []func(ctx context.Context) error
	if len(cfg.Infra.Zookeeper.Addrs) > 0 {
		zkBackend, err := lock.NewZookeeperBackend("zookeeper", cfg.Infra.Zookeeper.Addrs, cfg.Infra.Zookeeper.SessionTimeout.Std())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build zookeeper lock backend")
		}
		backends = append(backends, zkBackend)
		cleanup = append(cleanup, func(ctx context.Context) error {
			zkBackend.Close()
			return nil
		})
	}
	locks := lock.NewManager(backends, cfg.Lock.RetryCount, cfg.Lock.RetryBackoff.Std(), tracer)

	var publisher *adapter.KafkaEventPublisher
	if len(cfg.Infra.Kafka.Brokers) > 0 {
		writer := mq.NewWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.BookingEventsTopic)
		publisher = adapter.NewKafkaEventPublisher(writer)
		cleanup = append(cleanup, func(ctx context.Context) error { return writer.Close() })
	}

	clk := clock.NewSystem()
	tx := database.NewTransactor(db)
	unitRepo := resinfra.NewGormUnitRepository(db)
	reservationRepo := resinfra.NewGormReservationRepository(db)

	reservationSvc := resapp.NewService(
		unitRepo, reservationRepo, tx, locks, publisherOrNil(publisher), clk, tracer,
		resapp.WithHoldTTL(cfg.Reservation.HoldTTL.Std()),
		resapp.WithLockTTL(cfg.Lock.TTL.Std()),
		resapp.WithSweepWorkers(cfg.Reservation.SweepWorkers),
	)

	gateways := map[string]port.PaymentGateway{
		"mock": adapter.NewMemoryPaymentGateway(adapter.NewPaymentRecordStore()),
	}
	if cfg.Payment.GatewayURL != "" {
		gateways["card"] = adapter.NewPaymentHTTPAdapter(httpclient.NewClient(tracer), cfg.Payment.GatewayURL)
	}
	registry, err := port.NewGatewayRegistry(cfg.Payment.DefaultMethod, gateways)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid payment gateway configuration")
	}

	bookingSvc := bookingapp.NewService(
		reservationRepo, unitRepo, tx,
		bookinginfra.NewGormBookingRepository(db),
		bookinginfra.NewGormIdempotencyStore(db, clk),
		locks, registry, bookingPublisherOrNil(publisher), clk, tracer,
		bookingapp.WithLockTTL(cfg.Lock.TTL.Std()),
	)

	sweeper := resapp.NewSweeper(reservationSvc, cfg.Reservation.SweepInterval.Std())

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:    cfg.Service.Name,
		Port:           cfg.Service.Port,
		JaegerEndpoint: cfg.Infra.Jaeger.Endpoint,
		RegisterHandlers: func(mux *http.ServeMux) {
			resiface.NewHTTPHandler(reservationSvc).Register(mux)
			bookingiface.NewHTTPHandler(bookingSvc).Register(mux)
		},
		Background: []func(ctx context.Context){sweeper.Run},
		Cleanup:    cleanup,
	})
}

// Typed-nil guards: a nil *KafkaEventPublisher stored in a non-nil
// interface would defeat the services' nil checks.
func publisherOrNil(p *adapter.KafkaEventPublisher) resport.EventPublisher {
	if p == nil {
		return nil
	}
	return p
}

func bookingPublisherOrNil(p *adapter.KafkaEventPublisher) port.EventPublisher {
	if p == nil {
		return nil
	}
	return p
}
