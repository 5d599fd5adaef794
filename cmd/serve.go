package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/crm-gateway/internal/auth"
	"github.com/jmehdipour/crm-gateway/internal/config"
	"github.com/jmehdipour/crm-gateway/internal/db"
	httpSrv "github.com/jmehdipour/crm-gateway/internal/http"
	"github.com/jmehdipour/crm-gateway/internal/kafka"
	"github.com/jmehdipour/crm-gateway/internal/logger"
	"github.com/jmehdipour/crm-gateway/internal/metrics"
	"github.com/jmehdipour/crm-gateway/internal/repository"
	"github.com/jmehdipour/crm-gateway/internal/service/crm"
	"github.com/jmehdipour/crm-gateway/internal/sheets"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.Init(cfg.Log.Level, cfg.Log.Encoding)
		defer func() { _ = log.Sync() }()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		redisClient, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		if redisClient != nil {
			defer func() { _ = redisClient.Close() }()
		}

		// backends; a disabled one stays a nil interface and is skipped
		var sheetStore, sqlStore repository.CustomerStore
		var book sheets.Book

		if cfg.Relational.Enabled {
			sqlDB, err := openRelational(cfg)
			if err != nil {
				return fmt.Errorf("%s connect: %w", cfg.Relational.Driver, err)
			}
			defer sqlDB.Close()
			sqlStore = repository.NewSQLStore(sqlDB)
		}

		if cfg.Sheets.Enabled {
			book, err = openSheetBook(cfg.Sheets)
			if err != nil {
				return fmt.Errorf("open sheets: %w", err)
			}
			defer func() { _ = book.Close() }()

			ss, err := newSheetStore(cfg.Sheets, book, redisClient, log)
			if err != nil {
				return err
			}
			sheetStore = ss
		}

		stores, err := orderStores(cfg.Coordinator.Primary, sheetStore, sqlStore)
		if err != nil {
			return err
		}

		// activity events
		var events crm.EventPublisher = crm.NopPublisher{}
		if len(cfg.Kafka.Brokers) > 0 {
			producer := kafka.NewProducerFromConfig(kafka.ProducerConfig{
				Brokers:      cfg.Kafka.Brokers,
				Topic:        cfg.Kafka.Topic,
				BatchTimeout: cfg.Kafka.BatchTimeout,
				WriteTimeout: cfg.Kafka.WriteTimeout,
			})
			defer func() { _ = producer.Close() }()
			events = crm.NewKafkaPublisher(producer)
		} else {
			log.Warn("kafka.brokers empty; activity events are not published")
		}

		coord := crm.New(stores, coordinatorOptions(cfg.Coordinator, events, log))

		var activity repository.ActivityReader
		if cfg.ClickHouse.Enabled {
			chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
				DSN:             cfg.ClickHouse.DSN,
				MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
				MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
				ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
				ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
				PingTimeout:     cfg.ClickHouse.PingTimeout,
			})
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer func() { _ = chDB.Close() }()
			activity = repository.NewCHActivityRepository(chDB)
		}

		var jwtManager *auth.Manager
		if cfg.Auth.Enabled {
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
			}
			jwtManager = auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TTL)
		}

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Customers: coord,
			Activity:  activity,
			Auth:      jwtManager,
			Redis:     redisClient,
			SheetBook: book,
			Logger:    log.Named("http"),
		})

		for _, b := range coord.Health() {
			log.Info("backend configured", zap.String("backend", b.Name))
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil {
				log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}
