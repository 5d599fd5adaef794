package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/crm-gateway/internal/config"
	"github.com/jmehdipour/crm-gateway/internal/db"
	"github.com/jmehdipour/crm-gateway/internal/kafka"
	"github.com/jmehdipour/crm-gateway/internal/logger"
	"github.com/jmehdipour/crm-gateway/internal/metrics"
	"github.com/jmehdipour/crm-gateway/internal/repository"
	"github.com/jmehdipour/crm-gateway/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Project activity events from Kafka into ClickHouse",
	RunE:  runActivity,
}

func runActivity(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.Init(cfg.Log.Level, cfg.Log.Encoding).Named("activity")
	defer func() { _ = log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is empty")
	}

	// 2) ClickHouse
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
	defer chDB.Close()

	// 3) kafka consumer
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "crm-activity"
	}
	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.Topic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	w := worker.NewActivityProjector(consumer, repository.NewCHActivityRepository(chDB), log)

	// tune knobs
	if cfg.Activity.BatchSize > 0 {
		w.BatchSize = cfg.Activity.BatchSize
	}
	if cfg.Activity.BatchWait > 0 {
		w.BatchWait = cfg.Activity.BatchWait
	}

	// 4) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("activity projector started",
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group", groupID),
		zap.Int("batch_size", w.BatchSize),
		zap.Duration("batch_wait", w.BatchWait),
	)

	return w.Run(ctx)
}
