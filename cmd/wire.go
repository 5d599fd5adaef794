package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmehdipour/crm-gateway/internal/config"
	"github.com/jmehdipour/crm-gateway/internal/db"
	"github.com/jmehdipour/crm-gateway/internal/repository"
	"github.com/jmehdipour/crm-gateway/internal/service/crm"
	"github.com/jmehdipour/crm-gateway/internal/sheets"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func openRelational(cfg config.Config) (*sqlx.DB, error) {
	return db.NewSQLConnection(cfg.Relational.Driver, cfg.Relational.DSN, db.SQLOpts{
		MaxOpenConns:    cfg.Relational.MaxOpenConns,
		MaxIdleConns:    cfg.Relational.MaxIdleConns,
		ConnMaxLifetime: cfg.Relational.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Relational.ConnMaxIdleTime,
		PingTimeout:     cfg.Relational.PingTimeout,
	})
}

func openSheetBook(cfg config.SheetsConfig) (sheets.Book, error) {
	switch cfg.Mode {
	case "remote":
		if cfg.URL == "" {
			return nil, fmt.Errorf("sheets.url is required in remote mode")
		}
		return sheets.NewRemote(cfg.URL, cfg.Token, cfg.TimeoutMs), nil
	case "workbook", "":
		if dir := filepath.Dir(cfg.WorkbookPath); cfg.WorkbookPath != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		return sheets.OpenWorkbook(cfg.WorkbookPath)
	default:
		return nil, fmt.Errorf("unknown sheets.mode %q", cfg.Mode)
	}
}

func newSheetStore(cfg config.SheetsConfig, book sheets.Book, rds *redis.Client, log *zap.Logger) (*repository.SheetStore, error) {
	var ids repository.IDAllocator = repository.RowCountAllocator{}
	switch cfg.IDStrategy {
	case "rowcount", "":
	case "redis":
		if rds == nil {
			return nil, fmt.Errorf("sheets.id_strategy=redis needs redis.addr")
		}
		ids = repository.NewRedisCounterAllocator(rds, "")
	default:
		return nil, fmt.Errorf("unknown sheets.id_strategy %q", cfg.IDStrategy)
	}

	var locks repository.Locker = repository.NewLocalLocker()
	switch cfg.LockStrategy {
	case "local", "":
	case "redis":
		if rds == nil {
			return nil, fmt.Errorf("sheets.lock_strategy=redis needs redis.addr")
		}
		locks = repository.NewRedisLocker(rds, "", cfg.LockTTL)
	default:
		return nil, fmt.Errorf("unknown sheets.lock_strategy %q", cfg.LockStrategy)
	}

	tabs := repository.SheetTabs{Customers: cfg.CustomersTab, Payments: cfg.PaymentsTab, Log: cfg.LogTab}
	return repository.NewSheetStore(book, tabs, ids, locks, log.Named("sheets")), nil
}

// orderStores puts the configured primary first.
func orderStores(primary string, sheetStore, sqlStore repository.CustomerStore) ([]repository.CustomerStore, error) {
	switch primary {
	case "sheets", "":
		return []repository.CustomerStore{sheetStore, sqlStore}, nil
	case "relational":
		return []repository.CustomerStore{sqlStore, sheetStore}, nil
	default:
		return nil, fmt.Errorf("unknown coordinator.primary %q", primary)
	}
}

func coordinatorOptions(cfg config.CoordinatorConfig, events crm.EventPublisher, log *zap.Logger) crm.Options {
	opts := crm.Options{
		Events: events,
		Breaker: crm.BreakerConfig{
			FailThreshold: cfg.Breaker.FailThreshold,
			OpenFor:       time.Duration(cfg.Breaker.OpenForMs) * time.Millisecond,
		},
		Logger: log.Named("coordinator"),
	}
	if !cfg.Fallback {
		opts.Policy = crm.PrimaryOnlyPolicy{}
	}
	return opts
}
