package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmehdipour/crm-gateway/internal/config"
	"github.com/jmehdipour/crm-gateway/internal/db"
	"github.com/spf13/cobra"
)

var migrateTarget string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (dev: DROP & CREATE tables)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		switch migrateTarget {
		case "relational":
			return migrateRelational(ctx, cfg)
		case "clickhouse":
			return migrateClickHouse(ctx, cfg)
		default:
			return fmt.Errorf("unknown target %q (relational | clickhouse)", migrateTarget)
		}
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateTarget, "target", "relational", "relational | clickhouse")
}

func migrateRelational(ctx context.Context, cfg config.Config) error {
	sqlDB, err := openRelational(cfg)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer sqlDB.Close()

	sqlPath := filepath.Join("migrations", "001_init.sql")
	if cfg.Relational.Driver == "sqlite3" {
		sqlPath = filepath.Join("migrations", "sqlite", "001_init.sql")
	}
	script, err := os.ReadFile(sqlPath)
	if err != nil {
		return fmt.Errorf("read migration file %s: %w", sqlPath, err)
	}

	if cfg.Relational.Driver == "sqlite3" {
		if err := db.ExecScript(ctx, sqlDB, string(script)); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
		fmt.Println(">> Migration complete (sqlite3)")
		return nil
	}

	// FOREIGN_KEY_CHECKS is per session: pin one connection
	conn, err := sqlDB.Connx(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		return fmt.Errorf("disable fk checks: %w", err)
	}
	if err := db.ExecScript(ctx, conn, string(script)); err != nil {
		_, _ = conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1")
		return fmt.Errorf("exec migration: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1"); err != nil {
		return fmt.Errorf("enable fk checks: %w", err)
	}

	fmt.Println(">> Migration complete (mysql)")
	return nil
}

func migrateClickHouse(ctx context.Context, cfg config.Config) error {
	chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
		DSN:         cfg.ClickHouse.DSN,
		PingTimeout: cfg.ClickHouse.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("clickhouse connect: %w", err)
	}
	defer chDB.Close()

	sqlPath := filepath.Join("migrations", "clickhouse", "001_activity.sql")
	script, err := os.ReadFile(sqlPath)
	if err != nil {
		return fmt.Errorf("read migration file %s: %w", sqlPath, err)
	}
	if err := db.ExecScript(ctx, chDB, string(script)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}

	fmt.Println(">> ClickHouse migration complete")
	return nil
}
