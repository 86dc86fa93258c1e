// cmd/migrate: 执行 chat_sessions 等表的 SQL 迁移后退出。
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/multi-agent/agent-console/internal/config"
	"github.com/multi-agent/agent-console/internal/database"
	"github.com/multi-agent/agent-console/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.InitLevel(cfg.AppEnv, cfg.LogLevel)

	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("database init failed", logger.FieldError, err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, database.MigrationSource(cfg.MigrationsDir)); err != nil {
		pool.Close()
		logger.Fatal("migration failed", logger.FieldError, err)
	}
	logger.Info("migrations complete")
}
