package main

import (
	"context"
	"fmt"
	"io"

	"github.com/BaSui01/dagflow/config"
	"github.com/BaSui01/dagflow/internal/database"
	"github.com/BaSui01/dagflow/internal/migration"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

func runMigrate(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "migrate: expected one of up, down, version, status")
		return exitUsage
	}
	action := args[0]
	fs := newFlagSet("migrate "+action, stderr)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args[1:]); err != nil {
		return exitUsage
	}
	switch action {
	case "up", "down", "version", "status":
	default:
		fmt.Fprintf(stderr, "migrate: unknown action %q\n", action)
		return exitUsage
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return exitFailed
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	if _, err := migration.ParseDatabaseType(cfg.Checkpoint.Backend); err != nil {
		fmt.Fprintf(stderr, "migrate: checkpoint backend %q has no schema\n", cfg.Checkpoint.Backend)
		return exitUsage
	}

	pool, err := database.Open(cfg.Checkpoint, logger)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	sqlDB, err := pool.DB().DB()
	if err != nil {
		_ = pool.Close()
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	migrator, err := migration.New(sqlDB, cfg.Checkpoint.Backend, logger)
	if err != nil {
		_ = pool.Close()
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	// 关闭迁移器即关闭底层连接
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	cli.SetOutput(stdout)

	switch action {
	case "up":
		err = cli.RunUp(ctx)
	case "down":
		err = cli.RunDown(ctx)
	case "version":
		err = cli.RunVersion(ctx)
	case "status":
		err = cli.RunStatus(ctx)
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	return exitOK
}
