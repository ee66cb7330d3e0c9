package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/BradenHooton/trustgate/internal/config"
	"github.com/BradenHooton/trustgate/internal/database"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [up|status|down]\n")
	}
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := run(ctx, db, command); err != nil {
		logger.Error("migration command failed", slog.String("command", command), slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("migration command completed", slog.String("command", command))
}

func run(ctx context.Context, db *sql.DB, command string) error {
	switch command {
	case "up":
		return database.Migrate(ctx, db)
	case "status":
		return database.MigrationStatus(ctx, db)
	case "down":
		return database.Rollback(ctx, db)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}
