package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/BradenHooton/mailgate/internal/config"
	"github.com/BradenHooton/mailgate/internal/database"
	"github.com/joho/godotenv"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "maximum time to spend applying migrations")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	_ = godotenv.Load()
	var cfg config.DatabaseConfig
	if err := config.ParseEnv(&cfg); err != nil {
		logger.Error("failed to load database configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := database.Migrate(ctx, cfg.URL(), logger); err != nil {
		logger.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}
}
