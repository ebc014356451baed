package main

import (
	"context"
	"flag"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"temporary-access/backend/internal/config"
	"temporary-access/backend/internal/logging"
	"temporary-access/backend/internal/repository"
	"temporary-access/backend/internal/services"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	envFile := flag.String("env", "", "Path to .env file")
	seed := flag.Bool("seed", false, "Store the current template as the first revision")
	flag.Parse()

	// Load config
	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.DB.Host == "" {
		log.Fatalf("db.host is not configured")
	}

	// Connect to DB
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgresTemplateStore(pool)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}
	logger.Info("Schema up to date", "db", cfg.DB.Name)

	if !*seed {
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Cannot seed: %v", err)
	}
	res, err := services.NewSynthService(cfg, store, nil, logger).Synthesize(ctx, "migrate")
	if err != nil {
		log.Fatalf("Failed to seed revision: %v", err)
	}
	if res.Changed {
		logger.Info("Seeded revision", "stack", res.Revision.StackName, "version", res.Revision.Version)
	} else {
		logger.Info("Skipping existing revision", "stack", res.Revision.StackName, "version", res.Revision.Version)
	}
}
