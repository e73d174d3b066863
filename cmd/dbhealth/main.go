package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/app"
	"github.com/joseph-ayodele/docintake/internal/common"
	repo "github.com/joseph-ayodele/docintake/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := common.LoadConfig(os.Getenv("DOCINTAKE_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := common.NewLogger(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	drv, pool, err := repo.Open(ctx, app.StoreConfig(cfg.Database), logger)
	if err != nil {
		log.Fatalf("opening DB: %v", err)
	}
	defer repo.Close(drv, pool, logger)

	if err := repo.HealthCheck(ctx, drv, 1*time.Second, logger); err != nil {
		log.Fatalf("DB health: FAIL (%v)", err)
	}
	log.Println("DB health: OK")

	if err := repo.Migrate(ctx, drv, logger); err != nil {
		log.Fatalf("schema: FAIL (%v)", err)
	}
	log.Println("schema: OK")

	batches := repo.NewBatchRepository(drv, logger)
	for _, st := range []constants.BatchStatus{
		constants.BatchStatusPending,
		constants.BatchStatusProcessing,
		constants.BatchStatusCompleted,
		constants.BatchStatusError,
	} {
		list, err := batches.List(ctx, repo.BatchFilter{Status: &st})
		if err != nil {
			log.Fatalf("listing %s batches: %v", st, err)
		}
		log.Printf("- %-10s %d", st, len(list))
	}
}
