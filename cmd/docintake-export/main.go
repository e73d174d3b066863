// Command docintake-export writes an XLSX workbook of batches and their
// extracted fields.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/app"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/export"
	"github.com/joseph-ayodele/docintake/internal/repository"
)

const dateLayout = "2006-01-02"

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("DOCINTAKE_CONFIG"), "path to a JSON or YAML config file")
	out := flag.String("out", "batches.xlsx", "output file")
	status := flag.String("status", "", "only batches in this status (pending, processing, completed, error)")
	from := flag.String("from", "", "first creation date to include, YYYY-MM-DD")
	to := flag.String("to", "", "last creation date to include, YYYY-MM-DD")
	flag.Parse()

	filter, err := parseFilter(*status, *from, *to)
	if err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := common.NewLogger(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	drv, pool, err := repository.Open(ctx, app.StoreConfig(cfg.Database), logger)
	if err != nil {
		log.Fatalf("opening DB: %v", err)
	}
	defer repository.Close(drv, pool, logger)

	if err := repository.Migrate(ctx, drv, logger); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	svc := export.NewService(
		repository.NewBatchRepository(drv, logger),
		repository.NewDocumentRepository(drv, logger),
		logger,
	)
	data, err := svc.ExportBatchesXLSX(ctx, filter)
	if err != nil {
		log.Fatalf("export: %v", err)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}
	log.Printf("wrote %s (%d bytes)", *out, len(data))
}

func parseFilter(status, from, to string) (export.Filter, error) {
	var f export.Filter

	v := common.NewValidator()
	if status != "" {
		v.Field("status", status, common.OneOf(
			string(constants.BatchStatusPending),
			string(constants.BatchStatusProcessing),
			string(constants.BatchStatusCompleted),
			string(constants.BatchStatusError),
		))
	}
	if err := common.ValidateAndReturnError(v); err != nil {
		return f, err
	}
	if status != "" {
		st := constants.BatchStatus(status)
		f.Status = &st
	}

	if from != "" {
		t, err := time.Parse(dateLayout, from)
		if err != nil {
			return f, common.InvalidInputErrorf("from: %v", err)
		}
		f.From = &t
	}
	if to != "" {
		t, err := time.Parse(dateLayout, to)
		if err != nil {
			return f, common.InvalidInputErrorf("to: %v", err)
		}
		f.To = &t
	}
	return f, nil
}
