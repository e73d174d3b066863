// Command reprocess resets batches to Pending and runs them through the
// pipeline in-process, waiting until each reaches Completed or Error.
//
//	reprocess [-config path] [-all-errors] [batch-id ...]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/app"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/services/batch"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("DOCINTAKE_CONFIG"), "path to a JSON or YAML config file")
	allErrors := flag.Bool("all-errors", false, "reprocess every batch currently in error")
	flag.Parse()

	ids := flag.Args()
	if len(ids) == 0 && !*allErrors {
		fmt.Fprintln(os.Stderr, "usage: reprocess [-config path] [-all-errors] [batch-id ...]")
		os.Exit(2)
	}

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := common.NewLogger(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, nil, logger)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			log.Printf("ERROR: shutdown: %v", err)
		}
	}()

	if *allErrors {
		failed, err := a.Service.List(ctx, batch.ListRequest{Status: string(constants.BatchStatusError)})
		if err != nil {
			log.Printf("ERROR: listing failed batches: %v", err)
			return
		}
		for _, b := range failed {
			ids = append(ids, b.ID.String())
		}
	}

	var queued []string
	for _, id := range ids {
		if err := a.Service.Reprocess(ctx, id); err != nil {
			log.Printf("ERROR: %s: %v", id, err)
			continue
		}
		queued = append(queued, id)
	}
	if len(queued) == 0 {
		log.Println("nothing to reprocess")
		return
	}

	if err := a.Dispatcher.Drain(ctx); err != nil {
		log.Printf("interrupted before all batches finished: %v", err)
	}

	for _, id := range queued {
		b, err := a.Service.Get(context.Background(), id)
		if err != nil {
			log.Printf("ERROR: %s: %v", id, err)
			continue
		}
		if b.ErrorMessage != nil {
			fmt.Printf("%s\t%s\t%s\t%s\n", b.ID, b.Status, b.Filename, *b.ErrorMessage)
			continue
		}
		fmt.Printf("%s\t%s\t%s\n", b.ID, b.Status, b.Filename)
	}
}
