package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aussiebroadwan/bmsclient/internal/probe"
)

func main() {
	cfg := probe.LoadConfig()
	if len(os.Args) > 1 {
		cfg.Path = os.Args[1]
	}

	if err := run(cfg); err != nil {
		log.Fatalf("probe error: %v", err)
	}
}

func run(cfg probe.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := probe.New(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer application.Close()

	return application.Run(ctx)
}
