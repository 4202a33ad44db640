package main

import (
	"context"
	"flag"
	"log"
	"os"

	"hostwatch-agent/internal/agent"
	"hostwatch-agent/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("HOSTWATCH_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := agent.BuildLogger(cfg)
	ctx := context.Background()
	a, err := agent.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("agent initialization failed", "error", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("agent runtime failed", "error", err)
		os.Exit(1)
	}
}
