package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kkjha00007/resigate/pkg/auth"
	"github.com/kkjha00007/resigate/pkg/config"
	"github.com/kkjha00007/resigate/pkg/observability"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	promoteOnce   = flag.Bool("promote-once", false, "Promote legacy user records once and exit")
	generateToken = flag.Bool("generate-token", false, "Print a new API token and its SHA256 hash, then exit")
)

func main() {
	flag.Parse()

	if *generateToken {
		token, hash, err := auth.NewTokenGenerator().GenerateToken()
		if err != nil {
			log.Fatalf("Failed to generate token: %v", err)
		}
		fmt.Printf("token: %s\nsha256: %s\n", token, hash)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize")
		os.Exit(1)
	}
	defer a.Close()

	if *promoteOnce {
		result, err := a.promoter.RunOnce(ctx)
		if err != nil {
			logger.WithError(err).Error("Legacy promotion failed")
			os.Exit(1)
		}
		logger.WithFields(map[string]interface{}{
			"scanned":  result.Scanned,
			"promoted": result.Promoted,
			"skipped":  result.Skipped,
			"failed":   result.Failed,
		}).Info("Legacy promotion completed")
		return
	}

	if err := a.Run(ctx); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		os.Exit(1)
	}
	logger.Info("ResiGate stopped")
}
