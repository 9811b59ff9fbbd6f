package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/surnin/schedule-planner/internal/logging"
	"github.com/surnin/schedule-planner/internal/relay"
)

func main() {
	debug, _ := os.LookupEnv("RELAY_DEBUG")
	logger := logging.New(strings.TrimSpace(debug) == "true")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := strings.TrimSpace(os.Getenv("RELAY_ADDR"))
	if addr == "" {
		addr = ":8090"
	}

	server := relay.NewServer(relay.Config{
		Addr:   addr,
		APIKey: strings.TrimSpace(os.Getenv("RELAY_API_KEY")),
		Logger: logger,
	})
	if err := server.Start(); err != nil {
		logger.Error("failed to start relay", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown relay", "error", err)
		os.Exit(1)
	}
	logger.Info("relay stopped")
}
