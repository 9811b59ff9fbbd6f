package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/surnin/schedule-planner/internal/application"
	"github.com/surnin/schedule-planner/internal/config"
	httptransport "github.com/surnin/schedule-planner/internal/http"
	"github.com/surnin/schedule-planner/internal/logging"
	"github.com/surnin/schedule-planner/internal/persistence"
	"github.com/surnin/schedule-planner/internal/persistence/sqlite"
	syncadapter "github.com/surnin/schedule-planner/internal/sync"
	"github.com/surnin/schedule-planner/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(false).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := storage.Migrate(context.Background()); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	store := persistence.NewStateStore(storage, logger)
	service := application.NewPlannerService(ctx, store, time.Now, logger)

	adapter := syncadapter.New(syncadapter.Options{
		Transport:   syncadapter.NewWSTransport(),
		Reconciler:  service,
		Logger:      logger,
		ClientID:    func() string { return "user-" + randomHex(5) },
		SettleDelay: cfg.SettleDelay,
	})
	service.SetPublisher(adapter)

	// Settings stored by a previous run win over the process config; the
	// config only seeds the connection for a fresh database.
	conn := service.ConnectionSettings()
	if conn.RoomID == "" && cfg.RoomID != "" {
		conn = application.WebsocketConfig{
			URL:     cfg.RelayURL,
			APIKey:  cfg.APIKey,
			RoomID:  cfg.RoomID,
			Enabled: cfg.SyncEnabled,
		}
		if err := service.SetWebsocketConfig(ctx, conn); err != nil {
			logger.Error("failed to store sync settings", "error", err)
		}
	}
	if conn.URL == "" {
		conn.URL = cfg.RelayURL
	}
	adapter.Connect(ctx, syncadapter.Config{
		URL:     conn.URL,
		APIKey:  conn.APIKey,
		RoomID:  conn.RoomID,
		Enabled: conn.Enabled,
	})
	defer adapter.Disconnect(context.Background())

	notifier := telegram.NewClient(logger)
	plannerHandler := httptransport.NewPlannerHandler(service, adapter, nil, notifier, logger)
	authHandler := httptransport.NewAuthHandler(service, logger)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Auth:       authHandler,
		Planner:    plannerHandler,
		Middleware: []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("planner API listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

func randomHex(bytes int) string {
	if bytes <= 0 {
		bytes = 16
	}
	buf := make([]byte, bytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
