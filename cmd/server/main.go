package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrovelli/conto/internal/api"
	"github.com/mrovelli/conto/internal/config"
	"github.com/mrovelli/conto/internal/logger"
	"github.com/mrovelli/conto/internal/repository"
	"github.com/mrovelli/conto/internal/store"
	"github.com/mrovelli/conto/internal/store/fire"
	"github.com/mrovelli/conto/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()
	defer fire.CloseSharedClient()

	repo := repository.New(st, cfg.Owner, log)
	handler := api.New(repo, log).Routes()

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Listen).Str("store", cfg.Store).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.BackendFirestore:
		client, err := fire.SharedClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, err
		}
		return fire.New(client, cfg.Owner)
	default:
		return sqlite.OpenShared(cfg.SQLite.Path)
	}
}
