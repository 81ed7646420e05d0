// Command pumpd serves the Pump replay API: deterministic verification,
// range scans with persisted runs, and live bet ingestion.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MJE43/pump-replay-go/internal/api"
	"github.com/MJE43/pump-replay-go/internal/config"
	"github.com/MJE43/pump-replay-go/internal/livestore"
	"github.com/MJE43/pump-replay-go/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.Load()

	runs, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer runs.Close()

	live, err := livestore.Open(cfg.LiveDatabasePath)
	if err != nil {
		return fmt.Errorf("open live store: %w", err)
	}
	defer live.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           api.New(cfg, runs, live).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("pumpd listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Print("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}
