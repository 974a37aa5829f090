// ABOUTME: Local fake execution service for trying coven-chat without real agents.
// ABOUTME: Usage: fake-runs [-addr localhost:7777] [-delay 80ms]
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/logging"
)

func main() {
	addr := flag.String("addr", "localhost:7777", "listen address")
	delay := flag.Duration("delay", 80*time.Millisecond, "pause between streamed events")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := logging.New(config.LoggingConfig{Level: *level, Format: "text"}, os.Stderr)
	if err := run(*addr, *delay, logger); err != nil {
		log.Fatal(err)
	}
}

func run(addr string, delay time.Duration, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{
		Addr:              addr,
		Handler:           newServer(delay, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fake execution service listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
