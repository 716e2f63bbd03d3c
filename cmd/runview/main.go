package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"runview/internal/feed"
	"runview/internal/history"
	"runview/internal/server"
)

func main() {
	port := flag.Int("port", 8090, "HTTP port to listen on")
	orchestratorURL := flag.String("orchestrator", "http://localhost:8080", "Base URL of the orchestrator read API")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	fetcher, err := history.NewClient(*orchestratorURL)
	if err != nil {
		log.Error("failed to create history client", "err", err)
		os.Exit(1)
	}

	broker := feed.NewBroker(log)
	srv := server.NewViewServer(fetcher, broker, log)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		log.Info("listening", "addr", addr, "orchestrator", *orchestratorURL)
		if err := srv.Start(addr); err != nil {
			log.Error("server stopped", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "err", err)
	}
	broker.Close()
	log.Info("exited")
}
