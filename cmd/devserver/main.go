// Command devserver runs the in-memory dealership chat backend on
// localhost. It speaks the same REST and realtime protocol as the
// production backend, so the widget can be developed and demoed offline.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/primeautohub/chatwidget/internal/config"
	"github.com/primeautohub/chatwidget/internal/devserver"
	"github.com/primeautohub/chatwidget/internal/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on environment")
	}

	autoReply := flag.Bool("auto-reply", false, "answer visitor messages with a canned admin reply")
	flag.Parse()

	cfg := config.LoadConfig()
	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat)).WithComponent("devserver_main")

	server := devserver.NewServer(devserver.Options{
		Logger:    logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat)),
		AutoReply: *autoReply,
	})

	// The widget is served from a different origin during development.
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(server.Handler())

	srv := &http.Server{
		Addr:    ":" + cfg.DevServerPort,
		Handler: handler,
	}

	go func() {
		log.Info("dev backend listening", slog.String("port", cfg.DevServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down dev backend")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
	}
	log.Info("dev backend exited")
}
