package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/notes-bin/crystal/internal/api"
	"github.com/notes-bin/crystal/internal/auth"
	"github.com/notes-bin/crystal/internal/cache"
	"github.com/notes-bin/crystal/internal/config"
	"github.com/notes-bin/crystal/internal/gallery"
	"github.com/notes-bin/crystal/internal/mail"
	"github.com/notes-bin/crystal/internal/realtime"
	"github.com/notes-bin/crystal/internal/redis"
	"github.com/notes-bin/crystal/internal/storage"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "crystal",
	Short: "Photo gallery backend",
	Long: `crystal serves photo galleries: accounts, collections, images,
likes and comments over HTTP, with live updates over websockets.

Running it without a subcommand starts the server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var recountCmd = &cobra.Command{
	Use:   "recount",
	Short: "Recompute every collection's image counter",
	Long: `Recount resets each collection's image counter to the number of
images actually indexed under it and reports how many were wrong.`,
	RunE: runRecount,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the JSON config file")
	rootCmd.AddCommand(serveCmd, recountCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the config, installs the logger and connects to Redis.
func setup() (*config.Config, *redis.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	redisClient, err := redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	return cfg, redisClient, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, redisClient, err := setup()
	if err != nil {
		return err
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStorage(cfg.UploadDir, cfg.MaxUploadSize)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	mailer := mail.New(cfg.Mail.SendGridAPIKey, cfg.Mail.FromName, cfg.Mail.FromAddress)
	authService := auth.NewAuth(cfg.JWTSecret, redisClient, mailer, auth.Options{
		ResetURL: cfg.Mail.ResetURL,
		IsAdmin:  cfg.IsAdminEmail,
	})

	hub := realtime.NewHub(cfg.AllowedOrigin)
	go hub.Run(ctx)
	broker := realtime.NewBroker(redisClient, hub)
	go func() {
		if err := broker.Run(ctx, nil); err != nil {
			slog.Error("Event broker stopped", "error", err)
		}
	}()

	go cache.StartPopularRefresh(ctx, redisClient, cfg.TopRefreshInterval)

	service := gallery.NewService(redisClient, store, broker, cfg.PublicURL)
	handler := api.NewHandler(cfg, authService, service, store, redisClient, hub)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.SetupRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server starting on port", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	slog.Info("Server stopped")
	return nil
}

func runRecount(cmd *cobra.Command, args []string) error {
	cfg, redisClient, err := setup()
	if err != nil {
		return err
	}
	defer redisClient.Close()

	service := gallery.NewService(redisClient, nil, nil, cfg.PublicURL)
	fixed, err := service.RecountAll(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d collection counter(s) repaired\n", fixed)
	return nil
}
