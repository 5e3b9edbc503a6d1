package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chats/internal/api"
	"chats/internal/auth"
	"chats/internal/chat"
	"chats/internal/config"
	"chats/internal/metrics"
)

var loadTest bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&loadTest, "loadtest", false, "use a separate database under ./loadtest")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if loadTest {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		loadTestDir := filepath.Join(cwd, "loadtest")
		if err := os.MkdirAll(loadTestDir, 0755); err != nil {
			return fmt.Errorf("create loadtest directory: %w", err)
		}
		loadTestPath := filepath.Join(loadTestDir, "loadtest.db")
		cfg.UpdateDatabasePath(loadTestPath)
		log.Info("using_loadtest_database", zap.String("path", loadTestPath))
	}

	if cfg.Auth.JWTSecret == config.DefaultJWTSecret {
		log.Warn("jwt_secret_is_default", zap.String("hint", "set JWT_SECRET before exposing the server"))
	}

	database, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer database.Close()

	service := chat.NewService(database, chat.Options{
		AutoJoinCreator: cfg.Conversations.AutoJoinCreator,
	}, log.Named("chat"))
	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	handlers := api.NewHandlers(service, tokens, metrics.New(), database.Ready, api.Config{
		CORSOrigin:   cfg.Server.CORSOrigin,
		SecureCookie: cfg.Auth.SecureCookie,
		PageSize:     cfg.Pagination.PageSize,
		MaxPageSize:  cfg.Pagination.MaxPageSize,
	}, log.Named("http"))

	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: handlers.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server_starting", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("signal_received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	log.Info("server_shutting_down")
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
