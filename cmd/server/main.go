package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chats/internal/config"
	"chats/internal/db"
	"chats/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "chats",
	Short: "Participant-scoped chat API server",
	Long: `chats serves a REST API for conversations and their messages.
Only participants of a conversation may read or write its messages.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default is $CONFIG_FILE)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger shared by every command.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func openDatabase(cfg *config.Config, log *zap.Logger) (*db.DB, error) {
	path := cfg.CleanDatabasePath()
	database, err := db.NewDB(path, log)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info("database_connected", zap.String("path", path))
	return database, nil
}
