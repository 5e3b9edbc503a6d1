package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		database, err := openDatabase(cfg, log)
		if err != nil {
			return err
		}
		defer database.Close()

		log.Info("schema_ready")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
