package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"testexec-platform/internal/shared/storage/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		store, err := repository.Open(cfg.Database.Driver, cfg.Database.DSN, true)
		if err != nil {
			log.Error("migrate failed", zap.Error(err))
			return err
		}
		log.Info("schema is up to date", zap.String("driver", string(cfg.Database.Driver)))
		return store.Close()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
