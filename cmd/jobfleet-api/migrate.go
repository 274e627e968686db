package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fleetworks/jobfleet/internal/config"
	"github.com/fleetworks/jobfleet/internal/store"
	"github.com/fleetworks/jobfleet/pkg/log"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run the database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.InitLog(zap.NewAtomicLevelAt(zap.InfoLevel))
		defer func() { _ = logger.Sync() }()
		undo := zap.ReplaceGlobals(logger)
		defer undo()

		cfg, err := config.New()
		if err != nil {
			return err
		}

		db, err := store.InitDB(cfg)
		if err != nil {
			return err
		}

		s := store.NewStore(db)
		defer s.Close()

		if err := s.InitialMigration(); err != nil {
			return err
		}

		zap.S().Info("migrations applied")
		return nil
	},
}
