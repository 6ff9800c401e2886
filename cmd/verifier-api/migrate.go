package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/disputeflow/verifier/internal/config"
	"github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/pkg/log"
	"github.com/disputeflow/verifier/pkg/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the db",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		logLvl, err := zap.ParseAtomicLevel(cfg.Service.LogLevel)
		if err != nil {
			logLvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}

		logger := log.InitLog(logLvl)
		defer func() { _ = logger.Sync() }()

		undo := zap.ReplaceGlobals(logger)
		defer undo()

		defer zap.S().Info("db migrated")

		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalw("initializing data store", "error", err)
		}

		s := store.NewStore(db, cfg.Queue.VisibilityTimeout)
		defer s.Close()

		// Folder migrations via goose when configured, gorm auto-migration
		// otherwise.
		if cfg.Service.MigrationFolder != "" {
			return migrations.MigrateStore(db, cfg.Service.MigrationFolder)
		}

		return s.InitialMigration(context.Background())
	},
}
