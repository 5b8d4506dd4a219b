package main

import (
	"fmt"

	"ai-research-be/internal/model"
	"ai-research-be/internal/repository/sqlite"
	"ai-research-be/pkg/database"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the storage schema",
	Long: `Creates the summary and session tables for STORE_DRIVER. For postgres this
also enables pgvector and pins the embedding column to EMBEDDING_DIMENSIONS.
The sqlite store migrates its tables on open, so migrating it only creates
the database file when it is missing.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	switch cfg.Store.Driver {
	case "postgres":
		db, err := database.NewGormDBFromDSN(cfg.Database.Connection, cfg.Database.Verbose)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}()

		if err := database.Migrate(db, cfg.Store.EmbeddingDimensions,
			&model.ResearchSummary{},
			&model.ResearchSession{},
		); err != nil {
			return err
		}
	case "", "sqlite":
		store, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		if err := store.Close(); err != nil {
			return err
		}
	case "memory":
		color.Yellow("The memory store has no schema; nothing to do.")
		return nil
	default:
		return fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}

	color.Green("Success: %s schema is up to date.", cfg.Store.Driver)
	return nil
}
