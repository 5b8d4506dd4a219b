package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"ai-research-be/internal/model"
	"ai-research-be/internal/repository/unitofwork"
	"ai-research-be/pkg/database"

	"gorm.io/gorm"
)

// Store is the on-device backend: one SQLite file holding summaries and
// session states, served by the same gorm repositories as postgres.
type Store struct {
	unitofwork.RepositoryFactory
	db   *gorm.DB
	path string
}

// Open creates the database file (and its directory) if needed and migrates
// the tables.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := database.NewGormSQLite(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.AutoMigrate(&model.ResearchSummary{}, &model.ResearchSession{}); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		RepositoryFactory: unitofwork.NewRepositoryFactory(db),
		db:                db,
		path:              path,
	}, nil
}

func (s *Store) Path() string { return s.path }
