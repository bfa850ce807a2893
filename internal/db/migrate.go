package db

import (
	"fmt"

	"github.com/zulandar/trunkline/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.ChannelCursor{},
		&models.InboxEvent{},
		&models.WatchedThread{},
		&models.PollerLease{},
		&models.ConsensusRequest{},
		&models.MentionNotice{},
	}
}

// AutoMigrate creates or updates all Trunkline tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Reset drops and recreates all Trunkline tables.
func Reset(db *gorm.DB) error {
	for _, m := range AllModels() {
		if err := db.Migrator().DropTable(m); err != nil {
			return fmt.Errorf("db: drop table: %w", err)
		}
	}
	return AutoMigrate(db)
}
