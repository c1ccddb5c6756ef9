package migrations

import (
	"gorm.io/gorm"

	"github.com/cadrelay/cadrelay/internal/models"
)

// AllMigrations returns all registered migrations in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
	}
}

// migration001Schema creates all database tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create all database tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.Account{},
				&models.Conversion{},
				&models.UsagePeriod{},
				&models.AnalyticsEvent{},
				&models.NotificationTask{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{
				"notification_tasks",
				"analytics_events",
				"usage_periods",
				"conversions",
				"accounts",
			}
			for _, table := range tables {
				if err := tx.Migrator().DropTable(table); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
