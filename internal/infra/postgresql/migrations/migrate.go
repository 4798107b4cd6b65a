package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return gormigrate.New(db, gormigrate.DefaultOptions, all()).Migrate()
}

func all() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		createBatchRunsTable(),
		createSubscriptionPreferencesTable(),
		addBatchRunsJobStatusIndex(),
	}
}
