package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/batch-orchestrator/internal/repository"
	"gorm.io/gorm"
)

func createSubscriptionPreferencesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_subscription_preferences",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SubscriptionPreferenceModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_subscription_preferences_feature ON subscription_preferences (feature_type, frequency, time_key) WHERE enabled`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_subscription_preferences_user_feature ON subscription_preferences (user_id, feature_type)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SubscriptionPreferenceModel{})
		},
	}
}
