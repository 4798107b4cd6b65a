package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addBatchRunsJobStatusIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_batch_runs_job_status_index",
		Migrate: func(tx *gorm.DB) error {
			statements := []string{
				`CREATE INDEX IF NOT EXISTS idx_batch_runs_job_created ON batch_runs (job_id, created_at DESC) WHERE job_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_batch_runs_active ON batch_runs (status) WHERE status IN ('created', 'initializing', 'processing')`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			statements := []string{
				`DROP INDEX IF EXISTS idx_batch_runs_active`,
				`DROP INDEX IF EXISTS idx_batch_runs_job_created`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}
