package repository

import (
	"time"

	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
)

// BatchRunModel is the persistence model for the batch_runs table.
type BatchRunModel struct {
	ID                     string             `gorm:"type:uuid;primaryKey"`
	JobID                  *string            `gorm:"type:varchar(255);index"`
	BatchType              string             `gorm:"type:varchar(32);not null"`
	TemplateID             *string            `gorm:"type:varchar(255)"`
	Status                 domain.BatchStatus `gorm:"type:varchar(32);not null;index"`
	ItemCount              int                `gorm:"not null;default:0"`
	ValidItems             []string           `gorm:"type:jsonb;serializer:json"`
	InvalidItems           []string           `gorm:"type:jsonb;serializer:json"`
	ValidReferencedUsers   []string           `gorm:"type:jsonb;serializer:json"`
	InvalidReferencedUsers []string           `gorm:"type:jsonb;serializer:json"`
	Processed              int                `gorm:"not null;default:0"`
	Succeeded              int                `gorm:"not null;default:0"`
	Failed                 int                `gorm:"not null;default:0"`
	Total                  int                `gorm:"not null;default:0"`
	Percentage             int                `gorm:"not null;default:0"`
	Metadata               map[string]any     `gorm:"type:jsonb;serializer:json"`
	Error                  *string            `gorm:"type:text"`
	CreatedAt              time.Time
	StartedAt              *time.Time
	CompletedAt            *time.Time
	CancelledAt            *time.Time
	UpdatedAt              time.Time
}

func (BatchRunModel) TableName() string {
	return "batch_runs"
}

// SubscriptionPreferenceModel is one user's opt-in to a feature delivered on a
// recurring cadence. Rows are owned by an external preference service; this
// module only reads them.
type SubscriptionPreferenceModel struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	UserID      string `gorm:"type:varchar(255);not null"`
	TenantID    string `gorm:"type:varchar(255)"`
	FeatureType string `gorm:"type:varchar(100);not null"`
	Frequency   string `gorm:"type:varchar(20);not null"`
	TimeKey     string `gorm:"type:varchar(40);not null"`
	Enabled     bool   `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (SubscriptionPreferenceModel) TableName() string {
	return "subscription_preferences"
}

func batchRunModelFromDomain(b *domain.BatchRun) *BatchRunModel {
	if b == nil {
		return nil
	}

	return &BatchRunModel{
		ID:                     b.ID,
		JobID:                  optionalString(b.JobID),
		BatchType:              b.BatchType.String(),
		TemplateID:             optionalString(b.TemplateID),
		Status:                 b.Status,
		ItemCount:              b.ItemCount,
		ValidItems:             b.ValidItems,
		InvalidItems:           b.InvalidItems,
		ValidReferencedUsers:   b.ValidReferencedUsers,
		InvalidReferencedUsers: b.InvalidReferencedUsers,
		Processed:              b.Progress.Processed,
		Succeeded:              b.Progress.Succeeded,
		Failed:                 b.Progress.Failed,
		Total:                  b.Progress.Total,
		Percentage:             b.Progress.Percentage,
		Metadata:               b.Metadata,
		Error:                  optionalString(b.Error),
		CreatedAt:              b.CreatedAt,
		StartedAt:              b.StartedAt,
		CompletedAt:            b.CompletedAt,
		CancelledAt:            b.CancelledAt,
		UpdatedAt:              b.UpdatedAt,
	}
}

func batchRunModelToDomain(m *BatchRunModel) *domain.BatchRun {
	if m == nil {
		return nil
	}

	// Rows written by this module always carry a canonical batch type; an
	// unparsable value is surfaced as the zero BatchType.
	batchType, _ := domain.ParseBatchType(m.BatchType)

	return &domain.BatchRun{
		ID:                     m.ID,
		JobID:                  derefString(m.JobID),
		BatchType:              batchType,
		TemplateID:             derefString(m.TemplateID),
		Status:                 m.Status,
		ItemCount:              m.ItemCount,
		ValidItems:             m.ValidItems,
		InvalidItems:           m.InvalidItems,
		ValidReferencedUsers:   m.ValidReferencedUsers,
		InvalidReferencedUsers: m.InvalidReferencedUsers,
		Progress: domain.Progress{
			Processed:  m.Processed,
			Succeeded:  m.Succeeded,
			Failed:     m.Failed,
			Total:      m.Total,
			Percentage: m.Percentage,
		},
		Metadata:    m.Metadata,
		Error:       derefString(m.Error),
		CreatedAt:   m.CreatedAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		CancelledAt: m.CancelledAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
