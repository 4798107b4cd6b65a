package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BatchStore persists batch runs. Update applies a patch atomically and
// returns the resulting run; a patch against a terminal run fails with
// domain.ErrBatchTerminal and leaves the stored run untouched.
type BatchStore interface {
	Create(ctx context.Context, run *domain.BatchRun) error
	GetByID(ctx context.Context, id string) (*domain.BatchRun, error)
	Update(ctx context.Context, id string, patch domain.BatchPatch) (*domain.BatchRun, error)
}

type GormBatchRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db, now: time.Now}
}

func (r *GormBatchRepo) Create(ctx context.Context, run *domain.BatchRun) error {
	model := batchRunModelFromDomain(run)
	if model == nil {
		return domain.ErrValidation
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*run = *batchRunModelToDomain(model)
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.BatchRun, error) {
	var model BatchRunModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchRunModelToDomain(&model), nil
}

func (r *GormBatchRepo) Update(ctx context.Context, id string, patch domain.BatchPatch) (*domain.BatchRun, error) {
	var updated *domain.BatchRun
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model BatchRunModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		run := batchRunModelToDomain(&model)
		if err := patch.Apply(run, r.now().UTC()); err != nil {
			return err
		}

		if err := tx.Save(batchRunModelFromDomain(run)).Error; err != nil {
			return err
		}
		updated = run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
