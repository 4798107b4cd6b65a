package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
	"gorm.io/gorm"
)

// PreferenceRepository is the external configuration source of dynamic
// schedules.
type PreferenceRepository interface {
	ListFeatureTypes(ctx context.Context) ([]string, error)
	FrequencyGroups(ctx context.Context, featureType string) (map[domain.FrequencyGroup][]domain.Subscriber, error)
}

type GormPreferenceRepo struct {
	db *gorm.DB
}

func NewGormPreferenceRepo(db *gorm.DB) *GormPreferenceRepo {
	return &GormPreferenceRepo{db: db}
}

func (r *GormPreferenceRepo) ListFeatureTypes(ctx context.Context) ([]string, error) {
	var featureTypes []string
	err := r.db.WithContext(ctx).
		Model(&SubscriptionPreferenceModel{}).
		Where("enabled = ?", true).
		Distinct().
		Order("feature_type").
		Pluck("feature_type", &featureTypes).Error
	if err != nil {
		return nil, err
	}
	return featureTypes, nil
}

func (r *GormPreferenceRepo) FrequencyGroups(ctx context.Context, featureType string) (map[domain.FrequencyGroup][]domain.Subscriber, error) {
	var models []SubscriptionPreferenceModel
	err := r.db.WithContext(ctx).
		Where("feature_type = ? AND enabled = ?", featureType, true).
		Order("frequency, time_key, user_id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return groupPreferences(models), nil
}

// groupPreferences partitions preference rows by (frequency, time key). Rows
// with an unknown frequency never schedule and are left out.
func groupPreferences(models []SubscriptionPreferenceModel) map[domain.FrequencyGroup][]domain.Subscriber {
	groups := make(map[domain.FrequencyGroup][]domain.Subscriber)
	for _, m := range models {
		freq, err := domain.ParseFrequencyFromString(m.Frequency)
		if err != nil {
			continue
		}
		key := domain.FrequencyGroup{Frequency: freq, TimeKey: m.TimeKey}
		groups[key] = append(groups[key], domain.Subscriber{UserID: m.UserID, TenantID: m.TenantID})
	}
	return groups
}

// MemoryPreferenceRepo is a settable PreferenceRepository for deployments
// without a preference database.
type MemoryPreferenceRepo struct {
	mu     sync.RWMutex
	groups map[string]map[domain.FrequencyGroup][]domain.Subscriber
}

func NewMemoryPreferenceRepo() *MemoryPreferenceRepo {
	return &MemoryPreferenceRepo{groups: make(map[string]map[domain.FrequencyGroup][]domain.Subscriber)}
}

// Set replaces the groups of a feature type. An empty map removes the feature
// type entirely.
func (r *MemoryPreferenceRepo) Set(featureType string, groups map[domain.FrequencyGroup][]domain.Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(groups) == 0 {
		delete(r.groups, featureType)
		return
	}
	r.groups[featureType] = copyGroups(groups)
}

func (r *MemoryPreferenceRepo) ListFeatureTypes(context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.groups))
	for ft := range r.groups {
		out = append(out, ft)
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryPreferenceRepo) FrequencyGroups(_ context.Context, featureType string) (map[domain.FrequencyGroup][]domain.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return copyGroups(r.groups[featureType]), nil
}

func copyGroups(in map[domain.FrequencyGroup][]domain.Subscriber) map[domain.FrequencyGroup][]domain.Subscriber {
	out := make(map[domain.FrequencyGroup][]domain.Subscriber, len(in))
	for k, v := range in {
		subs := make([]domain.Subscriber, len(v))
		copy(subs, v)
		out[k] = subs
	}
	return out
}
