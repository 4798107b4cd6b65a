package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
	"go.uber.org/zap"
)

type jobFile struct {
	Jobs []json.RawMessage `json:"batch_processing_jobs"`
}

// ParseJobs decodes a job file. Entries that fail to decode or validate, and
// entries repeating an earlier job_id, are skipped; each is reported in the
// returned rejection list. Only an unreadable document is a hard error.
func ParseJobs(data []byte) ([]domain.JobConfig, []error, error) {
	var file jobFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("%w: job file is not valid JSON: %v", domain.ErrValidation, err)
	}

	validate := validator.New()
	jobs := make([]domain.JobConfig, 0, len(file.Jobs))
	seen := make(map[string]struct{}, len(file.Jobs))
	var rejected []error

	for i, raw := range file.Jobs {
		var job domain.JobConfig
		if err := json.Unmarshal(raw, &job); err != nil {
			rejected = append(rejected, &domain.ConfigError{
				JobID:  fmt.Sprintf("#%d", i),
				Reason: fmt.Sprintf("cannot decode entry: %v", err),
			})
			continue
		}
		job.JobID = strings.TrimSpace(job.JobID)

		if err := validate.Struct(&job); err != nil {
			rejected = append(rejected, &domain.ConfigError{
				JobID:  jobLabel(job.JobID, i),
				Reason: err.Error(),
			})
			continue
		}
		if _, dup := seen[job.JobID]; dup {
			rejected = append(rejected, &domain.ConfigError{
				JobID:  job.JobID,
				Field:  "job_id",
				Reason: "duplicate job id",
			})
			continue
		}

		seen[job.JobID] = struct{}{}
		jobs = append(jobs, job)
	}

	return jobs, rejected, nil
}

func jobLabel(jobID string, index int) string {
	if jobID == "" {
		return fmt.Sprintf("#%d", index)
	}
	return jobID
}

// LoadJobs reads and parses a job file. A missing file yields no jobs.
func LoadJobs(path string) ([]domain.JobConfig, []error, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read job file %q: %w", path, err)
	}
	return ParseJobs(data)
}

// JobCatalog is the in-memory, reloadable set of configured jobs. Stored
// configs are never mutated; Get and List hand out copies.
type JobCatalog struct {
	path   string
	logger *zap.Logger

	mu   sync.RWMutex
	jobs map[string]domain.JobConfig
}

func NewJobCatalog(path string, logger *zap.Logger) *JobCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobCatalog{
		path:   path,
		logger: logger,
		jobs:   make(map[string]domain.JobConfig),
	}
}

// NewStaticJobCatalog builds a catalog that is not backed by a file.
func NewStaticJobCatalog(jobs ...domain.JobConfig) *JobCatalog {
	c := NewJobCatalog("", nil)
	c.Replace(jobs)
	return c
}

// Reload re-reads the job file and atomically swaps the catalog contents.
// It returns the number of loaded jobs.
func (c *JobCatalog) Reload() (int, error) {
	if c.path == "" {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return len(c.jobs), nil
	}

	jobs, rejected, err := LoadJobs(c.path)
	if err != nil {
		return 0, err
	}
	for _, rejection := range rejected {
		c.logger.Warn("skipping invalid job config", zap.Error(rejection), zap.String("path", c.path))
	}
	if jobs == nil {
		c.logger.Warn("job file not found, no static jobs configured", zap.String("path", c.path))
	}

	c.Replace(jobs)
	c.logger.Info("job catalog loaded", zap.Int("jobs", len(jobs)), zap.Int("rejected", len(rejected)))
	return len(jobs), nil
}

func (c *JobCatalog) Replace(jobs []domain.JobConfig) {
	next := make(map[string]domain.JobConfig, len(jobs))
	for _, job := range jobs {
		next[job.JobID] = job.Clone()
	}

	c.mu.Lock()
	c.jobs = next
	c.mu.Unlock()
}

func (c *JobCatalog) Get(jobID string) (domain.JobConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	job, ok := c.jobs[jobID]
	if !ok {
		return domain.JobConfig{}, false
	}
	return job.Clone(), true
}

// List returns all jobs ordered by job id.
func (c *JobCatalog) List() []domain.JobConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.JobConfig, 0, len(c.jobs))
	for _, job := range c.jobs {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}
