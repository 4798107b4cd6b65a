package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Frequency is how often a schedule fires.
type Frequency string

const (
	FrequencyHourly   Frequency = "hourly"
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

func (f Frequency) String() string { return string(f) }

func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	}
	return false
}

func ParseFrequencyFromString(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("%w: invalid frequency %q", ErrValidation, s)
	}
	return f, nil
}

var weekdays = map[string]int{
	"sunday": 0, "sun": 0,
	"monday": 1, "mon": 1,
	"tuesday": 2, "tue": 2,
	"wednesday": 3, "wed": 3,
	"thursday": 4, "thu": 4,
	"friday": 5, "fri": 5,
	"saturday": 6, "sat": 6,
}

// Schedule is the timing block of a job config. An empty or unknown frequency
// keeps the job runnable on demand; only its cron registration fails.
type Schedule struct {
	Frequency string `json:"frequency"`
	Time      string `json:"time,omitempty"`
	Day       string `json:"day,omitempty"`
}

// CronSpec translates the schedule into a standard five-field cron expression.
func (s Schedule) CronSpec() (string, error) {
	freq, err := ParseFrequencyFromString(s.Frequency)
	if err != nil {
		return "", err
	}
	if freq == FrequencyHourly {
		return "0 * * * *", nil
	}

	hour, minute, err := parseClock(s.Time)
	if err != nil {
		return "", err
	}

	switch freq {
	case FrequencyDaily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case FrequencyWeekly:
		dow, err := parseWeekday(s.Day)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * %d", minute, hour, dow), nil
	case FrequencyBiweekly:
		return fmt.Sprintf("%d %d 1,15 * *", minute, hour), nil
	case FrequencyMonthly:
		dom, err := parseDayOfMonth(s.Day)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d %d * *", minute, hour, dom), nil
	}
	return "", fmt.Errorf("%w: unsupported frequency %q", ErrValidation, s.Frequency)
}

func parseClock(value string) (int, int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, 0, nil
	}

	hh, mm, ok := strings.Cut(trimmed, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: time %q must be HH:MM", ErrValidation, value)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: invalid hour in %q", ErrValidation, value)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: invalid minute in %q", ErrValidation, value)
	}
	return hour, minute, nil
}

func parseWeekday(value string) (int, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return weekdays["monday"], nil
	}
	dow, ok := weekdays[normalized]
	if !ok {
		return 0, fmt.Errorf("%w: invalid weekday %q", ErrValidation, value)
	}
	return dow, nil
}

func parseDayOfMonth(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 1, nil
	}
	day, err := strconv.Atoi(trimmed)
	if err != nil || day < 1 || day > 31 {
		return 0, fmt.Errorf("%w: invalid day of month %q", ErrValidation, value)
	}
	return day, nil
}

// BatchTypeConfig is the raw batch_type block of a job config.
type BatchTypeConfig struct {
	ProcessingMethod string `json:"processing_method,omitempty"`
	DataSourceType   string `json:"data_source_type,omitempty"`
}

func (c BatchTypeConfig) IsEmpty() bool {
	return strings.TrimSpace(c.ProcessingMethod) == "" && strings.TrimSpace(c.DataSourceType) == ""
}

func (c BatchTypeConfig) String() string {
	return strings.TrimSpace(c.ProcessingMethod) + "_" + strings.TrimSpace(c.DataSourceType)
}

func BatchTypeConfigFrom(bt BatchType) BatchTypeConfig {
	return BatchTypeConfig{
		ProcessingMethod: bt.ProcessingMethod().String(),
		DataSourceType:   bt.DataSourceType().String(),
	}
}

// JobConfig is a statically configured batch job.
type JobConfig struct {
	JobID      string           `json:"job_id" validate:"required"`
	Schedule   Schedule         `json:"schedule"`
	BatchType  BatchTypeConfig  `json:"batch_type"`
	TemplateID string           `json:"template_id,omitempty"`
	Filters    map[string]any   `json:"filters,omitempty"`
	Categories []map[string]any `json:"categories,omitempty"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
}

// ResolveBatchType parses the configured batch type. Case and padding in the
// job file are forgiven; unknown halves are not.
func (j JobConfig) ResolveBatchType() (BatchType, error) {
	if j.BatchType.IsEmpty() {
		return BatchType{}, fmt.Errorf("%w: batch type not configured", ErrInvalidBatchType)
	}
	return ParseBatchType(NormalizeBatchType(j.BatchType.String()))
}

func (j JobConfig) Clone() JobConfig {
	c := j
	c.Filters = CloneMap(j.Filters)
	c.Metadata = CloneMap(j.Metadata)
	if j.Categories != nil {
		c.Categories = make([]map[string]any, len(j.Categories))
		for i := range j.Categories {
			c.Categories[i] = CloneMap(j.Categories[i])
		}
	}
	return c
}

// WithOverrides returns a copy of the job with params merged over it.
// Known keys replace their field (filters and metadata are merged key by key);
// any other key is stored in the copy's metadata.
func (j JobConfig) WithOverrides(params map[string]any) (JobConfig, error) {
	merged := j.Clone()
	if len(params) == 0 {
		return merged, nil
	}

	for key, value := range params {
		switch key {
		case "template_id":
			s, ok := value.(string)
			if !ok {
				return JobConfig{}, fmt.Errorf("%w: template_id override must be a string", ErrValidation)
			}
			merged.TemplateID = s
		case "batch_type":
			switch typed := value.(type) {
			case string:
				method, source, _ := strings.Cut(typed, "_")
				merged.BatchType = BatchTypeConfig{ProcessingMethod: method, DataSourceType: source}
			case map[string]any:
				method, _ := typed["processing_method"].(string)
				source, _ := typed["data_source_type"].(string)
				merged.BatchType = BatchTypeConfig{ProcessingMethod: method, DataSourceType: source}
			default:
				return JobConfig{}, fmt.Errorf("%w: batch_type override has unsupported type %T", ErrValidation, value)
			}
		case "filters":
			filters, ok := value.(map[string]any)
			if !ok {
				return JobConfig{}, fmt.Errorf("%w: filters override must be an object", ErrValidation)
			}
			if merged.Filters == nil {
				merged.Filters = make(map[string]any, len(filters))
			}
			for k, v := range filters {
				merged.Filters[k] = v
			}
		case "categories":
			categories, err := toCategoryList(value)
			if err != nil {
				return JobConfig{}, err
			}
			merged.Categories = categories
		case "metadata":
			metadata, ok := value.(map[string]any)
			if !ok {
				return JobConfig{}, fmt.Errorf("%w: metadata override must be an object", ErrValidation)
			}
			merged.Metadata = mergeInto(merged.Metadata, metadata)
		default:
			merged.Metadata = mergeInto(merged.Metadata, map[string]any{key: value})
		}
	}

	return merged, nil
}

func mergeInto(dst map[string]any, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func toCategoryList(value any) ([]map[string]any, error) {
	switch typed := value.(type) {
	case []map[string]any:
		return typed, nil
	case []any:
		out := make([]map[string]any, 0, len(typed))
		for _, raw := range typed {
			m, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: categories override entries must be objects", ErrValidation)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: categories override must be a list", ErrValidation)
}
