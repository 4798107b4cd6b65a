package domain

import (
	"fmt"
	"strings"
)

// ProcessingMethod selects how a batch's items are dispatched.
type ProcessingMethod string

const (
	ProcessingIndividual ProcessingMethod = "INDIVIDUAL"
	ProcessingBatch      ProcessingMethod = "BATCH"
)

func (m ProcessingMethod) String() string { return string(m) }

func (m ProcessingMethod) IsValid() bool {
	switch m {
	case ProcessingIndividual, ProcessingBatch:
		return true
	}
	return false
}

// DataSourceType selects where a batch's items come from.
type DataSourceType string

const (
	SourceUsers      DataSourceType = "USERS"
	SourceCategories DataSourceType = "CATEGORIES"
)

func (s DataSourceType) String() string { return string(s) }

func (s DataSourceType) IsValid() bool {
	switch s {
	case SourceUsers, SourceCategories:
		return true
	}
	return false
}

// BatchType is the dispatch policy of a batch: processing method x data source.
// The zero value is not a valid policy; build one with NewBatchType or
// ParseBatchType.
type BatchType struct {
	method ProcessingMethod
	source DataSourceType
}

// DefaultBatchType is the fallback callers may choose when a configured type
// is missing or malformed. ParseBatchType never returns it implicitly.
var DefaultBatchType = BatchType{method: ProcessingIndividual, source: SourceUsers}

// AllBatchTypes lists every valid dispatch policy.
func AllBatchTypes() []BatchType {
	return []BatchType{
		{method: ProcessingIndividual, source: SourceUsers},
		{method: ProcessingIndividual, source: SourceCategories},
		{method: ProcessingBatch, source: SourceUsers},
		{method: ProcessingBatch, source: SourceCategories},
	}
}

func NewBatchType(method ProcessingMethod, source DataSourceType) (BatchType, error) {
	if !method.IsValid() {
		return BatchType{}, fmt.Errorf("%w: unknown processing method %q", ErrInvalidBatchType, method)
	}
	if !source.IsValid() {
		return BatchType{}, fmt.Errorf("%w: unknown data source type %q", ErrInvalidBatchType, source)
	}
	return BatchType{method: method, source: source}, nil
}

// ParseBatchType parses the canonical METHOD_SOURCE form, e.g. INDIVIDUAL_USERS.
// The input is split on the first underscore and both halves must be valid.
// Parsing is exact: case and surrounding whitespace are not forgiven. Callers
// reading operator input canonicalize it with NormalizeBatchType first.
func ParseBatchType(s string) (BatchType, error) {
	method, source, ok := strings.Cut(s, "_")
	if !ok {
		return BatchType{}, fmt.Errorf("%w: %q is not in METHOD_SOURCE form", ErrInvalidBatchType, s)
	}
	return NewBatchType(ProcessingMethod(method), DataSourceType(source))
}

// NormalizeBatchType trims and upper-cases a batch type written by an operator
// or API client.
func NormalizeBatchType(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func (b BatchType) ProcessingMethod() ProcessingMethod { return b.method }

func (b BatchType) DataSourceType() DataSourceType { return b.source }

func (b BatchType) IsZero() bool { return b.method == "" && b.source == "" }

func (b BatchType) IsIndividual() bool { return b.method == ProcessingIndividual }

func (b BatchType) String() string {
	if b.IsZero() {
		return ""
	}
	return string(b.method) + "_" + string(b.source)
}

func (b BatchType) MarshalText() ([]byte, error) {
	if b.IsZero() {
		return nil, fmt.Errorf("%w: zero value", ErrInvalidBatchType)
	}
	return []byte(b.String()), nil
}

func (b *BatchType) UnmarshalText(text []byte) error {
	parsed, err := ParseBatchType(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
