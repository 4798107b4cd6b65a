package service

import (
	"context"

	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultValidationConcurrency = 10

// ExistenceChecker reports whether a user or category exists upstream.
type ExistenceChecker interface {
	Exists(ctx context.Context, kind domain.DataSourceType, id string) (bool, error)
}

// ValidationResult partitions a candidate item set. Valid keeps the items
// themselves, in input order, so they can be handed to the execution engine.
type ValidationResult struct {
	Valid                  []domain.Item
	ValidIDs               []string
	InvalidIDs             []string
	ValidReferencedUsers   []string
	InvalidReferencedUsers []string
	Dropped                int
	// Interrupted is set when ctx ended before every id was checked. Ids left
	// unchecked are neither valid nor invalid.
	Interrupted bool
}

type ItemValidator struct {
	checker     ExistenceChecker
	concurrency int
	logger      *zap.Logger
}

func NewItemValidator(checker ExistenceChecker, concurrency int, logger *zap.Logger) *ItemValidator {
	if concurrency < 1 {
		concurrency = defaultValidationConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemValidator{
		checker:     checker,
		concurrency: concurrency,
		logger:      logger,
	}
}

type existenceKey struct {
	kind domain.DataSourceType
	id   string
}

// Validate checks every item (and, for categories, every embedded user
// reference) against the existence checker. Items without an id are dropped.
// A failed existence call marks the id invalid unless ctx has ended. The same
// id is checked once per call.
func (v *ItemValidator) Validate(ctx context.Context, items []domain.Item, kind domain.DataSourceType) ValidationResult {
	var result ValidationResult

	type candidate struct {
		item domain.Item
		id   string
		refs []string
	}

	candidates := make([]candidate, 0, len(items))
	keys := make([]existenceKey, 0, len(items))
	slots := make(map[existenceKey]int, len(items))
	addKey := func(key existenceKey) {
		if _, ok := slots[key]; ok {
			return
		}
		slots[key] = len(keys)
		keys = append(keys, key)
	}

	for idx, item := range items {
		id, ok := item.ID(kind)
		if !ok {
			result.Dropped++
			v.logger.Warn("dropping item without id",
				zap.Int("index", idx),
				zap.String("kind", kind.String()),
			)
			continue
		}

		c := candidate{item: item, id: id}
		addKey(existenceKey{kind: kind, id: id})
		if kind == domain.SourceCategories {
			c.refs = item.ReferencedUserIDs()
			for _, ref := range c.refs {
				addKey(existenceKey{kind: domain.SourceUsers, id: ref})
			}
		}
		candidates = append(candidates, c)
	}

	exists, checked := v.checkAll(ctx, keys)

	refSeen := make(map[string]struct{})
	for _, c := range candidates {
		slot := slots[existenceKey{kind: kind, id: c.id}]
		if !checked[slot] {
			result.Interrupted = true
			continue
		}
		if exists[slot] {
			result.Valid = append(result.Valid, c.item)
			result.ValidIDs = append(result.ValidIDs, c.id)
		} else {
			result.InvalidIDs = append(result.InvalidIDs, c.id)
		}

		for _, ref := range c.refs {
			if _, dup := refSeen[ref]; dup {
				continue
			}
			refSeen[ref] = struct{}{}
			refSlot := slots[existenceKey{kind: domain.SourceUsers, id: ref}]
			if !checked[refSlot] {
				result.Interrupted = true
				continue
			}
			if exists[refSlot] {
				result.ValidReferencedUsers = append(result.ValidReferencedUsers, ref)
			} else {
				result.InvalidReferencedUsers = append(result.InvalidReferencedUsers, ref)
			}
		}
	}

	return result
}

// checkAll returns, per key, whether it exists and whether the check
// completed. Checks cut short by ctx are reported as not completed.
func (v *ItemValidator) checkAll(ctx context.Context, keys []existenceKey) (exists, checked []bool) {
	exists = make([]bool, len(keys))
	checked = make([]bool, len(keys))
	if v.checker == nil {
		for i := range checked {
			checked[i] = true
		}
		return exists, checked
	}
	if len(keys) == 0 {
		return exists, checked
	}

	var g errgroup.Group
	g.SetLimit(v.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			ok, err := v.checker.Exists(ctx, key.kind, key.id)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			checked[i] = true
			if err != nil {
				v.logger.Warn("existence check failed, treating as invalid",
					zap.String("kind", key.kind.String()),
					zap.String("id", key.id),
					zap.Error(err),
				)
				return nil
			}
			exists[i] = ok
			return nil
		})
	}
	_ = g.Wait()

	return exists, checked
}
