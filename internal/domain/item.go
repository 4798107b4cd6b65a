package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Item is a candidate unit of work: a user or a category record as returned
// by the resolving collaborator.
type Item map[string]any

var (
	userIDKeys     = []string{"id", "user_id", "userId"}
	categoryIDKeys = []string{"id", "category_id", "categoryId"}
	referenceKeys  = []string{"user_ids", "member_ids"}
)

// ID returns the identifier of the item for the given source kind.
func (i Item) ID(kind DataSourceType) (string, bool) {
	keys := userIDKeys
	if kind == SourceCategories {
		keys = categoryIDKeys
	}
	for _, key := range keys {
		if id, ok := stringify(i[key]); ok {
			return id, true
		}
	}
	return "", false
}

// TenantID returns the tenant attribution of the item, if any.
func (i Item) TenantID() string {
	for _, key := range []string{"tenant_id", "tenantId"} {
		if id, ok := stringify(i[key]); ok {
			return id
		}
	}
	return ""
}

// ReferencedUserIDs returns the user ids embedded in a category item under
// user_ids or member_ids, in order, without duplicates.
func (i Item) ReferencedUserIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, key := range referenceKeys {
		for _, raw := range toSlice(i[key]) {
			id, ok := stringify(raw)
			if !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

func (i Item) Clone() Item {
	return Item(CloneMap(map[string]any(i)))
}

func stringify(v any) (string, bool) {
	switch typed := v.(type) {
	case nil:
		return "", false
	case string:
		trimmed := strings.TrimSpace(typed)
		return trimmed, trimmed != ""
	case int:
		return strconv.Itoa(typed), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case fmt.Stringer:
		s := strings.TrimSpace(typed.String())
		return s, s != ""
	}
	return "", false
}

func toSlice(v any) []any {
	switch typed := v.(type) {
	case []any:
		return typed
	case []string:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = typed[i]
		}
		return out
	}
	return nil
}
