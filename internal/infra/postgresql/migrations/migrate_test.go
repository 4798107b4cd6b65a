package migrations

import (
	"sort"
	"testing"
)

func TestMigrationsAreUniqueAndOrdered(t *testing.T) {
	t.Parallel()

	migrations := all()
	ids := make([]string, 0, len(migrations))
	seen := make(map[string]struct{}, len(migrations))
	for _, m := range migrations {
		if m.Migrate == nil || m.Rollback == nil {
			t.Fatalf("migration %s must define Migrate and Rollback", m.ID)
		}
		if _, dup := seen[m.ID]; dup {
			t.Fatalf("duplicate migration id %s", m.ID)
		}
		seen[m.ID] = struct{}{}
		ids = append(ids, m.ID)
	}

	if !sort.StringsAreSorted(ids) {
		t.Fatalf("migration ids = %v, want ascending order", ids)
	}
}
