package migrations

import "testing"

func TestMigrationsAreOrderedAndUnique(t *testing.T) {
	migrations := GetMigrations()
	if len(migrations) == 0 {
		t.Fatal("Expected at least one migration")
	}

	seen := make(map[int]bool)
	last := 0
	for _, m := range migrations {
		if seen[m.Version] {
			t.Errorf("Duplicate migration version %d", m.Version)
		}
		seen[m.Version] = true

		if m.Version <= last {
			t.Errorf("Migration %d out of order (after %d)", m.Version, last)
		}
		last = m.Version

		if m.Description == "" {
			t.Errorf("Migration %d has no description", m.Version)
		}
		if m.SQL == "" {
			t.Errorf("Migration %d has no SQL", m.Version)
		}
	}
}
