package store

import (
	"io/fs"
	"regexp"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrations, err := Migrations("")
	if err != nil {
		t.Fatalf("Migrations() error = %v", err)
	}
	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			t.Fatalf("unexpected file in migrations dir: %s", entry.Name())
		}
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}
	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestUpMigrationsSorted(t *testing.T) {
	migrations, err := Migrations("")
	if err != nil {
		t.Fatalf("Migrations() error = %v", err)
	}
	files, err := UpMigrations(migrations)
	if err != nil {
		t.Fatalf("UpMigrations() error = %v", err)
	}
	want := []string{
		"0001_review_sessions.up.sql",
		"0002_votes_comments.up.sql",
		"0003_decisions.up.sql",
	}
	if len(files) != len(want) {
		t.Fatalf("UpMigrations() = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("UpMigrations()[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}
