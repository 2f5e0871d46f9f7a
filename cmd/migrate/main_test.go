package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestVersionFromFile(t *testing.T) {
	cases := []struct {
		name    string
		want    int64
		wantErr bool
	}{
		{"001_commitments.up.sql", 1, false},
		{"012_add_index.up.sql", 12, false},
		{"commitments.up.sql", 0, true},
		{"abc_commitments.up.sql", 0, true},
	}
	for _, tc := range cases {
		got, err := versionFromFile(tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tc.name, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestCollectMigrations_ordersByVersion(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"010_later.up.sql", "002_second.up.sql", "002_second.down.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	got, err := collectMigrations(dir)
	if err != nil {
		t.Fatalf("collectMigrations: %v", err)
	}
	if len(got) != 2 || got[0].file != "002_second.up.sql" || got[1].file != "010_later.up.sql" {
		t.Errorf("unexpected order: %+v", got)
	}
}

func TestCollectMigrations_rejectsDuplicateVersions(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"001_a.up.sql", "001_b.up.sql"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := collectMigrations(dir); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestCollectMigrations_repositorySchema(t *testing.T) {
	got, err := collectMigrations("../../migrations")
	if err != nil {
		t.Fatalf("collectMigrations: %v", err)
	}
	if len(got) == 0 || got[0].version != 1 {
		t.Errorf("expected 001_commitments first, got %+v", got)
	}
}
