package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	})
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if config.DatabasePath != "./chatclient.db" {
		t.Errorf("Expected DatabasePath './chatclient.db', got %s", config.DatabasePath)
	}
	if config.Slot != "default" {
		t.Errorf("Expected slot 'default', got %s", config.Slot)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Validation(t *testing.T) {
	valid := func() *Config { return DefaultConfig() }
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.DatabasePath = "" }},
		{"empty slot", func(c *Config) { c.Slot = "" }},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	c := &Config{DatabasePath: "/tmp/x.db"}
	want := "/tmp/x.db?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	if got := c.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestMigrationManager_AppliesInVersionOrder(t *testing.T) {
	db := openTestDB(t)
	source := fstest.MapFS{
		"002_add_column.sql": {Data: []byte(`ALTER TABLE things ADD COLUMN label TEXT;`)},
		"001_things.sql":     {Data: []byte(`CREATE TABLE things (id TEXT PRIMARY KEY);`)},
		"README.md":          {Data: []byte(`not a migration`)},
	}

	mgr := NewMigrationManager(db, source)
	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	versions, err := mgr.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions: %v", err)
	}
	if len(versions) != 2 || versions[0] != "001" || versions[1] != "002" {
		t.Errorf("versions = %v", versions)
	}

	// A second run is a no-op rather than re-running the ALTER.
	if err := mgr.ApplyMigrations(); err != nil {
		t.Errorf("second ApplyMigrations: %v", err)
	}
}

func TestMigrationManager_FailedMigrationIsNotRecorded(t *testing.T) {
	db := openTestDB(t)
	mgr := NewMigrationManager(db, fstest.MapFS{
		"001_broken.sql": {Data: []byte(`CREATE TABLE;`)},
	})
	if err := mgr.ApplyMigrations(); err == nil {
		t.Fatal("expected a syntax error")
	}
	versions, err := mgr.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions: %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("broken migration recorded: %v", versions)
	}
}

func TestMigrations_Embedded(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db, Migrations()).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	if err := NewSchemaValidator(db).Validate(); err != nil {
		t.Errorf("embedded schema does not validate: %v", err)
	}
}

func TestApplyPragmas(t *testing.T) {
	db := openTestDB(t)
	if err := ApplyPragmas(db); err != nil {
		t.Fatalf("ApplyPragmas: %v", err)
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}
