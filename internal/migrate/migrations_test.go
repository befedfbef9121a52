package migrate

import (
	"testing"

	"taskdeck/internal/db"
)

func TestMigrateIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := Migrate(conn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("second run: %v", err)
	}

	steps, err := loadMigrations()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	var recorded int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&recorded); err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	if recorded != len(steps) {
		t.Fatalf("recorded %d migrations, want %d", recorded, len(steps))
	}
}

func TestMigrateRecordsEachVersion(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	rows, err := conn.Query(`SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()
	last := 0
	for rows.Next() {
		var version int
		var name, appliedAt string
		if err := rows.Scan(&version, &name, &appliedAt); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if version <= last {
			t.Fatalf("versions out of order: %d after %d", version, last)
		}
		if name == "" || appliedAt == "" {
			t.Fatalf("incomplete record for version %d", version)
		}
		last = version
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if last == 0 {
		t.Fatal("no migrations recorded")
	}
}

func TestParseVersion(t *testing.T) {
	if _, err := parseVersion("init.sql"); err == nil {
		t.Fatal("expected error for unversioned name")
	}
	v, err := parseVersion("007_add_tags.sql")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v != 7 {
		t.Fatalf("version = %d, want 7", v)
	}
}
