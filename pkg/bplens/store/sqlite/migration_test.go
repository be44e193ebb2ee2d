package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

// TestSchemaCreationIdempotent tests that running initSchema multiple times is safe
func TestSchemaCreationIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open database: %v", err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		if err := initSchema(ctx, db); err != nil {
			t.Fatalf("initSchema iteration %d: %v", i, err)
		}
		if err := migrateKeywordColumns(ctx, db); err != nil {
			t.Fatalf("migrateKeywordColumns iteration %d: %v", i, err)
		}
	}

	for _, table := range []string{"topics", "posts", "blueprints", "blueprints_fts", "keyword_runs"} {
		var name string
		err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

// TestMigrationAddsKeywordColumns opens a database created before the topic
// keyword columns existed.
func TestMigrationAddsKeywordColumns(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "old.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	const legacy = `
CREATE TABLE blueprints (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	blueprint_url TEXT,
	blueprint_code TEXT,
	blueprint_hash TEXT UNIQUE NOT NULL,
	post_id TEXT,
	name TEXT,
	description TEXT,
	extracted_keywords TEXT
);
INSERT INTO blueprints (blueprint_code, blueprint_hash) VALUES ('a: 1', 'h1');
`
	if _, err := db.ExecContext(ctx, legacy); err != nil {
		t.Fatalf("create legacy schema: %v", err)
	}
	db.Close()

	st, err := OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()

	cols, err := tableColumns(ctx, st.(*sqliteStore).db, "blueprints")
	if err != nil {
		t.Fatal(err)
	}
	for _, col := range keywordColumns {
		if !cols[col] {
			t.Errorf("column %s was not added", col)
		}
	}

	bps, err := st.AllBlueprints(ctx)
	if err != nil {
		t.Fatalf("AllBlueprints: %v", err)
	}
	if len(bps) != 1 || bps[0].Code != "a: 1" {
		t.Fatalf("existing rows not preserved: %+v", bps)
	}
}

func TestMatchExpr(t *testing.T) {
	got, err := matchExpr(`motion "light"`)
	if err != nil {
		t.Fatal(err)
	}
	if want := `"motion" """light"""`; got != want {
		t.Errorf("matchExpr = %s, want %s", got, want)
	}
	if _, err := matchExpr("   "); err == nil {
		t.Error("expected error for blank query")
	}
}
