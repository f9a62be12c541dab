package repository

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// openTestDB backs the repositories with in-memory SQLite. The SQL in
// this package uses plain placeholders and parameterized times, so the
// production statements run unmodified here.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	schemas := []string{
		`CREATE TABLE reservations (
			id TEXT PRIMARY KEY,
			reservation_number TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			ticket_type_id TEXT NOT NULL,
			ticket_type_name TEXT NOT NULL,
			seat_section TEXT,
			seat_number TEXT,
			item_id TEXT,
			event_id TEXT NOT NULL,
			event_name TEXT NOT NULL,
			event_start DATETIME NOT NULL,
			event_end DATETIME NOT NULL,
			price_cents INTEGER NOT NULL,
			price_components TEXT NOT NULL,
			checked_in INTEGER NOT NULL DEFAULT 0,
			attended INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE transactions (
			id TEXT PRIMARY KEY,
			transaction_number TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			object TEXT NOT NULL,
			potential_actions TEXT,
			tasks_exported INTEGER NOT NULL DEFAULT 0,
			expires_at DATETIME NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,
	}
	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}
