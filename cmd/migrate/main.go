// Command migrate applies the SQL files under migrations/ in name order.
// Each file runs once, inside its own transaction, and is recorded in
// morsel_schema_migrations so re-runs only pick up new files.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

const ledgerDDL = `
CREATE TABLE IF NOT EXISTS morsel_schema_migrations (
    filename   TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func main() {
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	dir := "migrations"
	statusOnly := false
	for _, a := range os.Args[1:] {
		if a == "--status" {
			statusOnly = true
		} else {
			dir = a
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}

	if _, err := db.Exec(ledgerDDL); err != nil {
		log.Fatalf("migration ledger: %v", err)
	}

	applied, err := appliedSet(db)
	if err != nil {
		log.Fatalf("read ledger: %v", err)
	}
	files, err := sqlFiles(dir)
	if err != nil {
		log.Fatalf("read migrations dir %s: %v", dir, err)
	}

	if statusOnly {
		for _, f := range files {
			mark := "pending"
			if applied[f] {
				mark = "applied"
			}
			fmt.Printf("  %-40s %s\n", f, mark)
		}
		return
	}

	ran := 0
	for _, f := range files {
		if applied[f] {
			continue
		}
		if err := applyOne(db, dir, f); err != nil {
			log.Fatalf("  %s: %v", f, err)
		}
		fmt.Printf("  %s OK\n", f)
		ran++
	}
	if ran == 0 {
		log.Println("Schema up to date")
		return
	}
	log.Printf("Applied %d migrations", ran)
}

// applyOne runs one file and records it in the ledger inside the same
// transaction, so a failed statement leaves the file pending.
func applyOne(db *sql.DB, dir, name string) error {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(data)) == "" {
		return fmt.Errorf("file is empty")
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(string(data)); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("INSERT INTO morsel_schema_migrations (filename) VALUES ($1)", name); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func appliedSet(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT filename FROM morsel_schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		set[f] = true
	}
	return set, rows.Err()
}

func sqlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
