package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id INTEGER NOT NULL PRIMARY KEY,
            username TEXT NOT NULL UNIQUE,
            email TEXT NOT NULL UNIQUE,
            fullname TEXT NOT NULL DEFAULT '',
            password_hash TEXT,
            google_id TEXT UNIQUE,
            picture TEXT NOT NULL DEFAULT '',
            roles TEXT NOT NULL DEFAULT 'customer',
            created_at TIMESTAMP NOT NULL
        )`,
	`CREATE INDEX IF NOT EXISTS users_google_id_index ON users(google_id)`,
	`CREATE TABLE IF NOT EXISTS sessions (
            id TEXT NOT NULL PRIMARY KEY,
            expires_at TIMESTAMP,
            data TEXT NOT NULL DEFAULT '{}'
        )`,
	`CREATE INDEX IF NOT EXISTS sessions_expires_at_index ON sessions(expires_at)`,
}

func newSQLiteStore(path string) (*sqlStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling foreign keys: %w", err)
	}

	return newSQLStore(db, dialect{
		name:              "sqlite",
		serialize:         true,
		isUniqueViolation: sqliteUniqueViolation,
		schema:            sqliteSchema,
	})
}

func sqliteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
