package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const pgUniqueViolation = "23505"

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
            username TEXT NOT NULL UNIQUE,
            email TEXT NOT NULL UNIQUE,
            fullname TEXT NOT NULL DEFAULT '',
            password_hash TEXT,
            google_id TEXT UNIQUE,
            picture TEXT NOT NULL DEFAULT '',
            roles TEXT NOT NULL DEFAULT 'customer',
            created_at TIMESTAMPTZ NOT NULL
        )`,
	`CREATE TABLE IF NOT EXISTS sessions (
            id TEXT NOT NULL PRIMARY KEY,
            expires_at TIMESTAMPTZ,
            data JSONB NOT NULL DEFAULT '{}'::jsonb
        )`,
	`CREATE INDEX IF NOT EXISTS sessions_expires_at_index ON sessions(expires_at)`,
}

func newPostgresStore(dsn string) (*sqlStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(20 * time.Second)

	return newSQLStore(db, dialect{
		name:              "postgres",
		numbered:          true,
		isUniqueViolation: postgresUniqueViolation,
		schema:            postgresSchema,
	})
}

func postgresUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
