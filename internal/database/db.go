package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
)

func NewDatabase(url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SetMaxIdleConns sets the maximum number of connections in the idle connection pool.
	db.SetMaxIdleConns(10)

	// SetMaxOpenConns sets the maximum number of open connections to the database.
	db.SetMaxOpenConns(100)

	// SetConnMaxLifetime sets the maximum amount of time a connection may be reused.
	db.SetConnMaxLifetime(time.Hour)

	log.Println("Connected to database successfully")

	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT 'default',
		image_file TEXT NOT NULL DEFAULT 'default',
		rank TEXT,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		is_tester BOOLEAN NOT NULL DEFAULT FALSE,
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		reg_time TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id BIGSERIAL PRIMARY KEY,
		kind TEXT NOT NULL CHECK (kind IN ('direct', 'self', 'group')),
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		secret TEXT NOT NULL,
		pair_key TEXT UNIQUE,
		last_time TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS members (
		conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (conversation_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS admins (
		id BIGSERIAL PRIMARY KEY,
		conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		UNIQUE (conversation_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		text TEXT NOT NULL DEFAULT '',
		send_time TIMESTAMPTZ NOT NULL DEFAULT now(),
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		is_edited BOOLEAN NOT NULL DEFAULT FALSE,
		is_system BOOLEAN NOT NULL DEFAULT FALSE,
		system_type TEXT NOT NULL DEFAULT '',
		system_params JSONB,
		reply_to BIGINT,
		is_forwarded BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages (conversation_id, id DESC)`,
	`CREATE TABLE IF NOT EXISTS unread_marks (
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		PRIMARY KEY (user_id, message_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_unread_marks_user_conversation ON unread_marks (user_id, conversation_id)`,
}

// Migrate applies the schema. Statements are idempotent so the server can run
// it on every boot.
func Migrate(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	log.Println("Database migration completed")
	return nil
}
