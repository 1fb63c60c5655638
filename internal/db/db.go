package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
            id SERIAL PRIMARY KEY,
            kind TEXT NOT NULL CHECK (kind IN ('direct', 'group', 'channel')),
            name TEXT NOT NULL DEFAULT '',
            owner_id INT NOT NULL,
            last_activity_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id SERIAL PRIMARY KEY,
            room_kind TEXT NOT NULL,
            room_id INT NOT NULL,
            sender_id INT NOT NULL,
            ciphertext BYTEA,
            iv BYTEA,
            tag BYTEA,
            cipher_version INT NOT NULL DEFAULT 0,
            preview TEXT NOT NULL DEFAULT '',
            media_ref TEXT,
            sticker TEXT,
            lat DOUBLE PRECISION,
            lng DOUBLE PRECISION,
            contact TEXT,
            reply_to_id INT,
            edited BOOLEAN NOT NULL DEFAULT FALSE,
            forwarded BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages (room_kind, room_id, id);`,
		`CREATE TABLE IF NOT EXISTS memberships (
            room_kind TEXT NOT NULL,
            room_id INT NOT NULL,
            user_id INT NOT NULL,
            role TEXT NOT NULL DEFAULT 'member',
            active BOOLEAN NOT NULL DEFAULT TRUE,
            last_seen_at TIMESTAMPTZ,
            cleared_at TIMESTAMPTZ,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (room_kind, room_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS room_state (
            room_kind TEXT NOT NULL,
            room_id INT NOT NULL,
            pinned_message_id INT,
            slow_mode_seconds INT NOT NULL DEFAULT 0,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (room_kind, room_id)
        );`,
		`CREATE TABLE IF NOT EXISTS room_bans (
            room_kind TEXT NOT NULL,
            room_id INT NOT NULL,
            user_id INT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (room_kind, room_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS room_mutes (
            room_kind TEXT NOT NULL,
            room_id INT NOT NULL,
            user_id INT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (room_kind, room_id, user_id)
        );`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Info().Msg("database migrations applied")
	return nil
}
