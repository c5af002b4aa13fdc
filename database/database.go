package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import the SQLite3 driver
)

// Store is the durable persistence gateway for configs, backup records
// and checkpoints. sql.DB serializes concurrent access internally.
type Store struct {
	db *sql.DB
}

// InitDB opens (and creates if needed) the SQLite database at dbPath and
// ensures the schema exists.
func InitDB(dbPath string) (*Store, error) {
	// Ensure the directory for the database file exists.
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Println("Successfully connected to the database at", dbPath)
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS backup_configs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            guild_id TEXT NOT NULL,
            channel_id TEXT NOT NULL,
            thread_id TEXT NOT NULL DEFAULT '',
            author_id TEXT NOT NULL,
            title TEXT NOT NULL DEFAULT '',
            state TEXT NOT NULL DEFAULT 'enabling',
            initial_scan_done INTEGER NOT NULL DEFAULT 0,
            created_at INTEGER NOT NULL,
            last_checkpoint INTEGER NOT NULL DEFAULT 0,
            UNIQUE(guild_id, channel_id, thread_id, author_id)
        );`,
		`CREATE TABLE IF NOT EXISTS message_backups (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            config_id INTEGER NOT NULL,
            message_id TEXT NOT NULL,
            content TEXT NOT NULL DEFAULT '',
            posted_at INTEGER NOT NULL,
            backed_up INTEGER NOT NULL,
            pending_attachments TEXT NOT NULL DEFAULT '',
            UNIQUE(config_id, message_id),
            FOREIGN KEY (config_id) REFERENCES backup_configs (id)
        );`,
		`CREATE TABLE IF NOT EXISTS file_backups (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            message_backup_id INTEGER NOT NULL,
            original_filename TEXT NOT NULL,
            stored_filename TEXT NOT NULL,
            file_size INTEGER NOT NULL,
            source_url TEXT NOT NULL DEFAULT '',
            remote_path TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'uploaded',
            backed_up INTEGER NOT NULL,
            FOREIGN KEY (message_backup_id) REFERENCES message_backups (id)
        );`,
		`CREATE TABLE IF NOT EXISTS authors (
            author_id TEXT PRIMARY KEY,
            username TEXT NOT NULL DEFAULT '',
            display_name TEXT NOT NULL DEFAULT '',
            updated_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS bot_status (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            started_at INTEGER,
            stopped_at INTEGER,
            last_activity INTEGER
        );`,
		`CREATE INDEX IF NOT EXISTS idx_backup_configs_location ON backup_configs(guild_id, channel_id, thread_id);`,
		`CREATE INDEX IF NOT EXISTS idx_backup_configs_author ON backup_configs(author_id);`,
		`CREATE INDEX IF NOT EXISTS idx_message_backups_config ON message_backups(config_id);`,
		`CREATE INDEX IF NOT EXISTS idx_file_backups_message ON file_backups(message_backup_id);`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// toMillis converts a time to the stored millisecond representation.
// The zero time maps to 0.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// fromMillis is the inverse of toMillis.
func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
