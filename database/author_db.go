package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"penpreserve/models"
)

// UpsertAuthor refreshes the advisory display-name cache for an author.
func (s *Store) UpsertAuthor(ctx context.Context, author models.Author) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO authors (author_id, username, display_name, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(author_id) DO UPDATE SET
            username = excluded.username,
            display_name = CASE WHEN excluded.display_name != ''
                THEN excluded.display_name ELSE authors.display_name END,
            updated_at = excluded.updated_at`,
		author.ID, author.Username, author.DisplayName, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to upsert author %s: %w", author.ID, err)
	}
	return nil
}

// GetAuthor returns the cached names for an author, or nil if unknown.
func (s *Store) GetAuthor(ctx context.Context, authorID string) (*models.Author, error) {
	var a models.Author
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT author_id, username, display_name, updated_at FROM authors WHERE author_id = ?`,
		authorID).Scan(&a.ID, &a.Username, &a.DisplayName, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query author %s: %w", authorID, err)
	}
	a.UpdatedAt = fromMillis(updatedAt)
	return &a, nil
}
