// Package sqlite is an embedded RecordRepository on database/sql with the
// mattn/go-sqlite3 driver (cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/lalith-99/capyboard/internal/models"
	"github.com/lalith-99/capyboard/internal/slot"
)

const schema = `
CREATE TABLE IF NOT EXISTS board_messages (
	slot          TEXT PRIMARY KEY,
	message       TEXT NOT NULL,
	background_id TEXT NOT NULL DEFAULT 'default',
	updated_at    TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (or creates) the database file at path and applies the schema.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create board_messages: %w", err)
	}
	return &Store{db: db, logger: logger.Named("sqlite")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) List(ctx context.Context) ([]models.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slot, message, background_id FROM board_messages ORDER BY slot ASC`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := make([]models.MessageRecord, 0)
	for rows.Next() {
		var rec models.MessageRecord
		if err := rows.Scan(&rec.Key, &rec.Content, &rec.BackgroundID); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if !slot.Valid(rec.Key) {
			s.logger.Warn("skipping record with malformed slot", zap.String("slot", rec.Key))
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func (s *Store) Put(ctx context.Context, rec models.MessageRecord) error {
	query := `
		INSERT INTO board_messages (slot, message, background_id, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (slot) DO UPDATE
			SET message = excluded.message,
			    background_id = excluded.background_id,
			    updated_at = CURRENT_TIMESTAMP`

	if _, err := s.db.ExecContext(ctx, query, rec.Key, rec.Content, rec.BackgroundID); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, rec models.MessageRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO board_messages (slot, message, background_id) VALUES (?, ?, ?)`,
		rec.Key, rec.Content, rec.BackgroundID)
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}
	return n == 1, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if !slot.Valid(key) {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM board_messages WHERE slot = ?`, key); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}
