package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lalith-99/capyboard/internal/models"
	"github.com/lalith-99/capyboard/internal/slot"
)

// ChangeChannel is the LISTEN/NOTIFY channel every write announces itself on.
const ChangeChannel = "board_messages_changed"

type RecordStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewRecordStore(pool *pgxpool.Pool, logger *zap.Logger) *RecordStore {
	return &RecordStore{pool: pool, logger: logger.Named("postgres")}
}

func (s *RecordStore) List(ctx context.Context) ([]models.MessageRecord, error) {
	// slot is text in canonical key form, so ORDER BY slot is time order.
	query := `
		SELECT slot, message, background_id
		FROM board_messages
		ORDER BY slot ASC`

	rows, err := s.pool.Query(ctx, query)
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

func (s *RecordStore) Put(ctx context.Context, rec models.MessageRecord) error {
	// The notify rides on the same statement so a listener can never see the
	// announcement before the row.
	query := `
		WITH upsert AS (
			INSERT INTO board_messages (slot, message, background_id, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (slot) DO UPDATE
				SET message = EXCLUDED.message,
				    background_id = EXCLUDED.background_id,
				    updated_at = now()
			RETURNING slot
		)
		SELECT pg_notify($4, slot) FROM upsert`

	if _, err := s.pool.Exec(ctx, query, rec.Key, rec.Content, rec.BackgroundID, ChangeChannel); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func (s *RecordStore) Create(ctx context.Context, rec models.MessageRecord) (bool, error) {
	query := `
		WITH inserted AS (
			INSERT INTO board_messages (slot, message, background_id, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (slot) DO NOTHING
			RETURNING slot
		)
		SELECT pg_notify($4, slot) FROM inserted`

	tag, err := s.pool.Exec(ctx, query, rec.Key, rec.Content, rec.BackgroundID, ChangeChannel)
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *RecordStore) Delete(ctx context.Context, key string) error {
	if !slot.Valid(key) {
		return nil
	}
	query := `
		WITH deleted AS (
			DELETE FROM board_messages WHERE slot = $1 RETURNING slot
		)
		SELECT pg_notify($2, slot) FROM deleted`

	if _, err := s.pool.Exec(ctx, query, key, ChangeChannel); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// Watch holds one pooled connection in LISTEN mode until ctx ends.
func (s *RecordStore) Watch(ctx context.Context, onChange func()) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.logger.Info("listening for record changes", zap.String("channel", ChangeChannel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		s.logger.Debug("record change notification", zap.String("slot", n.Payload))
		onChange()
	}
}
