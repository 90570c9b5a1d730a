package postgres

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/capyboard/internal/db"
	"github.com/lalith-99/capyboard/internal/models"
	"github.com/lalith-99/capyboard/internal/repository/repotest"
)

// newTestStore connects to CAPYBOARD_TEST_DATABASE_URL and empties the table.
func newTestStore(t *testing.T) *RecordStore {
	t.Helper()
	url := os.Getenv("CAPYBOARD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CAPYBOARD_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	database, err := db.New(ctx, url, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(database.Close)

	require.NoError(t, database.Migrate(ctx))
	_, err = database.Pool().Exec(ctx, "TRUNCATE board_messages")
	require.NoError(t, err)

	return NewRecordStore(database.Pool(), zap.NewNop())
}

func TestRecordStore(t *testing.T) {
	repotest.Run(t, newTestStore(t))
}

func TestRecordStore_WatchSeesNotify(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events atomic.Int32
	go func() { _ = s.Watch(ctx, func() { events.Add(1) }) }()

	require.Eventually(t, func() bool {
		_ = s.Put(context.Background(), models.MessageRecord{Key: "2026-01-15T10:00:00", Content: "x"})
		return events.Load() > 0
	}, 5*time.Second, 100*time.Millisecond)
}
