// Package repotest holds the behaviour every RecordRepository backend must share.
package repotest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalith-99/capyboard/internal/models"
	"github.com/lalith-99/capyboard/internal/repository"
)

// Run exercises repo, which must start empty.
func Run(t *testing.T, repo repository.RecordRepository) {
	t.Helper()
	ctx := context.Background()

	t.Run("empty list is not nil", func(t *testing.T) {
		records, err := repo.List(ctx)
		require.NoError(t, err)
		require.NotNil(t, records)
		assert.Empty(t, records)
	})

	t.Run("put then list ascending", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, models.MessageRecord{Key: "2026-01-15T11:00:00", Content: "second", BackgroundID: "night"}))
		require.NoError(t, repo.Put(ctx, models.MessageRecord{Key: "2026-01-15T10:00:00", Content: "first"}))

		records, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "2026-01-15T10:00:00", records[0].Key)
		assert.Equal(t, "first", records[0].Content)
		assert.Equal(t, "2026-01-15T11:00:00", records[1].Key)
		assert.Equal(t, "second", records[1].Content)
		assert.Equal(t, "night", records[1].BackgroundID)
	})

	t.Run("put replaces", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, models.MessageRecord{Key: "2026-01-15T10:00:00", Content: "replaced", BackgroundID: "fire"}))

		records, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "replaced", records[0].Content)
		assert.Equal(t, "fire", records[0].BackgroundID)
	})

	t.Run("create is exclusive", func(t *testing.T) {
		created, err := repo.Create(ctx, models.MessageRecord{Key: "2026-01-15T12:00:00", Content: "winner"})
		require.NoError(t, err)
		assert.True(t, created)

		created, err = repo.Create(ctx, models.MessageRecord{Key: "2026-01-15T12:00:00", Content: "loser"})
		require.NoError(t, err)
		assert.False(t, created)

		records, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "winner", records[2].Content)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "2026-01-15T12:00:00"))
		require.NoError(t, repo.Delete(ctx, "2026-01-15T12:00:00"), "deleting twice is a no-op")
		require.NoError(t, repo.Delete(ctx, "not-a-key"))

		records, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("ensure non-empty only writes once", func(t *testing.T) {
		wrote, err := repository.EnsureNonEmpty(ctx, repo, models.MessageRecord{Key: "2026-01-15T09:00:00", Content: "seed"})
		require.NoError(t, err)
		assert.False(t, wrote)

		for _, rec := range mustList(t, repo) {
			require.NoError(t, repo.Delete(ctx, rec.Key))
		}

		wrote, err = repository.EnsureNonEmpty(ctx, repo, models.MessageRecord{Key: "2026-01-15T09:00:00", Content: "seed"})
		require.NoError(t, err)
		assert.True(t, wrote)

		records := mustList(t, repo)
		require.Len(t, records, 1)
		assert.Equal(t, "seed", records[0].Content)
	})
}

func mustList(t *testing.T, repo repository.RecordRepository) []models.MessageRecord {
	t.Helper()
	records, err := repo.List(context.Background())
	require.NoError(t, err)
	return records
}
