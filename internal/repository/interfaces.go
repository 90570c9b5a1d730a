package repository

import (
	"context"
	"errors"

	"github.com/lalith-99/capyboard/internal/models"
)

// ErrMalformed marks a stored entry that could not be decoded. Implementations
// skip such entries in List and log them; they never fail the whole listing.
var ErrMalformed = errors.New("malformed record")

// RecordRepository is the durable home of message records.
//
// Every method takes ctx first: the backends do file, network or database I/O
// and the caller's request deadline should bound it.
type RecordRepository interface {
	// List returns every readable record, ascending by key.
	// Returns an empty slice (not nil) when there are none.
	List(ctx context.Context) ([]models.MessageRecord, error)

	// Put writes rec at rec.Key, replacing whatever is there.
	Put(ctx context.Context, rec models.MessageRecord) error

	// Create writes rec only if rec.Key is free. It reports false, nil when
	// the key is already occupied.
	Create(ctx context.Context, rec models.MessageRecord) (bool, error)

	// Delete removes the record at key. No-op if absent.
	Delete(ctx context.Context, key string) error
}

// Watcher is implemented by backends that can report changes made by other
// processes. Watch blocks until ctx is cancelled or the watch fails,
// calling onChange for every observed change (undebounced).
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// EnsureNonEmpty writes rec when the repository has no records at all.
// It reports whether a record was written.
func EnsureNonEmpty(ctx context.Context, repo RecordRepository, rec models.MessageRecord) (bool, error) {
	records, err := repo.List(ctx)
	if err != nil {
		return false, err
	}
	if len(records) > 0 {
		return false, nil
	}
	if err := repo.Put(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}
