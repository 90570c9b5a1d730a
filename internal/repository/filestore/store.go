// Package filestore keeps one JSON file per record in a data directory.
//
// File names are "<key>.json". The directory is the table: listing it is a
// scan, and the file name is the primary key.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/lalith-99/capyboard/internal/models"
	"github.com/lalith-99/capyboard/internal/repository"
	"github.com/lalith-99/capyboard/internal/slot"
)

const fileExt = ".json"

// payload is the on-disk shape. Message is a pointer so that a missing or
// non-string "message" is told apart from an empty one.
type payload struct {
	Message      *string `json:"message"`
	BackgroundID string  `json:"backgroundId,omitempty"`
}

type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates dir if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dir: dir, logger: logger.Named("filestore")}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func keyFromName(name string) (string, bool) {
	key, found := strings.CutSuffix(name, fileExt)
	if !found || !slot.Valid(key) {
		return "", false
	}
	return key, true
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

func (s *Store) List(ctx context.Context) ([]models.MessageRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if key, ok := keyFromName(entry.Name()); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	records := make([]models.MessageRecord, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := s.read(key)
		if err != nil {
			// A file deleted between ReadDir and read is simply gone.
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("skipping unreadable record", zap.String("key", key), zap.Error(err))
			}
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) read(key string) (models.MessageRecord, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		return models.MessageRecord{}, err
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.MessageRecord{}, fmt.Errorf("%w: %v", repository.ErrMalformed, err)
	}
	if p.Message == nil {
		return models.MessageRecord{}, fmt.Errorf("%w: message is not a string", repository.ErrMalformed)
	}
	return models.MessageRecord{Key: key, Content: *p.Message, BackgroundID: p.BackgroundID}, nil
}

// writeTemp stages rec in a hidden temp file inside the data dir so the
// final rename or link stays on one filesystem.
func (s *Store) writeTemp(rec models.MessageRecord) (string, error) {
	content := rec.Content
	raw, err := json.MarshalIndent(payload{Message: &content, BackgroundID: rec.BackgroundID}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	f, err := os.CreateTemp(s.dir, ".record-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return name, nil
}

func (s *Store) Put(_ context.Context, rec models.MessageRecord) error {
	if !slot.Valid(rec.Key) {
		return fmt.Errorf("put record: invalid key %q", rec.Key)
	}
	tmp, err := s.writeTemp(rec)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path(rec.Key)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}

// Create hard-links a fully written temp file to the final name. link(2)
// fails with EEXIST when the name is taken, which makes slot acquisition
// atomic without a lock file.
func (s *Store) Create(_ context.Context, rec models.MessageRecord) (bool, error) {
	if !slot.Valid(rec.Key) {
		return false, fmt.Errorf("create record: invalid key %q", rec.Key)
	}
	tmp, err := s.writeTemp(rec)
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, s.path(rec.Key)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("link record: %w", err)
	}
	return true, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	if !slot.Valid(key) {
		return nil
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// Watch reports changes to record files in the data dir, including ones
// made by other processes. Temp files are ignored; their rename or link
// onto a record name produces the event that matters.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch data dir: %w", err)
	}
	s.logger.Info("watching data dir", zap.String("dir", s.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if _, isRecord := keyFromName(filepath.Base(event.Name)); !isRecord {
				continue
			}
			s.logger.Debug("record file event", zap.String("op", event.Op.String()), zap.String("file", event.Name))
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher: %w", err)
		}
	}
}
