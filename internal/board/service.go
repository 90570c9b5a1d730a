// Package board is the message state engine: it resolves the active and
// scheduled messages from the record store, admits mutations, and tells the
// change notifier when state moved.
package board

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/capyboard/internal/models"
	"github.com/lalith-99/capyboard/internal/observ"
	"github.com/lalith-99/capyboard/internal/repository"
	"github.com/lalith-99/capyboard/internal/slot"
)

// Publisher is the change notifier as seen by the engine.
type Publisher interface {
	Notify()
	Subscribe(fn func()) (unsubscribe func())
}

type nopPublisher struct{}

func (nopPublisher) Notify() {}

func (nopPublisher) Subscribe(func()) func() { return func() {} }

// Service implements the state read/write contract used by the HTTP layer.
//
// It holds no record state of its own; every call re-reads the store, so
// several processes may share one store.
type Service struct {
	repo      repository.RecordRepository
	publisher Publisher
	validator Validator
	content   Content
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger
	metrics   *observ.Metrics
}

// Option configures a Service.
type Option func(*Service) error

func WithPublisher(p Publisher) Option {
	return func(s *Service) error {
		if p == nil {
			return fmt.Errorf("publisher cannot be nil")
		}
		s.publisher = p
		return nil
	}
}

func WithLocation(loc *time.Location) Option {
	return func(s *Service) error {
		if loc == nil {
			return fmt.Errorf("location cannot be nil")
		}
		s.loc = loc
		return nil
	}
}

// WithClock replaces time.Now, mainly for tests that move time forward.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		s.now = now
		return nil
	}
}

func WithContent(c Content) Option {
	return func(s *Service) error {
		if c.MaxLength <= 0 {
			return fmt.Errorf("max message length must be > 0, got %d", c.MaxLength)
		}
		if strings.TrimSpace(c.DefaultMessage) == "" {
			return fmt.Errorf("default message cannot be empty")
		}
		s.content = c
		return nil
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

func WithMetrics(m *observ.Metrics) Option {
	return func(s *Service) error {
		s.metrics = m
		return nil
	}
}

func NewService(repo repository.RecordRepository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("record repository is required")
	}
	s := &Service{
		repo:      repo,
		publisher: nopPublisher{},
		content:   DefaultContent(),
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if s.loc == nil {
		loc, err := slot.LoadLocation("")
		if err != nil {
			return nil, err
		}
		s.loc = loc
	}
	s.validator = NewValidator(s.loc)
	s.logger = s.logger.Named("board")
	return s, nil
}

// Location is the reference timezone keys are rendered in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// GetState resolves the current state. It never fails: store problems are
// logged and the best available state (at worst the placeholder) is returned.
func (s *Service) GetState(ctx context.Context) models.MessageState {
	now := s.now()

	seeded, err := repository.EnsureNonEmpty(ctx, s.repo, models.MessageRecord{
		Key:          slot.For(now, s.loc),
		Content:      s.content.DefaultMessage,
		BackgroundID: DefaultBackgroundID,
	})
	if err != nil {
		s.metrics.StorageError("seed")
		s.logger.Warn("failed to seed empty store", zap.Error(err))
	} else if seeded {
		s.logger.Info("seeded empty store with placeholder message")
	}

	records, err := s.repo.List(ctx)
	if err != nil {
		s.metrics.StorageError("list")
		s.logger.Error("failed to list records, serving placeholder", zap.Error(err))
		records = nil
	}
	return Resolve(slot.Now(now, s.loc), records, s.content)
}

// SetActiveMessage overwrites the slot for the current minute.
func (s *Service) SetActiveMessage(ctx context.Context, content, backgroundID string) (models.MessageState, error) {
	rec := models.MessageRecord{
		Key:          slot.For(s.now(), s.loc),
		Content:      s.content.Sanitize(content),
		BackgroundID: NormalizeBackground(backgroundID),
	}
	if err := s.repo.Put(ctx, rec); err != nil {
		s.metrics.StorageError("put")
		s.metrics.Mutation("edit", CodeStorage)
		return models.MessageState{}, newError(CodeStorage, "Unable to save message.", err)
	}

	s.logger.Info("active message saved", zap.String("slot", rec.Key), zap.String("background", rec.BackgroundID))
	s.metrics.Mutation("edit", "ok")
	s.publisher.Notify()
	return s.GetState(ctx), nil
}

// ScheduleMessage stores a message that becomes active at startAt.
func (s *Service) ScheduleMessage(ctx context.Context, content, startAt, backgroundID string) (models.MessageState, error) {
	state, err := s.schedule(ctx, content, startAt, backgroundID)
	if err != nil {
		s.metrics.Mutation("schedule", CodeOf(err))
		return models.MessageState{}, err
	}
	s.metrics.Mutation("schedule", "ok")
	return state, nil
}

func (s *Service) schedule(ctx context.Context, content, startAt, backgroundID string) (models.MessageState, error) {
	if strings.TrimSpace(startAt) == "" {
		return models.MessageState{}, ValidationError("`startAt` is required.")
	}

	records, err := s.repo.List(ctx)
	if err != nil {
		s.metrics.StorageError("list")
		return models.MessageState{}, newError(CodeStorage, "Unable to schedule message.", err)
	}

	key, err := s.validator.Check(startAt, s.now(), records)
	if err != nil {
		return models.MessageState{}, err
	}

	rec := models.MessageRecord{
		Key:          key,
		Content:      s.content.Sanitize(content),
		BackgroundID: NormalizeBackground(backgroundID),
	}
	// Create rather than Put: another request may have taken the slot
	// after the check above.
	created, err := s.repo.Create(ctx, rec)
	if err != nil {
		s.metrics.StorageError("create")
		return models.MessageState{}, newError(CodeStorage, "Unable to schedule message.", err)
	}
	if !created {
		return models.MessageState{}, newError(CodeSlotTaken, ErrSlotTaken.Message, nil)
	}

	s.logger.Info("message scheduled", zap.String("slot", key), zap.String("background", rec.BackgroundID))
	s.publisher.Notify()
	return s.GetState(ctx), nil
}

// DeleteSchedule removes the record with the given id. Unknown or
// malformed ids are not an error; the current state is returned.
func (s *Service) DeleteSchedule(ctx context.Context, id string) (models.MessageState, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		s.metrics.Mutation("delete", CodeValidation)
		return models.MessageState{}, ValidationError("`id` is required.")
	}
	if !slot.Valid(id) {
		s.metrics.Mutation("delete", "ok")
		return s.GetState(ctx), nil
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		s.metrics.StorageError("delete")
		s.metrics.Mutation("delete", CodeStorage)
		return models.MessageState{}, newError(CodeStorage, "Unable to delete message.", err)
	}

	s.logger.Info("scheduled message deleted", zap.String("slot", id))
	s.metrics.Mutation("delete", "ok")
	s.publisher.Notify()
	return s.GetState(ctx), nil
}

// Subscribe registers fn for change notifications.
func (s *Service) Subscribe(fn func()) (unsubscribe func()) {
	return s.publisher.Subscribe(fn)
}

// NextActivation returns the start of the soonest scheduled message.
func (s *Service) NextActivation(ctx context.Context) (time.Time, bool) {
	records, err := s.repo.List(ctx)
	if err != nil {
		s.metrics.StorageError("list")
		s.logger.Warn("failed to list records for activation timer", zap.Error(err))
		return time.Time{}, false
	}

	nowKey := slot.Now(s.now(), s.loc)
	for _, rec := range records {
		if rec.Key <= nowKey {
			continue
		}
		at, err := slot.ParseLatest(rec.Key, s.loc)
		if err != nil {
			continue
		}
		return at, true
	}
	return time.Time{}, false
}
