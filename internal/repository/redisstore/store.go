// Package redisstore keeps records in a single Redis hash and announces
// writes on a Pub/Sub channel.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalith-99/capyboard/internal/models"
	"github.com/lalith-99/capyboard/internal/slot"
)

const (
	DefaultHashKey = "capyboard:messages"
	changeSuffix   = ":changed"
)

type Store struct {
	client  *redis.Client
	hashKey string
	channel string
	logger  *zap.Logger
}

// NewStore uses hashKey (DefaultHashKey when empty) for the records and
// hashKey+":changed" for change announcements.
func NewStore(client *redis.Client, hashKey string, logger *zap.Logger) *Store {
	if hashKey == "" {
		hashKey = DefaultHashKey
	}
	return &Store{
		client:  client,
		hashKey: hashKey,
		channel: hashKey + changeSuffix,
		logger:  logger.Named("redis"),
	}
}

type payload struct {
	Message      *string `json:"message"`
	BackgroundID string  `json:"backgroundId,omitempty"`
}

func encode(rec models.MessageRecord) (string, error) {
	content := rec.Content
	raw, err := json.Marshal(payload{Message: &content, BackgroundID: rec.BackgroundID})
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return string(raw), nil
}

func (s *Store) List(ctx context.Context) ([]models.MessageRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall records: %w", err)
	}

	records := make([]models.MessageRecord, 0, len(fields))
	for key, raw := range fields {
		if !slot.Valid(key) {
			s.logger.Warn("skipping record with malformed key", zap.String("key", key))
			continue
		}
		var p payload
		if err := json.Unmarshal([]byte(raw), &p); err != nil || p.Message == nil {
			s.logger.Warn("skipping undecodable record", zap.String("key", key), zap.Error(err))
			continue
		}
		records = append(records, models.MessageRecord{Key: key, Content: *p.Message, BackgroundID: p.BackgroundID})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func (s *Store) Put(ctx context.Context, rec models.MessageRecord) error {
	value, err := encode(rec)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.hashKey, rec.Key, value)
		pipe.Publish(ctx, s.channel, rec.Key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("hset record: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, rec models.MessageRecord) (bool, error) {
	value, err := encode(rec)
	if err != nil {
		return false, err
	}
	created, err := s.client.HSetNX(ctx, s.hashKey, rec.Key, value).Result()
	if err != nil {
		return false, fmt.Errorf("hsetnx record: %w", err)
	}
	if created {
		s.announce(ctx, rec.Key)
	}
	return created, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if !slot.Valid(key) {
		return nil
	}
	removed, err := s.client.HDel(ctx, s.hashKey, key).Result()
	if err != nil {
		return fmt.Errorf("hdel record: %w", err)
	}
	if removed > 0 {
		s.announce(ctx, key)
	}
	return nil
}

// announce is best effort: the write already succeeded and the periodic
// resync covers a lost announcement.
func (s *Store) announce(ctx context.Context, key string) {
	if err := s.client.Publish(ctx, s.channel, key).Err(); err != nil {
		s.logger.Warn("publish change failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) Watch(ctx context.Context, onChange func()) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.logger.Info("subscribed to record changes", zap.String("channel", s.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.logger.Debug("record change message", zap.String("key", msg.Payload))
			onChange()
		}
	}
}
