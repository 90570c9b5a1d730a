// Package stream keeps the registry of live viewer channels and pushes
// resolved board state to them.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalith-99/capyboard/internal/models"
	"github.com/lalith-99/capyboard/internal/observ"
)

const DefaultHeartbeatInterval = 15 * time.Second

// StateSource resolves the current board state. It must not fail.
type StateSource interface {
	GetState(ctx context.Context) models.MessageState
	Subscribe(fn func()) (unsubscribe func())
}

// Sink is one transport-specific viewer connection. The hub calls a sink
// from a single goroutine, so implementations need no locking.
type Sink interface {
	SendState(state models.MessageState) error
	SendHeartbeat() error
}

// Hub owns every open channel.
type Hub struct {
	source    StateSource
	heartbeat time.Duration
	logger    *zap.Logger
	metrics   *observ.Metrics

	mu       sync.Mutex
	channels map[uuid.UUID]*Channel
}

func NewHub(source StateSource, heartbeat time.Duration, logger *zap.Logger, metrics *observ.Metrics) *Hub {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &Hub{
		source:    source,
		heartbeat: heartbeat,
		logger:    logger.Named("stream"),
		metrics:   metrics,
		channels:  make(map[uuid.UUID]*Channel),
	}
}

// Count returns the number of open channels.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels)
}

// Serve registers sink and pushes to it until ctx is cancelled, a push
// fails, or the hub shuts down. It always leaves the channel Closed.
func (h *Hub) Serve(ctx context.Context, sink Sink) error {
	ch := h.open(ctx, sink)
	defer ch.Close()

	// Subscribe before the first push so a change landing in between is
	// not lost; at worst it causes one redundant push.
	unsubscribe := h.source.Subscribe(ch.signal)
	ch.onClose(unsubscribe)

	if err := ch.pushState(); err != nil {
		return err
	}

	ticker := time.NewTicker(h.heartbeat)
	ch.onClose(ticker.Stop)

	for {
		select {
		case <-ch.ctx.Done():
			return nil
		case <-ch.changed:
			if err := ch.pushState(); err != nil {
				return err
			}
		case <-ticker.C:
			err := ch.sink.SendHeartbeat()
			h.metrics.Push("heartbeat", err)
			if err != nil {
				return fmt.Errorf("push heartbeat: %w", err)
			}
		}
	}
}

// Shutdown closes every open channel. Serve calls blocked on them return.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	open := make([]*Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		open = append(open, ch)
	}
	h.mu.Unlock()

	for _, ch := range open {
		ch.Close()
	}
	h.logger.Info("stream hub shut down", zap.Int("closed", len(open)))
}

func (h *Hub) open(parent context.Context, sink Sink) *Channel {
	ctx, cancel := context.WithCancel(parent)
	ch := &Channel{
		ID:      uuid.New(),
		hub:     h,
		sink:    sink,
		ctx:     ctx,
		cancel:  cancel,
		changed: make(chan struct{}, 1),
	}

	h.mu.Lock()
	h.channels[ch.ID] = ch
	total := len(h.channels)
	h.mu.Unlock()

	h.metrics.SubscriberOpened()
	h.logger.Debug("channel opened", zap.String("channel", ch.ID.String()), zap.Int("total", total))
	return ch
}

func (h *Hub) remove(ch *Channel) {
	h.mu.Lock()
	delete(h.channels, ch.ID)
	total := len(h.channels)
	h.mu.Unlock()

	h.metrics.SubscriberClosed()
	h.logger.Debug("channel closed", zap.String("channel", ch.ID.String()), zap.Int("total", total))
}

// Channel is one viewer's push channel: Open until Close, then Closed for good.
type Channel struct {
	ID uuid.UUID

	hub     *Hub
	sink    Sink
	ctx     context.Context
	cancel  context.CancelFunc
	changed chan struct{}

	mu       sync.Mutex
	closed   bool
	cleanups []func()
}

// signal is the notifier listener. It never blocks: a pending signal
// already guarantees a fresh push.
func (c *Channel) signal() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func (c *Channel) pushState() error {
	state := c.hub.source.GetState(c.ctx)
	err := c.sink.SendState(state)
	c.hub.metrics.Push("state", err)
	if err != nil {
		return fmt.Errorf("push state: %w", err)
	}
	return nil
}

// onClose registers fn to run on Close, or runs it now if already closed.
func (c *Channel) onClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.cleanups = append(c.cleanups, fn)
	c.mu.Unlock()
}

// Closed reports whether the channel reached its terminal state.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close releases the listener, the heartbeat and the registry entry.
// Closing twice is a no-op.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cleanups := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	c.cancel()
	for _, fn := range cleanups {
		fn()
	}
	c.hub.remove(c)
}
