// Package notify is the single publish point for board state changes.
//
// Four triggers feed it, each a fallback for the one before:
//
//  1. mutation: the engine calls Notify after every successful write.
//  2. watch: the record store reports out-of-band changes (another process,
//     a file dropped into the data dir); bursts are debounced.
//  3. activation: a one-shot timer armed for the soonest scheduled message,
//     because a message becomes active by the clock alone, with no write.
//  4. resync: an optional periodic tick that heals anything the others missed.
//
// Every trigger ends in the same path: re-arm the activation timer, then call
// each listener in registration order. Listeners get no payload; they re-read
// the resolved state themselves.
package notify

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/capyboard/internal/observ"
	"github.com/lalith-99/capyboard/internal/repository"
)

const (
	DefaultDebounce       = 100 * time.Millisecond
	DefaultActivationSkew = 500 * time.Millisecond
	// MaxTimerDelay is the longest delay a Go timer can represent.
	MaxTimerDelay = time.Duration(math.MaxInt64)

	watchRetryDelay = 5 * time.Second
)

const (
	TriggerMutation   = "mutation"
	TriggerWatch      = "watch"
	TriggerActivation = "activation"
	TriggerResync     = "resync"
)

// ActivationSource reports when the soonest scheduled message starts.
type ActivationSource interface {
	NextActivation(ctx context.Context) (time.Time, bool)
}

type listener struct {
	id uint64
	fn func()
}

type Notifier struct {
	watcher  repository.Watcher
	debounce time.Duration
	skew     time.Duration
	maxDelay time.Duration
	resync   time.Duration
	now      func() time.Time
	logger   *zap.Logger
	metrics  *observ.Metrics

	mu        sync.Mutex
	listeners []listener
	nextID    uint64

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	src     ActivationSource
	wg      sync.WaitGroup

	pending    *time.Timer
	pendingGen uint64

	activation    *time.Timer
	activationAt  time.Time
	activationGen uint64
}

// Option configures a Notifier.
type Option func(*Notifier) error

// WithWatcher attaches a store watcher; nil means the store has none.
func WithWatcher(w repository.Watcher) Option {
	return func(n *Notifier) error {
		n.watcher = w
		return nil
	}
}

func WithDebounce(d time.Duration) Option {
	return func(n *Notifier) error {
		if d <= 0 {
			return fmt.Errorf("debounce must be > 0, got %s", d)
		}
		n.debounce = d
		return nil
	}
}

func WithActivationSkew(d time.Duration) Option {
	return func(n *Notifier) error {
		if d < 0 {
			return fmt.Errorf("activation skew must be >= 0, got %s", d)
		}
		n.skew = d
		return nil
	}
}

func WithMaxActivationDelay(d time.Duration) Option {
	return func(n *Notifier) error {
		if d <= 0 {
			return fmt.Errorf("max activation delay must be > 0, got %s", d)
		}
		n.maxDelay = d
		return nil
	}
}

// WithResyncInterval enables the periodic fallback notify. Zero disables it.
func WithResyncInterval(d time.Duration) Option {
	return func(n *Notifier) error {
		if d < 0 {
			return fmt.Errorf("resync interval must be >= 0, got %s", d)
		}
		n.resync = d
		return nil
	}
}

func WithClock(now func() time.Time) Option {
	return func(n *Notifier) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		n.now = now
		return nil
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		n.logger = logger
		return nil
	}
}

func WithMetrics(m *observ.Metrics) Option {
	return func(n *Notifier) error {
		n.metrics = m
		return nil
	}
}

func New(opts ...Option) (*Notifier, error) {
	n := &Notifier{
		debounce: DefaultDebounce,
		skew:     DefaultActivationSkew,
		maxDelay: MaxTimerDelay,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	n.logger = n.logger.Named("notify")
	return n, nil
}

// Subscribe registers fn. The returned func removes it and may be called
// any number of times.
func (n *Notifier) Subscribe(fn func()) (unsubscribe func()) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.listeners = append(n.listeners, listener{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			for i, l := range n.listeners {
				if l.id == id {
					n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// ListenerCount returns the number of registered listeners.
func (n *Notifier) ListenerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

// Notify announces a change made through the engine.
func (n *Notifier) Notify() {
	n.fire(TriggerMutation)
}

func (n *Notifier) fire(trigger string) {
	n.metrics.Notification(trigger)
	n.rearm()

	n.mu.Lock()
	snapshot := make([]listener, len(n.listeners))
	copy(snapshot, n.listeners)
	n.mu.Unlock()

	for _, l := range snapshot {
		l.fn()
	}
}

// Start begins watching the store, arms the activation timer from src and
// starts the resync tick. It returns once everything is running.
func (n *Notifier) Start(ctx context.Context, src ActivationSource) error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return fmt.Errorf("notifier is already running")
	}
	n.running = true
	n.src = src
	n.ctx, n.cancel = context.WithCancel(ctx)
	runCtx := n.ctx
	n.mu.Unlock()

	if n.watcher != nil {
		n.wg.Add(1)
		go n.watchLoop(runCtx)
	}
	if n.resync > 0 {
		n.wg.Add(1)
		go n.resyncLoop(runCtx)
	}

	n.rearm()
	n.logger.Info("notifier started",
		zap.Bool("watching", n.watcher != nil),
		zap.Duration("debounce", n.debounce),
		zap.Duration("resync", n.resync),
	)
	return nil
}

// Stop cancels the watcher, the resync tick and any pending timers.
// Listeners stay registered. Calling Stop on a stopped Notifier is a no-op.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	n.cancel()
	if n.pending != nil {
		n.pending.Stop()
		n.pending = nil
	}
	n.pendingGen++
	n.stopActivationLocked()
	n.mu.Unlock()

	n.wg.Wait()
	n.logger.Info("notifier stopped")
}

func (n *Notifier) watchLoop(ctx context.Context) {
	defer n.wg.Done()
	for {
		err := n.watcher.Watch(ctx, n.changeObserved)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			n.logger.Warn("store watcher failed, retrying", zap.Error(err), zap.Duration("retry_in", watchRetryDelay))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(watchRetryDelay):
		}
	}
}

func (n *Notifier) resyncLoop(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.resync)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.fire(TriggerResync)
		}
	}
}

// changeObserved coalesces watcher events: only the last event of a burst
// closer together than the debounce window produces a notification.
func (n *Notifier) changeObserved() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return
	}
	if n.pending != nil {
		n.pending.Stop()
	}
	n.pendingGen++
	gen := n.pendingGen
	n.pending = time.AfterFunc(n.debounce, func() {
		n.mu.Lock()
		if gen != n.pendingGen || !n.running {
			n.mu.Unlock()
			return
		}
		n.pending = nil
		n.mu.Unlock()
		n.fire(TriggerWatch)
	})
}

// rearm points the activation timer at the soonest scheduled message,
// leaving it alone when that moment has not changed.
func (n *Notifier) rearm() {
	n.mu.Lock()
	if !n.running || n.src == nil {
		n.mu.Unlock()
		return
	}
	ctx, src := n.ctx, n.src
	n.mu.Unlock()

	at, ok := src.NextActivation(ctx)

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return
	}
	if !ok {
		n.stopActivationLocked()
		return
	}
	if n.activation != nil && at.Equal(n.activationAt) {
		return
	}

	n.stopActivationLocked()
	delay := ActivationDelay(at, n.now(), n.skew, n.maxDelay)
	gen := n.activationGen
	n.activationAt = at
	n.activation = time.AfterFunc(delay, func() { n.activate(gen) })
	n.logger.Debug("activation timer armed", zap.Time("at", at), zap.Duration("delay", delay))
}

func (n *Notifier) activate(gen uint64) {
	n.mu.Lock()
	if gen != n.activationGen || !n.running {
		n.mu.Unlock()
		return
	}
	at := n.activationAt
	n.activation = nil
	n.activationAt = time.Time{}
	n.activationGen++
	n.mu.Unlock()

	// A delay clamped to maxDelay wakes before the target. Nothing has
	// changed yet, so arm for the remaining time without notifying.
	if n.now().Before(at) {
		n.rearm()
		return
	}
	n.fire(TriggerActivation)
}

func (n *Notifier) stopActivationLocked() {
	if n.activation != nil {
		n.activation.Stop()
		n.activation = nil
	}
	n.activationAt = time.Time{}
	n.activationGen++
}

// minActivationRetry is the shortest wait for a target that is not in the
// future. A source may keep returning such a target, and each activation
// re-arms from it.
const minActivationRetry = time.Second

// ActivationDelay is how long to wait from now until at, plus skew so the
// refresh lands just after the boundary. The result is clamped to
// [0, maxDelay] without overflowing. A target at or before now waits
// max(skew, minActivationRetry), capped at maxDelay.
func ActivationDelay(at, now time.Time, skew, maxDelay time.Duration) time.Duration {
	d := at.Sub(now)
	if d <= 0 {
		return min(max(skew, minActivationRetry), maxDelay)
	}
	if d > maxDelay-skew {
		return maxDelay
	}
	return d + skew
}
