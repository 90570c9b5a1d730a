package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWatcher hands the notifier's callback to the test.
type fakeWatcher struct {
	onChange chan func()
	stopped  atomic.Bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{onChange: make(chan func(), 1)}
}

func (w *fakeWatcher) Watch(ctx context.Context, onChange func()) error {
	w.onChange <- onChange
	<-ctx.Done()
	w.stopped.Store(true)
	return nil
}

// fakeSource reports a settable next activation. Like the board, it only
// reports moments that are still in the future.
type fakeSource struct {
	mu sync.Mutex
	at time.Time
	ok bool
}

func (s *fakeSource) set(at time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.at, s.ok = at, ok
}

func (s *fakeSource) NextActivation(context.Context) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ok || !s.at.After(time.Now()) {
		return time.Time{}, false
	}
	return s.at, true
}

// staleSource always reports a moment that has already passed, the way a
// key in a repeated local hour does until the clock reaches it again.
type staleSource struct{}

func (staleSource) NextActivation(context.Context) (time.Time, bool) {
	return time.Now().Add(-time.Hour), true
}

func counter(n *Notifier) *atomic.Int32 {
	var c atomic.Int32
	n.Subscribe(func() { c.Add(1) })
	return &c
}

func TestNotify_CallsListenersInOrder(t *testing.T) {
	n, err := New()
	require.NoError(t, err)

	var mu sync.Mutex
	var calls []int
	record := func(id int) func() {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, id)
		}
	}
	unsub1 := n.Subscribe(record(1))
	n.Subscribe(record(2))
	n.Subscribe(record(3))
	assert.Equal(t, 3, n.ListenerCount())

	n.Notify()
	assert.Equal(t, []int{1, 2, 3}, calls)

	unsub1()
	unsub1()
	assert.Equal(t, 2, n.ListenerCount())

	n.Notify()
	assert.Equal(t, []int{1, 2, 3, 2, 3}, calls)
}

func TestNotify_ListenerMayUnsubscribeItself(t *testing.T) {
	n, err := New()
	require.NoError(t, err)

	var unsub func()
	var calls atomic.Int32
	unsub = n.Subscribe(func() {
		calls.Add(1)
		unsub()
	})

	n.Notify()
	n.Notify()
	assert.EqualValues(t, 1, calls.Load())
	assert.Zero(t, n.ListenerCount())
}

func TestNew_RejectsBadOptions(t *testing.T) {
	for name, opt := range map[string]Option{
		"zero debounce":   WithDebounce(0),
		"negative skew":   WithActivationSkew(-time.Second),
		"zero max delay":  WithMaxActivationDelay(0),
		"negative resync": WithResyncInterval(-time.Second),
		"nil clock":       WithClock(nil),
		"nil logger":      WithLogger(nil),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(opt)
			assert.Error(t, err)
		})
	}
}

func TestWatch_DebouncesBursts(t *testing.T) {
	w := newFakeWatcher()
	n, err := New(WithWatcher(w), WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	calls := counter(n)

	require.NoError(t, n.Start(context.Background(), nil))
	onChange := <-w.onChange

	for i := 0; i < 5; i++ {
		onChange()
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())

	n.Stop()
	assert.True(t, w.stopped.Load())

	// Changes reported after Stop go nowhere.
	onChange()
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestActivation_FiresAtScheduledTime(t *testing.T) {
	src := &fakeSource{}
	src.set(time.Now().Add(50*time.Millisecond), true)

	n, err := New(WithActivationSkew(10 * time.Millisecond))
	require.NoError(t, err)
	calls := counter(n)

	require.NoError(t, n.Start(context.Background(), src))
	defer n.Stop()

	assert.Zero(t, calls.Load())
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestActivation_RearmsOnNotify(t *testing.T) {
	src := &fakeSource{}
	src.set(time.Now().Add(time.Hour), true)

	n, err := New(WithActivationSkew(0))
	require.NoError(t, err)
	calls := counter(n)

	require.NoError(t, n.Start(context.Background(), src))
	defer n.Stop()

	// A new, sooner schedule arrives through a mutation.
	src.set(time.Now().Add(30*time.Millisecond), true)
	n.Notify()
	assert.EqualValues(t, 1, calls.Load())

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 10*time.Millisecond)
}

func TestActivation_ClampedDelayWaitsForTarget(t *testing.T) {
	src := &fakeSource{}
	src.set(time.Now().Add(200*time.Millisecond), true)

	n, err := New(WithActivationSkew(0), WithMaxActivationDelay(20*time.Millisecond))
	require.NoError(t, err)
	calls := counter(n)

	require.NoError(t, n.Start(context.Background(), src))
	defer n.Stop()

	// Several 20ms wakes pass before the target without notifying anyone.
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, calls.Load())

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestActivation_PastTargetDoesNotSpin(t *testing.T) {
	n, err := New()
	require.NoError(t, err)
	calls := counter(n)

	require.NoError(t, n.Start(context.Background(), staleSource{}))
	defer n.Stop()

	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, calls.Load())

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 20*time.Millisecond)
	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestActivation_StopCancelsTimer(t *testing.T) {
	src := &fakeSource{}
	src.set(time.Now().Add(50*time.Millisecond), true)

	n, err := New(WithActivationSkew(0))
	require.NoError(t, err)
	calls := counter(n)

	require.NoError(t, n.Start(context.Background(), src))
	n.Stop()

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestResync_Ticks(t *testing.T) {
	n, err := New(WithResyncInterval(20 * time.Millisecond))
	require.NoError(t, err)
	calls := counter(n)

	require.NoError(t, n.Start(context.Background(), nil))
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 10*time.Millisecond)
	n.Stop()

	after := calls.Load()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestStartStop_Lifecycle(t *testing.T) {
	n, err := New()
	require.NoError(t, err)

	n.Stop()
	require.NoError(t, n.Start(context.Background(), nil))
	assert.Error(t, n.Start(context.Background(), nil))
	n.Stop()
	n.Stop()

	// Restartable after a stop.
	require.NoError(t, n.Start(context.Background(), nil))
	n.Stop()
}

func TestActivationDelay(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	skew := 500 * time.Millisecond

	tests := []struct {
		name     string
		at       time.Time
		maxDelay time.Duration
		want     time.Duration
	}{
		{"future", now.Add(time.Second), MaxTimerDelay, 1500 * time.Millisecond},
		{"exactly now", now, MaxTimerDelay, time.Second},
		{"slightly past", now.Add(-200 * time.Millisecond), MaxTimerDelay, time.Second},
		{"long past", now.Add(-time.Hour), MaxTimerDelay, time.Second},
		{"past with small cap", now.Add(-time.Hour), 100 * time.Millisecond, 100 * time.Millisecond},
		{"beyond timer range", now.AddDate(500, 0, 0), MaxTimerDelay, MaxTimerDelay},
		{"custom cap", now.Add(time.Hour), 10 * time.Minute, 10 * time.Minute},
		{"cap applies after skew", now.Add(10 * time.Minute), 10 * time.Minute, 10 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ActivationDelay(tt.at, now, skew, tt.maxDelay))
		})
	}
}
