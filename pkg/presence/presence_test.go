package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/huddle/pkg/protocol"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func typing(id string, on bool) protocol.TypingStatus {
	return protocol.TypingStatus{Header: protocol.Header{Type: protocol.TypeTypingStatus, Identifier: id}, IsTyping: on}
}

func TestTrackerStartStop(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	var changes [][]Typer
	tr := NewTracker("me@example.com", DefaultConfig(), WithClock(clock.Now), WithOnChange(func(ts []Typer) {
		changes = append(changes, ts)
	}))

	require.True(t, tr.Apply(typing("bob@example.com", true)))
	require.False(t, tr.Apply(typing("bob@example.com", true)), "refresh does not change the set")
	require.True(t, tr.IsTyping("bob@example.com"))
	require.Len(t, tr.Typers(), 1)

	require.True(t, tr.Apply(typing("bob@example.com", false)))
	require.Empty(t, tr.Typers())
	require.False(t, tr.Apply(typing("bob@example.com", false)))
	require.Len(t, changes, 2)
}

func TestTrackerIgnoresSelf(t *testing.T) {
	tr := NewTracker("Me@Example.com", DefaultConfig())
	require.False(t, tr.Apply(typing("me@example.com", true)))
	require.Empty(t, tr.Typers())
}

func TestTrackerTimesOutSilentTypers(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	tr := NewTracker("me", DefaultConfig(), WithClock(clock.Now))
	t0 := clock.Now()
	tr.Apply(typing("LAWYER", true))

	require.Empty(t, tr.Sweep(t0.Add(2000*time.Millisecond)))
	require.True(t, tr.IsTyping("LAWYER"))

	require.Equal(t, []string{"LAWYER"}, tr.Sweep(t0.Add(5000*time.Millisecond)))
	require.False(t, tr.IsTyping("LAWYER"))
}

func TestTrackerRefreshExtendsLifetime(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	tr := NewTracker("me", DefaultConfig(), WithClock(clock.Now))
	start := clock.Now()
	tr.Apply(typing("bob", true))
	clock.Advance(2500 * time.Millisecond)
	tr.Apply(typing("bob", true))

	require.Empty(t, tr.Sweep(start.Add(4000*time.Millisecond)))
	typers := tr.Typers()
	require.Len(t, typers, 1)
	require.Equal(t, start, typers[0].StartedAt)
	require.Equal(t, []string{"bob"}, tr.Sweep(start.Add(5500*time.Millisecond)))
}

func TestTrackerRunSweepsOnInterval(t *testing.T) {
	tr := NewTracker("me", Config{Timeout: 20 * time.Millisecond, SweepInterval: 5 * time.Millisecond})
	tr.Apply(typing("bob", true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	require.Eventually(t, func() bool { return !tr.IsTyping("bob") }, time.Second, 5*time.Millisecond)
}

func TestTrackerClear(t *testing.T) {
	tr := NewTracker("me", DefaultConfig())
	tr.Apply(typing("a", true))
	tr.Apply(typing("b", true))
	tr.Clear()
	require.Empty(t, tr.Typers())
}

type recorder struct {
	mu   sync.Mutex
	sent []bool
}

func (r *recorder) send(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, on)
	return nil
}

func (r *recorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.sent...)
}

func TestNotifierThrottlesTypingTrue(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	rec := &recorder{}
	n := NewNotifier(rec.send, Config{Throttle: time.Second, Debounce: time.Hour}, WithNotifierClock(clock.Now))
	defer n.Close()

	n.Keystroke()
	for i := 0; i < 5; i++ {
		clock.Advance(100 * time.Millisecond)
		n.Keystroke()
	}
	require.Equal(t, []bool{true}, rec.get())

	clock.Advance(600 * time.Millisecond)
	n.Keystroke()
	require.Equal(t, []bool{true, true}, rec.get())
}

func TestNotifierSendsStopAfterInactivity(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(rec.send, Config{Throttle: time.Second, Debounce: 20 * time.Millisecond})
	defer n.Close()

	n.Keystroke()
	require.Eventually(t, func() bool {
		got := rec.get()
		return len(got) == 2 && got[0] && !got[1]
	}, time.Second, 5*time.Millisecond)
}

func TestNotifierStopIsImmediate(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(rec.send, Config{Throttle: time.Second, Debounce: time.Hour})
	n.Stop()
	require.Empty(t, rec.get())

	n.Keystroke()
	n.Stop()
	require.Equal(t, []bool{true, false}, rec.get())

	n.Close()
	n.Keystroke()
	require.Equal(t, []bool{true, false}, rec.get())
}
