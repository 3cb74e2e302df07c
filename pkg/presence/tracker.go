package presence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/huddle/pkg/protocol"
)

const (
	DefaultTimeout       = 3000 * time.Millisecond
	DefaultSweepInterval = 2000 * time.Millisecond
	DefaultThrottle      = 1000 * time.Millisecond
	DefaultDebounce      = 2500 * time.Millisecond
)

// Config names every presence interval so tests can shrink them.
type Config struct {
	// Timeout expires an entry that was not refreshed for this long.
	Timeout time.Duration
	// SweepInterval is how often Run checks for expired entries.
	SweepInterval time.Duration
	// Throttle bounds outbound is_typing=true frames.
	Throttle time.Duration
	// Debounce is the local inactivity after which is_typing=false is sent.
	Debounce time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:       DefaultTimeout,
		SweepInterval: DefaultSweepInterval,
		Throttle:      DefaultThrottle,
		Debounce:      DefaultDebounce,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.Throttle <= 0 {
		c.Throttle = d.Throttle
	}
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	return c
}

// Typer is a participant currently assumed to be typing.
type Typer struct {
	Identifier string
	Name       string
	AgentType  string
	StartedAt  time.Time
}

type entry struct {
	typer    Typer
	lastSeen time.Time
}

// Tracker maintains the set of identifiers currently typing. An identifier in
// the set is assumed to be typing until it is explicitly cleared or expires.
type Tracker struct {
	self string
	cfg  Config
	now  func() time.Time

	mu       sync.Mutex
	entries  map[string]*entry
	onChange func([]Typer)
}

type TrackerOption func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithOnChange registers the presence UI callback, called with the current
// typers whenever the set changes.
func WithOnChange(f func([]Typer)) TrackerOption {
	return func(t *Tracker) {
		t.onChange = f
	}
}

func NewTracker(self string, cfg Config, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		self:    self,
		cfg:     cfg.normalized(),
		now:     time.Now,
		entries: map[string]*entry{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) isSelf(identifier string) bool {
	return t.self != "" && strings.EqualFold(strings.TrimSpace(identifier), strings.TrimSpace(t.self))
}

// Apply folds one typing_status envelope into the set and reports whether the
// set changed. Envelopes from the local participant are ignored.
func (t *Tracker) Apply(ts protocol.TypingStatus) bool {
	id := strings.TrimSpace(ts.Identifier)
	if id == "" || t.isSelf(id) {
		return false
	}
	now := t.now()

	t.mu.Lock()
	changed := false
	if ts.IsTyping {
		if e, ok := t.entries[id]; ok {
			e.lastSeen = now
			if ts.Name != "" {
				e.typer.Name = ts.Name
			}
			if ts.AgentType != "" {
				e.typer.AgentType = ts.AgentType
			}
		} else {
			t.entries[id] = &entry{
				typer: Typer{
					Identifier: id,
					Name:       ts.Name,
					AgentType:  ts.AgentType,
					StartedAt:  now,
				},
				lastSeen: now,
			}
			changed = true
		}
	} else if _, ok := t.entries[id]; ok {
		delete(t.entries, id)
		changed = true
	}
	snapshot, cb := t.snapshotLocked(), t.onChange
	t.mu.Unlock()

	if changed && cb != nil {
		cb(snapshot)
	}
	return changed
}

// Sweep drops entries not refreshed within the timeout and returns their
// identifiers.
func (t *Tracker) Sweep(now time.Time) []string {
	t.mu.Lock()
	var expired []string
	for id, e := range t.entries {
		if now.Sub(e.lastSeen) >= t.cfg.Timeout {
			delete(t.entries, id)
			expired = append(expired, id)
		}
	}
	snapshot, cb := t.snapshotLocked(), t.onChange
	t.mu.Unlock()

	if len(expired) == 0 {
		return nil
	}
	sort.Strings(expired)
	log.Debug().Str("component", "presence").Strs("expired", expired).Msg("typing indicators timed out")
	if cb != nil {
		cb(snapshot)
	}
	return expired
}

// Run sweeps on the configured interval until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(t.now())
		}
	}
}

// Typers returns the current set ordered by start time.
func (t *Tracker) Typers() []Typer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) IsTyping(identifier string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[strings.TrimSpace(identifier)]
	return ok
}

// Clear empties the set, e.g. on disconnect.
func (t *Tracker) Clear() {
	t.mu.Lock()
	had := len(t.entries) > 0
	t.entries = map[string]*entry{}
	cb := t.onChange
	t.mu.Unlock()
	if had && cb != nil {
		cb(nil)
	}
}

func (t *Tracker) snapshotLocked() []Typer {
	if len(t.entries) == 0 {
		return nil
	}
	out := make([]Typer, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.typer)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Identifier < out[j].Identifier
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
