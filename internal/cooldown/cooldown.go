// Package cooldown rate-limits chat commands per (chat, command kind).
package cooldown

import (
	"errors"
	"math"
	"sync"
	"time"
)

// ErrInFlight is returned by Begin while another invocation holds the key.
var ErrInFlight = errors.New("cooldown: invocation already in flight")

// Default windows.
const (
	DefaultBroadcastWindow = 30 * time.Second
	DefaultMentionWindow   = 5 * time.Second
)

// Key identifies a cooldown slot.
type Key struct {
	ChatID string
	Kind   string
}

// Tracker records the last successful use of each key. Windows are looked
// up per kind on every check, so stale entries are harmless until reaped.
type Tracker struct {
	mu       sync.Mutex
	last     map[Key]time.Time
	inFlight map[Key]bool
	windows  map[string]time.Duration
	fallback time.Duration
	now      func() time.Time
}

// TrackerOpts holds parameters for creating a Tracker.
type TrackerOpts struct {
	Windows  map[string]time.Duration // window per command kind
	Fallback time.Duration            // window for kinds not in Windows
	Now      func() time.Time         // defaults to time.Now
}

// NewTracker creates a Tracker.
func NewTracker(opts TrackerOpts) *Tracker {
	windows := make(map[string]time.Duration, len(opts.Windows))
	for k, v := range opts.Windows {
		windows[k] = v
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		last:     make(map[Key]time.Time),
		inFlight: make(map[Key]bool),
		windows:  windows,
		fallback: opts.Fallback,
		now:      now,
	}
}

// Window returns the cooldown window for kind.
func (t *Tracker) Window(kind string) time.Duration {
	if w, ok := t.windows[kind]; ok {
		return w
	}
	return t.fallback
}

// Check returns the whole seconds left before kind may run again in chatID,
// rounded up. Zero means the command is permitted.
func (t *Tracker) Check(chatID, kind string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingLocked(Key{ChatID: chatID, Kind: kind})
}

// Mark records that kind was used in chatID now. Timestamps never move
// backwards.
func (t *Tracker) Mark(chatID, kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markLocked(Key{ChatID: chatID, Kind: kind})
}

// Begin reserves the key for one invocation. It fails with the remaining
// seconds when the window has not elapsed, or with ErrInFlight when another
// invocation holds the reservation. The caller must Commit after a
// successful send or Release otherwise.
func (t *Tracker) Begin(chatID, kind string) (*Ticket, int, error) {
	key := Key{ChatID: chatID, Kind: kind}
	t.mu.Lock()
	defer t.mu.Unlock()
	if remaining := t.remainingLocked(key); remaining > 0 {
		return nil, remaining, nil
	}
	if t.inFlight[key] {
		return nil, 0, ErrInFlight
	}
	t.inFlight[key] = true
	return &Ticket{tracker: t, key: key}, 0, nil
}

// Reap drops entries whose window has long passed and returns how many
// were removed.
func (t *Tracker) Reap(olderThan time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	removed := 0
	for k, ts := range t.last {
		if now.Sub(ts) > t.Window(k.Kind)+olderThan {
			delete(t.last, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}

func (t *Tracker) remainingLocked(key Key) int {
	ts, ok := t.last[key]
	if !ok {
		return 0
	}
	left := ts.Add(t.Window(key.Kind)).Sub(t.now())
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

func (t *Tracker) markLocked(key Key) {
	now := t.now()
	if prev, ok := t.last[key]; ok && now.Before(prev) {
		return
	}
	t.last[key] = now
}

// Ticket is a reservation returned by Begin.
type Ticket struct {
	tracker *Tracker
	key     Key
	once    sync.Once
}

// Commit marks the key as used and releases the reservation.
func (tk *Ticket) Commit() {
	tk.once.Do(func() {
		tk.tracker.mu.Lock()
		defer tk.tracker.mu.Unlock()
		tk.tracker.markLocked(tk.key)
		delete(tk.tracker.inFlight, tk.key)
	})
}

// Release drops the reservation without consuming the window. It is a
// no-op after Commit.
func (tk *Ticket) Release() {
	tk.once.Do(func() {
		tk.tracker.mu.Lock()
		defer tk.tracker.mu.Unlock()
		delete(tk.tracker.inFlight, tk.key)
	})
}
