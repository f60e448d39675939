package alerting

import (
	"context"
	"sync"
	"time"
)

// Throttled forwards at most one notification per reason within cooldown.
type Throttled struct {
	next     Notifier
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewThrottled wraps next with a per-reason cooldown.
func NewThrottled(next Notifier, cooldown time.Duration) *Throttled {
	return &Throttled{next: next, cooldown: cooldown, now: time.Now, last: make(map[string]time.Time)}
}

// Notify forwards note unless a notification with the same reason was sent
// within the cooldown. A failed delivery does not start the cooldown.
func (t *Throttled) Notify(ctx context.Context, note Notification) error {
	now := t.now()

	t.mu.Lock()
	if last, ok := t.last[note.Reason]; ok && now.Sub(last) < t.cooldown {
		t.mu.Unlock()
		return nil
	}
	t.last[note.Reason] = now
	t.mu.Unlock()

	if err := t.next.Notify(ctx, note); err != nil {
		t.mu.Lock()
		if t.last[note.Reason].Equal(now) {
			delete(t.last, note.Reason)
		}
		t.mu.Unlock()
		return err
	}
	return nil
}

var _ Notifier = (*Throttled)(nil)
