package bot

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/puzpuzpuz/xsync/v4"
)

type waiter struct {
	match func(*discordgo.MessageReaction) bool
	done  chan struct{}
}

// Waiters lets a command block until someone reacts to one of its messages.
type Waiters struct {
	m *xsync.Map[string, *waiter]
}

func NewWaiters() *Waiters {
	return &Waiters{m: xsync.NewMap[string, *waiter]()}
}

// Wait blocks until a reaction on messageID satisfies match, the timeout
// passes or ctx ends. It reports whether a matching reaction arrived.
func (w *Waiters) Wait(ctx context.Context, messageID string, timeout time.Duration, match func(*discordgo.MessageReaction) bool) (bool, error) {
	wt := &waiter{match: match, done: make(chan struct{})}
	w.m.Store(messageID, wt)
	defer w.m.Delete(messageID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-wt.done:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Dispatch hands a reaction to the waiter on its message, if any.
func (w *Waiters) Dispatch(r *discordgo.MessageReaction) bool {
	wt, ok := w.m.Load(r.MessageID)
	if !ok || !wt.match(r) {
		return false
	}
	// a single waiter is woken once
	got, ok := w.m.LoadAndDelete(r.MessageID)
	if !ok {
		return false
	}
	close(got.done)
	return true
}

// Pending reports how many waits are in progress.
func (w *Waiters) Pending() int { return w.m.Size() }
