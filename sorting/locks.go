package sorting

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// Locks serialises sorts per guild. The bot's sort command and the hourly
// maintenance cycle share one instance.
type Locks struct {
	m *xsync.Map[string, *sync.Mutex]
}

func NewLocks() *Locks {
	return &Locks{m: xsync.NewMap[string, *sync.Mutex]()}
}

func (l *Locks) get(guildID string) *sync.Mutex {
	mu, _ := l.m.LoadOrStore(guildID, &sync.Mutex{})
	return mu
}

// Lock blocks until the guild is free and returns the unlock func.
func (l *Locks) Lock(guildID string) func() {
	mu := l.get(guildID)
	mu.Lock()
	return mu.Unlock
}

// TryLock takes the guild's lock only if nobody holds it.
func (l *Locks) TryLock(guildID string) (func(), bool) {
	mu := l.get(guildID)
	if !mu.TryLock() {
		return nil, false
	}
	return mu.Unlock, true
}
