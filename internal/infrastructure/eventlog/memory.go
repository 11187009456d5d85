package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/kirillkom/statement-pipeline/internal/core/ports"
)

type memoryEntry struct {
	items   [][]byte
	expires time.Time
}

// Memory is an in-process event log. Every append refreshes the key's TTL and
// an expired key drops all of its pending events. A key only holds memory while
// it has unread events. It is safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	ttl       time.Duration
	entries   map[string]*memoryEntry
	wake      chan struct{}
	lastSweep time.Time
	now       func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]*memoryEntry),
		wake:    make(chan struct{}),
		now:     time.Now,
	}
}

func (m *Memory) Append(_ context.Context, statementID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweepLocked(now)

	entry, ok := m.liveLocked(statementID, now)
	if !ok {
		entry = &memoryEntry{}
		m.entries[statementID] = entry
	}
	entry.items = append(entry.items, append([]byte(nil), payload...))
	entry.expires = now.Add(m.ttl)

	// Wake every waiter; the ones with nothing to read go back to sleep.
	close(m.wake)
	m.wake = make(chan struct{})
	return nil
}

func (m *Memory) Pop(ctx context.Context, statementID string, wait time.Duration) ([]byte, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if entry, ok := m.liveLocked(statementID, m.now()); ok {
			head := entry.items[0]
			entry.items = entry.items[1:]
			if len(entry.items) == 0 {
				delete(m.entries, statementID)
			}
			m.mu.Unlock()
			return head, nil
		}
		wake := m.wake
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ports.ErrNoEvent
		case <-wake:
		}
	}
}

// liveLocked returns the key's entry when it still has unexpired events and
// drops it otherwise.
func (m *Memory) liveLocked(statementID string, now time.Time) (*memoryEntry, bool) {
	entry, ok := m.entries[statementID]
	if !ok {
		return nil, false
	}
	if len(entry.items) == 0 || now.After(entry.expires) {
		delete(m.entries, statementID)
		return nil, false
	}
	return entry, true
}

// sweepLocked drops keys nobody read before they expired. It walks the map at
// most once per TTL.
func (m *Memory) sweepLocked(now time.Time) {
	if now.Sub(m.lastSweep) < m.ttl {
		return
	}
	m.lastSweep = now
	for id, entry := range m.entries {
		if now.After(entry.expires) {
			delete(m.entries, id)
		}
	}
}

func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
