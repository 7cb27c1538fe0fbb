package usage

import (
	"context"
	"sync"
)

// MemoryTracker keeps counters in process. Used by tests and single-node
// local runs.
type MemoryTracker struct {
	mu   sync.Mutex
	rows map[string]*Counter
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{rows: make(map[string]*Counter)}
}

func (m *MemoryTracker) row(userID, yearMonth string) *Counter {
	k := userID + "|" + yearMonth
	c, ok := m.rows[k]
	if !ok {
		c = &Counter{UserID: userID, YearMonth: yearMonth}
		m.rows[k] = c
	}
	return c
}

func (m *MemoryTracker) Get(_ context.Context, userID, yearMonth string) (Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.row(userID, yearMonth), nil
}

func (m *MemoryTracker) Increment(_ context.Context, userID, yearMonth string, meter Meter) (Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.row(userID, yearMonth)
	switch meter {
	case MeterA:
		c.CountA++
	case MeterB:
		c.CountB++
	default:
		return *c, ErrUnknownMeter
	}
	return *c, nil
}

// Set overwrites a counter. Intended for seeding.
func (m *MemoryTracker) Set(c Counter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.row(c.UserID, c.YearMonth) = c
}
