// Package usage tracks per-user monthly provider call counts.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Meter identifies one independently metered provider quota.
type Meter string

const (
	// MeterA is charged by the primary comparables provider.
	MeterA Meter = "a"
	// MeterB is shared by the secondary provider's valuation, listings and
	// property records endpoints.
	MeterB Meter = "b"
)

var ErrUnknownMeter = errors.New("unknown usage meter")

// Counter is the usage row for one user and calendar month.
type Counter struct {
	UserID    string `json:"userId"`
	YearMonth string `json:"yearMonth"`
	CountA    int    `json:"countA"`
	CountB    int    `json:"countB"`
}

func (c Counter) Count(m Meter) int {
	switch m {
	case MeterA:
		return c.CountA
	case MeterB:
		return c.CountB
	}
	return 0
}

// Tracker is implemented by every usage backend. Get creates a zeroed row
// when none exists. Increment must be atomic with respect to concurrent
// callers and returns the counter after the increment.
type Tracker interface {
	Get(ctx context.Context, userID, yearMonth string) (Counter, error)
	Increment(ctx context.Context, userID, yearMonth string, m Meter) (Counter, error)
}

// Limits are the monthly ceilings per meter.
type Limits struct {
	A int
	B int
}

var DefaultLimits = Limits{A: 100, B: 50}

func (l Limits) Limit(m Meter) int {
	switch m {
	case MeterA:
		return l.A
	case MeterB:
		return l.B
	}
	return 0
}

// Allows reports whether planned more calls fit under the meter's ceiling.
func (l Limits) Allows(c Counter, m Meter, planned int) bool {
	return c.Count(m)+planned <= l.Limit(m)
}

// Snapshot is the usage echo returned to callers.
type Snapshot struct {
	CountA int `json:"countA"`
	CountB int `json:"countB"`
	LimitA int `json:"limitA"`
	LimitB int `json:"limitB"`
}

// Snapshot caps the counts at their limits.
func (l Limits) Snapshot(c Counter) Snapshot {
	return Snapshot{
		CountA: min(c.CountA, l.A),
		CountB: min(c.CountB, l.B),
		LimitA: l.A,
		LimitB: l.B,
	}
}

// YearMonth formats t as the "2006-01" counter key in UTC.
func YearMonth(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// ParseMeter accepts "a"/"b" and the column style "provider_a".
func ParseMeter(s string) (Meter, error) {
	switch s {
	case "a", "A", "provider_a":
		return MeterA, nil
	case "b", "B", "provider_b":
		return MeterB, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMeter, s)
}
