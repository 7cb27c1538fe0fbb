// Package comps holds the filters applied to every mapped provider batch.
package comps

import (
	"strings"

	"github.com/yourorg/comps-api/internal/canon"
	"github.com/yourorg/comps-api/provider"
)

// Match says why a candidate was identified as the subject.
type Match int

const (
	MatchNone Match = iota
	MatchID
	MatchAddress
	// MatchContains is the containment heuristic: one normalized address
	// contains the other, which itself looks like a street line.
	MatchContains
)

func (m Match) String() string {
	switch m {
	case MatchID:
		return "id"
	case MatchAddress:
		return "address"
	case MatchContains:
		return "contains"
	}
	return "none"
}

// Classify compares a candidate with the subject. A matching property ID
// wins outright; otherwise normalized addresses are compared. Candidates
// that cannot be compared are never matched.
func Classify(c provider.Comp, subjectAddress, propertyID string) Match {
	if pid := strings.TrimSpace(propertyID); pid != "" {
		if cid := strings.TrimSpace(c.ID); cid != "" && cid == pid {
			return MatchID
		}
	}
	s := canon.Normalize(subjectAddress)
	a := canon.Normalize(c.Address)
	if s == "" || a == "" {
		return MatchNone
	}
	if s == a {
		return MatchAddress
	}
	short, long := s, a
	if len(short) > len(long) {
		short, long = long, short
	}
	if strings.Contains(long, short) && canon.IsStreetAddress(short) {
		return MatchContains
	}
	return MatchNone
}

func IsSubject(c provider.Comp, subjectAddress, propertyID string) bool {
	return Classify(c, subjectAddress, propertyID) != MatchNone
}

// Excluded is a candidate removed as the subject.
type Excluded struct {
	Comp  provider.Comp
	Match Match
}

// ExcludeSubject splits a batch into comps and subject matches.
func ExcludeSubject(in []provider.Comp, subjectAddress, propertyID string) (kept []provider.Comp, excluded []Excluded) {
	kept = make([]provider.Comp, 0, len(in))
	for _, c := range in {
		if m := Classify(c, subjectAddress, propertyID); m != MatchNone {
			excluded = append(excluded, Excluded{Comp: c, Match: m})
			continue
		}
		kept = append(kept, c)
	}
	return kept, excluded
}

// Dedupe drops repeated records of the same property, keeping the first.
// Records are keyed by normalized address, or by ID when the address
// normalizes to nothing.
func Dedupe(in []provider.Comp) []provider.Comp {
	seen := make(map[string]struct{}, len(in))
	out := make([]provider.Comp, 0, len(in))
	for _, c := range in {
		key := "a:" + canon.Normalize(c.Address)
		if key == "a:" {
			key = "i:" + strings.TrimSpace(c.ID)
		}
		if _, dup := seen[key]; dup && key != "i:" {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
