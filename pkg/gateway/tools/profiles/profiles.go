// Package profiles stores per-user medication lists consulted by the
// interaction checker.
package profiles

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Store exposes the medication profile lookup used by the interaction
// checker. A missing profile means "no known medications", not an error.
type Store interface {
	Medications(ctx context.Context, userID string) ([]string, error)
	SetMedications(ctx context.Context, userID string, medications []string) error
}

// StaticStore is an in-memory Store for tests and database-less runs.
type StaticStore struct {
	mu       sync.RWMutex
	profiles map[string][]string
}

func NewStaticStore(seed map[string][]string) *StaticStore {
	s := &StaticStore{profiles: make(map[string][]string, len(seed))}
	for userID, meds := range seed {
		s.profiles[userID] = normalizeMedications(meds)
	}
	return s
}

func (s *StaticStore) Medications(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meds := s.profiles[strings.TrimSpace(userID)]
	out := make([]string, len(meds))
	copy(out, meds)
	return out, nil
}

func (s *StaticStore) SetMedications(_ context.Context, userID string, medications []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[strings.TrimSpace(userID)] = normalizeMedications(medications)
	return nil
}

func normalizeMedications(meds []string) []string {
	out := make([]string, 0, len(meds))
	seen := make(map[string]struct{}, len(meds))
	for _, m := range meds {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		key := strings.ToLower(m)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
