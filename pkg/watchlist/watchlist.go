// Package watchlist is the in-memory subscription store. All state is
// process-lifetime only; a single mutex gates every mutation so poll
// cycles never iterate a set that is changing under them.
package watchlist

import (
	"sort"
	"sync"

	"busalert/pkg/types"
)

type subKey struct {
	chatID    int64
	serviceNo string
}

type Store struct {
	mu     sync.Mutex
	byStop map[string]map[subKey]*types.Subscription
}

func New() *Store {
	return &Store{
		byStop: map[string]map[subKey]*types.Subscription{},
	}
}

// Add upserts a subscription. A duplicate triple replaces the existing
// entry, resetting its warned flag and miss count; it is never an error.
func (s *Store) Add(chatID int64, stopCode, serviceNo string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.byStop[stopCode]
	if subs == nil {
		subs = map[subKey]*types.Subscription{}
		s.byStop[stopCode] = subs
	}
	subs[subKey{chatID, serviceNo}] = &types.Subscription{
		ChatID:    chatID,
		StopCode:  stopCode,
		ServiceNo: serviceNo,
	}
}

// Remove deletes a subscription and reports whether it was present.
// Removing an absent triple is a no-op. The returned bool is the commit
// point for firing: whichever caller removes the entry owns its final
// notification.
func (s *Store) Remove(chatID int64, stopCode, serviceNo string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, ok := s.byStop[stopCode]
	if !ok {
		return false
	}
	key := subKey{chatID, serviceNo}
	if _, present := subs[key]; !present {
		return false
	}
	delete(subs, key)
	if len(subs) == 0 {
		delete(s.byStop, stopCode)
	}
	return true
}

// MarkWarned flips the warned flag, returning true only on the first
// flip while the subscription is still present.
func (s *Store) MarkWarned(chatID int64, stopCode, serviceNo string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.byStop[stopCode][subKey{chatID, serviceNo}]
	if sub == nil || sub.Warned {
		return false
	}
	sub.Warned = true
	return true
}

// RecordMiss bumps the consecutive-miss counter and returns the new
// count, or 0 if the subscription is gone.
func (s *Store) RecordMiss(chatID int64, stopCode, serviceNo string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.byStop[stopCode][subKey{chatID, serviceNo}]
	if sub == nil {
		return 0
	}
	sub.MissedCycles++
	return sub.MissedCycles
}

// ResetMisses clears the consecutive-miss counter after a sighting.
func (s *Store) ResetMisses(chatID int64, stopCode, serviceNo string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub := s.byStop[stopCode][subKey{chatID, serviceNo}]; sub != nil {
		sub.MissedCycles = 0
	}
}

// StopCodes returns the distinct stop codes with at least one active
// subscription, so the poll cycle fetches each stop exactly once.
func (s *Store) StopCodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes := make([]string, 0, len(s.byStop))
	for code := range s.byStop {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// ForStop returns a snapshot copy of the subscriptions on one stop.
// Mutating the store while a caller walks the snapshot is safe.
func (s *Store) ForStop(stopCode string) []types.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.byStop[stopCode]
	out := make([]types.Subscription, 0, len(subs))
	for _, sub := range subs {
		out = append(out, *sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChatID != out[j].ChatID {
			return out[i].ChatID < out[j].ChatID
		}
		return types.NaturalLess(out[i].ServiceNo, out[j].ServiceNo)
	})
	return out
}

// ListFor returns a snapshot of one recipient's subscriptions, ordered by
// stop code then service, for display.
func (s *Store) ListFor(chatID int64) []types.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Subscription
	for _, subs := range s.byStop {
		for _, sub := range subs {
			if sub.ChatID == chatID {
				out = append(out, *sub)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StopCode != out[j].StopCode {
			return out[i].StopCode < out[j].StopCode
		}
		return types.NaturalLess(out[i].ServiceNo, out[j].ServiceNo)
	})
	return out
}

// Len returns the total number of active subscriptions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, subs := range s.byStop {
		n += len(subs)
	}
	return n
}
