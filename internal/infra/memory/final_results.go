package memory

import (
	"context"
	"sort"
	"sync"

	"offline-contest/internal/domain"
)

// FinalResultStore keeps final results in memory, one per (contest, user).
type FinalResultStore struct {
	mu      sync.RWMutex
	results map[string]domain.FinalResult
}

func NewFinalResultStore() *FinalResultStore {
	return &FinalResultStore{results: make(map[string]domain.FinalResult)}
}

// Save stores result and reports whether it was new. A repeat is ignored.
func (s *FinalResultStore) Save(_ context.Context, result domain.FinalResult) (bool, error) {
	key := result.ContestID + "/" + result.UserID
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[key]; ok {
		return false, nil
	}
	s.results[key] = result
	return true, nil
}

func (s *FinalResultStore) Leaderboard(_ context.Context, contestID string) ([]domain.FinalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.FinalResult
	for _, r := range s.results {
		if r.ContestID == contestID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalScore != out[j].TotalScore {
			return out[i].TotalScore > out[j].TotalScore
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}
