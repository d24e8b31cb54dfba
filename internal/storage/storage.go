// Package storage defines the durable key-value contract shared by the
// contest runtime and the helpers that namespace and encode its records.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"offline-contest/internal/domain"
)

// Store is a durable string-keyed blob store. Get returns domain.ErrNotFound
// for absent keys. Remove ignores absent keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, keys ...string) error
}

// Global keys.
const (
	KeyLastConnectivity = "connectivity:last"
	KeyLastUser         = "identity:last_user"
	// KeyContestIndex lists the contests that hold participant records.
	KeyContestIndex = "identity:contests"
)

// Per-contest record names.
const (
	recPrepared    = "prepared"
	recPreparedAt  = "prepared_at"
	recProblems    = "problems"
	recContest     = "contest"
	recSession     = "session"
	recResults     = "results"
	recFinalResult = "final_result"
	recViolations  = "violations"
)

func contestKey(contestID, record string) string {
	return "contest:" + contestID + ":" + record
}

func PreparedKey(contestID string) string    { return contestKey(contestID, recPrepared) }
func PreparedAtKey(contestID string) string  { return contestKey(contestID, recPreparedAt) }
func ProblemsKey(contestID string) string    { return contestKey(contestID, recProblems) }
func ContestKey(contestID string) string     { return contestKey(contestID, recContest) }
func SessionKey(contestID string) string     { return contestKey(contestID, recSession) }
func ResultsKey(contestID string) string     { return contestKey(contestID, recResults) }
func FinalResultKey(contestID string) string { return contestKey(contestID, recFinalResult) }
func ViolationsKey(contestID string) string  { return contestKey(contestID, recViolations) }

// ParticipantKeys returns the keys of contestID that belong to the
// participant rather than to the downloaded contest.
func ParticipantKeys(contestID string) []string {
	return []string{SessionKey(contestID), ResultsKey(contestID), FinalResultKey(contestID), ViolationsKey(contestID)}
}

// TrackContest adds contestID to the contest index.
func TrackContest(ctx context.Context, s Store, contestID string) error {
	var ids []string
	if _, err := GetJSON(ctx, s, KeyContestIndex, &ids); err != nil {
		ids = nil
	}
	for _, id := range ids {
		if id == contestID {
			return nil
		}
	}
	return SetJSON(ctx, s, KeyContestIndex, append(ids, contestID))
}

// WipeParticipants removes the participant records of every indexed contest
// and of the extra contest ids, then drops the index. Downloaded contest data
// is kept.
func WipeParticipants(ctx context.Context, s Store, extra ...string) error {
	var ids []string
	if _, err := GetJSON(ctx, s, KeyContestIndex, &ids); err != nil {
		ids = nil
	}
	seen := make(map[string]struct{}, len(ids)+len(extra))
	keys := []string{KeyContestIndex}
	for _, id := range append(ids, extra...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, ParticipantKeys(id)...)
	}
	return s.Remove(ctx, keys...)
}

// GetJSON decodes the record at key into v. It reports false when the key is
// absent. A record that fails to decode is returned as an error so callers
// can decide whether to treat it as absent.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}
