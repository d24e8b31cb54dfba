package problems

import (
	"context"
	"errors"
	"fmt"

	"offline-contest/internal/domain"
	"offline-contest/internal/logging"
	"offline-contest/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ContestSource fetches a raw contest document from the contest store.
type ContestSource interface {
	FetchContest(ctx context.Context, contestID string) ([]byte, error)
}

// Reachability reports whether the network can be used right now.
type Reachability interface {
	PerformCheck(ctx context.Context) domain.ConnectivityStatus
}

// Resolver provides the normalized problem set of a contest, preferring the
// local cache so that it keeps working offline.
type Resolver struct {
	store  storage.Store
	source ContestSource
	reach  Reachability
	log    *zap.Logger
	sf     singleflight.Group
}

// NewResolver wires a resolver. A nil reach assumes the network is usable;
// a nil source disables remote fetching.
func NewResolver(store storage.Store, source ContestSource, reach Reachability, log *zap.Logger) *Resolver {
	return &Resolver{
		store:  store,
		source: source,
		reach:  reach,
		log:    logging.OrNop(log).Named("problems"),
	}
}

// Resolve returns the contest with its problems. Lookup order: cached problem
// list, cached contest payload, then the remote contest store when the
// network is reachable. Whatever is fetched or derived is cached.
func (r *Resolver) Resolve(ctx context.Context, contestID string) (domain.Contest, error) {
	contest, err := r.Cached(ctx, contestID)
	if err == nil {
		return contest, nil
	}
	if !errors.Is(err, domain.ErrContestNotFound) {
		return domain.Contest{}, err
	}

	if r.source == nil {
		return domain.Contest{}, fmt.Errorf("%w: %s", domain.ErrContestNotFound, contestID)
	}
	if r.reach != nil && !r.reach.PerformCheck(ctx).IsOnline {
		return domain.Contest{}, fmt.Errorf("%w: contest %s is not cached", domain.ErrOffline, contestID)
	}

	v, err, _ := r.sf.Do(contestID, func() (interface{}, error) {
		return r.fetch(ctx, contestID)
	})
	if err != nil {
		return domain.Contest{}, err
	}
	return v.(domain.Contest), nil
}

// Cached resolves from local storage only. It returns domain.ErrContestNotFound
// when neither a problem list nor a contest payload is cached.
func (r *Resolver) Cached(ctx context.Context, contestID string) (domain.Contest, error) {
	meta, hasPayload := r.cachedPayload(ctx, contestID)
	meta.ID = contestID

	var problems []domain.Problem
	found, err := storage.GetJSON(ctx, r.store, storage.ProblemsKey(contestID), &problems)
	if err != nil {
		r.log.Warn("cached problems unreadable, ignoring", zap.String("contest_id", contestID), zap.Error(err))
		found = false
	}
	if found && len(problems) > 0 {
		meta.Problems = problems
		return meta, nil
	}

	if hasPayload && len(meta.Problems) > 0 {
		if err := storage.SetJSON(ctx, r.store, storage.ProblemsKey(contestID), meta.Problems); err != nil {
			return domain.Contest{}, fmt.Errorf("cache problems: %w", err)
		}
		return meta, nil
	}
	return domain.Contest{}, fmt.Errorf("%w: %s", domain.ErrContestNotFound, contestID)
}

// Clear drops the cached problem list and contest payload.
func (r *Resolver) Clear(ctx context.Context, contestID string) error {
	return r.store.Remove(ctx, storage.ProblemsKey(contestID), storage.ContestKey(contestID))
}

func (r *Resolver) cachedPayload(ctx context.Context, contestID string) (domain.Contest, bool) {
	raw, err := r.store.Get(ctx, storage.ContestKey(contestID))
	if err != nil {
		return domain.Contest{}, false
	}
	contest, dropped, err := ParseContest(raw)
	if err != nil {
		r.log.Warn("cached contest payload unreadable, ignoring", zap.String("contest_id", contestID), zap.Error(err))
		return domain.Contest{}, false
	}
	r.logDropped(contestID, dropped)
	return contest, true
}

func (r *Resolver) fetch(ctx context.Context, contestID string) (domain.Contest, error) {
	raw, err := r.source.FetchContest(ctx, contestID)
	if err != nil {
		return domain.Contest{}, fmt.Errorf("fetch contest %s: %w", contestID, err)
	}
	contest, dropped, err := ParseContest(raw)
	if err != nil {
		return domain.Contest{}, err
	}
	r.logDropped(contestID, dropped)
	if len(contest.Problems) == 0 {
		return domain.Contest{}, fmt.Errorf("%w: %s", domain.ErrNoProblems, contestID)
	}
	contest.ID = contestID

	if err := r.store.Set(ctx, storage.ContestKey(contestID), raw); err != nil {
		return domain.Contest{}, fmt.Errorf("cache contest: %w", err)
	}
	if err := storage.SetJSON(ctx, r.store, storage.ProblemsKey(contestID), contest.Problems); err != nil {
		return domain.Contest{}, fmt.Errorf("cache problems: %w", err)
	}
	r.log.Info("contest cached", zap.String("contest_id", contestID), zap.Int("problems", len(contest.Problems)))
	return contest, nil
}

func (r *Resolver) logDropped(contestID string, dropped []error) {
	for _, err := range dropped {
		r.log.Warn("dropping malformed problem", zap.String("contest_id", contestID), zap.Error(err))
	}
}
