// Package preparation provisions everything a contest needs to run offline
// and publishes progress while doing it.
package preparation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"offline-contest/internal/domain"
	"offline-contest/internal/logging"
	"offline-contest/internal/observer"
	"offline-contest/internal/scheduler"
	"offline-contest/internal/storage"

	"go.uber.org/zap"
)

// Runtimes is the part of the execution sandbox preparation drives.
type Runtimes interface {
	WarmUp(ctx context.Context, lang domain.Language) error
}

// ProblemResolver resolves and caches a contest's problems.
type ProblemResolver interface {
	Resolve(ctx context.Context, contestID string) (domain.Contest, error)
	Clear(ctx context.Context, contestID string) error
}

type Pipeline struct {
	runtimes   Runtimes
	resolver   ProblemResolver
	store      storage.Store
	sched      scheduler.Scheduler
	stageDelay time.Duration
	log        *zap.Logger

	running  atomic.Bool
	progress *observer.Broadcaster[domain.PreparationProgress]
}

// DefaultStageDelay paces the stages so progress is visible.
const DefaultStageDelay = 300 * time.Millisecond

var idleProgress = domain.PreparationProgress{Stage: domain.StageIdle, Progress: 0, Message: "Not prepared"}

func NewPipeline(runtimes Runtimes, resolver ProblemResolver, store storage.Store, sched scheduler.Scheduler, stageDelay time.Duration, log *zap.Logger) *Pipeline {
	log = logging.OrNop(log).Named("preparation")
	return &Pipeline{
		runtimes:   runtimes,
		resolver:   resolver,
		store:      store,
		sched:      sched,
		stageDelay: stageDelay,
		log:        log,
		progress:   observer.New("preparation", idleProgress, log),
	}
}

type stage struct {
	phase   domain.Stage
	start   int
	done    int
	message string
	run     func(ctx context.Context, contestID string) (string, error)
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{domain.StageDownloading, 5, 20, "Preparing JavaScript runtime", p.warmJavaScript},
		{domain.StageDownloading, 25, 40, "Preparing Lua runtime", p.markLua},
		{domain.StagePreparing, 45, 70, "Loading contest problems", p.loadProblems},
		{domain.StagePreparing, 75, 90, "Initializing execution sandbox", p.initSandbox},
		{domain.StagePreparing, 92, 98, "Saving offline state", p.markPrepared},
	}
}

// PrepareContest runs all stages in order. It returns false immediately when
// another preparation is in flight, and false when a stage fails; progress
// then holds the error.
func (p *Pipeline) PrepareContest(ctx context.Context, contestID string) bool {
	if !p.running.CompareAndSwap(false, true) {
		p.log.Info("preparation already in progress", zap.String("contest_id", contestID))
		return false
	}
	defer p.running.Store(false)

	ok, err := p.runStages(ctx, contestID)
	if !ok {
		p.log.Error("preparation failed", zap.String("contest_id", contestID), zap.Error(err))
		p.progress.Publish(domain.PreparationProgress{
			Stage:    domain.StageError,
			Progress: 0,
			Message:  "Preparation failed",
			Details:  err.Error(),
		})
		return false
	}
	p.progress.Publish(domain.PreparationProgress{Stage: domain.StageReady, Progress: 100, Message: "Ready for offline contest"})
	p.log.Info("contest prepared", zap.String("contest_id", contestID))
	return true
}

func (p *Pipeline) runStages(ctx context.Context, contestID string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("preparation panic: %v", r)
		}
	}()

	for i, st := range p.stages() {
		p.progress.Publish(domain.PreparationProgress{Stage: st.phase, Progress: st.start, Message: st.message})
		details, err := st.run(ctx, contestID)
		if err != nil {
			return false, fmt.Errorf("%s: %w", st.message, err)
		}
		p.progress.Publish(domain.PreparationProgress{Stage: st.phase, Progress: st.done, Message: st.message, Details: details})
		p.log.Debug("stage done", zap.Int("stage", i+1), zap.String("message", st.message))
		if err := p.pause(ctx); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (p *Pipeline) pause(ctx context.Context) error {
	if p.stageDelay <= 0 || p.sched == nil {
		return ctx.Err()
	}
	done := make(chan struct{})
	timer := p.sched.After(p.stageDelay, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}
}

func (p *Pipeline) warmJavaScript(ctx context.Context, _ string) (string, error) {
	if err := p.runtimes.WarmUp(ctx, domain.LanguageJavaScript); err != nil {
		return "", err
	}
	return "JavaScript runtime ready", nil
}

// The Lua interpreter is embedded, so there is nothing to download.
func (p *Pipeline) markLua(context.Context, string) (string, error) {
	return "Lua runtime bundled", nil
}

func (p *Pipeline) loadProblems(ctx context.Context, contestID string) (string, error) {
	contest, err := p.resolver.Resolve(ctx, contestID)
	if err != nil {
		return "", err
	}
	if len(contest.Problems) == 0 {
		return "", domain.ErrNoProblems
	}
	return fmt.Sprintf("%d problems cached", len(contest.Problems)), nil
}

func (p *Pipeline) initSandbox(ctx context.Context, _ string) (string, error) {
	if err := p.runtimes.WarmUp(ctx, domain.LanguageLua); err != nil {
		p.log.Warn("lua warm-up failed, continuing", zap.Error(err))
		return "Lua warm-up skipped", nil
	}
	return "Sandbox ready", nil
}

func (p *Pipeline) markPrepared(ctx context.Context, contestID string) (string, error) {
	now := time.Now()
	if p.sched != nil {
		now = p.sched.Now()
	}
	if err := p.store.Set(ctx, storage.PreparedKey(contestID), []byte("true")); err != nil {
		return "", err
	}
	if err := storage.SetJSON(ctx, p.store, storage.PreparedAtKey(contestID), now); err != nil {
		return "", err
	}
	return "Prepared at " + now.Format(time.RFC3339), nil
}

// IsContestPrepared reads the persisted prepared flag.
func (p *Pipeline) IsContestPrepared(ctx context.Context, contestID string) bool {
	raw, err := p.store.Get(ctx, storage.PreparedKey(contestID))
	return err == nil && string(raw) == "true"
}

// PreparedAt returns when the contest was prepared.
func (p *Pipeline) PreparedAt(ctx context.Context, contestID string) (time.Time, bool) {
	var at time.Time
	found, err := storage.GetJSON(ctx, p.store, storage.PreparedAtKey(contestID), &at)
	return at, found && err == nil
}

// ResetPreparation clears the prepared flag, its timestamp and the cached
// problems, and puts live progress back to idle.
func (p *Pipeline) ResetPreparation(ctx context.Context, contestID string) error {
	errs := []error{
		p.store.Remove(ctx, storage.PreparedKey(contestID), storage.PreparedAtKey(contestID)),
		p.resolver.Clear(ctx, contestID),
	}
	p.progress.Publish(idleProgress)
	return errors.Join(errs...)
}

// InProgress reports whether a preparation run is in flight.
func (p *Pipeline) InProgress() bool { return p.running.Load() }

func (p *Pipeline) Progress() domain.PreparationProgress { return p.progress.Current() }

func (p *Pipeline) Subscribe(fn func(domain.PreparationProgress)) func() {
	return p.progress.Subscribe(fn)
}

func (p *Pipeline) Channel(size int) (<-chan domain.PreparationProgress, func()) {
	return p.progress.Channel(size)
}
