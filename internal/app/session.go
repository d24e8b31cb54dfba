package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"offline-contest/internal/domain"
	"offline-contest/internal/logging"
	"offline-contest/internal/observer"
	"offline-contest/internal/scheduler"
	"offline-contest/internal/storage"

	"go.uber.org/zap"
)

// Phase is the session lifecycle state.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseRunning    Phase = "running"
	PhaseCompleted  Phase = "completed"
)

// SubmissionState tracks the final result delivery as shown to the user.
type SubmissionState string

const (
	SubmissionIdle      SubmissionState = "idle"
	SubmissionPending   SubmissionState = "pending"
	SubmissionSucceeded SubmissionState = "success"
	SubmissionFailed    SubmissionState = "failed"
)

const (
	DefaultDuration        = 60 * time.Minute
	DefaultMaxProblems     = 3
	DefaultPenaltyPoints   = 10
	DefaultWarningDuration = 10 * time.Second
	DefaultRefreshWindow   = 5 * time.Second
)

// Snapshot is what the presentation layer observes after every change.
type Snapshot struct {
	Phase           Phase                      `json:"phase"`
	State           domain.ContestSessionState `json:"state"`
	Problem         *domain.Problem            `json:"problem,omitempty"`
	TimeLeft        string                     `json:"timeLeft"`
	Warning         bool                       `json:"warning"`
	LastRun         []domain.ExecutionResult   `json:"lastRun,omitempty"`
	Submission      SubmissionState            `json:"submission"`
	SubmissionError string                     `json:"submissionError,omitempty"`
	FinalResult     *domain.FinalResult        `json:"finalResult,omitempty"`
}

type SessionConfig struct {
	ContestID       string
	DefaultDuration time.Duration
	MaxProblems     int
	PenaltyPoints   int
	WarningDuration time.Duration
	RefreshWindow   time.Duration
	MonitorInterval time.Duration
	DefaultLanguage domain.Language
	Retry           RetryPolicy
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.DefaultDuration <= 0 {
		c.DefaultDuration = DefaultDuration
	}
	if c.MaxProblems <= 0 {
		c.MaxProblems = DefaultMaxProblems
	}
	if c.PenaltyPoints <= 0 {
		c.PenaltyPoints = DefaultPenaltyPoints
	}
	if c.WarningDuration <= 0 {
		c.WarningDuration = DefaultWarningDuration
	}
	if c.RefreshWindow <= 0 {
		c.RefreshWindow = DefaultRefreshWindow
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = domain.LanguageJavaScript
	}
	return c
}

// Deps are the collaborators of a session.
type Deps struct {
	Connectivity Connectivity
	Executor     Executor
	Readiness    Readiness
	Contests     ContestCache
	Identity     Identity
	Submitter    ResultSubmitter
	Store        storage.Store
	Scheduler    scheduler.Scheduler
}

type runRecord struct {
	problemIndex int
	language     domain.Language
	code         string
	results      []domain.ExecutionResult
}

// ContestSession owns the contest state machine for one user on this device:
// NotStarted, Running, Completed. Every mutation is persisted so the session
// survives restarts.
type ContestSession struct {
	cfg       SessionConfig
	deps      Deps
	log       *zap.Logger
	events    *observer.Broadcaster[Snapshot]
	startedAt time.Time

	mu            sync.Mutex
	userID        string
	contest       domain.Contest
	state         domain.ContestSessionState
	final         *domain.FinalResult
	lastRun       *runRecord
	prevOnline    bool
	warning       bool
	warningTimer  scheduler.Timer
	ticker        scheduler.Timer
	submission    SubmissionState
	submissionErr string

	submitting  atomic.Bool
	unsubscribe func()
}

func NewContestSession(deps Deps, cfg SessionConfig, log *zap.Logger) *ContestSession {
	cfg = cfg.withDefaults()
	log = logging.OrNop(log).Named("session").With(zap.String("contest_id", cfg.ContestID))
	s := &ContestSession{
		cfg:        cfg,
		deps:       deps,
		log:        log,
		startedAt:  deps.Scheduler.Now(),
		submission: SubmissionIdle,
	}
	s.state = s.freshStateLocked()
	s.events = observer.New("session", s.snapshotLocked(), log)
	s.unsubscribe = deps.Connectivity.Subscribe(s.onStatus)
	return s
}

// Load resolves the current user and rehydrates persisted state. It reports
// true when a different user was detected and the previous user's state was
// wiped. A running session resumes its countdown and monitoring.
func (s *ContestSession) Load(ctx context.Context) (bool, error) {
	userID, err := s.deps.Identity.CurrentUserID()
	if err != nil {
		return false, err
	}
	reset, err := s.CheckAndResetForUser(ctx, userID)
	if err != nil {
		return reset, err
	}

	contest, contestErr := s.deps.Contests.Cached(ctx, s.cfg.ContestID)
	if contestErr != nil {
		s.log.Warn("contest not cached locally", zap.Error(contestErr))
	}

	s.mu.Lock()
	s.userID = userID
	if contestErr == nil {
		s.contest = contest
	}
	s.state = s.freshStateLocked()

	var persisted domain.ContestSessionState
	found, err := storage.GetJSON(ctx, s.deps.Store, storage.SessionKey(s.cfg.ContestID), &persisted)
	switch {
	case err != nil:
		s.log.Warn("persisted session unreadable, starting fresh", zap.Error(err))
	case found && persisted.UserID == userID:
		s.state = persisted
		s.trackContest(ctx)
	}

	var final domain.FinalResult
	found, err = storage.GetJSON(ctx, s.deps.Store, storage.FinalResultKey(s.cfg.ContestID), &final)
	if err != nil {
		s.log.Warn("persisted final result unreadable", zap.Error(err))
	}
	if found && err == nil && final.UserID == userID {
		s.final = &final
		s.state.ContestStarted = true
		s.state.ContestCompleted = true
		s.state.PenaltyPoints = final.PenaltyPoints
		s.state.ViolationCount = final.ViolationCount
		if s.state.ViolationCount == 0 && final.PenaltyPoints > 0 && s.cfg.PenaltyPoints > 0 {
			s.state.ViolationCount = final.PenaltyPoints / s.cfg.PenaltyPoints
		}
		var results []domain.ProblemResult
		if ok, rerr := storage.GetJSON(ctx, s.deps.Store, storage.ResultsKey(s.cfg.ContestID), &results); ok && rerr == nil {
			s.state.ProblemResults = results
		}
		if final.Submitted {
			s.submission = SubmissionSucceeded
		}
	}

	resume := s.runningLocked()
	if resume {
		s.prevOnline = false
		s.startTimersLocked()
		s.log.Info("resuming session",
			zap.String("user_id", userID),
			zap.Int("problem_index", s.state.CurrentProblemIndex),
			zap.Int("time_left", s.state.TimeLeftSeconds))
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if resume {
		s.deps.Connectivity.StartMonitoring(s.cfg.MonitorInterval)
	}
	s.events.Publish(snap)
	return reset, nil
}

// CheckAndResetForUser wipes session state, results, final result and
// violation history when userID differs from the device's last user. It
// reports whether a reset happened.
func (s *ContestSession) CheckAndResetForUser(ctx context.Context, userID string) (bool, error) {
	changed, err := s.deps.Identity.DidUserChange(ctx, userID)
	if err != nil {
		return false, err
	}
	if changed {
		s.log.Info("different user detected, clearing session state", zap.String("user_id", userID))
		if err := s.wipe(ctx); err != nil {
			return true, err
		}
		s.mu.Lock()
		s.stopTimersLocked()
		s.userID = userID
		s.state = s.freshStateLocked()
		s.final = nil
		s.lastRun = nil
		s.submission, s.submissionErr = SubmissionIdle, ""
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.deps.Connectivity.StopMonitoring()
		s.events.Publish(snap)
	}
	if err := s.deps.Identity.RememberUser(ctx, userID); err != nil {
		return changed, fmt.Errorf("remember user: %w", err)
	}
	return changed, nil
}

func (s *ContestSession) wipe(ctx context.Context) error {
	id := s.cfg.ContestID
	return errors.Join(
		storage.WipeParticipants(ctx, s.deps.Store, id),
		s.deps.Connectivity.ClearViolations(ctx, id),
	)
}

// StartContest moves NotStarted to Running.
func (s *ContestSession) StartContest(ctx context.Context) error {
	if !s.deps.Readiness.IsContestPrepared(ctx, s.cfg.ContestID) {
		return domain.ErrContestNotPrepared
	}

	s.mu.Lock()
	switch {
	case s.state.ContestCompleted:
		s.mu.Unlock()
		return domain.ErrContestCompleted
	case s.state.ContestStarted:
		s.mu.Unlock()
		return domain.ErrContestAlreadyRunning
	case len(s.contest.Problems) == 0:
		s.mu.Unlock()
		return domain.ErrNoProblems
	}

	lang := s.state.Language
	if lang == "" {
		lang = s.cfg.DefaultLanguage
	}
	s.state = domain.ContestSessionState{
		UserID:              s.userID,
		ContestID:           s.cfg.ContestID,
		ContestStarted:      true,
		CurrentProblemIndex: 0,
		TimeLeftSeconds:     s.durationSecondsLocked(),
		ContestStartTime:    s.deps.Scheduler.Now(),
		Language:            lang,
		Code:                s.contest.Problems[0].Template(lang),
	}
	s.final = nil
	s.lastRun = nil
	s.warning = false
	// Participants start offline; the first online observation counts.
	s.prevOnline = false
	s.submission, s.submissionErr = SubmissionIdle, ""
	if err := s.deps.Store.Remove(ctx, storage.ResultsKey(s.cfg.ContestID), storage.FinalResultKey(s.cfg.ContestID)); err != nil {
		s.log.Warn("clear previous results failed", zap.Error(err))
	}
	s.trackContest(ctx)
	s.persistLocked(ctx)
	s.startTimersLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.deps.Connectivity.StartMonitoring(s.cfg.MonitorInterval)
	s.log.Info("contest started", zap.String("user_id", s.userID), zap.Int("time_left", snap.State.TimeLeftSeconds))
	s.events.Publish(snap)
	return nil
}

// RunCode grades code for the current problem without touching the score.
func (s *ContestSession) RunCode(ctx context.Context, code string) ([]domain.ExecutionResult, error) {
	s.mu.Lock()
	if err := s.requireRunningLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	idx := s.state.CurrentProblemIndex
	problem, ok := s.problemLocked(idx)
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrNoProblems
	}
	lang := s.state.Language
	s.state.Code = code
	s.persistLocked(ctx)
	s.mu.Unlock()

	results, err := s.deps.Executor.RunCode(ctx, problem.CombinedCode(code, lang), lang, problem.TestCases)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.runningLocked() && s.state.CurrentProblemIndex == idx {
		s.lastRun = &runRecord{problemIndex: idx, language: lang, code: code, results: results}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.events.Publish(snap)
	return results, nil
}

// MarkProblemDone scores the current problem, records its result and moves
// on, completing the contest after the last problem. Code that has not been
// run in its current form is run first.
func (s *ContestSession) MarkProblemDone(ctx context.Context, code string) (domain.ProblemResult, error) {
	s.mu.Lock()
	if err := s.requireRunningLocked(); err != nil {
		s.mu.Unlock()
		return domain.ProblemResult{}, err
	}
	idx := s.state.CurrentProblemIndex
	lang := s.state.Language
	var results []domain.ExecutionResult
	fresh := s.lastRun != nil && s.lastRun.problemIndex == idx && s.lastRun.language == lang && s.lastRun.code == code
	if fresh {
		results = s.lastRun.results
	}
	s.mu.Unlock()

	if !fresh {
		var err error
		if results, err = s.RunCode(ctx, code); err != nil {
			return domain.ProblemResult{}, err
		}
	}

	s.mu.Lock()
	if err := s.requireRunningLocked(); err != nil {
		s.mu.Unlock()
		return domain.ProblemResult{}, err
	}
	if s.state.CurrentProblemIndex != idx {
		s.mu.Unlock()
		return domain.ProblemResult{}, fmt.Errorf("problem %d already completed", idx+1)
	}
	problem, _ := s.problemLocked(idx)
	now := s.deps.Scheduler.Now()
	result := domain.ProblemResult{
		UserID:           s.userID,
		ProblemID:        problem.ID,
		ProblemTitle:     problem.Title,
		Score:            ScoreProblem(results),
		ElapsedFormatted: domain.FormatClock(now.Sub(s.state.ContestStartTime)),
		Language:         lang,
		Code:             code,
		TestResults:      results,
		Timestamp:        now,
	}
	s.state.ProblemResults = append(s.state.ProblemResults, result)
	if err := storage.SetJSON(ctx, s.deps.Store, storage.ResultsKey(s.cfg.ContestID), s.state.ProblemResults); err != nil {
		s.log.Error("persist results failed", zap.Error(err))
	}

	last := idx >= s.cfg.MaxProblems-1 || idx+1 >= len(s.contest.Problems)
	s.state.CurrentProblemIndex = idx + 1
	s.lastRun = nil
	completed := false
	if last {
		completed = s.completeLocked(ctx)
	} else {
		s.state.Code = s.contest.Problems[idx+1].Template(lang)
		s.persistLocked(ctx)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info("problem done",
		zap.String("problem_id", result.ProblemID),
		zap.Float64("score", result.Score),
		zap.Bool("completed", completed))
	if completed {
		s.deps.Connectivity.StopMonitoring()
	}
	s.events.Publish(snap)
	return result, nil
}

// ScoreProblem sums the points of passed tests when any test declares
// points, and otherwise splits 100 evenly across the tests.
func ScoreProblem(results []domain.ExecutionResult) float64 {
	declared := 0
	for _, r := range results {
		declared += r.TestCase.Points
	}
	var score float64
	if declared > 0 {
		for _, r := range results {
			if r.Passed {
				score += float64(r.TestCase.Points)
			}
		}
		return score
	}
	if len(results) == 0 {
		return 0
	}
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	return 100 * float64(passed) / float64(len(results))
}

// SetLanguage switches the editor language. Untouched starter code is
// replaced by the new language's template.
func (s *ContestSession) SetLanguage(ctx context.Context, lang domain.Language) error {
	if lang != domain.LanguageJavaScript && lang != domain.LanguageLua {
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedLanguage, lang)
	}
	s.mu.Lock()
	if s.state.ContestCompleted {
		s.mu.Unlock()
		return domain.ErrContestCompleted
	}
	prev := s.state.Language
	s.state.Language = lang
	if problem, ok := s.problemLocked(s.state.CurrentProblemIndex); ok && s.state.ContestStarted {
		if s.state.Code == "" || s.state.Code == problem.Template(prev) {
			s.state.Code = problem.Template(lang)
		}
		s.persistLocked(ctx)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.events.Publish(snap)
	return nil
}

// SetCode stores the participant's current code for the current problem.
func (s *ContestSession) SetCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRunningLocked(); err != nil {
		return err
	}
	s.state.Code = code
	s.persistLocked(ctx)
	return nil
}

// CheckConnectivity re-checks the network now. Being online while the
// contest runs is a violation even without an offline to online transition.
func (s *ContestSession) CheckConnectivity(ctx context.Context) domain.ConnectivityStatus {
	s.mu.Lock()
	before := s.state.ViolationCount
	s.mu.Unlock()

	status := s.deps.Connectivity.PerformCheck(ctx)

	s.mu.Lock()
	if !status.IsOnline || !s.runningLocked() || s.state.ViolationCount != before {
		s.mu.Unlock()
		return status
	}
	s.recordViolationLocked(ctx, domain.ReasonManualCheck)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.events.Publish(snap)
	return status
}

func (s *ContestSession) onStatus(status domain.ConnectivityStatus) {
	s.mu.Lock()
	wasOnline := s.prevOnline
	s.prevOnline = status.IsOnline
	if !status.IsOnline || wasOnline || !s.runningLocked() {
		s.mu.Unlock()
		return
	}
	reason := domain.ReasonOnlineDetected
	if s.deps.Scheduler.Now().Sub(s.startedAt) <= s.cfg.RefreshWindow {
		reason = domain.ReasonPageRefreshOnline
	}
	s.recordViolationLocked(context.Background(), reason)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.events.Publish(snap)
}

func (s *ContestSession) recordViolationLocked(ctx context.Context, reason domain.ViolationReason) {
	v := s.deps.Connectivity.HandleInternetViolation(ctx, s.cfg.ContestID, s.userID, reason)
	s.state.ViolationCount++
	s.state.PenaltyPoints += s.cfg.PenaltyPoints
	s.persistLocked(ctx)

	s.warning = true
	if s.warningTimer != nil {
		s.warningTimer.Stop()
	}
	s.warningTimer = s.deps.Scheduler.After(s.cfg.WarningDuration, s.clearWarning)
	s.log.Warn("internet violation",
		zap.String("user_id", s.userID),
		zap.String("reason", string(v.Reason)),
		zap.Int("violations", s.state.ViolationCount),
		zap.Int("penalty", s.state.PenaltyPoints))
}

func (s *ContestSession) clearWarning() {
	s.mu.Lock()
	s.warning = false
	s.warningTimer = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.events.Publish(snap)
}

// tick is the one-second countdown. Reaching zero completes the contest;
// ticks after completion do nothing.
func (s *ContestSession) tick() {
	ctx := context.Background()
	s.mu.Lock()
	if !s.runningLocked() {
		s.mu.Unlock()
		return
	}
	completed := false
	s.state.TimeLeftSeconds--
	if s.state.TimeLeftSeconds <= 0 {
		s.state.TimeLeftSeconds = 0
		completed = s.completeLocked(ctx)
	} else {
		s.persistLocked(ctx)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if completed {
		s.log.Info("time is up")
		s.deps.Connectivity.StopMonitoring()
	}
	s.events.Publish(snap)
}

// completeLocked enters Completed once: timers stop, the final result is
// derived and persisted, and the resumable session record is removed.
func (s *ContestSession) completeLocked(ctx context.Context) bool {
	if s.state.ContestCompleted {
		return false
	}
	s.state.ContestCompleted = true
	s.stopTimersLocked()
	s.lastRun = nil

	now := s.deps.Scheduler.Now()
	final := domain.FinalResult{
		UserID:             s.userID,
		ContestID:          s.cfg.ContestID,
		PenaltyPoints:      s.state.PenaltyPoints,
		ViolationCount:     s.state.ViolationCount,
		ProblemResults:     make([]domain.ProblemScore, 0, len(s.state.ProblemResults)),
		TotalTimeFormatted: domain.FormatClock(s.elapsedLocked(now)),
		Timestamp:          now,
	}
	var sum float64
	for _, r := range s.state.ProblemResults {
		sum += r.Score
		final.ProblemResults = append(final.ProblemResults, domain.ProblemScore{ProblemID: r.ProblemID, Score: r.Score})
	}
	final.TotalScore = sum - float64(s.state.PenaltyPoints)
	s.final = &final

	if err := storage.SetJSON(ctx, s.deps.Store, storage.FinalResultKey(s.cfg.ContestID), final); err != nil {
		s.log.Error("persist final result failed", zap.Error(err))
	}
	if err := s.deps.Store.Remove(ctx, storage.SessionKey(s.cfg.ContestID)); err != nil {
		s.log.Warn("clear session record failed", zap.Error(err))
	}
	s.log.Info("contest completed",
		zap.String("user_id", s.userID),
		zap.Float64("total_score", final.TotalScore),
		zap.Int("penalty", final.PenaltyPoints))
	return true
}

// SubmitFinalResults delivers the final result with bounded retries. An
// acknowledged result is never sent again; a failed one stays stored for a
// later manual retry. A 401 clears the cached token.
func (s *ContestSession) SubmitFinalResults(ctx context.Context) error {
	if !s.submitting.CompareAndSwap(false, true) {
		return domain.ErrSubmissionInProgress
	}
	defer s.submitting.Store(false)

	s.mu.Lock()
	if s.final == nil {
		s.mu.Unlock()
		return domain.ErrNoFinalResult
	}
	final := *s.final
	s.mu.Unlock()
	if final.Submitted {
		return nil
	}

	if status := s.deps.Connectivity.PerformCheck(ctx); !status.IsOnline {
		s.setSubmission(SubmissionFailed, domain.ErrOffline.Error())
		return domain.ErrOffline
	}

	s.setSubmission(SubmissionPending, "")
	err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		return s.deps.Submitter.SubmitFinalResult(ctx, final)
	}, func(attempt int, err error, next time.Duration) {
		s.log.Warn("final result submission failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("delay", next), zap.Error(err))
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			if cerr := s.deps.Identity.ClearToken(); cerr != nil {
				s.log.Warn("clear token failed", zap.Error(cerr))
			}
		}
		s.log.Error("final result submission gave up", zap.Error(err))
		s.setSubmission(SubmissionFailed, err.Error())
		return fmt.Errorf("%w: %w", domain.ErrSubmissionFailed, err)
	}

	s.mu.Lock()
	final.Submitted = true
	s.final = &final
	if err := storage.SetJSON(ctx, s.deps.Store, storage.FinalResultKey(s.cfg.ContestID), final); err != nil {
		s.log.Error("persist submitted marker failed", zap.Error(err))
	}
	s.submission, s.submissionErr = SubmissionSucceeded, ""
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.log.Info("final result submitted", zap.String("user_id", final.UserID))
	s.events.Publish(snap)
	return nil
}

func (s *ContestSession) setSubmission(state SubmissionState, msg string) {
	s.mu.Lock()
	s.submission, s.submissionErr = state, msg
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.events.Publish(snap)
}

// Close stops timers and monitoring and detaches from the monitor.
func (s *ContestSession) Close() {
	s.mu.Lock()
	s.stopTimersLocked()
	s.mu.Unlock()
	s.deps.Connectivity.StopMonitoring()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *ContestSession) State() domain.ContestSessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyStateLocked()
}

func (s *ContestSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *ContestSession) Contest() domain.Contest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contest
}

func (s *ContestSession) CurrentProblem() (domain.Problem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.ContestStarted || s.state.ContestCompleted {
		return domain.Problem{}, false
	}
	return s.problemLocked(s.state.CurrentProblemIndex)
}

func (s *ContestSession) FinalResult() (domain.FinalResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final == nil {
		return domain.FinalResult{}, false
	}
	return *s.final, true
}

// TimeLeft is the remaining contest time as HH:MM:SS.
func (s *ContestSession) TimeLeft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.FormatClock(time.Duration(s.state.TimeLeftSeconds) * time.Second)
}

// Elapsed is the time spent since the contest started as HH:MM:SS.
func (s *ContestSession) Elapsed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.ContestStarted {
		return domain.FormatClock(0)
	}
	return domain.FormatClock(s.elapsedLocked(s.deps.Scheduler.Now()))
}

func (s *ContestSession) Subscribe(fn func(Snapshot)) func() {
	return s.events.Subscribe(fn)
}

func (s *ContestSession) Channel(size int) (<-chan Snapshot, func()) {
	return s.events.Channel(size)
}

func (s *ContestSession) runningLocked() bool {
	return s.state.ContestStarted && !s.state.ContestCompleted
}

func (s *ContestSession) requireRunningLocked() error {
	switch {
	case !s.state.ContestStarted:
		return domain.ErrContestNotStarted
	case s.state.ContestCompleted:
		return domain.ErrContestCompleted
	}
	return nil
}

func (s *ContestSession) problemLocked(idx int) (domain.Problem, bool) {
	if idx < 0 || idx >= len(s.contest.Problems) {
		return domain.Problem{}, false
	}
	return s.contest.Problems[idx], true
}

func (s *ContestSession) durationSecondsLocked() int {
	return int(s.contest.Duration(s.cfg.DefaultDuration) / time.Second)
}

// elapsedLocked is bounded by the contest length so that a session resumed
// after a long pause does not report more time than the contest allows.
func (s *ContestSession) elapsedLocked(now time.Time) time.Duration {
	total := s.contest.Duration(s.cfg.DefaultDuration)
	used := total - time.Duration(s.state.TimeLeftSeconds)*time.Second
	if wall := now.Sub(s.state.ContestStartTime); wall >= 0 && wall < used {
		used = wall
	}
	if used < 0 {
		used = 0
	}
	return used
}

func (s *ContestSession) freshStateLocked() domain.ContestSessionState {
	return domain.ContestSessionState{
		UserID:          s.userID,
		ContestID:       s.cfg.ContestID,
		TimeLeftSeconds: s.durationSecondsLocked(),
		Language:        s.cfg.DefaultLanguage,
	}
}

// trackContest indexes the contest so a later user change can wipe it.
func (s *ContestSession) trackContest(ctx context.Context) {
	if err := storage.TrackContest(ctx, s.deps.Store, s.cfg.ContestID); err != nil {
		s.log.Warn("index contest failed", zap.Error(err))
	}
}

func (s *ContestSession) persistLocked(ctx context.Context) {
	if s.state.ContestCompleted {
		return
	}
	if err := storage.SetJSON(ctx, s.deps.Store, storage.SessionKey(s.cfg.ContestID), s.state); err != nil {
		s.log.Error("persist session failed", zap.Error(err))
	}
}

func (s *ContestSession) startTimersLocked() {
	if s.ticker == nil {
		s.ticker = s.deps.Scheduler.Every(time.Second, s.tick)
	}
}

func (s *ContestSession) stopTimersLocked() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.warningTimer != nil {
		s.warningTimer.Stop()
		s.warningTimer = nil
	}
	s.warning = false
}

func (s *ContestSession) copyStateLocked() domain.ContestSessionState {
	st := s.state
	st.ProblemResults = append([]domain.ProblemResult(nil), s.state.ProblemResults...)
	return st
}

func (s *ContestSession) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:           s.copyStateLocked(),
		TimeLeft:        domain.FormatClock(time.Duration(s.state.TimeLeftSeconds) * time.Second),
		Warning:         s.warning,
		Submission:      s.submission,
		SubmissionError: s.submissionErr,
	}
	switch {
	case s.state.ContestCompleted:
		snap.Phase = PhaseCompleted
	case s.state.ContestStarted:
		snap.Phase = PhaseRunning
		if p, ok := s.problemLocked(s.state.CurrentProblemIndex); ok {
			snap.Problem = &p
		}
	default:
		snap.Phase = PhaseNotStarted
	}
	if s.lastRun != nil {
		snap.LastRun = s.lastRun.results
	}
	if s.final != nil {
		f := *s.final
		snap.FinalResult = &f
	}
	return snap
}
