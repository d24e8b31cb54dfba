package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"offline-contest/internal/connectivity"
	"offline-contest/internal/domain"
	"offline-contest/internal/infra/memory"
	"offline-contest/internal/sandbox"
	"offline-contest/internal/scheduler"
	"offline-contest/internal/storage"
)

const (
	sumSolution   = "var nums = input.split(\"\\n\")[1].split(\" \").map(Number);\nvar t = 0; nums.forEach(function (n) { t += n; });\nconsole.log(t);"
	echoSolution  = "console.log(input);"
	upperSolution = "function solve(s) { return s.toUpperCase(); }"
)

type switchProber struct{ online atomic.Bool }

func (p *switchProber) Probe(context.Context) (time.Duration, error) {
	if p.online.Load() {
		return 20 * time.Millisecond, nil
	}
	return 0, errors.New("unreachable")
}

type upLink struct{}

func (upLink) Up() bool { return true }

type fakeReadiness bool

func (f fakeReadiness) IsContestPrepared(context.Context, string) bool { return bool(f) }

type fakeContests struct{ contest domain.Contest }

func (f fakeContests) Cached(context.Context, string) (domain.Contest, error) {
	if len(f.contest.Problems) == 0 {
		return domain.Contest{}, domain.ErrContestNotFound
	}
	return f.contest, nil
}

// fakeIdentity keeps the last user in the shared store like the real provider.
type fakeIdentity struct {
	user    string
	store   storage.Store
	cleared atomic.Bool
}

func (f *fakeIdentity) CurrentUserID() (string, error) { return f.user, nil }

func (f *fakeIdentity) DidUserChange(ctx context.Context, userID string) (bool, error) {
	raw, err := f.store.Get(ctx, storage.KeyLastUser)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return string(raw) != userID, err
}

func (f *fakeIdentity) RememberUser(ctx context.Context, userID string) error {
	return f.store.Set(ctx, storage.KeyLastUser, []byte(userID))
}

func (f *fakeIdentity) ClearToken() error {
	f.cleared.Store(true)
	return nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	received []domain.FinalResult
}

func (f *fakeSubmitter) SubmitFinalResult(_ context.Context, r domain.FinalResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return f.err
		}
		return errors.New("503 service unavailable")
	}
	f.received = append(f.received, r)
	return nil
}

func (f *fakeSubmitter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testContest() domain.Contest {
	return domain.Contest{
		ID:              "c1",
		Title:           "Test Round",
		DurationMinutes: 1,
		Problems: []domain.Problem{
			{
				ID: "sum", Title: "Sum", Description: "sum stdin",
				TestCases: []domain.TestCase{
					{Input: "3\n1 2 3", ExpectedOutput: "6", Points: 40},
					{Input: "1\n42", ExpectedOutput: "42", Points: 60},
				},
				Templates: map[domain.Language]string{domain.LanguageJavaScript: "// sum"},
			},
			{
				ID: "echo", Title: "Echo", Description: "echo input",
				TestCases: []domain.TestCase{
					{Input: "a", ExpectedOutput: "a"},
					{Input: "b", ExpectedOutput: "c"},
				},
				Templates: map[domain.Language]string{domain.LanguageJavaScript: "// echo"},
			},
			{
				ID: "upper", Title: "Upper", Description: "uppercase via harness",
				TestCases: []domain.TestCase{{Input: "hi", ExpectedOutput: "HI"}},
				Harness:   map[domain.Language]string{domain.LanguageJavaScript: "solve(input);"},
			},
			{ID: "extra", Title: "Extra", Description: "never reached"},
		},
	}
}

type harness struct {
	t         *testing.T
	sched     *scheduler.Manual
	store     *memory.KVStore
	prober    *switchProber
	monitor   *connectivity.Monitor
	identity  *fakeIdentity
	submitter *fakeSubmitter
	timer     *instantTimer
	contest   domain.Contest
	contestID string
	prepared  bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sched := scheduler.NewManual(time.Unix(1_700_000_000, 0).UTC())
	store := memory.NewKVStore()
	prober := &switchProber{}
	return &harness{
		t:         t,
		sched:     sched,
		store:     store,
		prober:    prober,
		monitor:   connectivity.NewMonitor(prober, upLink{}, sched, store, nil, 0),
		identity:  &fakeIdentity{user: "user-a", store: store},
		submitter: &fakeSubmitter{},
		timer:     newInstantTimer(),
		contest:   testContest(),
		contestID: "c1",
		prepared:  true,
	}
}

// open builds a session over the shared store and loads it, like a process
// start would.
func (h *harness) open() *ContestSession {
	h.t.Helper()
	s := NewContestSession(Deps{
		Connectivity: h.monitor,
		Executor:     sandbox.New(nil, time.Second, sandbox.NewJavaScriptRuntime()),
		Readiness:    fakeReadiness(h.prepared),
		Contests:     fakeContests{contest: h.contest},
		Identity:     h.identity,
		Submitter:    h.submitter,
		Store:        h.store,
		Scheduler:    h.sched,
	}, SessionConfig{
		ContestID:       h.contestID,
		MonitorInterval: 2 * time.Second,
		Retry:           RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Timer: h.timer},
	}, nil)
	if _, err := s.Load(context.Background()); err != nil {
		h.t.Fatalf("load session: %v", err)
	}
	h.t.Cleanup(s.Close)
	return s
}

func (h *harness) started() *ContestSession {
	h.t.Helper()
	s := h.open()
	if err := s.StartContest(context.Background()); err != nil {
		h.t.Fatalf("start contest: %v", err)
	}
	return s
}

func solveAll(t *testing.T, s *ContestSession) {
	t.Helper()
	ctx := context.Background()
	for _, code := range []string{sumSolution, echoSolution, upperSolution} {
		if _, err := s.MarkProblemDone(ctx, code); err != nil {
			t.Fatalf("mark problem done: %v", err)
		}
	}
}

func TestStartContestRequiresPreparation(t *testing.T) {
	h := newHarness(t)
	h.prepared = false
	s := h.open()
	if err := s.StartContest(context.Background()); !errors.Is(err, domain.ErrContestNotPrepared) {
		t.Fatalf("expected not prepared, got %v", err)
	}
	if _, err := s.RunCode(context.Background(), echoSolution); !errors.Is(err, domain.ErrContestNotStarted) {
		t.Fatalf("expected not started, got %v", err)
	}
}

func TestStartContestInitializesRunningState(t *testing.T) {
	h := newHarness(t)
	s := h.started()

	st := s.State()
	if !st.ContestStarted || st.ContestCompleted || st.CurrentProblemIndex != 0 || st.TimeLeftSeconds != 60 {
		t.Fatalf("unexpected state after start: %+v", st)
	}
	if st.Code != "// sum" {
		t.Fatalf("expected first template loaded, got %q", st.Code)
	}
	if !h.monitor.IsMonitoring() {
		t.Fatalf("expected monitoring to start with the contest")
	}
	if s.TimeLeft() != "00:01:00" {
		t.Fatalf("unexpected time left %s", s.TimeLeft())
	}
	if err := s.StartContest(context.Background()); !errors.Is(err, domain.ErrContestAlreadyRunning) {
		t.Fatalf("expected already running, got %v", err)
	}
}

func TestFullContestScoresAndCompletes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.started()

	results, err := s.RunCode(ctx, sumSolution)
	if err != nil {
		t.Fatalf("run code: %v", err)
	}
	if len(results) != 2 || !results[0].Passed || !results[1].Passed {
		t.Fatalf("expected both sum tests to pass, got %+v", results)
	}
	if s.State().ProblemResults != nil {
		t.Fatalf("running code must not record a result")
	}

	h.sched.Advance(5 * time.Second)
	solveAll(t, s)

	st := s.State()
	if !st.ContestCompleted {
		t.Fatalf("expected completion after the third problem, got %+v", st)
	}
	if len(st.ProblemResults) != 3 {
		t.Fatalf("expected 3 problem results, got %d", len(st.ProblemResults))
	}
	wantScores := []float64{100, 50, 100}
	for i, want := range wantScores {
		if st.ProblemResults[i].Score != want {
			t.Fatalf("problem %d: expected score %v, got %v", i, want, st.ProblemResults[i].Score)
		}
	}
	if st.ProblemResults[0].ElapsedFormatted != "00:00:05" {
		t.Fatalf("unexpected elapsed %s", st.ProblemResults[0].ElapsedFormatted)
	}

	final, ok := s.FinalResult()
	if !ok || final.TotalScore != 250 || final.PenaltyPoints != 0 || len(final.ProblemResults) != 3 {
		t.Fatalf("unexpected final result %+v", final)
	}
	if h.monitor.IsMonitoring() {
		t.Fatalf("expected monitoring stopped at completion")
	}
	if _, err := h.store.Get(ctx, storage.SessionKey("c1")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected session record cleared, got %v", err)
	}
	var stored domain.FinalResult
	if found, err := storage.GetJSON(ctx, h.store, storage.FinalResultKey("c1"), &stored); !found || err != nil || stored.TotalScore != 250 {
		t.Fatalf("expected final result persisted, found=%v err=%v %+v", found, err, stored)
	}
	if _, err := s.RunCode(ctx, sumSolution); !errors.Is(err, domain.ErrContestCompleted) {
		t.Fatalf("expected completed error, got %v", err)
	}
}

func TestMarkProblemDoneRunsImplicitly(t *testing.T) {
	h := newHarness(t)
	s := h.started()

	if _, err := s.RunCode(context.Background(), "console.log(0);"); err != nil {
		t.Fatalf("run code: %v", err)
	}
	// The code changed since the last run, so it must be graded again.
	result, err := s.MarkProblemDone(context.Background(), sumSolution)
	if err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if result.Score != 100 || len(result.TestResults) != 2 {
		t.Fatalf("expected implicit run to score 100, got %+v", result)
	}
	if st := s.State(); st.CurrentProblemIndex != 1 || st.Code != "// echo" {
		t.Fatalf("expected next problem loaded, got index %d code %q", st.CurrentProblemIndex, st.Code)
	}
}

func TestViolationsAccumulatePenalty(t *testing.T) {
	h := newHarness(t)
	s := h.started()

	h.sched.Advance(time.Second)
	for i := 0; i < 3; i++ {
		h.prober.online.Store(true)
		h.sched.Advance(2 * time.Second)
		h.prober.online.Store(false)
		h.sched.Advance(2 * time.Second)
	}

	st := s.State()
	if st.ViolationCount != 3 || st.PenaltyPoints != 30 {
		t.Fatalf("expected 3 violations and 30 penalty points, got %d/%d", st.ViolationCount, st.PenaltyPoints)
	}
	log := h.monitor.Violations(context.Background(), "c1")
	if len(log) != 3 {
		t.Fatalf("expected 3 logged violations, got %d", len(log))
	}
	if log[0].Reason != domain.ReasonPageRefreshOnline || log[1].Reason != domain.ReasonOnlineDetected {
		t.Fatalf("unexpected reasons %s, %s", log[0].Reason, log[1].Reason)
	}
	if log[0].UserID != "user-a" || !log[0].StatusSnapshot.IsOnline {
		t.Fatalf("unexpected violation record %+v", log[0])
	}

	solveAll(t, s)
	final, _ := s.FinalResult()
	if final.TotalScore != 250-30 || final.PenaltyPoints != 30 {
		t.Fatalf("expected score 220 after penalties, got %+v", final)
	}
}

func TestViolationWarningAutoClears(t *testing.T) {
	h := newHarness(t)
	s := h.started()

	h.prober.online.Store(true)
	h.sched.Advance(0)
	if !s.Snapshot().Warning {
		t.Fatalf("expected warning raised")
	}
	h.sched.Advance(9 * time.Second)
	if !s.Snapshot().Warning {
		t.Fatalf("warning cleared too early")
	}
	h.sched.Advance(time.Second)
	if s.Snapshot().Warning {
		t.Fatalf("expected warning cleared after 10s")
	}
	if s.State().ViolationCount != 1 {
		t.Fatalf("staying online must not add violations, got %d", s.State().ViolationCount)
	}
}

func TestCheckConnectivityOnlineIsViolation(t *testing.T) {
	h := newHarness(t)
	s := h.started()
	h.prober.online.Store(true)

	s.CheckConnectivity(context.Background())
	if got := s.State().ViolationCount; got != 1 {
		t.Fatalf("expected one violation for the transition, got %d", got)
	}
	s.CheckConnectivity(context.Background())
	if got := s.State().ViolationCount; got != 2 {
		t.Fatalf("expected explicit re-check while online to count, got %d", got)
	}
	log := h.monitor.Violations(context.Background(), "c1")
	if log[1].Reason != domain.ReasonManualCheck {
		t.Fatalf("expected manual check reason, got %s", log[1].Reason)
	}
}

func TestTimerExpiryCompletesExactlyOnce(t *testing.T) {
	h := newHarness(t)
	s := h.started()

	var completions atomic.Int32
	var last Phase
	unsubscribe := s.Subscribe(func(snap Snapshot) {
		if snap.Phase == PhaseCompleted && last != PhaseCompleted {
			completions.Add(1)
		}
		last = snap.Phase
	})
	defer unsubscribe()

	h.sched.Advance(59 * time.Second)
	if s.State().ContestCompleted || s.State().TimeLeftSeconds != 1 {
		t.Fatalf("expected 1s left, got %+v", s.State())
	}
	h.sched.Advance(time.Second)
	s.tick()
	s.tick()
	h.sched.Advance(10 * time.Second)

	if completions.Load() != 1 {
		t.Fatalf("expected exactly one completion, got %d", completions.Load())
	}
	st := s.State()
	if !st.ContestCompleted || st.TimeLeftSeconds != 0 {
		t.Fatalf("expected completed with zero time, got %+v", st)
	}
	final, ok := s.FinalResult()
	if !ok || final.TotalScore != 0 || final.TotalTimeFormatted != "00:01:00" {
		t.Fatalf("unexpected final result %+v", final)
	}
	if h.sched.Pending() != 0 {
		t.Fatalf("expected all timers cancelled, %d pending", h.sched.Pending())
	}
}

func TestSessionRehydratesForSameUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	first := h.started()

	if _, err := first.MarkProblemDone(ctx, sumSolution); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	h.prober.online.Store(true)
	h.sched.Advance(7 * time.Second)
	h.prober.online.Store(false)
	h.sched.Advance(2 * time.Second)
	before := first.State()
	first.Close()

	second := h.open()
	after := second.State()
	if after.CurrentProblemIndex != before.CurrentProblemIndex ||
		after.TimeLeftSeconds != before.TimeLeftSeconds ||
		after.ViolationCount != before.ViolationCount ||
		after.PenaltyPoints != before.PenaltyPoints ||
		len(after.ProblemResults) != len(before.ProblemResults) ||
		after.ProblemResults[0].Score != before.ProblemResults[0].Score ||
		after.ProblemResults[0].ProblemID != before.ProblemResults[0].ProblemID {
		t.Fatalf("rehydrated state differs:\nbefore %+v\nafter  %+v", before, after)
	}
	if before.ViolationCount != 1 || before.TimeLeftSeconds != 51 {
		t.Fatalf("unexpected pre-restart state %+v", before)
	}

	h.sched.Advance(time.Second)
	if got := second.State().TimeLeftSeconds; got != before.TimeLeftSeconds-1 {
		t.Fatalf("expected countdown to resume, got %d", got)
	}
	if !h.monitor.IsMonitoring() {
		t.Fatalf("expected monitoring resumed")
	}
}

func TestOnlineRightAfterRestartIsRefreshViolation(t *testing.T) {
	h := newHarness(t)
	first := h.started()
	h.sched.Advance(30 * time.Second)
	first.Close()

	h.prober.online.Store(true)
	second := h.open()
	h.sched.Advance(0)

	if got := second.State().ViolationCount; got != 1 {
		t.Fatalf("expected violation after reload while online, got %d", got)
	}
	log := h.monitor.Violations(context.Background(), "c1")
	if log[len(log)-1].Reason != domain.ReasonPageRefreshOnline {
		t.Fatalf("expected page refresh reason, got %s", log[len(log)-1].Reason)
	}
}

func TestDifferentUserResetsState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	first := h.started()
	h.prober.online.Store(true)
	h.sched.Advance(0)
	h.prober.online.Store(false)
	first.Close()

	h.identity.user = "user-b"
	s := NewContestSession(Deps{
		Connectivity: h.monitor,
		Executor:     sandbox.New(nil, time.Second, sandbox.NewJavaScriptRuntime()),
		Readiness:    fakeReadiness(true),
		Contests:     fakeContests{contest: h.contest},
		Identity:     h.identity,
		Submitter:    h.submitter,
		Store:        h.store,
		Scheduler:    h.sched,
	}, SessionConfig{ContestID: "c1"}, nil)
	defer s.Close()

	reset, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reset {
		t.Fatalf("expected reset signal for a different user")
	}
	st := s.State()
	if st.ContestStarted || st.ViolationCount != 0 || st.PenaltyPoints != 0 || len(st.ProblemResults) != 0 || st.UserID != "user-b" {
		t.Fatalf("expected cleared state, got %+v", st)
	}
	if _, err := h.store.Get(ctx, storage.SessionKey("c1")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected previous session wiped, got %v", err)
	}
	if log := h.monitor.Violations(ctx, "c1"); len(log) != 0 {
		t.Fatalf("expected violation history wiped, got %d", len(log))
	}

	again, err := s.CheckAndResetForUser(ctx, "user-b")
	if err != nil || again {
		t.Fatalf("same user must not reset again, got %v %v", again, err)
	}
}

func TestDifferentUserWipesEveryContest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	first := h.started()
	h.prober.online.Store(true)
	h.sched.Advance(0)
	h.prober.online.Store(false)
	first.Close()
	if log := h.monitor.Violations(ctx, "c1"); len(log) != 1 {
		t.Fatalf("expected one violation on c1, got %d", len(log))
	}

	h.contestID = "c2"
	h.identity.user = "user-b"
	second := h.open()
	if st := second.State(); st.UserID != "user-b" || st.ContestID != "c2" || st.ContestStarted {
		t.Fatalf("expected fresh c2 state for user-b, got %+v", st)
	}
	if log := h.monitor.Violations(ctx, "c1"); len(log) != 0 {
		t.Fatalf("expected c1 violations wiped, got %d", len(log))
	}
	for _, key := range storage.ParticipantKeys("c1") {
		if _, err := h.store.Get(ctx, key); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected %s wiped, got %v", key, err)
		}
	}
}

func TestCompletedSessionRestoresViolationCount(t *testing.T) {
	h := newHarness(t)
	first := h.started()
	h.prober.online.Store(true)
	h.sched.Advance(0)
	h.prober.online.Store(false)
	h.sched.Advance(2 * time.Second)
	solveAll(t, first)
	first.Close()

	st := h.open().State()
	if !st.ContestCompleted || st.ViolationCount != 1 || st.PenaltyPoints != 10 {
		t.Fatalf("expected completed state with 1 violation and 10 penalty, got %+v", st)
	}
}

func TestCompletedSessionDerivesViolationCountFromPenalty(t *testing.T) {
	h := newHarness(t)
	err := storage.SetJSON(context.Background(), h.store, storage.FinalResultKey("c1"), domain.FinalResult{
		UserID:        "user-a",
		ContestID:     "c1",
		PenaltyPoints: 20,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	st := h.open().State()
	if !st.ContestCompleted || st.ViolationCount != 2 {
		t.Fatalf("expected 2 violations derived from penalty, got %+v", st)
	}
}

func TestUnreadableSessionFallsBackToFresh(t *testing.T) {
	h := newHarness(t)
	if err := h.store.Set(context.Background(), storage.SessionKey("c1"), []byte("{not json")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := h.open()
	st := s.State()
	if st.ContestStarted || st.TimeLeftSeconds != 60 {
		t.Fatalf("expected fresh state with default timer, got %+v", st)
	}
	if err := s.StartContest(context.Background()); err != nil {
		t.Fatalf("expected fresh start to work, got %v", err)
	}
}

func completedSession(t *testing.T, h *harness) *ContestSession {
	t.Helper()
	s := h.started()
	solveAll(t, s)
	return s
}

func TestSubmitRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submitter.failures = 2
	s := completedSession(t, h)

	var states []SubmissionState
	unsubscribe := s.Subscribe(func(snap Snapshot) {
		if len(states) == 0 || states[len(states)-1] != snap.Submission {
			states = append(states, snap.Submission)
		}
	})
	defer unsubscribe()

	h.prober.online.Store(true)
	if err := s.SubmitFinalResults(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if h.submitter.Calls() != 3 {
		t.Fatalf("expected 3 POST attempts, got %d", h.submitter.Calls())
	}
	if len(h.timer.delays) != 2 || h.timer.delays[0] != time.Second || h.timer.delays[1] != 2*time.Second {
		t.Fatalf("expected delays [1s 2s], got %v", h.timer.delays)
	}
	want := []SubmissionState{SubmissionIdle, SubmissionPending, SubmissionSucceeded}
	if len(states) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, states)
		}
	}
	if s.State().ViolationCount != 0 {
		t.Fatalf("going online after completion must not be a violation")
	}

	var stored domain.FinalResult
	if _, err := storage.GetJSON(ctx, h.store, storage.FinalResultKey("c1"), &stored); err != nil || !stored.Submitted {
		t.Fatalf("expected submitted marker persisted, got %+v %v", stored, err)
	}
	if err := s.SubmitFinalResults(ctx); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if h.submitter.Calls() != 3 {
		t.Fatalf("acknowledged result must not be sent again, got %d calls", h.submitter.Calls())
	}
}

func TestSubmitGivesUpAndKeepsResult(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submitter.failures = 100
	s := completedSession(t, h)
	h.prober.online.Store(true)

	err := s.SubmitFinalResults(ctx)
	if !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("expected submission failure, got %v", err)
	}
	if h.submitter.Calls() != 3 {
		t.Fatalf("expected attempts capped at 3, got %d", h.submitter.Calls())
	}
	if snap := s.Snapshot(); snap.Submission != SubmissionFailed || snap.SubmissionError == "" {
		t.Fatalf("expected failed submission state, got %+v", snap)
	}
	var stored domain.FinalResult
	if found, err := storage.GetJSON(ctx, h.store, storage.FinalResultKey("c1"), &stored); !found || err != nil || stored.Submitted {
		t.Fatalf("expected unsent final result kept, found=%v err=%v %+v", found, err, stored)
	}

	// A later manual retry from a fresh process picks up the pending result.
	h.submitter.failures = 0
	s.Close()
	reopened := h.open()
	if err := reopened.SubmitFinalResults(ctx); err != nil {
		t.Fatalf("manual retry: %v", err)
	}
	if len(h.submitter.received) != 1 || h.submitter.received[0].TotalScore != 250 {
		t.Fatalf("expected pending result delivered, got %+v", h.submitter.received)
	}
}

func TestSubmitRequiresConnectivity(t *testing.T) {
	h := newHarness(t)
	s := completedSession(t, h)
	if err := s.SubmitFinalResults(context.Background()); !errors.Is(err, domain.ErrOffline) {
		t.Fatalf("expected offline error, got %v", err)
	}
	if h.submitter.Calls() != 0 {
		t.Fatalf("expected no POST while offline")
	}
}

func TestSubmitUnauthorizedClearsToken(t *testing.T) {
	h := newHarness(t)
	h.submitter.failures = 100
	h.submitter.err = domain.ErrUnauthorized
	s := completedSession(t, h)
	h.prober.online.Store(true)

	err := s.SubmitFinalResults(context.Background())
	if !errors.Is(err, domain.ErrUnauthorized) || !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("expected unauthorized submission failure, got %v", err)
	}
	if h.submitter.Calls() != 1 {
		t.Fatalf("unauthorized must not be retried, got %d calls", h.submitter.Calls())
	}
	if !h.identity.cleared.Load() {
		t.Fatalf("expected token cleared")
	}
	if _, ok := s.FinalResult(); !ok {
		t.Fatalf("final result must be kept")
	}
}

func TestSubmitWithoutResult(t *testing.T) {
	h := newHarness(t)
	s := h.open()
	if err := s.SubmitFinalResults(context.Background()); !errors.Is(err, domain.ErrNoFinalResult) {
		t.Fatalf("expected no final result, got %v", err)
	}
}

func TestSetLanguageSwapsUntouchedTemplate(t *testing.T) {
	h := newHarness(t)
	h.contest.Problems[0].Templates[domain.LanguageLua] = "-- sum"
	s := h.started()

	if err := s.SetLanguage(context.Background(), domain.LanguageLua); err != nil {
		t.Fatalf("set language: %v", err)
	}
	if st := s.State(); st.Language != domain.LanguageLua || st.Code != "-- sum" {
		t.Fatalf("expected lua template, got %+v", st)
	}
	if err := s.SetCode(context.Background(), "return 1"); err != nil {
		t.Fatalf("set code: %v", err)
	}
	if err := s.SetLanguage(context.Background(), domain.LanguageJavaScript); err != nil {
		t.Fatalf("set language: %v", err)
	}
	if st := s.State(); st.Code != "return 1" {
		t.Fatalf("edited code must be kept, got %q", st.Code)
	}
	if err := s.SetLanguage(context.Background(), "cobol"); !errors.Is(err, domain.ErrUnsupportedLanguage) {
		t.Fatalf("expected unsupported language, got %v", err)
	}
}

func TestScoreProblem(t *testing.T) {
	pass := func(points int) domain.ExecutionResult {
		return domain.ExecutionResult{Passed: true, TestCase: domain.TestCase{Points: points}}
	}
	fail := func(points int) domain.ExecutionResult {
		return domain.ExecutionResult{TestCase: domain.TestCase{Points: points}}
	}
	cases := []struct {
		name    string
		results []domain.ExecutionResult
		want    float64
	}{
		{"declared points", []domain.ExecutionResult{pass(30), fail(70)}, 30},
		{"even split", []domain.ExecutionResult{pass(0), pass(0), fail(0), fail(0)}, 50},
		{"no tests", nil, 0},
	}
	for _, c := range cases {
		if got := ScoreProblem(c.results); got != c.want {
			t.Fatalf("%s: expected %v, got %v", c.name, c.want, got)
		}
	}
}
