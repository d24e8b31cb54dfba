package app

import (
	"context"
	"time"

	"offline-contest/internal/domain"
)

// Connectivity is the monitor as seen by a session.
type Connectivity interface {
	PerformCheck(ctx context.Context) domain.ConnectivityStatus
	StartMonitoring(interval time.Duration)
	StopMonitoring()
	Subscribe(fn func(domain.ConnectivityStatus)) func()
	HandleInternetViolation(ctx context.Context, contestID, userID string, reason domain.ViolationReason) domain.Violation
	ClearViolations(ctx context.Context, contestID string) error
}

// Executor runs participant code against test cases.
type Executor interface {
	RunCode(ctx context.Context, code string, lang domain.Language, testCases []domain.TestCase) ([]domain.ExecutionResult, error)
}

// Readiness reports whether a contest was prepared for offline use.
type Readiness interface {
	IsContestPrepared(ctx context.Context, contestID string) bool
}

// ContestCache serves the locally cached contest.
type ContestCache interface {
	Cached(ctx context.Context, contestID string) (domain.Contest, error)
}

// Identity is the identity collaborator.
type Identity interface {
	CurrentUserID() (string, error)
	DidUserChange(ctx context.Context, userID string) (bool, error)
	RememberUser(ctx context.Context, userID string) error
	ClearToken() error
}

// ResultSubmitter delivers a final result to the contest service.
type ResultSubmitter interface {
	SubmitFinalResult(ctx context.Context, result domain.FinalResult) error
}
