package domain

import "errors"

var (
	// ErrNotFound is returned by key-value stores for absent keys.
	ErrNotFound = errors.New("key not found")
	// ErrContestNotFound indicates the contest document could not be loaded.
	ErrContestNotFound = errors.New("contest not found")
	// ErrNoProblems indicates a contest resolved to zero usable problems.
	ErrNoProblems = errors.New("contest has no usable problems")
	// ErrContestNotStarted is returned for session actions before startContest.
	ErrContestNotStarted = errors.New("contest not started")
	// ErrContestCompleted is returned for session actions after completion.
	ErrContestCompleted = errors.New("contest already completed")
	// ErrContestAlreadyRunning rejects a second start of a live session.
	ErrContestAlreadyRunning = errors.New("contest already running")
	// ErrContestNotPrepared gates startContest on a finished preparation.
	ErrContestNotPrepared = errors.New("contest not prepared for offline use")
	// ErrUnsupportedLanguage is returned for languages without a runtime.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrRuntimeUnavailable is returned while a runtime is still loading.
	ErrRuntimeUnavailable = errors.New("language runtime not available")
	// ErrTimeLimitExceeded marks a test case that ran past the time limit.
	ErrTimeLimitExceeded = errors.New("time limit exceeded")
	// ErrOffline is returned by operations that need connectivity.
	ErrOffline = errors.New("network connection required")
	// ErrUnauthorized is returned when the remote rejects the bearer token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoFinalResult is returned when there is nothing to submit.
	ErrNoFinalResult = errors.New("no final result to submit")
	// ErrSubmissionInProgress rejects a submit while another one is running.
	ErrSubmissionInProgress = errors.New("final result submission already in progress")
	// ErrSubmissionFailed is returned once the retry budget is exhausted.
	ErrSubmissionFailed = errors.New("final result submission failed")
)
