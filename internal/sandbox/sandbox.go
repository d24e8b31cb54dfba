// Package sandbox runs untrusted participant code against test cases inside
// the process, using embedded interpreters that have no file system, process
// or persistent storage access.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offline-contest/internal/domain"
	"offline-contest/internal/logging"

	"go.uber.org/zap"
)

const DefaultTimeLimit = 5 * time.Second

// Outcome is what one program run produced before grading.
type Outcome struct {
	Stdout string
	Value  string
}

// Runtime executes a complete program for one language. Input is exposed to
// the program as its standard-input surrogate; the returned error is the
// program's own runtime failure.
type Runtime interface {
	Language() domain.Language
	Ready() bool
	Run(ctx context.Context, code, input string) (Outcome, error)
}

// Loader is implemented by runtimes that need a one-time load before use.
type Loader interface {
	Load(ctx context.Context) error
}

// Sandbox dispatches runs to the runtime registered for a language.
type Sandbox struct {
	runtimes  map[domain.Language]Runtime
	timeLimit time.Duration
	log       *zap.Logger
}

// New registers runtimes; timeLimit bounds each test case (default 5s).
func New(log *zap.Logger, timeLimit time.Duration, runtimes ...Runtime) *Sandbox {
	if timeLimit <= 0 {
		timeLimit = DefaultTimeLimit
	}
	s := &Sandbox{
		runtimes:  make(map[domain.Language]Runtime, len(runtimes)),
		timeLimit: timeLimit,
		log:       logging.OrNop(log).Named("sandbox"),
	}
	for _, rt := range runtimes {
		s.runtimes[rt.Language()] = rt
	}
	return s
}

// Languages lists the registered languages.
func (s *Sandbox) Languages() []domain.Language {
	out := make([]domain.Language, 0, len(s.runtimes))
	for _, lang := range []domain.Language{domain.LanguageJavaScript, domain.LanguageLua} {
		if _, ok := s.runtimes[lang]; ok {
			out = append(out, lang)
		}
	}
	return out
}

// Ready reports whether lang can run right now.
func (s *Sandbox) Ready(lang domain.Language) bool {
	rt, ok := s.runtimes[lang]
	return ok && rt.Ready()
}

// WarmUp loads the runtime for lang if it needs loading and runs a trivial
// program to prove it executes.
func (s *Sandbox) WarmUp(ctx context.Context, lang domain.Language) error {
	rt, ok := s.runtimes[lang]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedLanguage, lang)
	}
	if loader, ok := rt.(Loader); ok {
		if err := loader.Load(ctx); err != nil {
			return fmt.Errorf("load %s runtime: %w", lang, err)
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, s.timeLimit)
	defer cancel()
	if _, err := rt.Run(runCtx, warmUpProgram(lang), ""); err != nil {
		return fmt.Errorf("warm up %s runtime: %w", lang, err)
	}
	return nil
}

func warmUpProgram(lang domain.Language) string {
	if lang == domain.LanguageLua {
		return "return 1 + 1"
	}
	return "1 + 1"
}

// RunCode runs code against every test case in input order. A failure inside
// one test case yields a failed result for that case only. Unknown or not yet
// loaded languages fail the whole call.
func (s *Sandbox) RunCode(ctx context.Context, code string, lang domain.Language, testCases []domain.TestCase) ([]domain.ExecutionResult, error) {
	rt, ok := s.runtimes[lang]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedLanguage, lang)
	}
	if !rt.Ready() {
		return nil, fmt.Errorf("%w: %s", domain.ErrRuntimeUnavailable, lang)
	}

	results := make([]domain.ExecutionResult, 0, len(testCases))
	for i, tc := range testCases {
		result := s.runOne(ctx, rt, code, tc)
		if result.Error != "" {
			s.log.Debug("test case failed", zap.Int("test", i), zap.String("language", string(lang)), zap.String("error", result.Error))
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *Sandbox) runOne(ctx context.Context, rt Runtime, code string, tc domain.TestCase) (result domain.ExecutionResult) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeLimit)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = Judge(Outcome{}, fmt.Errorf("runtime panic: %v", r), tc)
			result.ExecutionTimeMs = elapsedMs(start)
		}
	}()

	outcome, err := rt.Run(runCtx, code, tc.Input)
	if err != nil && runCtx.Err() != nil && ctx.Err() == nil {
		err = domain.ErrTimeLimitExceeded
	}
	result = Judge(outcome, err, tc)
	result.ExecutionTimeMs = elapsedMs(start)
	return result
}

// Judge applies the comparison policy: a run passes when either its
// normalized return value or its trimmed standard output equals the expected
// output. Any runtime error fails the case and is surfaced as the output.
func Judge(outcome Outcome, runErr error, tc domain.TestCase) domain.ExecutionResult {
	result := domain.ExecutionResult{TestCase: tc}
	if runErr != nil {
		msg := runErr.Error()
		if errors.Is(runErr, domain.ErrTimeLimitExceeded) {
			msg = domain.ErrTimeLimitExceeded.Error()
		}
		result.Output = msg
		result.Error = msg
		return result
	}

	expected := normalizeText(tc.ExpectedOutput)
	stdout := normalizeText(outcome.Stdout)
	value := normalizeText(outcome.Value)

	result.Passed = value == expected || stdout == expected
	if stdout != "" {
		result.Output = stdout
	} else {
		result.Output = value
	}
	return result
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
