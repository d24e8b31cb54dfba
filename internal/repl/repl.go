// Package repl is the participant's terminal shell for a running contest.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"offline-contest/internal/app"
	"offline-contest/internal/domain"
	"offline-contest/internal/logging"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"go.uber.org/zap"
)

// Session is the contest controller surface the shell drives.
type Session interface {
	Snapshot() app.Snapshot
	StartContest(ctx context.Context) error
	RunCode(ctx context.Context, code string) ([]domain.ExecutionResult, error)
	MarkProblemDone(ctx context.Context, code string) (domain.ProblemResult, error)
	SetLanguage(ctx context.Context, lang domain.Language) error
	SetCode(ctx context.Context, code string) error
	CheckConnectivity(ctx context.Context) domain.ConnectivityStatus
	SubmitFinalResults(ctx context.Context) error
	TimeLeft() string
	Elapsed() string
}

// Command is one parsed shell line.
type Command struct {
	Name string
	Args []string
}

var commandNames = []string{
	"start", "problem", "lang", "load", "watch", "unwatch", "run", "done",
	"time", "status", "check", "submit", "help", "exit",
}

var aliases = map[string]string{"quit": "exit", "q": "exit", "?": "help", "language": "lang"}

var errExit = errors.New("exit")

// Parse splits a shell line with shell quoting rules. An empty line yields a
// Command with no name.
func Parse(line string) (Command, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return Command{}, fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return Command{}, nil
	}
	name := strings.ToLower(tokens[0])
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	known := false
	for _, n := range commandNames {
		if n == name {
			known = true
			break
		}
	}
	if !known {
		return Command{}, fmt.Errorf("unknown command: %s", tokens[0])
	}
	cmd := Command{Name: name, Args: tokens[1:]}
	switch name {
	case "lang", "load", "watch":
		if len(cmd.Args) != 1 {
			return Command{}, fmt.Errorf("usage: %s <%s>", name, argName(name))
		}
	}
	return cmd, nil
}

func argName(cmd string) string {
	if cmd == "lang" {
		return "javascript|lua"
	}
	return "file"
}

// Shell executes commands against a session and prints to out.
type Shell struct {
	session Session
	out     io.Writer
	log     *zap.Logger

	mu      sync.Mutex
	code    string
	watcher *CodeWatcher
}

func New(session Session, out io.Writer, log *zap.Logger) *Shell {
	if out == nil {
		out = os.Stdout
	}
	return &Shell{session: session, out: out, log: logging.OrNop(log).Named("repl")}
}

// Run reads lines until exit, EOF or ctx cancellation.
func (s *Shell) Run(ctx context.Context, historyFile string) error {
	items := make([]readline.PrefixCompleterInterface, 0, len(commandNames))
	for _, name := range commandNames {
		items = append(items, readline.PcItem(name))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "contest> ",
		HistoryFile:     historyFile,
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          s.out,
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()
	defer s.stopWatch()

	go func() {
		<-ctx.Done()
		_ = rl.Close()
	}()

	s.printLine("type help for commands")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := s.Execute(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			s.printLine("error: %v", err)
		}
	}
}

// Execute runs a single shell line.
func (s *Shell) Execute(ctx context.Context, line string) error {
	cmd, err := Parse(line)
	if err != nil {
		return err
	}
	switch cmd.Name {
	case "":
		return nil
	case "exit":
		s.printLine("bye")
		return errExit
	case "help":
		s.printHelp()
	case "start":
		if err := s.session.StartContest(ctx); err != nil {
			return err
		}
		s.printProblem()
	case "problem":
		s.printProblem()
	case "lang":
		if err := s.session.SetLanguage(ctx, domain.Language(strings.ToLower(cmd.Args[0]))); err != nil {
			return err
		}
		// Loaded code belongs to the previous language.
		s.stopWatch()
		s.mu.Lock()
		dropped := s.code != ""
		s.code = ""
		s.mu.Unlock()
		s.printLine("language: %s", cmd.Args[0])
		if dropped {
			s.printLine("loaded code cleared, load a %s solution", cmd.Args[0])
		}
	case "load":
		return s.load(ctx, cmd.Args[0])
	case "watch":
		return s.watch(ctx, cmd.Args[0])
	case "unwatch":
		s.stopWatch()
		s.printLine("watch stopped")
	case "run":
		results, err := s.session.RunCode(ctx, s.currentCode())
		if err != nil {
			return err
		}
		s.printResults(results)
	case "done":
		result, err := s.session.MarkProblemDone(ctx, s.currentCode())
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.code = ""
		s.mu.Unlock()
		s.printLine("%s scored %.1f at %s", result.ProblemTitle, result.Score, result.ElapsedFormatted)
		s.printProblem()
	case "time":
		s.printLine("time left %s, elapsed %s", s.session.TimeLeft(), s.session.Elapsed())
	case "status":
		s.printStatus()
	case "check":
		status := s.session.CheckConnectivity(ctx)
		if status.IsOnline {
			s.printLine("online (%s): disconnect from the network to avoid penalties", status.Quality)
		} else {
			s.printLine("offline")
		}
		s.printStatus()
	case "submit":
		if err := s.session.SubmitFinalResults(ctx); err != nil {
			return err
		}
		s.printLine("final results submitted")
	}
	return nil
}

// currentCode prefers code loaded in the shell over the session's saved code.
func (s *Shell) currentCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.code != "" {
		return s.code
	}
	return s.session.Snapshot().State.Code
}

func (s *Shell) load(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	if err := s.setCode(ctx, string(raw)); err != nil {
		return err
	}
	s.printLine("loaded %s (%d bytes)", path, len(raw))
	return nil
}

func (s *Shell) setCode(ctx context.Context, code string) error {
	s.mu.Lock()
	s.code = code
	s.mu.Unlock()
	return s.session.SetCode(ctx, code)
}

func (s *Shell) watch(ctx context.Context, path string) error {
	if err := s.load(ctx, path); err != nil {
		return err
	}
	s.stopWatch()
	w, err := WatchFile(path, func(code string) {
		if err := s.setCode(ctx, code); err != nil {
			s.log.Warn("reloaded code rejected", zap.String("path", path), zap.Error(err))
			return
		}
		s.printLine("reloaded %s", path)
	}, s.log)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	s.printLine("watching %s", path)
	return nil
}

func (s *Shell) stopWatch() {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
}

func (s *Shell) printProblem() {
	snap := s.session.Snapshot()
	switch snap.Phase {
	case app.PhaseNotStarted:
		s.printLine("contest not started, type start")
		return
	case app.PhaseCompleted:
		s.printFinal(snap)
		return
	}
	if snap.Problem == nil {
		return
	}
	p := snap.Problem
	s.printLine("problem %d: %s", snap.State.CurrentProblemIndex+1, p.Title)
	s.printLine("%s", p.Description)
	for i, tc := range p.TestCases {
		s.printLine("  example %d: input=%q expected=%q", i+1, tc.Input, tc.ExpectedOutput)
	}
	if snap.State.Code != "" {
		s.printLine("starter code (%s):\n%s", snap.State.Language, snap.State.Code)
	}
}

func (s *Shell) printResults(results []domain.ExecutionResult) {
	passed := 0
	for i, r := range results {
		mark := "FAIL"
		if r.Passed {
			mark = "PASS"
			passed++
		}
		line := fmt.Sprintf("  test %d %s %.1fms output=%q", i+1, mark, r.ExecutionTimeMs, r.Output)
		if r.Error != "" {
			line += " error=" + r.Error
		}
		s.printLine("%s", line)
	}
	s.printLine("%d/%d passed", passed, len(results))
}

func (s *Shell) printStatus() {
	snap := s.session.Snapshot()
	s.printLine("phase %s, problem %d, violations %d, penalty %d, time left %s",
		snap.Phase, snap.State.CurrentProblemIndex+1, snap.State.ViolationCount, snap.State.PenaltyPoints, snap.TimeLeft)
	if snap.Warning {
		s.printLine("WARNING: internet connection detected, penalty applied")
	}
	if snap.Phase == app.PhaseCompleted {
		s.printFinal(snap)
	}
}

func (s *Shell) printFinal(snap app.Snapshot) {
	if snap.FinalResult == nil {
		s.printLine("contest completed")
		return
	}
	f := snap.FinalResult
	s.printLine("contest completed: score %.1f (penalty %d) in %s", f.TotalScore, f.PenaltyPoints, f.TotalTimeFormatted)
	switch snap.Submission {
	case app.SubmissionSucceeded:
		s.printLine("results submitted")
	case app.SubmissionFailed:
		s.printLine("submission failed: %s, reconnect and type submit", snap.SubmissionError)
	case app.SubmissionPending:
		s.printLine("submitting results...")
	default:
		if !f.Submitted {
			s.printLine("connect to the internet and type submit")
		}
	}
}

func (s *Shell) printHelp() {
	s.printLine(`commands:
  start             start the contest timer
  problem           show the current problem
  lang <language>   switch language (javascript, lua)
  load <file>       load code from a file
  watch <file>      load code and reload it on every save
  unwatch           stop watching
  run               run code against the test cases
  done              score the current problem and move on
  time              show remaining and elapsed time
  status            show session status
  check             re-check connectivity now
  submit            submit final results (needs internet)
  exit              leave the shell`)
}

func (s *Shell) printLine(format string, args ...any) {
	fmt.Fprintf(s.out, format+"\n", args...)
}
