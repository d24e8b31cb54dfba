package domain

import (
	"fmt"
	"time"
)

// Language identifies a supported execution runtime.
type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguageLua        Language = "lua"
)

// Quality grades outbound network usability.
type Quality string

const (
	QualityGood    Quality = "good"
	QualityPoor    Quality = "poor"
	QualityOffline Quality = "offline"
)

// ConnectivityStatus is the monitor's latest judgment of reachability.
// Quality is offline exactly when IsOnline is false.
type ConnectivityStatus struct {
	IsOnline    bool      `json:"isOnline"`
	LastChecked time.Time `json:"lastChecked"`
	Quality     Quality   `json:"quality"`
	LatencyMs   *int64    `json:"latencyMs,omitempty"`
}

// OfflineStatus builds the canonical offline status.
func OfflineStatus(at time.Time) ConnectivityStatus {
	return ConnectivityStatus{IsOnline: false, LastChecked: at, Quality: QualityOffline}
}

// ViolationReason tags how a violation was detected.
type ViolationReason string

const (
	ReasonOnlineDetected    ViolationReason = "online_detected"
	ReasonPageRefreshOnline ViolationReason = "page_refresh_online"
	ReasonManualCheck       ViolationReason = "manual_check"
)

// Violation is an append-only record of the network being reachable mid-contest.
type Violation struct {
	ID             string             `json:"id"`
	ContestID      string             `json:"contestId"`
	UserID         string             `json:"userId"`
	Timestamp      time.Time          `json:"timestamp"`
	Reason         ViolationReason    `json:"reason"`
	StatusSnapshot ConnectivityStatus `json:"statusSnapshot"`
}

// Stage is a preparation lifecycle state.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageDownloading Stage = "downloading"
	StagePreparing   Stage = "preparing"
	StageReady       Stage = "ready"
	StageError       Stage = "error"
)

// PreparationProgress is the single live preparation state of the process.
type PreparationProgress struct {
	Stage    Stage  `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Details  string `json:"details,omitempty"`
}

// TestCase is supplied by the problem definition and never mutated.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
	Description    string `json:"description,omitempty"`
	Points         int    `json:"points,omitempty"`
}

// ExecutionResult is the outcome of running one test case.
type ExecutionResult struct {
	Passed          bool     `json:"passed"`
	ExecutionTimeMs float64  `json:"executionTimeMs"`
	Output          string   `json:"output"`
	Error           string   `json:"error,omitempty"`
	TestCase        TestCase `json:"testCase"`
}

// Problem is a normalized contest problem.
type Problem struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Order       int                 `json:"order"`
	TestCases   []TestCase          `json:"testCases"`
	Templates   map[Language]string `json:"templates,omitempty"`
	Harness     map[Language]string `json:"harness,omitempty"`
}

// Template returns the starter code for lang, if any.
func (p Problem) Template(lang Language) string {
	if p.Templates == nil {
		return ""
	}
	return p.Templates[lang]
}

// CombinedCode appends the language harness, if the problem defines one.
func (p Problem) CombinedCode(code string, lang Language) string {
	if p.Harness == nil || p.Harness[lang] == "" {
		return code
	}
	return code + "\n" + p.Harness[lang]
}

// Contest is the offline-usable view of a contest document.
type Contest struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	DurationMinutes int       `json:"durationMinutes"`
	Problems        []Problem `json:"problems"`
}

// Duration returns the contest length, or fallback when undeclared.
func (c Contest) Duration(fallback time.Duration) time.Duration {
	if c.DurationMinutes <= 0 {
		return fallback
	}
	return time.Duration(c.DurationMinutes) * time.Minute
}

// ProblemResult is appended once per completed problem.
type ProblemResult struct {
	UserID           string            `json:"userId"`
	ProblemID        string            `json:"problemId"`
	ProblemTitle     string            `json:"problemTitle"`
	Score            float64           `json:"score"`
	ElapsedFormatted string            `json:"elapsedFormatted"`
	Language         Language          `json:"language"`
	Code             string            `json:"code"`
	TestResults      []ExecutionResult `json:"testResults"`
	Timestamp        time.Time         `json:"timestamp"`
}

// ContestSessionState is the persisted session snapshot for one user and device.
type ContestSessionState struct {
	UserID              string          `json:"userId"`
	ContestID           string          `json:"contestId"`
	ContestStarted      bool            `json:"contestStarted"`
	CurrentProblemIndex int             `json:"currentProblemIndex"`
	ProblemResults      []ProblemResult `json:"problemResults"`
	ContestCompleted    bool            `json:"contestCompleted"`
	TimeLeftSeconds     int             `json:"timeLeftSeconds"`
	ContestStartTime    time.Time       `json:"contestStartTime"`
	ViolationCount      int             `json:"violationCount"`
	PenaltyPoints       int             `json:"penaltyPoints"`
	Language            Language        `json:"language,omitempty"`
	Code                string          `json:"code,omitempty"`
}

// ProblemScore is the per-problem line of a final result.
type ProblemScore struct {
	ProblemID string  `json:"problemId"`
	Score     float64 `json:"score"`
}

// FinalResult is the authoritative summary of a completed session.
type FinalResult struct {
	UserID             string         `json:"userId"`
	ContestID          string         `json:"contestId"`
	TotalScore         float64        `json:"totalScore"`
	PenaltyPoints      int            `json:"penaltyPoints"`
	ViolationCount     int            `json:"violationCount"`
	ProblemResults     []ProblemScore `json:"problemResults"`
	TotalTimeFormatted string         `json:"totalTimeFormatted"`
	Timestamp          time.Time      `json:"timestamp"`
	Submitted          bool           `json:"submitted"`
}

// FormatClock renders d as HH:MM:SS, clamping negatives to zero.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
