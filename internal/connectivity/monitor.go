// Package connectivity classifies outbound network reachability and keeps
// the tamper-evident violation log for contest sessions.
package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"offline-contest/internal/domain"
	"offline-contest/internal/logging"
	"offline-contest/internal/observer"
	"offline-contest/internal/scheduler"
	"offline-contest/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultInterval     = 2 * time.Second
	DefaultProbeTimeout = 3 * time.Second
	poorLatency         = time.Second
)

// Monitor owns the ConnectivityStatus and the violation log. It never
// returns errors: every failure is normalized to an offline status.
type Monitor struct {
	prober  Prober
	link    LinkState
	sched   scheduler.Scheduler
	store   storage.Store
	log     *zap.Logger
	timeout time.Duration

	status *observer.Broadcaster[domain.ConnectivityStatus]

	mu       sync.Mutex
	ticker   scheduler.Timer
	kick     scheduler.Timer
	checking atomic.Bool

	violationMu sync.Mutex
}

// NewMonitor builds a monitor; timeout bounds every probe (default 3s).
func NewMonitor(prober Prober, link LinkState, sched scheduler.Scheduler, store storage.Store, log *zap.Logger, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	log = logging.OrNop(log).Named("connectivity")
	return &Monitor{
		prober:  prober,
		link:    link,
		sched:   sched,
		store:   store,
		log:     log,
		timeout: timeout,
		status:  observer.New("connectivity", domain.OfflineStatus(time.Time{}), log),
	}
}

// PerformCheck refreshes the status and notifies subscribers. When the
// platform link is down no network call is made.
func (m *Monitor) PerformCheck(ctx context.Context) domain.ConnectivityStatus {
	var status domain.ConnectivityStatus
	if !m.link.Up() {
		status = domain.OfflineStatus(m.sched.Now())
	} else {
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		latency, err := m.prober.Probe(probeCtx)
		cancel()
		if err != nil {
			m.log.Debug("probe failed", zap.Error(err))
			status = domain.OfflineStatus(m.sched.Now())
		} else {
			ms := latency.Milliseconds()
			quality := domain.QualityGood
			if latency >= poorLatency {
				quality = domain.QualityPoor
			}
			status = domain.ConnectivityStatus{
				IsOnline:    true,
				LastChecked: m.sched.Now(),
				Quality:     quality,
				LatencyMs:   &ms,
			}
		}
	}

	if err := storage.SetJSON(ctx, m.store, storage.KeyLastConnectivity, status); err != nil {
		m.log.Warn("persist connectivity marker failed", zap.Error(err))
	}
	m.status.Publish(status)
	return status
}

// StartMonitoring checks immediately and then every interval. A second call
// while monitoring is a no-op.
func (m *Monitor) StartMonitoring(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ticker != nil {
		return
	}
	m.kick = m.sched.After(0, m.tick)
	m.ticker = m.sched.Every(interval, m.tick)
	m.log.Debug("monitoring started", zap.Duration("interval", interval))
}

// StopMonitoring cancels the interval; safe to call when not monitoring.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ticker == nil {
		return
	}
	m.kick.Stop()
	m.ticker.Stop()
	m.kick, m.ticker = nil, nil
	m.log.Debug("monitoring stopped")
}

// IsMonitoring reports whether the periodic check is active.
func (m *Monitor) IsMonitoring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticker != nil
}

// tick skips a round while a previous probe is still outstanding.
func (m *Monitor) tick() {
	if !m.checking.CompareAndSwap(false, true) {
		return
	}
	defer m.checking.Store(false)
	m.PerformCheck(context.Background())
}

// Status returns the latest status.
func (m *Monitor) Status() domain.ConnectivityStatus {
	return m.status.Current()
}

// Subscribe delivers the current status immediately and every update after.
func (m *Monitor) Subscribe(fn func(domain.ConnectivityStatus)) func() {
	return m.status.Subscribe(fn)
}

// Channel exposes the status stream to goroutine consumers.
func (m *Monitor) Channel(size int) (<-chan domain.ConnectivityStatus, func()) {
	return m.status.Channel(size)
}

// LastKnown returns the status persisted by the previous process, if any.
func (m *Monitor) LastKnown(ctx context.Context) (domain.ConnectivityStatus, bool) {
	var status domain.ConnectivityStatus
	found, err := storage.GetJSON(ctx, m.store, storage.KeyLastConnectivity, &status)
	if err != nil {
		m.log.Warn("read connectivity marker failed", zap.Error(err))
		return status, false
	}
	return status, found
}

// HandleInternetViolation appends a violation carrying the current status
// snapshot and returns it. Persistence failures are logged; the record is
// still returned.
func (m *Monitor) HandleInternetViolation(ctx context.Context, contestID, userID string, reason domain.ViolationReason) domain.Violation {
	violation := domain.Violation{
		ID:             uuid.NewString(),
		ContestID:      contestID,
		UserID:         userID,
		Timestamp:      m.sched.Now(),
		Reason:         reason,
		StatusSnapshot: m.Status(),
	}

	m.violationMu.Lock()
	defer m.violationMu.Unlock()
	violations := m.violationsLocked(ctx, contestID)
	violations = append(violations, violation)
	if err := storage.SetJSON(ctx, m.store, storage.ViolationsKey(contestID), violations); err != nil {
		m.log.Error("persist violation failed", zap.String("contest_id", contestID), zap.Error(err))
	}
	m.log.Warn("internet violation recorded",
		zap.String("contest_id", contestID),
		zap.String("user_id", userID),
		zap.String("reason", string(reason)))
	return violation
}

// Violations returns the persisted violation log for a contest.
func (m *Monitor) Violations(ctx context.Context, contestID string) []domain.Violation {
	m.violationMu.Lock()
	defer m.violationMu.Unlock()
	return m.violationsLocked(ctx, contestID)
}

// ClearViolations wipes the log; used only when a different user takes over the device.
func (m *Monitor) ClearViolations(ctx context.Context, contestID string) error {
	m.violationMu.Lock()
	defer m.violationMu.Unlock()
	return m.store.Remove(ctx, storage.ViolationsKey(contestID))
}

func (m *Monitor) violationsLocked(ctx context.Context, contestID string) []domain.Violation {
	var violations []domain.Violation
	if _, err := storage.GetJSON(ctx, m.store, storage.ViolationsKey(contestID), &violations); err != nil {
		m.log.Warn("violation log unreadable, starting fresh", zap.String("contest_id", contestID), zap.Error(err))
		return nil
	}
	return violations
}
