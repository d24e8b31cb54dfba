package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"offline-contest/internal/domain"
	"offline-contest/internal/infra/memory"
	"offline-contest/internal/scheduler"
)

type fakeProber struct {
	mu      sync.Mutex
	calls   int
	latency time.Duration
	err     error
}

func (p *fakeProber) Probe(ctx context.Context) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.latency, p.err
}

func (p *fakeProber) set(latency time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency, p.err = latency, err
}

func (p *fakeProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeLink struct{ up bool }

func (l *fakeLink) Up() bool { return l.up }

func newTestMonitor(prober Prober, link LinkState) (*Monitor, *scheduler.Manual) {
	sched := scheduler.NewManual(time.Unix(1_700_000_000, 0))
	return NewMonitor(prober, link, sched, memory.NewKVStore(), nil, 0), sched
}

func TestPerformCheckLinkDownSkipsNetwork(t *testing.T) {
	prober := &fakeProber{latency: 10 * time.Millisecond}
	m, _ := newTestMonitor(prober, &fakeLink{up: false})

	for i := 0; i < 3; i++ {
		status := m.PerformCheck(context.Background())
		if status.IsOnline || status.Quality != domain.QualityOffline {
			t.Fatalf("expected offline status, got %+v", status)
		}
	}
	if prober.count() != 0 {
		t.Fatalf("expected no network calls, got %d", prober.count())
	}
}

func TestPerformCheckClassifiesLatency(t *testing.T) {
	prober := &fakeProber{latency: 120 * time.Millisecond}
	m, _ := newTestMonitor(prober, &fakeLink{up: true})

	status := m.PerformCheck(context.Background())
	if !status.IsOnline || status.Quality != domain.QualityGood {
		t.Fatalf("expected good status, got %+v", status)
	}
	if status.LatencyMs == nil || *status.LatencyMs != 120 {
		t.Fatalf("expected latency 120ms, got %v", status.LatencyMs)
	}

	prober.set(1500*time.Millisecond, nil)
	if status := m.PerformCheck(context.Background()); status.Quality != domain.QualityPoor || !status.IsOnline {
		t.Fatalf("expected poor status, got %+v", status)
	}

	prober.set(0, context.DeadlineExceeded)
	if status := m.PerformCheck(context.Background()); status.IsOnline || status.Quality != domain.QualityOffline {
		t.Fatalf("expected offline on probe failure, got %+v", status)
	}
}

func TestStatusInvariantHolds(t *testing.T) {
	prober := &fakeProber{}
	link := &fakeLink{up: true}
	m, _ := newTestMonitor(prober, link)

	var seen []domain.ConnectivityStatus
	m.Subscribe(func(s domain.ConnectivityStatus) { seen = append(seen, s) })

	prober.set(10*time.Millisecond, nil)
	m.PerformCheck(context.Background())
	prober.set(0, errors.New("dial tcp: no route"))
	m.PerformCheck(context.Background())
	link.up = false
	m.PerformCheck(context.Background())
	link.up = true
	prober.set(2*time.Second, nil)
	m.PerformCheck(context.Background())

	if len(seen) != 5 {
		t.Fatalf("expected initial + 4 updates, got %d", len(seen))
	}
	for _, s := range seen {
		if s.IsOnline == (s.Quality == domain.QualityOffline) {
			t.Fatalf("isOnline/offline invariant broken: %+v", s)
		}
	}
}

func TestStartStopMonitoringIsIdempotent(t *testing.T) {
	prober := &fakeProber{latency: time.Millisecond}
	m, sched := newTestMonitor(prober, &fakeLink{up: true})

	m.StartMonitoring(2 * time.Second)
	m.StartMonitoring(2 * time.Second)
	if !m.IsMonitoring() {
		t.Fatalf("expected monitoring active")
	}

	sched.Advance(0)
	if prober.count() != 1 {
		t.Fatalf("expected immediate check, got %d", prober.count())
	}
	sched.Advance(4 * time.Second)
	if prober.count() != 3 {
		t.Fatalf("expected one interval only (3 checks), got %d", prober.count())
	}

	m.StopMonitoring()
	m.StopMonitoring()
	if m.IsMonitoring() {
		t.Fatalf("expected monitoring stopped")
	}
	sched.Advance(10 * time.Second)
	if prober.count() != 3 {
		t.Fatalf("expected no checks after stop, got %d", prober.count())
	}
	if sched.Pending() != 0 {
		t.Fatalf("expected timers cancelled, got %d pending", sched.Pending())
	}

	m.StartMonitoring(time.Second)
	sched.Advance(time.Second)
	if prober.count() != 5 {
		t.Fatalf("expected restart to resume checks, got %d", prober.count())
	}
}

func TestSubscriberPanicDoesNotStopMonitoring(t *testing.T) {
	prober := &fakeProber{latency: time.Millisecond}
	m, sched := newTestMonitor(prober, &fakeLink{up: true})

	calls := 0
	m.Subscribe(func(domain.ConnectivityStatus) {
		calls++
		panic("ui crashed")
	})

	m.StartMonitoring(time.Second)
	sched.Advance(2 * time.Second)
	if prober.count() != 3 {
		t.Fatalf("expected monitoring to keep running, got %d checks", prober.count())
	}
	if calls != 4 {
		t.Fatalf("expected faulty subscriber to keep receiving updates, got %d", calls)
	}
}

func TestHandleInternetViolationAppends(t *testing.T) {
	m, _ := newTestMonitor(&fakeProber{latency: time.Millisecond}, &fakeLink{up: true})
	ctx := context.Background()
	m.PerformCheck(ctx)

	first := m.HandleInternetViolation(ctx, "c1", "u1", domain.ReasonOnlineDetected)
	m.HandleInternetViolation(ctx, "c1", "u1", domain.ReasonPageRefreshOnline)

	if !first.StatusSnapshot.IsOnline {
		t.Fatalf("expected online snapshot, got %+v", first.StatusSnapshot)
	}
	log := m.Violations(ctx, "c1")
	if len(log) != 2 || log[1].Reason != domain.ReasonPageRefreshOnline {
		t.Fatalf("unexpected violation log %+v", log)
	}
	if log[0].ID != first.ID || first.ID == "" || log[1].ID == first.ID {
		t.Fatalf("expected distinct stable violation ids, got %q and %q", log[0].ID, log[1].ID)
	}

	if err := m.ClearViolations(ctx, "c1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(m.Violations(ctx, "c1")) != 0 {
		t.Fatalf("expected empty log")
	}
}

func TestLastKnownPersisted(t *testing.T) {
	m, _ := newTestMonitor(&fakeProber{latency: time.Millisecond}, &fakeLink{up: true})
	if _, ok := m.LastKnown(context.Background()); ok {
		t.Fatalf("expected no marker before first check")
	}
	m.PerformCheck(context.Background())
	last, ok := m.LastKnown(context.Background())
	if !ok || !last.IsOnline {
		t.Fatalf("expected online marker, got %+v ok=%v", last, ok)
	}
}

func TestHTTPProberAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if _, err := NewHTTPProber(srv.Client(), srv.URL).Probe(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}

	srv.Close()
	if _, err := NewHTTPProber(nil, srv.URL).Probe(context.Background()); err == nil {
		t.Fatalf("expected error against closed server")
	}
}
