package watchdog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spiralos/guardian/internal/scanner"
)

type stubScanner struct {
	mu    sync.Mutex
	calls []scanner.Request
	err   error
	hook  func(ctx context.Context)
}

func (s *stubScanner) Scan(ctx context.Context, req scanner.Request) (*scanner.Report, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	err := s.err
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &scanner.Report{
		Success: true,
		Message: "Scanned 2 node(s)",
		Summary: scanner.Summary{NodesScanned: 2, TotalAnomaliesInserted: 1},
	}, nil
}

func (s *stubScanner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestNewWatchdogValidation(t *testing.T) {
	if _, err := NewWatchdog(&WatchdogDeps{}); err == nil {
		t.Error("Expected error without scanner")
	}

	bad := DefaultWatchdogConfig()
	bad.Interval = 0
	if _, err := NewWatchdog(&WatchdogDeps{Scanner: &stubScanner{}, Config: bad}); err == nil {
		t.Error("Expected error for invalid config")
	}

	w, err := NewWatchdog(&WatchdogDeps{Scanner: &stubScanner{}})
	if err != nil {
		t.Fatalf("NewWatchdog failed: %v", err)
	}
	if w.config.Interval != 5*time.Minute {
		t.Errorf("Expected default config, got interval %v", w.config.Interval)
	}
}

func TestTickScansAllNodes(t *testing.T) {
	sc := &stubScanner{}
	w, err := NewWatchdog(&WatchdogDeps{Scanner: sc})
	if err != nil {
		t.Fatalf("NewWatchdog failed: %v", err)
	}

	report, err := w.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if report.Summary.NodesScanned != 2 {
		t.Errorf("Expected 2 nodes scanned, got %d", report.Summary.NodesScanned)
	}
	if len(sc.calls) != 1 || !sc.calls[0].ScanAll || sc.calls[0].NodeID != "" {
		t.Errorf("Expected one scan_all request, got %+v", sc.calls)
	}

	status := w.GetStatus()
	if status.Ticks != 1 || status.LastReport != report || status.LastError != nil {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestTickRecordsSlowScans(t *testing.T) {
	cfg := DefaultWatchdogConfig()
	cfg.SlowTickThreshold = 10 * time.Millisecond

	sc := &stubScanner{}
	w, err := NewWatchdog(&WatchdogDeps{Scanner: sc, Config: cfg})
	if err != nil {
		t.Fatalf("NewWatchdog failed: %v", err)
	}

	if _, err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if status := w.GetStatus(); status.SlowTicks != 0 {
		t.Errorf("Expected no slow ticks, got %d", status.SlowTicks)
	}

	sc.mu.Lock()
	sc.hook = func(ctx context.Context) { time.Sleep(30 * time.Millisecond) }
	sc.mu.Unlock()
	if _, err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	status := w.GetStatus()
	if status.SlowTicks != 1 {
		t.Errorf("Expected 1 slow tick, got %d", status.SlowTicks)
	}
	if status.LastDuration < 30*time.Millisecond {
		t.Errorf("Expected last duration >= 30ms, got %v", status.LastDuration)
	}
	if status.Ticks != 2 {
		t.Errorf("Expected 2 ticks, got %d", status.Ticks)
	}
}

func TestTickFailuresBackOff(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sc := &stubScanner{err: errors.New("failed to list active nodes: connection refused")}
	w, err := NewWatchdog(&WatchdogDeps{Scanner: sc, Now: func() time.Time { return at }})
	if err != nil {
		t.Fatalf("NewWatchdog failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := w.Tick(context.Background()); err == nil {
			t.Fatal("Expected tick error")
		}
	}
	status := w.GetStatus()
	if !status.Backoff.IsBackedOff || status.Backoff.CurrentInterval != 10*time.Minute {
		t.Errorf("Expected backoff to 10m, got %+v", status.Backoff)
	}
	if status.LastError == nil {
		t.Error("Expected last error recorded")
	}

	sc.mu.Lock()
	sc.err = nil
	sc.mu.Unlock()
	if _, err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if w.GetStatus().Backoff.IsBackedOff {
		t.Error("Expected backoff cleared after a good scan")
	}
}

func TestStartStop(t *testing.T) {
	cfg := DefaultWatchdogConfig()
	cfg.Interval = time.Second
	cfg.RunOnStart = true
	cfg.BackoffConfig.MaxInterval = time.Minute

	sc := &stubScanner{}
	w, err := NewWatchdog(&WatchdogDeps{Scanner: sc, Config: cfg})
	if err != nil {
		t.Fatalf("NewWatchdog failed: %v", err)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Error("Expected error starting twice")
	}
	if !w.IsRunning() {
		t.Error("Expected running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for sc.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sc.count() == 0 {
		t.Fatal("Expected an immediate scan with RunOnStart")
	}

	w.Stop()
	if w.IsRunning() {
		t.Error("Expected stopped")
	}
	// Stop is idempotent
	w.Stop()
}

func TestStartDisabled(t *testing.T) {
	cfg := DefaultWatchdogConfig()
	cfg.Enabled = false
	w, err := NewWatchdog(&WatchdogDeps{Scanner: &stubScanner{}, Config: cfg})
	if err != nil {
		t.Fatalf("NewWatchdog failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("Disabled watchdog should not run")
	}
}
