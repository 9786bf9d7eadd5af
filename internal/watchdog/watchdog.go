// Package watchdog runs the timer-triggered scan of every active node.
package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spiralos/guardian/internal/scanner"
)

// Scanner runs one scan request
type Scanner interface {
	Scan(ctx context.Context, req scanner.Request) (*scanner.Report, error)
}

// Watchdog periodically scans every active node
type Watchdog struct {
	mu sync.RWMutex

	scanner Scanner
	config  *WatchdogConfig
	now     func() time.Time

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	running      bool
	ticks        int
	slowTicks    int
	lastDuration time.Duration
	lastReport   *scanner.Report
	lastErr      error
}

// WatchdogDeps holds dependencies for creating a Watchdog
type WatchdogDeps struct {
	Scanner Scanner
	Config  *WatchdogConfig
	Now     func() time.Time
}

// NewWatchdog creates a new watchdog instance
func NewWatchdog(deps *WatchdogDeps) (*Watchdog, error) {
	if deps.Scanner == nil {
		return nil, fmt.Errorf("scanner is required")
	}

	config := deps.Config
	if config == nil {
		config = DefaultWatchdogConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid watchdog config: %w", err)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Watchdog{
		scanner: deps.Scanner,
		config:  config,
		now:     now,
	}, nil
}

// Start begins the scan loop
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watchdog already running")
	}

	if !w.config.Enabled {
		fmt.Println("Watchdog: disabled by configuration, not starting")
		return nil
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.running = true

	w.wg.Add(1)
	go w.loop()

	fmt.Printf("Watchdog: started (interval=%v)\n", w.config.GetCurrentInterval())
	return nil
}

// Stop gracefully stops the loop, waiting for an in-flight scan
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	fmt.Println("Watchdog: stopping...")
	w.cancel()
	w.running = false
	w.mu.Unlock()

	w.wg.Wait()
	fmt.Println("Watchdog: stopped")
}

// IsRunning reports whether the loop is active
func (w *Watchdog) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Watchdog) loop() {
	defer w.wg.Done()

	first := w.config.GetCurrentInterval()
	if w.config.RunOnStart {
		first = 0
	}

	// Timer rather than ticker so backoff can change the interval
	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-timer.C:
			if _, err := w.Tick(w.ctx); err != nil {
				fmt.Printf("Watchdog: scan failed: %v\n", err)
			}
			timer.Reset(w.config.GetCurrentInterval())
		}
	}
}

// Tick runs one scan of every active node.
// Detector errors inside a successful scan do not count as a failure.
func (w *Watchdog) Tick(ctx context.Context) (*scanner.Report, error) {
	started := time.Now()
	report, err := w.scanner.Scan(ctx, scanner.Request{ScanAll: true})
	elapsed := time.Since(started)

	slow := elapsed > w.config.SlowTickThreshold
	if slow {
		fmt.Printf("Watchdog: scan took %v (threshold %v)\n", elapsed.Round(time.Millisecond), w.config.SlowTickThreshold)
	}

	w.mu.Lock()
	w.ticks++
	if slow {
		w.slowTicks++
	}
	w.lastDuration = elapsed
	w.lastErr = err
	if err == nil {
		w.lastReport = report
	}
	w.mu.Unlock()

	if err != nil {
		w.config.RecordFailure(w.now())
		return nil, err
	}
	w.config.RecordSuccess()

	if report.Summary.TotalAnomaliesInserted > 0 {
		fmt.Printf("Watchdog: %s, %d new anomaly(ies)\n", report.Message, report.Summary.TotalAnomaliesInserted)
	}
	return report, nil
}

// Status is a snapshot of the loop for diagnostics
type Status struct {
	Running      bool
	Ticks        int
	SlowTicks    int
	LastDuration time.Duration
	LastReport   *scanner.Report
	LastError    error
	Backoff      BackoffState
}

// GetStatus returns the loop state
func (w *Watchdog) GetStatus() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Status{
		Running:      w.running,
		Ticks:        w.ticks,
		SlowTicks:    w.slowTicks,
		LastDuration: w.lastDuration,
		LastReport:   w.lastReport,
		LastError:    w.lastErr,
		Backoff:      w.config.GetBackoffState(),
	}
}
