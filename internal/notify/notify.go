// Package notify delivers best-effort alerts about detections and corrections.
//
// A Fanout sends each Notification to every configured Sink (Discord webhook,
// Redis pub/sub). Delivery failures are logged and counted, never returned to the
// caller: alerting must not change the outcome of a scan or a correction.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/spiralos/guardian/internal/metrics"
)

// Level is the urgency of a notification
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Field is one name/value line of a notification
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Notification is a sink-independent alert
type Notification struct {
	Level       Level     `json:"level"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	NodeID      string    `json:"node_id,omitempty"`
	Fields      []Field   `json:"fields,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Notification kinds
const (
	KindScanSummary       = "scan_summary"
	KindRegulationSummary = "regulation_summary"
	KindFreeze            = "freeze"
)

// Sink delivers a notification to one channel
type Sink interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Notifier is what the engine depends on. Send never fails from the caller's view.
type Notifier interface {
	Send(ctx context.Context, n *Notification)
}

// Nop discards every notification
type Nop struct{}

func (Nop) Send(ctx context.Context, n *Notification) {}

// Fanout sends each notification to every sink, subject to a shared rate limit.
// Critical notifications bypass the limit.
type Fanout struct {
	sinks   []Sink
	limiter *rate.Limiter
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewFanout creates a fanout over sinks. A nil limiter disables rate limiting.
func NewFanout(sinks []Sink, limiter *rate.Limiter, timeout time.Duration, m *metrics.Metrics) *Fanout {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fanout{sinks: sinks, limiter: limiter, timeout: timeout, metrics: m}
}

// Sinks returns the names of the configured sinks
func (f *Fanout) Sinks() []string {
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Send delivers n to all sinks concurrently and waits for them (each bounded by the timeout)
func (f *Fanout) Send(ctx context.Context, n *Notification) {
	if n == nil || len(f.sinks) == 0 {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	if n.Level != LevelCritical && f.limiter != nil && !f.limiter.Allow() {
		fmt.Printf("Warning: notification %q dropped (rate limited)\n", n.Title)
		for _, s := range f.sinks {
			f.metrics.RecordNotification(s.Name(), metrics.NotifyRateLimited)
		}
		return
	}

	// Deliveries must outlive a cancelled request context
	ctx = context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for _, s := range f.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()

			if err := s.Send(sendCtx, n); err != nil {
				fmt.Printf("Warning: %s notification failed: %v\n", s.Name(), err)
				f.metrics.RecordNotification(s.Name(), metrics.NotifyFailed)
				return
			}
			f.metrics.RecordNotification(s.Name(), metrics.NotifySent)
		}(s)
	}
	wg.Wait()
}

// Recorder is a Notifier that keeps every notification in memory
type Recorder struct {
	mu   sync.Mutex
	sent []*Notification
}

func (r *Recorder) Send(ctx context.Context, n *Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// Sent returns a copy of the recorded notifications
func (r *Recorder) Sent() []*Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// Of returns the recorded notifications of one kind
func (r *Recorder) Of(kind string) []*Notification {
	var out []*Notification
	for _, n := range r.Sent() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}
