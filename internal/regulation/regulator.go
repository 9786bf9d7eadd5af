package regulation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spiralos/guardian/internal/metrics"
	"github.com/spiralos/guardian/internal/notify"
	"github.com/spiralos/guardian/internal/storage"
	"github.com/spiralos/guardian/internal/types"
)

// ErrInvalidRequest is returned for requests naming neither an anomaly nor a node
var ErrInvalidRequest = errors.New("anomaly_id or bridge_id is required")

// Request selects what to regulate: one anomaly, or every ACTIVE anomaly of a node
type Request struct {
	AnomalyID string               `json:"anomaly_id,omitempty"`
	NodeID    string               `json:"bridge_id,omitempty"`
	Mode      types.RegulationMode `json:"mode,omitempty"`
}

// Validate checks the request and fills in the default mode
func (r *Request) Validate() error {
	if r.AnomalyID == "" && r.NodeID == "" {
		return ErrInvalidRequest
	}
	if r.Mode == "" {
		r.Mode = types.ModeAuto
	}
	if !r.Mode.IsValid() {
		return fmt.Errorf("invalid mode: %s", r.Mode)
	}
	return nil
}

// Correction is the per-anomaly entry of a Report
type Correction struct {
	AnomalyID     string                  `json:"anomaly_id"`
	NodeID        string                  `json:"bridge_id"`
	AnomalyType   types.AnomalyType       `json:"anomaly_type"`
	Severity      types.Severity          `json:"severity"`
	Result        *types.CorrectionResult `json:"result"`
	Skipped       bool                    `json:"skipped,omitempty"`
	FreezeApplied bool                    `json:"freeze_applied,omitempty"`
	Resolved      bool                    `json:"resolved"`
}

// Summary counts the outcomes of a Report
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Report is the response of one regulation request
type Report struct {
	Success          bool         `json:"success"`
	Message          string       `json:"message"`
	Corrections      []Correction `json:"corrections"`
	Summary          *Summary     `json:"summary,omitempty"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
}

// Regulator processes regulation requests by dispatching each selected anomaly in turn
type Regulator struct {
	anomalies  storage.AnomalyStore
	dispatcher *Dispatcher
	notifier   notify.Notifier
	metrics    *metrics.Metrics
}

// NewRegulator creates a regulator. A nil notifier drops summaries.
func NewRegulator(anomalies storage.AnomalyStore, dispatcher *Dispatcher, notifier notify.Notifier, m *metrics.Metrics) *Regulator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Regulator{anomalies: anomalies, dispatcher: dispatcher, notifier: notifier, metrics: m}
}

// Dispatcher returns the underlying dispatcher
func (r *Regulator) Dispatcher() *Dispatcher {
	return r.dispatcher
}

// Regulate selects anomalies per the request, dispatches them sequentially and
// sends one summary notification. An unknown anomaly ID returns types.ErrNotFound.
func (r *Regulator) Regulate(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r.metrics.RegulationStarted()
	defer r.metrics.RegulationFinished()

	anomalies, err := r.selectAnomalies(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(anomalies) == 0 {
		return &Report{
			Success:          true,
			Message:          "No active anomalies to process",
			Corrections:      []Correction{},
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	fmt.Printf("Regulator: processing %d anomaly(ies) (mode %s)\n", len(anomalies), req.Mode)

	report := &Report{Success: true, Corrections: make([]Correction, 0, len(anomalies))}
	results := make([]*types.CorrectionResult, 0, len(anomalies))
	for _, a := range anomalies {
		c := r.dispatchOne(ctx, a, req.Mode)
		report.Corrections = append(report.Corrections, c)
		results = append(results, c.Result)
	}

	summary := &Summary{Total: len(report.Corrections)}
	for _, c := range report.Corrections {
		if c.Result.Success {
			summary.Successful++
		}
	}
	summary.Failed = summary.Total - summary.Successful
	report.Summary = summary
	report.Message = fmt.Sprintf("Processed %d anomaly(ies)", summary.Total)

	r.notifier.Send(ctx, notify.RegulationSummary(anomalies[0].NodeID, results))

	fmt.Printf("Regulator: completed %d/%d successful\n", summary.Successful, summary.Total)
	report.ProcessingTimeMs = time.Since(start).Milliseconds()
	return report, nil
}

func (r *Regulator) selectAnomalies(ctx context.Context, req Request) ([]*types.Anomaly, error) {
	if req.AnomalyID != "" {
		a, err := r.anomalies.GetAnomaly(ctx, req.AnomalyID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch anomaly: %w", err)
		}
		if a == nil {
			return nil, fmt.Errorf("anomaly %s: %w", req.AnomalyID, types.ErrNotFound)
		}
		if !a.IsActive() {
			return nil, nil
		}
		return []*types.Anomaly{a}, nil
	}

	status := types.AnomalyActive
	found, err := r.anomalies.ListAnomalies(ctx, types.AnomalyFilter{NodeID: req.NodeID, Status: &status})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch anomalies: %w", err)
	}
	SortForRegulation(found)
	return found, nil
}

// SortForRegulation orders anomalies most severe first, then oldest first
func SortForRegulation(anomalies []*types.Anomaly) {
	sort.SliceStable(anomalies, func(i, j int) bool {
		ri, rj := anomalies[i].Severity.Rank(), anomalies[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return anomalies[i].DetectedAt.Before(anomalies[j].DetectedAt)
	})
}

func (r *Regulator) dispatchOne(ctx context.Context, a *types.Anomaly, mode types.RegulationMode) Correction {
	c := Correction{
		AnomalyID:   a.ID,
		NodeID:      a.NodeID,
		AnomalyType: a.AnomalyType,
		Severity:    a.Severity,
	}

	outcome, err := r.dispatcher.Dispatch(ctx, a, mode)
	switch {
	case errors.Is(err, types.ErrAlreadyResolved):
		c.Result = types.Skipped(types.CorrectionNone, "Anomaly already resolved")
		c.Skipped = true
		c.Resolved = true
	case err != nil:
		c.Result = failed(types.CorrectionNone, "Error: %v", err)
	default:
		c.Result = outcome.Result
		c.Skipped = outcome.Skipped
		c.FreezeApplied = outcome.FreezeApplied
		c.Resolved = outcome.Resolved
	}
	return c
}
