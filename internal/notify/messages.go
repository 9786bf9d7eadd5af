package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/spiralos/guardian/internal/types"
)

// NodeFindings lists the anomalies inserted for one node during a scan
type NodeFindings struct {
	NodeID    string
	Anomalies []*types.Anomaly
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}

// ScanSummary builds the alert sent after a scan that inserted anomalies
func ScanSummary(nodesScanned, inserted int, findings []NodeFindings) *Notification {
	fields := make([]Field, 0, len(findings))
	for _, f := range findings {
		if len(f.Anomalies) == 0 {
			continue
		}
		lines := make([]string, 0, len(f.Anomalies))
		for _, a := range f.Anomalies {
			lines = append(lines, fmt.Sprintf("• %s (%s)", a.AnomalyType, a.Severity))
		}
		fields = append(fields, Field{
			Name:  "Node " + shortID(f.NodeID),
			Value: strings.Join(lines, "\n"),
		})
	}

	return &Notification{
		Level:       LevelWarning,
		Kind:        KindScanSummary,
		Message:     "⚠️ **Anomaly Detection Alert**",
		Title:       fmt.Sprintf("Detected %d New Anomaly(ies)", inserted),
		Description: fmt.Sprintf("Scanned %d node(s)", nodesScanned),
		Fields:      fields,
	}
}

// RegulationSummary builds the alert sent after a regulation run
func RegulationSummary(nodeID string, results []*types.CorrectionResult) *Notification {
	successes, failures := 0, 0
	var applied []string
	for _, r := range results {
		if r.Success {
			successes++
			applied = append(applied, "• "+string(r.CorrectionType))
		} else {
			failures++
		}
	}

	level := LevelInfo
	if failures > 0 {
		level = LevelWarning
	}
	appliedValue := "None"
	if len(applied) > 0 {
		appliedValue = strings.Join(applied, "\n")
	}

	return &Notification{
		Level:   level,
		Kind:    KindRegulationSummary,
		Message: "🔧 **Auto-Regulation Summary**",
		Title:   fmt.Sprintf("Processed %d Anomaly(ies)", len(results)),
		NodeID:  nodeID,
		Fields: []Field{
			{Name: "✅ Successful Corrections", Value: fmt.Sprintf("%d", successes), Inline: true},
			{Name: "❌ Failed Corrections", Value: fmt.Sprintf("%d", failures), Inline: true},
			{Name: "Corrections Applied", Value: appliedValue},
		},
	}
}

// FreezeAlert builds the high-priority alert sent when a node is frozen
func FreezeAlert(nodeID string, anomalyType types.AnomalyType, duration time.Duration) *Notification {
	return &Notification{
		Level:       LevelCritical,
		Kind:        KindFreeze,
		Message:     "🚨 **CRITICAL: Self-Preservation Freeze Activated**",
		Title:       "Self-Preservation Freeze Mode",
		Description: fmt.Sprintf("Node frozen due to CRITICAL anomaly: %s", anomalyType),
		NodeID:      nodeID,
		Fields: []Field{
			{Name: "Node ID", Value: nodeID, Inline: true},
			{Name: "Anomaly Type", Value: string(anomalyType), Inline: true},
			{Name: "Duration", Value: fmt.Sprintf("%d minutes", int(duration.Minutes())), Inline: true},
		},
	}
}
