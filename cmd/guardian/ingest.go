package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/spiralos/guardian/internal/storage"
	"github.com/spiralos/guardian/internal/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [node-id]",
	Short: "Record telemetry samples or a coherence value",
	Long: `Record one telemetry sample from flags, or many from a JSON-lines file.

  guardian ingest node-1 --health 0.9 --ache 0.2 --state aligned
  guardian ingest node-1 --coherence 0.62
  guardian ingest --file samples.jsonl      (use - for stdin)

Each JSON line is a telemetry sample: {"node_id": "...", "ache_signature": 0.4, ...}.
A missing timestamp defaults to now.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		file, _ := cmd.Flags().GetString("file")

		if file != "" {
			var r io.Reader = os.Stdin
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", file, err)
				}
				defer f.Close()
				r = f
			}
			n, err := ingestLines(ctx, store, r, time.Now)
			fmt.Printf("%s Ingested %d sample(s)\n", statusIcon(err == nil), n)
			return err
		}

		if len(args) != 1 {
			return fmt.Errorf("node id is required unless --file is given")
		}
		nodeID := args[0]

		if cmd.Flags().Changed("coherence") {
			value, _ := cmd.Flags().GetFloat64("coherence")
			if err := recordCoherence(ctx, store, nodeID, value, time.Now()); err != nil {
				return err
			}
			fmt.Printf("%s Coherence for %s set to %.4f\n", green("✓"), nodeID, value)
			return nil
		}

		sample := &types.TelemetrySample{NodeID: nodeID, Timestamp: time.Now()}
		sample.EventType, _ = cmd.Flags().GetString("event-type")
		sample.Source, _ = cmd.Flags().GetString("source")
		sample.SovereignState, _ = cmd.Flags().GetString("state")
		if cmd.Flags().Changed("health") {
			v, _ := cmd.Flags().GetFloat64("health")
			sample.HealthSignal = &v
		}
		if cmd.Flags().Changed("ache") {
			v, _ := cmd.Flags().GetFloat64("ache")
			sample.AcheSignature = &v
		}
		if err := sample.Validate(); err != nil {
			return fmt.Errorf("invalid sample: %w", err)
		}
		if err := store.InsertTelemetry(ctx, sample); err != nil {
			return fmt.Errorf("failed to insert telemetry: %w", err)
		}
		fmt.Printf("%s Recorded %s sample for %s\n", green("✓"), sample.EventType, nodeID)
		return nil
	},
}

// ingestLines inserts one telemetry sample per non-empty JSON line.
// It stops at the first invalid line and returns how many samples were stored.
func ingestLines(ctx context.Context, telemetry storage.TelemetryStore, r io.Reader, now func() time.Time) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	n, line := 0, 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var sample types.TelemetrySample
		if err := json.Unmarshal(raw, &sample); err != nil {
			return n, fmt.Errorf("line %d: failed to parse sample: %w", line, err)
		}
		if sample.Timestamp.IsZero() {
			sample.Timestamp = now()
		}
		if sample.EventType == "" {
			sample.EventType = "health_check"
		}
		if sample.Source == "" {
			sample.Source = "ingest"
		}
		if err := sample.Validate(); err != nil {
			return n, fmt.Errorf("line %d: invalid sample: %w", line, err)
		}
		if err := telemetry.InsertTelemetry(ctx, &sample); err != nil {
			return n, fmt.Errorf("line %d: failed to insert telemetry: %w", line, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("failed to read samples: %w", err)
	}
	return n, nil
}

// recordCoherence writes the current coherence value and appends a history entry with the delta
func recordCoherence(ctx context.Context, coherence storage.CoherenceStore, nodeID string, value float64, at time.Time) error {
	if value < 0 || value > 1 {
		return fmt.Errorf("coherence must be between 0 and 1 (got %.4f)", value)
	}

	prev, err := coherence.GetCoherence(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("failed to get coherence: %w", err)
	}
	delta := value
	if prev != nil {
		delta = value - prev.Value
	}

	if err := coherence.SetCoherence(ctx, &types.CoherenceReading{NodeID: nodeID, Value: value, UpdatedAt: at}); err != nil {
		return fmt.Errorf("failed to set coherence: %w", err)
	}
	if err := coherence.AppendCoherenceHistory(ctx, &types.CoherenceHistoryEntry{
		NodeID:    nodeID,
		Value:     value,
		Delta:     delta,
		Source:    "ingest",
		Timestamp: at,
	}); err != nil {
		return fmt.Errorf("failed to append coherence history: %w", err)
	}
	return nil
}

func init() {
	ingestCmd.Flags().String("file", "", "JSON-lines file of samples (- for stdin)")
	ingestCmd.Flags().Float64("health", 0, "Health signal in [0,1]")
	ingestCmd.Flags().Float64("ache", 0, "Ache signature in [0,1]")
	ingestCmd.Flags().String("state", "", "Sovereign state label")
	ingestCmd.Flags().String("event-type", "health_check", "Event type")
	ingestCmd.Flags().String("source", "cli", "Sample source")
	ingestCmd.Flags().Float64("coherence", 0, "Set the node's coherence value (ScarIndex) instead of recording a sample")
	rootCmd.AddCommand(ingestCmd)
}
