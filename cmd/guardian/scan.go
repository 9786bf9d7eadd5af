package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/spiralos/guardian/internal/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan [node-id]",
	Short: "Run anomaly detection on one node or every active node",
	Long: `Run the five detectors, suppress anomalies that repeat an ACTIVE one within the
deduplication window, store the rest, and start auto-regulation for HIGH and
CRITICAL findings. The command waits for triggered regulation to finish.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		asJSON, _ := cmd.Flags().GetBool("json")
		noRegulate, _ := cmd.Flags().GetBool("no-regulate")

		req := scanner.Request{ScanAll: all}
		if len(args) == 1 {
			req.NodeID = args[0]
		}
		if noRegulate {
			cfg.Scanner.AutoRegulate = false
		}

		eng, err := newEngine(cfg, store)
		if err != nil {
			return err
		}
		report, err := eng.scanner.Scan(cmd.Context(), req)
		// Regulation runs detached from the scan; let it finish before exiting
		eng.Close()
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(report)
		}
		printScanReport(report)
		return nil
	},
}

func printScanReport(report *scanner.Report) {
	fmt.Printf("\n%s\n\n", cyan("=== Scan ==="))
	for _, r := range report.Results {
		fmt.Printf("%s %s: %d detected, %d stored, %d suppressed\n",
			statusIcon(len(r.DetectorErrors) == 0), r.NodeID, len(r.Anomalies), len(r.Inserted), r.Suppressed)
		for _, a := range r.Anomalies {
			fmt.Printf("    %s %s\n", severityColor(a.Severity), a.AnomalyType)
		}

		detectors := make([]string, 0, len(r.DetectorErrors))
		for d := range r.DetectorErrors {
			detectors = append(detectors, d)
		}
		sort.Strings(detectors)
		for _, d := range detectors {
			fmt.Printf("    %s %s: %s\n", red("detector error"), d, r.DetectorErrors[d])
		}
		if r.RegulationTriggered {
			fmt.Printf("    %s\n", yellow("auto-regulation triggered"))
		}
	}

	fmt.Printf("\n%s (%d ms)\n", report.Message, report.ProcessingTimeMs)
	fmt.Printf("  Detected: %d  Stored: %d  Suppressed: %d\n",
		report.Summary.TotalAnomaliesDetected, report.Summary.TotalAnomaliesInserted, report.Summary.TotalSuppressed)
	fmt.Println()
}

func init() {
	scanCmd.Flags().Bool("all", false, "Scan every active node")
	scanCmd.Flags().Bool("json", false, "Print the scan report as JSON")
	scanCmd.Flags().Bool("no-regulate", false, "Detect and store only, do not start auto-regulation")
	rootCmd.AddCommand(scanCmd)
}
