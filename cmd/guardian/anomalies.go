package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spiralos/guardian/internal/types"
)

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "List recorded anomalies",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node")
		status, _ := cmd.Flags().GetString("status")
		anomalyType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		filter := types.AnomalyFilter{NodeID: nodeID, Limit: limit}
		if status != "" {
			s := types.AnomalyStatus(strings.ToUpper(status))
			if !s.IsValid() {
				return fmt.Errorf("invalid status %q (want ACTIVE or RESOLVED)", status)
			}
			filter.Status = &s
		}
		if anomalyType != "" {
			t := types.AnomalyType(strings.ToUpper(anomalyType))
			if !t.IsValid() {
				return fmt.Errorf("invalid anomaly type %q", anomalyType)
			}
			filter.AnomalyType = &t
		}

		anomalies, err := store.ListAnomalies(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("failed to list anomalies: %w", err)
		}
		if asJSON {
			return printJSON(anomalies)
		}

		if len(anomalies) == 0 {
			fmt.Printf("%s\n", gray("No anomalies found"))
			return nil
		}
		for _, a := range anomalies {
			icon := yellow("●")
			if a.Status == types.AnomalyResolved {
				icon = gray("○")
			}
			fmt.Printf("%s %s  %-24s %s  %s\n", icon, a.ID, a.AnomalyType, severityColor(a.Severity), a.NodeID)
			fmt.Printf("    Detected: %s\n", formatTime(a.DetectedAt))
			if a.Resolution != nil {
				fmt.Printf("    Resolved: %s by %s (%s)\n",
					formatTime(a.Resolution.ResolvedAt), a.Resolution.ResolvedBy, a.Resolution.CorrectionType)
			}
		}
		fmt.Printf("\nTotal: %d\n", len(anomalies))
		return nil
	},
}

func init() {
	anomaliesCmd.Flags().String("node", "", "Only anomalies of this node")
	anomaliesCmd.Flags().String("status", "", "ACTIVE or RESOLVED")
	anomaliesCmd.Flags().String("type", "", "Anomaly type (e.g. ACHE_SPIKE)")
	anomaliesCmd.Flags().Int("limit", 50, "Maximum anomalies to show (0 = all)")
	anomaliesCmd.Flags().Bool("json", false, "Print anomalies as JSON")
	rootCmd.AddCommand(anomaliesCmd)
}
