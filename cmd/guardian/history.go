package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spiralos/guardian/internal/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the regulation audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node")
		limit, _ := cmd.Flags().GetInt("limit")
		applied, _ := cmd.Flags().GetBool("applied")
		asJSON, _ := cmd.Flags().GetBool("json")

		entries, err := store.ListHistory(cmd.Context(), types.HistoryFilter{
			NodeID:      nodeID,
			AppliedOnly: applied,
			Limit:       limit,
		})
		if err != nil {
			return fmt.Errorf("failed to list history: %w", err)
		}
		if asJSON {
			return printJSON(entries)
		}

		if len(entries) == 0 {
			fmt.Printf("%s\n", gray("No regulation history"))
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s %s  %-28s %s  %s  [%s]\n", statusIcon(e.Success), formatTime(e.ExecutedAt),
				e.CorrectionType, severityColor(e.Severity), e.NodeID, e.Mode)
			fmt.Printf("    %s\n", e.ResultDetails)
			if e.CoherenceDelta != nil {
				fmt.Printf("    coherence %+.4f\n", *e.CoherenceDelta)
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().String("node", "", "Only entries of this node")
	historyCmd.Flags().Int("limit", 20, "Maximum entries to show (0 = all)")
	historyCmd.Flags().Bool("applied", false, "Hide skipped attempts")
	historyCmd.Flags().Bool("json", false, "Print entries as JSON")
	rootCmd.AddCommand(historyCmd)
}
