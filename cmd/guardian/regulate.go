package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spiralos/guardian/internal/regulation"
	"github.com/spiralos/guardian/internal/types"
)

var regulateCmd = &cobra.Command{
	Use:   "regulate",
	Short: "Apply corrections to one anomaly or every ACTIVE anomaly of a node",
	Long: `Dispatch corrections through the freeze, budget and cooldown gates.

With --anomaly a single anomaly is regulated; a non-ACTIVE anomaly is reported
as nothing to do. With --node every ACTIVE anomaly of the node is regulated,
CRITICAL first, then oldest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		anomalyID, _ := cmd.Flags().GetString("anomaly")
		nodeID, _ := cmd.Flags().GetString("node")
		mode, _ := cmd.Flags().GetString("mode")
		asJSON, _ := cmd.Flags().GetBool("json")

		req := regulation.Request{AnomalyID: anomalyID, NodeID: nodeID, Mode: types.RegulationMode(mode)}
		if err := req.Validate(); err != nil {
			return err
		}

		eng, err := newEngine(cfg, store)
		if err != nil {
			return err
		}
		defer eng.Close()

		report, err := eng.regulator.Regulate(cmd.Context(), req)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(report)
		}

		fmt.Printf("\n%s\n\n", cyan("=== Regulation ==="))
		for _, c := range report.Corrections {
			result := c.Result
			line := fmt.Sprintf("%s %s %s on %s: %s", statusIcon(result.Success), severityColor(c.Severity),
				c.AnomalyType, c.NodeID, result.CorrectionType)
			if c.Skipped {
				line = fmt.Sprintf("%s %s %s on %s: skipped", gray("○"), severityColor(c.Severity), c.AnomalyType, c.NodeID)
			}
			fmt.Println(line)
			fmt.Printf("    %s\n", result.Details)
		}
		fmt.Printf("\n%s\n", report.Message)
		if report.Summary != nil {
			fmt.Printf("  Successful: %s  Failed: %s\n",
				green(fmt.Sprintf("%d", report.Summary.Successful)), red(fmt.Sprintf("%d", report.Summary.Failed)))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	regulateCmd.Flags().String("anomaly", "", "Anomaly ID to regulate")
	regulateCmd.Flags().String("node", "", "Node ID whose ACTIVE anomalies to regulate")
	regulateCmd.Flags().String("mode", string(types.ModeManual), "Regulation mode recorded in history (AUTO or MANUAL)")
	regulateCmd.Flags().Bool("json", false, "Print the regulation report as JSON")
	rootCmd.AddCommand(regulateCmd)
}
