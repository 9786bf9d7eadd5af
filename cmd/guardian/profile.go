package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spiralos/guardian/internal/types"
)

var profileCmd = &cobra.Command{
	Use:   "profile <node-id>",
	Short: "Show a node's correction profile and active modes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		profile, err := store.GetProfile(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get profile: %w", err)
		}
		if profile == nil {
			return fmt.Errorf("no correction profile for %s (created on first regulation)", args[0])
		}
		if asJSON {
			return printJSON(profile)
		}
		printProfile(profile, time.Now())
		return nil
	},
}

func printProfile(p *types.CorrectionProfile, now time.Time) {
	fmt.Printf("\n%s\n\n", cyan("=== Correction Profile: "+p.NodeID+" ==="))
	fmt.Printf("  Baseline coherence: %.2f\n", p.BaselineCoherence)

	budget := fmt.Sprintf("%d", p.CorrectionBudget)
	if p.CorrectionBudget <= 0 {
		budget = red(budget + " (exhausted)")
	}
	fmt.Printf("  Correction budget:  %s\n", budget)
	if started := p.Metadata.BudgetWindowStarted; started != nil {
		fmt.Printf("  Budget window from: %s\n", formatTime(*started))
	}
	fmt.Printf("  Cooldown:           %v\n", p.Cooldown())
	fmt.Printf("  Preferred:          %v\n", p.PreferredCorrections)
	fmt.Printf("  Updated:            %s\n", formatTime(p.UpdatedAt))
	fmt.Println()

	m := p.Metadata
	fmt.Printf("%s\n", yellow("Modes:"))
	printed := false
	if m.FreezeActive {
		state := red("FROZEN")
		if m.FreezeExpired(now) {
			state = gray("frozen (expired, thaws on next dispatch)")
		}
		fmt.Printf("  %s %s, %s\n", state, m.FreezeReason, formatWindow(m.FreezeStarted, m.FreezeDurationSeconds, now))
		printed = true
	}
	if m.AcheBufferActive {
		state := green("ache buffer")
		if !m.AcheBufferInEffect(now) {
			state = gray("ache buffer (expired)")
		}
		fmt.Printf("  %s dampening %.2fx, %s\n", state, m.DampeningFactor,
			formatWindow(m.AcheBufferStarted, m.AcheBufferDurationSeconds, now))
		printed = true
	}
	if m.EntropyCorrectionActive {
		state := green("entropy correction")
		if !m.EntropyCorrectionInEffect(now) {
			state = gray("entropy correction (expired)")
		}
		fmt.Printf("  %s %s\n", state,
			formatWindow(m.EntropyCorrectionStarted, m.EntropyCorrectionDurationSeconds, now))
		if t := m.TightenedThresholds; t != nil {
			fmt.Printf("    thresholds: ache %.2f, entropy %.2f, scarindex %.2f\n",
				t.AcheThreshold, t.EntropyThreshold, t.ScarIndexThreshold)
		}
		printed = true
	}
	if !printed {
		fmt.Printf("  %s\n", gray("none"))
	}
	fmt.Println()
}

func init() {
	profileCmd.Flags().Bool("json", false, "Print the profile as JSON")
	rootCmd.AddCommand(profileCmd)
}
