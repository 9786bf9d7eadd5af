package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spiralos/guardian/internal/types"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage the node registry",
}

var nodeRegisterCmd = &cobra.Command{
	Use:   "register <node-id>",
	Short: "Register a node (active by default)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		inactive, _ := cmd.Flags().GetBool("inactive")

		node := &types.Node{ID: args[0], Name: name, IsActive: !inactive, CreatedAt: time.Now()}
		if err := store.RegisterNode(cmd.Context(), node); err != nil {
			return fmt.Errorf("failed to register node: %w", err)
		}
		fmt.Printf("%s Registered %s\n", green("✓"), node.ID)
		return nil
	},
}

func setActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <node-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.SetNodeActive(cmd.Context(), args[0], active); err != nil {
				if errors.Is(err, types.ErrNotFound) {
					return fmt.Errorf("node %s is not registered", args[0])
				}
				return fmt.Errorf("failed to update node: %w", err)
			}
			state := "active"
			if !active {
				state = "inactive"
			}
			fmt.Printf("%s %s is now %s\n", green("✓"), args[0], state)
			return nil
		},
	}
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		nodes, err := store.ListActiveNodes(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list nodes: %w", err)
		}
		if asJSON {
			return printJSON(nodes)
		}
		if len(nodes) == 0 {
			fmt.Printf("%s\n", gray("No active nodes"))
			return nil
		}
		for _, n := range nodes {
			name := n.Name
			if name == "" {
				name = gray("-")
			}
			fmt.Printf("%s %s  %s  registered %s\n", green("●"), n.ID, name, formatTime(n.CreatedAt))
		}
		return nil
	},
}

func init() {
	nodeRegisterCmd.Flags().String("name", "", "Display name")
	nodeRegisterCmd.Flags().Bool("inactive", false, "Register without scanning it")
	nodeListCmd.Flags().Bool("json", false, "Print nodes as JSON")

	nodeCmd.AddCommand(nodeRegisterCmd, nodeListCmd,
		setActiveCmd("activate", "Include a node in scan_all", true),
		setActiveCmd("deactivate", "Exclude a node from scan_all", false),
	)
	rootCmd.AddCommand(nodeCmd)
}
