// Package main provides the CLI entry point for the sub-policy PPO
// agent.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xxzhixng/Carla-ppo/cmd/carla-ppo/commands"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "carla-ppo",
	Short: "Sub-policy PPO agent",
	Long: `carla-ppo is a Proximal Policy Optimization agent with multiple
mutually exclusive sub-policies selected per sample by an external
controller.

It provides:
  - Actor-critic sub-policy pairs with clipped surrogate training
  - Resumable JSON checkpoints keyed by the episode counter
  - An append-only SQLite summary log for external monitoring`,
	Version: version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.PredictCmd)
	rootCmd.AddCommand(commands.CheckpointCmd)
}
