// Package commands provides CLI command implementations.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	appAgent "github.com/xxzhixng/Carla-ppo/internal/application/agent"
	domainPolicy "github.com/xxzhixng/Carla-ppo/internal/domain/policy"
)

// Flag variables for agent commands
var (
	modelDir   string
	configFile string

	// predict flags
	predictObs       string
	predictSubPolicy int
	predictGreedy    bool
	predictSummary   bool
)

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func newService() (*appAgent.Service, error) {
	cfg, err := appAgent.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if modelDir != "" {
		cfg.ModelDir = modelDir
	}
	return appAgent.NewService(cfg, newLogger())
}

// StatusCmd reports counters and store state for a model directory.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent status",
	Long:  `Show counters, sub-policy count and summary log size for a model directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := newService()
		if err != nil {
			return fmt.Errorf("failed to initialize agent: %w", err)
		}
		defer service.Close()

		if status, err := service.Resume(); status == domainPolicy.RestoreCorrupt {
			return err
		}

		status, err := service.Status(context.Background())
		if err != nil {
			return err
		}

		output, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(output))
		return nil
	},
}

// PredictCmd runs a single prediction against the restored agent.
var PredictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict an action for one observation",
	Long: `Predict an action and value estimate for a single observation using
the selected sub-policy. The observation is a JSON array of numbers; an
empty observation uses a zero vector of the configured input dimension.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appAgent.LoadConfig(configFile)
		if err != nil {
			return err
		}
		if modelDir != "" {
			cfg.ModelDir = modelDir
		}

		service, err := appAgent.NewService(cfg, newLogger())
		if err != nil {
			return fmt.Errorf("failed to initialize agent: %w", err)
		}
		defer service.Close()

		if status, err := service.Resume(); status == domainPolicy.RestoreCorrupt {
			return err
		}

		obs := make([]float64, cfg.InputDim)
		if predictObs != "" {
			if err := json.Unmarshal([]byte(predictObs), &obs); err != nil {
				return fmt.Errorf("failed to parse observation: %w", err)
			}
		}

		action, value, err := service.Engine().PredictOne(obs, predictSubPolicy, predictGreedy, predictSummary)
		if err != nil {
			return err
		}

		output, _ := json.MarshalIndent(map[string]interface{}{
			"action":    action,
			"value":     value,
			"subPolicy": predictSubPolicy,
			"greedy":    predictGreedy,
		}, "", "  ")
		fmt.Println(string(output))
		return nil
	},
}

// CheckpointCmd is the parent command for checkpoint operations.
var CheckpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Checkpoint management commands",
	Long:  `Commands for saving and inspecting agent checkpoints.`,
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := newService()
		if err != nil {
			return fmt.Errorf("failed to initialize agent: %w", err)
		}
		defer service.Close()

		entries, err := os.ReadDir(service.Engine().CheckpointDir())
		if err != nil {
			return fmt.Errorf("failed to read checkpoint directory: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("No checkpoints found")
			return nil
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				fmt.Println(entry.Name())
			}
		}
		return nil
	},
}

var checkpointSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save a checkpoint of the current (or restored) parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := newService()
		if err != nil {
			return fmt.Errorf("failed to initialize agent: %w", err)
		}
		defer service.Close()

		if status, err := service.Resume(); status == domainPolicy.RestoreCorrupt {
			return err
		}

		path, err := service.Engine().Save()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{StatusCmd, PredictCmd, CheckpointCmd} {
		cmd.PersistentFlags().StringVarP(&modelDir, "model-dir", "m", ".", "Model output directory")
		cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Engine configuration JSON file")
	}

	PredictCmd.Flags().StringVarP(&predictObs, "obs", "o", "", "Observation as a JSON array")
	PredictCmd.Flags().IntVarP(&predictSubPolicy, "sub-policy", "s", 0, "Sub-policy index")
	PredictCmd.Flags().BoolVarP(&predictGreedy, "greedy", "g", false, "Return the action mean instead of sampling")
	PredictCmd.Flags().BoolVar(&predictSummary, "write-summary", false, "Emit a prediction summary record")

	CheckpointCmd.AddCommand(checkpointListCmd)
	CheckpointCmd.AddCommand(checkpointSaveCmd)
}
