package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/zed-wong/modified-autoglm/api/schemas"
	"github.com/zed-wong/modified-autoglm/internal/observability"
	"github.com/zed-wong/modified-autoglm/internal/worker"
)

// newRunCmd creates the `run` command: a one-shot console run of a single
// task, with interactive prompts for sensitive actions and takeover.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run one automation task against a device and print the result",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			bindings := map[string]string{
				"agent.device_id":              "device-id",
				"agent.lang":                   "lang",
				"agent.max_steps":              "max-steps",
				"agent.batch_actions":          "batch-actions",
				"agent.batch_size":             "batch-size",
				"agent.memory_file":            "memory-file",
				"agent.auto_confirm_sensitive": "auto-confirm-sensitive",
				"model.base_url":               "base-url",
				"model.model":                  "model",
				"model.api_key":                "api-key",
			}
			for key, flag := range bindings {
				if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to finalize config: %w", err)
			}
			logger := observability.GetLogger()

			task := strings.Join(args, " ")
			payload := schemas.WorkerPayload{
				Task:                 task,
				DeviceID:             cfg.Agent.DeviceID,
				Lang:                 cfg.Agent.Lang,
				MaxSteps:             cfg.Agent.MaxSteps,
				BaseURL:              cfg.Model.BaseURL,
				Model:                cfg.Model.Model,
				APIKey:               cfg.Model.APIKey,
				BatchActions:         cfg.Agent.BatchActions,
				BatchSize:            cfg.Agent.BatchSize,
				MemoryFile:           cfg.Agent.MemoryFile,
				AutoConfirmSensitive: cfg.Agent.AutoConfirmSensitive,
			}

			runner := worker.NewRunner(cfg, logger)
			stdin := bufio.NewReader(os.Stdin)
			if !cfg.Agent.AutoConfirmSensitive {
				runner.Confirm = func(message string) bool {
					fmt.Printf("\n⚠️  Sensitive action: %s\nProceed? [y/N] ", message)
					line, _ := stdin.ReadString('\n')
					answer := strings.ToLower(strings.TrimSpace(line))
					return answer == "y" || answer == "yes"
				}
			}
			runner.Takeover = func(message string) error {
				fmt.Printf("\n🤝 Take over the device: %s\nPress Enter when done... ", message)
				_, err := stdin.ReadString('\n')
				return err
			}

			logger.Info("console run",
				zap.String("device_id", payload.DeviceID),
				zap.String("model", payload.Model))

			result, steps, err := runner.Run(cmd.Context(), payload, os.Stdout)
			if err != nil {
				return fmt.Errorf("run failed after %d steps: %w", steps, err)
			}
			fmt.Printf("\nResult: %s (%d steps)\n", result, steps)
			return nil
		},
	}

	runCmd.Flags().StringP("device-id", "d", "", "Device serial to drive. Defaults to the only connected device.")
	runCmd.Flags().String("lang", "cn", "Prompt language ('cn' or 'en').")
	runCmd.Flags().Int("max-steps", 100, "Step budget for the run.")
	runCmd.Flags().Bool("batch-actions", false, "Allow the model to emit several actions per turn.")
	runCmd.Flags().Int("batch-size", 3, "Cap on actions per turn when batching.")
	runCmd.Flags().String("memory-file", "", "Persistent-memory file appended to the system prompt.")
	runCmd.Flags().Bool("auto-confirm-sensitive", false, "Approve sensitive actions without prompting.")
	runCmd.Flags().String("base-url", "http://localhost:8000/v1", "OpenAI-compatible inference endpoint.")
	runCmd.Flags().String("model", "autoglm-phone-9b", "Model name.")
	runCmd.Flags().String("api-key", "", "Inference API key. Prefer AUTOGLM_MODEL_API_KEY.")

	return runCmd
}
